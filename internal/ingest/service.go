package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/endy1328/document-parser-system/internal/document"
	"github.com/endy1328/document-parser-system/internal/storage"
)

// ErrInvalidFilename is returned for upload names that do not name a file.
var ErrInvalidFilename = errors.New("invalid filename")

// JobStore abstracts the job record operations.
type JobStore interface {
	CreateJob(job storage.Job) error
	GetJob(id string) (storage.Job, error)
	ListJobs(limit, offset int) ([]storage.Job, error)
	UpdateJobStatus(id string, status storage.Status, progress int, message *string) error
	CompleteJob(id string, result storage.Result, message string) error
	FailJob(id string, cause string) error
}

// JobQueue abstracts the pending-job ordering.
type JobQueue interface {
	PushJob(id string) error
	PopJob() (string, bool, error)
}

// NotReadyError is returned by Service.Result while a job has not completed.
type NotReadyError struct {
	Status   storage.Status
	Progress int
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("result not ready: job is %s (%d%%)", e.Status, e.Progress)
}

// StatusView is the producer-facing snapshot of a job's progress.
type StatusView struct {
	ID        string            `json:"job_id"`
	Status    storage.Status    `json:"status"`
	Progress  int               `json:"progress"`
	Message   string            `json:"message"`
	Filename  string            `json:"filename"`
	FileType  document.FileType `json:"file_type"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func viewOf(j storage.Job) StatusView {
	return StatusView{
		ID:        j.ID,
		Status:    j.Status,
		Progress:  j.Progress,
		Message:   j.Message,
		Filename:  j.Filename,
		FileType:  j.FileType,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// Service is the producer side of the pipeline: it accepts uploads and
// answers status and result queries.
type Service struct {
	store     JobStore
	queue     JobQueue
	uploadDir string
	newID     func() string
	now       func() time.Time
	logger    *slog.Logger
}

// NewService creates a Service that stores uploads under uploadDir.
func NewService(store JobStore, queue JobQueue, uploadDir string) *Service {
	return &Service{
		store:     store,
		queue:     queue,
		uploadDir: uploadDir,
		newID:     func() string { return uuid.New().String() },
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.Default(),
	}
}

// UploadPath is where the original file of a job is stored.
func UploadPath(uploadDir, jobID, filename string) string {
	return filepath.Join(uploadDir, jobID, filename)
}

// UploadPath returns the stored location of job's original file.
func (s *Service) UploadPath(job storage.Job) string {
	return UploadPath(s.uploadDir, job.ID, job.Filename)
}

// Enqueue classifies filename, records a queued job, stores data and queues
// the job for the worker. Unsupported types are rejected before anything is
// written.
func (s *Service) Enqueue(filename string, data []byte) (storage.Job, error) {
	name := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	if name == "." || name == "/" || name == "" || name == ".." {
		return storage.Job{}, fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}

	ft := document.Classify(name)
	if ft == document.Unknown {
		return storage.Job{}, fmt.Errorf("%w: %s", document.ErrUnsupportedType, name)
	}

	job := storage.Job{
		ID:        s.newID(),
		Status:    storage.StatusQueued,
		Message:   fmt.Sprintf("%s (%s) waiting to be processed", name, ft.Label()),
		Filename:  name,
		FileType:  ft,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateJob(job); err != nil {
		return storage.Job{}, fmt.Errorf("creating job: %w", err)
	}

	path := s.UploadPath(job)
	if err := writeUpload(path, data); err != nil {
		s.abandon(job.ID, fmt.Sprintf("could not store upload: %v", err))
		return storage.Job{}, fmt.Errorf("storing upload: %w", err)
	}
	if err := s.queue.PushJob(job.ID); err != nil {
		s.abandon(job.ID, fmt.Sprintf("could not queue job: %v", err))
		return storage.Job{}, fmt.Errorf("queueing job: %w", err)
	}

	s.logger.Info("job enqueued", "job_id", job.ID, "filename", name, "file_type", ft, "bytes", len(data))
	return job, nil
}

func writeUpload(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// abandon fails a job that never reached the queue so it does not stay
// queued forever.
func (s *Service) abandon(id, cause string) {
	if err := s.store.FailJob(id, cause); err != nil {
		s.logger.Error("failed to mark job as failed", "job_id", id, "error", err)
	}
}

// Status returns the current status of a job.
func (s *Service) Status(id string) (StatusView, error) {
	j, err := s.store.GetJob(id)
	if err != nil {
		return StatusView{}, err
	}
	return viewOf(j), nil
}

// Job returns the full job record.
func (s *Service) Job(id string) (storage.Job, error) {
	return s.store.GetJob(id)
}

// Result returns the result of a completed job, or a *NotReadyError.
func (s *Service) Result(id string) (*storage.Result, error) {
	j, err := s.store.GetJob(id)
	if err != nil {
		return nil, err
	}
	if j.Status != storage.StatusCompleted || j.Result == nil {
		return nil, &NotReadyError{Status: j.Status, Progress: j.Progress}
	}
	return j.Result, nil
}

// List returns status views newest first.
func (s *Service) List(limit, offset int) ([]StatusView, error) {
	jobs, err := s.store.ListJobs(limit, offset)
	if err != nil {
		return nil, err
	}
	views := make([]StatusView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, viewOf(j))
	}
	return views, nil
}
