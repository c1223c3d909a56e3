package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/endy1328/document-parser-system/internal/document"
	"github.com/endy1328/document-parser-system/internal/parser"
	"github.com/endy1328/document-parser-system/internal/storage"
)

// Parser converts one stored upload into content.
type Parser interface {
	Parse(ctx context.Context, req parser.Request) (*document.ParsedContent, error)
}

// Dirs locates uploads and per-job artifacts on disk.
type Dirs struct {
	Uploads   string
	Artifacts string
}

// Worker is the consumer side of the pipeline. It processes one job at a
// time: pop, mark processing, parse, then complete or fail.
type Worker struct {
	store          JobStore
	queue          JobQueue
	parser         Parser
	dirs           Dirs
	poll           time.Duration
	reportProgress bool
	now            func() time.Time
	logger         *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, queue JobQueue, p Parser, dirs Dirs, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:          store,
		queue:          queue,
		parser:         p,
		dirs:           dirs,
		poll:           pollInterval,
		reportProgress: true,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         slog.Default(),
	}
}

// SetProgressReporting toggles intermediate progress writes. When disabled
// a job reports 0 when it starts and 100 when it ends.
func (w *Worker) SetProgressReporting(enabled bool) {
	w.reportProgress = enabled
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", "poll_interval", w.poll)
	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopped")
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce pops and processes a single job.
// Returns true if a queue entry was consumed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	id, ok, err := w.queue.PopJob()
	if err != nil {
		return false, fmt.Errorf("popping job: %w", err)
	}
	if !ok {
		return false, nil
	}

	job, err := w.store.GetJob(id)
	if errors.Is(err, storage.ErrNotFound) {
		w.logger.Warn("skipping queue entry without job record", "job_id", id)
		return true, nil
	}
	if err != nil {
		return true, fmt.Errorf("loading job %s: %w", id, err)
	}
	if job.Status != storage.StatusQueued {
		w.logger.Warn("skipping job that is not queued", "job_id", id, "status", job.Status)
		return true, nil
	}

	started := "processing started"
	if err := w.store.UpdateJobStatus(id, storage.StatusProcessing, 0, &started); err != nil {
		// the queue entry is gone, so the job would never run
		w.abandon(id, "could not start processing: "+err.Error())
		return true, fmt.Errorf("marking job %s processing: %w", id, err)
	}
	w.logger.Info("job started", "job_id", id, "filename", job.Filename, "file_type", job.FileType)

	// A claimed job runs to completion even if the worker is asked to stop.
	result, err := w.processJob(context.WithoutCancel(ctx), job)
	if err != nil {
		w.logger.Warn("job failed", "job_id", id, "error", err)
		if failErr := w.store.FailJob(id, err.Error()); failErr != nil {
			return true, fmt.Errorf("failing job %s: %w", id, failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(id, *result, "processing completed"); err != nil {
		w.abandon(id, "could not store result: "+err.Error())
		return true, fmt.Errorf("completing job %s: %w", id, err)
	}
	w.logger.Info("job completed", "job_id", id, "diagnostics", len(result.Content.Diagnostics))
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job storage.Job) (*storage.Result, error) {
	if job.Filename == "" {
		return nil, errors.New("job has no filename")
	}

	path := UploadPath(w.dirs.Uploads, job.ID, job.Filename)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("could not read file %s: %w", job.Filename, err)
	}

	req := parser.Request{
		Filename:   job.Filename,
		Path:       path,
		FileType:   job.FileType,
		ReceivedAt: job.CreatedAt,
	}
	if w.dirs.Artifacts != "" {
		req.ImageDir = filepath.Join(w.dirs.Artifacts, job.ID)
		req.ImagePrefix = job.ID
	}
	if w.reportProgress {
		req.Progress = w.progressFunc(job.ID)
	}

	content, err := w.parser.Parse(ctx, req)
	if err != nil {
		return nil, err
	}

	return &storage.Result{
		Filename: job.Filename,
		FileType: job.FileType,
		Content:  *content,
		Metadata: storage.ResultMetadata{
			ProcessedAt: w.now(),
			SourcePath:  path,
		},
	}, nil
}

// abandon moves a claimed job to failed after a store write left it stranded.
func (w *Worker) abandon(id, cause string) {
	if err := w.store.FailJob(id, cause); err != nil {
		w.logger.Error("could not fail stranded job", "job_id", id, "error", err)
	}
}

func (w *Worker) progressFunc(id string) parser.ProgressFunc {
	return func(progress int, message string) {
		if err := w.store.UpdateJobStatus(id, storage.StatusProcessing, progress, &message); err != nil {
			w.logger.Warn("progress update failed", "job_id", id, "progress", progress, "error", err)
		}
	}
}
