package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/endy1328/document-parser-system/internal/document"
)

const jobColumns = `id, status, progress, message, filename, file_type, result, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob decodes one jobs row. Any value that cannot be decoded is reported
// as ErrCorrupt.
func scanJob(row rowScanner) (Job, error) {
	var (
		j                    Job
		status, fileType     string
		result               sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&j.ID, &status, &j.Progress, &j.Message, &j.Filename, &fileType, &result, &createdAt, &updatedAt); err != nil {
		return Job{}, err
	}

	st, err := ParseStatus(status)
	if err != nil {
		return Job{}, fmt.Errorf("%w: job %s: %v", ErrCorrupt, j.ID, err)
	}
	j.Status = st

	if j.Progress < 0 || j.Progress > 100 {
		return Job{}, fmt.Errorf("%w: job %s: progress %d out of range", ErrCorrupt, j.ID, j.Progress)
	}

	j.FileType = document.ParseFileType(fileType)
	if j.FileType == document.Unknown {
		return Job{}, fmt.Errorf("%w: job %s: unknown file type %q", ErrCorrupt, j.ID, fileType)
	}

	if j.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return Job{}, fmt.Errorf("%w: job %s: parsing created_at: %v", ErrCorrupt, j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return Job{}, fmt.Errorf("%w: job %s: parsing updated_at: %v", ErrCorrupt, j.ID, err)
	}

	if result.Valid && result.String != "" {
		var r Result
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return Job{}, fmt.Errorf("%w: job %s: decoding result: %v", ErrCorrupt, j.ID, err)
		}
		j.Result = &r
	}
	if (j.Result != nil) != (j.Status == StatusCompleted) {
		return Job{}, fmt.Errorf("%w: job %s: status %s with result=%t", ErrCorrupt, j.ID, j.Status, j.Result != nil)
	}
	return j, nil
}

// CreateJob inserts a new job record. A job whose id already exists is left
// untouched and ErrConflict is returned.
func (s *Store) CreateJob(job Job) error {
	if job.Status == "" {
		job.Status = StatusQueued
	}
	if job.Status != StatusQueued {
		return fmt.Errorf("%w: new job must be %s, got %s", ErrInvalidTransition, StatusQueued, job.Status)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	created := job.CreatedAt.UTC().Format(timeLayout)

	res, err := s.db.Exec(`
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		job.ID, string(job.Status), job.Progress, job.Message, job.Filename, string(job.FileType), created, created,
	)
	if err != nil {
		return fmt.Errorf("inserting job %s: %w", job.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrConflict, job.ID)
	}
	return nil
}

// GetJob returns the job with the given id.
func (s *Store) GetJob(id string) (Job, error) {
	j, err := scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return j, err
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(limit, offset int) ([]Job, error) {
	rows, err := s.db.Query(`SELECT `+jobColumns+` FROM jobs
		ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// UpdateJobStatus moves a job to status with the given progress. A nil
// message keeps the stored one. Progress within a status never decreases.
// Completion must go through CompleteJob so a result is always attached in
// the same write.
func (s *Store) UpdateJobStatus(id string, status Status, progress int, message *string) error {
	if status == StatusCompleted {
		return fmt.Errorf("%w: use CompleteJob to complete job %s", ErrInvalidTransition, id)
	}
	return s.transition(id, status, progress, message, nil)
}

// CompleteJob marks a job completed and attaches its result in one write.
func (s *Store) CompleteJob(id string, result Result, message string) error {
	return s.transition(id, StatusCompleted, 100, &message, &result)
}

// FailJob marks a job failed with cause as its message.
func (s *Store) FailJob(id string, cause string) error {
	return s.transition(id, StatusFailed, 100, &cause, nil)
}

func (s *Store) transition(id string, status Status, progress int, message *string, result *Result) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("progress %d out of range", progress)
	}

	var resultJSON sql.NullString
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encoding result for job %s: %w", id, err)
		}
		resultJSON = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning update transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := scanJob(tx.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if !canTransition(current.Status, status) {
		return fmt.Errorf("%w: job %s %s -> %s", ErrInvalidTransition, id, current.Status, status)
	}
	if current.Status == status && progress < current.Progress {
		return fmt.Errorf("%w: job %s progress %d -> %d", ErrInvalidTransition, id, current.Progress, progress)
	}

	msg := current.Message
	if message != nil {
		msg = *message
	}
	now := time.Now().UTC().Format(timeLayout)

	res, err := tx.Exec(`UPDATE jobs SET status = ?, progress = ?, message = ?, result = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(status), progress, msg, resultJSON, now, id, string(current.Status))
	if err != nil {
		return fmt.Errorf("updating job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrNotFound
	}
	return tx.Commit()
}

// FailInterrupted marks every job left in processing as failed. It is run at
// startup, since a job in that state belongs to a worker that no longer exists.
func (s *Store) FailInterrupted(cause string) (int, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, progress = 100, message = ?, updated_at = ?
		WHERE status = ?`, string(StatusFailed), cause, now, string(StatusProcessing))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
