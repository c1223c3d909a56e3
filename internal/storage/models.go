package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/endy1328/document-parser-system/internal/document"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when creating a job whose id already exists.
	ErrConflict = errors.New("job already exists")
	// ErrCorrupt is returned when a stored record cannot be decoded.
	ErrCorrupt = errors.New("corrupt job record")
	// ErrInvalidTransition is returned for status changes the lifecycle forbids,
	// including any change to a job that already reached a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus validates a stored status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

func canTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusProcessing || to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Job is a single conversion request and its lifecycle state.
// Result is non-nil exactly when Status is StatusCompleted.
type Job struct {
	ID        string            `json:"job_id"`
	Status    Status            `json:"status"`
	Progress  int               `json:"progress"`
	Message   string            `json:"message"`
	Filename  string            `json:"filename"`
	FileType  document.FileType `json:"file_type"`
	Result    *Result           `json:"result,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Result is the immutable output attached to a completed job.
type Result struct {
	Filename string                 `json:"filename"`
	FileType document.FileType      `json:"file_type"`
	Content  document.ParsedContent `json:"content"`
	Metadata ResultMetadata         `json:"metadata"`
}

type ResultMetadata struct {
	ProcessedAt time.Time `json:"processed_at"`
	SourcePath  string    `json:"filepath"`
}
