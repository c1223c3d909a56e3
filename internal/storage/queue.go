package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PushJob appends a job id to the tail of the pending queue.
func (s *Store) PushJob(id string) error {
	_, err := s.db.Exec(`INSERT INTO job_queue (job_id, enqueued_at) VALUES (?, ?)`,
		id, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("pushing job %s: %w", id, err)
	}
	return nil
}

// PopJob removes and returns the oldest queued id. ok is false when the
// queue is empty. An id is handed to at most one caller.
func (s *Store) PopJob() (id string, ok bool, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", false, fmt.Errorf("beginning pop transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRow(`SELECT seq, job_id FROM job_queue ORDER BY seq ASC LIMIT 1`).Scan(&seq, &id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("selecting queue head: %w", err)
	}

	res, err := tx.Exec(`DELETE FROM job_queue WHERE seq = ?`, seq)
	if err != nil {
		return "", false, fmt.Errorf("removing queue head: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("checking removed queue rows: %w", err)
	}
	if n != 1 {
		return "", false, nil
	}

	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("committing pop: %w", err)
	}
	return id, true, nil
}

// QueueDepth returns the number of ids waiting to be popped.
func (s *Store) QueueDepth() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM job_queue`).Scan(&n)
	return n, err
}
