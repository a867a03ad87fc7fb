package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hostup/hostup/pkg/hostlib"
)

var ErrUploadNotFound = errors.New("upload not found")

// ScheduledUpload pairs a queued job with its release time and
// optional cron recurrence.
type ScheduledUpload struct {
	Job        *hostlib.UploadJob
	At         time.Time
	Recurrence string
}

const uploadColumns = `id, host, source_dir, display_name, status, uploaded_bytes,
	total_bytes, download_url, file_id, error_message, retry_count`

func scanUpload(row interface{ Scan(...any) error }) (*hostlib.UploadJob, error) {
	var j hostlib.UploadJob
	err := row.Scan(&j.ID, &j.Host, &j.SourceDir, &j.DisplayName, &j.Status,
		&j.UploadedBytes, &j.TotalBytes, &j.DownloadURL, &j.FileID,
		&j.ErrorMessage, &j.RetryCount)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// EnqueueUpload inserts a new pending job into the queue.
func (s *Store) EnqueueUpload(job *hostlib.UploadJob) error {
	return s.enqueue(job, time.Time{}, "")
}

// EnqueueScheduled inserts a job that stays invisible to workers until
// at. A non-empty cron expression makes the job recur.
func (s *Store) EnqueueScheduled(job *hostlib.UploadJob, at time.Time, recurrence string) error {
	return s.enqueue(job, at, recurrence)
}

func (s *Store) enqueue(job *hostlib.UploadJob, at time.Time, recurrence string) error {
	if job.ID == "" {
		return errors.New("upload job needs an id")
	}
	if job.Status == "" {
		job.Status = hostlib.StatusPending
	}
	var scheduledNs int64
	if !at.IsZero() {
		scheduledNs = at.UnixNano()
	}
	now := time.Now().UnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO uploads (id, host, source_dir, display_name, status, uploaded_bytes,
		                     total_bytes, download_url, file_id, error_message, retry_count,
		                     scheduled_at_ns, recurrence, created_at_ns, updated_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.Host, job.SourceDir, job.DisplayName, job.Status, job.UploadedBytes,
		job.TotalBytes, job.DownloadURL, job.FileID, job.ErrorMessage, job.RetryCount,
		scheduledNs, recurrence, now, now)
	if err != nil {
		return fmt.Errorf("enqueue upload %s: %w", job.ID, err)
	}
	return nil
}

// GetPendingUploads returns the pending jobs for a host in enqueue
// order. Jobs scheduled for the future are held back until due.
func (s *Store) GetPendingUploads(host string) ([]*hostlib.UploadJob, error) {
	rows, err := s.db.Query(`
		SELECT `+uploadColumns+` FROM uploads
		WHERE host = ? AND status = ? AND scheduled_at_ns <= ?
		ORDER BY created_at_ns
	`, host, hostlib.StatusPending, time.Now().UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*hostlib.UploadJob
	for rows.Next() {
		j, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// UpdateUpload persists the engine-owned fields of a job.
func (s *Store) UpdateUpload(job *hostlib.UploadJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`
		UPDATE uploads SET status = ?, uploaded_bytes = ?, total_bytes = ?,
			download_url = ?, file_id = ?, error_message = ?, retry_count = ?,
			updated_at_ns = ?
		WHERE id = ?
	`, job.Status, job.UploadedBytes, job.TotalBytes, job.DownloadURL, job.FileID,
		job.ErrorMessage, job.RetryCount, time.Now().UnixNano(), job.ID)
	if err != nil {
		return fmt.Errorf("update upload %s: %w", job.ID, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrUploadNotFound
	}
	return err
}

// GetUpload returns one job by id.
func (s *Store) GetUpload(id string) (*hostlib.UploadJob, error) {
	row := s.db.QueryRow(`SELECT `+uploadColumns+` FROM uploads WHERE id = ?`, id)
	j, err := scanUpload(row)
	if err == sql.ErrNoRows {
		return nil, ErrUploadNotFound
	}
	return j, err
}

// ListUploads returns jobs, newest first, optionally filtered by host
// and status. Empty filter values match everything.
func (s *Store) ListUploads(host string, status hostlib.JobStatus) ([]*hostlib.UploadJob, error) {
	query := `SELECT ` + uploadColumns + ` FROM uploads WHERE 1=1`
	var args []any
	if host != "" {
		query += " AND host = ?"
		args = append(args, host)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at_ns DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*hostlib.UploadJob
	for rows.Next() {
		j, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// DeleteUpload removes a job from the queue.
func (s *Store) DeleteUpload(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec("DELETE FROM uploads WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrUploadNotFound
	}
	return err
}

// ListScheduled returns jobs whose release time is still in the future
// plus all recurring jobs, for the scheduler to arm timers from.
func (s *Store) ListScheduled() ([]*ScheduledUpload, error) {
	rows, err := s.db.Query(`
		SELECT `+uploadColumns+`, scheduled_at_ns, recurrence FROM uploads
		WHERE status = ? AND (scheduled_at_ns > ? OR recurrence != '')
		ORDER BY scheduled_at_ns
	`, hostlib.StatusPending, time.Now().UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ScheduledUpload
	for rows.Next() {
		var j hostlib.UploadJob
		var scheduledNs int64
		var recurrence string
		err := rows.Scan(&j.ID, &j.Host, &j.SourceDir, &j.DisplayName, &j.Status,
			&j.UploadedBytes, &j.TotalBytes, &j.DownloadURL, &j.FileID,
			&j.ErrorMessage, &j.RetryCount, &scheduledNs, &recurrence)
		if err != nil {
			return nil, err
		}
		out = append(out, &ScheduledUpload{
			Job:        &j,
			At:         time.Unix(0, scheduledNs),
			Recurrence: recurrence,
		})
	}
	return out, rows.Err()
}

// Reschedule moves a job's release time, used when a recurring job
// fires and its next occurrence is armed.
func (s *Store) Reschedule(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`
		UPDATE uploads SET scheduled_at_ns = ?, status = ?, updated_at_ns = ?
		WHERE id = ?
	`, at.UnixNano(), hostlib.StatusPending, time.Now().UnixNano(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrUploadNotFound
	}
	return err
}
