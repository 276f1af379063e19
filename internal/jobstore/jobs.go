package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dicomdisc/internal/services"
)

// Terminal job states as persisted. Non-terminal states are written by the
// exporter as the job advances.
const (
	StateDone        = "done"
	StateCancelled   = "cancelled"
	StateFailed      = "failed"
	StateInterrupted = "interrupted"
)

// Job is the persisted record of one export job.
type Job struct {
	ID                string
	State             string
	OutputPath        string
	StagingDir        string
	IncludeRenditions bool
	IncludeViewer     bool
	Total             int
	Processed         int
	Skipped           int
	ArchiveBytes      int64
	ErrorKind         string
	ErrorMessage      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	FinishedAt        time.Time
}

// IsTerminal reports whether the job has finished.
func (j *Job) IsTerminal() bool {
	switch j.State {
	case StateDone, StateCancelled, StateFailed, StateInterrupted:
		return true
	}
	return false
}

const jobColumns = "id, state, output_path, staging_dir, include_renditions, include_viewer, total_items, processed_items, skipped_items, archive_bytes, error_kind, error_message, created_at, updated_at, finished_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job          Job
		outputPath   sql.NullString
		stagingDir   sql.NullString
		renditions   int64
		viewer       int64
		errorKind    sql.NullString
		errorMessage sql.NullString
		createdRaw   string
		updatedRaw   string
		finishedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&job.ID,
		&job.State,
		&outputPath,
		&stagingDir,
		&renditions,
		&viewer,
		&job.Total,
		&job.Processed,
		&job.Skipped,
		&job.ArchiveBytes,
		&errorKind,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	job.OutputPath = outputPath.String
	job.StagingDir = stagingDir.String
	job.IncludeRenditions = renditions != 0
	job.IncludeViewer = viewer != 0
	job.ErrorKind = errorKind.String
	job.ErrorMessage = errorMessage.String
	if t, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = t
	}
	if t, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = t
	}
	if t, err := parseTimeString(finishedRaw.String); err == nil {
		job.FinishedAt = t
	}
	return &job, nil
}

// CreateJob inserts a new job record. A job inserted in a terminal state is
// stamped finished_at like UpdateJob does.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	if job == nil || job.ID == "" {
		return errors.New("job id is required")
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	var finished any
	if job.IsTerminal() {
		if job.FinishedAt.IsZero() {
			job.FinishedAt = now
		}
		finished = formatTime(job.FinishedAt)
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO export_jobs (
            id, state, output_path, staging_dir, include_renditions, include_viewer,
            total_items, processed_items, skipped_items, archive_bytes, error_kind, error_message,
            created_at, updated_at, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.State,
		nullableString(job.OutputPath),
		nullableString(job.StagingDir),
		boolToInt(job.IncludeRenditions),
		boolToInt(job.IncludeViewer),
		job.Total,
		job.Processed,
		job.Skipped,
		job.ArchiveBytes,
		nullableString(job.ErrorKind),
		nullableString(job.ErrorMessage),
		formatTime(job.CreatedAt),
		formatTime(job.UpdatedAt),
		finished,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJob writes the mutable fields of job. A terminal state stamps
// finished_at.
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	now := time.Now().UTC()
	job.UpdatedAt = now
	var finished any
	if job.IsTerminal() {
		if job.FinishedAt.IsZero() {
			job.FinishedAt = now
		}
		finished = formatTime(job.FinishedAt)
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE export_jobs SET
            state = ?, output_path = ?, total_items = ?, processed_items = ?, skipped_items = ?,
            archive_bytes = ?, error_kind = ?, error_message = ?, updated_at = ?, finished_at = ?
        WHERE id = ?`,
		job.State,
		nullableString(job.OutputPath),
		job.Total,
		job.Processed,
		job.Skipped,
		job.ArchiveBytes,
		nullableString(job.ErrorKind),
		nullableString(job.ErrorMessage),
		formatTime(job.UpdatedAt),
		finished,
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update job %s: %w", job.ID, services.ErrNotFound)
	}
	return nil
}

// GetJob fetches a job by ID. A missing job returns services.ErrNotFound.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), "SELECT "+jobColumns+" FROM export_jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, services.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// ListJobs returns the most recent jobs first. limit <= 0 returns all.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	query := "SELECT " + jobColumns + " FROM export_jobs ORDER BY created_at DESC, id"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ActiveJobIDs returns the IDs of jobs that have not reached a terminal state.
func (s *Store) ActiveJobIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		"SELECT id FROM export_jobs WHERE state NOT IN (?, ?, ?, ?)",
		StateDone, StateCancelled, StateFailed, StateInterrupted,
	)
	if err != nil {
		return nil, fmt.Errorf("active jobs: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// MarkInterrupted moves every non-terminal job to the interrupted state. It
// runs at startup, before any job is submitted, to recover from crashes.
func (s *Store) MarkInterrupted(ctx context.Context) (int64, error) {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx,
		`UPDATE export_jobs SET state = ?, error_kind = ?, error_message = ?, updated_at = ?, finished_at = ?
        WHERE state NOT IN (?, ?, ?, ?)`,
		StateInterrupted,
		"interrupted",
		"process exited before the job finished",
		now,
		now,
		StateDone, StateCancelled, StateFailed, StateInterrupted,
	)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted: %w", err)
	}
	return res.RowsAffected()
}

// PruneFinished deletes terminal jobs finished before cutoff.
func (s *Store) PruneFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		"DELETE FROM export_jobs WHERE finished_at IS NOT NULL AND finished_at < ?",
		formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return res.RowsAffected()
}
