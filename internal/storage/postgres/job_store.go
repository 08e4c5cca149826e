package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mapscout/placecrawler/internal/scraper"
)

// JobStore implements scraper.JobStore on Postgres.
type JobStore struct {
	pool Pool
}

// NewJobStore constructs a JobStore from an existing pool.
func NewJobStore(pool Pool) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

const jobColumns = `id, client_label, terms, locations, grid, result_cap,
	min_delay_ms, max_delay_ms, rest_every, rest_duration_ms, fields,
	status, term_index, location_index, scraped, failed,
	pause_reason, error_text, pause_requested, estimated_ms,
	created_at, started_at, completed_at`

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job scraper.Job) error {
	var grid []byte
	if job.Grid != nil {
		var err error
		grid, err = json.Marshal(job.Grid)
		if err != nil {
			return fmt.Errorf("marshal grid spec: %w", err)
		}
	}
	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23);
	`
	_, err := s.pool.Exec(ctx, query,
		job.ID,
		job.ClientLabel,
		job.Terms,
		job.Locations,
		grid,
		job.ResultCap,
		job.Pacing.MinDelay.Milliseconds(),
		job.Pacing.MaxDelay.Milliseconds(),
		job.Pacing.RestEvery,
		job.Pacing.RestDuration.Milliseconds(),
		job.Fields,
		string(job.Status),
		job.Cursor.TermIndex,
		job.Cursor.LocationIndex,
		job.Counters.Scraped,
		job.Counters.Failed,
		job.PauseReason,
		job.ErrorText,
		job.PauseWanted,
		job.Estimated.Milliseconds(),
		job.Created,
		job.Started,
		job.Completed,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob loads one job or returns scraper.ErrNotFound.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (scraper.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`
	row := s.pool.QueryRow(ctx, query, jobID)
	job, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return scraper.Job{}, scraper.ErrNotFound
		}
		return scraper.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns paginated summaries, optionally filtered by status.
func (s *JobStore) ListJobs(
	ctx context.Context,
	status *scraper.JobStatus,
	limit, offset int,
) ([]scraper.JobSummary, error) {
	query := `
		SELECT id, client_label, status, scraped, failed, created_at, completed_at
		FROM jobs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3;
	`
	var statusArg *string
	if status != nil {
		v := string(*status)
		statusArg = &v
	}
	rows, err := s.pool.Query(ctx, query, statusArg, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []scraper.JobSummary
	for rows.Next() {
		var (
			summary scraper.JobSummary
			st      string
		)
		if err := rows.Scan(
			&summary.ID,
			&summary.ClientLabel,
			&st,
			&summary.Counters.Scraped,
			&summary.Counters.Failed,
			&summary.Created,
			&summary.Completed,
		); err != nil {
			return nil, fmt.Errorf("scan job summary: %w", err)
		}
		summary.Status = scraper.JobStatus(st)
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job summaries: %w", err)
	}
	return out, nil
}

// UpdateStatus persists a status transition plus its reason/error context.
func (s *JobStore) UpdateStatus(
	ctx context.Context,
	jobID string,
	status scraper.JobStatus,
	pauseReason, errText string,
) error {
	query := `UPDATE jobs SET status = $2, pause_reason = $3, error_text = $4 WHERE id = $1;`
	tag, err := s.pool.Exec(ctx, query, jobID, string(status), pauseReason, errText)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scraper.ErrNotFound
	}
	return nil
}

// SetStartedIfUnset records the first start time; resumes keep the original.
func (s *JobStore) SetStartedIfUnset(ctx context.Context, jobID string, at time.Time) error {
	query := `UPDATE jobs SET started_at = $2 WHERE id = $1 AND started_at IS NULL;`
	if _, err := s.pool.Exec(ctx, query, jobID, at); err != nil {
		return fmt.Errorf("set job started: %w", err)
	}
	return nil
}

// SetCompleted stamps the completion time.
func (s *JobStore) SetCompleted(ctx context.Context, jobID string, at time.Time) error {
	query := `UPDATE jobs SET completed_at = $2 WHERE id = $1;`
	if _, err := s.pool.Exec(ctx, query, jobID, at); err != nil {
		return fmt.Errorf("set job completed: %w", err)
	}
	return nil
}

// UpdateCursor persists the resume point.
func (s *JobStore) UpdateCursor(ctx context.Context, jobID string, cursor scraper.Cursor) error {
	query := `UPDATE jobs SET term_index = $2, location_index = $3 WHERE id = $1;`
	if _, err := s.pool.Exec(ctx, query, jobID, cursor.TermIndex, cursor.LocationIndex); err != nil {
		return fmt.Errorf("update job cursor: %w", err)
	}
	return nil
}

// UpdateCounters persists scraped/failed totals.
func (s *JobStore) UpdateCounters(ctx context.Context, jobID string, counters scraper.Counters) error {
	query := `UPDATE jobs SET scraped = $2, failed = $3 WHERE id = $1;`
	if _, err := s.pool.Exec(ctx, query, jobID, counters.Scraped, counters.Failed); err != nil {
		return fmt.Errorf("update job counters: %w", err)
	}
	return nil
}

// RequestPause raises the pause flag read at loop-iteration boundaries.
func (s *JobStore) RequestPause(ctx context.Context, jobID string) error {
	query := `UPDATE jobs SET pause_requested = TRUE WHERE id = $1;`
	tag, err := s.pool.Exec(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("request pause: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scraper.ErrNotFound
	}
	return nil
}

// ClearPauseRequest lowers the pause flag.
func (s *JobStore) ClearPauseRequest(ctx context.Context, jobID string) error {
	query := `UPDATE jobs SET pause_requested = FALSE WHERE id = $1;`
	if _, err := s.pool.Exec(ctx, query, jobID); err != nil {
		return fmt.Errorf("clear pause request: %w", err)
	}
	return nil
}

// PauseRequested reads the pause flag.
func (s *JobStore) PauseRequested(ctx context.Context, jobID string) (bool, error) {
	query := `SELECT pause_requested FROM jobs WHERE id = $1;`
	var requested bool
	if err := s.pool.QueryRow(ctx, query, jobID).Scan(&requested); err != nil {
		if err == pgx.ErrNoRows {
			return false, scraper.ErrNotFound
		}
		return false, fmt.Errorf("read pause request: %w", err)
	}
	return requested, nil
}

// DeleteJob removes the job and everything discovered by it: places,
// failures, audit entries, and any queued units, in one transaction.
func (s *JobStore) DeleteJob(ctx context.Context, jobID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	statements := []string{
		`DELETE FROM work_units WHERE job_id = $1;`,
		`DELETE FROM job_events WHERE job_id = $1;`,
		`DELETE FROM failures WHERE job_id = $1;`,
		`DELETE FROM places WHERE job_id = $1;`,
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt, jobID); err != nil {
			return fmt.Errorf("cascade delete: %w", err)
		}
	}
	tag, err := tx.Exec(ctx, `DELETE FROM jobs WHERE id = $1;`, jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scraper.ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

func scanJob(row pgx.Row) (scraper.Job, error) {
	var (
		job                         scraper.Job
		grid                        []byte
		status                      string
		minMs, maxMs, restMs, estMs int64
	)
	err := row.Scan(
		&job.ID,
		&job.ClientLabel,
		&job.Terms,
		&job.Locations,
		&grid,
		&job.ResultCap,
		&minMs,
		&maxMs,
		&job.Pacing.RestEvery,
		&restMs,
		&job.Fields,
		&status,
		&job.Cursor.TermIndex,
		&job.Cursor.LocationIndex,
		&job.Counters.Scraped,
		&job.Counters.Failed,
		&job.PauseReason,
		&job.ErrorText,
		&job.PauseWanted,
		&estMs,
		&job.Created,
		&job.Started,
		&job.Completed,
	)
	if err != nil {
		return scraper.Job{}, err
	}
	job.Status = scraper.JobStatus(status)
	job.Pacing.MinDelay = time.Duration(minMs) * time.Millisecond
	job.Pacing.MaxDelay = time.Duration(maxMs) * time.Millisecond
	job.Pacing.RestDuration = time.Duration(restMs) * time.Millisecond
	job.Estimated = time.Duration(estMs) * time.Millisecond
	if len(grid) > 0 {
		spec := &scraper.GridSpec{}
		if err := json.Unmarshal(grid, spec); err != nil {
			return scraper.Job{}, fmt.Errorf("unmarshal grid spec: %w", err)
		}
		job.Grid = spec
	}
	return job, nil
}
