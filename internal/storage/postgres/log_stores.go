package postgres

import (
	"context"
	"fmt"

	"github.com/mapscout/placecrawler/internal/scraper"
)

// FailureStore implements scraper.FailureStore: an append-only per-record
// error log, never deduplicated or mutated.
type FailureStore struct {
	pool Pool
}

// NewFailureStore constructs a FailureStore from an existing pool.
func NewFailureStore(pool Pool) (*FailureStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &FailureStore{pool: pool}, nil
}

// RecordFailure appends one failure row.
func (s *FailureStore) RecordFailure(ctx context.Context, failure scraper.Failure) error {
	query := `
		INSERT INTO failures (job_id, term, location, kind, message, at)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
	_, err := s.pool.Exec(ctx, query,
		failure.JobID,
		failure.Term,
		failure.Location,
		string(failure.Kind),
		failure.Message,
		failure.At,
	)
	if err != nil {
		return fmt.Errorf("insert failure: %w", err)
	}
	return nil
}

// ListByJob returns failures for a job, newest first.
func (s *FailureStore) ListByJob(ctx context.Context, jobID string, limit, offset int) ([]scraper.Failure, error) {
	query := `
		SELECT job_id, term, location, kind, message, at
		FROM failures
		WHERE job_id = $1
		ORDER BY at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, jobID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	defer rows.Close()

	var out []scraper.Failure
	for rows.Next() {
		var (
			f    scraper.Failure
			kind string
		)
		if err := rows.Scan(&f.JobID, &f.Term, &f.Location, &kind, &f.Message, &f.At); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		f.Kind = scraper.FailureKind(kind)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failures: %w", err)
	}
	return out, nil
}

// EventStore implements scraper.EventStore: the per-job audit trail.
type EventStore struct {
	pool Pool
}

// NewEventStore constructs an EventStore from an existing pool.
func NewEventStore(pool Pool) (*EventStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &EventStore{pool: pool}, nil
}

// Append writes one audit entry.
func (s *EventStore) Append(ctx context.Context, event scraper.JobEvent) error {
	query := `
		INSERT INTO job_events (job_id, level, message, at)
		VALUES ($1, $2, $3, $4);
	`
	_, err := s.pool.Exec(ctx, query, event.JobID, string(event.Level), event.Message, event.At)
	if err != nil {
		return fmt.Errorf("insert job event: %w", err)
	}
	return nil
}

// ListByJob returns audit entries for a job, newest first.
func (s *EventStore) ListByJob(ctx context.Context, jobID string, limit, offset int) ([]scraper.JobEvent, error) {
	query := `
		SELECT job_id, level, message, at
		FROM job_events
		WHERE job_id = $1
		ORDER BY at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, jobID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list job events: %w", err)
	}
	defer rows.Close()

	var out []scraper.JobEvent
	for rows.Next() {
		var (
			e     scraper.JobEvent
			level string
		)
		if err := rows.Scan(&e.JobID, &level, &e.Message, &e.At); err != nil {
			return nil, fmt.Errorf("scan job event: %w", err)
		}
		e.Level = scraper.EventLevel(level)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job events: %w", err)
	}
	return out, nil
}
