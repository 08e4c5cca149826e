// Package queue provides durable work-unit queues backed by Postgres, with an
// in-memory variant for local development under queue/memory.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mapscout/placecrawler/internal/scraper"
	"github.com/mapscout/placecrawler/internal/storage/postgres"
)

// Durable is a Postgres-backed queue with lease semantics. It assumes a table
// schema like:
//
//	CREATE TABLE work_units (
//		id BIGSERIAL PRIMARY KEY,
//		kind TEXT NOT NULL,
//		job_id TEXT NOT NULL,
//		payload BYTEA NOT NULL,
//		state TEXT NOT NULL DEFAULT 'ready',
//		attempt INT NOT NULL DEFAULT 0,
//		run_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//		lease_expires_at TIMESTAMPTZ,
//		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//
// Units survive process restarts: a crashed worker's lease expires and the
// unit returns to the ready state on the next claim attempt, until its
// attempts are spent and it is marked dead.
type Durable struct {
	pool          postgres.Pool
	leaseDuration time.Duration
	pollInterval  time.Duration
	maxAttempts   int
}

// Options tunes lease and retry behavior.
type Options struct {
	// LeaseDuration is how long a claimed unit stays invisible without a
	// heartbeat. Defaults to one minute.
	LeaseDuration time.Duration
	// PollInterval is the sleep between empty claim attempts. Defaults to
	// one second.
	PollInterval time.Duration
	// MaxAttempts caps delivery attempts before a unit is marked dead.
	// Defaults to 3.
	MaxAttempts int
}

// NewDurable constructs a Durable queue on an existing pool.
func NewDurable(pool postgres.Pool, opts Options) (*Durable, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if opts.LeaseDuration <= 0 {
		opts.LeaseDuration = time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Durable{
		pool:          pool,
		leaseDuration: opts.LeaseDuration,
		pollInterval:  opts.PollInterval,
		maxAttempts:   opts.MaxAttempts,
	}, nil
}

// Enqueue appends a ready unit.
func (q *Durable) Enqueue(ctx context.Context, kind scraper.UnitKind, jobID string, payload []byte) error {
	query := `
		INSERT INTO work_units (kind, job_id, payload, state, run_at)
		VALUES ($1, $2, $3, 'ready', NOW());
	`
	if _, err := q.pool.Exec(ctx, query, string(kind), jobID, payload); err != nil {
		return fmt.Errorf("enqueue unit: %w", err)
	}
	return nil
}

// Dequeue blocks until a unit of the given kind is leased or ctx ends. Each
// claim attempt also sweeps expired leases: units with attempts left return
// to the ready state, exhausted ones are marked dead. No separate janitor
// process is needed.
func (q *Durable) Dequeue(ctx context.Context, kind scraper.UnitKind) (scraper.QueueItem, error) {
	for {
		if err := q.reclaimExpired(ctx, kind); err != nil {
			return scraper.QueueItem{}, err
		}
		item, ok, err := q.claim(ctx, kind)
		if err != nil {
			return scraper.QueueItem{}, err
		}
		if ok {
			return item, nil
		}
		timer := time.NewTimer(q.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return scraper.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// reclaimExpired handles workers that died mid-handle: their lease lapses
// without a Fail call, so the attempt cap must be enforced here too.
func (q *Durable) reclaimExpired(ctx context.Context, kind scraper.UnitKind) error {
	query := `
		UPDATE work_units
		SET state = CASE WHEN attempt >= $2 THEN 'dead' ELSE 'ready' END,
			lease_expires_at = NULL
		WHERE kind = $1 AND state = 'leased' AND lease_expires_at < NOW();
	`
	if _, err := q.pool.Exec(ctx, query, string(kind), q.maxAttempts); err != nil {
		return fmt.Errorf("reclaim expired leases: %w", err)
	}
	return nil
}

func (q *Durable) claim(ctx context.Context, kind scraper.UnitKind) (scraper.QueueItem, bool, error) {
	query := `
		UPDATE work_units
		SET state = 'leased',
			attempt = attempt + 1,
			lease_expires_at = NOW() + $2::interval
		WHERE id = (
			SELECT id FROM work_units
			WHERE kind = $1 AND state = 'ready' AND run_at <= NOW()
			ORDER BY id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, kind, job_id, payload, attempt;
	`
	var (
		item scraper.QueueItem
		k    string
	)
	err := q.pool.QueryRow(ctx, query, string(kind), q.leaseDuration).
		Scan(&item.ID, &k, &item.JobID, &item.Payload, &item.Attempt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scraper.QueueItem{}, false, nil
		}
		return scraper.QueueItem{}, false, fmt.Errorf("claim unit: %w", err)
	}
	item.Kind = scraper.UnitKind(k)
	return item, true, nil
}

// Heartbeat extends the lease on a claimed unit.
func (q *Durable) Heartbeat(ctx context.Context, itemID int64) error {
	query := `
		UPDATE work_units
		SET lease_expires_at = NOW() + $2::interval
		WHERE id = $1 AND state = 'leased';
	`
	tag, err := q.pool.Exec(ctx, query, itemID, q.leaseDuration)
	if err != nil {
		return fmt.Errorf("heartbeat unit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scraper.ErrNotFound
	}
	return nil
}

// Complete removes a finished unit.
func (q *Durable) Complete(ctx context.Context, itemID int64) error {
	query := `DELETE FROM work_units WHERE id = $1;`
	if _, err := q.pool.Exec(ctx, query, itemID); err != nil {
		return fmt.Errorf("complete unit: %w", err)
	}
	return nil
}

// Fail schedules a retry after retryIn, or marks the unit dead once the
// attempt cap is reached.
func (q *Durable) Fail(ctx context.Context, itemID int64, retryIn time.Duration) error {
	query := `
		UPDATE work_units
		SET state = CASE WHEN attempt >= $2 THEN 'dead' ELSE 'ready' END,
			run_at = NOW() + $3::interval,
			lease_expires_at = NULL
		WHERE id = $1;
	`
	tag, err := q.pool.Exec(ctx, query, itemID, q.maxAttempts, retryIn)
	if err != nil {
		return fmt.Errorf("fail unit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scraper.ErrNotFound
	}
	return nil
}
