// Package memory provides an in-memory queue for local development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mapscout/placecrawler/internal/scraper"
)

// Queue is a bounded in-memory queue implementing the same lease-style
// contract as the durable queue, minus persistence. Failed units re-enter
// their channel after retryIn; heartbeats are no-ops because nothing expires.
type Queue struct {
	nextID   atomic.Int64
	channels map[scraper.UnitKind]chan scraper.QueueItem

	mu     sync.Mutex
	leased map[int64]scraper.QueueItem
	closed bool
}

// NewQueue constructs a queue with the given per-kind capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		channels: map[scraper.UnitKind]chan scraper.QueueItem{
			scraper.UnitScrape: make(chan scraper.QueueItem, capacity),
			scraper.UnitEnrich: make(chan scraper.QueueItem, capacity),
		},
		leased: make(map[int64]scraper.QueueItem),
	}
}

// Enqueue pushes a unit or returns when the context ends.
func (q *Queue) Enqueue(ctx context.Context, kind scraper.UnitKind, jobID string, payload []byte) error {
	ch, ok := q.channels[kind]
	if !ok {
		return fmt.Errorf("unknown unit kind %q", kind)
	}
	item := scraper.QueueItem{
		ID:      q.nextID.Add(1),
		Kind:    kind,
		JobID:   jobID,
		Payload: payload,
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case ch <- item:
		return nil
	}
}

// Dequeue pops the next unit of the given kind, respecting cancellation.
func (q *Queue) Dequeue(ctx context.Context, kind scraper.UnitKind) (scraper.QueueItem, error) {
	ch, ok := q.channels[kind]
	if !ok {
		return scraper.QueueItem{}, fmt.Errorf("unknown unit kind %q", kind)
	}
	select {
	case <-ctx.Done():
		return scraper.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, open := <-ch:
		if !open {
			return scraper.QueueItem{}, fmt.Errorf("queue closed")
		}
		item.Attempt++
		q.mu.Lock()
		q.leased[item.ID] = item
		q.mu.Unlock()
		return item, nil
	}
}

// Heartbeat is a no-op beyond lease validation: in-memory leases never expire.
func (q *Queue) Heartbeat(_ context.Context, itemID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.leased[itemID]; !ok {
		return scraper.ErrNotFound
	}
	return nil
}

// Complete drops the unit.
func (q *Queue) Complete(_ context.Context, itemID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.leased, itemID)
	return nil
}

// Fail re-enqueues the unit after retryIn, keeping its attempt count.
func (q *Queue) Fail(_ context.Context, itemID int64, retryIn time.Duration) error {
	q.mu.Lock()
	item, ok := q.leased[itemID]
	delete(q.leased, itemID)
	q.mu.Unlock()
	if !ok {
		return scraper.ErrNotFound
	}
	go func() {
		if retryIn > 0 {
			time.Sleep(retryIn)
		}
		// The closed check and the send share the critical section so a
		// concurrent Close cannot slip between them.
		q.mu.Lock()
		defer q.mu.Unlock()
		if !q.closed {
			q.channels[item.Kind] <- item
		}
	}()
	return nil
}

// Close closes the underlying channels for shutdown.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	for _, ch := range q.channels {
		close(ch)
	}
	q.closed = true
}
