package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mapscout/placecrawler/internal/scraper"
)

// TestWorkerCompletesSuccessfulUnit removes the unit after a clean handle.
func TestWorkerCompletesSuccessfulUnit(t *testing.T) {
	t.Parallel()

	queue := newScriptedQueue(scraper.QueueItem{ID: 1, Kind: scraper.UnitScrape, JobID: "job-1", Attempt: 1})
	handler := &scriptedHandler{}
	w := New(queue, handler, NewRetryPolicyWith(3, time.Millisecond, time.Millisecond), Config{Kind: scraper.UnitScrape}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return queue.completed(1)
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, handler.handled())
}

// TestWorkerRetriesFailedUnit schedules a backoff retry below the attempt cap.
func TestWorkerRetriesFailedUnit(t *testing.T) {
	t.Parallel()

	queue := newScriptedQueue(scraper.QueueItem{ID: 1, Kind: scraper.UnitScrape, JobID: "job-1", Attempt: 1})
	handler := &scriptedHandler{err: errors.New("transient")}
	w := New(queue, handler, NewRetryPolicyWith(3, time.Millisecond, time.Millisecond), Config{Kind: scraper.UnitScrape}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return queue.failed(1)
	}, time.Second, 5*time.Millisecond)
	require.Zero(t, handler.exhaustedCount())
}

// TestWorkerExhaustsUnit invokes the finalizer and removes the unit once
// attempts are spent.
func TestWorkerExhaustsUnit(t *testing.T) {
	t.Parallel()

	queue := newScriptedQueue(scraper.QueueItem{ID: 1, Kind: scraper.UnitScrape, JobID: "job-1", Attempt: 3})
	handler := &scriptedHandler{err: errors.New("still broken")}
	w := New(queue, handler, NewRetryPolicyWith(3, time.Millisecond, time.Millisecond), Config{Kind: scraper.UnitScrape}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return queue.completed(1) && handler.exhaustedCount() == 1
	}, time.Second, 5*time.Millisecond)
}

// TestWorkerHeartbeatsLongUnits renews the lease while a unit is in flight.
func TestWorkerHeartbeatsLongUnits(t *testing.T) {
	t.Parallel()

	queue := newScriptedQueue(scraper.QueueItem{ID: 1, Kind: scraper.UnitScrape, JobID: "job-1", Attempt: 1})
	release := make(chan struct{})
	handler := &scriptedHandler{block: release}
	w := New(queue, handler, NewRetryPolicy(), Config{
		Kind:              scraper.UnitScrape,
		HeartbeatInterval: 5 * time.Millisecond,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return queue.heartbeats(1) >= 2
	}, time.Second, 5*time.Millisecond)
	close(release)

	require.Eventually(t, func() bool {
		return queue.completed(1)
	}, time.Second, 5*time.Millisecond)
}

// TestRetryPolicyBounds verifies attempt caps and non-retryable errors.
func TestRetryPolicyBounds(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicyWith(3, time.Second, time.Minute)
	err := errors.New("boom")

	require.True(t, p.ShouldRetry(err, 1))
	require.True(t, p.ShouldRetry(err, 2))
	require.False(t, p.ShouldRetry(err, 3))
	require.False(t, p.ShouldRetry(nil, 1))
	require.False(t, p.ShouldRetry(context.Canceled, 1))
	require.False(t, p.ShouldRetry(fmt.Errorf("wrapped: %w", context.DeadlineExceeded), 1))
}

// TestRetryPolicyBackoffGrows keeps delays inside [base/2, max] and growing.
func TestRetryPolicyBackoffGrows(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicyWith(5, time.Second, time.Minute)
	for attempt := 1; attempt <= 5; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, time.Second/2, "attempt %d", attempt)
		require.LessOrEqual(t, d, time.Minute, "attempt %d", attempt)
	}
	require.GreaterOrEqual(t, p.Backoff(4), p.Backoff(1))
}

// ---- stubs ----

type scriptedQueue struct {
	mu      sync.Mutex
	items   []scraper.QueueItem
	done    map[int64]bool
	retried map[int64]bool
	beats   map[int64]int
}

func newScriptedQueue(items ...scraper.QueueItem) *scriptedQueue {
	return &scriptedQueue{
		items:   items,
		done:    make(map[int64]bool),
		retried: make(map[int64]bool),
		beats:   make(map[int64]int),
	}
}

func (q *scriptedQueue) Enqueue(context.Context, scraper.UnitKind, string, []byte) error {
	return nil
}

func (q *scriptedQueue) Dequeue(ctx context.Context, _ scraper.UnitKind) (scraper.QueueItem, error) {
	q.mu.Lock()
	if len(q.items) > 0 {
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		return item, nil
	}
	q.mu.Unlock()
	<-ctx.Done()
	return scraper.QueueItem{}, ctx.Err()
}

func (q *scriptedQueue) Heartbeat(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.beats[id]++
	return nil
}

func (q *scriptedQueue) Complete(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.done[id] = true
	return nil
}

func (q *scriptedQueue) Fail(_ context.Context, id int64, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retried[id] = true
	return nil
}

func (q *scriptedQueue) completed(id int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.done[id]
}

func (q *scriptedQueue) failed(id int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.retried[id]
}

func (q *scriptedQueue) heartbeats(id int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.beats[id]
}

type scriptedHandler struct {
	mu        sync.Mutex
	err       error
	block     chan struct{}
	calls     int
	exhausted int
}

func (h *scriptedHandler) Handle(_ context.Context, _ scraper.QueueItem) error {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	if h.block != nil {
		<-h.block
	}
	return h.err
}

func (h *scriptedHandler) Exhausted(_ context.Context, _ scraper.QueueItem, _ error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exhausted++
}

func (h *scriptedHandler) handled() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func (h *scriptedHandler) exhaustedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exhausted
}
