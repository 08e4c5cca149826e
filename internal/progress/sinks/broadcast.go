package sinks

import (
	"context"
	"sync"

	"github.com/mapscout/placecrawler/internal/progress"
)

// Broadcaster fans events out to live per-job subscribers. It backs the
// server-sent-events endpoint: each subscriber owns a buffered channel, and a
// subscriber that cannot keep up loses events rather than stalling the hub.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[string]map[int64]chan progress.Event
	nextID int64
	closed bool
}

// NewBroadcaster constructs an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]map[int64]chan progress.Event)}
}

// Subscribe registers a listener for one job's events. The returned cancel
// func must be called when the listener goes away; it closes the channel.
func (b *Broadcaster) Subscribe(jobID string, buffer int) (<-chan progress.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan progress.Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.nextID++
	id := b.nextID
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[int64]chan progress.Event)
	}
	b.subs[jobID][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if listeners, ok := b.subs[jobID]; ok {
			if c, ok := listeners[id]; ok {
				delete(listeners, id)
				if len(listeners) == 0 {
					delete(b.subs, jobID)
				}
				close(c)
			}
		}
	}
	return ch, cancel
}

// Consume delivers each event to that job's subscribers without blocking.
func (b *Broadcaster) Consume(_ context.Context, batch []progress.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	for _, evt := range batch {
		for _, ch := range b.subs[evt.JobID] {
			select {
			case ch <- evt:
			default:
			}
		}
	}
	return nil
}

// Close terminates all subscriptions.
func (b *Broadcaster) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for jobID, listeners := range b.subs {
		for id, ch := range listeners {
			delete(listeners, id)
			close(ch)
		}
		delete(b.subs, jobID)
	}
	return nil
}
