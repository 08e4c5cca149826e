// Package memory contains an in-memory notifier for tests and local runs.
package memory

import (
	"context"
	"sync"

	"github.com/mapscout/placecrawler/internal/scraper"
)

// Notifier stores delivered notifications for inspection.
type Notifier struct {
	mu   sync.RWMutex
	sent []scraper.Notification
}

// New returns a memory Notifier.
func New() *Notifier {
	return &Notifier{}
}

// Notify records the notification.
func (n *Notifier) Notify(_ context.Context, msg scraper.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

// Sent returns the recorded notifications.
func (n *Notifier) Sent() []scraper.Notification {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]scraper.Notification, len(n.sent))
	copy(out, n.sent)
	return out
}

// Kinds returns just the kind of each recorded notification, in order.
func (n *Notifier) Kinds() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, len(n.sent))
	for i, msg := range n.sent {
		out[i] = msg.Kind
	}
	return out
}
