// Package dispatcher manages worker fan-out over the work-unit queue.
package dispatcher

import (
	"context"
	"sync"

	"github.com/mapscout/placecrawler/internal/worker"
)

// Dispatcher runs the scrape and enrichment worker pools. Pool sizes are
// decided at wiring time; the scrape pool defaults to a single worker because
// every concurrent browser session raises the detection risk.
type Dispatcher struct {
	workers []*worker.Worker
}

// New creates a Dispatcher over the given workers.
func New(workers ...*worker.Worker) *Dispatcher {
	return &Dispatcher{workers: workers}
}

// Run starts all workers and blocks until the context finishes and every
// worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}
