package scraper

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// Pacer produces humanized pacing intervals. It is a pure scheduling
// primitive; the orchestrator decides when to invoke it.
type Pacer struct{}

// NewPacer returns a Pacer.
func NewPacer() *Pacer {
	return &Pacer{}
}

// InterRecordDelay returns a duration in [min, max] drawn from a bell-shaped
// distribution centered at the midpoint. The mean of three uniform draws
// approximates human inter-action timing better than flat jitter.
func (p *Pacer) InterRecordDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := int64(max - min)
	var sum int64
	for i := 0; i < 3; i++ {
		sum += randomInt64(span + 1)
	}
	d := min + time.Duration(sum/3)
	if d < min {
		d = min
	}
	if d > max {
		d = max
	}
	return d
}

// RestWindow returns the configured rest duration unchanged. It exists so the
// orchestrator treats both pause kinds through the same primitive.
func (p *Pacer) RestWindow(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// Sleep waits for the delay or until the context ends, whichever is first.
func Sleep(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func randomInt64(bound int64) int64 {
	if bound <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(bound))
	if err != nil {
		return bound / 2
	}
	return n.Int64()
}
