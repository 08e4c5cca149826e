package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mapscout/placecrawler/internal/progress"
)

// TestBroadcasterDeliversPerJob routes events only to that job's subscribers.
func TestBroadcasterDeliversPerJob(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	defer func() { require.NoError(t, b.Close(context.Background())) }()

	chA, cancelA := b.Subscribe("job-a", 4)
	defer cancelA()
	chB, cancelB := b.Subscribe("job-b", 4)
	defer cancelB()

	batch := []progress.Event{
		{JobID: "job-a", TS: time.Now(), Stage: progress.StageJobStart},
	}
	require.NoError(t, b.Consume(context.Background(), batch))

	select {
	case evt := <-chA:
		require.Equal(t, progress.StageJobStart, evt.Stage)
	case <-time.After(time.Second):
		t.Fatal("subscriber a received nothing")
	}
	select {
	case <-chB:
		t.Fatal("subscriber b received another job's event")
	default:
	}
}

// TestBroadcasterDropsWhenSubscriberLags keeps Consume non-blocking.
func TestBroadcasterDropsWhenSubscriberLags(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	defer func() { require.NoError(t, b.Close(context.Background())) }()

	ch, cancel := b.Subscribe("job-a", 1)
	defer cancel()

	batch := []progress.Event{
		{JobID: "job-a", TS: time.Now(), Stage: progress.StageJobStart},
		{JobID: "job-a", TS: time.Now(), Stage: progress.StageJobDone},
	}
	done := make(chan struct{})
	go func() {
		require.NoError(t, b.Consume(context.Background(), batch))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consume blocked on a full subscriber")
	}
	require.Len(t, ch, 1)
}

// TestBroadcasterCancelClosesChannel releases the subscription.
func TestBroadcasterCancelClosesChannel(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	ch, cancel := b.Subscribe("job-a", 1)
	cancel()

	_, open := <-ch
	require.False(t, open)

	// Delivering after cancel must not panic.
	require.NoError(t, b.Consume(context.Background(), []progress.Event{
		{JobID: "job-a", TS: time.Now(), Stage: progress.StageJobStart},
	}))
	require.NoError(t, b.Close(context.Background()))
}
