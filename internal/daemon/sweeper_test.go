package daemon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePurger struct {
	mu      sync.Mutex
	cutoffs []time.Time
	purged  int64
	err     error
}

func (p *fakePurger) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, cutoff)
	return p.purged, p.err
}

func (p *fakePurger) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cutoffs)
}

func TestSweeper_SweepsImmediatelyAndOnTick(t *testing.T) {
	purger := &fakePurger{purged: 2}
	s := NewSweeper(purger, 7*24*time.Hour, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return purger.calls() >= 2
	}, 3*time.Second, time.Millisecond, "expected the startup sweep plus at least one tick")

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}

	// cutoff honors the retention window
	purger.mu.Lock()
	defer purger.mu.Unlock()
	want := time.Now().Add(-7 * 24 * time.Hour)
	assert.WithinDuration(t, want, purger.cutoffs[0], time.Minute)
}

func TestSweeper_PurgeErrorDoesNotStopTheLoop(t *testing.T) {
	purger := &fakePurger{err: errors.New("database is locked")}
	s := NewSweeper(purger, time.Hour, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// failures are logged and the loop keeps ticking
	require.Eventually(t, func() bool {
		return purger.calls() >= 3
	}, 3*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
