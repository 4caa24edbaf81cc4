package daemon

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/commit365/chatzipper/internal/log"
	"github.com/commit365/chatzipper/internal/metrics"
)

// Purger deletes messages older than the cutoff.
type Purger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper periodically removes messages past the retention window so the
// database does not grow without bound.
type Sweeper struct {
	purger    Purger
	retention time.Duration
	interval  time.Duration
}

// NewSweeper creates a retention sweeper.
func NewSweeper(purger Purger, retention, interval time.Duration) *Sweeper {
	return &Sweeper{
		purger:    purger,
		retention: retention,
		interval:  interval,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
// One sweep runs immediately at startup.
func (s *Sweeper) Run(ctx context.Context) error {
	logger := log.WithComponent("sweeper")
	logger.Info().
		Dur("retention", s.retention).
		Dur("interval", s.interval).
		Msg("retention sweeper started")

	s.sweep(ctx, logger)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("retention sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx, logger)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context, logger zerolog.Logger) {
	cutoff := time.Now().Add(-s.retention)
	n, err := s.purger.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		logger.Error().
			Err(err).
			Str("event", "sweep.failed").
			Time("cutoff", cutoff).
			Msg("retention sweep failed")
		return
	}
	if n > 0 {
		metrics.AddPurgedMessages(n)
	}
	logger.Debug().
		Str("event", "sweep.done").
		Time("cutoff", cutoff).
		Int64("purged", n).
		Msg("retention sweep completed")
}
