package ratelimit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper runs Limiter.Sweep on a fixed interval until its context ends.
type Sweeper struct {
	limiter  *Limiter
	interval time.Duration
	logger   *logrus.Logger
}

func NewSweeper(limiter *Limiter, interval time.Duration, logger *logrus.Logger) *Sweeper {
	return &Sweeper{
		limiter:  limiter,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("Rate limit sweeper disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithField("interval", s.interval.String()).Info("Rate limit sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Rate limit sweeper stopped")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) int {
	removed, err := s.limiter.Sweep(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Rate limit sweep failed")
		return removed
	}
	if removed > 0 {
		s.logger.WithField("removed", removed).Debug("Swept stale rate limit records")
	}
	return removed
}
