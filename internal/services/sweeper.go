package services

import (
	"context"
	"time"

	"github.com/SAP-F-2025/exam-service/internal/utils"
)

// Sweeper periodically finalizes attempts whose deadline passed while nobody
// was looking. Deadlines are still enforced lazily on every access.
type Sweeper struct {
	session  SessionService
	interval time.Duration
	logger   utils.Logger
}

func NewSweeper(session SessionService, interval time.Duration, logger utils.Logger) *Sweeper {
	return &Sweeper{
		session:  session,
		interval: interval,
		logger:   logger.With("component", "sweeper"),
	}
}

// RunOnce expires overdue attempts and returns how many were finalized.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	expired, err := s.session.ExpireOverdue(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Sweep failed", "error", err)
		return expired, err
	}
	if expired > 0 {
		s.logger.InfoContext(ctx, "Expired overdue attempts", "count", expired)
	}
	return expired, nil
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Sweeper started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sweeper stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}
