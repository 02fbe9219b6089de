package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/charmbracelet/log"
)

// DeletionSweeper is the part of activitypub.Deletion the scheduler drives.
type DeletionSweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Sweeper runs the deletion sweep on a cron schedule.
type Sweeper struct {
	deletion DeletionSweeper
	cron     string
	logger   *log.Logger
}

func NewSweeper(deletion DeletionSweeper, cronExpr string, logger *log.Logger) (*Sweeper, error) {
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid deletion sweep cron expression: %s", cronExpr)
	}
	return &Sweeper{deletion: deletion, cron: cronExpr, logger: logger.WithPrefix("sweep")}, nil
}

// RunOnce sweeps immediately.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	return s.deletion.Sweep(ctx, time.Now())
}

// Run sleeps until each cron tick and sweeps, until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("Deletion sweep scheduled", "cron", s.cron)
	for {
		next, err := gronx.NextTickAfter(s.cron, time.Now(), false)
		wait := time.Until(next)
		if err != nil {
			s.logger.Error("Failed to compute next sweep", "cron", s.cron, "err", err)
			wait = 30 * time.Second
		}

		select {
		case <-ctx.Done():
			s.logger.Info("Deletion sweep stopped")
			return
		case <-time.After(wait):
		}

		if err != nil {
			continue
		}
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("Deletion sweep failed", "err", err)
		}
	}
}
