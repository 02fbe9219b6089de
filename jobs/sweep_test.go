package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/deemkeen/fedi/util"
)

type fakeSweep struct {
	calls int
	err   error
}

func (f *fakeSweep) Sweep(ctx context.Context, now time.Time) (int, error) {
	f.calls++
	return f.calls, f.err
}

func TestNewSweeperValidatesCron(t *testing.T) {
	if _, err := NewSweeper(&fakeSweep{}, "not a cron", util.DiscardLogger()); err == nil {
		t.Error("Expected error for an invalid cron expression")
	}
	if _, err := NewSweeper(&fakeSweep{}, "*/5 * * * *", util.DiscardLogger()); err != nil {
		t.Errorf("Expected valid cron expression, got %v", err)
	}
}

func TestSweeperRunOnce(t *testing.T) {
	sweep := &fakeSweep{}
	s, err := NewSweeper(sweep, "@hourly", util.DiscardLogger())
	if err != nil {
		t.Fatalf("NewSweeper failed: %v", err)
	}

	n, err := s.RunOnce(context.Background())
	if err != nil || n != 1 {
		t.Errorf("Expected 1 swept actor, got %d, %v", n, err)
	}

	sweep.err = errors.New("db down")
	if _, err := s.RunOnce(context.Background()); err == nil {
		t.Error("Expected the sweep error to be returned")
	}
}

func TestSweeperRunStopsWithContext(t *testing.T) {
	s, _ := NewSweeper(&fakeSweep{}, "@daily", util.DiscardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Expected Run to return once the context is cancelled")
	}
}
