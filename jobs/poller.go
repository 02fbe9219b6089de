package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedi/domain"
)

// PollOptions configures the durable transports.
type PollOptions struct {
	Interval    time.Duration
	Batch       int
	Workers     int
	MaxAttempts int
}

func (o PollOptions) withDefaults() PollOptions {
	if o.Interval <= 0 {
		o.Interval = 10 * time.Second
	}
	if o.Batch <= 0 {
		o.Batch = 50
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	return o
}

type record struct {
	Msg       domain.JobMessage `json:"msg"`
	Attempts  int               `json:"attempts"`
	NextRunAt time.Time         `json:"nextRunAt"`
}

// store is the storage side of a polling transport.
type store interface {
	insert(ctx context.Context, rec record) error
	due(ctx context.Context, now time.Time, limit int) ([]record, error)
	remove(ctx context.Context, id string) error
	reschedule(ctx context.Context, id string, attempts int, next time.Time) error
}

// poller reads due jobs on a ticker and runs each batch with bounded
// parallelism. A batch finishes before the next poll starts.
type poller struct {
	store   store
	opts    PollOptions
	backoff func(attempt int) time.Duration
	now     func() time.Time
	logger  *log.Logger
}

func newPoller(s store, opts PollOptions, logger *log.Logger) *poller {
	return &poller{
		store:   s,
		opts:    opts.withDefaults(),
		backoff: Backoff,
		now:     time.Now,
		logger:  logger,
	}
}

func (p *poller) enqueue(ctx context.Context, msg domain.JobMessage) error {
	return p.store.insert(ctx, record{Msg: msg, NextRunAt: p.now()})
}

func (p *poller) run(ctx context.Context, handle HandleFunc) error {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()
	for {
		p.poll(ctx, handle)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// poll processes one batch and returns its size.
func (p *poller) poll(ctx context.Context, handle HandleFunc) int {
	records, err := p.store.due(ctx, p.now(), p.opts.Batch)
	if err != nil {
		p.logger.Error("Failed to read due jobs", "err", err)
		return 0
	}
	if len(records) == 0 {
		return 0
	}
	p.logger.Debug("Processing due jobs", "count", len(records))

	sem := make(chan struct{}, p.opts.Workers)
	var wg sync.WaitGroup
	for _, rec := range records {
		wg.Add(1)
		sem <- struct{}{}
		go func(rec record) {
			defer wg.Done()
			defer func() { <-sem }()
			p.process(ctx, handle, rec)
		}(rec)
	}
	wg.Wait()
	return len(records)
}

func (p *poller) process(ctx context.Context, handle HandleFunc, rec record) {
	err := handle(ctx, rec.Msg)
	if err == nil || errors.Is(err, ErrUnrecoverable) {
		if err := p.store.remove(ctx, rec.Msg.Id); err != nil {
			p.logger.Error("Failed to remove job", "id", rec.Msg.Id, "err", err)
		}
		return
	}

	attempts := rec.Attempts + 1
	if attempts >= p.opts.MaxAttempts {
		p.logger.Error("Giving up on job", "name", rec.Msg.Name, "id", rec.Msg.Id, "attempts", attempts)
		if err := p.store.remove(ctx, rec.Msg.Id); err != nil {
			p.logger.Error("Failed to remove job", "id", rec.Msg.Id, "err", err)
		}
		return
	}

	wait := p.backoff(attempts)
	p.logger.Warn("Job failed, retrying", "name", rec.Msg.Name, "attempt", attempts, "in", wait, "err", err)
	if err := p.store.reschedule(ctx, rec.Msg.Id, attempts, p.now().Add(wait)); err != nil {
		p.logger.Error("Failed to reschedule job", "id", rec.Msg.Id, "err", err)
	}
}
