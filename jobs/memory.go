package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedi/domain"
)

// MemoryTransport keeps jobs in process. Pending jobs are lost on restart.
type MemoryTransport struct {
	workers     int
	maxAttempts int
	backoff     func(attempt int) time.Duration
	logger      *log.Logger

	mu      sync.Mutex
	pending map[string]int // id -> failed attempts
	ready   []domain.JobMessage
	wake    chan struct{}
}

func NewMemoryTransport(workers int, maxAttempts int, logger *log.Logger) *MemoryTransport {
	return &MemoryTransport{
		workers:     max(workers, 1),
		maxAttempts: max(maxAttempts, 1),
		backoff:     Backoff,
		logger:      logger.WithPrefix("memqueue"),
		pending:     map[string]int{},
		wake:        make(chan struct{}, 1),
	}
}

func (t *MemoryTransport) Enqueue(ctx context.Context, msg domain.JobMessage) error {
	t.mu.Lock()
	if _, ok := t.pending[msg.Id]; ok {
		t.mu.Unlock()
		return nil
	}
	t.pending[msg.Id] = 0
	t.ready = append(t.ready, msg)
	t.mu.Unlock()
	t.signal()
	return nil
}

// Pending counts jobs that are queued, running or waiting for a retry.
func (t *MemoryTransport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *MemoryTransport) Run(ctx context.Context, handle HandleFunc) error {
	var wg sync.WaitGroup
	for i := 0; i < t.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.work(ctx, handle)
		}()
	}
	wg.Wait()
	return nil
}

func (t *MemoryTransport) Close() error {
	return nil
}

func (t *MemoryTransport) work(ctx context.Context, handle HandleFunc) {
	for {
		msg, ok := t.next()
		if !ok {
			select {
			case <-t.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		t.process(ctx, handle, msg)
		if ctx.Err() != nil {
			return
		}
	}
}

func (t *MemoryTransport) next() (domain.JobMessage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.ready) == 0 {
		return domain.JobMessage{}, false
	}
	msg := t.ready[0]
	t.ready = t.ready[1:]
	if len(t.ready) > 0 {
		t.signal()
	}
	return msg, true
}

func (t *MemoryTransport) process(ctx context.Context, handle HandleFunc, msg domain.JobMessage) {
	err := handle(ctx, msg)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil || errors.Is(err, ErrUnrecoverable) {
		delete(t.pending, msg.Id)
		return
	}

	attempts := t.pending[msg.Id] + 1
	if attempts >= t.maxAttempts {
		t.logger.Error("Giving up on job", "name", msg.Name, "id", msg.Id, "attempts", attempts)
		delete(t.pending, msg.Id)
		return
	}
	t.pending[msg.Id] = attempts
	wait := t.backoff(attempts)
	t.logger.Warn("Job failed, retrying", "name", msg.Name, "attempt", attempts, "in", wait, "err", err)
	time.AfterFunc(wait, func() {
		t.mu.Lock()
		t.ready = append(t.ready, msg)
		t.mu.Unlock()
		t.signal()
	})
}

func (t *MemoryTransport) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}
