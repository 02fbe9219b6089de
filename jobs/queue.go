// Package jobs runs the asynchronous federation work: a queue with
// pluggable transports and the handlers for every job kind.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedi/domain"
	"github.com/deemkeen/fedi/metrics"
)

// ErrUnrecoverable marks a job that must not be retried.
var ErrUnrecoverable = errors.New("unrecoverable job")

// Drop wraps err so transports discard the job instead of retrying it.
func Drop(err error) error {
	return fmt.Errorf("%w: %v", ErrUnrecoverable, err)
}

// Handler processes the payload of one job kind.
type Handler func(ctx context.Context, data json.RawMessage) error

// HandleFunc is what a transport calls for every due job.
type HandleFunc func(ctx context.Context, msg domain.JobMessage) error

// Transport stores and redelivers jobs. Enqueue ignores a message whose id
// is already pending. Run blocks until ctx is done.
type Transport interface {
	Enqueue(ctx context.Context, msg domain.JobMessage) error
	Run(ctx context.Context, handle HandleFunc) error
	Close() error
}

// backoffSchedule in minutes, indexed by attempt.
var backoffSchedule = []int{1, 5, 15, 60, 240, 1440}

// Backoff returns the wait before retry number attempt (1-based).
func Backoff(attempt int) time.Duration {
	idx := min(max(attempt-1, 0), len(backoffSchedule)-1)
	return time.Duration(backoffSchedule[idx]) * time.Minute
}

// Queue publishes jobs to a transport and dispatches them to handlers by name.
type Queue struct {
	transport Transport
	metrics   *metrics.Metrics
	logger    *log.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewQueue(transport Transport, m *metrics.Metrics, logger *log.Logger) *Queue {
	return &Queue{
		transport: transport,
		metrics:   m,
		logger:    logger.WithPrefix("jobs"),
		handlers:  map[string]Handler{},
	}
}

func (q *Queue) Register(name string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = h
}

// Publish implements activitypub.Publisher.
func (q *Queue) Publish(ctx context.Context, msg domain.JobMessage) error {
	if msg.Id == "" || msg.Name == "" {
		return fmt.Errorf("job needs an id and a name")
	}
	if err := q.transport.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", msg.Name, err)
	}
	q.metrics.Job(msg.Name, "published")
	q.logger.Debug("Published job", "name", msg.Name, "id", msg.Id)
	return nil
}

// Handle processes one encoded message, as delivered by a push backend.
func (q *Queue) Handle(ctx context.Context, raw []byte) error {
	var msg domain.JobMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Drop(fmt.Errorf("failed to decode job: %w", err))
	}
	return q.Dispatch(ctx, msg)
}

// Dispatch runs the handler registered for msg.Name.
func (q *Queue) Dispatch(ctx context.Context, msg domain.JobMessage) error {
	q.mu.RLock()
	h, ok := q.handlers[msg.Name]
	q.mu.RUnlock()
	if !ok {
		q.metrics.Job(msg.Name, "unknown")
		return Drop(fmt.Errorf("no handler for job %q", msg.Name))
	}

	start := time.Now()
	err := h(ctx, msg.Data)
	switch {
	case err == nil:
		q.metrics.Job(msg.Name, "done")
		q.logger.Debug("Job done", "name", msg.Name, "id", msg.Id, "took", time.Since(start))
	case errors.Is(err, ErrUnrecoverable):
		q.metrics.Job(msg.Name, "dropped")
		q.logger.Error("Job dropped", "name", msg.Name, "id", msg.Id, "err", err)
	default:
		q.metrics.Job(msg.Name, "failed")
		q.logger.Warn("Job failed", "name", msg.Name, "id", msg.Id, "err", err)
	}
	return err
}

// Run feeds due jobs from the transport to Dispatch until ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	return q.transport.Run(ctx, q.Dispatch)
}

func (q *Queue) Close() error {
	return q.transport.Close()
}

func decode(data json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return Drop(fmt.Errorf("failed to decode payload: %w", err))
	}
	return nil
}
