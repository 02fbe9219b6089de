package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedi/activitypub"
	"github.com/deemkeen/fedi/domain"
	"github.com/deemkeen/fedi/metrics"
)

// Classifier names delivery errors and decides which of them mean the peer
// is gone for good.
type Classifier struct {
	permanent map[string]bool
}

func NewClassifier(codes []string) *Classifier {
	c := &Classifier{permanent: map[string]bool{}}
	for _, code := range codes {
		c.permanent[code] = true
	}
	return c
}

// Code returns an errno-style name for err, HTTP_<status> for non-2xx
// answers, or "" when nothing specific is known.
func (c *Classifier) Code(err error) string {
	var dnsErr *net.DNSError
	var statusErr *activitypub.StatusError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, syscall.ECONNREFUSED):
		return "ECONNREFUSED"
	case errors.Is(err, syscall.EHOSTUNREACH):
		return "EHOSTUNREACH"
	case errors.Is(err, syscall.ENETUNREACH):
		return "ENETUNREACH"
	case errors.Is(err, syscall.ECONNRESET):
		return "ECONNRESET"
	case errors.As(err, &dnsErr) && dnsErr.IsNotFound:
		return "ENOTFOUND"
	case errors.Is(err, context.DeadlineExceeded):
		return "ETIMEDOUT"
	case errors.As(err, &statusErr):
		return fmt.Sprintf("HTTP_%d", statusErr.Code)
	}
	return ""
}

func (c *Classifier) IsPermanent(err error) bool {
	code := c.Code(err)
	return code != "" && c.permanent[code]
}

// Poster sends one signed body to an inbox.
type Poster interface {
	PostRaw(ctx context.Context, signer *domain.Actor, inboxURI string, body []byte) error
}

// FollowCleaner removes follows whose inbox is gone.
type FollowCleaner interface {
	RejectByInbox(ctx context.Context, inbox string) (int, error)
}

// Report sums up one fan-out.
type Report struct {
	Delivered int
	Failed    int
	Permanent int
}

// Deliverer fans an activity out to inboxes, one goroutine per inbox.
type Deliverer struct {
	poster     Poster
	follows    FollowCleaner
	classifier *Classifier
	retries    int
	retryDelay time.Duration
	metrics    *metrics.Metrics
	logger     *log.Logger
}

func NewDeliverer(poster Poster, follows FollowCleaner, classifier *Classifier, retries int, m *metrics.Metrics, logger *log.Logger) *Deliverer {
	return &Deliverer{
		poster:     poster,
		follows:    follows,
		classifier: classifier,
		retries:    max(retries, 0),
		retryDelay: 2 * time.Second,
		metrics:    m,
		logger:     logger.WithPrefix("delivery"),
	}
}

// Deliver posts activity to every inbox. A failing inbox never affects the
// others. Transient failures are retried a bounded number of times; a
// permanent failure rejects the follows of that inbox.
func (d *Deliverer) Deliver(ctx context.Context, signer *domain.Actor, inboxes []string, activity interface{}) (Report, error) {
	var report Report
	if len(inboxes) == 0 {
		return report, nil
	}
	body, err := json.Marshal(activity)
	if err != nil {
		return report, Drop(fmt.Errorf("failed to marshal activity: %w", err))
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, inbox := range inboxes {
		wg.Add(1)
		go func(inbox string) {
			defer wg.Done()
			outcome := d.deliverOne(ctx, signer, inbox, body)
			d.metrics.Delivery(outcome)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case "delivered":
				report.Delivered++
			case "permanent":
				report.Permanent++
			default:
				report.Failed++
			}
		}(inbox)
	}
	wg.Wait()

	d.logger.Info("Delivered", "activity", activityType(activity), "inboxes", len(inboxes),
		"ok", report.Delivered, "failed", report.Failed, "gone", report.Permanent)
	return report, nil
}

func (d *Deliverer) deliverOne(ctx context.Context, signer *domain.Actor, inbox string, body []byte) string {
	var err error
	for attempt := 0; attempt <= d.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(d.retryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return "failed"
			}
		}

		err = d.poster.PostRaw(ctx, signer, inbox, body)
		if err == nil {
			return "delivered"
		}
		if d.classifier.IsPermanent(err) {
			d.logger.Warn("Inbox permanently unreachable", "inbox", inbox, "code", d.classifier.Code(err), "err", err)
			d.cleanup(ctx, inbox)
			return "permanent"
		}
		if !retryable(err) {
			break
		}
	}
	d.logger.Warn("Delivery failed", "inbox", inbox, "code", d.classifier.Code(err), "err", err)
	return "failed"
}

func (d *Deliverer) cleanup(ctx context.Context, inbox string) {
	if d.follows == nil {
		return
	}
	n, err := d.follows.RejectByInbox(ctx, inbox)
	if err != nil {
		d.logger.Error("Failed to clean up follows", "inbox", inbox, "err", err)
		return
	}
	d.metrics.FollowCleanups(n)
}

// retryable is false for answers that will not change on retry.
func retryable(err error) bool {
	var statusErr *activitypub.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == 429 || statusErr.Code >= 500
	}
	return true
}

func activityType(activity interface{}) string {
	if m, ok := activity.(map[string]interface{}); ok {
		if t, ok := m["type"].(string); ok {
			return t
		}
	}
	return ""
}
