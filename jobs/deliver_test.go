package jobs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/deemkeen/fedi/activitypub"
	"github.com/deemkeen/fedi/domain"
	"github.com/deemkeen/fedi/metrics"
	"github.com/deemkeen/fedi/util"
)

func refused() error {
	return fmt.Errorf("request failed: %w", &net.OpError{
		Op:  "dial",
		Net: "tcp",
		Err: os.NewSyscallError("connect", syscall.ECONNREFUSED),
	})
}

func TestClassifierCodes(t *testing.T) {
	c := NewClassifier(util.DefaultPermanentErrorCodes)
	tests := []struct {
		name      string
		err       error
		code      string
		permanent bool
	}{
		{"refused", refused(), "ECONNREFUSED", true},
		{"no such host", &net.DNSError{Err: "no such host", Name: "gone.example", IsNotFound: true}, "ENOTFOUND", true},
		{"dns timeout", &net.DNSError{Err: "timeout", Name: "slow.example", IsTimeout: true}, "", false},
		{"unreachable", os.NewSyscallError("connect", syscall.EHOSTUNREACH), "EHOSTUNREACH", true},
		{"timeout", fmt.Errorf("request failed: %w", context.DeadlineExceeded), "ETIMEDOUT", false},
		{"gone", &activitypub.StatusError{URL: "https://x.example/inbox", Code: 410}, "HTTP_410", false},
		{"other", errors.New("boom"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Code(tt.err); got != tt.code {
				t.Errorf("Expected code %q, got %q", tt.code, got)
			}
			if got := c.IsPermanent(tt.err); got != tt.permanent {
				t.Errorf("Expected permanent=%v, got %v", tt.permanent, got)
			}
		})
	}
}

func TestClassifierCodesAreConfigurable(t *testing.T) {
	c := NewClassifier([]string{"HTTP_410"})
	if !c.IsPermanent(&activitypub.StatusError{Code: 410}) {
		t.Error("Expected HTTP_410 to be permanent when configured")
	}
	if c.IsPermanent(refused()) {
		t.Error("Expected ECONNREFUSED to be transient when not configured")
	}
}

type recordingCleaner struct {
	mu      sync.Mutex
	inboxes []string
}

func (c *recordingCleaner) RejectByInbox(ctx context.Context, inbox string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inboxes = append(c.inboxes, inbox)
	return 1, nil
}

func TestDeliverIsolatesInboxes(t *testing.T) {
	poster := newFakePoster()
	poster.errs["https://dead.example/inbox"] = refused()
	poster.errs["https://flaky.example/inbox"] = &activitypub.StatusError{Code: 503}
	cleaner := &recordingCleaner{}
	d := NewDeliverer(poster, cleaner, NewClassifier(util.DefaultPermanentErrorCodes), 1, metrics.New(), util.DiscardLogger())
	d.retryDelay = time.Millisecond

	signer := &domain.Actor{URI: "https://local.example/users/alice"}
	report, err := d.Deliver(context.Background(), signer, []string{
		"https://ok.example/inbox",
		"https://dead.example/inbox",
		"https://flaky.example/inbox",
	}, map[string]interface{}{"type": "Create"})
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	if report.Delivered != 1 || report.Permanent != 1 || report.Failed != 1 {
		t.Errorf("Expected 1 delivered, 1 gone, 1 failed, got %+v", report)
	}
	if len(cleaner.inboxes) != 1 || cleaner.inboxes[0] != "https://dead.example/inbox" {
		t.Errorf("Expected follow cleanup for the dead inbox only, got %v", cleaner.inboxes)
	}
	if poster.calls["https://flaky.example/inbox"] != 2 {
		t.Errorf("Expected one retry of the flaky inbox, got %d calls", poster.calls["https://flaky.example/inbox"])
	}
	if poster.calls["https://dead.example/inbox"] != 1 {
		t.Errorf("Expected no retry of a dead inbox, got %d calls", poster.calls["https://dead.example/inbox"])
	}
}

func TestDeliverDoesNotRetryClientErrors(t *testing.T) {
	poster := newFakePoster()
	poster.errs["https://strict.example/inbox"] = &activitypub.StatusError{Code: 401}
	d := NewDeliverer(poster, nil, NewClassifier(nil), 3, nil, util.DiscardLogger())
	d.retryDelay = time.Millisecond

	d.Deliver(context.Background(), &domain.Actor{}, []string{"https://strict.example/inbox"}, map[string]interface{}{})
	if poster.calls["https://strict.example/inbox"] != 1 {
		t.Errorf("Expected a single attempt for a 401, got %d", poster.calls["https://strict.example/inbox"])
	}
}

func TestPermanentFailureRejectsFollows(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	follow := e.follow(t, e.remote, e.local)
	e.poster.errs["https://remote.example/inbox"] = refused()

	status := e.status(t, e.local)
	if err := e.handlers.SendNote(ctx, payload(t, domain.StatusJob{AccountId: e.local.Id, StatusId: status.Id})); err != nil {
		t.Fatalf("SendNote failed: %v", err)
	}

	stored, _ := e.db.ReadFollowById(ctx, follow.Id)
	if stored.Status != domain.FollowRejected {
		t.Errorf("Expected follow to be rejected, got %s", stored.Status)
	}
	local, _ := e.db.ReadActorById(ctx, e.local.Id)
	if local.FollowersCount != 0 {
		t.Errorf("Expected followers count 0, got %d", local.FollowersCount)
	}
}
