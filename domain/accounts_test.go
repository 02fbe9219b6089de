package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestAccountToString(t *testing.T) {
	id := uuid.New()
	acc := &Account{
		Id:        id,
		ActorId:   uuid.New(),
		Username:  "testuser",
		Email:     "test@example.com",
		CreatedAt: time.Now(),
	}

	result := acc.ToString()

	if !strings.Contains(result, "testuser") {
		t.Errorf("ToString() should contain username, got: %s", result)
	}
	if !strings.Contains(result, id.String()) {
		t.Errorf("ToString() should contain ID, got: %s", result)
	}
}

func TestActorDeliveryInbox(t *testing.T) {
	tests := []struct {
		name   string
		actor  Actor
		expect string
	}{
		{
			name:   "shared inbox preferred",
			actor:  Actor{InboxURI: "https://a.example/users/bob/inbox", SharedInboxURI: "https://a.example/inbox"},
			expect: "https://a.example/inbox",
		},
		{
			name:   "personal inbox fallback",
			actor:  Actor{InboxURI: "https://a.example/users/bob/inbox"},
			expect: "https://a.example/users/bob/inbox",
		},
		{
			name:   "no inbox",
			actor:  Actor{},
			expect: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.actor.DeliveryInbox(); got != tt.expect {
				t.Errorf("Expected '%s', got '%s'", tt.expect, got)
			}
		})
	}
}

func TestActorHandle(t *testing.T) {
	a := Actor{Username: "alice", Domain: "example.com"}
	if a.Handle() != "alice@example.com" {
		t.Errorf("Expected 'alice@example.com', got '%s'", a.Handle())
	}
}

func TestDeletionStatusValues(t *testing.T) {
	if DeletionNone != "" {
		t.Errorf("Expected DeletionNone to be empty, got '%s'", DeletionNone)
	}
	if DeletionScheduled == DeletionDeleting {
		t.Error("Expected scheduled and deleting to differ")
	}
}
