package middleware

import (
	"context"
	"testing"

	"github.com/deemkeen/fedi/domain"
	"github.com/deemkeen/fedi/memstore"
	"github.com/deemkeen/fedi/util"
)

func newTestAccounts(db *memstore.Store) *Accounts {
	accounts := NewAccounts(db, localDomain, util.DiscardLogger())
	accounts.generate = func() (*util.RsaKeyPair, error) {
		return &util.RsaKeyPair{Private: "private", Public: "public"}, nil
	}
	return accounts
}

func TestEnsureRegistersNewKey(t *testing.T) {
	db := memstore.New()
	accounts := newTestAccounts(db)
	ctx := context.Background()

	actor, err := accounts.Ensure(ctx, "Alice", "hash-1")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if actor.Username != "alice" {
		t.Errorf("Expected username alice, got %s", actor.Username)
	}
	if !actor.Local || actor.URI != "https://local.example/users/alice" {
		t.Errorf("Expected local actor URI, got %s (local=%v)", actor.URI, actor.Local)
	}

	again, err := accounts.Ensure(ctx, "someone-else", "hash-1")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if again.Id != actor.Id {
		t.Errorf("Expected the same actor for a known key, got %s and %s", actor.Id, again.Id)
	}

	acc, _ := db.ReadAccountByPkHash(ctx, "hash-1")
	if acc == nil || acc.ActorId != actor.Id {
		t.Errorf("Expected account bound to the actor, got %+v", acc)
	}
}

func TestEnsureFallsBackToRandomName(t *testing.T) {
	tests := []struct {
		name    string
		sshUser string
	}{
		{"taken", "alice"},
		{"invalid characters", "not valid!"},
		{"empty", ""},
		{"too long", "abcdefghijklmnopqrstuvwxyz012345"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := memstore.New()
			accounts := newTestAccounts(db)
			ctx := context.Background()
			if _, err := accounts.Ensure(ctx, "alice", "first"); err != nil {
				t.Fatalf("Ensure failed: %v", err)
			}

			actor, err := accounts.Ensure(ctx, tt.sshUser, "second")
			if err != nil {
				t.Fatalf("Ensure failed: %v", err)
			}
			if actor.Username == "alice" || actor.Username == tt.sshUser {
				t.Errorf("Expected a generated username, got %s", actor.Username)
			}
			if !validUsername.MatchString(actor.Username) {
				t.Errorf("Generated username %q is not valid", actor.Username)
			}
		})
	}
}

func TestActorFrom(t *testing.T) {
	if ActorFrom(context.Background()) != nil {
		t.Error("Expected no actor in an empty context")
	}
	actor := &domain.Actor{Username: "alice"}
	ctx := context.WithValue(context.Background(), actorKey{}, actor)
	if got := ActorFrom(ctx); got != actor {
		t.Errorf("Expected %v, got %v", actor, got)
	}
}
