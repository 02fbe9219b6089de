package activitypub

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func remoteActorDocument(id string) map[string]interface{} {
	return map[string]interface{}{
		"@context":                  []interface{}{ActivityStreamsContext, SecurityContext},
		"id":                        id,
		"type":                      "Person",
		"preferredUsername":         "carol",
		"name":                      "Carol Example",
		"summary":                   "Just a test user",
		"inbox":                     id + "/inbox",
		"outbox":                    id + "/outbox",
		"followers":                 id + "/followers",
		"manuallyApprovesFollowers": true,
		"endpoints":                 map[string]interface{}{"sharedInbox": "https://other.example/inbox"},
		"publicKey": map[string]interface{}{
			"id":           id + "#main-key",
			"owner":        id,
			"publicKeyPem": "-----BEGIN PUBLIC KEY-----\ntest\n-----END PUBLIC KEY-----",
		},
	}
}

func TestFetchRemoteActor(t *testing.T) {
	f := newFixture(t)
	uri := "https://other.example/users/carol"
	f.http.set(uri, http.StatusOK, remoteActorDocument(uri))

	actor, err := f.resolver.FetchRemoteActor(context.Background(), uri)
	if err != nil {
		t.Fatalf("FetchRemoteActor failed: %v", err)
	}

	if actor.Username != "carol" {
		t.Errorf("Expected username 'carol', got '%s'", actor.Username)
	}
	if actor.Domain != "other.example" {
		t.Errorf("Expected domain 'other.example', got '%s'", actor.Domain)
	}
	if actor.InboxURI != uri+"/inbox" {
		t.Errorf("Expected inbox URL, got '%s'", actor.InboxURI)
	}
	if actor.SharedInboxURI != "https://other.example/inbox" {
		t.Errorf("Expected shared inbox, got '%s'", actor.SharedInboxURI)
	}
	if !actor.ManuallyApprovesFollowers {
		t.Error("Expected manuallyApprovesFollowers to be read")
	}
	if actor.Local {
		t.Error("Fetched actor must not be local")
	}
}

func TestFetchRemoteActorFollowsKeyOwner(t *testing.T) {
	f := newFixture(t)
	uri := "https://other.example/users/carol"
	f.http.set(uri+"/key", http.StatusOK, map[string]interface{}{
		"@context":     SecurityContext,
		"id":           uri + "/key",
		"type":         "Key",
		"owner":        uri,
		"publicKeyPem": "-----BEGIN PUBLIC KEY-----\ntest\n-----END PUBLIC KEY-----",
	})
	f.http.set(uri, http.StatusOK, remoteActorDocument(uri))

	actor, err := f.resolver.FetchRemoteActor(context.Background(), uri+"/key")
	if err != nil {
		t.Fatalf("FetchRemoteActor failed: %v", err)
	}
	if actor.URI != uri {
		t.Errorf("Expected owner %s, got %s", uri, actor.URI)
	}
}

func TestFetchRemoteActorValidation(t *testing.T) {
	f := newFixture(t)
	uri := "https://other.example/users/broken"
	doc := remoteActorDocument(uri)
	delete(doc, "inbox")
	delete(doc, "publicKey")
	f.http.set(uri, http.StatusOK, doc)

	if _, err := f.resolver.FetchRemoteActor(context.Background(), uri); err == nil {
		t.Error("Expected error for actor without inbox and key")
	}
}

func TestResolveActorUsesCache(t *testing.T) {
	f := newFixture(t)

	actor, err := f.resolver.ResolveActor(context.Background(), remoteURI)
	if err != nil {
		t.Fatalf("ResolveActor failed: %v", err)
	}
	if actor.Id != f.remote.Id {
		t.Error("Expected cached actor")
	}
	if f.http.count() != 0 {
		t.Errorf("Expected no fetch for a fresh cache entry, got %d", f.http.count())
	}
}

func TestResolveActorRefreshesStaleEntry(t *testing.T) {
	f := newFixture(t)
	f.resolver.now = func() time.Time { return time.Now().Add(time.Hour) }

	// the refresh fails, so the stale copy is served
	actor, err := f.resolver.ResolveActor(context.Background(), remoteURI)
	if err != nil {
		t.Fatalf("ResolveActor failed: %v", err)
	}
	if actor == nil || actor.Id != f.remote.Id {
		t.Error("Expected stale cached actor when refresh fails")
	}
	if f.http.count() != 1 {
		t.Errorf("Expected one refresh attempt, got %d", f.http.count())
	}
}

func TestResolveActorNeverFetchesLocal(t *testing.T) {
	f := newFixture(t)

	missing, err := f.resolver.ResolveActor(context.Background(), "https://local.example/users/nobody")
	if err != nil || missing != nil {
		t.Errorf("Expected (nil, nil) for unknown local actor, got %v, %v", missing, err)
	}
	if f.http.count() != 0 {
		t.Error("Expected no HTTP request for a local actor")
	}
}

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		uri     string
		want    string
		wantErr bool
	}{
		{"https://mastodon.social/users/alice", "mastodon.social", false},
		{"https://example.com:8443/users/bob", "example.com:8443", false},
		{"not a url", "", true},
	}
	for _, tt := range tests {
		got, err := extractDomain(tt.uri)
		if (err != nil) != tt.wantErr {
			t.Errorf("extractDomain(%q) error = %v, wantErr %v", tt.uri, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("extractDomain(%q) = %q, want %q", tt.uri, got, tt.want)
		}
	}
}

func TestExtractUsername(t *testing.T) {
	tests := map[string]string{
		"https://example.com/users/alice": "alice",
		"https://example.com/@alice":      "alice",
		"https://example.com/users/bob/":  "bob",
	}
	for uri, want := range tests {
		if got := extractUsername(uri); got != want {
			t.Errorf("extractUsername(%q) = %q, want %q", uri, got, want)
		}
	}
}
