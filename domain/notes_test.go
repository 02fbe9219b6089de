package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestStatusToString(t *testing.T) {
	id := uuid.New()
	s := &Status{
		Id:        id,
		Kind:      KindNote,
		Text:      "Test message",
		CreatedAt: time.Now(),
	}

	result := s.ToString()

	if !strings.Contains(result, "Test message") {
		t.Errorf("ToString() should contain text, got: %s", result)
	}
	if !strings.Contains(result, id.String()) {
		t.Errorf("ToString() should contain ID, got: %s", result)
	}
	if !strings.Contains(result, "Note") {
		t.Errorf("ToString() should contain kind, got: %s", result)
	}
}

func TestStatusAddressed(t *testing.T) {
	s := Status{
		To: []string{"https://www.w3.org/ns/activitystreams#Public"},
		CC: []string{"https://example.com/users/alice/followers", "https://remote.example/users/bob"},
	}

	if !s.Addressed("https://remote.example/users/bob") {
		t.Error("Expected bob to be addressed via cc")
	}
	if !s.Addressed("https://www.w3.org/ns/activitystreams#Public") {
		t.Error("Expected public to be addressed via to")
	}
	if s.Addressed("https://remote.example/users/carol") {
		t.Error("Expected carol not to be addressed")
	}
}

func TestStatusKinds(t *testing.T) {
	kinds := map[StatusKind]string{
		KindNote:     "Note",
		KindPoll:     "Question",
		KindAnnounce: "Announce",
	}
	for kind, want := range kinds {
		if string(kind) != want {
			t.Errorf("Expected kind '%s', got '%s'", want, kind)
		}
	}
}
