package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type StatusKind string

const (
	KindNote     StatusKind = "Note"
	KindPoll     StatusKind = "Question"
	KindAnnounce StatusKind = "Announce"
)

// Status is a Note, a Poll or an Announce. Kind decides which fields apply.
type Status struct {
	Id           uuid.UUID
	URI          string
	AccountId    uuid.UUID
	Kind         StatusKind
	Text         string
	Summary      string
	InReplyToURI string
	To           []string
	CC           []string
	// Announce only; the original is owned by someone else
	OriginalStatusId *uuid.UUID
	// Poll only
	Choices []PollChoice
	EndAt   *time.Time
	// Note only
	Edits       []StatusEdit
	Attachments []Attachment
	LikesCount  int
	CreatedAt   time.Time
	EditedAt    *time.Time
}

type PollChoice struct {
	Name  string
	Votes int
}

// StatusEdit is a previous revision of a Note.
type StatusEdit struct {
	Text     string
	Summary  string
	EditedAt time.Time
}

type Attachment struct {
	Id        uuid.UUID
	StatusId  uuid.UUID
	URL       string
	MediaType string
	Name      string
}

// Addressed reports whether uri appears in to or cc.
func (s *Status) Addressed(uri string) bool {
	for _, v := range s.To {
		if v == uri {
			return true
		}
	}
	for _, v := range s.CC {
		if v == uri {
			return true
		}
	}
	return false
}

func (s *Status) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tKind: %s \n\tText: %s \n\tCreatedAt: %s)", s.Id, s.Kind, s.Text, s.CreatedAt)
}
