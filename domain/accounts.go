package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type DeletionStatus string

const (
	DeletionNone      DeletionStatus = ""
	DeletionScheduled DeletionStatus = "scheduled"
	DeletionDeleting  DeletionStatus = "deleting"
)

// Actor is a federated identity, either a local account or a cached remote peer.
type Actor struct {
	Id                        uuid.UUID
	URI                       string // canonical ActivityPub id
	Username                  string
	Domain                    string
	DisplayName               string
	Summary                   string
	InboxURI                  string
	SharedInboxURI            string
	OutboxURI                 string
	FollowersURI              string
	PublicKeyPem              string
	PrivateKeyPem             string // local actors only
	FollowersCount            int
	FollowingCount            int
	StatusesCount             int
	Local                     bool
	ManuallyApprovesFollowers bool
	DeletionStatus            DeletionStatus
	DeletionScheduledAt       *time.Time
	LastFetchedAt             time.Time
	CreatedAt                 time.Time
}

// DeliveryInbox prefers the shared inbox.
func (a *Actor) DeliveryInbox() string {
	if a.SharedInboxURI != "" {
		return a.SharedInboxURI
	}
	return a.InboxURI
}

func (a *Actor) Handle() string {
	return fmt.Sprintf("%s@%s", a.Username, a.Domain)
}

// Account is the login side of a local actor.
type Account struct {
	Id            uuid.UUID
	ActorId       uuid.UUID
	Username      string
	PublicKeyHash string // sha256 of the ssh authorized key
	Email         string
	CreatedAt     time.Time
}

func (acc *Account) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tUsername: %s \n\tEmail: %s \n\tCREATED_AT: %s)", acc.Id, acc.Username, acc.Email, acc.CreatedAt)
}
