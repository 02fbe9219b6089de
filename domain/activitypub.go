package domain

import (
	"time"

	"github.com/google/uuid"
)

type FollowStatus string

const (
	FollowRequested FollowStatus = "Requested"
	FollowAccepted  FollowStatus = "Accepted"
	FollowRejected  FollowStatus = "Rejected"
	FollowUndo      FollowStatus = "Undo"
)

// Active statuses are the ones covered by the one-per-pair constraint.
func (s FollowStatus) Active() bool {
	return s == FollowRequested || s == FollowAccepted
}

// Follow represents a follow relationship
type Follow struct {
	Id              uuid.UUID
	AccountId       uuid.UUID // follower, local or remote
	TargetAccountId uuid.UUID // followee, local or remote
	URI             string    // ActivityPub Follow activity id
	Status          FollowStatus
	InboxURI        string // follower's inbox
	SharedInboxURI  string // follower's shared inbox
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Like represents a like/favorite on a status
type Like struct {
	Id        uuid.UUID
	AccountId uuid.UUID
	StatusId  uuid.UUID
	URI       string
	CreatedAt time.Time
}

type NotificationType string

const (
	NotifyFollow        NotificationType = "follow"
	NotifyFollowRequest NotificationType = "follow_request"
	NotifyLike          NotificationType = "like"
	NotifyReply         NotificationType = "reply"
	NotifyReblog        NotificationType = "reblog"
	NotifyMention       NotificationType = "mention"
)

type Notification struct {
	Id              uuid.UUID
	AccountId       uuid.UUID // recipient
	Type            NotificationType
	SourceAccountId uuid.UUID
	StatusId        *uuid.UUID
	GroupKey        string
	CreatedAt       time.Time
}

// Activity is the inbound ledger row used to skip redelivered activities.
type Activity struct {
	Id           string // dedup id
	ActivityURI  string
	ActivityType string
	ActorURI     string
	ObjectURI    string
	RawJSON      string
	CreatedAt    time.Time
}
