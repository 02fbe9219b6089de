package domain

import (
	"encoding/json"

	"github.com/google/uuid"
)

const (
	JobSendNote          = "send-note"
	JobSendAnnounce      = "send-announce"
	JobSendUpdateNote    = "send-update-note"
	JobSendUndoAnnounce  = "send-undo-announce"
	JobDeleteObject      = "delete-object"
	JobDeleteActor       = "delete-actor"
	JobFetchRemoteStatus = "fetch-remote-status"
	JobSendFollow        = "send-follow"
	JobSendUndoFollow    = "send-undo-follow"
	JobSendAccept        = "send-accept"
	JobSendReject        = "send-reject"
	JobSendLike          = "send-like"
	JobSendUndoLike      = "send-undo-like"
)

// JobMessage is the unit handed to a queue backend. Id is a deterministic
// digest of the triggering entity so a re-publish dedups at the backend.
type JobMessage struct {
	Id   string          `json:"id"`
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

// StatusJob carries send-note, send-update-note, send-announce,
// send-undo-announce and delete-object.
type StatusJob struct {
	AccountId uuid.UUID `json:"accountId"`
	StatusId  uuid.UUID `json:"statusId"`
}

type ActorJob struct {
	AccountId uuid.UUID `json:"accountId"`
}

type FollowJob struct {
	FollowId uuid.UUID `json:"followId"`
}

type LikeJob struct {
	LikeId uuid.UUID `json:"likeId"`
}

// FetchStatusJob fetches a remote status, optionally wrapping it in an
// announce once it is stored.
type FetchStatusJob struct {
	URI         string    `json:"uri"`
	AnnouncerId uuid.UUID `json:"announcerId,omitempty"`
	AnnounceURI string    `json:"announceUri,omitempty"`
	To          []string  `json:"to,omitempty"`
	CC          []string  `json:"cc,omitempty"`
}
