package activitypub

import (
	"context"
	"time"

	"github.com/deemkeen/fedi/domain"
	"github.com/google/uuid"
)

// Database is the persistence surface the federation engine depends on.
// Lookups return (nil, nil) when nothing matches. Writes rejected by a
// uniqueness constraint return domain.ErrAlreadyExists.
type Database interface {
	// Actors
	ReadActorById(ctx context.Context, id uuid.UUID) (*domain.Actor, error)
	ReadActorByURI(ctx context.Context, uri string) (*domain.Actor, error)
	ReadLocalActorByUsername(ctx context.Context, username string) (*domain.Actor, error)
	CreateLocalActor(ctx context.Context, actor *domain.Actor, acc *domain.Account) error
	UpsertRemoteActor(ctx context.Context, actor *domain.Actor) (*domain.Actor, error)
	ReadAccountByPkHash(ctx context.Context, pkHash string) (*domain.Account, error)
	ReadAccountByActorId(ctx context.Context, actorId uuid.UUID) (*domain.Account, error)

	// Statuses
	CreateStatus(ctx context.Context, status *domain.Status) error
	ReadStatusById(ctx context.Context, id uuid.UUID) (*domain.Status, error)
	ReadStatusByURI(ctx context.Context, uri string) (*domain.Status, error)
	ReadAnnounce(ctx context.Context, accountId uuid.UUID, originalId uuid.UUID) (*domain.Status, error)
	UpdateStatus(ctx context.Context, status *domain.Status) error
	DeleteStatus(ctx context.Context, id uuid.UUID) (bool, error)
	ReadStatusesByAccount(ctx context.Context, accountId uuid.UUID, limit int, offset int) ([]domain.Status, error)
	ReadHomeTimeline(ctx context.Context, accountId uuid.UUID, limit int) ([]domain.Status, error)

	// Follows
	CreateFollow(ctx context.Context, follow *domain.Follow) error
	ReadFollowById(ctx context.Context, id uuid.UUID) (*domain.Follow, error)
	ReadFollowByURI(ctx context.Context, uri string) (*domain.Follow, error)
	ReadActiveFollow(ctx context.Context, accountId uuid.UUID, targetId uuid.UUID) (*domain.Follow, error)
	// UpdateFollowStatus moves a follow to `to` only if its current status is
	// one of `from`, adjusting follower/following counters in the same
	// transaction. It reports whether the row changed.
	UpdateFollowStatus(ctx context.Context, id uuid.UUID, from []domain.FollowStatus, to domain.FollowStatus) (bool, error)
	ReadFollowers(ctx context.Context, targetId uuid.UUID) ([]domain.Follow, error)
	ReadFollowRequests(ctx context.Context, targetId uuid.UUID) ([]domain.Follow, error)
	ReadFollowsByInbox(ctx context.Context, inbox string) ([]domain.Follow, error)

	// Likes
	CreateLike(ctx context.Context, like *domain.Like) error
	ReadLikeById(ctx context.Context, id uuid.UUID) (*domain.Like, error)
	ReadLikeByURI(ctx context.Context, uri string) (*domain.Like, error)
	ReadLike(ctx context.Context, accountId uuid.UUID, statusId uuid.UUID) (*domain.Like, error)
	DeleteLike(ctx context.Context, accountId uuid.UUID, statusId uuid.UUID) (bool, error)

	CreateNotification(ctx context.Context, n *domain.Notification) error
	ReadNotifications(ctx context.Context, accountId uuid.UUID, limit int) ([]domain.Notification, error)

	// Inbound activity ledger
	HasActivity(ctx context.Context, dedupId string) (bool, error)
	RecordActivity(ctx context.Context, activity *domain.Activity) error

	// Deletion lifecycle
	UpdateDeletionStatus(ctx context.Context, actorId uuid.UUID, from []domain.DeletionStatus, to domain.DeletionStatus, scheduledAt *time.Time) (bool, error)
	ReadActorsDueForDeletion(ctx context.Context, now time.Time) ([]domain.Actor, error)
	DeleteActorData(ctx context.Context, actorId uuid.UUID) error
}
