package activitypub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedi/domain"
	"github.com/deemkeen/fedi/mail"
	"github.com/deemkeen/fedi/util"
	"github.com/google/uuid"
)

// ErrNoFollow means no follow in the required state exists for the pair.
var ErrNoFollow = errors.New("no matching follow")

// Follows drives the follow relationship state machine:
//
//	Requested -> Accepted | Rejected | Undo
//	Accepted  -> Undo | Rejected (dead peer cleanup only)
//
// Each transition is a compare-and-set in storage.
type Follows struct {
	db        Database
	publisher Publisher
	mailer    mail.Sender
	logger    *log.Logger
}

func NewFollows(db Database, publisher Publisher, mailer mail.Sender, logger *log.Logger) *Follows {
	return &Follows{
		db:        db,
		publisher: publisher,
		mailer:    mailer,
		logger:    logger.WithPrefix("follows"),
	}
}

// Request records follower's request to follow followee. When an active
// follow already exists it is returned and created is false.
func (f *Follows) Request(ctx context.Context, follower *domain.Actor, followee *domain.Actor, uri string) (follow *domain.Follow, created bool, err error) {
	existing, err := f.db.ReadActiveFollow(ctx, follower.Id, followee.Id)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	now := time.Now()
	follow = &domain.Follow{
		Id:              uuid.New(),
		AccountId:       follower.Id,
		TargetAccountId: followee.Id,
		URI:             uri,
		Status:          domain.FollowRequested,
		InboxURI:        follower.InboxURI,
		SharedInboxURI:  follower.SharedInboxURI,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := f.db.CreateFollow(ctx, follow); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// lost the race against a concurrent insert
			existing, err := f.db.ReadActiveFollow(ctx, follower.Id, followee.Id)
			return existing, false, err
		}
		return nil, false, fmt.Errorf("failed to create follow: %w", err)
	}

	if followee.Local {
		kind := domain.NotifyFollow
		if followee.ManuallyApprovesFollowers {
			kind = domain.NotifyFollowRequest
		}
		f.notify(ctx, followee, follower, kind)
	}
	f.logger.Info("Follow requested", "follower", follower.URI, "followee", followee.URI)
	return follow, true, nil
}

// Accept moves a Requested follow to Accepted.
func (f *Follows) Accept(ctx context.Context, follower *domain.Actor, followee *domain.Actor) (*domain.Follow, error) {
	follow, err := f.transition(ctx, follower, followee, []domain.FollowStatus{domain.FollowRequested}, domain.FollowAccepted)
	if err != nil {
		return nil, err
	}

	if followee.Local {
		if err := publish(ctx, f.publisher, domain.JobSendAccept, follow.Id.String(), domain.FollowJob{FollowId: follow.Id}); err != nil {
			return follow, err
		}
		f.sendMail(ctx, followee, follower)
	}
	return follow, nil
}

// Reject moves a Requested follow to Rejected.
func (f *Follows) Reject(ctx context.Context, follower *domain.Actor, followee *domain.Actor) (*domain.Follow, error) {
	follow, err := f.transition(ctx, follower, followee, []domain.FollowStatus{domain.FollowRequested}, domain.FollowRejected)
	if err != nil {
		return nil, err
	}

	if followee.Local {
		if err := publish(ctx, f.publisher, domain.JobSendReject, follow.Id.String(), domain.FollowJob{FollowId: follow.Id}); err != nil {
			return follow, err
		}
	}
	return follow, nil
}

// Undo withdraws a Requested or Accepted follow.
func (f *Follows) Undo(ctx context.Context, follower *domain.Actor, followee *domain.Actor) (*domain.Follow, error) {
	return f.transition(ctx, follower, followee, []domain.FollowStatus{domain.FollowRequested, domain.FollowAccepted}, domain.FollowUndo)
}

// RejectByInbox rejects every active follow whose follower delivers to
// inbox. Used when the inbox is permanently unreachable.
func (f *Follows) RejectByInbox(ctx context.Context, inbox string) (int, error) {
	follows, err := f.db.ReadFollowsByInbox(ctx, inbox)
	if err != nil {
		return 0, err
	}

	rejected := 0
	for _, follow := range follows {
		if !follow.Status.Active() {
			continue
		}
		changed, err := f.db.UpdateFollowStatus(ctx, follow.Id,
			[]domain.FollowStatus{domain.FollowRequested, domain.FollowAccepted}, domain.FollowRejected)
		if err != nil {
			return rejected, fmt.Errorf("failed to reject follow %s: %w", follow.Id, err)
		}
		if changed {
			rejected++
		}
	}
	if rejected > 0 {
		f.logger.Warn("Rejected follows of unreachable inbox", "inbox", inbox, "count", rejected)
	}
	return rejected, nil
}

func (f *Follows) transition(ctx context.Context, follower *domain.Actor, followee *domain.Actor, from []domain.FollowStatus, to domain.FollowStatus) (*domain.Follow, error) {
	follow, err := f.db.ReadActiveFollow(ctx, follower.Id, followee.Id)
	if err != nil {
		return nil, err
	}
	if follow == nil || !statusIn(follow.Status, from) {
		return nil, ErrNoFollow
	}

	changed, err := f.db.UpdateFollowStatus(ctx, follow.Id, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to update follow: %w", err)
	}
	if !changed {
		// someone else moved it first
		return nil, ErrNoFollow
	}
	follow.Status = to

	f.logger.Info("Follow "+string(to), "follower", follower.URI, "followee", followee.URI)
	return follow, nil
}

func (f *Follows) notify(ctx context.Context, recipient *domain.Actor, source *domain.Actor, kind domain.NotificationType) {
	util.BestEffort(f.logger, "follow notification", func() error {
		return f.db.CreateNotification(ctx, &domain.Notification{
			Id:              uuid.New(),
			AccountId:       recipient.Id,
			Type:            kind,
			SourceAccountId: source.Id,
			GroupKey:        fmt.Sprintf("%s:%s", kind, recipient.Id),
			CreatedAt:       time.Now(),
		})
	})
}

// sendMail runs in the background so a slow relay never holds up the caller.
func (f *Follows) sendMail(ctx context.Context, followee *domain.Actor, follower *domain.Actor) {
	if f.mailer == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go util.BestEffort(f.logger, "follow mail", func() error {
		acc, err := f.db.ReadAccountByActorId(ctx, followee.Id)
		if err != nil || acc == nil || acc.Email == "" {
			return err
		}
		return f.mailer.SendMail(ctx, mail.Message{
			To:      acc.Email,
			Subject: fmt.Sprintf("%s is now following you", follower.Handle()),
			Content: fmt.Sprintf("%s (%s) is now following you.", follower.Handle(), follower.URI),
		})
	})
}

func statusIn(s domain.FollowStatus, set []domain.FollowStatus) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}
