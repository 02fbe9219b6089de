package activitypub

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedi/domain"
	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrNotOwner  = errors.New("not owned by this actor")
	ErrEmptyNote = errors.New("note text is empty")
)

// Draft is a note or poll about to be posted. Direct limits the audience to
// the listed actor URIs; otherwise the post is public.
type Draft struct {
	Text         string
	Summary      string
	InReplyToURI string
	Choices      []string
	EndAt        *time.Time
	Direct       []string
}

// Outbox performs actions of local actors. Each one persists what it can
// right away and leaves federation to a queued job.
type Outbox struct {
	db        Database
	resolver  *Resolver
	follows   *Follows
	publisher Publisher
	domain    string
	logger    *log.Logger
}

func NewOutbox(db Database, resolver *Resolver, follows *Follows, publisher Publisher, localDomain string, logger *log.Logger) *Outbox {
	return &Outbox{
		db:        db,
		resolver:  resolver,
		follows:   follows,
		publisher: publisher,
		domain:    localDomain,
		logger:    logger.WithPrefix("outbox"),
	}
}

func (o *Outbox) Post(ctx context.Context, author *domain.Actor, draft Draft) (*domain.Status, error) {
	if strings.TrimSpace(draft.Text) == "" {
		return nil, ErrEmptyNote
	}

	id := uuid.New()
	status := &domain.Status{
		Id:           id,
		URI:          StatusURI(o.domain, id),
		AccountId:    author.Id,
		Kind:         domain.KindNote,
		Text:         draft.Text,
		Summary:      draft.Summary,
		InReplyToURI: draft.InReplyToURI,
		To:           []string{PublicCollection},
		CC:           []string{author.FollowersURI},
		CreatedAt:    time.Now(),
	}
	if len(draft.Direct) > 0 {
		status.To = draft.Direct
		status.CC = nil
	}
	if len(draft.Choices) > 0 {
		status.Kind = domain.KindPoll
		for _, name := range draft.Choices {
			status.Choices = append(status.Choices, domain.PollChoice{Name: name})
		}
		status.EndAt = draft.EndAt
	}

	if err := o.db.CreateStatus(ctx, status); err != nil {
		return nil, fmt.Errorf("failed to create status: %w", err)
	}
	o.logger.Info("Posted", "kind", status.Kind, "status", status.URI)

	return status, o.publishStatus(ctx, domain.JobSendNote, id.String(), author, status)
}

// Edit replaces the text of a note, keeping the previous revision.
func (o *Outbox) Edit(ctx context.Context, author *domain.Actor, statusId uuid.UUID, text string, summary string) (*domain.Status, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyNote
	}
	status, err := o.ownStatus(ctx, author, statusId)
	if err != nil {
		return nil, err
	}
	if status.Kind != domain.KindNote {
		return nil, fmt.Errorf("only notes can be edited")
	}

	now := time.Now()
	status.Edits = append(status.Edits, domain.StatusEdit{Text: status.Text, Summary: status.Summary, EditedAt: now})
	status.Text = text
	status.Summary = summary
	status.EditedAt = &now
	if err := o.db.UpdateStatus(ctx, status); err != nil {
		return nil, fmt.Errorf("failed to update status: %w", err)
	}

	key := statusId.String() + ":" + strconv.Itoa(len(status.Edits))
	return status, o.publishStatus(ctx, domain.JobSendUpdateNote, key, author, status)
}

// Delete removes a status of the author. The row is removed by the job
// once the audience is known.
func (o *Outbox) Delete(ctx context.Context, author *domain.Actor, statusId uuid.UUID) error {
	status, err := o.ownStatus(ctx, author, statusId)
	if err != nil {
		return err
	}
	if status.Kind == domain.KindAnnounce {
		return o.publishStatus(ctx, domain.JobSendUndoAnnounce, status.Id.String(), author, status)
	}
	return o.publishStatus(ctx, domain.JobDeleteObject, status.Id.String(), author, status)
}

// Boost announces a status. Boosting twice returns the first announce.
func (o *Outbox) Boost(ctx context.Context, booster *domain.Actor, statusId uuid.UUID) (*domain.Status, error) {
	original, err := o.db.ReadStatusById(ctx, statusId)
	if err != nil {
		return nil, err
	}
	if original == nil || original.Kind == domain.KindAnnounce {
		return nil, ErrNotFound
	}

	existing, err := o.db.ReadAnnounce(ctx, booster.Id, original.Id)
	if err != nil || existing != nil {
		return existing, err
	}

	cc := []string{booster.FollowersURI}
	if originalAuthor, err := o.db.ReadActorById(ctx, original.AccountId); err == nil && originalAuthor != nil {
		cc = append(cc, originalAuthor.URI)
	}

	id := uuid.New()
	announce := &domain.Status{
		Id:               id,
		URI:              ActivityURI(o.domain, id),
		AccountId:        booster.Id,
		Kind:             domain.KindAnnounce,
		To:               []string{PublicCollection},
		CC:               cc,
		OriginalStatusId: &original.Id,
		CreatedAt:        time.Now(),
	}
	if err := o.db.CreateStatus(ctx, announce); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return o.db.ReadAnnounce(ctx, booster.Id, original.Id)
		}
		return nil, fmt.Errorf("failed to create announce: %w", err)
	}

	return announce, o.publishStatus(ctx, domain.JobSendAnnounce, id.String(), booster, announce)
}

func (o *Outbox) Unboost(ctx context.Context, booster *domain.Actor, statusId uuid.UUID) error {
	announce, err := o.db.ReadAnnounce(ctx, booster.Id, statusId)
	if err != nil {
		return err
	}
	if announce == nil {
		return ErrNotFound
	}
	return o.publishStatus(ctx, domain.JobSendUndoAnnounce, announce.Id.String(), booster, announce)
}

// Follow starts following targetURI. Follows of local actors are settled
// without federation.
func (o *Outbox) Follow(ctx context.Context, follower *domain.Actor, targetURI string) (*domain.Follow, error) {
	followee, err := o.resolver.ResolveActor(ctx, targetURI)
	if err != nil {
		return nil, err
	}
	if followee == nil {
		return nil, ErrNotFound
	}
	if followee.Id == follower.Id {
		return nil, fmt.Errorf("cannot follow yourself")
	}

	follow, created, err := o.follows.Request(ctx, follower, followee, ActivityURI(o.domain, uuid.New()))
	if err != nil || !created {
		return follow, err
	}

	if followee.Local {
		if !followee.ManuallyApprovesFollowers {
			if accepted, err := o.follows.Accept(ctx, follower, followee); err == nil {
				follow = accepted
			} else if !errors.Is(err, ErrNoFollow) {
				return follow, err
			}
		}
		return follow, nil
	}
	return follow, publish(ctx, o.publisher, domain.JobSendFollow, follow.Id.String(), domain.FollowJob{FollowId: follow.Id})
}

func (o *Outbox) Unfollow(ctx context.Context, follower *domain.Actor, followee *domain.Actor) error {
	follow, err := o.follows.Undo(ctx, follower, followee)
	if err != nil {
		return err
	}
	if followee.Local {
		return nil
	}
	return publish(ctx, o.publisher, domain.JobSendUndoFollow, follow.Id.String(), domain.FollowJob{FollowId: follow.Id})
}

// Approve accepts a pending follow request addressed to followee.
func (o *Outbox) Approve(ctx context.Context, followee *domain.Actor, followerId uuid.UUID) (*domain.Follow, error) {
	follower, err := o.db.ReadActorById(ctx, followerId)
	if err != nil {
		return nil, err
	}
	if follower == nil {
		return nil, ErrNotFound
	}
	return o.follows.Accept(ctx, follower, followee)
}

func (o *Outbox) Reject(ctx context.Context, followee *domain.Actor, followerId uuid.UUID) (*domain.Follow, error) {
	follower, err := o.db.ReadActorById(ctx, followerId)
	if err != nil {
		return nil, err
	}
	if follower == nil {
		return nil, ErrNotFound
	}
	return o.follows.Reject(ctx, follower, followee)
}

func (o *Outbox) Like(ctx context.Context, actor *domain.Actor, statusId uuid.UUID) (*domain.Like, error) {
	status, err := o.db.ReadStatusById(ctx, statusId)
	if err != nil {
		return nil, err
	}
	if status == nil || status.Kind == domain.KindAnnounce {
		return nil, ErrNotFound
	}

	existing, err := o.db.ReadLike(ctx, actor.Id, status.Id)
	if err != nil || existing != nil {
		return existing, err
	}

	id := uuid.New()
	like := &domain.Like{
		Id:        id,
		AccountId: actor.Id,
		StatusId:  status.Id,
		URI:       ActivityURI(o.domain, id),
		CreatedAt: time.Now(),
	}
	if err := o.db.CreateLike(ctx, like); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return o.db.ReadLike(ctx, actor.Id, status.Id)
		}
		return nil, fmt.Errorf("failed to create like: %w", err)
	}
	return like, publish(ctx, o.publisher, domain.JobSendLike, id.String(), domain.LikeJob{LikeId: id})
}

func (o *Outbox) Unlike(ctx context.Context, actor *domain.Actor, statusId uuid.UUID) error {
	like, err := o.db.ReadLike(ctx, actor.Id, statusId)
	if err != nil {
		return err
	}
	if like == nil {
		return ErrNotFound
	}
	return publish(ctx, o.publisher, domain.JobSendUndoLike, like.Id.String(), domain.LikeJob{LikeId: like.Id})
}

func (o *Outbox) ownStatus(ctx context.Context, author *domain.Actor, statusId uuid.UUID) (*domain.Status, error) {
	status, err := o.db.ReadStatusById(ctx, statusId)
	if err != nil {
		return nil, err
	}
	if status == nil {
		return nil, ErrNotFound
	}
	if status.AccountId != author.Id {
		return nil, ErrNotOwner
	}
	return status, nil
}

func (o *Outbox) publishStatus(ctx context.Context, name string, key string, author *domain.Actor, status *domain.Status) error {
	return publish(ctx, o.publisher, name, key, domain.StatusJob{AccountId: author.Id, StatusId: status.Id})
}
