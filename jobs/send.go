package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/deemkeen/fedi/activitypub"
	"github.com/deemkeen/fedi/domain"
)

// statusSubject is the re-read state of a StatusJob. Missing pieces mean
// the job has nothing left to do.
type statusSubject struct {
	author *domain.Actor
	status *domain.Status
}

func (h *Handlers) readStatusJob(ctx context.Context, data json.RawMessage) (*statusSubject, error) {
	var job domain.StatusJob
	if err := decode(data, &job); err != nil {
		return nil, err
	}
	status, err := h.db.ReadStatusById(ctx, job.StatusId)
	if err != nil {
		return nil, err
	}
	if status == nil {
		h.logger.Debug("Status is gone, skipping", "status", job.StatusId)
		return nil, nil
	}
	author, err := h.db.ReadActorById(ctx, job.AccountId)
	if err != nil {
		return nil, err
	}
	if author == nil || !author.Local || status.AccountId != author.Id {
		h.logger.Debug("Author is gone or not local, skipping", "status", job.StatusId)
		return nil, nil
	}
	return &statusSubject{author: author, status: status}, nil
}

// statusAudience adds the author of the replied-to status to the addressees.
func (h *Handlers) statusAudience(ctx context.Context, s *statusSubject) ([]string, error) {
	inboxes, err := ResolveAudience(ctx, h.db, h.resolver, s.author, s.status.To, s.status.CC)
	if err != nil || s.status.InReplyToURI == "" {
		return inboxes, err
	}
	parent, err := h.db.ReadStatusByURI(ctx, s.status.InReplyToURI)
	if err != nil || parent == nil {
		return inboxes, err
	}
	parentAuthor, err := h.db.ReadActorById(ctx, parent.AccountId)
	if err != nil || parentAuthor == nil || parentAuthor.Local {
		return inboxes, err
	}
	for _, inbox := range inboxes {
		if inbox == parentAuthor.DeliveryInbox() {
			return inboxes, nil
		}
	}
	return append(inboxes, parentAuthor.DeliveryInbox()), nil
}

func (h *Handlers) SendNote(ctx context.Context, data json.RawMessage) error {
	s, err := h.readStatusJob(ctx, data)
	if err != nil || s == nil {
		return err
	}
	inboxes, err := h.statusAudience(ctx, s)
	if err != nil {
		return err
	}
	return h.deliver(ctx, s.author, inboxes, activitypub.CreateActivity(s.author, s.status))
}

func (h *Handlers) SendUpdateNote(ctx context.Context, data json.RawMessage) error {
	s, err := h.readStatusJob(ctx, data)
	if err != nil || s == nil {
		return err
	}
	inboxes, err := h.statusAudience(ctx, s)
	if err != nil {
		return err
	}
	return h.deliver(ctx, s.author, inboxes, activitypub.UpdateActivity(s.author, s.status))
}

func (h *Handlers) announceActivity(ctx context.Context, s *statusSubject) (map[string]interface{}, error) {
	if s.status.Kind != domain.KindAnnounce || s.status.OriginalStatusId == nil {
		return nil, Drop(fmt.Errorf("status %s is not an announce", s.status.Id))
	}
	original, err := h.db.ReadStatusById(ctx, *s.status.OriginalStatusId)
	if err != nil || original == nil {
		return nil, err
	}
	return activitypub.AnnounceActivity(s.author, s.status, original.URI), nil
}

func (h *Handlers) SendAnnounce(ctx context.Context, data json.RawMessage) error {
	s, err := h.readStatusJob(ctx, data)
	if err != nil || s == nil {
		return err
	}
	activity, err := h.announceActivity(ctx, s)
	if err != nil || activity == nil {
		return err
	}
	inboxes, err := ResolveAudience(ctx, h.db, h.resolver, s.author, s.status.To, s.status.CC)
	if err != nil {
		return err
	}
	return h.deliver(ctx, s.author, inboxes, activity)
}

// SendUndoAnnounce removes the announce before delivering the Undo.
func (h *Handlers) SendUndoAnnounce(ctx context.Context, data json.RawMessage) error {
	s, err := h.readStatusJob(ctx, data)
	if err != nil || s == nil {
		return err
	}
	announce, err := h.announceActivity(ctx, s)
	if err != nil {
		return err
	}
	inboxes, err := ResolveAudience(ctx, h.db, h.resolver, s.author, s.status.To, s.status.CC)
	if err != nil {
		return err
	}
	if _, err := h.db.DeleteStatus(ctx, s.status.Id); err != nil {
		return fmt.Errorf("failed to delete announce: %w", err)
	}
	if announce == nil {
		// the original is gone, so is everyone's copy of the announce
		return nil
	}
	return h.deliver(ctx, s.author, inboxes, activitypub.UndoActivity(s.author, announce))
}

// DeleteObject removes the status before delivering the Delete.
func (h *Handlers) DeleteObject(ctx context.Context, data json.RawMessage) error {
	s, err := h.readStatusJob(ctx, data)
	if err != nil || s == nil {
		return err
	}
	inboxes, err := h.statusAudience(ctx, s)
	if err != nil {
		return err
	}
	activity := activitypub.DeleteActivity(s.author, s.status.URI, s.status.To, s.status.CC)
	if _, err := h.db.DeleteStatus(ctx, s.status.Id); err != nil {
		return fmt.Errorf("failed to delete status: %w", err)
	}
	return h.deliver(ctx, s.author, inboxes, activity)
}

// followSubject is the re-read state of a FollowJob.
type followSubject struct {
	follow   *domain.Follow
	follower *domain.Actor
	followee *domain.Actor
}

func (h *Handlers) readFollowJob(ctx context.Context, data json.RawMessage) (*followSubject, error) {
	var job domain.FollowJob
	if err := decode(data, &job); err != nil {
		return nil, err
	}
	follow, err := h.db.ReadFollowById(ctx, job.FollowId)
	if err != nil || follow == nil {
		return nil, err
	}
	follower, err := h.db.ReadActorById(ctx, follow.AccountId)
	if err != nil || follower == nil {
		return nil, err
	}
	followee, err := h.db.ReadActorById(ctx, follow.TargetAccountId)
	if err != nil || followee == nil {
		return nil, err
	}
	return &followSubject{follow: follow, follower: follower, followee: followee}, nil
}

func (h *Handlers) SendFollow(ctx context.Context, data json.RawMessage) error {
	s, err := h.readFollowJob(ctx, data)
	if err != nil || s == nil {
		return err
	}
	if s.follow.Status != domain.FollowRequested || !s.follower.Local || s.followee.Local {
		return nil
	}
	activity := activitypub.FollowActivity(s.follower, s.followee, s.follow.URI)
	return h.deliver(ctx, s.follower, []string{s.followee.DeliveryInbox()}, activity)
}

func (h *Handlers) SendUndoFollow(ctx context.Context, data json.RawMessage) error {
	s, err := h.readFollowJob(ctx, data)
	if err != nil || s == nil {
		return err
	}
	if s.follow.Status != domain.FollowUndo || !s.follower.Local || s.followee.Local {
		return nil
	}
	activity := activitypub.UndoActivity(s.follower, activitypub.FollowActivity(s.follower, s.followee, s.follow.URI))
	return h.deliver(ctx, s.follower, []string{s.followee.DeliveryInbox()}, activity)
}

func (h *Handlers) SendAccept(ctx context.Context, data json.RawMessage) error {
	s, err := h.readFollowJob(ctx, data)
	if err != nil || s == nil {
		return err
	}
	if s.follow.Status != domain.FollowAccepted || !s.followee.Local || s.follower.Local {
		return nil
	}
	activity := activitypub.AcceptActivity(s.followee, s.follower, s.follow)
	return h.deliver(ctx, s.followee, []string{s.follower.DeliveryInbox()}, activity)
}

func (h *Handlers) SendReject(ctx context.Context, data json.RawMessage) error {
	s, err := h.readFollowJob(ctx, data)
	if err != nil || s == nil {
		return err
	}
	if s.follow.Status != domain.FollowRejected || !s.followee.Local || s.follower.Local {
		return nil
	}
	activity := activitypub.RejectActivity(s.followee, s.follower, s.follow)
	return h.deliver(ctx, s.followee, []string{s.follower.DeliveryInbox()}, activity)
}

// likeSubject is the re-read state of a LikeJob.
type likeSubject struct {
	like   *domain.Like
	actor  *domain.Actor
	status *domain.Status
	author *domain.Actor
}

func (h *Handlers) readLikeJob(ctx context.Context, data json.RawMessage) (*likeSubject, error) {
	var job domain.LikeJob
	if err := decode(data, &job); err != nil {
		return nil, err
	}
	like, err := h.db.ReadLikeById(ctx, job.LikeId)
	if err != nil || like == nil {
		return nil, err
	}
	actor, err := h.db.ReadActorById(ctx, like.AccountId)
	if err != nil || actor == nil || !actor.Local {
		return nil, err
	}
	status, err := h.db.ReadStatusById(ctx, like.StatusId)
	if err != nil || status == nil {
		return nil, err
	}
	author, err := h.db.ReadActorById(ctx, status.AccountId)
	if err != nil || author == nil {
		return nil, err
	}
	return &likeSubject{like: like, actor: actor, status: status, author: author}, nil
}

func (h *Handlers) SendLike(ctx context.Context, data json.RawMessage) error {
	s, err := h.readLikeJob(ctx, data)
	if err != nil || s == nil || s.author.Local {
		return err
	}
	activity := activitypub.LikeActivity(s.actor, s.like, s.status.URI, s.author.URI)
	return h.deliver(ctx, s.actor, []string{s.author.DeliveryInbox()}, activity)
}

// SendUndoLike removes the like before delivering the Undo.
func (h *Handlers) SendUndoLike(ctx context.Context, data json.RawMessage) error {
	s, err := h.readLikeJob(ctx, data)
	if err != nil || s == nil {
		return err
	}
	activity := activitypub.UndoActivity(s.actor, activitypub.LikeActivity(s.actor, s.like, s.status.URI, s.author.URI))
	if _, err := h.db.DeleteLike(ctx, s.actor.Id, s.status.Id); err != nil {
		return fmt.Errorf("failed to delete like: %w", err)
	}
	if s.author.Local {
		return nil
	}
	return h.deliver(ctx, s.actor, []string{s.author.DeliveryInbox()}, activity)
}
