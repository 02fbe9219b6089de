package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deemkeen/fedi/activitypub"
	"github.com/deemkeen/fedi/domain"
	"github.com/deemkeen/fedi/mail"
	"github.com/deemkeen/fedi/util"
)

// DeleteActor removes a local actor whose deletion is due. It claims the
// actor by moving it from scheduled to deleting; a redelivered job finds it
// in deleting and resumes.
func (h *Handlers) DeleteActor(ctx context.Context, data json.RawMessage) error {
	var job domain.ActorJob
	if err := decode(data, &job); err != nil {
		return err
	}
	actor, err := h.db.ReadActorById(ctx, job.AccountId)
	if err != nil {
		return err
	}
	if actor == nil || !actor.Local {
		return nil
	}

	switch actor.DeletionStatus {
	case domain.DeletionScheduled:
		if actor.DeletionScheduledAt != nil && actor.DeletionScheduledAt.After(time.Now()) {
			h.logger.Debug("Deletion not due yet", "actor", actor.URI)
			return nil
		}
		claimed, err := h.db.UpdateDeletionStatus(ctx, actor.Id,
			[]domain.DeletionStatus{domain.DeletionScheduled}, domain.DeletionDeleting, actor.DeletionScheduledAt)
		if err != nil {
			return fmt.Errorf("failed to claim deletion: %w", err)
		}
		if !claimed {
			// cancelled, or claimed by another job
			return nil
		}
	case domain.DeletionDeleting:
		h.logger.Info("Resuming deletion", "actor", actor.URI)
	default:
		h.logger.Info("Deletion was cancelled", "actor", actor.URI)
		return nil
	}

	inboxes, err := followerInboxes(ctx, h.db, h.resolver, actor)
	if err != nil {
		return err
	}
	account, err := h.db.ReadAccountByActorId(ctx, actor.Id)
	if err != nil {
		return err
	}
	activity := activitypub.DeleteActorActivity(actor)

	if err := h.db.DeleteActorData(ctx, actor.Id); err != nil {
		return fmt.Errorf("failed to delete actor data: %w", err)
	}
	h.logger.Info("Deleted actor", "actor", actor.URI)

	if err := h.deliver(ctx, actor, inboxes, activity); err != nil {
		return err
	}

	if account != nil && account.Email != "" && h.mailer != nil {
		util.BestEffort(h.logger, "deletion mail", func() error {
			return h.mailer.SendMail(ctx, mail.Message{
				To:      account.Email,
				Subject: "Your account has been deleted",
				Content: fmt.Sprintf("The account %s and all of its posts have been removed.", actor.Handle()),
			})
		})
	}
	return nil
}
