package activitypub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedi/domain"
	"github.com/google/uuid"
)

// ErrDeletionState means the actor is not in a state that allows the change.
var ErrDeletionState = errors.New("actor deletion state does not allow this")

// Deletion schedules and cancels removal of local actors. The removal
// itself runs as a delete-actor job.
type Deletion struct {
	db        Database
	publisher Publisher
	logger    *log.Logger
}

func NewDeletion(db Database, publisher Publisher, logger *log.Logger) *Deletion {
	return &Deletion{db: db, publisher: publisher, logger: logger.WithPrefix("deletion")}
}

// Schedule marks the actor for deletion at `at`. A nil time deletes now.
func (d *Deletion) Schedule(ctx context.Context, actorId uuid.UUID, at *time.Time) error {
	when := time.Now()
	if at != nil {
		when = *at
	}

	changed, err := d.db.UpdateDeletionStatus(ctx, actorId,
		[]domain.DeletionStatus{domain.DeletionNone, domain.DeletionScheduled}, domain.DeletionScheduled, &when)
	if err != nil {
		return fmt.Errorf("failed to schedule deletion: %w", err)
	}
	if !changed {
		return ErrDeletionState
	}
	d.logger.Info("Deletion scheduled", "actor", actorId, "at", when)

	if at == nil {
		return d.enqueue(ctx, actorId)
	}
	return nil
}

// Cancel clears a scheduled deletion. It fails once deletion has started.
func (d *Deletion) Cancel(ctx context.Context, actorId uuid.UUID) error {
	changed, err := d.db.UpdateDeletionStatus(ctx, actorId,
		[]domain.DeletionStatus{domain.DeletionScheduled}, domain.DeletionNone, nil)
	if err != nil {
		return fmt.Errorf("failed to cancel deletion: %w", err)
	}
	if !changed {
		return ErrDeletionState
	}
	d.logger.Info("Deletion cancelled", "actor", actorId)
	return nil
}

// Sweep enqueues a delete-actor job for every actor whose scheduled time
// has passed. Job ids are derived from the actor id, so overlapping sweeps
// enqueue each actor once.
func (d *Deletion) Sweep(ctx context.Context, now time.Time) (int, error) {
	due, err := d.db.ReadActorsDueForDeletion(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to read due actors: %w", err)
	}
	for _, actor := range due {
		if err := d.enqueue(ctx, actor.Id); err != nil {
			return 0, err
		}
	}
	if len(due) > 0 {
		d.logger.Info("Deletion sweep", "enqueued", len(due))
	}
	return len(due), nil
}

func (d *Deletion) enqueue(ctx context.Context, actorId uuid.UUID) error {
	return publish(ctx, d.publisher, domain.JobDeleteActor, actorId.String(), domain.ActorJob{AccountId: actorId})
}
