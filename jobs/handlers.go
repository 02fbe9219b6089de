package jobs

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedi/activitypub"
	"github.com/deemkeen/fedi/domain"
	"github.com/deemkeen/fedi/mail"
)

// Fetcher reads a remote ActivityPub document.
type Fetcher interface {
	Get(ctx context.Context, signer *domain.Actor, uri string) (map[string]interface{}, error)
}

// StatusImporter stores fetched statuses and the announces that wrap them.
type StatusImporter interface {
	ImportStatus(ctx context.Context, doc map[string]interface{}) (*domain.Status, error)
	StoreAnnounce(ctx context.Context, announcer *domain.Actor, announceURI string, original *domain.Status, to, cc []string) error
}

// Handlers implements every job kind.
type Handlers struct {
	db        activitypub.Database
	resolver  ActorResolver
	deliverer *Deliverer
	fetcher   Fetcher
	importer  StatusImporter
	mailer    mail.Sender
	logger    *log.Logger
}

func NewHandlers(db activitypub.Database, resolver ActorResolver, deliverer *Deliverer, fetcher Fetcher, importer StatusImporter, mailer mail.Sender, logger *log.Logger) *Handlers {
	return &Handlers{
		db:        db,
		resolver:  resolver,
		deliverer: deliverer,
		fetcher:   fetcher,
		importer:  importer,
		mailer:    mailer,
		logger:    logger.WithPrefix("jobs"),
	}
}

// Register binds every job kind on q.
func (h *Handlers) Register(q *Queue) {
	q.Register(domain.JobSendNote, h.SendNote)
	q.Register(domain.JobSendUpdateNote, h.SendUpdateNote)
	q.Register(domain.JobSendAnnounce, h.SendAnnounce)
	q.Register(domain.JobSendUndoAnnounce, h.SendUndoAnnounce)
	q.Register(domain.JobDeleteObject, h.DeleteObject)
	q.Register(domain.JobDeleteActor, h.DeleteActor)
	q.Register(domain.JobFetchRemoteStatus, h.FetchRemoteStatus)
	q.Register(domain.JobSendFollow, h.SendFollow)
	q.Register(domain.JobSendUndoFollow, h.SendUndoFollow)
	q.Register(domain.JobSendAccept, h.SendAccept)
	q.Register(domain.JobSendReject, h.SendReject)
	q.Register(domain.JobSendLike, h.SendLike)
	q.Register(domain.JobSendUndoLike, h.SendUndoLike)
}

// deliver sends activity and logs the outcome under the job name.
func (h *Handlers) deliver(ctx context.Context, signer *domain.Actor, inboxes []string, activity map[string]interface{}) error {
	if len(inboxes) == 0 {
		h.logger.Debug("No remote audience", "activity", activity["id"])
		return nil
	}
	_, err := h.deliverer.Deliver(ctx, signer, inboxes, activity)
	return err
}
