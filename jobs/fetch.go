package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/deemkeen/fedi/activitypub"
	"github.com/deemkeen/fedi/domain"
)

// FetchRemoteStatus imports a status we only know by URI and, when the job
// came from an Announce, stores the announce around it.
func (h *Handlers) FetchRemoteStatus(ctx context.Context, data json.RawMessage) error {
	var job domain.FetchStatusJob
	if err := decode(data, &job); err != nil {
		return err
	}

	status, err := h.db.ReadStatusByURI(ctx, job.URI)
	if err != nil {
		return err
	}
	if status == nil {
		doc, err := h.fetcher.Get(ctx, nil, job.URI)
		if err != nil {
			var statusErr *activitypub.StatusError
			if errors.As(err, &statusErr) && (statusErr.Code == http.StatusNotFound || statusErr.Code == http.StatusGone) {
				h.logger.Info("Remote status is gone", "uri", job.URI)
				return nil
			}
			return fmt.Errorf("failed to fetch %s: %w", job.URI, err)
		}
		if id, _ := doc["id"].(string); id != job.URI {
			return Drop(fmt.Errorf("fetched document id %q does not match %s", id, job.URI))
		}
		status, err = h.importer.ImportStatus(ctx, doc)
		if err != nil {
			if activitypub.IsValidation(err) {
				return Drop(err)
			}
			return err
		}
	}

	if job.AnnounceURI == "" {
		return nil
	}
	announcer, err := h.db.ReadActorById(ctx, job.AnnouncerId)
	if err != nil || announcer == nil {
		return err
	}
	return h.importer.StoreAnnounce(ctx, announcer, job.AnnounceURI, status, job.To, job.CC)
}
