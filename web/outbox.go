package web

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/deemkeen/fedi/activitypub"
	"github.com/deemkeen/fedi/domain"
	"github.com/gin-gonic/gin"
)

const itemsPerPage = 20

// handleOutbox returns an OrderedCollection of the public activities of a
// user, paged with ?page=N.
func (s *Server) handleOutbox(c *gin.Context) {
	actor := s.localActor(c)
	if actor == nil {
		return
	}

	page := ParsePageParam(c.Query("page"))
	if page == 0 {
		s.renderActivity(c, http.StatusOK, gin.H{
			"@context":   activitypub.ActivityStreamsContext,
			"id":         actor.OutboxURI,
			"type":       "OrderedCollection",
			"totalItems": actor.StatusesCount,
			"first":      fmt.Sprintf("%s?page=1", actor.OutboxURI),
		})
		return
	}

	collectionPage, err := s.outboxPage(c, actor, page)
	if err != nil {
		s.logger.Error("Failed to build outbox page", "actor", actor.URI, "page", page, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	s.renderActivity(c, http.StatusOK, collectionPage)
}

func (s *Server) outboxPage(c *gin.Context, actor *domain.Actor, page int) (gin.H, error) {
	offset := (page - 1) * itemsPerPage

	// one extra row tells whether a next page exists
	statuses, err := s.db.ReadStatusesByAccount(c.Request.Context(), actor.Id, itemsPerPage+1, offset)
	if err != nil {
		return nil, err
	}
	hasMore := len(statuses) > itemsPerPage
	if hasMore {
		statuses = statuses[:itemsPerPage]
	}

	items := make([]interface{}, 0, len(statuses))
	for i := range statuses {
		if activity := s.outboxItem(c, actor, &statuses[i]); activity != nil {
			items = append(items, activity)
		}
	}

	collectionPage := gin.H{
		"@context":     activitypub.ActivityStreamsContext,
		"id":           fmt.Sprintf("%s?page=%d", actor.OutboxURI, page),
		"type":         "OrderedCollectionPage",
		"partOf":       actor.OutboxURI,
		"orderedItems": items,
	}
	if hasMore {
		collectionPage["next"] = fmt.Sprintf("%s?page=%d", actor.OutboxURI, page+1)
	}
	if page > 1 {
		collectionPage["prev"] = fmt.Sprintf("%s?page=%d", actor.OutboxURI, page-1)
	}
	return collectionPage, nil
}

// outboxItem wraps a status in its activity. Non-public statuses are left out.
func (s *Server) outboxItem(c *gin.Context, actor *domain.Actor, status *domain.Status) map[string]interface{} {
	if !isPublic(status) {
		return nil
	}

	var activity map[string]interface{}
	if status.Kind == domain.KindAnnounce {
		if status.OriginalStatusId == nil {
			return nil
		}
		original, err := s.db.ReadStatusById(c.Request.Context(), *status.OriginalStatusId)
		if err != nil || original == nil {
			return nil
		}
		activity = activitypub.AnnounceActivity(actor, status, original.URI)
	} else {
		activity = activitypub.CreateActivity(actor, status)
	}
	delete(activity, "@context")
	return activity
}

// ParsePageParam extracts the page parameter from a query string
func ParsePageParam(pageStr string) int {
	if pageStr == "" {
		return 0
	}
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 0 {
		return 0
	}
	return page
}
