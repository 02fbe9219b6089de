package web

import (
	"net/http"

	"github.com/deemkeen/fedi/activitypub"
	"github.com/deemkeen/fedi/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func (s *Server) handleActor(c *gin.Context) {
	actor := s.localActor(c)
	if actor == nil {
		return
	}
	s.renderActivity(c, http.StatusOK, actorDocument(actor))
}

// actorDocument falls back to the username when no display name is set.
func actorDocument(actor *domain.Actor) map[string]interface{} {
	doc := activitypub.PersonObject(actor)
	if actor.DisplayName == "" {
		doc["name"] = actor.Username
	}
	doc["discoverable"] = true
	return doc
}

// handleStatus serves local notes and polls. Announces and remote copies
// are not ours to serve, and only public statuses are shown.
func (s *Server) handleStatus(c *gin.Context) {
	ctx := c.Request.Context()

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Invalid note ID"})
		return
	}
	status, err := s.db.ReadStatusById(ctx, id)
	if err != nil {
		s.logger.Error("Failed to read status", "id", id, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if status == nil || status.Kind == domain.KindAnnounce || !isPublic(status) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Note not found"})
		return
	}
	author, err := s.db.ReadActorById(ctx, status.AccountId)
	if err != nil || author == nil || !author.Local {
		c.JSON(http.StatusNotFound, gin.H{"error": "Note not found"})
		return
	}

	object := activitypub.StatusObject(author, status)
	object["@context"] = activitypub.ActivityStreamsContext
	s.renderActivity(c, http.StatusOK, object)
}

func isPublic(status *domain.Status) bool {
	for _, list := range [][]string{status.To, status.CC} {
		for _, uri := range list {
			if activitypub.IsPublic(uri) {
				return true
			}
		}
	}
	return false
}

func (s *Server) handleFollowers(c *gin.Context) {
	actor := s.localActor(c)
	if actor == nil {
		return
	}
	follows, err := s.db.ReadFollowers(c.Request.Context(), actor.Id)
	if err != nil {
		s.logger.Error("Failed to read followers", "actor", actor.URI, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	items := make([]string, 0, len(follows))
	for _, f := range follows {
		follower, err := s.db.ReadActorById(c.Request.Context(), f.AccountId)
		if err != nil || follower == nil {
			continue
		}
		items = append(items, follower.URI)
	}
	s.renderActivity(c, http.StatusOK, gin.H{
		"@context":     activitypub.ActivityStreamsContext,
		"id":           actor.FollowersURI,
		"type":         "OrderedCollection",
		"totalItems":   actor.FollowersCount,
		"orderedItems": items,
	})
}

// handleFollowing publishes the count only.
func (s *Server) handleFollowing(c *gin.Context) {
	actor := s.localActor(c)
	if actor == nil {
		return
	}
	s.renderActivity(c, http.StatusOK, gin.H{
		"@context":     activitypub.ActivityStreamsContext,
		"id":           actor.URI + "/following",
		"type":         "OrderedCollection",
		"totalItems":   actor.FollowingCount,
		"orderedItems": []string{},
	})
}
