package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/deemkeen/fedi/domain"
	"github.com/deemkeen/fedi/util"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/feeds"
)

const feedItems = 20

// handleFeed serves the public notes of a local actor as RSS.
func (s *Server) handleFeed(c *gin.Context) {
	actor := s.localActor(c)
	if actor == nil {
		return
	}

	statuses, err := s.db.ReadStatusesByAccount(c.Request.Context(), actor.Id, feedItems, 0)
	if err != nil {
		s.logger.Error("Failed to read statuses", "actor", actor.URI, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	rss, err := buildFeed(actor, statuses).ToRss()
	if err != nil {
		s.logger.Error("Failed to render feed", "actor", actor.URI, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.Data(http.StatusOK, "application/rss+xml; charset=utf-8", []byte(rss))
}

func buildFeed(actor *domain.Actor, statuses []domain.Status) *feeds.Feed {
	name := actor.DisplayName
	if name == "" {
		name = actor.Username
	}
	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s (%s)", name, actor.Handle()),
		Link:        &feeds.Link{Href: actor.URI},
		Description: actor.Summary,
		Author:      &feeds.Author{Name: name},
		Created:     time.Now(),
	}

	for i := range statuses {
		status := &statuses[i]
		if status.Kind == domain.KindAnnounce || !isPublic(status) {
			continue
		}
		item := &feeds.Item{
			Id:      status.URI,
			Title:   status.CreatedAt.Format(util.DateTimeFormat()),
			Link:    &feeds.Link{Href: status.URI},
			Content: util.TextToHTML(status.Text),
			Author:  &feeds.Author{Name: name},
			Created: status.CreatedAt,
		}
		if status.Summary != "" {
			item.Title = status.Summary
		}
		if status.EditedAt != nil {
			item.Updated = *status.EditedAt
		}
		feed.Items = append(feed.Items, item)
	}
	return feed
}
