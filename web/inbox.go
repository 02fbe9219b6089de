package web

import (
	"errors"
	"net/http"

	"github.com/deemkeen/fedi/activitypub"
	"github.com/gin-gonic/gin"
)

// The shared inbox needs no target user: handlers work from the activity
// and its verified sender.
func (s *Server) handleSharedInbox(c *gin.Context) {
	s.receive(c)
}

func (s *Server) handleUserInbox(c *gin.Context) {
	if s.localActor(c) == nil {
		return
	}
	s.receive(c)
}

func (s *Server) receive(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := c.GetRawData()
	if err != nil {
		s.logger.Info("Failed to read inbox body", "err", err)
		s.metrics.Inbound(activitypub.RouteUnhandled.String(), "malformed")
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	signer, err := s.guard.Verify(ctx, c.Request, body)
	if err != nil {
		s.logger.Info("Rejected unsigned inbox request", "ip", c.ClientIP(), "err", err)
		s.metrics.Inbound(activitypub.RouteUnhandled.String(), "unauthorized")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	route, err := s.inbox.Process(ctx, signer, body)
	switch {
	case err == nil:
		s.metrics.Inbound(route.String(), "accepted")
		c.Status(http.StatusAccepted)
	case errors.Is(err, activitypub.ErrAuthentication):
		s.logger.Info("Activity not owned by signer", "signer", signer.URI, "err", err)
		s.metrics.Inbound(route.String(), "unauthorized")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "signer does not own activity"})
	case activitypub.IsValidation(err):
		s.logger.Info("Malformed activity", "signer", signer.URI, "err", err)
		s.metrics.Inbound(route.String(), "malformed")
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		// not recorded in the ledger, so a redelivery is processed again
		s.logger.Error("Failed to process activity", "route", route, "signer", signer.URI, "err", err)
		s.metrics.Inbound(route.String(), "failed")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
