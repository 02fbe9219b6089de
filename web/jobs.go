package web

import (
	"errors"
	"net/http"

	"github.com/deemkeen/fedi/jobs"
	"github.com/gin-gonic/gin"
)

// handlePush runs a job message pushed by an external broker. Any 2xx
// acknowledges the message; dropped jobs are acknowledged too since a
// redelivery cannot succeed.
func (s *Server) handlePush(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil || len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty job message"})
		return
	}

	err = s.jobs.Handle(c.Request.Context(), raw)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, jobs.ErrUnrecoverable):
		c.JSON(http.StatusOK, gin.H{"dropped": err.Error()})
	default:
		s.logger.Warn("Pushed job failed", "err", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	}
}
