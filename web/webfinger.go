package web

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const jrdJSON = "application/jrd+json; charset=utf-8"

// WebFingerNotFound is the body of every failed lookup.
var WebFingerNotFound = gin.H{"detail": "Not Found"}

// webfingerUsername accepts acct:user@domain for this domain or the
// actor URI itself.
func (s *Server) webfingerUsername(resource string) string {
	if acct, ok := strings.CutPrefix(resource, "acct:"); ok {
		username, host, found := strings.Cut(acct, "@")
		if !found || !strings.EqualFold(host, s.domain) {
			return ""
		}
		return username
	}
	if username, ok := strings.CutPrefix(resource, "https://"+s.domain+"/users/"); ok && !strings.Contains(username, "/") {
		return username
	}
	return ""
}

func (s *Server) handleWebfinger(c *gin.Context) {
	c.Header("Content-Type", jrdJSON)

	username := s.webfingerUsername(c.Query("resource"))
	if username == "" {
		c.JSON(http.StatusNotFound, WebFingerNotFound)
		return
	}
	actor, err := s.db.ReadLocalActorByUsername(c.Request.Context(), username)
	if err != nil {
		s.logger.Error("Webfinger lookup failed", "username", username, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
		return
	}
	if actor == nil {
		c.JSON(http.StatusNotFound, WebFingerNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subject": "acct:" + actor.Username + "@" + s.domain,
		"aliases": []string{actor.URI},
		"links": []gin.H{
			{
				"rel":  "self",
				"type": "application/activity+json",
				"href": actor.URI,
			},
		},
	})
}
