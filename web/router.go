package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedi/activitypub"
	"github.com/deemkeen/fedi/domain"
	"github.com/deemkeen/fedi/metrics"
	"github.com/deemkeen/fedi/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	activityJSON = "application/activity+json; charset=utf-8"
	maxBodySize  = 1 << 20
)

// Verifier authenticates an inbound request.
type Verifier interface {
	Verify(ctx context.Context, req *http.Request, body []byte) (*domain.Actor, error)
}

// Processor applies a verified activity.
type Processor interface {
	Process(ctx context.Context, signer *domain.Actor, body []byte) (activitypub.Route, error)
}

// JobHandler runs a pushed job message.
type JobHandler interface {
	Handle(ctx context.Context, raw []byte) error
}

// Server is the public HTTP surface: inboxes, actor documents, collections,
// WebFinger and the operational endpoints.
type Server struct {
	db        activitypub.Database
	guard     Verifier
	inbox     Processor
	jobs      JobHandler
	metrics   *metrics.Metrics
	domain    string
	withAp    bool
	pushToken string
	logger    *log.Logger

	globalLimiter *RateLimiter
	apLimiter     *RateLimiter
}

func NewServer(db activitypub.Database, guard Verifier, inbox Processor, jobs JobHandler, m *metrics.Metrics, conf *util.AppConfig, logger *log.Logger) *Server {
	return &Server{
		db:        db,
		guard:     guard,
		inbox:     inbox,
		jobs:      jobs,
		metrics:   m,
		domain:    conf.Conf.SslDomain,
		withAp:    conf.Conf.WithAp,
		pushToken: conf.Conf.PushToken,
		logger:    logger.WithPrefix("web"),

		// 10 requests per second per IP, burst of 20
		globalLimiter: NewRateLimiter(rate.Limit(10), 20),
		// federation peers get 5 per second, burst of 10
		apLimiter: NewRateLimiter(rate.Limit(5), 10),
	}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery(), RequestLogger(s.logger), RateLimitMiddleware(s.globalLimiter))

	if s.metrics != nil {
		g.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	g.POST("/jobs/push", BearerAuth(s.pushToken), MaxBytesMiddleware(maxBodySize), s.handlePush)

	if !s.withAp {
		return g
	}

	inbound := g.Group("", RateLimitMiddleware(s.apLimiter), MaxBytesMiddleware(maxBodySize))
	inbound.POST("/inbox", s.handleSharedInbox)
	inbound.POST("/users/:username/inbox", s.handleUserInbox)

	read := g.Group("", gzip.Gzip(gzip.DefaultCompression))
	read.GET("/.well-known/webfinger", s.handleWebfinger)
	read.GET("/users/:username", s.handleActor)
	read.GET("/users/:username/outbox", s.handleOutbox)
	read.GET("/users/:username/followers", s.handleFollowers)
	read.GET("/users/:username/following", s.handleFollowing)
	read.GET("/users/:username/feed", s.handleFeed)
	read.GET("/notes/:id", s.handleStatus)

	return g
}

// Run serves on addr until ctx is cancelled, then drains open requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.globalLimiter.Cleanup(ctx, 10*time.Minute)
	go s.apLimiter.Cleanup(ctx, 10*time.Minute)

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "addr", addr, "activitypub", s.withAp)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

func (s *Server) renderActivity(c *gin.Context, status int, body interface{}) {
	c.Header("Content-Type", activityJSON)
	c.JSON(status, body)
}

func (s *Server) localActor(c *gin.Context) *domain.Actor {
	actor, err := s.db.ReadLocalActorByUsername(c.Request.Context(), c.Param("username"))
	if err != nil {
		s.logger.Error("Failed to read actor", "username", c.Param("username"), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return nil
	}
	if actor == nil || actor.DeletionStatus == domain.DeletionDeleting {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Not Found"})
		return nil
	}
	return actor
}
