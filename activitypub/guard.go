package activitypub

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedi/domain"
)

// Guard authenticates inbound requests by their HTTP signature.
type Guard struct {
	resolver *Resolver
	maxSkew  time.Duration
	logger   *log.Logger
	now      func() time.Time
}

func NewGuard(resolver *Resolver, maxSkew time.Duration, logger *log.Logger) *Guard {
	return &Guard{
		resolver: resolver,
		maxSkew:  maxSkew,
		logger:   logger.WithPrefix("guard"),
		now:      time.Now,
	}
}

// Verify returns the actor that signed req. Every failure wraps
// ErrAuthentication.
func (g *Guard) Verify(ctx context.Context, req *http.Request, body []byte) (*domain.Actor, error) {
	keyId, err := KeyIdFromRequest(req)
	if err != nil {
		return nil, authFailed("%v", err)
	}

	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		if err := VerifyDigest(req.Header.Get("Digest"), body); err != nil {
			return nil, authFailed("%v", err)
		}
	}
	if err := g.checkDate(req.Header.Get("Date")); err != nil {
		return nil, err
	}

	actor, fresh, err := g.resolver.ResolveKey(ctx, keyId, false)
	if err != nil {
		return nil, authFailed("could not resolve key %s: %v", keyId, err)
	}
	if actor == nil {
		return nil, authFailed("unknown key %s", keyId)
	}

	if _, err := VerifyRequest(req, actor.PublicKeyPem); err != nil {
		if fresh {
			return nil, authFailed("%v", err)
		}
		// the key may have rotated since it was cached
		g.logger.Debug("Cached key failed, refetching", "keyId", keyId)
		actor, _, err = g.resolver.ResolveKey(ctx, keyId, true)
		if err != nil || actor == nil {
			return nil, authFailed("could not refetch key %s", keyId)
		}
		if _, err := VerifyRequest(req, actor.PublicKeyPem); err != nil {
			return nil, authFailed("%v", err)
		}
	}
	return actor, nil
}

func (g *Guard) checkDate(header string) error {
	if header == "" {
		return authFailed("missing date header")
	}
	date, err := http.ParseTime(header)
	if err != nil {
		return authFailed("invalid date header: %v", err)
	}
	skew := g.now().Sub(date)
	if skew < 0 {
		skew = -skew
	}
	if g.maxSkew > 0 && skew > g.maxSkew {
		return authFailed("date outside allowed window")
	}
	return nil
}
