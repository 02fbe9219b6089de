package activitypub

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedi/domain"
)

// Resolver maps actor and key ids to stored actors, fetching remote
// documents when the cached copy is missing or older than the TTL.
type Resolver struct {
	db         Database
	client     *Client
	normalizer *Normalizer
	domain     string
	ttl        time.Duration
	logger     *log.Logger
	now        func() time.Time
}

func NewResolver(db Database, client *Client, normalizer *Normalizer, localDomain string, ttl time.Duration, logger *log.Logger) *Resolver {
	return &Resolver{
		db:         db,
		client:     client,
		normalizer: normalizer,
		domain:     localDomain,
		ttl:        ttl,
		logger:     logger.WithPrefix("actors"),
		now:        time.Now,
	}
}

// IsLocal reports whether uri belongs to this server.
func (r *Resolver) IsLocal(uri string) bool {
	host, err := extractDomain(uri)
	return err == nil && strings.EqualFold(host, r.domain)
}

// ResolveActor returns the actor for uri. Local actors are read from storage
// only; a missing local actor is (nil, nil).
func (r *Resolver) ResolveActor(ctx context.Context, uri string) (*domain.Actor, error) {
	cached, err := r.db.ReadActorByURI(ctx, uri)
	if err != nil {
		return nil, err
	}
	if r.IsLocal(uri) {
		return cached, nil
	}
	if cached != nil && r.now().Sub(cached.LastFetchedAt) < r.ttl {
		return cached, nil
	}

	fetched, err := r.FetchRemoteActor(ctx, uri)
	if err != nil {
		if cached != nil {
			r.logger.Warn("Refresh failed, using cached actor", "uri", uri, "err", err)
			return cached, nil
		}
		return nil, err
	}
	return fetched, nil
}

// ResolveKey returns the owner of keyId. fresh reports whether the key was
// just fetched, so a failed verification against a cached key can retry once.
func (r *Resolver) ResolveKey(ctx context.Context, keyId string, forceFetch bool) (actor *domain.Actor, fresh bool, err error) {
	actorURI := ActorURIFromKeyId(keyId)
	if r.IsLocal(actorURI) {
		actor, err = r.db.ReadActorByURI(ctx, actorURI)
		return actor, false, err
	}

	if !forceFetch {
		cached, err := r.db.ReadActorByURI(ctx, actorURI)
		if err != nil {
			return nil, false, err
		}
		if cached != nil && r.now().Sub(cached.LastFetchedAt) < r.ttl {
			return cached, false, nil
		}
	}

	actor, err = r.FetchRemoteActor(ctx, actorURI)
	if err != nil {
		return nil, false, err
	}
	return actor, true, nil
}

// FetchRemoteActor fetches an actor (or a key document pointing at its owner)
// and stores it.
func (r *Resolver) FetchRemoteActor(ctx context.Context, uri string) (*domain.Actor, error) {
	if r.IsLocal(uri) {
		return nil, fmt.Errorf("refusing to fetch local actor %s", uri)
	}

	doc, err := r.fetchCompacted(ctx, uri)
	if err != nil {
		return nil, err
	}

	// a bare key document names its owner
	if _, hasInbox := doc["inbox"]; !hasInbox {
		if owner := str(doc["owner"]); owner != "" && owner != uri {
			doc, err = r.fetchCompacted(ctx, owner)
			if err != nil {
				return nil, err
			}
		}
	}

	return r.storeActor(ctx, doc)
}

// StoreActorDocument refreshes a remote actor from a document delivered
// inline, as in Update{Person}.
func (r *Resolver) StoreActorDocument(ctx context.Context, doc map[string]interface{}) (*domain.Actor, error) {
	return r.storeActor(ctx, doc)
}

func (r *Resolver) fetchCompacted(ctx context.Context, uri string) (map[string]interface{}, error) {
	raw, err := r.client.Get(ctx, nil, uri)
	if err != nil {
		return nil, fmt.Errorf("actor fetch %s: %w", uri, err)
	}
	return r.normalizer.Compact(raw)
}

func (r *Resolver) storeActor(ctx context.Context, doc map[string]interface{}) (*domain.Actor, error) {
	actor, err := actorFromDocument(doc)
	if err != nil {
		return nil, err
	}
	if r.IsLocal(actor.URI) {
		return nil, invalid("remote document claims local id %s", actor.URI)
	}
	actor.LastFetchedAt = r.now()

	stored, err := r.db.UpsertRemoteActor(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("failed to store remote actor: %w", err)
	}
	r.logger.Debug("Stored remote actor", "uri", stored.URI)
	return stored, nil
}

func actorFromDocument(doc map[string]interface{}) (*domain.Actor, error) {
	key := obj(doc["publicKey"])
	endpoints := obj(doc["endpoints"])

	actor := &domain.Actor{
		URI:          str(doc["id"]),
		Username:     text(doc["preferredUsername"]),
		DisplayName:  text(doc["name"]),
		Summary:      text(doc["summary"]),
		InboxURI:     str(doc["inbox"]),
		OutboxURI:    str(doc["outbox"]),
		FollowersURI: str(doc["followers"]),
	}
	if key != nil {
		actor.PublicKeyPem = text(key["publicKeyPem"])
	}
	if endpoints != nil {
		actor.SharedInboxURI = str(endpoints["sharedInbox"])
	}
	if v, ok := doc["manuallyApprovesFollowers"].(bool); ok {
		actor.ManuallyApprovesFollowers = v
	}

	if actor.URI == "" || actor.InboxURI == "" || actor.PublicKeyPem == "" {
		return nil, invalid("actor missing required fields")
	}

	domainName, err := extractDomain(actor.URI)
	if err != nil {
		return nil, err
	}
	actor.Domain = domainName
	if actor.Username == "" {
		actor.Username = extractUsername(actor.URI)
	}
	return actor, nil
}

// extractDomain extracts the domain from an actor URI
// Example: "https://mastodon.social/users/alice" -> "mastodon.social"
func extractDomain(actorURI string) (string, error) {
	parsed, err := url.Parse(actorURI)
	if err != nil {
		return "", fmt.Errorf("invalid actor URI: %w", err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("invalid actor URI: %s", actorURI)
	}
	return parsed.Host, nil
}

// extractUsername extracts username from various URI formats
// Examples:
// - "https://example.com/users/alice" -> "alice"
// - "https://example.com/@alice" -> "alice"
func extractUsername(uri string) string {
	parts := strings.Split(strings.TrimRight(uri, "/"), "/")
	return strings.TrimPrefix(parts[len(parts)-1], "@")
}
