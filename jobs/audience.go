package jobs

import (
	"context"
	"strings"

	"github.com/deemkeen/fedi/activitypub"
	"github.com/deemkeen/fedi/domain"
)

// ActorResolver finds actors by URI.
type ActorResolver interface {
	ResolveActor(ctx context.Context, uri string) (*domain.Actor, error)
	IsLocal(uri string) bool
}

// ResolveAudience returns the remote inboxes an object addressed to to/cc
// must reach. The public collection or the author's followers collection
// expands to the inboxes of accepted followers; every other addressee is
// resolved to its shared or personal inbox. Local actors are skipped, they
// read from storage. Unresolvable addressees are left out.
func ResolveAudience(ctx context.Context, db activitypub.Database, resolver ActorResolver, author *domain.Actor, to, cc []string) ([]string, error) {
	seen := map[string]bool{}
	var inboxes []string
	add := func(inbox string) {
		if inbox == "" || seen[inbox] || resolver.IsLocal(inbox) {
			return
		}
		seen[inbox] = true
		inboxes = append(inboxes, inbox)
	}

	addressees := append(append([]string{}, to...), cc...)
	toFollowers := false
	for _, uri := range addressees {
		if activitypub.IsPublic(uri) || (author.FollowersURI != "" && uri == author.FollowersURI) {
			toFollowers = true
		}
	}

	if toFollowers {
		follows, err := db.ReadFollowers(ctx, author.Id)
		if err != nil {
			return nil, err
		}
		for _, follow := range follows {
			if follow.SharedInboxURI != "" {
				add(follow.SharedInboxURI)
			} else {
				add(follow.InboxURI)
			}
		}
	}

	for _, uri := range addressees {
		if activitypub.IsPublic(uri) || uri == author.URI || isCollection(uri) || resolver.IsLocal(uri) {
			continue
		}
		actor, err := resolver.ResolveActor(ctx, uri)
		if err != nil || actor == nil {
			continue
		}
		add(actor.DeliveryInbox())
	}
	return inboxes, nil
}

// followerInboxes is the audience of an actor-level activity.
func followerInboxes(ctx context.Context, db activitypub.Database, resolver ActorResolver, actor *domain.Actor) ([]string, error) {
	return ResolveAudience(ctx, db, resolver, actor, []string{activitypub.PublicCollection}, nil)
}

// isCollection matches the followers/following collections of any actor.
func isCollection(uri string) bool {
	return strings.HasSuffix(uri, "/followers") || strings.HasSuffix(uri, "/following")
}
