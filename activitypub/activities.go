package activitypub

import (
	"fmt"
	"time"

	"github.com/deemkeen/fedi/domain"
	"github.com/deemkeen/fedi/util"
	"github.com/google/uuid"
)

// URIs minted for local objects.

func ActorURI(localDomain, username string) string {
	return fmt.Sprintf("https://%s/users/%s", localDomain, username)
}

func StatusURI(localDomain string, id uuid.UUID) string {
	return fmt.Sprintf("https://%s/notes/%s", localDomain, id.String())
}

func ActivityURI(localDomain string, id uuid.UUID) string {
	return fmt.Sprintf("https://%s/activities/%s", localDomain, id.String())
}

func SharedInboxURI(localDomain string) string {
	return fmt.Sprintf("https://%s/inbox", localDomain)
}

// NewLocalActor fills in the endpoints of a local actor.
func NewLocalActor(localDomain, username string, keys *util.RsaKeyPair) *domain.Actor {
	uri := ActorURI(localDomain, username)
	return &domain.Actor{
		Id:             uuid.New(),
		URI:            uri,
		Username:       username,
		Domain:         localDomain,
		InboxURI:       uri + "/inbox",
		SharedInboxURI: SharedInboxURI(localDomain),
		OutboxURI:      uri + "/outbox",
		FollowersURI:   uri + "/followers",
		PublicKeyPem:   keys.Public,
		PrivateKeyPem:  keys.Private,
		Local:          true,
		CreatedAt:      time.Now(),
	}
}

func withContext(activity map[string]interface{}) map[string]interface{} {
	activity["@context"] = ActivityStreamsContext
	return activity
}

// PersonObject is the public actor document.
func PersonObject(actor *domain.Actor) map[string]interface{} {
	return map[string]interface{}{
		"@context":                  []interface{}{ActivityStreamsContext, SecurityContext},
		"id":                        actor.URI,
		"type":                      "Person",
		"preferredUsername":         actor.Username,
		"name":                      actor.DisplayName,
		"summary":                   actor.Summary,
		"inbox":                     actor.InboxURI,
		"outbox":                    actor.OutboxURI,
		"followers":                 actor.FollowersURI,
		"following":                 actor.URI + "/following",
		"url":                       actor.URI,
		"manuallyApprovesFollowers": actor.ManuallyApprovesFollowers,
		"endpoints": map[string]interface{}{
			"sharedInbox": actor.SharedInboxURI,
		},
		"publicKey": map[string]interface{}{
			"id":           KeyId(actor),
			"owner":        actor.URI,
			"publicKeyPem": actor.PublicKeyPem,
		},
	}
}

// StatusObject renders a Note or a Question.
func StatusObject(author *domain.Actor, s *domain.Status) map[string]interface{} {
	object := map[string]interface{}{
		"id":           s.URI,
		"type":         string(s.Kind),
		"attributedTo": author.URI,
		"content":      util.TextToHTML(s.Text),
		"published":    s.CreatedAt.UTC().Format(time.RFC3339),
		"to":           nonNil(s.To),
		"cc":           nonNil(s.CC),
	}
	if s.Summary != "" {
		object["summary"] = s.Summary
	}
	if s.InReplyToURI != "" {
		object["inReplyTo"] = s.InReplyToURI
	}
	if s.EditedAt != nil {
		object["updated"] = s.EditedAt.UTC().Format(time.RFC3339)
	}
	if len(s.Attachments) > 0 {
		attachments := make([]interface{}, 0, len(s.Attachments))
		for _, a := range s.Attachments {
			attachments = append(attachments, map[string]interface{}{
				"type":      "Document",
				"url":       a.URL,
				"mediaType": a.MediaType,
				"name":      a.Name,
			})
		}
		object["attachment"] = attachments
	}
	if s.Kind == domain.KindPoll {
		choices := make([]interface{}, 0, len(s.Choices))
		for _, c := range s.Choices {
			choices = append(choices, map[string]interface{}{
				"type": "Note",
				"name": c.Name,
				"replies": map[string]interface{}{
					"type":       "Collection",
					"totalItems": c.Votes,
				},
			})
		}
		object["oneOf"] = choices
		if s.EndAt != nil {
			object["endTime"] = s.EndAt.UTC().Format(time.RFC3339)
		}
	}
	return object
}

func CreateActivity(author *domain.Actor, s *domain.Status) map[string]interface{} {
	return withContext(map[string]interface{}{
		"id":        s.URI + "/activity",
		"type":      "Create",
		"actor":     author.URI,
		"published": s.CreatedAt.UTC().Format(time.RFC3339),
		"to":        nonNil(s.To),
		"cc":        nonNil(s.CC),
		"object":    StatusObject(author, s),
	})
}

// UpdateActivity ids are unique per revision.
func UpdateActivity(author *domain.Actor, s *domain.Status) map[string]interface{} {
	revision := s.CreatedAt
	if s.EditedAt != nil {
		revision = *s.EditedAt
	}
	return withContext(map[string]interface{}{
		"id":     fmt.Sprintf("%s#updates/%d", s.URI, revision.Unix()),
		"type":   "Update",
		"actor":  author.URI,
		"to":     nonNil(s.To),
		"cc":     nonNil(s.CC),
		"object": StatusObject(author, s),
	})
}

func AnnounceActivity(author *domain.Actor, announce *domain.Status, originalURI string) map[string]interface{} {
	return withContext(map[string]interface{}{
		"id":        announce.URI,
		"type":      "Announce",
		"actor":     author.URI,
		"published": announce.CreatedAt.UTC().Format(time.RFC3339),
		"to":        nonNil(announce.To),
		"cc":        nonNil(announce.CC),
		"object":    originalURI,
	})
}

// UndoActivity wraps inner, dropping its @context.
func UndoActivity(actor *domain.Actor, inner map[string]interface{}) map[string]interface{} {
	embedded := make(map[string]interface{}, len(inner))
	for k, v := range inner {
		if k != "@context" {
			embedded[k] = v
		}
	}
	undo := map[string]interface{}{
		"id":     fmt.Sprintf("%v#undo", inner["id"]),
		"type":   "Undo",
		"actor":  actor.URI,
		"object": embedded,
	}
	if to, ok := inner["to"]; ok {
		undo["to"] = to
	}
	if cc, ok := inner["cc"]; ok {
		undo["cc"] = cc
	}
	return withContext(undo)
}

func DeleteActivity(author *domain.Actor, objectURI string, to, cc []string) map[string]interface{} {
	return withContext(map[string]interface{}{
		"id":    objectURI + "#delete",
		"type":  "Delete",
		"actor": author.URI,
		"to":    nonNil(to),
		"cc":    nonNil(cc),
		"object": map[string]interface{}{
			"id":   objectURI,
			"type": "Tombstone",
		},
	})
}

func DeleteActorActivity(actor *domain.Actor) map[string]interface{} {
	return withContext(map[string]interface{}{
		"id":     actor.URI + "#delete",
		"type":   "Delete",
		"actor":  actor.URI,
		"to":     []string{PublicCollection},
		"object": actor.URI,
	})
}

func LikeActivity(actor *domain.Actor, like *domain.Like, objectURI string, authorURI string) map[string]interface{} {
	return withContext(map[string]interface{}{
		"id":     like.URI,
		"type":   "Like",
		"actor":  actor.URI,
		"to":     []string{authorURI},
		"object": objectURI,
	})
}

func FollowActivity(follower *domain.Actor, followee *domain.Actor, followURI string) map[string]interface{} {
	return withContext(map[string]interface{}{
		"id":     followURI,
		"type":   "Follow",
		"actor":  follower.URI,
		"object": followee.URI,
	})
}

// AcceptActivity answers follow on behalf of followee.
func AcceptActivity(followee *domain.Actor, follower *domain.Actor, follow *domain.Follow) map[string]interface{} {
	return respondActivity("Accept", followee, follower, follow)
}

func RejectActivity(followee *domain.Actor, follower *domain.Actor, follow *domain.Follow) map[string]interface{} {
	return respondActivity("Reject", followee, follower, follow)
}

func respondActivity(kind string, followee *domain.Actor, follower *domain.Actor, follow *domain.Follow) map[string]interface{} {
	return withContext(map[string]interface{}{
		"id":    fmt.Sprintf("%s#%s/%s", followee.URI, kind, follow.Id),
		"type":  kind,
		"actor": followee.URI,
		"to":    []string{follower.URI},
		"object": map[string]interface{}{
			"id":     follow.URI,
			"type":   "Follow",
			"actor":  follower.URI,
			"object": followee.URI,
		},
	})
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
