package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedi/domain"
	"github.com/deemkeen/fedi/util"
	"github.com/google/uuid"
)

// Inbox turns verified inbound activities into local state.
type Inbox struct {
	db         Database
	normalizer *Normalizer
	resolver   *Resolver
	follows    *Follows
	publisher  Publisher
	router     *Router
	logger     *log.Logger
}

func NewInbox(db Database, normalizer *Normalizer, resolver *Resolver, follows *Follows, publisher Publisher, logger *log.Logger) *Inbox {
	inbox := &Inbox{
		db:         db,
		normalizer: normalizer,
		resolver:   resolver,
		follows:    follows,
		publisher:  publisher,
		logger:     logger.WithPrefix("inbox"),
	}
	inbox.router = NewRouter(inbox)
	return inbox
}

// Process handles one request body sent by signer. Activities seen before
// are skipped.
func (i *Inbox) Process(ctx context.Context, signer *domain.Actor, body []byte) (Route, error) {
	activity, err := i.normalizer.NormalizeBytes(body)
	if err != nil {
		return RouteUnhandled, err
	}
	if activity.Actor != signer.URI {
		return RouteUnhandled, authFailed("activity actor %s does not match signer %s", activity.Actor, signer.URI)
	}

	seen, err := i.db.HasActivity(ctx, activity.DedupID)
	if err != nil {
		return RouteUnhandled, err
	}
	if seen {
		i.logger.Debug("Skipping duplicate activity", "id", activity.ID)
		return Classify(activity), nil
	}

	ctx = WithSigner(ctx, signer)
	route, err := i.router.Dispatch(ctx, activity)
	if err != nil {
		return route, err
	}
	if route == RouteUnhandled {
		i.logger.Info("Unhandled activity", "type", activity.Type, "objectType", activity.ObjectType(), "actor", activity.Actor)
	} else {
		i.logger.Info("Processed activity", "route", route, "id", activity.ID, "actor", activity.Actor)
	}

	raw, _ := json.Marshal(activity.Raw)
	err = i.db.RecordActivity(ctx, &domain.Activity{
		Id:           activity.DedupID,
		ActivityURI:  activity.ID,
		ActivityType: activity.Type,
		ActorURI:     activity.Actor,
		ObjectURI:    activity.ObjectID(),
		RawJSON:      string(raw),
		CreatedAt:    time.Now(),
	})
	return route, ignoreExists(err)
}

func sender(ctx context.Context) (*domain.Actor, error) {
	actor := SignerFrom(ctx)
	if actor == nil {
		return nil, authFailed("no verified sender")
	}
	return actor, nil
}

func requireObject(a *Activity) (map[string]interface{}, string, error) {
	object := a.ObjectMap()
	if object == nil {
		return nil, "", invalid("%s requires an embedded object", a.Type)
	}
	id := str(object["id"])
	if id == "" {
		return nil, "", invalid("%s object has no id", a.Type)
	}
	return object, id, nil
}

// CreateStatus stores a Note or a Question.
func (i *Inbox) CreateStatus(ctx context.Context, a *Activity) error {
	actor, err := sender(ctx)
	if err != nil {
		return err
	}
	object, _, err := requireObject(a)
	if err != nil {
		return err
	}
	if author := str(object["attributedTo"]); author != "" && author != actor.URI {
		return invalid("object attributed to %s, not %s", author, actor.URI)
	}

	_, err = i.storeStatus(ctx, actor, object, a.To, a.CC)
	return err
}

// ImportStatus stores a fetched remote object, resolving its author.
func (i *Inbox) ImportStatus(ctx context.Context, doc map[string]interface{}) (*domain.Status, error) {
	object, err := i.normalizer.Compact(doc)
	if err != nil {
		return nil, err
	}
	switch str(object["type"]) {
	case "Note", "Question":
	default:
		return nil, invalid("cannot import object of type %q", str(object["type"]))
	}

	authorURI := str(object["attributedTo"])
	if authorURI == "" {
		return nil, invalid("object has no attributedTo")
	}
	author, err := i.resolver.ResolveActor(ctx, authorURI)
	if err != nil {
		return nil, err
	}
	if author == nil {
		return nil, invalid("unknown author %s", authorURI)
	}
	return i.storeStatus(ctx, author, object, nil, nil)
}

func (i *Inbox) storeStatus(ctx context.Context, author *domain.Actor, object map[string]interface{}, to, cc []string) (*domain.Status, error) {
	id := str(object["id"])
	existing, err := i.db.ReadStatusByURI(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	status := &domain.Status{
		Id:           uuid.New(),
		URI:          id,
		AccountId:    author.Id,
		Kind:         domain.KindNote,
		Text:         util.StripHTML(text(object["content"])),
		Summary:      text(object["summary"]),
		InReplyToURI: str(object["inReplyTo"]),
		To:           canonicalAudience(strs(object["to"])),
		CC:           canonicalAudience(strs(object["cc"])),
		CreatedAt:    time.Now(),
	}
	if len(status.To) == 0 && len(status.CC) == 0 {
		status.To = canonicalAudience(to)
		status.CC = canonicalAudience(cc)
	}
	if published := timestamp(object["published"]); published != nil {
		status.CreatedAt = *published
	}
	for _, att := range objs(object["attachment"]) {
		status.Attachments = append(status.Attachments, domain.Attachment{
			Id:        uuid.New(),
			StatusId:  status.Id,
			URL:       str(att["url"]),
			MediaType: text(att["mediaType"]),
			Name:      text(att["name"]),
		})
	}
	if str(object["type"]) == "Question" {
		status.Kind = domain.KindPoll
		status.Choices = pollChoices(object)
		status.EndAt = timestamp(object["endTime"])
	}

	if err := i.db.CreateStatus(ctx, status); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return i.db.ReadStatusByURI(ctx, id)
		}
		return nil, fmt.Errorf("failed to store status: %w", err)
	}

	i.notifyAddressees(ctx, author, status)
	return status, nil
}

func pollChoices(object map[string]interface{}) []domain.PollChoice {
	options := objs(object["oneOf"])
	if len(options) == 0 {
		options = objs(object["anyOf"])
	}
	choices := make([]domain.PollChoice, 0, len(options))
	for _, option := range options {
		choices = append(choices, domain.PollChoice{
			Name:  text(option["name"]),
			Votes: number(obj(option["replies"])["totalItems"]),
		})
	}
	return choices
}

// notifyAddressees notifies the local author replied to and local actors
// mentioned in the audience.
func (i *Inbox) notifyAddressees(ctx context.Context, author *domain.Actor, status *domain.Status) {
	notified := map[uuid.UUID]bool{author.Id: true}

	if status.InReplyToURI != "" {
		parent, err := i.db.ReadStatusByURI(ctx, status.InReplyToURI)
		if err == nil && parent != nil {
			parentAuthor, err := i.db.ReadActorById(ctx, parent.AccountId)
			if err == nil && parentAuthor != nil && parentAuthor.Local && !notified[parentAuthor.Id] {
				notified[parentAuthor.Id] = true
				i.notify(ctx, parentAuthor.Id, author, domain.NotifyReply, &status.Id)
			}
		}
	}

	for _, uri := range append(append([]string{}, status.To...), status.CC...) {
		if IsPublic(uri) || !i.resolver.IsLocal(uri) {
			continue
		}
		local, err := i.db.ReadActorByURI(ctx, uri)
		if err != nil || local == nil || notified[local.Id] {
			continue
		}
		notified[local.Id] = true
		i.notify(ctx, local.Id, author, domain.NotifyMention, &status.Id)
	}
}

// UpdateStatus applies an edit to a Note or new tallies to a Question.
func (i *Inbox) UpdateStatus(ctx context.Context, a *Activity) error {
	actor, err := sender(ctx)
	if err != nil {
		return err
	}
	object, id, err := requireObject(a)
	if err != nil {
		return err
	}

	status, err := i.db.ReadStatusByURI(ctx, id)
	if err != nil || status == nil {
		return err
	}
	if status.AccountId != actor.Id {
		i.logger.Warn("Ignoring update of foreign status", "status", id, "actor", actor.URI)
		return nil
	}

	editedAt := time.Now()
	if updated := timestamp(object["updated"]); updated != nil {
		editedAt = *updated
	}

	switch status.Kind {
	case domain.KindNote:
		newText := util.StripHTML(text(object["content"]))
		newSummary := text(object["summary"])
		if newText == status.Text && newSummary == status.Summary {
			return nil
		}
		status.Edits = append(status.Edits, domain.StatusEdit{
			Text:     status.Text,
			Summary:  status.Summary,
			EditedAt: editedAt,
		})
		status.Text = newText
		status.Summary = newSummary
		status.EditedAt = &editedAt
	case domain.KindPoll:
		status.Choices = mergeTallies(status.Choices, pollChoices(object))
		if end := timestamp(object["endTime"]); end != nil {
			status.EndAt = end
		}
	default:
		return nil
	}

	if err := i.db.UpdateStatus(ctx, status); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return nil
}

// mergeTallies keeps the stored choice order and takes counts by name.
func mergeTallies(stored []domain.PollChoice, incoming []domain.PollChoice) []domain.PollChoice {
	votes := make(map[string]int, len(incoming))
	for _, c := range incoming {
		votes[c.Name] = c.Votes
	}
	merged := make([]domain.PollChoice, len(stored))
	for idx, c := range stored {
		if v, ok := votes[c.Name]; ok {
			c.Votes = v
		}
		merged[idx] = c
	}
	return merged
}

// UpdateActor refreshes the sender's cached profile.
func (i *Inbox) UpdateActor(ctx context.Context, a *Activity) error {
	actor, err := sender(ctx)
	if err != nil {
		return err
	}
	object, id, err := requireObject(a)
	if err != nil {
		return err
	}
	if id != actor.URI {
		i.logger.Warn("Ignoring update of foreign actor", "object", id, "actor", actor.URI)
		return nil
	}
	_, err = i.resolver.StoreActorDocument(ctx, object)
	return err
}

// Announce stores a boost. An original we have not seen is fetched by a job.
func (i *Inbox) Announce(ctx context.Context, a *Activity) error {
	actor, err := sender(ctx)
	if err != nil {
		return err
	}
	originalURI := a.ObjectID()
	if originalURI == "" {
		return invalid("announce has no object")
	}

	existing, err := i.db.ReadStatusByURI(ctx, a.ID)
	if err != nil || existing != nil {
		return err
	}

	original, err := i.db.ReadStatusByURI(ctx, originalURI)
	if err != nil {
		return err
	}
	if original == nil {
		return publish(ctx, i.publisher, domain.JobFetchRemoteStatus, a.ID, domain.FetchStatusJob{
			URI:         originalURI,
			AnnouncerId: actor.Id,
			AnnounceURI: a.ID,
			To:          canonicalAudience(a.To),
			CC:          canonicalAudience(a.CC),
		})
	}
	return i.StoreAnnounce(ctx, actor, a.ID, original, canonicalAudience(a.To), canonicalAudience(a.CC))
}

// StoreAnnounce records announcer's boost of original.
func (i *Inbox) StoreAnnounce(ctx context.Context, announcer *domain.Actor, announceURI string, original *domain.Status, to, cc []string) error {
	announce := &domain.Status{
		Id:               uuid.New(),
		URI:              announceURI,
		AccountId:        announcer.Id,
		Kind:             domain.KindAnnounce,
		To:               to,
		CC:               cc,
		OriginalStatusId: &original.Id,
		CreatedAt:        time.Now(),
	}
	if err := i.db.CreateStatus(ctx, announce); err != nil {
		return ignoreExists(err)
	}

	author, err := i.db.ReadActorById(ctx, original.AccountId)
	if err == nil && author != nil && author.Local {
		i.notify(ctx, author.Id, announcer, domain.NotifyReblog, &original.Id)
	}
	return nil
}

func (i *Inbox) UndoAnnounce(ctx context.Context, a *Activity) error {
	actor, err := sender(ctx)
	if err != nil {
		return err
	}
	_, id, err := requireObject(a)
	if err != nil {
		return err
	}

	announce, err := i.db.ReadStatusByURI(ctx, id)
	if err != nil || announce == nil || announce.Kind != domain.KindAnnounce {
		return err
	}
	if announce.AccountId != actor.Id {
		i.logger.Warn("Ignoring undo of foreign announce", "announce", id, "actor", actor.URI)
		return nil
	}
	_, err = i.db.DeleteStatus(ctx, announce.Id)
	return err
}

func (i *Inbox) UndoFollow(ctx context.Context, a *Activity) error {
	actor, err := sender(ctx)
	if err != nil {
		return err
	}
	inner := a.ObjectMap()
	if inner == nil {
		return invalid("undo has no object")
	}

	followee, err := i.db.ReadActorByURI(ctx, str(inner["object"]))
	if err != nil || followee == nil {
		return err
	}
	_, err = i.follows.Undo(ctx, actor, followee)
	if errors.Is(err, ErrNoFollow) {
		return nil
	}
	return err
}

func (i *Inbox) UndoLike(ctx context.Context, a *Activity) error {
	actor, err := sender(ctx)
	if err != nil {
		return err
	}
	inner := a.ObjectMap()
	if inner == nil {
		return invalid("undo has no object")
	}

	var statusId uuid.UUID
	like, err := i.db.ReadLikeByURI(ctx, str(inner["id"]))
	if err != nil {
		return err
	}
	if like != nil {
		if like.AccountId != actor.Id {
			i.logger.Warn("Ignoring undo of foreign like", "like", like.URI, "actor", actor.URI)
			return nil
		}
		statusId = like.StatusId
	} else {
		status, err := i.db.ReadStatusByURI(ctx, str(inner["object"]))
		if err != nil || status == nil {
			return err
		}
		statusId = status.Id
	}
	_, err = i.db.DeleteLike(ctx, actor.Id, statusId)
	return err
}

// Delete removes a status or, when the object is the sender itself, every
// trace of the sender.
func (i *Inbox) Delete(ctx context.Context, a *Activity) error {
	actor, err := sender(ctx)
	if err != nil {
		return err
	}
	objectID := a.ObjectID()
	if objectID == "" {
		return invalid("delete has no object")
	}

	if objectID == actor.URI {
		if actor.Local {
			return nil
		}
		if err := i.db.DeleteActorData(ctx, actor.Id); err != nil {
			return fmt.Errorf("failed to delete actor data: %w", err)
		}
		i.logger.Info("Removed deleted remote actor", "actor", actor.URI)
		return nil
	}

	status, err := i.db.ReadStatusByURI(ctx, objectID)
	if err != nil || status == nil {
		return err
	}
	if status.AccountId != actor.Id {
		i.logger.Warn("Ignoring delete of foreign status", "status", objectID, "actor", actor.URI)
		return nil
	}
	_, err = i.db.DeleteStatus(ctx, status.Id)
	return err
}

// Follow records a follow of a local actor and accepts it unless the actor
// approves followers by hand.
func (i *Inbox) Follow(ctx context.Context, a *Activity) error {
	actor, err := sender(ctx)
	if err != nil {
		return err
	}
	targetURI := a.ObjectID()
	if targetURI == "" {
		return invalid("follow has no object")
	}

	followee, err := i.db.ReadActorByURI(ctx, targetURI)
	if err != nil {
		return err
	}
	if followee == nil || !followee.Local || followee.DeletionStatus != domain.DeletionNone {
		i.logger.Debug("Follow of unknown actor", "target", targetURI)
		return nil
	}

	follow, created, err := i.follows.Request(ctx, actor, followee, a.ID)
	if err != nil {
		return err
	}
	if !created {
		if follow != nil && follow.Status == domain.FollowAccepted {
			// the peer missed our Accept
			return publish(ctx, i.publisher, domain.JobSendAccept, follow.Id.String(), domain.FollowJob{FollowId: follow.Id})
		}
		return nil
	}
	if !followee.ManuallyApprovesFollowers {
		_, err = i.follows.Accept(ctx, actor, followee)
		if errors.Is(err, ErrNoFollow) {
			return nil
		}
	}
	return err
}

func (i *Inbox) Accept(ctx context.Context, a *Activity) error {
	return i.respond(ctx, a, i.follows.Accept)
}

func (i *Inbox) Reject(ctx context.Context, a *Activity) error {
	return i.respond(ctx, a, i.follows.Reject)
}

// respond applies a remote followee's answer to one of our follows.
func (i *Inbox) respond(ctx context.Context, a *Activity, apply func(context.Context, *domain.Actor, *domain.Actor) (*domain.Follow, error)) error {
	actor, err := sender(ctx)
	if err != nil {
		return err
	}
	followURI := a.ObjectID()
	if followURI == "" {
		return invalid("%s has no object", a.Type)
	}

	follow, err := i.db.ReadFollowByURI(ctx, followURI)
	if err != nil {
		return err
	}
	if follow == nil {
		// some servers answer with a follow id of their own
		inner := a.ObjectMap()
		if inner == nil {
			return nil
		}
		follower, err := i.db.ReadActorByURI(ctx, str(inner["actor"]))
		if err != nil || follower == nil {
			return err
		}
		follow, err = i.db.ReadActiveFollow(ctx, follower.Id, actor.Id)
		if err != nil || follow == nil {
			return err
		}
	}
	if follow.TargetAccountId != actor.Id {
		i.logger.Warn("Ignoring answer to a follow of someone else", "follow", followURI, "actor", actor.URI)
		return nil
	}

	follower, err := i.db.ReadActorById(ctx, follow.AccountId)
	if err != nil || follower == nil {
		return err
	}
	_, err = apply(ctx, follower, actor)
	if errors.Is(err, ErrNoFollow) {
		return nil
	}
	return err
}

func (i *Inbox) Like(ctx context.Context, a *Activity) error {
	actor, err := sender(ctx)
	if err != nil {
		return err
	}
	objectURI := a.ObjectID()
	if objectURI == "" {
		return invalid("like has no object")
	}

	status, err := i.db.ReadStatusByURI(ctx, objectURI)
	if err != nil || status == nil {
		return err
	}

	err = i.db.CreateLike(ctx, &domain.Like{
		Id:        uuid.New(),
		AccountId: actor.Id,
		StatusId:  status.Id,
		URI:       a.ID,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return ignoreExists(err)
	}

	author, err := i.db.ReadActorById(ctx, status.AccountId)
	if err == nil && author != nil && author.Local {
		i.notify(ctx, author.Id, actor, domain.NotifyLike, &status.Id)
	}
	return nil
}

func (i *Inbox) notify(ctx context.Context, recipientId uuid.UUID, source *domain.Actor, kind domain.NotificationType, statusId *uuid.UUID) {
	groupKey := fmt.Sprintf("%s:%s", kind, recipientId)
	if statusId != nil {
		groupKey = fmt.Sprintf("%s:%s", kind, statusId)
	}
	util.BestEffort(i.logger, string(kind)+" notification", func() error {
		return i.db.CreateNotification(ctx, &domain.Notification{
			Id:              uuid.New(),
			AccountId:       recipientId,
			Type:            kind,
			SourceAccountId: source.Id,
			StatusId:        statusId,
			GroupKey:        groupKey,
			CreatedAt:       time.Now(),
		})
	})
}
