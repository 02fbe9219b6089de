package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/deemkeen/fedi/activitypub"
	"github.com/deemkeen/fedi/domain"
	"github.com/deemkeen/fedi/util"
	"github.com/google/uuid"
)

func TestSendNoteDeliversToFollowers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.follow(t, e.remote, e.local)
	status := e.status(t, e.local)

	if err := e.handlers.SendNote(ctx, payload(t, domain.StatusJob{AccountId: e.local.Id, StatusId: status.Id})); err != nil {
		t.Fatalf("SendNote failed: %v", err)
	}

	posts := e.poster.delivered()
	if len(posts) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(posts))
	}
	if posts[0].inbox != "https://remote.example/inbox" {
		t.Errorf("Expected shared inbox, got %s", posts[0].inbox)
	}
	if posts[0].signer != e.local.URI {
		t.Errorf("Expected delivery signed by %s, got %s", e.local.URI, posts[0].signer)
	}
	if posts[0].activity["type"] != "Create" {
		t.Errorf("Expected Create, got %v", posts[0].activity["type"])
	}
}

func TestSendNoteReachesRepliedToAuthor(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	parent := e.status(t, e.remote)
	reply := e.status(t, e.local, e.local.FollowersURI)
	reply.InReplyToURI = parent.URI
	if err := e.db.UpdateStatus(ctx, reply); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	e.handlers.SendNote(ctx, payload(t, domain.StatusJob{AccountId: e.local.Id, StatusId: reply.Id}))

	posts := e.poster.delivered()
	if len(posts) != 1 || posts[0].inbox != e.remote.DeliveryInbox() {
		t.Errorf("Expected delivery to the parent author, got %v", posts)
	}
}

func TestStatusJobsSkipVanishedState(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.follow(t, e.remote, e.local)
	foreign := e.status(t, e.remote)

	tests := []struct {
		name string
		job  domain.StatusJob
	}{
		{"missing status", domain.StatusJob{AccountId: e.local.Id, StatusId: uuid.New()}},
		{"missing author", domain.StatusJob{AccountId: uuid.New(), StatusId: foreign.Id}},
		{"remote author", domain.StatusJob{AccountId: e.remote.Id, StatusId: foreign.Id}},
		{"not the owner", domain.StatusJob{AccountId: e.local.Id, StatusId: foreign.Id}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := e.handlers.SendNote(ctx, payload(t, tt.job)); err != nil {
				t.Errorf("Expected nil for vanished state, got %v", err)
			}
		})
	}
	if posts := e.poster.delivered(); len(posts) != 0 {
		t.Errorf("Expected no deliveries, got %d", len(posts))
	}
}

func TestDeleteObjectRemovesStatusThenDelivers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.follow(t, e.remote, e.local)
	status := e.status(t, e.local)

	if err := e.handlers.DeleteObject(ctx, payload(t, domain.StatusJob{AccountId: e.local.Id, StatusId: status.Id})); err != nil {
		t.Fatalf("DeleteObject failed: %v", err)
	}

	if stored, _ := e.db.ReadStatusById(ctx, status.Id); stored != nil {
		t.Error("Expected the status to be deleted")
	}
	posts := e.poster.delivered()
	if len(posts) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(posts))
	}
	object, _ := posts[0].activity["object"].(map[string]interface{})
	if posts[0].activity["type"] != "Delete" || object["type"] != "Tombstone" || object["id"] != status.URI {
		t.Errorf("Expected Delete of a Tombstone for %s, got %v", status.URI, posts[0].activity)
	}

	// a redelivered job finds nothing to do
	if err := e.handlers.DeleteObject(ctx, payload(t, domain.StatusJob{AccountId: e.local.Id, StatusId: status.Id})); err != nil {
		t.Errorf("Expected redelivery to be a no-op, got %v", err)
	}
	if len(e.poster.delivered()) != 1 {
		t.Error("Expected no second delivery")
	}
}

func (e *env) announce(t *testing.T, booster *domain.Actor, original *domain.Status) *domain.Status {
	t.Helper()
	id := uuid.New()
	announce := &domain.Status{
		Id:               id,
		URI:              activitypub.ActivityURI(localDomain, id),
		AccountId:        booster.Id,
		Kind:             domain.KindAnnounce,
		To:               []string{activitypub.PublicCollection},
		CC:               []string{e.remote.URI, booster.FollowersURI},
		OriginalStatusId: &original.Id,
		CreatedAt:        time.Now(),
	}
	if err := e.db.CreateStatus(context.Background(), announce); err != nil {
		t.Fatalf("CreateStatus failed: %v", err)
	}
	return announce
}

func TestSendAnnounceAndUndo(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	original := e.status(t, e.remote)
	announce := e.announce(t, e.local, original)
	job := payload(t, domain.StatusJob{AccountId: e.local.Id, StatusId: announce.Id})

	if err := e.handlers.SendAnnounce(ctx, job); err != nil {
		t.Fatalf("SendAnnounce failed: %v", err)
	}
	if err := e.handlers.SendUndoAnnounce(ctx, job); err != nil {
		t.Fatalf("SendUndoAnnounce failed: %v", err)
	}

	posts := e.poster.delivered()
	if len(posts) != 2 {
		t.Fatalf("Expected 2 deliveries, got %d", len(posts))
	}
	if posts[0].activity["type"] != "Announce" || posts[0].activity["object"] != original.URI {
		t.Errorf("Expected Announce of %s, got %v", original.URI, posts[0].activity)
	}
	if posts[1].activity["type"] != "Undo" {
		t.Errorf("Expected Undo, got %v", posts[1].activity["type"])
	}
	if stored, _ := e.db.ReadStatusById(ctx, announce.Id); stored != nil {
		t.Error("Expected the announce to be deleted")
	}
}

func TestSendAnnounceRejectsNonAnnounce(t *testing.T) {
	e := newEnv(t)
	status := e.status(t, e.local)

	err := e.handlers.SendAnnounce(context.Background(), payload(t, domain.StatusJob{AccountId: e.local.Id, StatusId: status.Id}))
	if !errors.Is(err, ErrUnrecoverable) {
		t.Errorf("Expected ErrUnrecoverable, got %v", err)
	}
}

func TestFollowJobsRespectState(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// inbound follow, accepted: send-accept delivers, send-follow does not
	inbound := e.follow(t, e.remote, e.local)
	job := payload(t, domain.FollowJob{FollowId: inbound.Id})
	e.handlers.SendFollow(ctx, job)
	e.handlers.SendReject(ctx, job)
	if err := e.handlers.SendAccept(ctx, job); err != nil {
		t.Fatalf("SendAccept failed: %v", err)
	}
	posts := e.poster.delivered()
	if len(posts) != 1 || posts[0].activity["type"] != "Accept" {
		t.Fatalf("Expected exactly one Accept, got %v", posts)
	}
	if posts[0].inbox != e.remote.DeliveryInbox() {
		t.Errorf("Expected delivery to %s, got %s", e.remote.DeliveryInbox(), posts[0].inbox)
	}

	// outbound follow, still requested
	carol := e.remoteActor(t, "carol", "")
	outbound, _, err := e.follows.Request(ctx, e.local, carol, "https://local.example/activities/f1")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	job = payload(t, domain.FollowJob{FollowId: outbound.Id})
	e.handlers.SendUndoFollow(ctx, job)
	if err := e.handlers.SendFollow(ctx, job); err != nil {
		t.Fatalf("SendFollow failed: %v", err)
	}
	posts = e.poster.delivered()
	if len(posts) != 2 || posts[1].activity["type"] != "Follow" || posts[1].inbox != carol.InboxURI {
		t.Fatalf("Expected a Follow to carol's inbox, got %v", posts)
	}

	if _, err := e.follows.Undo(ctx, e.local, carol); err != nil {
		t.Fatalf("Undo failed: %v", err)
	}
	e.handlers.SendFollow(ctx, job)
	if err := e.handlers.SendUndoFollow(ctx, job); err != nil {
		t.Fatalf("SendUndoFollow failed: %v", err)
	}
	posts = e.poster.delivered()
	if len(posts) != 3 || posts[2].activity["type"] != "Undo" {
		t.Errorf("Expected an Undo after unfollowing, got %v", posts)
	}
}

func TestFollowJobForMissingFollow(t *testing.T) {
	e := newEnv(t)
	if err := e.handlers.SendAccept(context.Background(), payload(t, domain.FollowJob{FollowId: uuid.New()})); err != nil {
		t.Errorf("Expected nil for a missing follow, got %v", err)
	}
}

func TestSendLikeAndUndoLike(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	status := e.status(t, e.remote)
	like := &domain.Like{
		Id:        uuid.New(),
		AccountId: e.local.Id,
		StatusId:  status.Id,
		URI:       "https://local.example/activities/like1",
		CreatedAt: time.Now(),
	}
	if err := e.db.CreateLike(ctx, like); err != nil {
		t.Fatalf("CreateLike failed: %v", err)
	}
	job := payload(t, domain.LikeJob{LikeId: like.Id})

	if err := e.handlers.SendLike(ctx, job); err != nil {
		t.Fatalf("SendLike failed: %v", err)
	}
	if err := e.handlers.SendUndoLike(ctx, job); err != nil {
		t.Fatalf("SendUndoLike failed: %v", err)
	}

	posts := e.poster.delivered()
	if len(posts) != 2 {
		t.Fatalf("Expected 2 deliveries, got %d", len(posts))
	}
	if posts[0].activity["type"] != "Like" || posts[0].activity["object"] != status.URI {
		t.Errorf("Expected Like of %s, got %v", status.URI, posts[0].activity)
	}
	if posts[1].activity["type"] != "Undo" {
		t.Errorf("Expected Undo, got %v", posts[1].activity["type"])
	}
	if stored, _ := e.db.ReadLike(ctx, e.local.Id, status.Id); stored != nil {
		t.Error("Expected the like to be deleted")
	}
}

func TestLikeOfLocalStatusIsNotDelivered(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	status := e.status(t, e.local)
	like := &domain.Like{Id: uuid.New(), AccountId: e.local.Id, StatusId: status.Id, URI: "https://local.example/activities/like2"}
	e.db.CreateLike(ctx, like)
	job := payload(t, domain.LikeJob{LikeId: like.Id})

	e.handlers.SendLike(ctx, job)
	if err := e.handlers.SendUndoLike(ctx, job); err != nil {
		t.Fatalf("SendUndoLike failed: %v", err)
	}
	if posts := e.poster.delivered(); len(posts) != 0 {
		t.Errorf("Expected no deliveries for a local like, got %d", len(posts))
	}
	if stored, _ := e.db.ReadLike(ctx, e.local.Id, status.Id); stored != nil {
		t.Error("Expected the local like to be deleted")
	}
}

func (e *env) scheduleDeletion(t *testing.T, at time.Time) {
	t.Helper()
	changed, err := e.db.UpdateDeletionStatus(context.Background(), e.local.Id,
		[]domain.DeletionStatus{domain.DeletionNone}, domain.DeletionScheduled, &at)
	if err != nil || !changed {
		t.Fatalf("Failed to schedule deletion: changed=%v err=%v", changed, err)
	}
}

func TestDeleteActor(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.follow(t, e.remote, e.local)
	e.status(t, e.local)
	e.scheduleDeletion(t, time.Now().Add(-time.Minute))

	if err := e.handlers.DeleteActor(ctx, payload(t, domain.ActorJob{AccountId: e.local.Id})); err != nil {
		t.Fatalf("DeleteActor failed: %v", err)
	}

	if actor, _ := e.db.ReadActorById(ctx, e.local.Id); actor != nil {
		t.Error("Expected the actor to be deleted")
	}
	if acc, _ := e.db.ReadAccountByActorId(ctx, e.local.Id); acc != nil {
		t.Error("Expected the account to be deleted")
	}
	posts := e.poster.delivered()
	if len(posts) != 1 || posts[0].activity["type"] != "Delete" || posts[0].activity["object"] != e.local.URI {
		t.Fatalf("Expected a Delete of the actor to the follower, got %v", posts)
	}
	if len(e.mailer.sent) != 1 || e.mailer.sent[0].To != "alice@local.example" {
		t.Errorf("Expected a deletion mail to alice, got %v", e.mailer.sent)
	}
}

func TestDeleteActorNotDue(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.scheduleDeletion(t, time.Now().Add(time.Hour))

	if err := e.handlers.DeleteActor(ctx, payload(t, domain.ActorJob{AccountId: e.local.Id})); err != nil {
		t.Fatalf("DeleteActor failed: %v", err)
	}
	actor, _ := e.db.ReadActorById(ctx, e.local.Id)
	if actor == nil || actor.DeletionStatus != domain.DeletionScheduled {
		t.Error("Expected the actor to stay scheduled")
	}
}

func TestDeleteActorCancelled(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.scheduleDeletion(t, time.Now().Add(-time.Minute))
	deletion := activitypub.NewDeletion(e.db, nopPublisher{}, util.DiscardLogger())
	if err := deletion.Cancel(ctx, e.local.Id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	if err := e.handlers.DeleteActor(ctx, payload(t, domain.ActorJob{AccountId: e.local.Id})); err != nil {
		t.Fatalf("DeleteActor failed: %v", err)
	}
	if actor, _ := e.db.ReadActorById(ctx, e.local.Id); actor == nil {
		t.Error("Expected a cancelled deletion to keep the actor")
	}
	if len(e.poster.delivered()) != 0 {
		t.Error("Expected no deliveries after cancellation")
	}
}

func TestDeleteActorResumes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	at := time.Now().Add(-time.Minute)
	e.scheduleDeletion(t, at)
	e.db.UpdateDeletionStatus(ctx, e.local.Id, []domain.DeletionStatus{domain.DeletionScheduled}, domain.DeletionDeleting, &at)

	if err := e.handlers.DeleteActor(ctx, payload(t, domain.ActorJob{AccountId: e.local.Id})); err != nil {
		t.Fatalf("DeleteActor failed: %v", err)
	}
	if actor, _ := e.db.ReadActorById(ctx, e.local.Id); actor != nil {
		t.Error("Expected an interrupted deletion to be completed")
	}

	// the actor is gone, a redelivery does nothing
	if err := e.handlers.DeleteActor(ctx, payload(t, domain.ActorJob{AccountId: e.local.Id})); err != nil {
		t.Errorf("Expected redelivery to be a no-op, got %v", err)
	}
}

type fakeFetcher struct {
	docs map[string]map[string]interface{}
	errs map[string]error
}

func (f *fakeFetcher) Get(ctx context.Context, signer *domain.Actor, uri string) (map[string]interface{}, error) {
	if err := f.errs[uri]; err != nil {
		return nil, err
	}
	return f.docs[uri], nil
}

type fakeImporter struct {
	e         *env
	imported  []string
	announces []string
}

func (i *fakeImporter) ImportStatus(ctx context.Context, doc map[string]interface{}) (*domain.Status, error) {
	uri, _ := doc["id"].(string)
	if doc["type"] != "Note" {
		return nil, &activitypub.ValidationError{Reason: "unsupported object type"}
	}
	i.imported = append(i.imported, uri)
	status := &domain.Status{Id: uuid.New(), URI: uri, AccountId: i.e.remote.Id, Kind: domain.KindNote}
	return status, i.e.db.CreateStatus(ctx, status)
}

func (i *fakeImporter) StoreAnnounce(ctx context.Context, announcer *domain.Actor, announceURI string, original *domain.Status, to, cc []string) error {
	i.announces = append(i.announces, announceURI)
	return nil
}

func TestFetchRemoteStatus(t *testing.T) {
	noteURI := "https://remote.example/notes/1"
	tests := []struct {
		name         string
		doc          map[string]interface{}
		err          error
		wantErr      error
		wantImported int
		wantAnnounce int
	}{
		{"imports and announces", map[string]interface{}{"id": noteURI, "type": "Note"}, nil, nil, 1, 1},
		{"gone", nil, &activitypub.StatusError{URL: noteURI, Code: 410}, nil, 0, 0},
		{"id mismatch", map[string]interface{}{"id": "https://evil.example/notes/1", "type": "Note"}, nil, ErrUnrecoverable, 0, 0},
		{"invalid object", map[string]interface{}{"id": noteURI, "type": "Video"}, nil, ErrUnrecoverable, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			fetcher := &fakeFetcher{docs: map[string]map[string]interface{}{noteURI: tt.doc}, errs: map[string]error{noteURI: tt.err}}
			importer := &fakeImporter{e: e}
			e.handlers.fetcher = fetcher
			e.handlers.importer = importer

			err := e.handlers.FetchRemoteStatus(context.Background(), payload(t, domain.FetchStatusJob{
				URI:         noteURI,
				AnnouncerId: e.remote.Id,
				AnnounceURI: "https://remote.example/announces/1",
			}))
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr == nil && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
			if len(importer.imported) != tt.wantImported {
				t.Errorf("Expected %d imports, got %d", tt.wantImported, len(importer.imported))
			}
			if len(importer.announces) != tt.wantAnnounce {
				t.Errorf("Expected %d announces, got %d", tt.wantAnnounce, len(importer.announces))
			}
		})
	}
}

func TestFetchRemoteStatusSkipsKnownStatus(t *testing.T) {
	e := newEnv(t)
	known := e.status(t, e.remote)
	fetcher := &fakeFetcher{errs: map[string]error{known.URI: errors.New("must not fetch")}}
	importer := &fakeImporter{e: e}
	e.handlers.fetcher = fetcher
	e.handlers.importer = importer

	err := e.handlers.FetchRemoteStatus(context.Background(), payload(t, domain.FetchStatusJob{
		URI:         known.URI,
		AnnouncerId: e.remote.Id,
		AnnounceURI: "https://remote.example/announces/2",
	}))
	if err != nil {
		t.Fatalf("FetchRemoteStatus failed: %v", err)
	}
	if len(importer.announces) != 1 {
		t.Errorf("Expected the announce to be stored, got %d", len(importer.announces))
	}
}

func TestOutboxToDeliveryThroughQueue(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.follow(t, e.remote, e.local)

	queue := NewQueue(NewMemoryTransport(2, 3, util.DiscardLogger()), nil, util.DiscardLogger())
	e.handlers.Register(queue)
	go queue.Run(ctx)

	outbox := activitypub.NewOutbox(e.db, nil, e.follows, queue, localDomain, util.DiscardLogger())
	status, err := outbox.Post(ctx, e.local, activitypub.Draft{Text: "federated hello"})
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(e.poster.delivered()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	posts := e.poster.delivered()
	if len(posts) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(posts))
	}
	object, _ := posts[0].activity["object"].(map[string]interface{})
	if object["id"] != status.URI {
		t.Errorf("Expected Create of %s, got %v", status.URI, object["id"])
	}
}
