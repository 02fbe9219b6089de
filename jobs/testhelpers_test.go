package jobs

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/fedi/activitypub"
	"github.com/deemkeen/fedi/domain"
	"github.com/deemkeen/fedi/mail"
	"github.com/deemkeen/fedi/memstore"
	"github.com/deemkeen/fedi/metrics"
	"github.com/deemkeen/fedi/util"
	"github.com/google/uuid"
)

const localDomain = "local.example"

// storeResolver resolves actors from storage only.
type storeResolver struct {
	db *memstore.Store
}

func (r storeResolver) ResolveActor(ctx context.Context, uri string) (*domain.Actor, error) {
	return r.db.ReadActorByURI(ctx, uri)
}

func (r storeResolver) IsLocal(uri string) bool {
	return strings.HasPrefix(uri, "https://"+localDomain+"/")
}

type posted struct {
	inbox    string
	signer   string
	activity map[string]interface{}
}

// fakePoster records deliveries; errs maps inbox to the error it answers with.
type fakePoster struct {
	mu    sync.Mutex
	posts []posted
	errs  map[string]error
	calls map[string]int
}

func newFakePoster() *fakePoster {
	return &fakePoster{errs: map[string]error{}, calls: map[string]int{}}
}

func (p *fakePoster) PostRaw(ctx context.Context, signer *domain.Actor, inboxURI string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[inboxURI]++
	if err := p.errs[inboxURI]; err != nil {
		return err
	}
	var activity map[string]interface{}
	json.Unmarshal(body, &activity)
	p.posts = append(p.posts, posted{inbox: inboxURI, signer: signer.URI, activity: activity})
	return nil
}

func (p *fakePoster) delivered() []posted {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]posted(nil), p.posts...)
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (m *fakeMailer) SendMail(ctx context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

type env struct {
	db       *memstore.Store
	poster   *fakePoster
	mailer   *fakeMailer
	follows  *activitypub.Follows
	handlers *Handlers
	local    *domain.Actor
	remote   *domain.Actor
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	logger := util.DiscardLogger()

	e := &env{db: memstore.New(), poster: newFakePoster(), mailer: &fakeMailer{}}
	e.follows = activitypub.NewFollows(e.db, nopPublisher{}, nil, logger)
	deliverer := NewDeliverer(e.poster, e.follows, NewClassifier(util.DefaultPermanentErrorCodes), 0, metrics.New(), logger)
	e.handlers = NewHandlers(e.db, storeResolver{db: e.db}, deliverer, nil, nil, e.mailer, logger)

	e.local = activitypub.NewLocalActor(localDomain, "alice", &util.RsaKeyPair{})
	err := e.db.CreateLocalActor(ctx, e.local, &domain.Account{
		Id: uuid.New(), Username: "alice", PublicKeyHash: "alice-hash", Email: "alice@local.example",
	})
	if err != nil {
		t.Fatalf("CreateLocalActor failed: %v", err)
	}
	e.remote = e.remoteActor(t, "bob", "https://remote.example/inbox")
	return e
}

func (e *env) remoteActor(t *testing.T, name string, sharedInbox string) *domain.Actor {
	t.Helper()
	uri := "https://remote.example/users/" + name
	actor, err := e.db.UpsertRemoteActor(context.Background(), &domain.Actor{
		URI:            uri,
		Username:       name,
		Domain:         "remote.example",
		InboxURI:       uri + "/inbox",
		SharedInboxURI: sharedInbox,
		FollowersURI:   uri + "/followers",
		LastFetchedAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("UpsertRemoteActor failed: %v", err)
	}
	return actor
}

// follow creates an accepted follow of followee by follower.
func (e *env) follow(t *testing.T, follower *domain.Actor, followee *domain.Actor) *domain.Follow {
	t.Helper()
	ctx := context.Background()
	follow, _, err := e.follows.Request(ctx, follower, followee, "https://remote.example/follows/"+uuid.NewString())
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if _, err := e.follows.Accept(ctx, follower, followee); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	follow.Status = domain.FollowAccepted
	return follow
}

func (e *env) status(t *testing.T, author *domain.Actor, to ...string) *domain.Status {
	t.Helper()
	id := uuid.New()
	if len(to) == 0 {
		to = []string{activitypub.PublicCollection}
	}
	status := &domain.Status{
		Id:        id,
		URI:       activitypub.StatusURI(localDomain, id),
		AccountId: author.Id,
		Kind:      domain.KindNote,
		Text:      "hello",
		To:        to,
		CC:        []string{author.FollowersURI},
		CreatedAt: time.Now(),
	}
	if !author.Local {
		status.URI = author.URI + "/notes/" + id.String()
	}
	if err := e.db.CreateStatus(context.Background(), status); err != nil {
		t.Fatalf("CreateStatus failed: %v", err)
	}
	return status
}

func payload(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal payload: %v", err)
	}
	return data
}

type nopPublisher struct{}

func (nopPublisher) Publish(ctx context.Context, msg domain.JobMessage) error { return nil }
