package activitypub

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/fedi/domain"
	"github.com/deemkeen/fedi/mail"
	"github.com/deemkeen/fedi/memstore"
	"github.com/deemkeen/fedi/util"
	"github.com/google/uuid"
)

const (
	localDomain = "local.example"
	remoteURI   = "https://remote.example/users/bob"
)

var (
	keyOnce  sync.Once
	keyPairs []*rsa.PrivateKey
)

// testKey returns one of a few cached keys; generating RSA keys per test is slow.
func testKey(t *testing.T, n int) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		for i := 0; i < 3; i++ {
			key, err := rsa.GenerateKey(rand.Reader, 2048)
			if err != nil {
				panic(err)
			}
			keyPairs = append(keyPairs, key)
		}
	})
	return keyPairs[n]
}

func privateKeyToPEM(key *rsa.PrivateKey) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
}

func publicKeyToPEM(key *rsa.PublicKey) string {
	keyBytes, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		panic(err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: keyBytes}))
}

type mockResponse struct {
	status int
	body   string
}

// mockHTTP answers requests from a fixed table keyed by URL without fragment.
type mockHTTP struct {
	mu        sync.Mutex
	responses map[string]mockResponse
	requests  []*http.Request
	bodies    [][]byte
}

func newMockHTTP() *mockHTTP {
	return &mockHTTP{responses: map[string]mockResponse{}}
}

func (m *mockHTTP) set(url string, status int, body interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := body.(string)
	if !ok {
		encoded, _ := json.Marshal(body)
		raw = string(encoded)
	}
	m.responses[url] = mockResponse{status: status, body: raw}
}

func (m *mockHTTP) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
	}
	m.requests = append(m.requests, req)
	m.bodies = append(m.bodies, body)

	key := strings.Split(req.URL.String(), "#")[0]
	resp, ok := m.responses[key]
	if !ok {
		resp = mockResponse{status: http.StatusNotFound, body: "{}"}
	}
	return &http.Response{
		StatusCode: resp.status,
		Body:       io.NopCloser(strings.NewReader(resp.body)),
		Header:     http.Header{"Content-Type": []string{ContentType}},
		Request:    req,
	}, nil
}

func (m *mockHTTP) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

type recordingPublisher struct {
	mu   sync.Mutex
	jobs []domain.JobMessage
}

func (p *recordingPublisher) Publish(ctx context.Context, msg domain.JobMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, msg)
	return nil
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var names []string
	for _, j := range p.jobs {
		names = append(names, j.Name)
	}
	return names
}

type recordingMailer struct {
	sent chan string
}

func (m *recordingMailer) SendMail(ctx context.Context, msg mail.Message) error {
	m.sent <- msg.To
	return nil
}

type fixture struct {
	db         *memstore.Store
	http       *mockHTTP
	publisher  *recordingPublisher
	mailer     *recordingMailer
	normalizer *Normalizer
	resolver   *Resolver
	follows    *Follows
	inbox      *Inbox
	outbox     *Outbox
	deletion   *Deletion
	local      *domain.Actor
	remote     *domain.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := util.DiscardLogger()

	f := &fixture{
		db:        memstore.New(),
		http:      newMockHTTP(),
		publisher: &recordingPublisher{},
		mailer:    &recordingMailer{sent: make(chan string, 4)},
	}

	normalizer, err := NewNormalizer()
	if err != nil {
		t.Fatalf("NewNormalizer failed: %v", err)
	}
	f.normalizer = normalizer
	client := NewClient(f.http, time.Second)
	f.resolver = NewResolver(f.db, client, normalizer, localDomain, 10*time.Minute, logger)
	f.follows = NewFollows(f.db, f.publisher, f.mailer, logger)
	f.inbox = NewInbox(f.db, normalizer, f.resolver, f.follows, f.publisher, logger)
	f.outbox = NewOutbox(f.db, f.resolver, f.follows, f.publisher, localDomain, logger)
	f.deletion = NewDeletion(f.db, f.publisher, logger)

	localKey := testKey(t, 0)
	f.local = NewLocalActor(localDomain, "alice", &util.RsaKeyPair{
		Private: privateKeyToPEM(localKey),
		Public:  publicKeyToPEM(&localKey.PublicKey),
	})
	err = f.db.CreateLocalActor(ctx, f.local, &domain.Account{
		Id:            uuid.New(),
		Username:      "alice",
		PublicKeyHash: "alice-hash",
		Email:         "alice@local.example",
	})
	if err != nil {
		t.Fatalf("CreateLocalActor failed: %v", err)
	}

	remoteKey := testKey(t, 1)
	f.remote, err = f.db.UpsertRemoteActor(ctx, &domain.Actor{
		URI:            remoteURI,
		Username:       "bob",
		Domain:         "remote.example",
		InboxURI:       remoteURI + "/inbox",
		SharedInboxURI: "https://remote.example/inbox",
		FollowersURI:   remoteURI + "/followers",
		PublicKeyPem:   publicKeyToPEM(&remoteKey.PublicKey),
		PrivateKeyPem:  privateKeyToPEM(remoteKey),
		LastFetchedAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("UpsertRemoteActor failed: %v", err)
	}
	// stored remote actors never keep a private key; tests sign with it
	f.remote.PrivateKeyPem = privateKeyToPEM(remoteKey)
	return f
}

func (f *fixture) actor(t *testing.T, id uuid.UUID) *domain.Actor {
	t.Helper()
	actor, err := f.db.ReadActorById(context.Background(), id)
	if err != nil || actor == nil {
		t.Fatalf("ReadActorById(%s) failed: %v", id, err)
	}
	return actor
}

// process runs body through the inbox as if signed by the remote actor.
func (f *fixture) process(t *testing.T, activity map[string]interface{}) (Route, error) {
	t.Helper()
	body, err := json.Marshal(activity)
	if err != nil {
		t.Fatalf("Failed to marshal activity: %v", err)
	}
	return f.inbox.Process(context.Background(), f.remote, body)
}

// signedRequest builds an inbox POST signed with signer's key.
func signedRequest(t *testing.T, signer *domain.Actor, url string, body []byte) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Digest", Digest(body))

	key, err := ParsePrivateKey(signer.PrivateKeyPem)
	if err != nil {
		t.Fatalf("ParsePrivateKey failed: %v", err)
	}
	if err := SignRequest(req, key, KeyId(signer)); err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	return req
}

func createNote(id string, to ...string) map[string]interface{} {
	if len(to) == 0 {
		to = []string{PublicCollection}
	}
	return map[string]interface{}{
		"@context": ActivityStreamsContext,
		"id":       id + "/activity",
		"type":     "Create",
		"actor":    remoteURI,
		"to":       to,
		"cc":       []string{remoteURI + "/followers"},
		"object": map[string]interface{}{
			"id":           id,
			"type":         "Note",
			"attributedTo": remoteURI,
			"content":      "<p>Hello world</p>",
			"published":    "2024-01-15T10:30:00Z",
			"to":           to,
			"cc":           []string{remoteURI + "/followers"},
		},
	}
}
