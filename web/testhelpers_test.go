package web

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/fedi/activitypub"
	"github.com/deemkeen/fedi/domain"
	"github.com/deemkeen/fedi/memstore"
	"github.com/deemkeen/fedi/metrics"
	"github.com/deemkeen/fedi/util"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	testDomain = "local.example"
	pushToken  = "push-token"
)

type fakeVerifier struct {
	actor *domain.Actor
	err   error
}

func (v *fakeVerifier) Verify(ctx context.Context, req *http.Request, body []byte) (*domain.Actor, error) {
	return v.actor, v.err
}

type fakeProcessor struct {
	mu     sync.Mutex
	route  activitypub.Route
	err    error
	bodies []string
}

func (p *fakeProcessor) Process(ctx context.Context, signer *domain.Actor, body []byte) (activitypub.Route, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bodies = append(p.bodies, string(body))
	return p.route, p.err
}

func (p *fakeProcessor) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bodies)
}

type fakeJobs struct {
	err error
	raw [][]byte
}

func (j *fakeJobs) Handle(ctx context.Context, raw []byte) error {
	j.raw = append(j.raw, raw)
	return j.err
}

type discardPublisher struct{}

func (discardPublisher) Publish(ctx context.Context, msg domain.JobMessage) error {
	return nil
}

// unreachable fails every outbound request.
type unreachable struct{}

func (unreachable) Do(req *http.Request) (*http.Response, error) {
	return nil, errors.New("network disabled in tests")
}

type testEnv struct {
	db      *memstore.Store
	metrics *metrics.Metrics
	router  *gin.Engine
	alice   *domain.Actor
}

func newTestConf(withAp bool) *util.AppConfig {
	conf := &util.AppConfig{}
	conf.Conf.SslDomain = testDomain
	conf.Conf.WithAp = withAp
	conf.Conf.PushToken = pushToken
	return conf
}

// newTestEnv serves a store holding the local actor alice.
func newTestEnv(t *testing.T, guard Verifier, inbox Processor, jobs JobHandler) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{db: memstore.New(), metrics: metrics.New()}
	env.alice = createLocal(t, env.db, "alice", nil)

	server := NewServer(env.db, guard, inbox, jobs, env.metrics, newTestConf(true), util.DiscardLogger())
	env.router = server.Router()
	return env
}

func createLocal(t *testing.T, db *memstore.Store, username string, key *rsa.PrivateKey) *domain.Actor {
	t.Helper()
	keys := &util.RsaKeyPair{}
	if key != nil {
		keys = pemKeys(key)
	}
	actor := activitypub.NewLocalActor(testDomain, username, keys)
	err := db.CreateLocalActor(context.Background(), actor, &domain.Account{
		Id:       uuid.New(),
		Username: username,
	})
	if err != nil {
		t.Fatalf("CreateLocalActor failed: %v", err)
	}
	return actor
}

func (env *testEnv) do(t *testing.T, method string, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	return env.serve(req)
}

func (env *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func (env *testEnv) scrape(t *testing.T) string {
	t.Helper()
	w := env.do(t, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected metrics status 200, got %d", w.Code)
	}
	return w.Body.String()
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var doc map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("Response should be valid JSON: %v (%s)", err, w.Body.String())
	}
	return doc
}

var (
	keyOnce sync.Once
	keys    []*rsa.PrivateKey
)

func testKey(t *testing.T, n int) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		for i := 0; i < 2; i++ {
			key, err := rsa.GenerateKey(rand.Reader, 2048)
			if err != nil {
				panic(err)
			}
			keys = append(keys, key)
		}
	})
	return keys[n]
}

func pemKeys(key *rsa.PrivateKey) *util.RsaKeyPair {
	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		panic(err)
	}
	return &util.RsaKeyPair{
		Private: string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})),
		Public:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub})),
	}
}

// signedPost builds an inbox POST signed by key on behalf of actorURI.
func signedPost(t *testing.T, target string, actorURI string, key *rsa.PrivateKey, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", activitypub.ContentType)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.Host)
	req.Header.Set("Digest", activitypub.Digest(body))

	if err := activitypub.SignRequest(req, key, actorURI+"#main-key"); err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	return req
}
