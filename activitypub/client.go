package activitypub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/deemkeen/fedi/domain"
	"github.com/deemkeen/fedi/util"
)

const ContentType = "application/activity+json"

const maxResponseBytes = 1 << 20

// HTTPClient is satisfied by *http.Client and by test doubles.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client performs signed federation requests.
type Client struct {
	HTTP    HTTPClient
	Timeout time.Duration
}

func NewClient(httpClient HTTPClient, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{HTTP: httpClient, Timeout: timeout}
}

// KeyId is the id of the actor's published public key.
func KeyId(actor *domain.Actor) string {
	return actor.URI + "#main-key"
}

// Post delivers an activity to an inbox, signed by signer.
func (c *Client) Post(ctx context.Context, signer *domain.Actor, inboxURI string, activity interface{}) error {
	body, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}
	return c.PostRaw(ctx, signer, inboxURI, body)
}

func (c *Client) PostRaw(ctx context.Context, signer *domain.Actor, inboxURI string, body []byte) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inboxURI, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("Digest", Digest(body))
	if err := c.sign(req, signer); err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{URL: inboxURI, Code: resp.StatusCode}
	}
	return nil
}

// Get fetches an ActivityPub document. When signer is non-nil the request
// is signed, which servers in authorized-fetch mode require.
func (c *Client) Get(ctx context.Context, signer *domain.Actor, uri string) (map[string]interface{}, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", ContentType+`, application/ld+json; profile="https://www.w3.org/ns/activitystreams"`)
	if signer != nil {
		req.Header.Set("Digest", Digest(nil))
		if err := c.sign(req, signer); err != nil {
			return nil, err
		}
	} else {
		req.Header.Set("User-Agent", util.UserAgent())
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: uri, Code: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON from %s: %w", uri, err)
	}
	return doc, nil
}

func (c *Client) sign(req *http.Request, signer *domain.Actor) error {
	req.Header.Set("Accept", ContentType)
	req.Header.Set("User-Agent", util.UserAgent())
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)

	privateKey, err := ParsePrivateKey(signer.PrivateKeyPem)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}
	if err := SignRequest(req, privateKey, KeyId(signer)); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}
	return nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.Timeout)
}
