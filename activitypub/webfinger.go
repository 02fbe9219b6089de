package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/deemkeen/fedi/util"
)

type webfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type"`
	Href string `json:"href"`
}

type webfingerResponse struct {
	Subject string          `json:"subject"`
	Links   []webfingerLink `json:"links"`
}

// SplitHandle parses "user@domain", with or without a leading "@".
func SplitHandle(handle string) (username string, host string, err error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	username, host, ok := strings.Cut(handle, "@")
	if !ok || username == "" || host == "" || strings.Contains(host, "@") {
		return "", "", fmt.Errorf("invalid handle %q", handle)
	}
	return username, host, nil
}

// LookupWebfinger resolves a handle to its actor URI.
func (c *Client) LookupWebfinger(ctx context.Context, handle string) (string, error) {
	username, host, err := SplitHandle(handle)
	if err != nil {
		return "", err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	endpoint := fmt.Sprintf("https://%s/.well-known/webfinger?resource=%s",
		host, url.QueryEscape("acct:"+username+"@"+host))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/jrd+json, application/json")
	req.Header.Set("User-Agent", util.UserAgent())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("webfinger request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{URL: endpoint, Code: resp.StatusCode}
	}

	var jrd webfingerResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&jrd); err != nil {
		return "", fmt.Errorf("failed to parse webfinger response: %w", err)
	}
	for _, link := range jrd.Links {
		if link.Rel == "self" && (link.Type == ContentType || strings.HasPrefix(link.Type, "application/ld+json")) && link.Href != "" {
			return link.Href, nil
		}
	}
	return "", fmt.Errorf("no actor link for %s", handle)
}
