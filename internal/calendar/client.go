// Package calendar is the read-only availability collaborator. It asks a
// free-busy endpoint whether the owner has an event in a window; the oracle
// caches the answer per call.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tjfontaine/callscreen/internal/domain"
)

// Client queries a free-busy HTTP endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ domain.CalendarClient = (*Client)(nil)

// Config configures the calendar client.
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// New creates a calendar client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("calendar base URL is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: cfg.HTTPClient,
	}, nil
}

type freeBusyResponse struct {
	Busy bool `json:"busy"`
}

// Busy reports whether the user has an event anywhere in [from, to).
func (c *Client) Busy(ctx context.Context, userID string, from, to time.Time) (bool, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/freebusy?"+q.Encode(), nil)
	if err != nil {
		return false, fmt.Errorf("failed to build free-busy request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("free-busy query failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("free-busy endpoint returned %d", resp.StatusCode)
	}

	var body freeBusyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("failed to decode free-busy response: %w", err)
	}
	return body.Busy, nil
}
