// Package twilio provides the telephony collaborator: a REST client for call
// control and SMS, a Media Streams transport for call audio, and TwiML
// rendering for the inbound webhook.
package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tjfontaine/callscreen/internal/domain"
)

// Client is a Twilio REST API client implementing domain.Telephony.
type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

var _ domain.Telephony = (*Client)(nil)

// Config configures the Twilio client.
type Config struct {
	AccountSID string
	AuthToken  string
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a Twilio REST client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.AccountSID == "" {
		return nil, fmt.Errorf("twilio account SID is required")
	}
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("twilio auth token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com/2010-04-01"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    cfg.BaseURL,
		httpClient: cfg.HTTPClient,
	}, nil
}

// TransferCall redirects an in-progress call to the target number by
// replacing its TwiML with a <Dial>.
func (c *Client) TransferCall(ctx context.Context, callID, target string) error {
	twiml, err := DialTwiML(target)
	if err != nil {
		return fmt.Errorf("failed to render dial twiml: %w", err)
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, callID)
	data := url.Values{}
	data.Set("Twiml", twiml)

	return c.post(ctx, endpoint, data)
}

// EndCall hangs up an in-progress call.
func (c *Client) EndCall(ctx context.Context, callID string) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, callID)
	data := url.Values{}
	data.Set("Status", "completed")

	return c.post(ctx, endpoint, data)
}

// SendSMS sends a text message.
func (c *Client) SendSMS(ctx context.Context, to, from, body string) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.baseURL, c.accountSID)
	data := url.Values{}
	data.Set("To", to)
	data.Set("From", from)
	data.Set("Body", body)

	return c.post(ctx, endpoint, data)
}

// apiError is the Twilio error envelope.
type apiError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("twilio error %d: %s", e.Code, e.Message)
}

func (c *Client) post(ctx context.Context, endpoint string, data url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network-level failures are worth a retry.
		return domain.ErrTransportTransient("twilio request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 400 {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)
	cause := error(&apiError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))})
	var decoded apiError
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.Message != "" {
		decoded.Status = resp.StatusCode
		cause = &decoded
	}

	// 5xx and throttling are transient; every other 4xx is a permanent
	// failure for this action.
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return domain.ErrTransportTransient(fmt.Sprintf("twilio returned %d", resp.StatusCode), cause)
	}
	return domain.ErrTransport(fmt.Sprintf("twilio rejected request with %d", resp.StatusCode), cause)
}
