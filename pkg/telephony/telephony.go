// Package telephony places outbound calls through the vendor's REST API.
// The vendor dials the callee first; when answered it fetches the configured
// applet, which opens the duplex audio stream back to this process.
package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config identifies the vendor account and the callback surface the vendor
// speaks to during the call.
type Config struct {
	// BaseURL is the account-scoped API root, e.g.
	// https://api.example-telco.com/v1/Accounts/<sid>.
	BaseURL string

	AccountSID string
	AuthToken  string

	// CallerID is the number presented to the callee.
	CallerID string

	// AppletURL is fetched by the vendor when the callee answers. The
	// applet opens the media stream back to /v1/stream.
	AppletURL string

	// StatusCallbackURL receives the terminal call status.
	StatusCallbackURL string

	// TimeLimit caps total call duration. Default: 300s.
	TimeLimit time.Duration

	// RingTimeout is how long the callee's phone rings. Default: 30s.
	RingTimeout time.Duration
}

// Client is a thin REST client. Calls authenticate with the account SID and
// token over basic auth.
type Client struct {
	cfg    Config
	hc     *http.Client
	logger *slog.Logger
}

func New(cfg Config, hc *http.Client, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("telephony: base url is required")
	}
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("telephony: account sid and auth token are required")
	}
	if cfg.CallerID == "" {
		return nil, fmt.Errorf("telephony: caller id is required")
	}
	if cfg.TimeLimit <= 0 {
		cfg.TimeLimit = 300 * time.Second
	}
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = 30 * time.Second
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, hc: hc, logger: logger}, nil
}

// connectResponse is the subset of the vendor's response we need.
type connectResponse struct {
	Call struct {
		Sid    string `json:"Sid"`
		Status string `json:"Status"`
	} `json:"Call"`
}

// Place dials to and returns the vendor-assigned call id. customField is
// serialized to JSON and echoed back verbatim on every vendor callback, so
// a session can be rebuilt if this process restarted mid-call.
func (c *Client) Place(ctx context.Context, to string, customField any) (string, error) {
	payload, err := json.Marshal(customField)
	if err != nil {
		return "", fmt.Errorf("telephony: encode custom field: %w", err)
	}

	form := url.Values{}
	form.Set("From", to)
	form.Set("CallerId", c.cfg.CallerID)
	form.Set("Url", c.cfg.AppletURL)
	form.Set("CallType", "trans")
	form.Set("TimeLimit", strconv.Itoa(int(c.cfg.TimeLimit.Seconds())))
	form.Set("TimeOut", strconv.Itoa(int(c.cfg.RingTimeout.Seconds())))
	form.Set("CustomField", string(payload))
	if c.cfg.StatusCallbackURL != "" {
		form.Set("StatusCallback", c.cfg.StatusCallbackURL)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/Calls/connect.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("telephony: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("telephony: connect: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("telephony: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("telephony: connect returned %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var cr connectResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return "", fmt.Errorf("telephony: decode response: %w", err)
	}
	if cr.Call.Sid == "" {
		return "", fmt.Errorf("telephony: response missing call sid")
	}

	c.logger.Info("call placed", "call_id", cr.Call.Sid, "to", to)
	return cr.Call.Sid, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
