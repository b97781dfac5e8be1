// Package carrier implements fulfillment.CarrierGateway against the CDEK v2 API.
package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/infrastructure/config"
	"go.uber.org/zap"
)

const (
	maxResponseSize = 2 * 1024 * 1024
	// tokens are refreshed this long before the carrier expires them
	tokenExpirySkew = time.Minute
	cdekTimeLayout  = "2006-01-02T15:04:05-0700"
)

// Errors for carrier configuration
var (
	ErrMissingCredentials = errors.New("carrier: client id and secret are required")
)

// Client is a CDEK API client using the OAuth client-credentials grant
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	minLen       int
	maxLen       int
	httpClient   *http.Client
	logger       *zap.Logger
	now          func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithClock replaces time.Now for token expiry checks
func WithClock(now func() time.Time) Option {
	return func(cl *Client) {
		cl.now = now
	}
}

// NewClient creates a carrier client from configuration
func NewClient(cfg config.CarrierConfig, logger *zap.Logger, opts ...Option) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrMissingCredentials
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	minLen, maxLen := cfg.TrackerMinLength, cfg.TrackerMaxLength
	if minLen <= 0 {
		minLen = fulfillment.DefaultTrackerMinLength
	}
	if maxLen < minLen {
		maxLen = fulfillment.DefaultTrackerMaxLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		minLen:       minLen,
		maxLen:       maxLen,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger.Named("carrier"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// IsValidTrackingNumber checks the tracker format against the configured bounds
func (c *Client) IsValidTrackingNumber(tracker string) bool {
	return fulfillment.IsValidTracker(tracker, c.minLen, c.maxLen)
}

// GetStatusCode returns the latest status code of a shipment. An unknown
// tracker yields fulfillment.StatusNotFound.
func (c *Client) GetStatusCode(ctx context.Context, tracker string) (string, error) {
	tracker = fulfillment.NormalizeTracker(tracker)
	if !c.IsValidTrackingNumber(tracker) {
		return "", fulfillment.ErrInvalidTracker
	}

	query := url.Values{"cdek_number": {tracker}}
	body, status, err := c.authorizedGet(ctx, "/v2/orders?"+query.Encode())
	if err != nil {
		return "", err
	}

	if status == http.StatusNotFound {
		return fulfillment.StatusNotFound, nil
	}
	if err := statusError(status); err != nil {
		// unknown numbers may also come back as a 400 carrying an entity-not-found error
		var failed orderResponse
		if json.Unmarshal(body, &failed) == nil && failed.notFound() {
			return fulfillment.StatusNotFound, nil
		}
		return "", err
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", fulfillment.ErrGatewayInvalidResponse, err)
	}
	if resp.notFound() || resp.Entity == nil {
		return fulfillment.StatusNotFound, nil
	}
	return latestStatus(resp.Entity.Statuses), nil
}

// latestStatus picks the most recent status; the carrier usually lists
// newest first but does not promise it. An empty history reads as not found.
func latestStatus(statuses []orderStatus) string {
	if len(statuses) == 0 {
		return fulfillment.StatusNotFound
	}
	best := 0
	var bestAt time.Time
	for i, st := range statuses {
		at, err := time.Parse(cdekTimeLayout, st.DateTime)
		if err != nil {
			continue
		}
		if bestAt.IsZero() || at.After(bestAt) {
			best, bestAt = i, at
		}
	}
	if code := strings.TrimSpace(statuses[best].Code); code != "" {
		return code
	}
	return fulfillment.StatusNotFound
}

func (c *Client) authorizedGet(ctx context.Context, path string) ([]byte, int, error) {
	body, status, err := c.get(ctx, path)
	if err != nil {
		return nil, 0, err
	}
	if status == http.StatusUnauthorized {
		// token revoked early; fetch a new one and try once more
		c.invalidateToken()
		body, status, err = c.get(ctx, path)
		if err != nil {
			return nil, 0, err
		}
	}
	return body, status, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, int, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("carrier: failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	return c.send(req)
}

func (c *Client) send(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", fulfillment.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, 0, fmt.Errorf("carrier: failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("carrier: failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, status, err := c.send(req)
	if err != nil {
		return "", err
	}
	if status == http.StatusUnauthorized || status == http.StatusBadRequest {
		return "", fmt.Errorf("%w: HTTP %d", fulfillment.ErrGatewayAuthFailed, status)
	}
	if err := statusError(status); err != nil {
		return "", err
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil || tok.AccessToken == "" {
		return "", fmt.Errorf("%w: token response", fulfillment.ErrGatewayInvalidResponse)
	}

	c.token = tok.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenExpirySkew)
	c.logger.Debug("Carrier access token refreshed", zap.Time("expires_at", c.tokenExpiry))
	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func statusError(code int) error {
	switch {
	case code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", fulfillment.ErrGatewayAuthFailed, code)
	case code == http.StatusTooManyRequests:
		return fulfillment.ErrGatewayRateLimited
	case code >= 500:
		return fmt.Errorf("%w: HTTP %d", fulfillment.ErrGatewayUnavailable, code)
	default:
		return fmt.Errorf("%w: HTTP %d", fulfillment.ErrGatewayRequestFailed, code)
	}
}
