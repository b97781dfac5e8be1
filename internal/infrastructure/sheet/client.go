// Package sheet implements fulfillment.SheetGateway against the Google Sheets v4 API.
package sheet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/domain/shared"
	"github.com/erp/fulfillment/internal/infrastructure/config"
	"go.uber.org/zap"
)

const (
	defaultBaseURL  = "https://sheets.googleapis.com"
	maxResponseSize = 8 * 1024 * 1024
)

// ErrMissingSpreadsheet is returned when no spreadsheet id is configured
var ErrMissingSpreadsheet = errors.New("sheet: spreadsheet id is required")

// Client reads and writes single cells of one spreadsheet
type Client struct {
	baseURL       string
	spreadsheetID string
	trackerColumn int
	httpClient    *http.Client
	tokens        *tokenSource
	logger        *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
		cl.tokens.httpClient = c
	}
}

// WithClock replaces time.Now for token expiry checks and assertion timestamps
func WithClock(now func() time.Time) Option {
	return func(cl *Client) {
		cl.tokens.now = now
	}
}

// NewClient creates a Sheets client authenticated as a service account
func NewClient(cfg config.SheetConfig, creds *Credentials, logger *zap.Logger, opts ...Option) (*Client, error) {
	if cfg.SpreadsheetID == "" {
		return nil, ErrMissingSpreadsheet
	}
	if creds == nil {
		return nil, ErrMissingCredentials
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = creds.TokenURI
	}
	if tokenURL == "" {
		tokenURL = "https://oauth2.googleapis.com/token"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	trackerColumn := cfg.TrackerColumn
	if trackerColumn <= 0 {
		trackerColumn = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := &http.Client{Timeout: timeout}
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		spreadsheetID: cfg.SpreadsheetID,
		trackerColumn: trackerColumn,
		httpClient:    httpClient,
		tokens: &tokenSource{
			creds:      creds,
			tokenURL:   tokenURL,
			httpClient: httpClient,
			now:        time.Now,
		},
		logger: logger.Named("sheet"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type valueRange struct {
	Range          string     `json:"range,omitempty"`
	MajorDimension string     `json:"majorDimension,omitempty"`
	Values         [][]string `json:"values"`
}

// WriteCell writes value into the 1-based (row, col) cell of sheet
func (c *Client) WriteCell(ctx context.Context, sheet string, row, col int, value string) error {
	if row < 1 || col < 1 {
		return fmt.Errorf("%w: cell %d,%d", shared.ErrInvalidInput, row, col)
	}
	a1 := fmt.Sprintf("%s!%s%d", quoteSheet(sheet), ColumnName(col), row)
	payload, err := json.Marshal(valueRange{
		Range:          a1,
		MajorDimension: "ROWS",
		Values:         [][]string{{value}},
	})
	if err != nil {
		return fmt.Errorf("sheet: failed to marshal request: %w", err)
	}
	path := fmt.Sprintf("/v4/spreadsheets/%s/values/%s?valueInputOption=RAW",
		url.PathEscape(c.spreadsheetID), url.PathEscape(a1))
	_, err = c.do(ctx, http.MethodPut, path, payload)
	return err
}

// FindRowByTracker scans the tracker column for a matching tracking number
func (c *Client) FindRowByTracker(ctx context.Context, sheet, tracker string) (int, error) {
	want := fulfillment.NormalizeTracker(tracker)
	if want == "" {
		return 0, shared.ErrNotFound
	}
	col := ColumnName(c.trackerColumn)
	a1 := fmt.Sprintf("%s!%s:%s", quoteSheet(sheet), col, col)
	path := fmt.Sprintf("/v4/spreadsheets/%s/values/%s?majorDimension=ROWS",
		url.PathEscape(c.spreadsheetID), url.PathEscape(a1))

	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}
	var vr valueRange
	if err := json.Unmarshal(body, &vr); err != nil {
		return 0, fmt.Errorf("%w: %v", fulfillment.ErrGatewayInvalidResponse, err)
	}
	for i, row := range vr.Values {
		if len(row) > 0 && fulfillment.NormalizeTracker(row[0]) == want {
			return i + 1, nil
		}
	}
	return 0, shared.ErrNotFound
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("sheet: failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fulfillment.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("sheet: failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, shared.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: HTTP %d", fulfillment.ErrGatewayAuthFailed, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fulfillment.ErrGatewayRateLimited
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: HTTP %d", fulfillment.ErrGatewayUnavailable, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: HTTP %d", fulfillment.ErrGatewayRequestFailed, resp.StatusCode)
	}
}

// ColumnName converts a 1-based column index to A1 letters (1 -> A, 27 -> AA)
func ColumnName(col int) string {
	if col < 1 {
		return ""
	}
	var name []byte
	for col > 0 {
		col--
		name = append([]byte{byte('A' + col%26)}, name...)
		col /= 26
	}
	return string(name)
}

func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
