// Package crm implements fulfillment.CrmGateway against the amoCRM v4 REST API.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/domain/shared"
	"github.com/erp/fulfillment/internal/infrastructure/config"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	maxResponseSize = 4 * 1024 * 1024
	phoneFieldCode  = "PHONE"
	priceFieldCode  = "PRICE"
)

// Errors for CRM configuration
var (
	ErrMissingBaseURL     = errors.New("crm: base URL is required")
	ErrMissingAccessToken = errors.New("crm: access token is required")
)

// Client is an amoCRM API client authenticated with a long-lived token
type Client struct {
	baseURL    string
	token      string
	pipelineID int64
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// NewClient creates a CRM client from configuration
func NewClient(cfg config.CRMConfig, logger *zap.Logger, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrMissingBaseURL
	}
	if cfg.AccessToken == "" {
		return nil, ErrMissingAccessToken
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.AccessToken,
		pipelineID: cfg.PipelineID,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("crm"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetLead fetches a lead with its linked contacts
func (c *Client) GetLead(ctx context.Context, id int64) (*fulfillment.Lead, error) {
	var resp leadResponse
	if err := c.get(ctx, fmt.Sprintf("/api/v4/leads/%d?with=contacts", id), &resp); err != nil {
		return nil, err
	}

	lead := &fulfillment.Lead{
		ID:           resp.ID,
		Name:         resp.Name,
		StatusID:     resp.StatusID,
		PipelineID:   resp.PipelineID,
		CustomFields: make(map[int64]string, len(resp.CustomFieldsValues)),
	}
	if price, err := decimal.NewFromString(resp.Price.String()); err == nil {
		lead.Price = price
	}
	for _, f := range resp.CustomFieldsValues {
		lead.CustomFields[f.FieldID] = f.first()
	}
	for i, contact := range resp.Embedded.Contacts {
		if contact.IsMain || i == 0 {
			lead.MainContactID = contact.ID
		}
		if contact.IsMain {
			break
		}
	}
	return lead, nil
}

// GetContact fetches a contact and its first phone number
func (c *Client) GetContact(ctx context.Context, id int64) (*fulfillment.Contact, error) {
	var resp contactResponse
	if err := c.get(ctx, fmt.Sprintf("/api/v4/contacts/%d", id), &resp); err != nil {
		return nil, err
	}
	contact := &fulfillment.Contact{ID: resp.ID, Name: resp.Name}
	for _, f := range resp.CustomFieldsValues {
		if f.FieldCode == phoneFieldCode {
			contact.Phone = f.first()
			break
		}
	}
	return contact, nil
}

// UpdateLeadCustomField writes a single custom field value
func (c *Client) UpdateLeadCustomField(ctx context.Context, leadID, fieldID int64, value string) error {
	if fieldID == 0 {
		return fmt.Errorf("%w: custom field id is not set", fulfillment.ErrGatewayNotConfigured)
	}
	patch := leadPatch{
		CustomFieldsValues: []fieldUpdate{{
			FieldID: fieldID,
			Values:  []fieldValue{{Value: value}},
		}},
	}
	return c.patchLead(ctx, leadID, patch)
}

// UpdateLeadStage moves the lead to a pipeline stage
func (c *Client) UpdateLeadStage(ctx context.Context, leadID, stageID int64) error {
	if stageID == 0 {
		return fmt.Errorf("%w: stage id is not set", fulfillment.ErrGatewayNotConfigured)
	}
	return c.patchLead(ctx, leadID, leadPatch{StatusID: stageID, PipelineID: c.pipelineID})
}

// GetProductsForLead resolves the catalog elements linked to a lead
func (c *Client) GetProductsForLead(ctx context.Context, leadID int64) ([]fulfillment.Product, error) {
	var links linksResponse
	path := fmt.Sprintf("/api/v4/leads/%d/links?filter[to_entity_type]=catalog_elements", leadID)
	if err := c.get(ctx, path, &links); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return []fulfillment.Product{}, nil
		}
		return nil, err
	}

	products := make([]fulfillment.Product, 0, len(links.Embedded.Links))
	for _, link := range links.Embedded.Links {
		if link.ToEntityType != "" && link.ToEntityType != "catalog_elements" {
			continue
		}
		var element catalogElementResponse
		elementPath := fmt.Sprintf("/api/v4/catalogs/%d/elements/%d", link.Metadata.CatalogID, link.ToEntityID)
		if err := c.get(ctx, elementPath, &element); err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				c.logger.Warn("Catalog element linked to lead is missing",
					zap.Int64("lead_id", leadID),
					zap.Int64("element_id", link.ToEntityID))
				continue
			}
			return nil, err
		}

		quantity := 1
		if q, err := decimal.NewFromString(link.Metadata.Quantity.String()); err == nil && q.IntPart() > 0 {
			quantity = int(q.IntPart())
		}
		product := fulfillment.Product{
			ID:        element.ID,
			CatalogID: link.Metadata.CatalogID,
			Name:      element.Name,
			Quantity:  quantity,
		}
		for _, f := range element.CustomFieldsValues {
			if f.FieldCode == priceFieldCode {
				if price, err := decimal.NewFromString(f.first()); err == nil {
					product.Price = price
				}
			}
		}
		products = append(products, product)
	}
	return products, nil
}

func (c *Client) patchLead(ctx context.Context, leadID int64, patch leadPatch) error {
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("crm: failed to marshal request: %w", err)
	}
	_, err = c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/v4/leads/%d", leadID), body)
	return err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", fulfillment.ErrGatewayInvalidResponse, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("crm: failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
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
		return nil, fmt.Errorf("crm: failed to read response: %w", err)
	}

	// amoCRM answers 204 for a GET of a missing entity
	if resp.StatusCode == http.StatusNoContent && method == http.MethodGet {
		return nil, shared.ErrNotFound
	}
	if err := statusError(resp.StatusCode); err != nil {
		c.logger.Debug("CRM request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return nil, err
	}
	return body, nil
}

func statusError(code int) error {
	switch {
	case code < 300:
		return nil
	case code == http.StatusNotFound:
		return shared.ErrNotFound
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
