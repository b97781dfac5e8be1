package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/erp/fulfillment/internal/application/webhook"
	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// WebhookIngester turns a raw webhook body into per-identifier results
type WebhookIngester interface {
	Ingest(ctx context.Context, source fulfillment.EventSource, contentType string, body []byte) []webhook.ProcessingResult
}

// WebhookHandler receives CRM and carrier webhooks. These endpoints are
// called by the upstream systems and do not require authentication.
//
// Every readable delivery is acknowledged with 200 and the per-identifier
// results; senders retry on non-2xx and a retry only produces duplicates.
type WebhookHandler struct {
	BaseHandler
	pipeline WebhookIngester
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(pipeline WebhookIngester) *WebhookHandler {
	return &WebhookHandler{pipeline: pipeline}
}

// HandleCrmWebhook handles POST /webhooks/crm (JSON or form-encoded)
func (h *WebhookHandler) HandleCrmWebhook(c *gin.Context) {
	h.ingest(c, fulfillment.SourceCRM)
}

// HandleCarrierWebhook handles POST /webhooks/carrier (JSON)
func (h *WebhookHandler) HandleCarrierWebhook(c *gin.Context) {
	h.ingest(c, fulfillment.SourceCarrier)
}

func (h *WebhookHandler) ingest(c *gin.Context, source fulfillment.EventSource) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Error(c, http.StatusRequestEntityTooLarge, dto.ErrCodeRequestTooLarge, "Request body exceeds maximum allowed size")
			return
		}
		h.BadRequest(c, "Failed to read request body")
		return
	}

	results := h.pipeline.Ingest(c.Request.Context(), source, c.ContentType(), body)
	h.Success(c, dto.NewWebhookResponse(results))
}
