package dto

import (
	"time"

	"github.com/erp/fulfillment/internal/application/ordersync"
	"github.com/erp/fulfillment/internal/application/webhook"
	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/shopspring/decimal"
)

// LinkTrackerRequest attaches a tracking number to a lead's order
type LinkTrackerRequest struct {
	Tracker string `json:"tracker" binding:"required,min=8,max=32"`
}

// ReconcileTrackerRequest optionally carries a status code already observed
// by the operator; without it the carrier is asked.
type ReconcileTrackerRequest struct {
	Code string `json:"code" binding:"omitempty,max=64"`
}

// OrderResponse is the order summary returned by admin endpoints
type OrderResponse struct {
	LeadID           int64           `json:"lead_id"`
	Tracker          string          `json:"tracker,omitempty"`
	DeliveryStatus   string          `json:"delivery_status,omitempty"`
	DeliveryPhase    string          `json:"delivery_phase,omitempty"`
	StatusLabel      string          `json:"status_label,omitempty"`
	CrmSyncedStatus  string          `json:"crm_synced_status,omitempty"`
	TrackerAnnounced bool            `json:"tracker_announced"`
	ContactName      string          `json:"contact_name,omitempty"`
	ItemCount        int             `json:"item_count"`
	Total            decimal.Decimal `json:"total"`
	Version          int             `json:"version"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// NewOrderResponse converts an order; nil yields nil
func NewOrderResponse(o *fulfillment.Order) *OrderResponse {
	if o == nil {
		return nil
	}
	resp := &OrderResponse{
		LeadID:           o.LeadID,
		Tracker:          o.Tracker,
		DeliveryStatus:   o.DeliveryStatus,
		DeliveryPhase:    string(o.DeliveryPhase),
		CrmSyncedStatus:  o.CrmSyncedStatus,
		TrackerAnnounced: o.TrackerAnnounced,
		ContactName:      o.ContactName,
		ItemCount:        len(o.Items),
		Total:            o.Total(),
		Version:          o.Version,
		UpdatedAt:        o.UpdatedAt,
	}
	if o.DeliveryStatus != "" {
		resp.StatusLabel = fulfillment.HumanLabel(o.DeliveryStatus)
	}
	return resp
}

// OutcomeResponse describes a reconcile or link outcome
type OutcomeResponse struct {
	Kind    string         `json:"kind"`
	From    string         `json:"from,omitempty"`
	To      string         `json:"to,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Code    string         `json:"code,omitempty"`
	Summary string         `json:"summary"`
	Order   *OrderResponse `json:"order,omitempty"`
}

// NewOutcomeResponse converts an outcome
func NewOutcomeResponse(o fulfillment.Outcome) OutcomeResponse {
	return OutcomeResponse{
		Kind:    string(o.Kind),
		From:    string(o.From),
		To:      string(o.To),
		Reason:  string(o.Reason),
		Code:    o.Code,
		Summary: o.String(),
		Order:   NewOrderResponse(o.Order),
	}
}

// ReconcileResponse is returned by the manual reconcile endpoint
type ReconcileResponse struct {
	Outcome   OutcomeResponse `json:"outcome"`
	Announced bool            `json:"announced"`
}

// LeadSyncResponse is returned by the manual lead sync endpoint
type LeadSyncResponse struct {
	LeadID    int64            `json:"lead_id"`
	Created   bool             `json:"created"`
	Skipped   bool             `json:"skipped"`
	Reason    string           `json:"reason,omitempty"`
	ItemCount int              `json:"item_count"`
	Link      *OutcomeResponse `json:"link,omitempty"`
	Order     *OrderResponse   `json:"order,omitempty"`
}

// NewLeadSyncResponse converts a sync result
func NewLeadSyncResponse(r *ordersync.SyncResult) LeadSyncResponse {
	resp := LeadSyncResponse{
		LeadID:    r.LeadID,
		Created:   r.Created,
		Skipped:   r.Skipped,
		Reason:    r.Reason,
		ItemCount: r.ItemCount,
		Order:     NewOrderResponse(r.Order),
	}
	if r.LinkResult != nil {
		link := NewOutcomeResponse(*r.LinkResult)
		link.Order = nil
		resp.Link = &link
	}
	return resp
}

// WebhookResponse acknowledges a webhook delivery with per-identifier results
type WebhookResponse struct {
	Received int                          `json:"received"`
	Summary  map[webhook.ResultStatus]int `json:"summary"`
	Results  []webhook.ProcessingResult   `json:"results"`
}

// NewWebhookResponse builds the acknowledgement body
func NewWebhookResponse(results []webhook.ProcessingResult) WebhookResponse {
	return WebhookResponse{
		Received: len(results),
		Summary:  webhook.Summary(results),
		Results:  results,
	}
}
