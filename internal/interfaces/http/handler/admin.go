package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/erp/fulfillment/internal/application/delivery"
	"github.com/erp/fulfillment/internal/application/ordersync"
	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/infrastructure/scheduler"
	"github.com/erp/fulfillment/internal/interfaces/http/dto"
	"github.com/erp/fulfillment/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// TrackerService is the delivery capability used by the operator endpoints
type TrackerService interface {
	Reconcile(ctx context.Context, req delivery.ReconcileRequest) (fulfillment.Outcome, error)
	LinkTrackerToLead(ctx context.Context, leadID int64, tracker string) (fulfillment.Outcome, error)
	AnnounceShipment(ctx context.Context, leadID int64) (bool, error)
}

// LeadSyncer re-pulls a lead from the CRM
type LeadSyncer interface {
	SyncLead(ctx context.Context, leadID int64) (*ordersync.SyncResult, error)
}

// OrderReader loads one order
type OrderReader interface {
	FindByLeadID(ctx context.Context, leadID int64) (*fulfillment.Order, error)
}

// PassRunner triggers scheduler passes and exposes their history
type PassRunner interface {
	RunShipmentPass(ctx context.Context) (*scheduler.PassReport, error)
	RunUntrackedPass(ctx context.Context) (*scheduler.PassReport, error)
	History(limit int) []scheduler.PassReport
}

const defaultHistoryLimit = 20

// AdminHandler serves the operator endpoints under /admin
type AdminHandler struct {
	BaseHandler
	trackers TrackerService
	leads    LeadSyncer
	orders   OrderReader
	passes   PassRunner
}

// NewAdminHandler creates a new AdminHandler. passes may be nil when the
// scheduler is disabled.
func NewAdminHandler(trackers TrackerService, leads LeadSyncer, orders OrderReader, passes PassRunner) *AdminHandler {
	return &AdminHandler{
		trackers: trackers,
		leads:    leads,
		orders:   orders,
		passes:   passes,
	}
}

// GetOrder handles GET /admin/orders/:leadId
func (h *AdminHandler) GetOrder(c *gin.Context) {
	leadID, ok := leadIDParam(c)
	if !ok {
		h.ErrorWithCode(c, dto.ErrCodeInvalidInput, "lead id must be a positive integer")
		return
	}

	order, err := h.orders.FindByLeadID(c.Request.Context(), leadID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewOrderResponse(order))
}

// LinkTracker handles POST /admin/orders/:leadId/tracker
func (h *AdminHandler) LinkTracker(c *gin.Context) {
	leadID, ok := leadIDParam(c)
	if !ok {
		h.ErrorWithCode(c, dto.ErrCodeInvalidInput, "lead id must be a positive integer")
		return
	}

	var req dto.LinkTrackerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	outcome, err := h.trackers.LinkTrackerToLead(c.Request.Context(), leadID, req.Tracker)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewOutcomeResponse(outcome))
}

// ReconcileTracker handles POST /admin/trackers/:tracker/reconcile. The
// carrier is asked unless the body names an observed code.
func (h *AdminHandler) ReconcileTracker(c *gin.Context) {
	var req dto.ReconcileTrackerRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.HandleValidationError(c, err)
			return
		}
	}

	ctx := c.Request.Context()
	outcome, err := h.trackers.Reconcile(ctx, delivery.ReconcileRequest{
		Tracker:      c.Param("tracker"),
		ObservedCode: req.Code,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	resp := dto.ReconcileResponse{Outcome: dto.NewOutcomeResponse(outcome)}
	if outcome.EnteredTransit() && outcome.Order != nil {
		announced, err := h.trackers.AnnounceShipment(ctx, outcome.Order.LeadID)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		resp.Announced = announced
	}
	h.Success(c, resp)
}

// SyncLead handles POST /admin/leads/:leadId/sync
func (h *AdminHandler) SyncLead(c *gin.Context) {
	leadID, ok := leadIDParam(c)
	if !ok {
		h.ErrorWithCode(c, dto.ErrCodeInvalidInput, "lead id must be a positive integer")
		return
	}

	result, err := h.leads.SyncLead(c.Request.Context(), leadID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewLeadSyncResponse(result))
}

// SchedulerHistory handles GET /admin/scheduler/history?limit=N
func (h *AdminHandler) SchedulerHistory(c *gin.Context) {
	if h.passes == nil {
		h.ErrorWithCode(c, dto.ErrCodeInvalidState, "scheduler is disabled")
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.ErrorWithCode(c, dto.ErrCodeInvalidInput, "limit must be a positive integer")
			return
		}
		limit = n
	}
	h.Success(c, h.passes.History(limit))
}

// RunPass handles POST /admin/scheduler/passes/:kind
func (h *AdminHandler) RunPass(c *gin.Context) {
	if h.passes == nil {
		h.ErrorWithCode(c, dto.ErrCodeInvalidState, "scheduler is disabled")
		return
	}

	var run func(context.Context) (*scheduler.PassReport, error)
	switch scheduler.PassKind(c.Param("kind")) {
	case scheduler.PassShipments:
		run = h.passes.RunShipmentPass
	case scheduler.PassUntracked:
		run = h.passes.RunUntrackedPass
	default:
		h.ErrorWithCode(c, dto.ErrCodeInvalidInput, "pass kind must be shipments or untracked")
		return
	}

	report, err := run(c.Request.Context())
	if err != nil {
		if errors.Is(err, scheduler.ErrPassInProgress) {
			h.Error(c, http.StatusConflict, dto.ErrCodeSchedulerBusy, "a pass of this kind is already running")
			return
		}
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}
