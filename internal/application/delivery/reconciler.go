package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/domain/shared"
	"go.uber.org/zap"
)

// Gateway names used in logs and metrics
const (
	GatewayCRM     = "crm"
	GatewayCarrier = "carrier"
	GatewaySheet   = "sheet"
)

// Metrics receives reconciliation counters. telemetry.ReconcileMetrics
// satisfies it.
type Metrics interface {
	RecordOutcome(ctx context.Context, outcome fulfillment.Outcome)
	RecordUpstreamFailure(ctx context.Context, gateway string)
}

type nopMetrics struct{}

func (nopMetrics) RecordOutcome(context.Context, fulfillment.Outcome) {}
func (nopMetrics) RecordUpstreamFailure(context.Context, string)      {}

// Config holds the CRM and sheet coordinates the reconciler writes to.
type Config struct {
	// StatusFieldID is the CRM custom field receiving the raw status code
	StatusFieldID int64
	// TrackerFieldID is the CRM custom field receiving the announced tracker
	TrackerFieldID int64
	Stages         fulfillment.StageIDs
	SheetName      string
	// SheetStatusColumn is the 1-based column mirroring the status label
	SheetStatusColumn int
	// CallTimeout bounds every gateway call; zero leaves calls unbounded
	CallTimeout time.Duration
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithSheet enables the spreadsheet mirror
func WithSheet(sheet fulfillment.SheetGateway) Option {
	return func(r *Reconciler) {
		r.sheet = sheet
	}
}

// WithNotifier sets the notifier used for tracker announcements
func WithNotifier(n fulfillment.Notifier) Option {
	return func(r *Reconciler) {
		r.notifier = n
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m Metrics) Option {
	return func(r *Reconciler) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Reconciler compares observed carrier statuses with the order ledger and
// applies the resulting transitions to the store, the CRM and the sheet.
//
// Work on one order is serialized by lead id inside the process; across
// processes the store's version check rejects interleaved writes.
type Reconciler struct {
	orders   fulfillment.OrderStore
	crm      fulfillment.CrmGateway
	carrier  fulfillment.CarrierGateway
	sheet    fulfillment.SheetGateway
	notifier fulfillment.Notifier
	metrics  Metrics
	cfg      Config
	locks    *keyedLocks
	logger   *zap.Logger
}

// NewReconciler creates a Reconciler
func NewReconciler(
	orders fulfillment.OrderStore,
	crm fulfillment.CrmGateway,
	carrier fulfillment.CarrierGateway,
	cfg Config,
	opts ...Option,
) *Reconciler {
	r := &Reconciler{
		orders:  orders,
		crm:     crm,
		carrier: carrier,
		metrics: nopMetrics{},
		cfg:     cfg,
		locks:   newKeyedLocks(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("reconciler")
	return r
}

// ReconcileRequest identifies the shipment to reconcile. LeadID is used when
// the tracker is not linked yet. An empty ObservedCode makes the reconciler
// ask the carrier.
type ReconcileRequest struct {
	Tracker      string
	LeadID       int64
	ObservedCode string
}

// Reconcile brings one order in line with the carrier status.
//
// Skips are reported as outcomes. The error is non-nil only when the carrier
// could not be asked or the store failed; CRM and sheet failures are logged
// and left for ResyncCrm.
func (r *Reconciler) Reconcile(ctx context.Context, req ReconcileRequest) (fulfillment.Outcome, error) {
	outcome, err := r.reconcile(ctx, req)
	if err == nil {
		r.metrics.RecordOutcome(ctx, outcome)
	}
	return outcome, err
}

func (r *Reconciler) reconcile(ctx context.Context, req ReconcileRequest) (fulfillment.Outcome, error) {
	tracker := fulfillment.NormalizeTracker(req.Tracker)
	log := r.logger.With(zap.String("tracker", tracker))
	if req.LeadID > 0 {
		log = log.With(zap.Int64("lead_id", req.LeadID))
	}

	if !r.carrier.IsValidTrackingNumber(tracker) {
		log.Info("Skipping invalid tracking number", zap.String("raw_tracker", req.Tracker))
		return fulfillment.Skipped(fulfillment.SkipInvalidTracker), nil
	}

	leadID, reason, err := r.resolveLead(ctx, tracker, req.LeadID, log)
	if err != nil {
		return fulfillment.Outcome{}, err
	}
	if reason != "" {
		return fulfillment.Skipped(reason), nil
	}

	unlock := r.locks.Lock(leadKey(leadID))
	defer unlock()

	// Reload under the lock so a concurrent transition is observed.
	order, err := r.orders.FindByLeadID(ctx, leadID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return fulfillment.Skipped(fulfillment.SkipOrderNotFound), nil
		}
		return fulfillment.Outcome{}, fmt.Errorf("load order: %w", err)
	}
	if order.HasTracker() && order.Tracker != tracker {
		log.Warn("Order already carries a different tracker", zap.String("order_tracker", order.Tracker))
		return fulfillment.Skipped(fulfillment.SkipTrackerAlreadySet).WithOrder(order), nil
	}
	log = log.With(zap.Int64("lead_id", order.LeadID))

	code := strings.TrimSpace(req.ObservedCode)
	if code == "" {
		code, err = r.fetchStatus(ctx, tracker)
		if err != nil {
			log.Warn("Carrier status fetch failed", zap.Error(err))
			return fulfillment.Outcome{}, err
		}
	}
	log = log.With(zap.String("status_code", code))

	oldPhase := order.CurrentPhase()
	newPhase := fulfillment.Classify(code)

	if newPhase == oldPhase {
		if newPhase == fulfillment.PhaseUnknown && order.MarkUnresolved() {
			if err := r.orders.Save(ctx, order); err != nil {
				return fulfillment.Outcome{}, fmt.Errorf("save order: %w", err)
			}
			log.Info("Carrier does not resolve tracker, parking order")
		}
		return fulfillment.Unchanged(oldPhase).WithOrder(order).WithCode(code), nil
	}

	if oldPhase == fulfillment.PhaseDelivered ||
		(newPhase != fulfillment.PhaseUnknown && !fulfillment.IsForwardProgress(oldPhase, newPhase)) {
		log.Info("Dropping out-of-order status",
			zap.String("phase_from", string(oldPhase)),
			zap.String("phase_to", string(newPhase)),
		)
		return fulfillment.Skipped(fulfillment.SkipRegression).WithOrder(order).WithCode(code), nil
	}

	if !order.HasTracker() {
		if _, err := order.LinkTracker(tracker); err != nil {
			return fulfillment.Outcome{}, err
		}
	}
	order.ApplyDeliveryStatus(code)
	if err := r.orders.Save(ctx, order); err != nil {
		if errors.Is(err, shared.ErrAlreadyExists) {
			log.Warn("Tracker is linked to another order")
			return fulfillment.Skipped(fulfillment.SkipTrackerLinkedElsewhere), nil
		}
		log.Error("Failed to persist delivery status", zap.Error(err))
		return fulfillment.Outcome{}, fmt.Errorf("save order: %w", err)
	}

	log.Info("Delivery status applied",
		zap.String("phase_from", string(oldPhase)),
		zap.String("phase_to", string(newPhase)),
	)

	// The local status is committed; CRM and sheet lag behind on failure.
	_ = r.pushToCrm(ctx, order, log)
	r.mirrorToSheet(ctx, order, log)

	return fulfillment.Applied(oldPhase, newPhase).WithOrder(order).WithCode(code), nil
}

// resolveLead finds the lead owning tracker, falling back to knownLeadID
// for trackers that are not linked yet.
func (r *Reconciler) resolveLead(ctx context.Context, tracker string, knownLeadID int64, log *zap.Logger) (int64, fulfillment.SkipReason, error) {
	order, err := r.orders.FindByTracker(ctx, tracker)
	switch {
	case err == nil:
		if knownLeadID > 0 && order.LeadID != knownLeadID {
			log.Warn("Tracker belongs to a different lead than reported", zap.Int64("order_lead_id", order.LeadID))
		}
		return order.LeadID, "", nil
	case !errors.Is(err, shared.ErrNotFound):
		return 0, "", fmt.Errorf("find order by tracker: %w", err)
	}

	if knownLeadID <= 0 {
		log.Debug("No order for tracker")
		return 0, fulfillment.SkipOrderNotFound, nil
	}
	order, err = r.orders.FindByLeadID(ctx, knownLeadID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			log.Debug("No order for lead")
			return 0, fulfillment.SkipOrderNotFound, nil
		}
		return 0, "", fmt.Errorf("find order by lead: %w", err)
	}
	if order.HasTracker() && order.Tracker != tracker {
		log.Warn("Order already carries a different tracker", zap.String("order_tracker", order.Tracker))
		return 0, fulfillment.SkipTrackerAlreadySet, nil
	}
	return order.LeadID, "", nil
}

func (r *Reconciler) fetchStatus(ctx context.Context, tracker string) (string, error) {
	var code string
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		code, err = r.carrier.GetStatusCode(ctx, tracker)
		return err
	})
	if err != nil {
		r.metrics.RecordUpstreamFailure(ctx, GatewayCarrier)
		return "", fmt.Errorf("%w: carrier: %w", shared.ErrUpstreamFailure, err)
	}
	// a blank code must never overwrite a stored status
	if code = strings.TrimSpace(code); code == "" {
		return fulfillment.StatusNotFound, nil
	}
	return code, nil
}

// pushToCrm writes the stored status code and the matching pipeline stage to
// the CRM, then records the sync on the order.
func (r *Reconciler) pushToCrm(ctx context.Context, order *fulfillment.Order, log *zap.Logger) error {
	code := order.DeliveryStatus

	if r.cfg.StatusFieldID > 0 {
		err := r.call(ctx, func(ctx context.Context) error {
			return r.crm.UpdateLeadCustomField(ctx, order.LeadID, r.cfg.StatusFieldID, code)
		})
		if err != nil {
			r.metrics.RecordUpstreamFailure(ctx, GatewayCRM)
			log.Warn("Failed to write delivery status to CRM", zap.Error(err))
			return fmt.Errorf("%w: crm status field: %w", shared.ErrUpstreamFailure, err)
		}
	}

	if stage, ok := fulfillment.StageFor(order.CurrentPhase()); ok {
		stageID, configured := r.cfg.Stages.Lookup(stage)
		if !configured {
			log.Debug("No CRM stage configured", zap.String("stage", string(stage)))
		} else {
			err := r.call(ctx, func(ctx context.Context) error {
				return r.crm.UpdateLeadStage(ctx, order.LeadID, stageID)
			})
			if err != nil {
				r.metrics.RecordUpstreamFailure(ctx, GatewayCRM)
				log.Warn("Failed to move CRM stage", zap.String("stage", string(stage)), zap.Error(err))
				return fmt.Errorf("%w: crm stage: %w", shared.ErrUpstreamFailure, err)
			}
		}
	}

	order.MarkCrmSynced(code)
	if err := r.orders.Save(ctx, order); err != nil {
		log.Warn("Failed to record CRM sync", zap.Error(err))
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}

func (r *Reconciler) mirrorToSheet(ctx context.Context, order *fulfillment.Order, log *zap.Logger) {
	if r.sheet == nil || r.cfg.SheetStatusColumn <= 0 {
		return
	}
	var row int
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		row, err = r.sheet.FindRowByTracker(ctx, r.cfg.SheetName, order.Tracker)
		return err
	})
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			log.Debug("Tracker not present in sheet ledger")
			return
		}
		r.metrics.RecordUpstreamFailure(ctx, GatewaySheet)
		log.Warn("Failed to locate sheet row", zap.Error(err))
		return
	}

	label := fulfillment.HumanLabel(order.DeliveryStatus)
	err = r.call(ctx, func(ctx context.Context) error {
		return r.sheet.WriteCell(ctx, r.cfg.SheetName, row, r.cfg.SheetStatusColumn, label)
	})
	if err != nil {
		r.metrics.RecordUpstreamFailure(ctx, GatewaySheet)
		log.Warn("Failed to mirror status to sheet", zap.Int("row", row), zap.Error(err))
	}
}

// LinkTrackerToLead sets the order's tracker once. Repeating the same
// tracker is Unchanged; a different tracker is TrackerAlreadySet and a
// tracker owned by another order is TrackerLinkedElsewhere.
func (r *Reconciler) LinkTrackerToLead(ctx context.Context, leadID int64, tracker string) (fulfillment.Outcome, error) {
	if leadID <= 0 {
		return fulfillment.Outcome{}, fulfillment.ErrInvalidLeadID
	}
	normalized := fulfillment.NormalizeTracker(tracker)
	log := r.logger.With(zap.Int64("lead_id", leadID), zap.String("tracker", normalized))
	if !r.carrier.IsValidTrackingNumber(normalized) {
		log.Info("Refusing to link invalid tracking number", zap.String("raw_tracker", tracker))
		return fulfillment.Skipped(fulfillment.SkipInvalidTracker), nil
	}

	unlock := r.locks.Lock(leadKey(leadID))
	defer unlock()

	outcome, err := r.linkTracker(ctx, leadID, normalized, log)
	if err == nil {
		r.metrics.RecordOutcome(ctx, outcome)
	}
	return outcome, err
}

func (r *Reconciler) linkTracker(ctx context.Context, leadID int64, tracker string, log *zap.Logger) (fulfillment.Outcome, error) {
	order, err := r.orders.FindByLeadID(ctx, leadID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return fulfillment.Skipped(fulfillment.SkipOrderNotFound), nil
		}
		return fulfillment.Outcome{}, fmt.Errorf("load order: %w", err)
	}
	phase := order.CurrentPhase()

	if order.Tracker == tracker {
		return fulfillment.Unchanged(phase).WithOrder(order), nil
	}
	if order.HasTracker() {
		log.Warn("Cannot replace tracker that is already set", zap.String("order_tracker", order.Tracker))
		return fulfillment.Skipped(fulfillment.SkipTrackerAlreadySet).WithOrder(order), nil
	}

	owner, err := r.orders.FindByTracker(ctx, tracker)
	switch {
	case err == nil && owner.LeadID != leadID:
		log.Warn("Tracker already linked to another lead", zap.Int64("owner_lead_id", owner.LeadID))
		return fulfillment.Skipped(fulfillment.SkipTrackerLinkedElsewhere), nil
	case err != nil && !errors.Is(err, shared.ErrNotFound):
		return fulfillment.Outcome{}, fmt.Errorf("find order by tracker: %w", err)
	}

	if _, err := order.LinkTracker(tracker); err != nil {
		return fulfillment.Outcome{}, err
	}
	if err := r.orders.Save(ctx, order); err != nil {
		if errors.Is(err, shared.ErrAlreadyExists) {
			return fulfillment.Skipped(fulfillment.SkipTrackerLinkedElsewhere), nil
		}
		return fulfillment.Outcome{}, fmt.Errorf("save order: %w", err)
	}
	log.Info("Tracker linked")
	return fulfillment.Applied(phase, phase).WithOrder(order), nil
}

// AnnounceShipment performs the one-time tracker announcement: the tracker
// is written to the CRM tracker field and operators are notified. It
// reports whether the announcement happened on this call.
func (r *Reconciler) AnnounceShipment(ctx context.Context, leadID int64) (bool, error) {
	unlock := r.locks.Lock(leadKey(leadID))
	defer unlock()

	order, err := r.orders.FindByLeadID(ctx, leadID)
	if err != nil {
		return false, fmt.Errorf("load order: %w", err)
	}
	return r.announce(ctx, order)
}

func (r *Reconciler) announce(ctx context.Context, order *fulfillment.Order) (bool, error) {
	if !order.NeedsAnnouncement() {
		return false, nil
	}
	log := r.logger.With(zap.Int64("lead_id", order.LeadID), zap.String("tracker", order.Tracker))

	if r.cfg.TrackerFieldID > 0 {
		err := r.call(ctx, func(ctx context.Context) error {
			return r.crm.UpdateLeadCustomField(ctx, order.LeadID, r.cfg.TrackerFieldID, order.Tracker)
		})
		if err != nil {
			r.metrics.RecordUpstreamFailure(ctx, GatewayCRM)
			log.Warn("Failed to write tracker to CRM", zap.Error(err))
			return false, fmt.Errorf("%w: crm tracker field: %w", shared.ErrUpstreamFailure, err)
		}
	}

	if r.notifier != nil {
		message := fmt.Sprintf("Lead %d: parcel %s is on its way (%s)",
			order.LeadID, order.Tracker, fulfillment.HumanLabel(order.DeliveryStatus))
		if err := r.call(ctx, func(ctx context.Context) error { return r.notifier.Notify(ctx, message) }); err != nil {
			log.Warn("Shipment notification failed", zap.Error(err))
		}
	}

	order.MarkTrackerAnnounced()
	if err := r.orders.Save(ctx, order); err != nil {
		return false, fmt.Errorf("save order: %w", err)
	}
	log.Info("Shipment announced")
	return true, nil
}

// ResyncCrm replays CRM work a previous reconcile could not finish: the
// status field and stage when CrmSyncedStatus lags, and the tracker
// announcement for orders already past CREATED.
func (r *Reconciler) ResyncCrm(ctx context.Context, leadID int64) error {
	unlock := r.locks.Lock(leadKey(leadID))
	defer unlock()

	order, err := r.orders.FindByLeadID(ctx, leadID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}
	log := r.logger.With(zap.Int64("lead_id", order.LeadID), zap.String("tracker", order.Tracker))

	if order.CrmSyncPending() {
		log.Debug("Replaying CRM status write", zap.String("status_code", order.DeliveryStatus))
		if err := r.pushToCrm(ctx, order, log); err != nil {
			return err
		}
	}
	if fulfillment.IsForwardProgress(fulfillment.PhaseCreated, order.CurrentPhase()) {
		if _, err := r.announce(ctx, order); err != nil {
			return err
		}
	}
	return nil
}

// WithLeadLock runs fn while holding the lead's reconcile lock. fn must not
// call back into the Reconciler for the same lead.
func (r *Reconciler) WithLeadLock(leadID int64, fn func() error) error {
	unlock := r.locks.Lock(leadKey(leadID))
	defer unlock()
	return fn()
}

func (r *Reconciler) call(ctx context.Context, fn func(context.Context) error) error {
	if r.cfg.CallTimeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	return fn(ctx)
}
