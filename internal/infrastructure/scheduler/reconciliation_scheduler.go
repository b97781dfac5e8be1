package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/erp/fulfillment/internal/application/delivery"
	"github.com/erp/fulfillment/internal/application/ordersync"
	"github.com/erp/fulfillment/internal/domain/fulfillment"
)

// Reconciler is the delivery capability driven by the shipment pass
type Reconciler interface {
	Reconcile(ctx context.Context, req delivery.ReconcileRequest) (fulfillment.Outcome, error)
	AnnounceShipment(ctx context.Context, leadID int64) (bool, error)
	ResyncCrm(ctx context.Context, leadID int64) error
}

// LeadSyncer re-pulls a lead from the CRM
type LeadSyncer interface {
	SyncLead(ctx context.Context, leadID int64) (*ordersync.SyncResult, error)
}

// OrderLister is the read side of the order store the passes scan
type OrderLister interface {
	ListWithTrackerNonTerminal(ctx context.Context, afterLeadID int64, limit int) ([]*fulfillment.Order, error)
	ListWithoutTracker(ctx context.Context, afterLeadID int64, limit int) ([]*fulfillment.Order, error)
	ListCrmPending(ctx context.Context, afterLeadID int64, limit int) ([]*fulfillment.Order, error)
}

type listFunc func(ctx context.Context, afterLeadID int64, limit int) ([]*fulfillment.Order, error)

// Metrics receives pass timings. telemetry.ReconcileMetrics satisfies it.
type Metrics interface {
	RecordPass(ctx context.Context, pass string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordPass(context.Context, string, time.Duration) {}

// Config holds configuration for the reconciliation scheduler
type Config struct {
	// ShipmentPollInterval is how often trackers in flight are re-polled
	ShipmentPollInterval time.Duration
	// UntrackedSyncInterval is how often orders without a tracker are re-pulled
	UntrackedSyncInterval time.Duration
	// BatchSize is the page size used while a pass walks the order set
	BatchSize int
	// HistorySize is the number of pass reports kept in memory
	HistorySize int
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		ShipmentPollInterval:  15 * time.Minute,
		UntrackedSyncInterval: 30 * time.Minute,
		BatchSize:             200,
		HistorySize:           100,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ShipmentPollInterval <= 0 || c.UntrackedSyncInterval <= 0 {
		return ErrInvalidConfig
	}
	if c.BatchSize <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Option configures a ReconciliationScheduler
type Option func(*ReconciliationScheduler)

// WithMetrics sets the metrics recorder
func WithMetrics(m Metrics) Option {
	return func(s *ReconciliationScheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithPreflight registers a check run by Start; a failing check keeps the
// scheduler from starting.
func WithPreflight(check func() error) Option {
	return func(s *ReconciliationScheduler) {
		s.preflight = check
	}
}

// ReconciliationScheduler drives the shipment poll and the untracked sync
type ReconciliationScheduler struct {
	config     Config
	orders     OrderLister
	reconciler Reconciler
	leads      LeadSyncer
	metrics    Metrics
	preflight  func() error
	logger     *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	shipmentsBusy atomic.Bool
	untrackedBusy atomic.Bool

	history *passHistory
}

// NewReconciliationScheduler creates a new reconciliation scheduler
func NewReconciliationScheduler(
	config Config,
	orders OrderLister,
	reconciler Reconciler,
	leads LeadSyncer,
	logger *zap.Logger,
	opts ...Option,
) (*ReconciliationScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &ReconciliationScheduler{
		config:     config,
		orders:     orders,
		reconciler: reconciler,
		leads:      leads,
		metrics:    nopMetrics{},
		logger:     logger.Named("scheduler"),
		history:    newPassHistory(config.HistorySize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start runs the preflight check and starts both loops
func (s *ReconciliationScheduler) Start(ctx context.Context) error {
	if s.preflight != nil {
		if err := s.preflight(); err != nil {
			return fmt.Errorf("scheduler refused to start: %w", err)
		}
	}

	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)
	go s.runLoop(ctx, PassShipments, s.config.ShipmentPollInterval, s.RunShipmentPass)
	go s.runLoop(ctx, PassUntracked, s.config.UntrackedSyncInterval, s.RunUntrackedPass)

	s.logger.Info("Reconciliation scheduler started",
		zap.Duration("shipment_poll_interval", s.config.ShipmentPollInterval),
		zap.Duration("untracked_sync_interval", s.config.UntrackedSyncInterval),
		zap.Int("batch_size", s.config.BatchSize),
	)
	return nil
}

// Stop stops both loops, waiting for running passes to finish
func (s *ReconciliationScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Reconciliation scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Reconciliation scheduler stop timed out")
		return ctx.Err()
	}
}

// IsRunning reports whether the loops are active
func (s *ReconciliationScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// History returns recent pass reports, newest first
func (s *ReconciliationScheduler) History(limit int) []PassReport {
	return s.history.list(limit)
}

func (s *ReconciliationScheduler) runLoop(ctx context.Context, kind PassKind, interval time.Duration, pass func(context.Context) (*PassReport, error)) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// shutdown does not cancel in-flight gateway calls
			if _, err := pass(context.WithoutCancel(ctx)); err != nil {
				s.logger.Debug("Skipping tick", zap.String("pass", string(kind)), zap.Error(err))
			}
		}
	}
}

// RunShipmentPass re-polls every tracked order that is not terminal, then
// retries CRM writes and announcements left pending by earlier passes.
func (s *ReconciliationScheduler) RunShipmentPass(ctx context.Context) (*PassReport, error) {
	if !s.shipmentsBusy.CompareAndSwap(false, true) {
		return nil, ErrPassInProgress
	}
	defer s.shipmentsBusy.Store(false)

	report := newPassReport(PassShipments)
	log := s.logger.With(zap.String("pass", string(PassShipments)), zap.String("pass_id", report.ID.String()))

	total, err := s.eachPage(ctx, s.orders.ListWithTrackerNonTerminal, func(order *fulfillment.Order) {
		s.pollOne(ctx, order, report, log)
	})
	report.Total = total
	if err != nil {
		log.Error("Failed to list tracked orders", zap.Error(err))
		return s.finish(ctx, report, err), nil
	}

	_, err = s.eachPage(ctx, s.orders.ListCrmPending, func(order *fulfillment.Order) {
		if err := s.reconciler.ResyncCrm(ctx, order.LeadID); err != nil {
			log.Warn("CRM resync failed", zap.Int64("lead_id", order.LeadID), zap.Error(err))
			return
		}
		report.Resynced++
	})
	if err != nil {
		log.Warn("Failed to list orders pending CRM sync", zap.Error(err))
	}

	return s.finish(ctx, report, nil), nil
}

func (s *ReconciliationScheduler) pollOne(ctx context.Context, order *fulfillment.Order, report *PassReport, log *zap.Logger) {
	log = log.With(zap.Int64("lead_id", order.LeadID), zap.String("tracker", order.Tracker))

	outcome, err := s.reconciler.Reconcile(ctx, delivery.ReconcileRequest{Tracker: order.Tracker})
	if err != nil {
		report.Failed++
		log.Warn("Reconcile failed, retrying next tick", zap.Error(err))
		return
	}

	switch outcome.Kind {
	case fulfillment.OutcomeApplied:
		report.Applied++
	case fulfillment.OutcomeSkipped:
		report.Skipped++
		log.Debug("Reconcile skipped", zap.String("reason", string(outcome.Reason)))
	default:
		report.Unchanged++
	}

	if outcome.EnteredTransit() {
		announced, err := s.reconciler.AnnounceShipment(ctx, order.LeadID)
		if err != nil {
			log.Warn("Tracker announcement failed", zap.Error(err))
			return
		}
		if announced {
			report.Announced++
		}
	}
}

// RunUntrackedPass re-pulls every order without a tracker from the CRM so a
// tracker entered there by hand gets linked.
func (s *ReconciliationScheduler) RunUntrackedPass(ctx context.Context) (*PassReport, error) {
	if !s.untrackedBusy.CompareAndSwap(false, true) {
		return nil, ErrPassInProgress
	}
	defer s.untrackedBusy.Store(false)

	report := newPassReport(PassUntracked)
	log := s.logger.With(zap.String("pass", string(PassUntracked)), zap.String("pass_id", report.ID.String()))

	total, err := s.eachPage(ctx, s.orders.ListWithoutTracker, func(order *fulfillment.Order) {
		result, err := s.leads.SyncLead(ctx, order.LeadID)
		if err != nil {
			report.Failed++
			log.Warn("Lead sync failed", zap.Int64("lead_id", order.LeadID), zap.Error(err))
			return
		}
		switch {
		case result.Skipped:
			report.Skipped++
		case result.LinkResult != nil && result.LinkResult.IsApplied():
			report.Applied++
		default:
			report.Unchanged++
		}
	})
	report.Total = total
	if err != nil {
		log.Error("Failed to list untracked orders", zap.Error(err))
		return s.finish(ctx, report, err), nil
	}

	return s.finish(ctx, report, nil), nil
}

// eachPage walks the whole set behind list, BatchSize orders at a time, and
// returns how many orders were visited.
func (s *ReconciliationScheduler) eachPage(ctx context.Context, list listFunc, visit func(*fulfillment.Order)) (int, error) {
	var after int64
	visited := 0
	for {
		page, err := list(ctx, after, s.config.BatchSize)
		if err != nil {
			return visited, err
		}
		for _, order := range page {
			visit(order)
		}
		visited += len(page)
		if len(page) < s.config.BatchSize {
			return visited, nil
		}
		after = page[len(page)-1].LeadID
	}
}

func (s *ReconciliationScheduler) finish(ctx context.Context, report *PassReport, err error) *PassReport {
	if err != nil {
		report.Fail(err.Error())
	} else {
		report.Complete()
	}
	s.history.add(*report)
	s.metrics.RecordPass(ctx, string(report.Kind), report.Duration())

	s.logger.Info("Scheduler pass completed",
		zap.String("pass", string(report.Kind)),
		zap.String("pass_id", report.ID.String()),
		zap.String("status", string(report.Status)),
		zap.Int("total", report.Total),
		zap.Int("applied", report.Applied),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("announced", report.Announced),
		zap.Int("resynced", report.Resynced),
		zap.Duration("duration", report.Duration()),
	)
	return report
}
