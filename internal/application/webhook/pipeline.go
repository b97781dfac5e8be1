// Package webhook turns inbound CRM and carrier webhooks into reconcile
// and lead sync calls, suppressing duplicates across webhook and poll.
package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/fulfillment/internal/application/delivery"
	"github.com/erp/fulfillment/internal/application/ordersync"
	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/domain/shared"
	"go.uber.org/zap"
)

// Reconciler is the delivery capability the pipeline dispatches to
type Reconciler interface {
	Reconcile(ctx context.Context, req delivery.ReconcileRequest) (fulfillment.Outcome, error)
	AnnounceShipment(ctx context.Context, leadID int64) (bool, error)
}

// LeadSyncer is the lead onboarding capability
type LeadSyncer interface {
	SyncLead(ctx context.Context, leadID int64) (*ordersync.SyncResult, error)
}

// Metrics receives webhook counters. telemetry.ReconcileMetrics satisfies it.
type Metrics interface {
	RecordWebhookItem(ctx context.Context, source fulfillment.EventSource, status string)
	RecordDuplicate(ctx context.Context, source fulfillment.EventSource)
}

type nopMetrics struct{}

func (nopMetrics) RecordWebhookItem(context.Context, fulfillment.EventSource, string) {}
func (nopMetrics) RecordDuplicate(context.Context, fulfillment.EventSource)          {}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithArchive keeps every raw body in archive before decoding
func WithArchive(archive fulfillment.PayloadArchive) Option {
	return func(p *Pipeline) {
		p.archive = archive
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m Metrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Pipeline is the webhook ingestion pipeline
type Pipeline struct {
	reconciler Reconciler
	leads      LeadSyncer
	dedup      shared.IdempotencyStore
	archive    fulfillment.PayloadArchive
	metrics    Metrics
	logger     *zap.Logger
}

// NewPipeline creates a Pipeline
func NewPipeline(reconciler Reconciler, leads LeadSyncer, dedup shared.IdempotencyStore, opts ...Option) *Pipeline {
	p := &Pipeline{
		reconciler: reconciler,
		leads:      leads,
		dedup:      dedup,
		metrics:    nopMetrics{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("webhook")
	return p
}

// Ingest decodes one webhook body and processes every identifier in it.
// It never fails as a whole: each identifier gets its own result, and a
// body that cannot be decoded yields a single failed result.
func (p *Pipeline) Ingest(ctx context.Context, source fulfillment.EventSource, contentType string, body []byte) []ProcessingResult {
	log := p.logger.With(zap.String("source", string(source)))
	p.archiveBody(ctx, source, contentType, body, log)

	tree, err := Decode(contentType, body)
	if err != nil {
		log.Warn("Undecodable webhook body", zap.String("content_type", contentType), zap.Error(err))
		res := Failed(fulfillment.BusinessEvent{Source: source}, err.Error())
		p.metrics.RecordWebhookItem(ctx, source, string(res.Status))
		return []ProcessingResult{res}
	}

	var events []fulfillment.BusinessEvent
	var results []ProcessingResult
	switch source {
	case fulfillment.SourceCRM:
		events, results = ExtractCrmEvents(tree)
	case fulfillment.SourceCarrier:
		ev, ok, err := ExtractCarrierEvent(tree)
		switch {
		case err != nil:
			results = append(results, Failed(ev, err.Error()))
		case !ok:
			log.Debug("Ignoring carrier notification", zap.String("type", ev.Kind))
			results = append(results, newResult(ev, StatusIgnored))
		default:
			events = append(events, ev)
		}
	default:
		results = append(results, Failed(fulfillment.BusinessEvent{Source: source}, "unknown source"))
	}
	for _, r := range results {
		p.metrics.RecordWebhookItem(ctx, source, string(r.Status))
	}

	for _, ev := range events {
		res := p.process(ctx, ev, log)
		p.metrics.RecordWebhookItem(ctx, source, string(res.Status))
		results = append(results, res)
	}
	if results == nil {
		results = []ProcessingResult{}
	}
	return results
}

func (p *Pipeline) archiveBody(ctx context.Context, source fulfillment.EventSource, contentType string, body []byte, log *zap.Logger) {
	if p.archive == nil {
		return
	}
	key, err := p.archive.Archive(ctx, source, contentType, body)
	if err != nil {
		log.Warn("Failed to archive webhook body", zap.Error(err))
		return
	}
	log.Debug("Webhook body archived", zap.String("object_key", key))
}

// process dedups and dispatches one identifier. A failed dispatch releases
// its key so a redelivery can retry it.
func (p *Pipeline) process(ctx context.Context, ev fulfillment.BusinessEvent, log *zap.Logger) ProcessingResult {
	key := ev.DedupKey()
	log = log.With(zap.String("event_key", key))

	seen, err := p.dedup.CheckAndRemember(ctx, key)
	if err != nil {
		log.Warn("Idempotency check failed, processing anyway", zap.Error(err))
	}
	if seen {
		log.Debug("Duplicate event suppressed")
		p.metrics.RecordDuplicate(ctx, ev.Source)
		res := newResult(ev, StatusDuplicate)
		res.Key = key
		return res
	}

	res := p.dispatch(ctx, ev, log)
	res.Key = key
	if res.Status == StatusFailed || res.Reason == string(fulfillment.SkipOrderNotFound) {
		if err := p.dedup.Forget(ctx, key); err != nil {
			log.Warn("Failed to release idempotency key", zap.Error(err))
		}
	}
	return res
}

func (p *Pipeline) dispatch(ctx context.Context, ev fulfillment.BusinessEvent, log *zap.Logger) (res ProcessingResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Webhook dispatch panicked", zap.Any("panic", r), zap.Stack("stack"))
			res = Failed(ev, fmt.Sprintf("panic: %v", r))
		}
	}()

	switch ev.Source {
	case fulfillment.SourceCRM:
		return p.dispatchLead(ctx, ev, log)
	default:
		return p.dispatchShipment(ctx, ev, log)
	}
}

func (p *Pipeline) dispatchLead(ctx context.Context, ev fulfillment.BusinessEvent, log *zap.Logger) ProcessingResult {
	log = log.With(zap.Int64("lead_id", ev.LeadID))
	result, err := p.leads.SyncLead(ctx, ev.LeadID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			log.Info("Lead from webhook not found", zap.Error(err))
		} else {
			log.Warn("Lead sync failed", zap.Error(err))
		}
		return Failed(ev, err.Error())
	}

	res := newResult(ev, StatusProcessed)
	switch {
	case result.Skipped:
		res.Status = StatusSkipped
		res.Reason = result.Reason
	case result.Created:
		res.Outcome = "created"
	default:
		res.Outcome = "updated"
	}
	if result.Order != nil {
		res.Tracker = result.Order.Tracker
	}
	return res
}

func (p *Pipeline) dispatchShipment(ctx context.Context, ev fulfillment.BusinessEvent, log *zap.Logger) ProcessingResult {
	log = log.With(zap.String("tracker", ev.Tracker), zap.String("status_code", ev.StatusCode))
	outcome, err := p.reconciler.Reconcile(ctx, delivery.ReconcileRequest{
		Tracker:      ev.Tracker,
		ObservedCode: ev.StatusCode,
	})
	if err != nil {
		log.Warn("Reconcile from webhook failed", zap.Error(err))
		return Failed(ev, err.Error())
	}

	res := newResult(ev, StatusProcessed)
	res.Outcome = outcome.String()
	if outcome.Order != nil {
		res.LeadID = outcome.Order.LeadID
	}
	if outcome.IsSkipped() {
		res.Status = StatusSkipped
		res.Reason = string(outcome.Reason)
		return res
	}

	if outcome.EnteredTransit() && outcome.Order != nil {
		if _, err := p.reconciler.AnnounceShipment(ctx, outcome.Order.LeadID); err != nil {
			// the scheduled resync retries the announcement
			log.Warn("Tracker announcement failed", zap.Error(err))
		}
	}
	return res
}
