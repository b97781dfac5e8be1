package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrMeterNil is returned when metrics are built without a meter.
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")

// Attribute keys used by the reconciliation metrics.
var (
	AttrOutcome = attribute.Key("outcome")
	AttrReason  = attribute.Key("reason")
	AttrPhase   = attribute.Key("phase")
	AttrSource  = attribute.Key("source")
	AttrStatus  = attribute.Key("status")
	AttrPass    = attribute.Key("pass")
)

// ReconcileMetrics counts reconciliation outcomes, webhook items and
// scheduler passes. A nil *ReconcileMetrics is valid and records nothing.
type ReconcileMetrics struct {
	reconcileTotal   *Counter
	webhookItems     *Counter
	dedupHits        *Counter
	passTotal        *Counter
	passDuration     *Histogram
	upstreamFailures *Counter
}

// NewReconcileMetrics registers the instruments on meter.
func NewReconcileMetrics(meter metric.Meter) (*ReconcileMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	m := &ReconcileMetrics{}
	var err error
	if m.reconcileTotal, err = NewCounter(meter, "fulfillment_reconcile_total",
		"Reconciliation outcomes by kind and skip reason", "{outcome}"); err != nil {
		return nil, err
	}
	if m.webhookItems, err = NewCounter(meter, "fulfillment_webhook_items_total",
		"Webhook identifiers processed by source and result", "{item}"); err != nil {
		return nil, err
	}
	if m.dedupHits, err = NewCounter(meter, "fulfillment_dedup_hits_total",
		"Business events suppressed as duplicates", "{event}"); err != nil {
		return nil, err
	}
	if m.passTotal, err = NewCounter(meter, "fulfillment_scheduler_pass_total",
		"Completed scheduler passes", "{pass}"); err != nil {
		return nil, err
	}
	if m.passDuration, err = NewHistogram(meter, "fulfillment_scheduler_pass_duration_seconds",
		"Scheduler pass duration", "s", PassDurationBuckets); err != nil {
		return nil, err
	}
	if m.upstreamFailures, err = NewCounter(meter, "fulfillment_upstream_failures_total",
		"Gateway calls that failed or timed out", "{call}"); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordOutcome counts one reconciliation outcome.
func (m *ReconcileMetrics) RecordOutcome(ctx context.Context, outcome fulfillment.Outcome) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{AttrOutcome.String(string(outcome.Kind))}
	switch outcome.Kind {
	case fulfillment.OutcomeSkipped:
		attrs = append(attrs, AttrReason.String(string(outcome.Reason)))
	case fulfillment.OutcomeApplied:
		attrs = append(attrs, AttrPhase.String(string(outcome.To)))
	}
	m.reconcileTotal.Inc(ctx, attrs...)
}

// RecordUpstreamFailure counts a failed gateway call.
func (m *ReconcileMetrics) RecordUpstreamFailure(ctx context.Context, gateway string) {
	if m == nil {
		return
	}
	m.upstreamFailures.Inc(ctx, attribute.String("gateway", gateway))
}

// RecordWebhookItem counts one extracted webhook identifier.
func (m *ReconcileMetrics) RecordWebhookItem(ctx context.Context, source fulfillment.EventSource, status string) {
	if m == nil {
		return
	}
	m.webhookItems.Inc(ctx, AttrSource.String(string(source)), AttrStatus.String(status))
}

// RecordDuplicate counts one suppressed duplicate.
func (m *ReconcileMetrics) RecordDuplicate(ctx context.Context, source fulfillment.EventSource) {
	if m == nil {
		return
	}
	m.dedupHits.Inc(ctx, AttrSource.String(string(source)))
}

// RecordPass counts a finished scheduler pass and its duration.
func (m *ReconcileMetrics) RecordPass(ctx context.Context, pass string, d time.Duration) {
	if m == nil {
		return
	}
	m.passTotal.Inc(ctx, AttrPass.String(pass))
	m.passDuration.RecordDuration(ctx, d, AttrPass.String(pass))
}
