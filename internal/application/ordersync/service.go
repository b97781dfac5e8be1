// Package ordersync mirrors CRM leads into the local order ledger.
package ordersync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/domain/shared"
	"go.uber.org/zap"
)

// Skip reasons reported by SyncLead
const (
	SkipOtherPipeline = "other_pipeline"
)

// TrackerLinker links trackers under the per-lead lock shared with the
// reconciler. delivery.Reconciler implements it.
type TrackerLinker interface {
	LinkTrackerToLead(ctx context.Context, leadID int64, tracker string) (fulfillment.Outcome, error)
	WithLeadLock(leadID int64, fn func() error) error
}

// Config holds the CRM fields the sync reads
type Config struct {
	// PipelineID restricts the sync to one CRM pipeline; zero accepts all
	PipelineID          int64
	TrackerFieldID      int64
	PickupFieldID       int64
	PurchaseDateFieldID int64
	CommentFieldID      int64
	CallTimeout         time.Duration
}

// SyncResult describes what SyncLead did
type SyncResult struct {
	LeadID     int64
	Created    bool
	Skipped    bool
	Reason     string
	ItemCount  int
	LinkResult *fulfillment.Outcome
	Order      *fulfillment.Order
}

// Service is the lead onboarding path
type Service struct {
	orders fulfillment.OrderStore
	crm    fulfillment.CrmGateway
	linker TrackerLinker
	cfg    Config
	logger *zap.Logger
}

// NewService creates a new Service
func NewService(orders fulfillment.OrderStore, crm fulfillment.CrmGateway, linker TrackerLinker, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		orders: orders,
		crm:    crm,
		linker: linker,
		cfg:    cfg,
		logger: logger.Named("ordersync"),
	}
}

// SyncLead pulls the lead, its main contact and catalog products from the
// CRM and upserts the order. A tracker found in the CRM is linked once; a
// conflicting one is logged and ignored.
//
// A missing lead is reported as shared.ErrNotFound and gateway failures as
// shared.ErrUpstreamFailure.
func (s *Service) SyncLead(ctx context.Context, leadID int64) (*SyncResult, error) {
	if leadID <= 0 {
		return nil, fulfillment.ErrInvalidLeadID
	}
	log := s.logger.With(zap.Int64("lead_id", leadID))
	result := &SyncResult{LeadID: leadID}

	lead, err := fetch(ctx, s.cfg.CallTimeout, func(ctx context.Context) (*fulfillment.Lead, error) {
		return s.crm.GetLead(ctx, leadID)
	})
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			log.Info("Lead not found in CRM")
			return nil, fmt.Errorf("lead %d: %w", leadID, err)
		}
		return nil, upstream("get lead", err)
	}
	if s.cfg.PipelineID > 0 && lead.PipelineID != s.cfg.PipelineID {
		log.Debug("Lead belongs to another pipeline", zap.Int64("pipeline_id", lead.PipelineID))
		result.Skipped = true
		result.Reason = SkipOtherPipeline
		return result, nil
	}

	var contact *fulfillment.Contact
	if lead.MainContactID > 0 {
		contact, err = fetch(ctx, s.cfg.CallTimeout, func(ctx context.Context) (*fulfillment.Contact, error) {
			return s.crm.GetContact(ctx, lead.MainContactID)
		})
		switch {
		case errors.Is(err, shared.ErrNotFound):
			log.Warn("Main contact not found", zap.Int64("contact_id", lead.MainContactID))
			contact = nil
		case err != nil:
			return nil, upstream("get contact", err)
		}
	}

	products, err := fetch(ctx, s.cfg.CallTimeout, func(ctx context.Context) ([]fulfillment.Product, error) {
		return s.crm.GetProductsForLead(ctx, leadID)
	})
	if err != nil {
		return nil, upstream("get products", err)
	}
	items := make([]fulfillment.OrderItem, 0, len(products))
	for _, p := range products {
		item, err := fulfillment.NewOrderItem(p.Name, p.Quantity, p.ID, p.CatalogID, p.Price)
		if err != nil {
			log.Warn("Skipping invalid product", zap.Int64("product_id", p.ID), zap.Error(err))
			continue
		}
		items = append(items, item)
	}

	err = s.linker.WithLeadLock(leadID, func() error {
		order, err := s.orders.FindByLeadID(ctx, leadID)
		if errors.Is(err, shared.ErrNotFound) {
			order, err = fulfillment.NewOrder(leadID)
			result.Created = true
		}
		if err != nil {
			return err
		}

		s.apply(order, lead, contact, log)
		if err := order.ReplaceItems(items); err != nil {
			return err
		}
		if err := s.orders.Save(ctx, order); err != nil {
			return fmt.Errorf("save order: %w", err)
		}
		result.Order = order
		result.ItemCount = len(order.Items)
		return nil
	})
	if err != nil {
		log.Error("Failed to store order", zap.Error(err))
		return nil, err
	}

	if raw := lead.Field(s.cfg.TrackerFieldID); strings.TrimSpace(raw) != "" {
		outcome, err := s.linker.LinkTrackerToLead(ctx, leadID, raw)
		if err != nil {
			return nil, fmt.Errorf("link tracker: %w", err)
		}
		result.LinkResult = &outcome
		if outcome.IsSkipped() {
			log.Warn("CRM tracker ignored",
				zap.String("tracker", raw),
				zap.String("reason", string(outcome.Reason)),
			)
		}
		if outcome.Order != nil {
			result.Order = outcome.Order
		}
	}

	log.Info("Lead synced",
		zap.Bool("created", result.Created),
		zap.Int("items", result.ItemCount),
	)
	return result, nil
}

func (s *Service) apply(order *fulfillment.Order, lead *fulfillment.Lead, contact *fulfillment.Contact, log *zap.Logger) {
	if contact != nil {
		order.ContactID = contact.ID
		order.ContactName = contact.Name
		order.ContactPhone = contact.Phone
	}
	if v := lead.Field(s.cfg.PickupFieldID); v != "" {
		order.PickupLocation = v
	}
	if v := lead.Field(s.cfg.CommentFieldID); v != "" {
		order.Comment = v
	}
	if v := lead.Field(s.cfg.PurchaseDateFieldID); v != "" {
		date, err := ParseCrmDate(v)
		if err != nil {
			log.Warn("Unparseable purchase date", zap.String("value", v))
		} else {
			order.PurchaseDate = &date
		}
	}
}

var dateLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02", "02.01.2006"}

// ParseCrmDate reads a CRM date field. Date fields arrive as unix seconds;
// manually typed values use one of the usual layouts.
func ParseCrmDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised date %q", shared.ErrInvalidInput, value)
}

func fetch[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx)
}

func upstream(op string, err error) error {
	return fmt.Errorf("%w: crm %s: %w", shared.ErrUpstreamFailure, op, err)
}
