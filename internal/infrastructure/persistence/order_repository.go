package persistence

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/domain/shared"
	"github.com/erp/fulfillment/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormOrderRepository implements fulfillment.OrderStore using GORM
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository creates a new GormOrderRepository
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func orderedItems(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

// FindByLeadID finds an order by its CRM lead id
func (r *GormOrderRepository) FindByLeadID(ctx context.Context, leadID int64) (*fulfillment.Order, error) {
	return r.findOne(ctx, "lead_id = ?", leadID)
}

// FindByTracker finds an order by its carrier tracking number
func (r *GormOrderRepository) FindByTracker(ctx context.Context, tracker string) (*fulfillment.Order, error) {
	if tracker == "" {
		return nil, shared.ErrNotFound
	}
	return r.findOne(ctx, "tracker = ?", tracker)
}

func (r *GormOrderRepository) findOne(ctx context.Context, query string, arg any) (*fulfillment.Order, error) {
	var model models.OrderModel
	if err := r.db.WithContext(ctx).
		Preload("Items", orderedItems).
		Where(query, arg).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ListWithTrackerNonTerminal returns orders that have a tracker and have not
// reached a terminal phase.
func (r *GormOrderRepository) ListWithTrackerNonTerminal(ctx context.Context, afterLeadID int64, limit int) ([]*fulfillment.Order, error) {
	terminal := make([]string, 0, len(fulfillment.TerminalPhases()))
	for _, p := range fulfillment.TerminalPhases() {
		terminal = append(terminal, string(p))
	}
	return r.list(ctx, afterLeadID, limit, func(db *gorm.DB) *gorm.DB {
		return db.Where("tracker <> ''").Where("delivery_phase NOT IN ?", terminal)
	})
}

// ListWithoutTracker returns orders whose tracker is still unknown
func (r *GormOrderRepository) ListWithoutTracker(ctx context.Context, afterLeadID int64, limit int) ([]*fulfillment.Order, error) {
	return r.list(ctx, afterLeadID, limit, func(db *gorm.DB) *gorm.DB {
		return db.Where("tracker = ''")
	})
}

// ListCrmPending returns orders whose last applied status has not reached the
// CRM, and orders past CREATED whose tracker was never announced.
func (r *GormOrderRepository) ListCrmPending(ctx context.Context, afterLeadID int64, limit int) ([]*fulfillment.Order, error) {
	announced := []string{
		string(fulfillment.PhaseInTransit),
		string(fulfillment.PhaseReadyForPickup),
		string(fulfillment.PhaseDelivered),
	}
	return r.list(ctx, afterLeadID, limit, func(db *gorm.DB) *gorm.DB {
		return db.Where(
			"(delivery_status <> '' AND crm_synced_status <> delivery_status) OR "+
				"(tracker <> '' AND tracker_announced = ? AND delivery_phase IN ?)",
			false, announced,
		)
	})
}

// list pages by lead id. A keyset on the unique lead id keeps rows that a
// pass leaves untouched from hiding the rest of the set.
func (r *GormOrderRepository) list(ctx context.Context, afterLeadID int64, limit int, scope func(*gorm.DB) *gorm.DB) ([]*fulfillment.Order, error) {
	var rows []models.OrderModel
	query := r.db.WithContext(ctx).
		Preload("Items", orderedItems).
		Scopes(scope).
		Where("lead_id > ?", afterLeadID).
		Order("lead_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	orders := make([]*fulfillment.Order, len(rows))
	for i := range rows {
		orders[i] = rows[i].ToDomain()
	}
	return orders, nil
}

// Save inserts a new order or updates an existing one with a version check.
// A stale version yields shared.ErrConcurrencyConflict and a second order for
// the same lead yields shared.ErrAlreadyExists.
func (r *GormOrderRepository) Save(ctx context.Context, order *fulfillment.Order) error {
	var model models.OrderModel
	model.FromDomain(order)

	previousVersion := order.Version
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.OrderModel{}).Where("id = ?", order.ID).Count(&count).Error; err != nil {
			return err
		}

		if count == 0 {
			if model.Version < 1 {
				model.Version = 1
			}
			if err := tx.Omit(clause.Associations).Create(&model).Error; err != nil {
				return translateWriteError(err)
			}
			created = true
			order.Version = model.Version
			return r.replaceItems(tx, &model)
		}

		order.UpdatedAt = time.Now()
		model.UpdatedAt = order.UpdatedAt
		columns := model.UpdateColumns()
		columns["version"] = previousVersion + 1

		result := tx.Model(&models.OrderModel{}).
			Where("id = ? AND version = ?", order.ID, previousVersion).
			Updates(columns)
		if result.Error != nil {
			return translateWriteError(result.Error)
		}
		if result.RowsAffected == 0 {
			return shared.ErrConcurrencyConflict
		}
		order.Version = previousVersion + 1

		if order.ItemsDirty() {
			return r.replaceItems(tx, &model)
		}
		return nil
	})
	if err != nil {
		order.Version = previousVersion
		return err
	}
	if created || order.ItemsDirty() {
		order.ClearItemsDirty()
	}
	return nil
}

func (r *GormOrderRepository) replaceItems(tx *gorm.DB, model *models.OrderModel) error {
	if err := tx.Where("order_id = ?", model.ID).Delete(&models.OrderItemModel{}).Error; err != nil {
		return err
	}
	if len(model.Items) == 0 {
		return nil
	}
	return tx.Create(&model.Items).Error
}

func translateWriteError(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return shared.ErrAlreadyExists
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint") {
		return shared.ErrAlreadyExists
	}
	return err
}
