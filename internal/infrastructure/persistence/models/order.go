package models

import (
	"time"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderModel is the persistence model for the Order aggregate root.
type OrderModel struct {
	AggregateModel
	LeadID           int64            `gorm:"not null;uniqueIndex"`
	ContactID        int64            `gorm:"not null;default:0"`
	ContactName      string           `gorm:"type:varchar(255)"`
	ContactPhone     string           `gorm:"type:varchar(64)"`
	Tracker          string           `gorm:"type:varchar(32);not null;default:'';index:idx_orders_tracker,unique,where:tracker <> ''"`
	DeliveryStatus   string           `gorm:"type:varchar(64);not null;default:''"`
	DeliveryPhase    string           `gorm:"type:varchar(32);not null;default:'';index"`
	PickupLocation   string           `gorm:"type:varchar(512)"`
	PurchaseDate     *time.Time
	Comment          string           `gorm:"type:text"`
	CrmSyncedStatus  string           `gorm:"type:varchar(64);not null;default:''"`
	TrackerAnnounced bool             `gorm:"not null;default:false"`
	Items            []OrderItemModel `gorm:"foreignKey:OrderID;references:ID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM
func (OrderModel) TableName() string {
	return "orders"
}

// ToDomain converts the persistence model to a domain Order
func (m *OrderModel) ToDomain() *fulfillment.Order {
	order := &fulfillment.Order{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		LeadID:            m.LeadID,
		ContactID:         m.ContactID,
		ContactName:       m.ContactName,
		ContactPhone:      m.ContactPhone,
		Tracker:           m.Tracker,
		DeliveryStatus:    m.DeliveryStatus,
		DeliveryPhase:     fulfillment.Phase(m.DeliveryPhase),
		PickupLocation:    m.PickupLocation,
		PurchaseDate:      m.PurchaseDate,
		Comment:           m.Comment,
		CrmSyncedStatus:   m.CrmSyncedStatus,
		TrackerAnnounced:  m.TrackerAnnounced,
		Items:             make([]fulfillment.OrderItem, len(m.Items)),
	}
	for i := range m.Items {
		order.Items[i] = m.Items[i].ToDomain()
	}
	return order
}

// FromDomain populates the persistence model from a domain Order
func (m *OrderModel) FromDomain(o *fulfillment.Order) {
	m.FromDomainAggregateRoot(o.BaseAggregateRoot)
	m.LeadID = o.LeadID
	m.ContactID = o.ContactID
	m.ContactName = o.ContactName
	m.ContactPhone = o.ContactPhone
	m.Tracker = o.Tracker
	m.DeliveryStatus = o.DeliveryStatus
	m.DeliveryPhase = string(o.DeliveryPhase)
	m.PickupLocation = o.PickupLocation
	m.PurchaseDate = o.PurchaseDate
	m.Comment = o.Comment
	m.CrmSyncedStatus = o.CrmSyncedStatus
	m.TrackerAnnounced = o.TrackerAnnounced
	m.Items = make([]OrderItemModel, len(o.Items))
	for i := range o.Items {
		m.Items[i].FromDomain(&o.Items[i], o.ID, i)
	}
}

// UpdateColumns returns the mutable columns written on update. Zero values
// are included, which a struct-based Updates would skip.
func (m *OrderModel) UpdateColumns() map[string]any {
	return map[string]any{
		"contact_id":        m.ContactID,
		"contact_name":      m.ContactName,
		"contact_phone":     m.ContactPhone,
		"tracker":           m.Tracker,
		"delivery_status":   m.DeliveryStatus,
		"delivery_phase":    m.DeliveryPhase,
		"pickup_location":   m.PickupLocation,
		"purchase_date":     m.PurchaseDate,
		"comment":           m.Comment,
		"crm_synced_status": m.CrmSyncedStatus,
		"tracker_announced": m.TrackerAnnounced,
		"updated_at":        m.UpdatedAt,
	}
}

// OrderItemModel is the persistence model for an order line.
type OrderItemModel struct {
	ID                uuid.UUID       `gorm:"type:uuid;primary_key"`
	OrderID           uuid.UUID       `gorm:"type:uuid;not null;index"`
	Position          int             `gorm:"not null;default:0"`
	ProductName       string          `gorm:"type:varchar(255);not null"`
	Quantity          int             `gorm:"not null;default:1"`
	ExternalProductID int64           `gorm:"not null;default:0"`
	CatalogID         int64           `gorm:"not null;default:0"`
	UnitPrice         decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	CreatedAt         time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (OrderItemModel) TableName() string {
	return "order_items"
}

// ToDomain converts the persistence model to a domain OrderItem
func (m *OrderItemModel) ToDomain() fulfillment.OrderItem {
	return fulfillment.OrderItem{
		ID:                m.ID,
		OrderID:           m.OrderID,
		ProductName:       m.ProductName,
		Quantity:          m.Quantity,
		ExternalProductID: m.ExternalProductID,
		CatalogID:         m.CatalogID,
		UnitPrice:         m.UnitPrice,
	}
}

// FromDomain populates the persistence model from a domain OrderItem
func (m *OrderItemModel) FromDomain(item *fulfillment.OrderItem, orderID uuid.UUID, position int) {
	m.ID = item.ID
	m.OrderID = orderID
	m.Position = position
	m.ProductName = item.ProductName
	m.Quantity = item.Quantity
	m.ExternalProductID = item.ExternalProductID
	m.CatalogID = item.CatalogID
	m.UnitPrice = item.UnitPrice
	m.CreatedAt = time.Now()
}
