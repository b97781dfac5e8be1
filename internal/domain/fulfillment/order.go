package fulfillment

import (
	"strings"
	"time"

	"github.com/erp/fulfillment/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order is the local ledger entry for one CRM lead.
//
// DeliveryStatus holds the last raw carrier code that was applied and
// DeliveryPhase its classification; an empty phase means the carrier was
// never consulted. CrmSyncedStatus tracks which code last reached the CRM so
// a failed CRM write can be replayed by the next scheduled pass.
type Order struct {
	shared.BaseAggregateRoot
	LeadID           int64
	ContactID        int64
	ContactName      string
	ContactPhone     string
	Tracker          string
	DeliveryStatus   string
	DeliveryPhase    Phase
	PickupLocation   string
	PurchaseDate     *time.Time
	Comment          string
	Items            []OrderItem
	CrmSyncedStatus  string
	TrackerAnnounced bool

	itemsDirty bool
}

// OrderItem is a product line of an order
type OrderItem struct {
	ID                uuid.UUID
	OrderID           uuid.UUID
	ProductName       string
	Quantity          int
	ExternalProductID int64
	CatalogID         int64
	UnitPrice         decimal.Decimal
}

// NewOrder creates an order for a CRM lead
func NewOrder(leadID int64) (*Order, error) {
	if leadID <= 0 {
		return nil, ErrInvalidLeadID
	}
	return &Order{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		LeadID:            leadID,
		Items:             make([]OrderItem, 0),
	}, nil
}

// NewOrderItem validates and builds an order item
func NewOrderItem(name string, quantity int, externalProductID, catalogID int64, unitPrice decimal.Decimal) (OrderItem, error) {
	name = strings.TrimSpace(name)
	if name == "" || quantity < 1 {
		return OrderItem{}, ErrInvalidOrderItem
	}
	return OrderItem{
		ID:                uuid.New(),
		ProductName:       name,
		Quantity:          quantity,
		ExternalProductID: externalProductID,
		CatalogID:         catalogID,
		UnitPrice:         unitPrice,
	}, nil
}

// HasTracker reports whether a tracking number is linked
func (o *Order) HasTracker() bool {
	return o.Tracker != ""
}

// LinkTracker sets the tracking number once. Linking the same tracker again
// is a no-op reported as unchanged; a different tracker is refused.
func (o *Order) LinkTracker(tracker string) (bool, error) {
	tracker = NormalizeTracker(tracker)
	if tracker == "" {
		return false, ErrInvalidTracker
	}
	if o.Tracker == tracker {
		return false, nil
	}
	if o.Tracker != "" {
		return false, ErrTrackerAlreadySet
	}
	o.Tracker = tracker
	o.Touch()
	return true, nil
}

// CurrentPhase classifies the stored status code.
func (o *Order) CurrentPhase() Phase {
	return Classify(o.DeliveryStatus)
}

// ApplyDeliveryStatus records a newly observed carrier code as reported.
func (o *Order) ApplyDeliveryStatus(code string) {
	o.DeliveryStatus = strings.TrimSpace(code)
	o.DeliveryPhase = Classify(code)
	o.Touch()
}

// MarkUnresolved parks a never-observed order whose tracker the carrier does
// not resolve. The status stays empty so nothing is pushed to the CRM, while
// the sentinel phase takes the order out of the shipment poll.
func (o *Order) MarkUnresolved() bool {
	if o.DeliveryStatus != "" || o.DeliveryPhase == PhaseUnknown {
		return false
	}
	o.DeliveryPhase = PhaseUnknown
	o.Touch()
	return true
}

// IsTerminal reports whether the shipment poll can stop visiting the order.
func (o *Order) IsTerminal() bool {
	return o.DeliveryPhase != "" && o.DeliveryPhase.IsTerminal()
}

// CrmSyncPending reports whether the stored status has not reached the CRM yet.
func (o *Order) CrmSyncPending() bool {
	return o.DeliveryStatus != "" && o.CrmSyncedStatus != o.DeliveryStatus
}

// MarkCrmSynced records that code was written to the CRM.
func (o *Order) MarkCrmSynced(code string) {
	o.CrmSyncedStatus = code
	o.Touch()
}

// NeedsAnnouncement reports whether the one-time tracker announcement is due.
func (o *Order) NeedsAnnouncement() bool {
	return o.HasTracker() && !o.TrackerAnnounced
}

// MarkTrackerAnnounced records the one-time tracker announcement.
func (o *Order) MarkTrackerAnnounced() {
	o.TrackerAnnounced = true
	o.Touch()
}

// ReplaceItems clears and rebuilds the item list.
func (o *Order) ReplaceItems(items []OrderItem) error {
	for _, item := range items {
		if strings.TrimSpace(item.ProductName) == "" || item.Quantity < 1 {
			return ErrInvalidOrderItem
		}
	}
	replaced := make([]OrderItem, len(items))
	for i, item := range items {
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.OrderID = o.ID
		replaced[i] = item
	}
	o.Items = replaced
	o.itemsDirty = true
	o.Touch()
	return nil
}

// ItemsDirty reports whether items were replaced since the last save.
func (o *Order) ItemsDirty() bool {
	return o.itemsDirty
}

// ClearItemsDirty is called by the store after persisting items.
func (o *Order) ClearItemsDirty() {
	o.itemsDirty = false
}

// Total sums item prices.
func (o *Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}
