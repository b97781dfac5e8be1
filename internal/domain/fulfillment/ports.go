package fulfillment

import (
	"context"

	"github.com/shopspring/decimal"
)

// Lead is the CRM record backing an order
type Lead struct {
	ID            int64
	Name          string
	StatusID      int64
	PipelineID    int64
	MainContactID int64
	Price         decimal.Decimal
	CustomFields  map[int64]string
}

// Field returns a custom field value, empty when absent
func (l *Lead) Field(id int64) string {
	if l == nil || id == 0 {
		return ""
	}
	return l.CustomFields[id]
}

// Contact is a CRM contact
type Contact struct {
	ID    int64
	Name  string
	Phone string
}

// Product is a catalog element attached to a lead
type Product struct {
	ID        int64
	CatalogID int64
	Name      string
	Quantity  int
	Price     decimal.Decimal
}

// CrmGateway is the CRM capability consumed by the core.
// Missing records are reported as shared.ErrNotFound.
type CrmGateway interface {
	GetLead(ctx context.Context, id int64) (*Lead, error)
	GetContact(ctx context.Context, id int64) (*Contact, error)
	UpdateLeadCustomField(ctx context.Context, leadID, fieldID int64, value string) error
	UpdateLeadStage(ctx context.Context, leadID, stageID int64) error
	GetProductsForLead(ctx context.Context, leadID int64) ([]Product, error)
}

// CarrierGateway is the parcel carrier capability. GetStatusCode reports an
// unknown tracker as StatusNotFound rather than an error.
type CarrierGateway interface {
	GetStatusCode(ctx context.Context, tracker string) (string, error)
	IsValidTrackingNumber(tracker string) bool
}

// SheetGateway is the spreadsheet ledger. Rows and columns are 1-based.
// FindRowByTracker returns shared.ErrNotFound when no row matches.
type SheetGateway interface {
	WriteCell(ctx context.Context, sheet string, row, col int, value string) error
	FindRowByTracker(ctx context.Context, sheet, tracker string) (int, error)
}

// OrderStore persists orders. Save fails with shared.ErrConcurrencyConflict
// when the stored version moved since the order was loaded.
//
// The List methods page in lead id order: they return at most limit orders
// with a lead id above afterLeadID. Pass 0 for the first page.
type OrderStore interface {
	FindByLeadID(ctx context.Context, leadID int64) (*Order, error)
	FindByTracker(ctx context.Context, tracker string) (*Order, error)
	Save(ctx context.Context, order *Order) error
	ListWithTrackerNonTerminal(ctx context.Context, afterLeadID int64, limit int) ([]*Order, error)
	ListWithoutTracker(ctx context.Context, afterLeadID int64, limit int) ([]*Order, error)
	// ListCrmPending returns orders with a CRM write or tracker
	// announcement still outstanding.
	ListCrmPending(ctx context.Context, afterLeadID int64, limit int) ([]*Order, error)
}

// Notifier delivers operator notifications
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// PayloadArchive keeps raw webhook bodies for audit
type PayloadArchive interface {
	Archive(ctx context.Context, source EventSource, contentType string, body []byte) (string, error)
}
