package testutil

import (
	"context"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/stretchr/testify/mock"
)

// MockCrmGateway is a testify mock of fulfillment.CrmGateway
type MockCrmGateway struct {
	mock.Mock
}

func (m *MockCrmGateway) GetLead(ctx context.Context, id int64) (*fulfillment.Lead, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fulfillment.Lead), args.Error(1)
}

func (m *MockCrmGateway) GetContact(ctx context.Context, id int64) (*fulfillment.Contact, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fulfillment.Contact), args.Error(1)
}

func (m *MockCrmGateway) UpdateLeadCustomField(ctx context.Context, leadID, fieldID int64, value string) error {
	args := m.Called(ctx, leadID, fieldID, value)
	return args.Error(0)
}

func (m *MockCrmGateway) UpdateLeadStage(ctx context.Context, leadID, stageID int64) error {
	args := m.Called(ctx, leadID, stageID)
	return args.Error(0)
}

func (m *MockCrmGateway) GetProductsForLead(ctx context.Context, leadID int64) ([]fulfillment.Product, error) {
	args := m.Called(ctx, leadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]fulfillment.Product), args.Error(1)
}

// MockCarrierGateway mocks GetStatusCode. Tracker validation uses the
// default carrier bounds so tests do not have to stub it.
type MockCarrierGateway struct {
	mock.Mock
}

func (m *MockCarrierGateway) GetStatusCode(ctx context.Context, tracker string) (string, error) {
	args := m.Called(ctx, tracker)
	return args.String(0), args.Error(1)
}

func (m *MockCarrierGateway) IsValidTrackingNumber(tracker string) bool {
	return fulfillment.IsValidTracker(tracker, fulfillment.DefaultTrackerMinLength, fulfillment.DefaultTrackerMaxLength)
}

// MockSheetGateway is a testify mock of fulfillment.SheetGateway
type MockSheetGateway struct {
	mock.Mock
}

func (m *MockSheetGateway) WriteCell(ctx context.Context, sheet string, row, col int, value string) error {
	args := m.Called(ctx, sheet, row, col, value)
	return args.Error(0)
}

func (m *MockSheetGateway) FindRowByTracker(ctx context.Context, sheet, tracker string) (int, error) {
	args := m.Called(ctx, sheet, tracker)
	return args.Int(0), args.Error(1)
}

// MockNotifier is a testify mock of fulfillment.Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, message string) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

// MockPayloadArchive is a testify mock of fulfillment.PayloadArchive
type MockPayloadArchive struct {
	mock.Mock
}

func (m *MockPayloadArchive) Archive(ctx context.Context, source fulfillment.EventSource, contentType string, body []byte) (string, error) {
	args := m.Called(ctx, source, contentType, body)
	return args.String(0), args.Error(1)
}

var (
	_ fulfillment.CrmGateway     = (*MockCrmGateway)(nil)
	_ fulfillment.CarrierGateway = (*MockCarrierGateway)(nil)
	_ fulfillment.SheetGateway   = (*MockSheetGateway)(nil)
	_ fulfillment.Notifier       = (*MockNotifier)(nil)
	_ fulfillment.PayloadArchive = (*MockPayloadArchive)(nil)
)
