package handler

import (
	"context"

	"github.com/erp/fulfillment/internal/application/delivery"
	"github.com/erp/fulfillment/internal/application/ordersync"
	"github.com/erp/fulfillment/internal/application/webhook"
	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/infrastructure/scheduler"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockTrackerService struct {
	mock.Mock
}

func (m *mockTrackerService) Reconcile(ctx context.Context, req delivery.ReconcileRequest) (fulfillment.Outcome, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(fulfillment.Outcome), args.Error(1)
}

func (m *mockTrackerService) LinkTrackerToLead(ctx context.Context, leadID int64, tracker string) (fulfillment.Outcome, error) {
	args := m.Called(ctx, leadID, tracker)
	return args.Get(0).(fulfillment.Outcome), args.Error(1)
}

func (m *mockTrackerService) AnnounceShipment(ctx context.Context, leadID int64) (bool, error) {
	args := m.Called(ctx, leadID)
	return args.Bool(0), args.Error(1)
}

type mockLeadSyncer struct {
	mock.Mock
}

func (m *mockLeadSyncer) SyncLead(ctx context.Context, leadID int64) (*ordersync.SyncResult, error) {
	args := m.Called(ctx, leadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ordersync.SyncResult), args.Error(1)
}

type mockOrderReader struct {
	mock.Mock
}

func (m *mockOrderReader) FindByLeadID(ctx context.Context, leadID int64) (*fulfillment.Order, error) {
	args := m.Called(ctx, leadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fulfillment.Order), args.Error(1)
}

type mockPassRunner struct {
	mock.Mock
}

func (m *mockPassRunner) RunShipmentPass(ctx context.Context) (*scheduler.PassReport, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*scheduler.PassReport), args.Error(1)
}

func (m *mockPassRunner) RunUntrackedPass(ctx context.Context) (*scheduler.PassReport, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*scheduler.PassReport), args.Error(1)
}

func (m *mockPassRunner) History(limit int) []scheduler.PassReport {
	args := m.Called(limit)
	return args.Get(0).([]scheduler.PassReport)
}

type mockIngester struct {
	mock.Mock
}

func (m *mockIngester) Ingest(ctx context.Context, source fulfillment.EventSource, contentType string, body []byte) []webhook.ProcessingResult {
	args := m.Called(ctx, source, contentType, body)
	return args.Get(0).([]webhook.ProcessingResult)
}
