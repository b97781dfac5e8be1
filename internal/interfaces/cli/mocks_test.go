package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/erp/fulfillment/internal/application/delivery"
	"github.com/erp/fulfillment/internal/application/ordersync"
	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/infrastructure/scheduler"
	"github.com/stretchr/testify/mock"
)

type MockTrackerService struct {
	mock.Mock
}

func (m *MockTrackerService) Reconcile(ctx context.Context, req delivery.ReconcileRequest) (fulfillment.Outcome, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(fulfillment.Outcome), args.Error(1)
}

func (m *MockTrackerService) LinkTrackerToLead(ctx context.Context, leadID int64, tracker string) (fulfillment.Outcome, error) {
	args := m.Called(ctx, leadID, tracker)
	return args.Get(0).(fulfillment.Outcome), args.Error(1)
}

func (m *MockTrackerService) AnnounceShipment(ctx context.Context, leadID int64) (bool, error) {
	args := m.Called(ctx, leadID)
	return args.Bool(0), args.Error(1)
}

type MockLeadSyncer struct {
	mock.Mock
}

func (m *MockLeadSyncer) SyncLead(ctx context.Context, leadID int64) (*ordersync.SyncResult, error) {
	args := m.Called(ctx, leadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ordersync.SyncResult), args.Error(1)
}

type MockOrderReader struct {
	mock.Mock
}

func (m *MockOrderReader) FindByLeadID(ctx context.Context, leadID int64) (*fulfillment.Order, error) {
	args := m.Called(ctx, leadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fulfillment.Order), args.Error(1)
}

type MockPassRunner struct {
	mock.Mock
}

func (m *MockPassRunner) RunShipmentPass(ctx context.Context) (*scheduler.PassReport, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*scheduler.PassReport), args.Error(1)
}

func (m *MockPassRunner) RunUntrackedPass(ctx context.Context) (*scheduler.PassReport, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*scheduler.PassReport), args.Error(1)
}

type testSession struct {
	trackers *MockTrackerService
	leads    *MockLeadSyncer
	orders   *MockOrderReader
	passes   *MockPassRunner
	closed   bool
	opened   int
}

func newTestSession() *testSession {
	return &testSession{
		trackers: new(MockTrackerService),
		leads:    new(MockLeadSyncer),
		orders:   new(MockOrderReader),
		passes:   new(MockPassRunner),
	}
}

func (ts *testSession) open(context.Context, *RootOptions) (*Session, error) {
	ts.opened++
	return &Session{
		Trackers: ts.trackers,
		Leads:    ts.leads,
		Orders:   ts.orders,
		Passes:   ts.passes,
		Close: func() error {
			ts.closed = true
			return nil
		},
	}, nil
}

func (ts *testSession) assertExpectations(t *testing.T) {
	t.Helper()
	ts.trackers.AssertExpectations(t)
	ts.leads.AssertExpectations(t)
	ts.orders.AssertExpectations(t)
	ts.passes.AssertExpectations(t)
}

// execute runs the root command with args and returns stdout
func execute(open Opener, args ...string) (string, error) {
	cmd := NewRootCommand(open)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}
