package ordersync

import (
	"context"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/erp/fulfillment/internal/application/delivery"
	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/domain/shared"
	"github.com/erp/fulfillment/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	pipelineID     int64 = 55
	trackerFieldID int64 = 10
	pickupFieldID  int64 = 11
	dateFieldID    int64 = 12
	commentFieldID int64 = 13
)

func newTestService(t *testing.T) (*Service, *testutil.MemoryOrderStore, *testutil.MockCrmGateway) {
	t.Helper()
	store := testutil.NewMemoryOrderStore()
	crm := new(testutil.MockCrmGateway)
	t.Cleanup(func() { crm.AssertExpectations(t) })

	reconciler := delivery.NewReconciler(store, crm, new(testutil.MockCarrierGateway), delivery.Config{})
	svc := NewService(store, crm, reconciler, Config{
		PipelineID:          pipelineID,
		TrackerFieldID:      trackerFieldID,
		PickupFieldID:       pickupFieldID,
		PurchaseDateFieldID: dateFieldID,
		CommentFieldID:      commentFieldID,
	}, zaptest.NewLogger(t))
	return svc, store, crm
}

func fakeContact(faker *gofakeit.Faker, id int64) *fulfillment.Contact {
	return &fulfillment.Contact{ID: id, Name: faker.Name(), Phone: faker.Phone()}
}

func TestSyncLead_CreatesOrder(t *testing.T) {
	svc, store, crm := newTestService(t)
	faker := gofakeit.New(42)
	contact := fakeContact(faker, 900)
	pickup := faker.Address().Address

	crm.On("GetLead", mock.Anything, int64(1)).Return(&fulfillment.Lead{
		ID:            1,
		PipelineID:    pipelineID,
		MainContactID: 900,
		CustomFields: map[int64]string{
			trackerFieldID: "1234-567-890",
			pickupFieldID:  pickup,
			dateFieldID:    "1704067200",
			commentFieldID: "fragile",
		},
	}, nil)
	crm.On("GetContact", mock.Anything, int64(900)).Return(contact, nil)
	crm.On("GetProductsForLead", mock.Anything, int64(1)).Return([]fulfillment.Product{
		{ID: 5, CatalogID: 3, Name: faker.ProductName(), Quantity: 2, Price: decimal.RequireFromString("10.50")},
		{ID: 6, CatalogID: 3, Name: "  ", Quantity: 1},
		{ID: 7, CatalogID: 3, Name: faker.ProductName(), Quantity: 1, Price: decimal.NewFromInt(4)},
	}, nil)

	result, err := svc.SyncLead(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, 2, result.ItemCount)
	require.NotNil(t, result.LinkResult)
	assert.True(t, result.LinkResult.IsApplied())

	stored := store.Get(1)
	require.NotNil(t, stored)
	assert.Equal(t, contact.Name, stored.ContactName)
	assert.Equal(t, contact.Phone, stored.ContactPhone)
	assert.Equal(t, pickup, stored.PickupLocation)
	assert.Equal(t, "fragile", stored.Comment)
	require.NotNil(t, stored.PurchaseDate)
	assert.True(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Equal(*stored.PurchaseDate))
	assert.Equal(t, "1234567890", stored.Tracker)
	require.Len(t, stored.Items, 2)
	assert.True(t, stored.Total().Equal(decimal.NewFromInt(25)))
}

func TestSyncLead_UpdatesExistingAndKeepsTracker(t *testing.T) {
	svc, store, crm := newTestService(t)
	existing, err := fulfillment.NewOrder(2)
	require.NoError(t, err)
	_, err = existing.LinkTracker("1111111111")
	require.NoError(t, err)
	require.NoError(t, existing.ReplaceItems([]fulfillment.OrderItem{{ProductName: "old", Quantity: 1}}))
	require.NoError(t, store.Save(context.Background(), existing))

	crm.On("GetLead", mock.Anything, int64(2)).Return(&fulfillment.Lead{
		ID:           2,
		PipelineID:   pipelineID,
		CustomFields: map[int64]string{trackerFieldID: "2222222222"},
	}, nil)
	crm.On("GetProductsForLead", mock.Anything, int64(2)).Return([]fulfillment.Product{
		{ID: 8, Name: "new", Quantity: 3},
	}, nil)

	result, err := svc.SyncLead(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, result.Created)
	require.NotNil(t, result.LinkResult)
	assert.Equal(t, fulfillment.SkipTrackerAlreadySet, result.LinkResult.Reason)

	stored := store.Get(2)
	assert.Equal(t, "1111111111", stored.Tracker)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, "new", stored.Items[0].ProductName)
	assert.Equal(t, 3, stored.Items[0].Quantity)
}

func TestSyncLead_OtherPipeline(t *testing.T) {
	svc, store, crm := newTestService(t)
	crm.On("GetLead", mock.Anything, int64(3)).Return(&fulfillment.Lead{ID: 3, PipelineID: 99}, nil)

	result, err := svc.SyncLead(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, SkipOtherPipeline, result.Reason)
	assert.Nil(t, store.Get(3))
}

func TestSyncLead_Errors(t *testing.T) {
	t.Run("invalid lead id", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, err := svc.SyncLead(context.Background(), 0)
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})

	t.Run("lead not found", func(t *testing.T) {
		svc, _, crm := newTestService(t)
		crm.On("GetLead", mock.Anything, int64(4)).Return(nil, shared.ErrNotFound)
		_, err := svc.SyncLead(context.Background(), 4)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("crm unavailable", func(t *testing.T) {
		svc, store, crm := newTestService(t)
		crm.On("GetLead", mock.Anything, int64(5)).Return(&fulfillment.Lead{ID: 5, PipelineID: pipelineID}, nil)
		crm.On("GetProductsForLead", mock.Anything, int64(5)).Return(nil, fulfillment.ErrGatewayUnavailable)
		_, err := svc.SyncLead(context.Background(), 5)
		assert.ErrorIs(t, err, shared.ErrUpstreamFailure)
		assert.ErrorIs(t, err, fulfillment.ErrGatewayUnavailable)
		assert.Nil(t, store.Get(5))
	})

	t.Run("missing contact is tolerated", func(t *testing.T) {
		svc, store, crm := newTestService(t)
		crm.On("GetLead", mock.Anything, int64(6)).Return(&fulfillment.Lead{ID: 6, PipelineID: pipelineID, MainContactID: 77}, nil)
		crm.On("GetContact", mock.Anything, int64(77)).Return(nil, shared.ErrNotFound)
		crm.On("GetProductsForLead", mock.Anything, int64(6)).Return([]fulfillment.Product{}, nil)
		result, err := svc.SyncLead(context.Background(), 6)
		require.NoError(t, err)
		assert.True(t, result.Created)
		assert.Empty(t, store.Get(6).ContactName)
	})
}

func TestParseCrmDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"1704067200", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"2024-03-05", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), true},
		{"05.03.2024", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), true},
		{"2024-03-05T10:00:00+03:00", time.Date(2024, 3, 5, 7, 0, 0, 0, time.UTC), true},
		{"tomorrow", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCrmDate(tt.in)
			if !tt.ok {
				assert.ErrorIs(t, err, shared.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}
