package carrier

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCarrier struct {
	tokenCalls  atomic.Int32
	orderCalls  atomic.Int32
	orderStatus int
	orderBody   string
	// rejectFirst answers the first order request with 401
	rejectFirst bool
}

func (f *fakeCarrier) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/oauth/token":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
			assert.Equal(t, "id", r.PostForm.Get("client_id"))
			assert.Equal(t, "secret", r.PostForm.Get("client_secret"))
			n := f.tokenCalls.Add(1)
			_, _ = io.WriteString(w, `{"access_token":"tok-`+string(rune('0'+n))+`","token_type":"bearer","expires_in":3600}`)
		case "/v2/orders":
			n := f.orderCalls.Add(1)
			if f.rejectFirst && n == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			assert.Equal(t, "1234567890", r.URL.Query().Get("cdek_number"))
			assert.Contains(t, r.Header.Get("Authorization"), "Bearer tok-")
			status := f.orderStatus
			if status == 0 {
				status = http.StatusOK
			}
			w.WriteHeader(status)
			_, _ = io.WriteString(w, f.orderBody)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newTestClient(t *testing.T, fake *fakeCarrier, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	client, err := NewClient(config.CarrierConfig{
		BaseURL:      server.URL,
		ClientID:     "id",
		ClientSecret: "secret",
	}, nil, opts...)
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient(config.CarrierConfig{ClientID: "id"}, nil)
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestClient_IsValidTrackingNumber(t *testing.T) {
	client, err := NewClient(config.CarrierConfig{ClientID: "a", ClientSecret: "b", TrackerMinLength: 10, TrackerMaxLength: 10}, nil)
	require.NoError(t, err)

	assert.True(t, client.IsValidTrackingNumber("1234567890"))
	assert.True(t, client.IsValidTrackingNumber("1234-567-890"))
	assert.False(t, client.IsValidTrackingNumber("123456789"))
	assert.False(t, client.IsValidTrackingNumber("12345678901"))
	assert.False(t, client.IsValidTrackingNumber("12345ABCDE"))
	assert.False(t, client.IsValidTrackingNumber(""))
}

func TestClient_GetStatusCode_LatestStatus(t *testing.T) {
	fake := &fakeCarrier{orderBody: `{"entity": {"uuid": "u", "cdek_number": "1234567890", "statuses": [
		{"code": "ACCEPTED", "name": "Accepted", "date_time": "2026-03-01T10:00:00+0300"},
		{"code": "RECEIVED_AT_SHIPMENT_WAREHOUSE", "name": "At warehouse", "date_time": "2026-03-02T10:00:00+0300"},
		{"code": "CREATED", "name": "Created", "date_time": "2026-02-28T10:00:00+0300"}
	]}}`}
	client := newTestClient(t, fake)

	code, err := client.GetStatusCode(context.Background(), "1234 567 890")
	require.NoError(t, err)
	assert.Equal(t, "RECEIVED_AT_SHIPMENT_WAREHOUSE", code)

	_, err = client.GetStatusCode(context.Background(), "1234567890")
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.tokenCalls.Load(), "token is cached")
}

func TestClient_GetStatusCode_NotFound(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"http 404", http.StatusNotFound, ``},
		{"entity error", http.StatusBadRequest, `{"requests":[{"state":"INVALID","errors":[{"code":"v2_entity_not_found","message":"not found"}]}]}`},
		{"empty entity", http.StatusOK, `{"requests":[]}`},
		{"no statuses", http.StatusOK, `{"entity": {"uuid": "u", "cdek_number": "1234567890", "statuses": []}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, &fakeCarrier{orderStatus: tt.status, orderBody: tt.body})
			code, err := client.GetStatusCode(context.Background(), "1234567890")
			require.NoError(t, err)
			assert.Equal(t, fulfillment.StatusNotFound, code)
			assert.Equal(t, fulfillment.PhaseUnknown, fulfillment.Classify(code))
		})
	}
}

func TestClient_GetStatusCode_Upstream(t *testing.T) {
	client := newTestClient(t, &fakeCarrier{orderStatus: http.StatusServiceUnavailable})
	_, err := client.GetStatusCode(context.Background(), "1234567890")
	assert.ErrorIs(t, err, fulfillment.ErrGatewayUnavailable)

	client = newTestClient(t, &fakeCarrier{orderBody: `<html>`})
	_, err = client.GetStatusCode(context.Background(), "1234567890")
	assert.ErrorIs(t, err, fulfillment.ErrGatewayInvalidResponse)
}

func TestClient_GetStatusCode_InvalidTracker(t *testing.T) {
	fake := &fakeCarrier{}
	client := newTestClient(t, fake)
	_, err := client.GetStatusCode(context.Background(), "abc")
	assert.ErrorIs(t, err, fulfillment.ErrInvalidTracker)
	assert.Zero(t, fake.orderCalls.Load())
}

func TestClient_ReauthenticatesOnce(t *testing.T) {
	fake := &fakeCarrier{
		rejectFirst: true,
		orderBody:   `{"entity": {"statuses": [{"code": "DELIVERED", "date_time": "2026-03-05T10:00:00+0300"}]}}`,
	}
	client := newTestClient(t, fake)

	code, err := client.GetStatusCode(context.Background(), "1234567890")
	require.NoError(t, err)
	assert.Equal(t, "DELIVERED", code)
	assert.Equal(t, int32(2), fake.tokenCalls.Load())
	assert.Equal(t, int32(2), fake.orderCalls.Load())
}

func TestClient_TokenExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := &fakeCarrier{orderBody: `{"entity": {"statuses": [{"code": "CREATED"}]}}`}
	client := newTestClient(t, fake, WithClock(func() time.Time { return now }))

	_, err := client.GetStatusCode(context.Background(), "1234567890")
	require.NoError(t, err)
	now = now.Add(30 * time.Minute)
	_, err = client.GetStatusCode(context.Background(), "1234567890")
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.tokenCalls.Load())

	now = now.Add(time.Hour)
	_, err = client.GetStatusCode(context.Background(), "1234567890")
	require.NoError(t, err)
	assert.Equal(t, int32(2), fake.tokenCalls.Load())
}

func TestClient_TokenRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(config.CarrierConfig{BaseURL: server.URL, ClientID: "id", ClientSecret: "bad"}, nil)
	require.NoError(t, err)
	_, err = client.GetStatusCode(context.Background(), "1234567890")
	assert.ErrorIs(t, err, fulfillment.ErrGatewayAuthFailed)
}

func TestLatestStatus(t *testing.T) {
	assert.Equal(t, fulfillment.StatusNotFound, latestStatus(nil))
	assert.Equal(t, fulfillment.StatusNotFound, latestStatus([]orderStatus{{Code: " "}}))
	assert.Equal(t, "A", latestStatus([]orderStatus{{Code: "A"}, {Code: "B"}}), "unparseable dates keep carrier order")
}
