package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegramNotifier_Notify(t *testing.T) {
	var got sendMessageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot123:abc/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer server.Close()

	n, err := NewTelegramNotifier(config.NotifyConfig{BaseURL: server.URL, BotToken: "123:abc", ChatID: "-100"}, nil)
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), "Lead 42 shipped: 1234567890"))
	assert.Equal(t, "-100", got.ChatID)
	assert.Equal(t, "Lead 42 shipped: 1234567890", got.Text)
}

func TestTelegramNotifier_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"bad request", http.StatusBadRequest, `{"ok":false,"description":"chat not found"}`, fulfillment.ErrGatewayRequestFailed},
		{"rate limited", http.StatusTooManyRequests, `{"ok":false}`, fulfillment.ErrGatewayRateLimited},
		{"server error", http.StatusBadGateway, ``, fulfillment.ErrGatewayUnavailable},
		{"not ok", http.StatusOK, `{"ok":false}`, fulfillment.ErrGatewayRequestFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			n, err := NewTelegramNotifier(config.NotifyConfig{BaseURL: server.URL, BotToken: "t", ChatID: "c"}, nil)
			require.NoError(t, err)
			assert.ErrorIs(t, n.Notify(context.Background(), "x"), tt.want)
		})
	}
}

func TestNew(t *testing.T) {
	n, err := New(config.NotifyConfig{}, nil)
	require.NoError(t, err)
	assert.IsType(t, NopNotifier{}, n)
	assert.NoError(t, n.Notify(context.Background(), "ignored"))

	_, err = New(config.NotifyConfig{Enabled: true}, nil)
	assert.ErrorIs(t, err, ErrMissingBotSettings)
}
