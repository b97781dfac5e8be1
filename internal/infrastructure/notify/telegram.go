// Package notify delivers operator notifications to a chat.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/infrastructure/config"
	"go.uber.org/zap"
)

// ErrMissingBotSettings is returned when the bot token or chat id is empty
var ErrMissingBotSettings = errors.New("notify: bot token and chat id are required")

// TelegramNotifier posts messages through the Telegram Bot API
type TelegramNotifier struct {
	baseURL    string
	botToken   string
	chatID     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewTelegramNotifier creates a notifier from configuration
func NewTelegramNotifier(cfg config.NotifyConfig, logger *zap.Logger) (*TelegramNotifier, error) {
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return nil, ErrMissingBotSettings
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TelegramNotifier{
		baseURL:    strings.TrimRight(baseURL, "/"),
		botToken:   cfg.BotToken,
		chatID:     cfg.ChatID,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("notify"),
	}, nil
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Notify sends message to the configured chat
func (n *TelegramNotifier) Notify(ctx context.Context, message string) error {
	payload, err := json.Marshal(sendMessageRequest{
		ChatID:                n.chatID,
		Text:                  message,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("notify: failed to marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", fulfillment.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var result sendMessageResponse
	_ = json.Unmarshal(body, &result)

	if resp.StatusCode == http.StatusTooManyRequests {
		return fulfillment.ErrGatewayRateLimited
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: HTTP %d", fulfillment.ErrGatewayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 || !result.OK {
		return fmt.Errorf("%w: %s", fulfillment.ErrGatewayRequestFailed, result.Description)
	}
	return nil
}

// NopNotifier drops every message
type NopNotifier struct{}

// Notify does nothing
func (NopNotifier) Notify(context.Context, string) error { return nil }

// New returns a Telegram notifier when enabled, otherwise a NopNotifier
func New(cfg config.NotifyConfig, logger *zap.Logger) (fulfillment.Notifier, error) {
	if !cfg.Enabled {
		return NopNotifier{}, nil
	}
	return NewTelegramNotifier(cfg, logger)
}
