// Package notify sends alerts for critical violations to Telegram.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultAPIBase is the Telegram Bot API root
const DefaultAPIBase = "https://api.telegram.org"

// ErrDisabled is returned when sending through a disabled or unconfigured bot
var ErrDisabled = errors.New("telegram bot is disabled")

// Config holds Telegram bot configuration
type Config struct {
	BotToken        string
	ChatID          string
	Enabled         bool
	CooldownSeconds int
	APIBase         string
}

// TelegramResponse represents the response from Telegram API
type TelegramResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// TelegramBot handles Telegram bot operations
type TelegramBot struct {
	botToken   string
	chatID     string
	apiBase    string
	enabled    bool
	httpClient *http.Client
	mu         sync.RWMutex
}

// NewTelegramBot creates a new Telegram bot instance
func NewTelegramBot(config Config) *TelegramBot {
	apiBase := config.APIBase
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	return &TelegramBot{
		botToken:   config.BotToken,
		chatID:     config.ChatID,
		apiBase:    strings.TrimSuffix(apiBase, "/"),
		enabled:    config.Enabled,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ValidateConfig validates the Telegram bot configuration
func ValidateConfig(config Config) error {
	if config.Enabled {
		if config.BotToken == "" {
			return fmt.Errorf("telegram bot token is required when enabled")
		}
		if config.ChatID == "" {
			return fmt.Errorf("telegram chat ID is required when enabled")
		}
	}
	if config.CooldownSeconds < 0 {
		return fmt.Errorf("cooldown seconds cannot be negative")
	}
	return nil
}

// IsEnabled returns whether the bot is enabled and configured
func (tb *TelegramBot) IsEnabled() bool {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return tb.enabled && tb.botToken != "" && tb.chatID != ""
}

// SetEnabled enables or disables the bot
func (tb *TelegramBot) SetEnabled(enabled bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.enabled = enabled
}

// SendMessage sends an HTML text message
func (tb *TelegramBot) SendMessage(ctx context.Context, message string) error {
	if !tb.IsEnabled() {
		return ErrDisabled
	}

	tb.mu.RLock()
	payload := map[string]any{
		"chat_id":    tb.chatID,
		"text":       message,
		"parse_mode": "HTML",
	}
	tb.mu.RUnlock()

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tb.methodURL("sendMessage"), bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = tb.do(req)
	return err
}

// SendPhoto sends a JPEG photo with an optional HTML caption
func (tb *TelegramBot) SendPhoto(ctx context.Context, photoData []byte, filename, caption string) error {
	if !tb.IsEnabled() {
		return ErrDisabled
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	tb.mu.RLock()
	chatID := tb.chatID
	tb.mu.RUnlock()

	if err := writer.WriteField("chat_id", chatID); err != nil {
		return fmt.Errorf("failed to write chat_id field: %w", err)
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return fmt.Errorf("failed to write caption field: %w", err)
		}
		if err := writer.WriteField("parse_mode", "HTML"); err != nil {
			return fmt.Errorf("failed to write parse_mode field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("photo", filename)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(photoData); err != nil {
		return fmt.Errorf("failed to write photo data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tb.methodURL("sendPhoto"), &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	_, err = tb.do(req)
	return err
}

// GetBotInfo retrieves information about the bot
func (tb *TelegramBot) GetBotInfo(ctx context.Context) (map[string]any, error) {
	tb.mu.RLock()
	token := tb.botToken
	tb.mu.RUnlock()
	if token == "" {
		return nil, fmt.Errorf("bot token not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tb.methodURL("getMe"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := tb.do(req)
	if err != nil {
		return nil, err
	}

	var info map[string]any
	if err := json.Unmarshal(resp.Result, &info); err != nil {
		return nil, fmt.Errorf("unexpected response format: %w", err)
	}
	return info, nil
}

func (tb *TelegramBot) methodURL(method string) string {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return fmt.Sprintf("%s/bot%s/%s", tb.apiBase, tb.botToken, method)
}

// do sends the request and decodes the Telegram envelope
func (tb *TelegramBot) do(req *http.Request) (*TelegramResponse, error) {
	resp, err := tb.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var telegramResp TelegramResponse
	if err := json.Unmarshal(body, &telegramResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !telegramResp.OK {
		return nil, fmt.Errorf("telegram API error %d: %s", telegramResp.ErrorCode, telegramResp.Description)
	}
	return &telegramResp, nil
}
