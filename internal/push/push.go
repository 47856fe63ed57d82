// Package push implements the two outbound alert channels (Telegram, LINE),
// grounded on RohanRaikwar-algo-sys-v1's internal/notification Telegram/Webhook
// notifiers, generalized to the two providers spec.md §4.5 requires.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Channel is a push-notification backend. A channel is "successful" iff the
// remote returns 2xx; non-2xx and transport errors are logged but never
// raised to the caller (spec.md §4.5 Delivery).
type Channel interface {
	Send(ctx context.Context, text string) (ok bool)
	Name() string
	Configured() bool
}

// TelegramChannel sends messages via the Telegram Bot API with link
// previews disabled, per spec.md §4.5.
type TelegramChannel struct {
	botToken string
	chatID   string
	client   *http.Client
	logger   *zap.Logger
}

func NewTelegramChannel(botToken, chatID string, timeout time.Duration, logger *zap.Logger) *TelegramChannel {
	return &TelegramChannel{
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

func (t *TelegramChannel) Name() string { return "telegram" }

// Configured reports whether credentials are present; an unconfigured
// channel is skipped and counts as a failed send (spec.md §4.5).
func (t *TelegramChannel) Configured() bool {
	return t.botToken != "" && t.chatID != ""
}

func (t *TelegramChannel) Send(ctx context.Context, text string) bool {
	if !t.Configured() {
		t.logger.Debug("telegram not configured, skipping")
		return false
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	body, err := json.Marshal(map[string]interface{}{
		"chat_id":                  t.chatID,
		"text":                     text,
		"disable_web_page_preview": true,
		"parse_mode":               "HTML",
	})
	if err != nil {
		t.logger.Error("telegram marshal failed", zap.Error(err))
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.logger.Error("telegram request build failed", zap.Error(err))
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Error("telegram send failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.logger.Error("telegram returned non-2xx", zap.Int("status", resp.StatusCode))
		return false
	}
	return true
}

// LINEChannel sends push messages via the LINE Messaging API, stripping
// rich-text markup before sending (spec.md §4.5).
type LINEChannel struct {
	channelToken string
	to           string
	client       *http.Client
	logger       *zap.Logger
}

func NewLINEChannel(channelToken, to string, timeout time.Duration, logger *zap.Logger) *LINEChannel {
	return &LINEChannel{
		channelToken: channelToken,
		to:           to,
		client:       &http.Client{Timeout: timeout},
		logger:       logger,
	}
}

func (l *LINEChannel) Name() string { return "line" }

func (l *LINEChannel) Configured() bool {
	return l.channelToken != "" && l.to != ""
}

func (l *LINEChannel) Send(ctx context.Context, text string) bool {
	if !l.Configured() {
		l.logger.Debug("line not configured, skipping")
		return false
	}

	body, err := json.Marshal(map[string]interface{}{
		"to": l.to,
		"messages": []map[string]string{
			{"type": "text", "text": StripMarkup(text)},
		},
	})
	if err != nil {
		l.logger.Error("line marshal failed", zap.Error(err))
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.line.me/v2/bot/message/push", bytes.NewReader(body))
	if err != nil {
		l.logger.Error("line request build failed", zap.Error(err))
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.channelToken)

	resp, err := l.client.Do(req)
	if err != nil {
		l.logger.Error("line send failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		l.logger.Error("line returned non-2xx", zap.Int("status", resp.StatusCode))
		return false
	}
	return true
}

// StripMarkup removes the HTML markup the Telegram formatter emits, since
// LINE's text message type has no rich-text support (spec.md §4.5).
func StripMarkup(s string) string {
	replacer := strings.NewReplacer(
		"<b>", "", "</b>", "",
		"<i>", "", "</i>", "",
		"<a href=\"", "", "\">", " ", "</a>", "",
	)
	return replacer.Replace(s)
}
