// Package notify pushes trade notifications to Telegram. Delivery is best
// effort: a dead chat or a flaky network must never take the bot down.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"invest_go/internal/domain"
)

const sendTimeout = 10 * time.Second

// Telegram sends messages through the Bot API sendMessage method.
type Telegram struct {
	enabled bool
	token   string
	chatID  string
	apiBase string
	client  *http.Client

	lastSent time.Time
	now      func() time.Time
}

// NewTelegram creates a notifier. When token or chat id is empty the
// notifier is disabled and every Send becomes a no-op.
func NewTelegram(token, chatID string, enabled bool) *Telegram {
	return &Telegram{
		enabled: enabled && token != "" && chatID != "",
		token:   token,
		chatID:  chatID,
		apiBase: "https://api.telegram.org",
		client:  &http.Client{Timeout: sendTimeout},
		now:     time.Now,
	}
}

// Send posts the text to the chat. throttle > 0 drops the message when the
// previous one went out less than throttle ago. Errors are logged, never
// returned.
func (t *Telegram) Send(ctx context.Context, text string, throttle time.Duration) {
	if !t.enabled {
		return
	}
	now := t.now()
	if throttle > 0 && now.Sub(t.lastSent) < throttle {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"chat_id":                  t.chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	})
	if err != nil {
		slog.Warn("telegram payload marshal failed", slog.Any("error", err))
		return
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		slog.Warn("telegram request build failed", slog.Any("error", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		slog.Warn("telegram send failed", slog.Any("error", err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		slog.Warn("telegram send rejected", slog.Int("status", resp.StatusCode))
		return
	}
	t.lastSent = now
}

// Sink adapts the notifier to the audit pipeline. Only events a human
// would act on are forwarded.
type Sink struct {
	tg *Telegram
}

func NewSink(tg *Telegram) *Sink { return &Sink{tg: tg} }

// Record forwards fills, rejects, expiries and lost orders to the chat.
// It always returns nil.
func (s *Sink) Record(ctx context.Context, ev domain.AuditEvent) error {
	var text string
	switch ev.Kind {
	case domain.AuditFill:
		text = fmt.Sprintf("FILLED %s %s %d lots @ %s", ev.Side, ev.Ticker, ev.Lots, ev.Price.StringFixed(4))
	case domain.AuditReject:
		text = fmt.Sprintf("REJECTED %s %s: %s", ev.Side, ev.Ticker, ev.Reason)
	case domain.AuditExpire:
		text = fmt.Sprintf("EXPIRED %s %s order %s", ev.Side, ev.Ticker, ev.OrderID)
	case domain.AuditLost:
		text = fmt.Sprintf("LOST order %s on %s, check the account manually", ev.OrderID, ev.Ticker)
	default:
		return nil
	}
	s.tg.Send(ctx, text, 0)
	return nil
}
