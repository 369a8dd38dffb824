package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"invest_go/internal/domain"
)

func newServerNotifier(t *testing.T, handler func(body map[string]any)) (*Telegram, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/bottok-1/sendMessage") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if handler != nil {
			handler(body)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)

	tg := NewTelegram("tok-1", "chat-1", true)
	tg.apiBase = srv.URL
	return tg, srv
}

func TestTelegramSend(t *testing.T) {
	var got map[string]any
	tg, _ := newServerNotifier(t, func(body map[string]any) { got = body })

	tg.Send(context.Background(), "hello", 0)

	if got == nil {
		t.Fatal("no request reached the server")
	}
	if got["chat_id"] != "chat-1" || got["text"] != "hello" {
		t.Errorf("payload = %v", got)
	}
}

func TestTelegramThrottle(t *testing.T) {
	sent := 0
	tg, _ := newServerNotifier(t, func(map[string]any) { sent++ })

	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	tg.now = func() time.Time { return base }
	tg.Send(context.Background(), "first", time.Minute)

	tg.now = func() time.Time { return base.Add(30 * time.Second) }
	tg.Send(context.Background(), "suppressed", time.Minute)

	tg.now = func() time.Time { return base.Add(2 * time.Minute) }
	tg.Send(context.Background(), "second", time.Minute)

	if sent != 2 {
		t.Errorf("sent = %d, want 2 (middle message throttled)", sent)
	}
}

func TestTelegramDisabledIsNoop(t *testing.T) {
	// Missing chat id disables the notifier regardless of the flag.
	tg := NewTelegram("tok-1", "", true)
	tg.apiBase = "http://127.0.0.1:1" // would fail loudly if contacted
	tg.Send(context.Background(), "nope", 0)
}

func TestSinkForwardsActionableKinds(t *testing.T) {
	var texts []string
	tg, _ := newServerNotifier(t, func(body map[string]any) {
		texts = append(texts, body["text"].(string))
	})
	sink := NewSink(tg)
	ctx := context.Background()

	events := []domain.AuditEvent{
		{Kind: domain.AuditFill, Ticker: "SBER", Side: domain.SideBuy, Lots: 2, Price: decimal.NewFromFloat(100.05)},
		{Kind: domain.AuditSubmit, Ticker: "SBER"}, // not forwarded
		{Kind: domain.AuditLost, Ticker: "GAZP", OrderID: "o-9"},
	}
	for _, ev := range events {
		if err := sink.Record(ctx, ev); err != nil {
			t.Fatalf("Record(%s): %v", ev.Kind, err)
		}
	}

	if len(texts) != 2 {
		t.Fatalf("forwarded %d messages, want 2: %v", len(texts), texts)
	}
	if !strings.Contains(texts[0], "FILLED BUY SBER 2 lots") {
		t.Errorf("fill text = %q", texts[0])
	}
	if !strings.Contains(texts[1], "LOST order o-9") {
		t.Errorf("lost text = %q", texts[1])
	}
}
