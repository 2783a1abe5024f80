package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/apperr"
	"crypto-price-alerts/internal/config"
	"crypto-price-alerts/internal/storage"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func sampleAlert() storage.Alert {
	return storage.Alert{
		ID:          "42",
		UserID:      "alice",
		Coin:        "bitcoin",
		CoinName:    "Bitcoin",
		TargetPrice: decimal.NewFromInt(49000),
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/bottoken/sendMessage") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier(config.PushConfig{
		Enabled:  true,
		Telegram: config.TelegramConfig{BotToken: "token", ChatID: "chat", APIBase: srv.URL},
	}, time.Second, testLogger())

	if !notifier.Supported() || !notifier.Permitted() {
		t.Fatal("configured notifier should be supported and permitted")
	}
	if err := notifier.Push(context.Background(), Push{Title: "Alert Triggered! 🎯", Body: "body", Tag: "alert-42"}); err != nil {
		t.Fatalf("push should succeed: %v", err)
	}
	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id mismatch: %#v", received)
	}
	if !strings.Contains(received["text"], "alert-42") {
		t.Fatalf("tag missing from text: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier(config.PushConfig{
		Telegram: config.TelegramConfig{BotToken: "token", ChatID: "chat", APIBase: srv.URL},
	}, time.Second, testLogger())

	if notifier.Permitted() {
		t.Fatal("push is opt-in")
	}
	if err := notifier.Push(context.Background(), Push{Title: "t"}); !apperr.IsUpstream(err) {
		t.Fatalf("ok=false should be an upstream error, got %v", err)
	}
}

func TestBoardAddRemoveClear(t *testing.T) {
	board := NewBoard()
	events, cancel := board.Subscribe(8)
	defer cancel()

	first, err := board.Add(Banner{Title: "one"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if first.ID == "" || first.Kind != KindInfo {
		t.Fatalf("id and default kind expected, got %+v", first)
	}
	if _, err := board.Add(Banner{Title: "two", Kind: KindError}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if ev := <-events; ev.Type != EventAdded || ev.Banner.Title != "one" {
		t.Fatalf("unexpected event %+v", ev)
	}

	if !board.Remove(first.ID) || board.Remove(first.ID) {
		t.Fatal("remove should succeed exactly once")
	}
	if got := board.List(); len(got) != 1 || got[0].Title != "two" {
		t.Fatalf("unexpected banners %+v", got)
	}
	if n := board.Clear(); n != 1 || len(board.List()) != 0 {
		t.Fatalf("clear removed %d", n)
	}
}

func TestBoardRejectsTooManyActions(t *testing.T) {
	noop := func(context.Context) error { return nil }
	_, err := NewBoard().Add(Banner{Actions: []Action{{"a", noop}, {"b", noop}, {"c", noop}}})
	if err == nil {
		t.Fatal("three actions should be rejected")
	}
}

func TestBoardInvokeRemovesEvenOnFailure(t *testing.T) {
	board := NewBoard()
	ran := false
	boom := errors.New("boom")
	banner, err := board.Add(Banner{Actions: []Action{
		{Label: "Retry", Effect: func(context.Context) error { ran = true; return boom }},
	}})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := board.Invoke(context.Background(), banner.ID, 1); !errors.Is(err, ErrActionNotFound) {
		t.Fatalf("expected ErrActionNotFound, got %v", err)
	}
	if err := board.Invoke(context.Background(), banner.ID, 0); !errors.Is(err, boom) {
		t.Fatalf("effect error should surface, got %v", err)
	}
	if !ran || len(board.List()) != 0 {
		t.Fatal("banner should be removed after its action ran")
	}
	if err := board.Invoke(context.Background(), banner.ID, 0); !errors.Is(err, ErrBannerNotFound) {
		t.Fatalf("expected ErrBannerNotFound, got %v", err)
	}
}

func TestRelayClientSendAlertTriggered(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/email/alert-triggered" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer srv.Close()

	client := NewRelayClient(srv.URL+"/api/", time.Second, testLogger())
	if err := client.SendAlertTriggered(context.Background(), "a@b.co", sampleAlert(), decimal.NewFromInt(50000)); err != nil {
		t.Fatalf("send: %v", err)
	}
	alert, _ := body["alert"].(map[string]any)
	if body["userEmail"] != "a@b.co" || alert["target_price"] != float64(49000) || alert["current_price"] != float64(50000) {
		t.Fatalf("unexpected payload %#v", body)
	}
}

func TestRelayClientSurfacesRelayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Invalid email address"}`))
	}))
	defer srv.Close()

	client := NewRelayClient(srv.URL, time.Second, testLogger())
	err := client.SendPriceUpdate(context.Background(), "bad", "Bitcoin", decimal.NewFromInt(1), decimal.NewFromInt(2))
	var upstream *apperr.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if upstream.Status != http.StatusBadRequest || !strings.Contains(upstream.Error(), "Invalid email address") {
		t.Fatalf("unexpected error %v", upstream)
	}
}

type recordingMailer struct {
	mu        sync.Mutex
	triggered []string
	updates   []string
	err       error
}

func (m *recordingMailer) SendAlertTriggered(ctx context.Context, email string, alert storage.Alert, price decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggered = append(m.triggered, email+"|"+alert.ID+"|"+price.String())
	return m.err
}

func (m *recordingMailer) SendPriceUpdate(ctx context.Context, email, coinName string, price, target decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, coinName+"|"+price.String()+"|"+target.String())
	return m.err
}

type fakePush struct {
	supported, permitted bool
	pushes               []Push
	err                  error
}

func (p *fakePush) Supported() bool { return p.supported }
func (p *fakePush) Permitted() bool { return p.permitted }
func (p *fakePush) Push(ctx context.Context, push Push) error {
	p.pushes = append(p.pushes, push)
	return p.err
}

func TestDispatcherNotifyTriggered(t *testing.T) {
	mailer := &recordingMailer{err: errors.New("smtp down")}
	push := &fakePush{supported: true, permitted: true, err: errors.New("blocked")}
	d := NewDispatcher(DispatcherOptions{Push: push, Mailer: mailer, UserEmail: "a@b.co"}, testLogger())

	banner := d.NotifyTriggered(context.Background(), sampleAlert(), decimal.NewFromInt(50000))
	d.Wait()

	if banner.Title != "Alert Triggered!" || banner.Kind != KindSuccess || !strings.Contains(banner.Message, "49000") {
		t.Fatalf("unexpected banner %+v", banner)
	}
	if len(d.Board().List()) != 1 {
		t.Fatal("banner should be on the board")
	}
	if len(push.pushes) != 1 || push.pushes[0].Tag != "alert-42" || !strings.Contains(push.pushes[0].Body, "49,000") {
		t.Fatalf("unexpected pushes %+v", push.pushes)
	}
	if len(mailer.triggered) != 1 || mailer.triggered[0] != "a@b.co|42|50000" {
		t.Fatalf("unexpected emails %+v", mailer.triggered)
	}
}

func TestDispatcherSkipsUnpermittedPushAndMissingEmail(t *testing.T) {
	mailer := &recordingMailer{}
	push := &fakePush{supported: true}
	d := NewDispatcher(DispatcherOptions{Push: push, Mailer: mailer}, testLogger())

	d.NotifyTriggered(context.Background(), sampleAlert(), decimal.NewFromInt(50000))
	d.NotifyNearTarget(context.Background(), sampleAlert(), decimal.NewFromInt(45000), decimal.NewFromInt(49000))
	d.Wait()

	if len(push.pushes) != 0 {
		t.Fatal("push without permission must not be attempted")
	}
	if len(mailer.triggered)+len(mailer.updates) != 0 {
		t.Fatal("no email without a user address")
	}
}

func TestDispatcherNearTargetAndAnnounce(t *testing.T) {
	mailer := &recordingMailer{}
	d := NewDispatcher(DispatcherOptions{
		Mailer:    mailer,
		UserEmail: "a@b.co",
		Actions: func(alert storage.Alert) []Action {
			return []Action{{Label: "Remove alert", Effect: func(context.Context) error { return nil }}}
		},
	}, testLogger())

	d.NotifyNearTarget(context.Background(), sampleAlert(), decimal.NewFromInt(45000), decimal.NewFromInt(49000))
	d.Wait()
	if len(mailer.updates) != 1 || mailer.updates[0] != "Bitcoin|45000|49000" {
		t.Fatalf("unexpected updates %+v", mailer.updates)
	}
	if len(d.Board().List()) != 0 {
		t.Fatal("near target posts no banner")
	}

	banner := d.Announce(sampleAlert())
	if len(banner.Actions) != 1 || banner.Actions[0].Label != "Remove alert" {
		t.Fatalf("expected action on announced banner, got %+v", banner.Actions)
	}
	if len(mailer.triggered) != 0 {
		t.Fatal("announce must not email")
	}
}

func TestFormatUSD(t *testing.T) {
	cases := map[string]string{
		"49000":      "49,000",
		"49000.50":   "49,000.5",
		"0.123456":   "0.123",
		"1234567.89": "1,234,567.89",
	}
	for in, want := range cases {
		if got := FormatUSD(decimal.RequireFromString(in)); got != want {
			t.Fatalf("FormatUSD(%s) = %s, want %s", in, got, want)
		}
	}
}
