package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"crypto-price-alerts/internal/apperr"
	"crypto-price-alerts/internal/config"
)

// Push is an OS-level notification.
type Push struct {
	Title string
	Body  string
	Tag   string
}

// PushNotifier is the OS-level notification channel. Push is only attempted
// when the channel is both supported and permitted.
type PushNotifier interface {
	Supported() bool
	Permitted() bool
	Push(ctx context.Context, push Push) error
}

// TelegramNotifier delivers pushes through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	enabled  bool
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram push channel.
func NewTelegramNotifier(cfg config.PushConfig, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := cfg.Telegram.APIBase
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: cfg.Telegram.BotToken,
		chatID:   cfg.Telegram.ChatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		enabled:  cfg.Enabled,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "push_telegram").Logger(),
	}
}

// Supported reports whether bot credentials are present.
func (n *TelegramNotifier) Supported() bool {
	return n.botToken != "" && n.chatID != ""
}

// Permitted reports whether the user opted in to push notifications.
func (n *TelegramNotifier) Permitted() bool {
	return n.enabled
}

// Push calls the sendMessage API.
func (n *TelegramNotifier) Push(ctx context.Context, push Push) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderPush(push),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return apperr.Upstream("push", fmt.Errorf("send telegram request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apperr.UpstreamError{Source: "push", Status: resp.StatusCode, Err: fmt.Errorf("unexpected telegram status")}
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return apperr.Upstream("push", fmt.Errorf("telegram returned ok=false"))
	}

	n.logger.Debug().Str("tag", push.Tag).Msg("push delivered")
	return nil
}

func renderPush(push Push) string {
	var builder strings.Builder
	builder.WriteString(push.Title)
	builder.WriteString("\n")
	builder.WriteString(push.Body)
	if push.Tag != "" {
		builder.WriteString(fmt.Sprintf("\n[%s]", push.Tag))
	}
	return builder.String()
}

var _ PushNotifier = (*TelegramNotifier)(nil)
