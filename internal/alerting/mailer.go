package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/apperr"
	"crypto-price-alerts/internal/storage"
)

// Mailer requests outbound emails.
type Mailer interface {
	SendAlertTriggered(ctx context.Context, email string, alert storage.Alert, price decimal.Decimal) error
	SendPriceUpdate(ctx context.Context, email, coinName string, price, target decimal.Decimal) error
}

// RelayAlert is the alert payload exchanged with the notification relay.
// Prices travel as JSON numbers.
type RelayAlert struct {
	ID           string      `json:"id,omitempty"`
	Coin         string      `json:"coin"`
	CoinName     string      `json:"coin_name"`
	TargetPrice  json.Number `json:"target_price"`
	CurrentPrice json.Number `json:"current_price,omitempty"`
	Triggered    bool        `json:"triggered"`
	TriggeredAt  *time.Time  `json:"triggered_at,omitempty"`
	CreatedAt    *time.Time  `json:"created_at,omitempty"`
}

// NewRelayAlert converts a stored alert. price overrides the stored current
// price when set.
func NewRelayAlert(alert storage.Alert, price *decimal.Decimal) RelayAlert {
	out := RelayAlert{
		ID:          alert.ID,
		Coin:        alert.Coin,
		CoinName:    alert.CoinName,
		TargetPrice: json.Number(alert.TargetPrice.String()),
		Triggered:   alert.Triggered,
		TriggeredAt: alert.TriggeredAt,
	}
	if !alert.CreatedAt.IsZero() {
		created := alert.CreatedAt
		out.CreatedAt = &created
	}
	if price == nil {
		price = alert.CurrentPrice
	}
	if price != nil {
		out.CurrentPrice = json.Number(price.String())
	}
	return out
}

// RelayClient talks to the notification relay HTTP API.
type RelayClient struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewRelayClient builds a relay client. baseURL includes the /api prefix.
func NewRelayClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *RelayClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RelayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "relay_client").Logger(),
	}
}

// SendAlertTriggered posts to /email/alert-triggered.
func (c *RelayClient) SendAlertTriggered(ctx context.Context, email string, alert storage.Alert, price decimal.Decimal) error {
	payload := struct {
		UserEmail string     `json:"userEmail"`
		Alert     RelayAlert `json:"alert"`
	}{UserEmail: email, Alert: NewRelayAlert(alert, &price)}
	return c.post(ctx, "/email/alert-triggered", payload)
}

// SendPriceUpdate posts to /email/price-update.
func (c *RelayClient) SendPriceUpdate(ctx context.Context, email, coinName string, price, target decimal.Decimal) error {
	payload := struct {
		UserEmail    string      `json:"userEmail"`
		CoinName     string      `json:"coinName"`
		CurrentPrice json.Number `json:"currentPrice"`
		TargetPrice  json.Number `json:"targetPrice"`
	}{
		UserEmail:    email,
		CoinName:     coinName,
		CurrentPrice: json.Number(price.String()),
		TargetPrice:  json.Number(target.String()),
	}
	return c.post(ctx, "/email/price-update", payload)
}

// RegisterAlert posts to /alerts so the relay tracks the alert for email.
func (c *RelayClient) RegisterAlert(ctx context.Context, email string, alert storage.Alert) error {
	payload := struct {
		UserEmail string     `json:"userEmail"`
		Alert     RelayAlert `json:"alert"`
	}{UserEmail: email, Alert: NewRelayAlert(alert, nil)}
	return c.post(ctx, "/alerts", payload)
}

// Health checks GET /health.
func (c *RelayClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return apperr.Upstream("mail_relay", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return parseRelayError(resp)
	}
	return nil
}

func (c *RelayClient) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal relay payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return apperr.Upstream("mail_relay", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseRelayError(resp)
	}
	c.logger.Debug().Str("path", path).Msg("relay request accepted")
	return nil
}

func parseRelayError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}
	if msg == "" {
		msg = "Failed to send email"
	}
	return &apperr.UpstreamError{Source: "mail_relay", Status: resp.StatusCode, Err: fmt.Errorf("%s", msg)}
}

// LogMailer logs the emails it would send instead of sending them.
type LogMailer struct {
	logger zerolog.Logger
}

// NewLogMailer builds the development mailer.
func NewLogMailer(logger zerolog.Logger) *LogMailer {
	return &LogMailer{logger: logger.With().Str("component", "log_mailer").Logger()}
}

func (m *LogMailer) SendAlertTriggered(ctx context.Context, email string, alert storage.Alert, price decimal.Decimal) error {
	m.logger.Info().
		Str("to", email).
		Str("subject", TriggeredSubject(alert.CoinName)).
		Str("alert_id", alert.ID).
		Str("price", price.String()).
		Msg("email would be sent")
	return nil
}

func (m *LogMailer) SendPriceUpdate(ctx context.Context, email, coinName string, price, target decimal.Decimal) error {
	m.logger.Info().
		Str("to", email).
		Str("subject", PriceUpdateSubject(coinName)).
		Str("price", price.String()).
		Str("target", target.String()).
		Msg("price update email would be sent")
	return nil
}

// TriggeredSubject is the subject line of the triggered email.
func TriggeredSubject(coinName string) string {
	return fmt.Sprintf("🚨 Alert Triggered: %s reached target price!", coinName)
}

// PriceUpdateSubject is the subject line of the near-target email.
func PriceUpdateSubject(coinName string) string {
	return fmt.Sprintf("📈 Price Update: %s getting close to target!", coinName)
}

var (
	_ Mailer = (*RelayClient)(nil)
	_ Mailer = (*LogMailer)(nil)
)
