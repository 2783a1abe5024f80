package relay

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gopkg.in/gomail.v2"

	"crypto-price-alerts/internal/alerting"
	"crypto-price-alerts/internal/apperr"
	"crypto-price-alerts/internal/config"
	"crypto-price-alerts/internal/evaluator"
)

//go:embed templates/*.html
var templateFS embed.FS

// Message is an outbound HTML email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers emails.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender sends through the SMTP service selected by MailConfig. The
// transport is resolved on every send so credential problems surface per
// request.
type SMTPSender struct {
	cfg    config.MailConfig
	logger zerolog.Logger
}

// NewSMTPSender builds an SMTPSender.
func NewSMTPSender(cfg config.MailConfig, logger zerolog.Logger) *SMTPSender {
	return &SMTPSender{cfg: cfg, logger: logger.With().Str("component", "smtp").Logger()}
}

// Send dials the SMTP server and delivers msg.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dialer, from, err := s.dialer()
	if err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)

	if err := dialer.DialAndSend(m); err != nil {
		return apperr.Upstream("smtp", err)
	}
	s.logger.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg("email sent")
	return nil
}

func (s *SMTPSender) dialer() (*gomail.Dialer, string, error) {
	cfg := s.cfg
	from := cfg.From
	if from == "" {
		from = cfg.User
	}

	switch cfg.Service {
	case config.MailServiceGmail:
		if cfg.User == "" || cfg.AppPassword == "" {
			return nil, "", errors.New("missing EMAIL_USER or EMAIL_APP_PASSWORD for gmail")
		}
		d := gomail.NewDialer("smtp.gmail.com", 465, cfg.User, cfg.AppPassword)
		d.SSL = true
		return d, from, nil
	case config.MailServiceOutlook:
		if cfg.User == "" || cfg.Password == "" {
			return nil, "", errors.New("missing EMAIL_USER or EMAIL_PASSWORD for outlook")
		}
		return gomail.NewDialer("smtp-mail.outlook.com", 587, cfg.User, cfg.Password), from, nil
	case config.MailServiceCustom:
		smtp := cfg.SMTP
		if smtp.Host == "" || smtp.User == "" || smtp.Pass == "" {
			return nil, "", errors.New("missing SMTP_HOST, SMTP_USER or SMTP_PASS for custom smtp")
		}
		port := smtp.Port
		if port == 0 {
			port = 587
		}
		d := gomail.NewDialer(smtp.Host, port, smtp.User, smtp.Pass)
		d.SSL = smtp.Secure
		if from == "" {
			from = smtp.User
		}
		return d, from, nil
	default:
		return nil, "", fmt.Errorf("unsupported email service %q", cfg.Service)
	}
}

// Templates renders the relay emails.
type Templates struct {
	triggered *template.Template
	update    *template.Template
}

// LoadTemplates parses the embedded email templates.
func LoadTemplates() (*Templates, error) {
	triggered, err := template.ParseFS(templateFS, "templates/alert_triggered.html")
	if err != nil {
		return nil, fmt.Errorf("parse triggered template: %w", err)
	}
	update, err := template.ParseFS(templateFS, "templates/price_update.html")
	if err != nil {
		return nil, fmt.Errorf("parse price update template: %w", err)
	}
	return &Templates{triggered: triggered, update: update}, nil
}

type triggeredView struct {
	CoinName     string
	Symbol       string
	TargetPrice  string
	CurrentPrice string
	TriggeredAt  string
}

// AlertTriggered renders the triggered email of p.
func (t *Templates) AlertTriggered(p AlertPayload, at time.Time) (string, error) {
	view := triggeredView{
		CoinName:    p.CoinName,
		Symbol:      strings.ToUpper(p.Coin),
		TargetPrice: alerting.FormatUSD(p.TargetPrice.Value),
		TriggeredAt: at.UTC().Format("1/2/2006, 3:04:05 PM MST"),
	}
	if p.CurrentPrice.Present() {
		view.CurrentPrice = alerting.FormatUSD(p.CurrentPrice.Value)
	}
	return render(t.triggered, view)
}

type updateView struct {
	CoinName     string
	CurrentPrice string
	TargetPrice  string
	Progress     string
}

// PriceUpdate renders the near-target email.
func (t *Templates) PriceUpdate(coinName string, current, target decimal.Decimal) (string, error) {
	view := updateView{
		CoinName:     coinName,
		CurrentPrice: alerting.FormatUSD(current),
		TargetPrice:  alerting.FormatUSD(target),
		Progress:     "0.0",
	}
	if progress, ok := evaluator.Progress(current, target); ok {
		view.Progress = alerting.FormatPercent(progress)
	}
	return render(t.update, view)
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

var _ Sender = (*SMTPSender)(nil)
