package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/storage"
)

const emailTimeout = 30 * time.Second

// ActionFactory supplies the actions attached to a triggered-alert banner.
type ActionFactory func(alert storage.Alert) []Action

// DispatcherOptions wires the notification channels. Push and Mailer may be
// nil to disable the channel.
type DispatcherOptions struct {
	Board     *Board
	Push      PushNotifier
	Mailer    Mailer
	UserEmail string
	Actions   ActionFactory
}

// Dispatcher fans alert events out to the banner board, the push channel and
// email.
type Dispatcher struct {
	board     *Board
	push      PushNotifier
	mailer    Mailer
	userEmail string
	actions   ActionFactory
	logger    zerolog.Logger

	wg sync.WaitGroup
}

// NewDispatcher constructs a Dispatcher. A board is created when none is given.
func NewDispatcher(opts DispatcherOptions, logger zerolog.Logger) *Dispatcher {
	board := opts.Board
	if board == nil {
		board = NewBoard()
	}
	return &Dispatcher{
		board:     board,
		push:      opts.Push,
		mailer:    opts.Mailer,
		userEmail: opts.UserEmail,
		actions:   opts.Actions,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Board exposes the banner board.
func (d *Dispatcher) Board() *Board {
	return d.board
}

// NotifyTriggered posts the triggered banner, attempts a push and queues the
// triggered email. Channel failures are logged and never returned.
func (d *Dispatcher) NotifyTriggered(ctx context.Context, alert storage.Alert, price decimal.Decimal) Banner {
	banner := d.addBanner(triggeredBanner(alert, d.actionsFor(alert)))

	if d.push != nil && d.push.Supported() && d.push.Permitted() {
		push := Push{
			Title: "Alert Triggered! 🎯",
			Body:  fmt.Sprintf("%s has reached your target price of $%s", alert.CoinName, FormatUSD(alert.TargetPrice)),
			Tag:   "alert-" + alert.ID,
		}
		if err := d.push.Push(ctx, push); err != nil {
			d.logger.Debug().Err(err).Str("alert_id", alert.ID).Msg("push not delivered")
		}
	}

	d.sendAsync(ctx, alert.ID, "alert_triggered", func(ctx context.Context) error {
		return d.mailer.SendAlertTriggered(ctx, d.userEmail, alert, price)
	})
	return banner
}

// NotifyNearTarget queues the near-target email.
func (d *Dispatcher) NotifyNearTarget(ctx context.Context, alert storage.Alert, price, target decimal.Decimal) {
	d.sendAsync(ctx, alert.ID, "price_update", func(ctx context.Context) error {
		return d.mailer.SendPriceUpdate(ctx, d.userEmail, alert.CoinName, price, target)
	})
}

// Announce posts the triggered banner only, for alerts triggered elsewhere.
func (d *Dispatcher) Announce(alert storage.Alert) Banner {
	return d.addBanner(triggeredBanner(alert, d.actionsFor(alert)))
}

// Wait blocks until queued emails finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) sendAsync(ctx context.Context, alertID, kind string, send func(context.Context) error) {
	if d.mailer == nil || d.userEmail == "" {
		return
	}

	// the send outlives the tick that queued it
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emailTimeout)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		if err := send(sendCtx); err != nil {
			d.logger.Warn().Err(err).Str("alert_id", alertID).Str("email", kind).Msg("failed to send email")
			return
		}
		d.logger.Debug().Str("alert_id", alertID).Str("email", kind).Msg("email requested")
	}()
}

func (d *Dispatcher) actionsFor(alert storage.Alert) []Action {
	if d.actions == nil {
		return nil
	}
	return d.actions(alert)
}

func (d *Dispatcher) addBanner(banner Banner) Banner {
	added, err := d.board.Add(banner)
	if err != nil {
		d.logger.Error().Err(err).Msg("invalid banner dropped actions")
		banner.Actions = nil
		added, _ = d.board.Add(banner)
	}
	return added
}

func triggeredBanner(alert storage.Alert, actions []Action) Banner {
	return Banner{
		Kind:    KindSuccess,
		Title:   "Alert Triggered!",
		Message: fmt.Sprintf("%s has reached your target price of $%s", alert.CoinName, alert.TargetPrice.String()),
		Icon:    "check-circle",
		Actions: actions,
	}
}
