package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/storage"
)

// AddAlert creates an alert for the session owner. Without an explicit price
// the current feed price is recorded when available.
func (a *App) AddAlert(ctx context.Context, opts AddAlertOptions) (storage.Alert, error) {
	owner, err := a.owner()
	if err != nil {
		return storage.Alert{}, err
	}

	target, err := storage.ParseTarget(opts.Target)
	if err != nil {
		return storage.Alert{}, err
	}

	coin := strings.ToLower(strings.TrimSpace(opts.Coin))
	var current *decimal.Decimal
	if opts.Price != "" {
		price, err := storage.ParseTarget(opts.Price)
		if err != nil {
			return storage.Alert{}, fmt.Errorf("invalid --price: %w", err)
		}
		current = &price
	} else if coin != "" {
		snapshot, err := a.newFeed().FetchPrices(ctx, []string{coin})
		if err != nil {
			a.Logger.Warn().Err(err).Str("coin", coin).Msg("could not look up current price")
		} else if price, ok := snapshot.Price(coin); ok {
			current = &price
		}
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return storage.Alert{}, err
	}
	defer closeStore()

	alert, err := store.CreateAlert(ctx, storage.NewAlert{
		UserID:       owner,
		Coin:         coin,
		CoinName:     opts.CoinName,
		TargetPrice:  target,
		CurrentPrice: current,
	})
	if err != nil {
		return storage.Alert{}, err
	}

	// the relay only needs to know about the alert for email; failures are not fatal
	if _, relayClient := a.newMailer(); relayClient != nil && a.Config.Session.UserEmail != "" {
		if err := relayClient.RegisterAlert(ctx, a.Config.Session.UserEmail, alert); err != nil {
			a.Logger.Warn().Err(err).Str("alert_id", alert.ID).Msg("failed to register alert with relay")
		}
	}

	fmt.Fprintf(a.Out, "created alert %s: %s at $%s\n", alert.ID, alert.CoinName, alert.TargetPrice.String())
	return alert, nil
}

// DeleteAlert removes one of the owner's alerts. Unknown ids are ignored.
func (a *App) DeleteAlert(ctx context.Context, id string) error {
	owner, err := a.owner()
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.DeleteAlert(ctx, id, owner); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "deleted alert %s\n", id)
	return nil
}
