package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/alerting"
	"crypto-price-alerts/internal/evaluator"
	"crypto-price-alerts/internal/fetcher"
	"crypto-price-alerts/internal/service"
	"crypto-price-alerts/internal/storage"
)

const simulatedOwner = "simulated-user"

// SimulateAlert 用给定价格在内存中跑一次完整的评估与通知流程。
func (a *App) SimulateAlert(ctx context.Context, coin string, target, price decimal.Decimal) error {
	if coin == "" {
		return errors.New("--coin is required")
	}

	cfg := *a.Config
	cfg.Session.UserID = simulatedOwner
	cfg.Session.SingleEvaluator = false
	cfg.Feed.Coins = []string{coin}
	if cfg.Session.UserEmail == "" {
		cfg.Session.UserEmail = "simulated@localhost"
	}

	store := storage.NewMemoryStore()
	if _, err := store.CreateAlert(ctx, storage.NewAlert{
		UserID:      simulatedOwner,
		Coin:        coin,
		TargetPrice: target,
	}); err != nil {
		return err
	}

	ev := evaluator.New(evaluator.OptionsFromConfig(cfg.Evaluator))
	var session *service.Session
	actions := service.RemoveAlertAction(func(ctx context.Context, id string) error {
		return session.RemoveAlert(ctx, id)
	})
	dispatcher := alerting.NewDispatcher(alerting.DispatcherOptions{
		Push:      a.newPush(),
		Mailer:    alerting.NewLogMailer(a.Logger),
		UserEmail: cfg.Session.UserEmail,
		Actions:   actions,
	}, a.Logger)

	prices := &staticPriceFetcher{coin: coin, price: price}
	session = service.New(&cfg, nil, prices, store, ev, dispatcher, nil, a.Logger)

	err := session.Tick(ctx, time.Now().UTC())
	session.Wait()
	if err != nil {
		return err
	}

	banners := session.Board().List()
	if len(banners) == 0 {
		fmt.Fprintln(a.Out, "no alert triggered")
	}
	for _, banner := range banners {
		fmt.Fprintf(a.Out, "[%s] %s %s\n", banner.Kind, banner.Title, banner.Message)
	}
	for _, view := range session.Alerts() {
		if view.Progress != nil {
			fmt.Fprintf(a.Out, "progress %s%% close=%t triggered=%t\n", alerting.FormatPercent(*view.Progress), view.Close, view.Triggered)
		}
	}
	return nil
}

type staticPriceFetcher struct {
	coin  string
	price decimal.Decimal
}

func (s *staticPriceFetcher) FetchPrices(ctx context.Context, coinIDs []string) (fetcher.Snapshot, error) {
	return fetcher.Snapshot{
		FetchedAt: time.Now().UTC(),
		Quotes:    map[string]fetcher.Quote{s.coin: {USD: s.price}},
	}, nil
}

var _ fetcher.PriceFetcher = (*staticPriceFetcher)(nil)
