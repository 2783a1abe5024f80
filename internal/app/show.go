package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/alerting"
	"crypto-price-alerts/internal/evaluator"
	"crypto-price-alerts/internal/fetcher"
	"crypto-price-alerts/internal/storage"
)

// alertRow is an alert joined with the price it is compared against.
type alertRow struct {
	alert    storage.Alert
	price    *decimal.Decimal
	progress *decimal.Decimal
	close    bool
}

// loadAlertRows lists the owner's alerts and, unless offline, prices them
// against a fresh snapshot. Stored last prices are used as a fallback.
func (a *App) loadAlertRows(ctx context.Context, offline bool) ([]alertRow, error) {
	owner, err := a.owner()
	if err != nil {
		return nil, err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	alerts, err := store.ListAlerts(ctx, owner)
	if err != nil {
		return nil, err
	}

	var snapshot fetcher.Snapshot
	if !offline && len(alerts) > 0 {
		snapshot, err = a.newFeed().FetchPrices(ctx, storage.Coins(alerts))
		if err != nil {
			a.Logger.Warn().Err(err).Msg("price lookup failed; showing stored prices")
		}
	}

	ev := evaluator.New(evaluator.OptionsFromConfig(a.Config.Evaluator))
	rows := make([]alertRow, 0, len(alerts))
	for _, alert := range alerts {
		row := alertRow{alert: alert, price: alert.CurrentPrice}
		if price, ok := snapshot.Price(alert.Coin); ok {
			row.price = &price
		}
		if row.price != nil {
			if progress, ok := evaluator.Progress(*row.price, alert.TargetPrice); ok {
				row.progress = &progress
				row.close = !alert.Triggered && ev.IsClose(progress)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ListAlerts prints the owner's alerts, newest first.
func (a *App) ListAlerts(ctx context.Context, opts ListOptions) error {
	rows, err := a.loadAlertRows(ctx, opts.Offline)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(a.Out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tCoin\tTarget\tCurrent\tProgress\tStatus\tCreated")

	for _, row := range rows {
		current := "N/A"
		if row.price != nil {
			current = "$" + alerting.FormatUSD(*row.price)
		}
		progress := "-"
		if row.progress != nil {
			progress = alerting.FormatPercent(*row.progress) + "%"
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			row.alert.ID,
			sanitizeInline(row.alert.CoinName),
			"$"+alerting.FormatUSD(row.alert.TargetPrice),
			current,
			progress,
			rowStatus(row),
			humanize.Time(row.alert.CreatedAt),
		)
	}

	return writer.Flush()
}

func rowStatus(row alertRow) string {
	switch {
	case row.alert.Triggered && row.alert.TriggeredAt != nil:
		return "triggered " + humanize.Time(*row.alert.TriggeredAt)
	case row.alert.Triggered:
		return "triggered"
	case row.close:
		return "close"
	default:
		return "active"
	}
}

// Stats prints the dashboard counts of the owner.
func (a *App) Stats(ctx context.Context) error {
	owner, err := a.owner()
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	alerts, err := store.ListAlerts(ctx, owner)
	if err != nil {
		return err
	}
	stats := storage.Summarize(alerts)

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Active alerts\t%d\n", stats.Active)
	fmt.Fprintf(writer, "Triggered\t%d\n", stats.Triggered)
	fmt.Fprintf(writer, "Total alerts\t%d\n", stats.Total)
	fmt.Fprintf(writer, "Tracked coins\t%d\n", len(stats.Coins))
	if len(stats.Coins) > 0 {
		fmt.Fprintf(writer, "Coins\t%s\n", strings.Join(stats.Coins, ", "))
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
