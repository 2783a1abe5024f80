package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"crypto-price-alerts/internal/alerting"
)

// Export renders the alert progress report as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxAlerts = a.Config.ResolveMaxAlerts(opts.MaxAlerts)

	rows, err := a.loadAlertRows(ctx, false)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		a.Logger.Info().Msg("no alerts to export")
		return nil
	}
	if len(rows) > opts.MaxAlerts {
		rows = rows[:opts.MaxAlerts]
	}
	a.Logger.Info().Int("exported", len(rows)).Msg("exporting alerts")

	if opts.CSVPath != "" {
		if err := writeAlertsCSV(opts.CSVPath, rows); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeProgressPNG(opts.PNGPath, rows); err != nil {
			return err
		}
	}

	return nil
}

func writeAlertsCSV(path string, rows []alertRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"id", "coin", "coin_name", "target_price", "current_price", "progress_pct", "triggered", "triggered_at", "created_at"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		current, progress, triggeredAt := "", "", ""
		if row.price != nil {
			current = row.price.String()
		}
		if row.progress != nil {
			progress = alerting.FormatPercent(*row.progress)
		}
		if row.alert.TriggeredAt != nil {
			triggeredAt = row.alert.TriggeredAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			row.alert.ID,
			row.alert.Coin,
			row.alert.CoinName,
			row.alert.TargetPrice.String(),
			current,
			progress,
			fmt.Sprintf("%t", row.alert.Triggered),
			triggeredAt,
			row.alert.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeProgressPNG(path string, rows []alertRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	const (
		barWidth   = 40
		barSpacing = 24
	)

	bars := make([]chart.Value, 0, len(rows))
	top := 100.0
	for _, row := range rows {
		pct := 0.0
		if row.progress != nil {
			pct = row.progress.InexactFloat64() * 100
		}
		top = math.Max(top, pct)
		bars = append(bars, chart.Value{
			Label: fmt.Sprintf("%s $%s", row.alert.CoinName, alerting.FormatUSD(row.alert.TargetPrice)),
			Value: pct,
		})
	}

	width := 1280
	if need := len(bars)*(barWidth+barSpacing) + 200; need > width {
		width = need
	}

	graph := chart.BarChart{
		Title:      "Alert progress (% of target)",
		Width:      width,
		Height:     720,
		BarWidth:   barWidth,
		BarSpacing: barSpacing,
		Background: chart.Style{Padding: chart.Box{Top: 40}},
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: 0, Max: math.Ceil(top/10) * 10},
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f%%")
			},
		},
		Bars: bars,
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
