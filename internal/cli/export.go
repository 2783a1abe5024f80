package cli

import (
	"github.com/spf13/cobra"

	"crypto-price-alerts/internal/app"
)

var (
	exportPNGPath   string
	exportCSVPath   string
	exportMaxAlerts int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export alert progress as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxAlerts: exportMaxAlerts,
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxAlerts, "max-alerts", 0, "Maximum alerts to export (defaults to config)")
}
