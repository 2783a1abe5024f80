package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"crypto-price-alerts/internal/app"
)

var (
	addCoin     string
	addName     string
	addTarget   string
	addPrice    string
	listOffline bool
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage your price alerts",
}

var alertsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a price alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		if addCoin == "" || addTarget == "" {
			return fmt.Errorf("--coin and --target must be provided")
		}

		_, err := getApp().AddAlert(cmd.Context(), app.AddAlertOptions{
			Coin:     addCoin,
			CoinName: addName,
			Target:   addTarget,
			Price:    addPrice,
		})
		return err
	},
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your alerts with their progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListAlerts(cmd.Context(), app.ListOptions{Offline: listOffline})
	},
}

var alertsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().DeleteAlert(cmd.Context(), args[0])
	},
}

func init() {
	alertsAddCmd.Flags().StringVar(&addCoin, "coin", "", "Coin id, e.g. bitcoin")
	alertsAddCmd.Flags().StringVar(&addName, "name", "", "Display name (defaults to the coin id)")
	alertsAddCmd.Flags().StringVar(&addTarget, "target", "", "Target price in USD")
	alertsAddCmd.Flags().StringVar(&addPrice, "price", "", "Current price in USD (looked up when omitted)")

	alertsListCmd.Flags().BoolVar(&listOffline, "offline", false, "Use stored prices instead of querying the feed")

	alertsCmd.AddCommand(alertsAddCmd)
	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsDeleteCmd)
}
