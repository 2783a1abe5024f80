package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateCoin   string
	simulateTarget float64
	simulatePrice  float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次价格变动并走完告警流程",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateTarget <= 0 || simulatePrice <= 0 {
			return errors.New("--target and --price must be greater than 0")
		}

		target := decimal.NewFromFloat(simulateTarget)
		price := decimal.NewFromFloat(simulatePrice)
		return getApp().SimulateAlert(cmd.Context(), simulateCoin, target, price)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateCoin, "coin", "bitcoin", "Coin id")
	simulateCmd.Flags().Float64Var(&simulateTarget, "target", 0, "Alert target price in USD")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "Simulated current price in USD")
}
