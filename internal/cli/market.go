package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

var priceCoins []string

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search coins by name or symbol",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Search(cmd.Context(), strings.Join(args, " "))
	},
}

var trendingCmd = &cobra.Command{
	Use:   "trending",
	Short: "Show trending coins",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Trending(cmd.Context())
	},
}

var pricesCmd = &cobra.Command{
	Use:   "prices",
	Short: "Show current USD prices",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Prices(cmd.Context(), priceCoins)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show active, triggered and tracked coin counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Stats(cmd.Context())
	},
}

func init() {
	pricesCmd.Flags().StringSliceVar(&priceCoins, "coins", nil, "Coin ids to quote (defaults to feed.coins)")
}
