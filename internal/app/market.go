package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"crypto-price-alerts/internal/alerting"
	"crypto-price-alerts/internal/fetcher"
)

// Search prints the coins matching query.
func (a *App) Search(ctx context.Context, query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return errors.New("search query must not be empty")
	}

	coins, err := a.newFeed().SearchCoins(ctx, query)
	if err != nil {
		return err
	}
	if len(coins) == 0 {
		fmt.Fprintf(a.Out, "no coins match %q\n", query)
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tSymbol\tName")
	for _, coin := range coins {
		fmt.Fprintf(writer, "%s\t%s\t%s\n", coin.ID, strings.ToUpper(coin.Symbol), coin.Name)
	}
	return writer.Flush()
}

// Trending prints the trending coins of the feed.
func (a *App) Trending(ctx context.Context) error {
	coins, err := a.newFeed().Trending(ctx)
	if err != nil {
		return err
	}
	if len(coins) == 0 {
		fmt.Fprintln(a.Out, "no trending coins")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Rank\tID\tSymbol\tName")
	for _, coin := range coins {
		rank := "-"
		if coin.MarketCapRank > 0 {
			rank = humanize.Ordinal(coin.MarketCapRank)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", rank, coin.ID, strings.ToUpper(coin.Symbol), coin.Name)
	}
	return writer.Flush()
}

// Prices prints the current quotes of coins, or of the configured defaults.
func (a *App) Prices(ctx context.Context, coins []string) error {
	if len(coins) == 0 {
		coins = a.Config.Feed.Coins
	}
	coins = fetcher.MergeCoins(coins)

	snapshot, err := a.newFeed().FetchPrices(ctx, coins)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Coin\tPrice (USD)\t24h\tMarket Cap")
	for _, coin := range coins {
		quote, ok := snapshot.Quotes[coin]
		if !ok {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", coin, "N/A", "-", "-")
			continue
		}
		fmt.Fprintf(
			writer,
			"%s\t$%s\t%s%%\t$%s\n",
			coin,
			alerting.FormatUSD(quote.USD),
			quote.Change24h.StringFixed(2),
			humanize.Comma(quote.MarketCap.IntPart()),
		)
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "\nfetched %s\n", humanize.Time(snapshot.FetchedAt))
	return nil
}
