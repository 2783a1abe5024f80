package fetcher

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the USD price data of one coin.
type Quote struct {
	USD       decimal.Decimal
	Change24h decimal.Decimal
	MarketCap decimal.Decimal
}

// Snapshot is a point-in-time set of quotes keyed by coin id. A snapshot is
// replaced wholesale on every poll and never merged.
type Snapshot struct {
	FetchedAt time.Time
	Quotes    map[string]Quote
}

// Price returns the USD price of coin, reporting false when the coin is
// absent or priced at zero.
func (s Snapshot) Price(coin string) (decimal.Decimal, bool) {
	q, ok := s.Quotes[coin]
	if !ok || !q.USD.IsPositive() {
		return decimal.Decimal{}, false
	}
	return q.USD, true
}

// Coins lists the coin ids present in the snapshot in sorted order.
func (s Snapshot) Coins() []string {
	coins := make([]string, 0, len(s.Quotes))
	for id := range s.Quotes {
		coins = append(coins, id)
	}
	sort.Strings(coins)
	return coins
}

// Coin is a search hit.
type Coin struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	Thumb  string `json:"thumb"`
}

// TrendingCoin is an entry of the trending list.
type TrendingCoin struct {
	Coin
	MarketCapRank int `json:"market_cap_rank"`
}

// PriceFetcher retrieves current prices for a set of coins.
type PriceFetcher interface {
	FetchPrices(ctx context.Context, coinIDs []string) (Snapshot, error)
}

// CoinSearcher resolves free-text queries to coins.
type CoinSearcher interface {
	SearchCoins(ctx context.Context, query string) ([]Coin, error)
}

// Feed is a full price feed client.
type Feed interface {
	PriceFetcher
	CoinSearcher
	Trending(ctx context.Context) ([]TrendingCoin, error)
}

// MergeCoins returns the union of the given id lists, keeping first-seen order.
func MergeCoins(lists ...[]string) []string {
	seen := make(map[string]struct{})
	merged := make([]string, 0)
	for _, list := range lists {
		for _, id := range list {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, id)
		}
	}
	return merged
}
