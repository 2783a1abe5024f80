package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coinpaprika/coinpaprika-api-go-client/v2/coinpaprika"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/apperr"
)

// PaprikaOptions parameterise the CoinPaprika provider.
type PaprikaOptions struct {
	APIKey  string
	Timeout time.Duration
	// IDs maps coin ids used by alerts onto CoinPaprika ids. Ids without a
	// mapping are passed through unchanged.
	IDs map[string]string
	// Transport overrides the HTTP transport, e.g. to route through a proxy.
	Transport http.RoundTripper
}

// Paprika serves prices and search from CoinPaprika, keyed by the same coin
// ids the rest of the application uses.
type Paprika struct {
	client *coinpaprika.Client
	ids    map[string]string
	logger zerolog.Logger
	now    func() time.Time
}

// NewPaprika constructs a CoinPaprika-backed feed.
func NewPaprika(opts PaprikaOptions, logger zerolog.Logger) *Paprika {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout, Transport: opts.Transport}

	var client *coinpaprika.Client
	if opts.APIKey != "" {
		client = coinpaprika.NewClient(httpClient, coinpaprika.WithAPIKey(opts.APIKey))
	} else {
		client = coinpaprika.NewClient(httpClient)
	}

	ids := make(map[string]string, len(opts.IDs))
	for k, v := range opts.IDs {
		ids[strings.ToLower(k)] = v
	}

	return &Paprika{
		client: client,
		ids:    ids,
		logger: logger.With().Str("component", "coinpaprika").Logger(),
		now:    time.Now,
	}
}

// FetchPrices queries one ticker per coin. Coins that fail are left out of the
// snapshot; the call only fails when no coin could be priced.
func (p *Paprika) FetchPrices(ctx context.Context, coinIDs []string) (Snapshot, error) {
	if len(coinIDs) == 0 {
		return Snapshot{}, apperr.Validation("coin_ids", "at least one coin id is required")
	}

	snap := Snapshot{FetchedAt: p.now().UTC(), Quotes: make(map[string]Quote, len(coinIDs))}
	var lastErr error
	for _, id := range coinIDs {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, err
		}

		ticker, err := p.client.Tickers.GetByID(p.paprikaID(id), &coinpaprika.TickersOptions{Quotes: "USD"})
		if err != nil {
			lastErr = err
			p.logger.Debug().Err(err).Str("coin", id).Msg("ticker lookup failed")
			continue
		}

		quote, ok := ticker.Quotes["USD"]
		if !ok || quote.Price == nil {
			continue
		}
		q := Quote{USD: decimal.NewFromFloat(*quote.Price)}
		if quote.PercentChange24h != nil {
			q.Change24h = decimal.NewFromFloat(*quote.PercentChange24h)
		}
		if quote.MarketCap != nil {
			q.MarketCap = decimal.NewFromFloat(*quote.MarketCap)
		}
		snap.Quotes[id] = q
	}

	if len(snap.Quotes) == 0 {
		if lastErr == nil {
			lastErr = errors.New("no prices returned")
		}
		return Snapshot{}, apperr.Upstream(sourcePriceFeed, lastErr)
	}
	return snap, nil
}

// SearchCoins searches currencies by name or symbol.
func (p *Paprika) SearchCoins(ctx context.Context, query string) ([]Coin, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Coin{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := p.client.Search.Search(&coinpaprika.SearchOptions{Query: query, Categories: "currencies"})
	if err != nil {
		return nil, apperr.Upstream(sourcePriceFeed, fmt.Errorf("search: %w", err))
	}

	coins := make([]Coin, 0, len(result.Currencies))
	for _, c := range result.Currencies {
		if c == nil || c.ID == nil {
			continue
		}
		coin := Coin{ID: *c.ID, Thumb: fmt.Sprintf("https://static.coinpaprika.com/coin/%s/logo.png", *c.ID)}
		if c.Name != nil {
			coin.Name = *c.Name
		}
		if c.Symbol != nil {
			coin.Symbol = *c.Symbol
		}
		coins = append(coins, coin)
	}
	return coins, nil
}

// Trending has no CoinPaprika equivalent.
func (p *Paprika) Trending(ctx context.Context) ([]TrendingCoin, error) {
	return nil, apperr.Upstream(sourcePriceFeed, errors.New("trending is not offered by coinpaprika"))
}

func (p *Paprika) paprikaID(id string) string {
	if mapped, ok := p.ids[strings.ToLower(id)]; ok {
		return mapped
	}
	return id
}

var _ Feed = (*Paprika)(nil)
