package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/apperr"
)

const (
	simplePricePath = "/simple/price"
	searchPath      = "/search"
	trendingPath    = "/search/trending"

	sourcePriceFeed = "price_feed"
)

// CoinGeckoOptions parameterise the CoinGecko client.
type CoinGeckoOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// CoinGecko talks to the CoinGecko public API.
type CoinGecko struct {
	opts    CoinGeckoOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewCoinGecko constructs a CoinGecko client.
func NewCoinGecko(opts CoinGeckoOptions, logger zerolog.Logger) *CoinGecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}

	return &CoinGecko{
		opts:    opts,
		logger:  logger.With().Str("component", "coingecko").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		now:     time.Now,
	}
}

// FetchPrices retrieves USD prices, 24h change and market cap for coinIDs.
func (c *CoinGecko) FetchPrices(ctx context.Context, coinIDs []string) (Snapshot, error) {
	if len(coinIDs) == 0 {
		return Snapshot{}, apperr.Validation("coin_ids", "at least one coin id is required")
	}

	query := url.Values{}
	query.Set("ids", strings.Join(coinIDs, ","))
	query.Set("vs_currencies", "usd")
	query.Set("include_24hr_change", "true")
	query.Set("include_market_cap", "true")

	payload, err := c.get(ctx, simplePricePath, query)
	if err != nil {
		return Snapshot{}, err
	}

	var raw map[string]map[string]json.Number
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Snapshot{}, apperr.Upstream(sourcePriceFeed, fmt.Errorf("decode prices: %w", err))
	}

	snap := Snapshot{FetchedAt: c.now().UTC(), Quotes: make(map[string]Quote, len(raw))}
	for id, fields := range raw {
		usd, ok := parseNumber(fields["usd"])
		if !ok {
			c.logger.Debug().Str("coin", id).Msg("price missing from response")
			continue
		}
		change, _ := parseNumber(fields["usd_24h_change"])
		mcap, _ := parseNumber(fields["usd_market_cap"])
		snap.Quotes[id] = Quote{USD: usd, Change24h: change, MarketCap: mcap}
	}
	return snap, nil
}

// SearchCoins looks coins up by name or symbol. A blank query yields no
// results without a request.
func (c *CoinGecko) SearchCoins(ctx context.Context, query string) ([]Coin, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Coin{}, nil
	}

	payload, err := c.get(ctx, searchPath, url.Values{"query": []string{query}})
	if err != nil {
		return nil, err
	}

	var res struct {
		Coins []Coin `json:"coins"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, apperr.Upstream(sourcePriceFeed, fmt.Errorf("decode search: %w", err))
	}
	if res.Coins == nil {
		return []Coin{}, nil
	}
	return res.Coins, nil
}

// Trending returns the coins currently trending on CoinGecko.
func (c *CoinGecko) Trending(ctx context.Context) ([]TrendingCoin, error) {
	payload, err := c.get(ctx, trendingPath, nil)
	if err != nil {
		return nil, err
	}

	var res struct {
		Coins []struct {
			Item TrendingCoin `json:"item"`
		} `json:"coins"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, apperr.Upstream(sourcePriceFeed, fmt.Errorf("decode trending: %w", err))
	}

	coins := make([]TrendingCoin, 0, len(res.Coins))
	for _, entry := range res.Coins {
		coins = append(coins, entry.Item)
	}
	return coins, nil
}

func (c *CoinGecko) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "pricealerts/1.0")
	}
	if c.opts.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.opts.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperr.Upstream(sourcePriceFeed, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Upstream(sourcePriceFeed, fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}
	return payload, nil
}

type errorResponse struct {
	Error  string `json:"error"`
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

func parseHTTPError(status int, payload []byte) error {
	upstream := &apperr.UpstreamError{Source: sourcePriceFeed, Status: status}

	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Status.ErrorMessage != "" {
			upstream.Err = errors.New(apiErr.Status.ErrorMessage)
			return upstream
		}
		if apiErr.Error != "" {
			upstream.Err = errors.New(apiErr.Error)
			return upstream
		}
	}
	if len(payload) > 0 {
		upstream.Err = errors.New(strings.TrimSpace(string(payload)))
		return upstream
	}
	upstream.Err = errors.New(http.StatusText(status))
	return upstream
}

func parseNumber(n json.Number) (decimal.Decimal, bool) {
	if n == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

var _ Feed = (*CoinGecko)(nil)
