package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/apperr"
)

func TestFetchPricesSuccess(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/price" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		gotQuery = map[string]string{
			"ids":                 r.URL.Query().Get("ids"),
			"vs_currencies":       r.URL.Query().Get("vs_currencies"),
			"include_24hr_change": r.URL.Query().Get("include_24hr_change"),
			"include_market_cap":  r.URL.Query().Get("include_market_cap"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":50000.5,"usd_24h_change":-1.25,"usd_market_cap":9.8e11},"ethereum":{"usd_24h_change":2}}`))
	}))
	defer srv.Close()

	c := NewCoinGecko(CoinGeckoOptions{BaseURL: srv.URL + "/", Timeout: time.Second}, noopLogger())
	snap, err := c.FetchPrices(context.Background(), []string{"bitcoin", "ethereum"})
	if err != nil {
		t.Fatalf("fetch should succeed: %v", err)
	}

	if gotQuery["ids"] != "bitcoin,ethereum" || gotQuery["vs_currencies"] != "usd" ||
		gotQuery["include_24hr_change"] != "true" || gotQuery["include_market_cap"] != "true" {
		t.Fatalf("unexpected query %v", gotQuery)
	}

	price, ok := snap.Price("bitcoin")
	if !ok || !price.Equal(decimal.RequireFromString("50000.5")) {
		t.Fatalf("unexpected bitcoin price %s (%v)", price, ok)
	}
	if !snap.Quotes["bitcoin"].Change24h.Equal(decimal.RequireFromString("-1.25")) {
		t.Fatalf("unexpected 24h change %s", snap.Quotes["bitcoin"].Change24h)
	}
	if _, ok := snap.Price("ethereum"); ok {
		t.Fatal("a coin without usd should be absent from the snapshot")
	}
	if snap.FetchedAt.IsZero() {
		t.Fatal("snapshot should carry its fetch time")
	}
}

func TestFetchPricesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": map[string]any{"error_code": 429, "error_message": "rate limited"},
		})
	}))
	defer srv.Close()

	c := NewCoinGecko(CoinGeckoOptions{BaseURL: srv.URL}, noopLogger())
	_, err := c.FetchPrices(context.Background(), []string{"bitcoin"})
	if err == nil {
		t.Fatal("HTTP 429 should return an error")
	}
	var upstream *apperr.UpstreamError
	if !errors.As(err, &upstream) || upstream.Status != http.StatusTooManyRequests {
		t.Fatalf("expected UpstreamError with status 429, got %v", err)
	}
	if upstream.Err.Error() != "rate limited" {
		t.Fatalf("expected message from body, got %q", upstream.Err.Error())
	}
}

func TestFetchPricesRequiresIDs(t *testing.T) {
	c := NewCoinGecko(CoinGeckoOptions{BaseURL: "http://127.0.0.1:1"}, noopLogger())
	_, err := c.FetchPrices(context.Background(), nil)
	if !apperr.IsValidation(err) {
		t.Fatalf("empty id list should be a validation error, got %v", err)
	}
}

func TestSearchCoins(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.URL.Path != "/search" || r.URL.Query().Get("query") != "sol" {
			t.Fatalf("unexpected request %s", r.URL.String())
		}
		if r.Header.Get("x-cg-demo-api-key") != "key" {
			t.Fatal("api key header missing")
		}
		_, _ = w.Write([]byte(`{"coins":[{"id":"solana","name":"Solana","symbol":"SOL","thumb":"https://img/sol.png"}]}`))
	}))
	defer srv.Close()

	c := NewCoinGecko(CoinGeckoOptions{BaseURL: srv.URL, APIKey: "key"}, noopLogger())

	coins, err := c.SearchCoins(context.Background(), "  ")
	if err != nil || len(coins) != 0 {
		t.Fatalf("blank query should return no coins, got %v %v", coins, err)
	}
	if requests != 0 {
		t.Fatal("blank query should not hit the API")
	}

	coins, err = c.SearchCoins(context.Background(), "sol")
	if err != nil {
		t.Fatalf("search should succeed: %v", err)
	}
	if len(coins) != 1 || coins[0].ID != "solana" || coins[0].Thumb == "" {
		t.Fatalf("unexpected coins %+v", coins)
	}
}

func TestTrending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search/trending" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"coins":[{"item":{"id":"pepe","name":"Pepe","symbol":"PEPE","market_cap_rank":30,"thumb":"t"}}]}`))
	}))
	defer srv.Close()

	c := NewCoinGecko(CoinGeckoOptions{BaseURL: srv.URL}, noopLogger())
	coins, err := c.Trending(context.Background())
	if err != nil {
		t.Fatalf("trending should succeed: %v", err)
	}
	if len(coins) != 1 || coins[0].ID != "pepe" || coins[0].MarketCapRank != 30 {
		t.Fatalf("unexpected trending %+v", coins)
	}
}

func TestMergeCoins(t *testing.T) {
	got := MergeCoins([]string{"bitcoin", "ethereum"}, []string{"ethereum", "", "dogecoin"})
	want := []string{"bitcoin", "ethereum", "dogecoin"}
	if len(got) != len(want) {
		t.Fatalf("unexpected merge %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected merge %v", got)
		}
	}
}

func TestPaprikaIDMapping(t *testing.T) {
	p := NewPaprika(PaprikaOptions{IDs: map[string]string{"Bitcoin": "btc-bitcoin"}}, noopLogger())
	if p.paprikaID("bitcoin") != "btc-bitcoin" {
		t.Fatal("mapped id should be translated")
	}
	if p.paprikaID("eth-ethereum") != "eth-ethereum" {
		t.Fatal("unmapped id should pass through")
	}
}

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}
