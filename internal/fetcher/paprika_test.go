package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"crypto-price-alerts/internal/apperr"
)

// redirectTransport sends every request to target, keeping path and query.
type redirectTransport struct {
	target *url.URL
}

func (rt redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = rt.target.Scheme
	out.URL.Host = rt.target.Host
	out.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(out)
}

type requestLog struct {
	mu    sync.Mutex
	paths []string
}

func (l *requestLog) add(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths = append(l.paths, path)
}

func (l *requestLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.paths...)
}

func newPaprikaServer(t *testing.T) (*httptest.Server, *requestLog) {
	t.Helper()
	log := &requestLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.add(r.URL.Path)
		if r.URL.Query().Get("quotes") != "USD" {
			t.Errorf("expected USD quotes, got %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/tickers/btc-bitcoin":
			_, _ = w.Write([]byte(`{"id":"btc-bitcoin","quotes":{"USD":{"price":50000.5,"percent_change_24h":-1.25,"market_cap":990000000000}}}`))
		case "/v1/tickers/no-usd":
			_, _ = w.Write([]byte(`{"id":"no-usd","quotes":{"EUR":{"price":45000}}}`))
		case "/v1/tickers/no-price":
			_, _ = w.Write([]byte(`{"id":"no-price","quotes":{"USD":{"market_cap":10}}}`))
		default:
			http.Error(w, `{"error":"id not found"}`, http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, log
}

func newTestPaprika(t *testing.T, srv *httptest.Server) *Paprika {
	t.Helper()
	target, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	return NewPaprika(PaprikaOptions{
		IDs:       map[string]string{"bitcoin": "btc-bitcoin", "ethereum": "eth-ethereum"},
		Transport: redirectTransport{target: target},
	}, noopLogger())
}

func TestPaprikaFetchPricesSkipsFailedCoins(t *testing.T) {
	srv, paths := newPaprikaServer(t)
	p := newTestPaprika(t, srv)

	snap, err := p.FetchPrices(context.Background(), []string{"bitcoin", "ethereum", "no-usd", "no-price"})
	if err != nil {
		t.Fatalf("partial failure should not fail the call: %v", err)
	}
	if len(snap.Quotes) != 1 {
		t.Fatalf("expected only bitcoin priced, got %+v", snap.Quotes)
	}
	btc, ok := snap.Price("bitcoin")
	if !ok || btc.String() != "50000.5" {
		t.Fatalf("unexpected bitcoin price %v (ok=%t)", btc, ok)
	}
	q := snap.Quotes["bitcoin"]
	if q.Change24h.String() != "-1.25" || q.MarketCap.String() != "990000000000" {
		t.Fatalf("unexpected quote %+v", q)
	}
	if snap.FetchedAt.IsZero() {
		t.Fatal("fetched_at should be set")
	}
	if got := paths.list(); len(got) != 4 || got[0] != "/v1/tickers/btc-bitcoin" || got[1] != "/v1/tickers/eth-ethereum" {
		t.Fatalf("unexpected ticker requests %v", got)
	}
}

func TestPaprikaFetchPricesAllFailed(t *testing.T) {
	srv, _ := newPaprikaServer(t)
	p := newTestPaprika(t, srv)

	if _, err := p.FetchPrices(context.Background(), []string{"ethereum", "dogecoin"}); !apperr.IsUpstream(err) {
		t.Fatalf("expected upstream error when every ticker fails, got %v", err)
	}
	if _, err := p.FetchPrices(context.Background(), []string{"no-usd", "no-price"}); !apperr.IsUpstream(err) {
		t.Fatalf("expected upstream error when no ticker carries a USD price, got %v", err)
	}
}

func TestPaprikaFetchPricesHonoursContext(t *testing.T) {
	srv, paths := newPaprikaServer(t)
	p := newTestPaprika(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.FetchPrices(ctx, []string{"bitcoin"}); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := paths.list(); len(got) != 0 {
		t.Fatalf("no request expected after cancel, got %v", got)
	}
}
