package market

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestFetchTickerSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/public/get-ticker", r.URL.Path)
		assert.Equal(t, "BTC_USDT", r.URL.Query().Get("instrument_name"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":0,"result":{"data":[{"i":"BTC_USDT","a":"50100.5","b":"50099","h":"51000","l":49000,"v":"1234.5","c":"-0.0125","t":1700000000000}]}}`))
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	ticker, err := c.FetchTicker(context.Background(), "BTC_USDT")
	require.NoError(t, err)

	assert.True(t, ticker.Ask.Equal(d("50100.5")))
	assert.True(t, ticker.Bid.Equal(d("50099")))
	assert.True(t, ticker.High.Equal(d("51000")))
	assert.True(t, ticker.Low.Equal(d("49000")))
	assert.True(t, ticker.ChangePct.Equal(d("-1.25")), "change ratio should be scaled to percent, got %s", ticker.ChangePct)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), ticker.ServerTime)
}

func TestFetchTickerHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 40004, "message": "invalid instrument"})
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := c.FetchTicker(context.Background(), "NOPE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid instrument")
}

func TestFetchTickerMalformed(t *testing.T) {
	bodies := map[string]string{
		"empty data":  `{"code":0,"result":{"data":[]}}`,
		"api code":    `{"code":10001,"message":"system error","result":{}}`,
		"missing ask": `{"code":0,"result":{"data":[{"i":"BTC_USDT","h":"1","l":"1"}]}}`,
		"not json":    `<html>`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			c := NewClient(ClientOptions{BaseURL: srv.URL}, noopLogger())
			_, err := c.FetchTicker(context.Background(), "BTC_USDT")
			assert.Error(t, err)
		})
	}
}

func TestFetchTickerRequiresSymbol(t *testing.T) {
	c := NewClient(ClientOptions{}, noopLogger())
	_, err := c.FetchTicker(context.Background(), " ")
	assert.Error(t, err)
}

func TestVolatility(t *testing.T) {
	tests := []struct {
		name      string
		high, low decimal.Decimal
		want      decimal.Decimal
	}{
		{"four percent range", d("51000"), d("49000"), d("4")},
		{"flat range", d("50000"), d("50000"), decimal.Zero},
		{"missing high", decimal.Zero, d("49000"), decimal.Zero},
		{"missing low", d("51000"), decimal.Zero, decimal.Zero},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Volatility(tt.high, tt.low)
			assert.True(t, got.Equal(tt.want), "want %s, got %s", tt.want, got)
		})
	}
}

func TestBaselineObserve(t *testing.T) {
	b := NewBaseline()

	assert.True(t, b.Observe("BTC_USDT", d("100")).IsZero(), "first observation seeds the baseline")

	change := b.Observe("BTC_USDT", d("110"))
	assert.True(t, change.Equal(d("10")), "got %s", change)

	last, ok := b.Last("BTC_USDT")
	require.True(t, ok)
	assert.True(t, last.Equal(d("110")))

	assert.True(t, b.Observe("BTC_USDT", d("110")).IsZero(), "same price again yields no change")

	change = b.Observe("BTC_USDT", d("99"))
	assert.True(t, change.Equal(d("-10")), "got %s", change)

	assert.True(t, b.Observe("ETH_USDT", d("2000")).IsZero(), "symbols are tracked independently")
}

type fakeFetcher struct {
	mu      sync.Mutex
	tickers map[string]Ticker
	calls   []string
}

func (f *fakeFetcher) FetchTicker(ctx context.Context, symbol string) (Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, symbol)
	t, ok := f.tickers[symbol]
	if !ok {
		return Ticker{}, errors.New("unreachable")
	}
	return t, nil
}

func TestSourceSnapshot(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	fetcher := &fakeFetcher{tickers: map[string]Ticker{
		"BTC_USDT": {Symbol: "BTC_USDT", Ask: d("50000"), Bid: d("49990"), High: d("51000"), Low: d("49000")},
	}}
	src := NewSource(fetcher, noopLogger()).WithClock(func() time.Time { return now })
	baseline := NewBaseline()

	snap, ok := src.Snapshot(context.Background(), "BTC_USDT", baseline)
	require.True(t, ok)
	assert.Equal(t, "BTC_USDT", snap.Symbol)
	assert.True(t, snap.Price.Equal(d("50000")))
	assert.True(t, snap.Volatility.Equal(d("4")))
	assert.True(t, snap.PriceChange.IsZero())
	assert.Equal(t, now, snap.Timestamp)

	fetcher.tickers["BTC_USDT"] = Ticker{Symbol: "BTC_USDT", Ask: d("51000"), High: d("51000"), Low: d("49000")}
	snap, ok = src.Snapshot(context.Background(), "BTC_USDT", baseline)
	require.True(t, ok)
	assert.True(t, snap.PriceChange.Equal(d("2")), "got %s", snap.PriceChange)
}

func TestSourceSnapshotFailure(t *testing.T) {
	src := NewSource(&fakeFetcher{}, noopLogger())
	baseline := NewBaseline()

	_, ok := src.Snapshot(context.Background(), "BTC_USDT", baseline)
	assert.False(t, ok)

	_, seeded := baseline.Last("BTC_USDT")
	assert.False(t, seeded, "failed fetch must not touch the baseline")
}

func TestSourceSnapshotsFiltersFailures(t *testing.T) {
	fetcher := &fakeFetcher{tickers: map[string]Ticker{
		"BTC_USDT": {Ask: d("50000")},
		"CRO_USDT": {Ask: d("0.1")},
	}}
	src := NewSource(fetcher, noopLogger())

	snaps := src.Snapshots(context.Background(), []string{"BTC_USDT", "ETH_USDT", "CRO_USDT"}, NewBaseline())
	require.Len(t, snaps, 2)
	assert.Equal(t, "BTC_USDT", snaps[0].Symbol)
	assert.Equal(t, "CRO_USDT", snaps[1].Symbol)
	assert.Len(t, fetcher.calls, 3)
}
