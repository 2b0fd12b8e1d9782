package market

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var two = decimal.NewFromInt(2)

// Snapshot is a quote enriched with the derived metrics policies evaluate.
type Snapshot struct {
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	Bid         decimal.Decimal `json:"bid"`
	High24h     decimal.Decimal `json:"high24h"`
	Low24h      decimal.Decimal `json:"low24h"`
	Volume24h   decimal.Decimal `json:"volume24h"`
	Change24h   decimal.Decimal `json:"change24h"`
	Volatility  decimal.Decimal `json:"volatility"`
	PriceChange decimal.Decimal `json:"priceChange"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Baseline remembers the last observed price per symbol. It is owned by
// the caller and shared across poll cycles.
type Baseline struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewBaseline returns an empty baseline.
func NewBaseline() *Baseline {
	return &Baseline{prices: make(map[string]decimal.Decimal)}
}

// Observe records price for symbol and returns the percentage change from
// the previous observation. The first observation returns zero.
func (b *Baseline) Observe(symbol string, price decimal.Decimal) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()

	last, ok := b.prices[symbol]
	b.prices[symbol] = price
	if !ok || last.IsZero() {
		return decimal.Zero
	}
	return price.Sub(last).Div(last).Mul(hundred)
}

// Last returns the most recent price recorded for symbol.
func (b *Baseline) Last(symbol string) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.prices[symbol]
	return p, ok
}

// Volatility is the 24h range over its midpoint, in percent. A missing
// high or low yields zero.
func Volatility(high, low decimal.Decimal) decimal.Decimal {
	if high.IsZero() || low.IsZero() {
		return decimal.Zero
	}
	mid := high.Add(low).Div(two)
	if mid.IsZero() {
		return decimal.Zero
	}
	return high.Sub(low).Div(mid).Mul(hundred)
}

// Source turns tickers into snapshots.
type Source struct {
	fetcher TickerFetcher
	logger  zerolog.Logger
	now     func() time.Time
}

// NewSource wraps a ticker fetcher.
func NewSource(fetcher TickerFetcher, logger zerolog.Logger) *Source {
	return &Source{
		fetcher: fetcher,
		logger:  logger.With().Str("component", "market_source").Logger(),
		now:     time.Now,
	}
}

// WithClock overrides the timestamp source, for tests.
func (s *Source) WithClock(now func() time.Time) *Source {
	s.now = now
	return s
}

// Snapshot fetches symbol and derives its metrics. Failures are logged and
// reported as ok == false; the baseline is only advanced on success.
func (s *Source) Snapshot(ctx context.Context, symbol string, baseline *Baseline) (Snapshot, bool) {
	t, err := s.fetcher.FetchTicker(ctx, symbol)
	if err != nil {
		s.logger.Error().Err(err).Str("symbol", symbol).Msg("failed to fetch ticker")
		return Snapshot{}, false
	}

	return Snapshot{
		Symbol:      symbol,
		Price:       t.Ask,
		Bid:         t.Bid,
		High24h:     t.High,
		Low24h:      t.Low,
		Volume24h:   t.Volume,
		Change24h:   t.ChangePct,
		Volatility:  Volatility(t.High, t.Low),
		PriceChange: baseline.Observe(symbol, t.Ask),
		Timestamp:   s.now().UTC(),
	}, true
}

// Snapshots fetches all symbols concurrently. Successful snapshots are
// returned in input order; failures are dropped.
func (s *Source) Snapshots(ctx context.Context, symbols []string, baseline *Baseline) []Snapshot {
	results := make([]*Snapshot, len(symbols))

	var g errgroup.Group
	for i, symbol := range symbols {
		g.Go(func() error {
			if snap, ok := s.Snapshot(ctx, symbol, baseline); ok {
				results[i] = &snap
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Snapshot, 0, len(symbols))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}
