package market

import (
	"context"
)

// TickerFetcher retrieves a raw quote for one symbol.
type TickerFetcher interface {
	FetchTicker(ctx context.Context, symbol string) (Ticker, error)
}
