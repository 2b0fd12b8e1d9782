package market

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

	"github.com/brolab-dev/x402-mcp/internal/version"
)

const tickerPath = "/public/get-ticker"

var hundred = decimal.NewFromInt(100)

// Ticker is one quote as reported by the exchange.
type Ticker struct {
	Symbol     string
	Ask        decimal.Decimal
	Bid        decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Volume     decimal.Decimal
	ChangePct  decimal.Decimal
	ServerTime time.Time
}

// ClientOptions parameterise the ticker client.
type ClientOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Client fetches tickers from the Crypto.com exchange public API.
type Client struct {
	opts    ClientOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewClient constructs a ticker client.
func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.crypto.com/v2"
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "ticker_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchTicker retrieves the latest quote for symbol, e.g. BTC_USDT.
func (c *Client) FetchTicker(ctx context.Context, symbol string) (Ticker, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return Ticker{}, errors.New("symbol required")
	}

	endpoint := c.baseURL + tickerPath + "?" + url.Values{"instrument_name": {symbol}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Ticker{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", version.UserAgent())
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Ticker{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Ticker{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return Ticker{}, parseHTTPError(resp.StatusCode, payload)
	}

	var res tickerResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return Ticker{}, fmt.Errorf("decode ticker %s: %w", symbol, err)
	}
	if res.Code != 0 {
		return Ticker{}, fmt.Errorf("ticker api error (code %d): %s", res.Code, res.Message)
	}
	if len(res.Result.Data) == 0 {
		return Ticker{}, fmt.Errorf("ticker %s: empty result", symbol)
	}

	row := res.Result.Data[0]
	if !row.Ask.IsPositive() {
		return Ticker{}, fmt.Errorf("ticker %s: missing ask price", symbol)
	}

	t := Ticker{
		Symbol:    symbol,
		Ask:       row.Ask,
		Bid:       row.Bid,
		High:      row.High,
		Low:       row.Low,
		Volume:    row.Volume,
		ChangePct: row.Change.Mul(hundred),
	}
	if row.Timestamp > 0 {
		t.ServerTime = time.UnixMilli(row.Timestamp).UTC()
	}
	return t, nil
}

// tickerResponse mirrors the v2 envelope. Row fields are single letters:
// a=ask b=bid h=high l=low v=volume c=24h change ratio t=timestamp(ms).
type tickerResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Result  struct {
		Data []struct {
			Instrument string          `json:"i"`
			Ask        decimal.Decimal `json:"a"`
			Bid        decimal.Decimal `json:"b"`
			High       decimal.Decimal `json:"h"`
			Low        decimal.Decimal `json:"l"`
			Volume     decimal.Decimal `json:"v"`
			Change     decimal.Decimal `json:"c"`
			Timestamp  int64           `json:"t"`
		} `json:"data"`
	} `json:"result"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Message != "" {
		return fmt.Errorf("ticker api error (%d): %s", status, apiErr.Message)
	}
	if len(payload) > 0 {
		return fmt.Errorf("ticker api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("ticker api error (%d)", status)
}

var _ TickerFetcher = (*Client)(nil)
