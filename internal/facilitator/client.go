package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/brolab-dev/x402-mcp/internal/version"
)

const (
	settlePath    = "/settle"
	verifyPath    = "/verify"
	supportedPath = "/supported"
)

// Options parameterise the facilitator client.
type Options struct {
	BaseURL string
	Version int
	Timeout time.Duration
}

// Client calls the facilitator's HTTP API.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewClient constructs a facilitator client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if opts.Version <= 0 {
		opts.Version = 1
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://facilitator.cronoslabs.org/v2/x402"
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "facilitator").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Version is the x402 protocol version the client speaks.
func (c *Client) Version() int {
	return c.opts.Version
}

type settleRequest struct {
	X402Version         int          `json:"x402Version"`
	PaymentHeader       string       `json:"paymentHeader"`
	PaymentRequirements Requirements `json:"paymentRequirements"`
}

type verifyRequest struct {
	PaymentHeader       string       `json:"paymentHeader"`
	PaymentRequirements Requirements `json:"paymentRequirements"`
}

// Settle submits a payment header for settlement.
func (c *Client) Settle(ctx context.Context, header string, req Requirements) (SettleResponse, error) {
	payload, err := c.post(ctx, settlePath, settleRequest{
		X402Version:         c.opts.Version,
		PaymentHeader:       header,
		PaymentRequirements: req,
	})
	if err != nil {
		return SettleResponse{}, fmt.Errorf("settle payment: %w", err)
	}

	var res SettleResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return SettleResponse{}, fmt.Errorf("decode settle response: %w", err)
	}
	res.Raw = json.RawMessage(payload)
	return res, nil
}

// Verify asks the facilitator to validate a payment header without
// settling it.
func (c *Client) Verify(ctx context.Context, header string, req Requirements) (VerifyResponse, error) {
	payload, err := c.post(ctx, verifyPath, verifyRequest{
		PaymentHeader:       header,
		PaymentRequirements: req,
	})
	if err != nil {
		return VerifyResponse{}, fmt.Errorf("verify payment: %w", err)
	}

	var res VerifyResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return VerifyResponse{}, fmt.Errorf("decode verify response: %w", err)
	}
	return res, nil
}

// Supported lists the payment kinds the facilitator accepts. It doubles
// as a health check.
func (c *Client) Supported(ctx context.Context) (SupportedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+supportedPath, nil)
	if err != nil {
		return SupportedResponse{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	payload, err := c.do(req)
	if err != nil {
		return SupportedResponse{}, fmt.Errorf("supported networks: %w", err)
	}

	var res SupportedResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return SupportedResponse{}, fmt.Errorf("decode supported response: %w", err)
	}
	return res, nil
}

func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("X402-Version", strconv.Itoa(c.opts.Version))

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	c.logger.Debug().Str("path", req.URL.Path).Int("status", resp.StatusCode).Msg("facilitator response")
	return payload, nil
}

type errorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	InvalidReason string `json:"invalidReason"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Error != "" {
			return fmt.Errorf("facilitator error (%d): %s", status, apiErr.Error)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("facilitator error (%d): %s", status, apiErr.Message)
		}
		if apiErr.InvalidReason != "" {
			return fmt.Errorf("facilitator error (%d): %s", status, apiErr.InvalidReason)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("facilitator error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("facilitator error (%d)", status)
}
