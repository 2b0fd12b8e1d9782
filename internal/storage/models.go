package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brolab-dev/x402-mcp/internal/authorization"
	"github.com/brolab-dev/x402-mcp/internal/market"
)

// Settlement statuses recorded by the engine. Facilitator-reported statuses
// outside this set are stored as received.
const (
	StatusSubmitted = "submitted"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
	StatusUnknown   = "unknown"
)

// SettlementRecord captures one triggered settlement attempt.
type SettlementRecord struct {
	ID            string                 `json:"id"`
	PolicyID      string                 `json:"policyId"`
	TriggeredAt   time.Time              `json:"triggeredAt"`
	TriggerValue  decimal.Decimal        `json:"triggerValue"`
	MarketData    *market.Snapshot       `json:"marketData,omitempty"`
	Authorization *authorization.Message `json:"authorization,omitempty"`
	Status        string                 `json:"status"`
	TxHash        *string                `json:"txHash"`
	Error         *string                `json:"error,omitempty"`
	Result        json.RawMessage        `json:"result,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

// Failed reports whether the attempt ended in failure.
func (r SettlementRecord) Failed() bool {
	return r.Status == StatusFailed
}
