// Package policy holds the threshold rules that decide when a settlement
// is triggered, and evaluates them against market snapshots.
package policy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/brolab-dev/x402-mcp/internal/market"
)

// Type names the snapshot metric a policy watches.
type Type string

const (
	TypeVolatility     Type = "volatility"
	TypePriceChange    Type = "price_change"
	TypePriceThreshold Type = "price_threshold"
)

// Operator compares an observed value against a threshold.
type Operator string

const (
	OpGreater        Operator = ">"
	OpLess           Operator = "<"
	OpGreaterOrEqual Operator = ">="
	OpLessOrEqual    Operator = "<="
	OpEqual          Operator = "=="
	OpAbsGreater     Operator = "abs>"
	OpAbsLess        Operator = "abs<"
)

// Policy is a single settlement rule.
type Policy struct {
	ID          string          `json:"id"`
	Type        Type            `json:"type"`
	Symbol      string          `json:"symbol"`
	Operator    Operator        `json:"operator"`
	Threshold   decimal.Decimal `json:"threshold"`
	Enabled     bool            `json:"enabled"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Trigger is produced when a policy's condition holds for a snapshot.
type Trigger struct {
	Policy      Policy          `json:"policy"`
	Snapshot    market.Snapshot `json:"snapshot"`
	Value       decimal.Decimal `json:"value"`
	TriggeredAt time.Time       `json:"triggeredAt"`
}

// Compare applies op to value and threshold. Unknown operators never match.
func Compare(value decimal.Decimal, op Operator, threshold decimal.Decimal) bool {
	switch op {
	case OpGreater:
		return value.GreaterThan(threshold)
	case OpLess:
		return value.LessThan(threshold)
	case OpGreaterOrEqual:
		return value.GreaterThanOrEqual(threshold)
	case OpLessOrEqual:
		return value.LessThanOrEqual(threshold)
	case OpEqual:
		return value.Equal(threshold)
	case OpAbsGreater:
		return value.Abs().GreaterThan(threshold)
	case OpAbsLess:
		return value.Abs().LessThan(threshold)
	default:
		return false
	}
}

// Metric selects the snapshot value watched by policy type t.
func Metric(t Type, snap market.Snapshot) (decimal.Decimal, bool) {
	switch t {
	case TypeVolatility:
		return snap.Volatility, true
	case TypePriceChange:
		return snap.PriceChange, true
	case TypePriceThreshold:
		return snap.Price, true
	default:
		return decimal.Decimal{}, false
	}
}
