package settlement

import (
	"github.com/brolab-dev/x402-mcp/internal/market"
	"github.com/brolab-dev/x402-mcp/internal/policy"
	"github.com/brolab-dev/x402-mcp/internal/storage"
)

// Status is the read-only view served by the status endpoint.
type Status struct {
	Network          string   `json:"network"`
	ChainID          int64    `json:"chainId"`
	Wallet           string   `json:"wallet"`
	Recipient        string   `json:"recipient"`
	SettlementAmount string   `json:"settlementAmount"`
	Asset            string   `json:"asset"`
	Symbols          []string `json:"symbols"`
	PollIntervalMS   int64    `json:"pollIntervalMs"`
	Running          bool     `json:"running"`
	ActivePolicies   int      `json:"activePolicies"`
	TotalSettlements int      `json:"totalSettlements"`
}

// Status summarises configuration and progress.
func (e *Engine) Status() Status {
	return Status{
		Network:          e.opts.Network,
		ChainID:          e.opts.ChainID,
		Wallet:           e.signer.Address().Hex(),
		Recipient:        e.opts.Recipient.Hex(),
		SettlementAmount: e.opts.Amount.String(),
		Asset:            e.opts.Asset.Hex(),
		Symbols:          append([]string(nil), e.opts.Symbols...),
		PollIntervalMS:   e.opts.PollInterval.Milliseconds(),
		Running:          e.Running(),
		ActivePolicies:   len(e.policies.Active()),
		TotalSettlements: e.history.Count(),
	}
}

// Policies returns the enabled policies.
func (e *Engine) Policies() []policy.Policy {
	return e.policies.Active()
}

// History returns every settlement record, oldest first.
func (e *Engine) History() []storage.SettlementRecord {
	return e.history.List()
}

// Baseline exposes the last-seen price per symbol.
func (e *Engine) Baseline() *market.Baseline {
	return e.baseline
}
