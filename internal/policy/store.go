package policy

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/brolab-dev/x402-mcp/internal/market"
)

var (
	// ErrDuplicatePolicy is returned when adding a policy whose id exists.
	ErrDuplicatePolicy = errors.New("policy: duplicate id")
	// ErrInvalidPolicy is returned for policies missing an id or symbol.
	ErrInvalidPolicy = errors.New("policy: invalid definition")
)

// Defaults parameterise the built-in policies.
type Defaults struct {
	Symbol               string
	VolatilityThreshold  decimal.Decimal
	PriceChangeThreshold decimal.Decimal
}

// DefaultPolicies returns the volatility and price-change rules installed
// at startup.
func DefaultPolicies(d Defaults) []Policy {
	asset := d.Symbol
	if base, _, ok := strings.Cut(d.Symbol, "_"); ok {
		asset = base
	}
	return []Policy{
		{
			ID:          "default-volatility",
			Type:        TypeVolatility,
			Symbol:      d.Symbol,
			Operator:    OpGreater,
			Threshold:   d.VolatilityThreshold,
			Description: fmt.Sprintf("Settle when %s volatility exceeds %s%%", asset, d.VolatilityThreshold.String()),
		},
		{
			ID:          "default-price-change",
			Type:        TypePriceChange,
			Symbol:      d.Symbol,
			Operator:    OpAbsGreater,
			Threshold:   d.PriceChangeThreshold,
			Description: fmt.Sprintf("Settle when %s price changes more than %s%%", asset, d.PriceChangeThreshold.String()),
		},
	}
}

// Store holds the policy set. Reads may run concurrently with evaluation.
type Store struct {
	mu       sync.RWMutex
	policies []Policy
	logger   zerolog.Logger
	now      func() time.Time
}

// NewStore builds a store seeded with initial policies.
func NewStore(logger zerolog.Logger, initial ...Policy) (*Store, error) {
	s := &Store{
		logger: logger.With().Str("component", "policy_store").Logger(),
		now:    time.Now,
	}
	for _, p := range initial {
		if err := s.Add(p); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add appends a policy, enabling it and stamping its creation time.
func (s *Store) Add(p Policy) error {
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Symbol) == "" {
		return fmt.Errorf("%w: id and symbol are required", ErrInvalidPolicy)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.policies {
		if existing.ID == p.ID {
			return fmt.Errorf("%w: %s", ErrDuplicatePolicy, p.ID)
		}
	}
	p.Enabled = true
	p.CreatedAt = s.now().UTC()
	s.policies = append(s.policies, p)
	return nil
}

// Remove deletes the policy with id and reports whether it existed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.policies[:0]
	removed := false
	for _, p := range s.policies {
		if p.ID == id {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	s.policies = kept
	return removed
}

// SetEnabled toggles a policy without removing it.
func (s *Store) SetEnabled(id string, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.policies {
		if s.policies[i].ID == id {
			s.policies[i].Enabled = enabled
			return true
		}
	}
	return false
}

// All returns a copy of every policy.
func (s *Store) All() []Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Policy(nil), s.policies...)
}

// Active returns a copy of the enabled policies.
func (s *Store) Active() []Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make([]Policy, 0, len(s.policies))
	for _, p := range s.policies {
		if p.Enabled {
			active = append(active, p)
		}
	}
	return active
}

// Evaluate returns a trigger for every enabled policy whose condition holds
// against the snapshot of its symbol. Policies without a matching snapshot
// or with an unknown type are skipped.
func (s *Store) Evaluate(snapshots []market.Snapshot, now time.Time) []Trigger {
	bySymbol := make(map[string]market.Snapshot, len(snapshots))
	for _, snap := range snapshots {
		if _, seen := bySymbol[snap.Symbol]; !seen {
			bySymbol[snap.Symbol] = snap
		}
	}

	var triggered []Trigger
	for _, p := range s.Active() {
		snap, ok := bySymbol[p.Symbol]
		if !ok {
			continue
		}
		value, ok := Metric(p.Type, snap)
		if !ok {
			continue
		}
		if !Compare(value, p.Operator, p.Threshold) {
			continue
		}

		triggered = append(triggered, Trigger{
			Policy:      p,
			Snapshot:    snap,
			Value:       value,
			TriggeredAt: now.UTC(),
		})
		s.logger.Info().
			Str("policy_id", p.ID).
			Str("symbol", p.Symbol).
			Str("value", value.StringFixed(2)).
			Str("threshold", p.Threshold.String()).
			Msg(p.Description)
	}
	return triggered
}
