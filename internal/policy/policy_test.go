package policy

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brolab-dev/x402-mcp/internal/market"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCompare(t *testing.T) {
	tests := []struct {
		value     string
		op        Operator
		threshold string
		want      bool
	}{
		{"4", OpGreater, "3", true},
		{"3", OpGreater, "3", false},
		{"2", OpLess, "3", true},
		{"3", OpGreaterOrEqual, "3", true},
		{"3", OpLessOrEqual, "3", true},
		{"4", OpLessOrEqual, "3", false},
		{"3.00", OpEqual, "3", true},
		{"3.5", OpAbsGreater, "3", true},
		{"-3.5", OpAbsGreater, "3", true},
		{"2.9", OpAbsGreater, "3", false},
		{"-2.9", OpAbsGreater, "3", false},
		{"-3", OpAbsGreater, "3", false},
		{"-1", OpAbsLess, "3", true},
		{"-4", OpAbsLess, "3", false},
		{"100", Operator("!="), "1", false},
		{"100", Operator(""), "1", false},
	}

	for _, tt := range tests {
		t.Run(tt.value+string(tt.op)+tt.threshold, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(d(tt.value), tt.op, d(tt.threshold)))
		})
	}
}

func TestMetric(t *testing.T) {
	snap := market.Snapshot{Price: d("100"), Volatility: d("4"), PriceChange: d("-2")}

	v, ok := Metric(TypeVolatility, snap)
	require.True(t, ok)
	assert.True(t, v.Equal(d("4")))

	v, ok = Metric(TypePriceChange, snap)
	require.True(t, ok)
	assert.True(t, v.Equal(d("-2")))

	v, ok = Metric(TypePriceThreshold, snap)
	require.True(t, ok)
	assert.True(t, v.Equal(d("100")))

	_, ok = Metric(Type("volume"), snap)
	assert.False(t, ok)
}

func newStore(t *testing.T, policies ...Policy) *Store {
	t.Helper()
	s, err := NewStore(zerolog.Nop(), policies...)
	require.NoError(t, err)
	return s
}

func TestDefaultPolicies(t *testing.T) {
	policies := DefaultPolicies(Defaults{Symbol: "BTC_USDT", VolatilityThreshold: d("5"), PriceChangeThreshold: d("3")})
	require.Len(t, policies, 2)

	assert.Equal(t, "default-volatility", policies[0].ID)
	assert.Equal(t, TypeVolatility, policies[0].Type)
	assert.Equal(t, OpGreater, policies[0].Operator)
	assert.Equal(t, "Settle when BTC volatility exceeds 5%", policies[0].Description)

	assert.Equal(t, "default-price-change", policies[1].ID)
	assert.Equal(t, TypePriceChange, policies[1].Type)
	assert.Equal(t, OpAbsGreater, policies[1].Operator)
}

func TestStoreAddRemove(t *testing.T) {
	s := newStore(t, DefaultPolicies(Defaults{Symbol: "BTC_USDT", VolatilityThreshold: d("5"), PriceChangeThreshold: d("3")})...)
	require.Len(t, s.All(), 2)
	for _, p := range s.All() {
		assert.True(t, p.Enabled)
		assert.False(t, p.CreatedAt.IsZero())
	}

	err := s.Add(Policy{ID: "default-volatility", Symbol: "ETH_USDT"})
	assert.ErrorIs(t, err, ErrDuplicatePolicy)

	err = s.Add(Policy{ID: "", Symbol: "ETH_USDT"})
	assert.ErrorIs(t, err, ErrInvalidPolicy)

	require.NoError(t, s.Add(Policy{ID: "eth-floor", Type: TypePriceThreshold, Symbol: "ETH_USDT", Operator: OpLess, Threshold: d("1500")}))
	assert.Len(t, s.Active(), 3)

	assert.True(t, s.Remove("default-volatility"))
	assert.False(t, s.Remove("default-volatility"))
	assert.Len(t, s.All(), 2)

	require.True(t, s.SetEnabled("eth-floor", false))
	assert.Len(t, s.Active(), 1)
	assert.Len(t, s.All(), 2)
}

func TestEvaluateVolatilityThreshold(t *testing.T) {
	snap := market.Snapshot{Symbol: "BTC_USDT", High24h: d("51000"), Low24h: d("49000"), Volatility: market.Volatility(d("51000"), d("49000"))}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	fires := newStore(t, Policy{ID: "vol", Type: TypeVolatility, Symbol: "BTC_USDT", Operator: OpGreater, Threshold: d("3")})
	triggers := fires.Evaluate([]market.Snapshot{snap}, now)
	require.Len(t, triggers, 1)
	assert.Equal(t, "vol", triggers[0].Policy.ID)
	assert.True(t, triggers[0].Value.Equal(d("4")))
	assert.Equal(t, now, triggers[0].TriggeredAt)
	assert.Equal(t, "BTC_USDT", triggers[0].Snapshot.Symbol)

	quiet := newStore(t, Policy{ID: "vol", Type: TypeVolatility, Symbol: "BTC_USDT", Operator: OpGreater, Threshold: d("5")})
	assert.Empty(t, quiet.Evaluate([]market.Snapshot{snap}, now))
}

func TestEvaluateAbsolutePriceChange(t *testing.T) {
	s := newStore(t, Policy{ID: "move", Type: TypePriceChange, Symbol: "BTC_USDT", Operator: OpAbsGreater, Threshold: d("3")})

	for _, change := range []string{"3.1", "-3.1"} {
		triggers := s.Evaluate([]market.Snapshot{{Symbol: "BTC_USDT", PriceChange: d(change)}}, time.Now())
		assert.Len(t, triggers, 1, "change %s", change)
	}
	assert.Empty(t, s.Evaluate([]market.Snapshot{{Symbol: "BTC_USDT", PriceChange: d("-2.9")}}, time.Now()))
}

func TestEvaluateSkipsMissingSymbolAndUnknowns(t *testing.T) {
	s := newStore(t,
		Policy{ID: "eth", Type: TypeVolatility, Symbol: "ETH_USDT", Operator: OpGreater, Threshold: d("0")},
		Policy{ID: "bad-op", Type: TypeVolatility, Symbol: "BTC_USDT", Operator: Operator("~"), Threshold: d("0")},
		Policy{ID: "bad-type", Type: Type("volume"), Symbol: "BTC_USDT", Operator: OpGreater, Threshold: d("0")},
	)

	triggers := s.Evaluate([]market.Snapshot{{Symbol: "BTC_USDT", Volatility: d("10")}}, time.Now())
	assert.Empty(t, triggers)
	assert.Empty(t, s.Evaluate(nil, time.Now()))
}

func TestEvaluateMultipleTriggersKeepPolicyOrder(t *testing.T) {
	s := newStore(t, DefaultPolicies(Defaults{Symbol: "BTC_USDT", VolatilityThreshold: d("3"), PriceChangeThreshold: d("1")})...)
	snap := market.Snapshot{Symbol: "BTC_USDT", Volatility: d("4"), PriceChange: d("-1.5")}

	triggers := s.Evaluate([]market.Snapshot{snap}, time.Now())
	require.Len(t, triggers, 2)
	assert.Equal(t, "default-volatility", triggers[0].Policy.ID)
	assert.Equal(t, "default-price-change", triggers[1].Policy.ID)
}

func TestEvaluateSkipsDisabled(t *testing.T) {
	s := newStore(t, Policy{ID: "vol", Type: TypeVolatility, Symbol: "BTC_USDT", Operator: OpGreater, Threshold: d("1")})
	require.True(t, s.SetEnabled("vol", false))

	assert.Empty(t, s.Evaluate([]market.Snapshot{{Symbol: "BTC_USDT", Volatility: d("4")}}, time.Now()))
}
