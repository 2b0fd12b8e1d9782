// Package settlement runs the poll loop: fetch market snapshots, evaluate
// policies, and for every trigger sign an authorization and submit it to
// the facilitator.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brolab-dev/x402-mcp/internal/alerting"
	"github.com/brolab-dev/x402-mcp/internal/authorization"
	"github.com/brolab-dev/x402-mcp/internal/facilitator"
	"github.com/brolab-dev/x402-mcp/internal/market"
	"github.com/brolab-dev/x402-mcp/internal/policy"
	"github.com/brolab-dev/x402-mcp/internal/scheduler"
	"github.com/brolab-dev/x402-mcp/internal/storage"
)

var (
	// ErrAlreadyRunning is returned by Start on a running engine.
	ErrAlreadyRunning = errors.New("settlement: engine already running")
	// ErrNoMarketData means no symbol could be fetched in an iteration.
	ErrNoMarketData = errors.New("settlement: no market data")
)

// MarketSource produces snapshots for a set of symbols.
type MarketSource interface {
	Snapshots(ctx context.Context, symbols []string, baseline *market.Baseline) []market.Snapshot
}

// Authorizer signs transfer authorizations.
type Authorizer interface {
	Address() common.Address
	Authorize(to common.Address, value *big.Int, window time.Duration) (authorization.Authorization, error)
}

// Facilitator accepts signed authorizations for settlement.
type Facilitator interface {
	Version() int
	Settle(ctx context.Context, header string, req facilitator.Requirements) (facilitator.SettleResponse, error)
	Supported(ctx context.Context) (facilitator.SupportedResponse, error)
}

// Options carry the settlement parameters.
type Options struct {
	Network           string
	ChainID           int64
	Asset             common.Address
	Recipient         common.Address
	Amount            *big.Int
	MaxTimeoutSeconds int
	Validity          time.Duration
	Symbols           []string
	PollInterval      time.Duration
	StartupDelay      time.Duration
}

// Dependencies are the collaborators an Engine drives. Notifier and
// History are optional.
type Dependencies struct {
	Market      MarketSource
	Signer      Authorizer
	Facilitator Facilitator
	Policies    *policy.Store
	History     storage.SettlementStore
	Notifier    alerting.Notifier
}

// Engine owns the poll loop state: the price baseline, the policy set and
// the settlement history.
type Engine struct {
	opts        Options
	market      MarketSource
	signer      Authorizer
	facilitator Facilitator
	policies    *policy.Store
	history     storage.SettlementStore
	notifier    alerting.Notifier
	baseline    *market.Baseline
	logger      zerolog.Logger

	now   func() time.Time
	newID func() string

	mu      sync.Mutex
	running bool
	active  bool
	stop    chan struct{}
}

// New wires an engine.
func New(opts Options, deps Dependencies, logger zerolog.Logger) (*Engine, error) {
	if deps.Market == nil || deps.Signer == nil || deps.Facilitator == nil || deps.Policies == nil {
		return nil, fmt.Errorf("settlement: market, signer, facilitator and policies are required")
	}
	if opts.Amount == nil || opts.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("settlement: amount must be positive")
	}
	if opts.PollInterval <= 0 {
		return nil, fmt.Errorf("settlement: poll interval must be positive")
	}
	if len(opts.Symbols) == 0 {
		return nil, fmt.Errorf("settlement: at least one symbol required")
	}

	history := deps.History
	if history == nil {
		history = storage.NewMemory()
	}

	return &Engine{
		opts:        opts,
		market:      deps.Market,
		signer:      deps.Signer,
		facilitator: deps.Facilitator,
		policies:    deps.Policies,
		history:     history,
		notifier:    deps.Notifier,
		baseline:    market.NewBaseline(),
		logger:      logger.With().Str("component", "settlement").Logger(),
		now:         time.Now,
		newID:       uuid.NewString,
	}, nil
}

// Start runs the poll loop until Stop is called or ctx is cancelled. It
// returns nil after Stop and ctx.Err() after cancellation.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running || e.active {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	e.active = true
	stop := make(chan struct{})
	e.stop = stop
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.active = false
		e.stop = nil
		e.mu.Unlock()
	}()

	e.healthCheck(ctx)
	e.logBanner()

	sched := scheduler.New(scheduler.Options{
		Interval:     e.opts.PollInterval,
		StartupDelay: e.opts.StartupDelay,
	}, e.logger)
	err := sched.Run(ctx, stop, func(ctx context.Context, _ time.Time) error {
		_, err := e.CheckAndSettle(ctx)
		return err
	})
	e.logger.Info().Int("settlements", e.history.Count()).Msg("settlement engine stopped")
	return err
}

// Stop asks the loop to exit. The current iteration, if any, finishes.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
}

// Running reports whether the loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// CheckAndSettle runs one iteration and returns the records it appended.
// Settlement failures are recorded, not returned.
func (e *Engine) CheckAndSettle(ctx context.Context) ([]storage.SettlementRecord, error) {
	snapshots := e.market.Snapshots(ctx, e.opts.Symbols, e.baseline)
	if len(snapshots) == 0 {
		return nil, ErrNoMarketData
	}
	return e.Evaluate(ctx, snapshots), nil
}

// Evaluate applies the policies to snapshots and settles every trigger in
// order.
func (e *Engine) Evaluate(ctx context.Context, snapshots []market.Snapshot) []storage.SettlementRecord {
	for _, snap := range snapshots {
		e.logger.Info().
			Str("symbol", snap.Symbol).
			Str("price", snap.Price.String()).
			Str("volatility", snap.Volatility.StringFixed(2)).
			Str("price_change", snap.PriceChange.StringFixed(2)).
			Msg("market snapshot")
	}

	triggers := e.policies.Evaluate(snapshots, e.now())
	if len(triggers) == 0 {
		e.logger.Debug().Int("snapshots", len(snapshots)).Msg("no policy triggered")
		return nil
	}

	records := make([]storage.SettlementRecord, 0, len(triggers))
	for _, trigger := range triggers {
		records = append(records, e.Settle(ctx, trigger))
	}
	return records
}

// Settle signs and submits one triggered settlement, appending the outcome
// to the history whatever it is.
func (e *Engine) Settle(ctx context.Context, trigger policy.Trigger) storage.SettlementRecord {
	snap := trigger.Snapshot
	rec := storage.SettlementRecord{
		ID:           e.newID(),
		PolicyID:     trigger.Policy.ID,
		TriggeredAt:  trigger.TriggeredAt,
		TriggerValue: trigger.Value,
		MarketData:   &snap,
		Status:       storage.StatusSubmitted,
	}

	resp, err := e.submit(ctx, trigger.Policy, &rec)
	if err != nil {
		msg := err.Error()
		rec.Status = storage.StatusFailed
		rec.Error = &msg
		e.logger.Error().Err(err).Str("policy_id", rec.PolicyID).Msg("settlement failed")
	} else {
		rec.Status = resp.Outcome()
		rec.Result = resp.Raw
		if resp.TxHash != "" {
			tx := resp.TxHash
			rec.TxHash = &tx
		}
		if resp.Error != "" {
			msg := resp.Error
			rec.Error = &msg
		}
	}
	rec.Timestamp = e.now().UTC()
	e.history.Append(rec)

	total := e.history.Count()
	event := e.logger.Info()
	if rec.Failed() {
		event = e.logger.Warn()
	}
	if rec.TxHash != nil {
		event = event.Str("tx_hash", *rec.TxHash)
	}
	event.Str("id", rec.ID).
		Str("policy_id", rec.PolicyID).
		Str("status", rec.Status).
		Int("total", total).
		Msg("settlement recorded")

	e.notify(ctx, trigger.Policy, rec, total)
	return rec
}

func (e *Engine) submit(ctx context.Context, p policy.Policy, rec *storage.SettlementRecord) (facilitator.SettleResponse, error) {
	auth, err := e.signer.Authorize(e.opts.Recipient, e.opts.Amount, e.opts.Validity)
	if err != nil {
		return facilitator.SettleResponse{}, fmt.Errorf("authorize: %w", err)
	}
	msg := auth.Message
	rec.Authorization = &msg

	e.logger.Info().
		Str("from", msg.From).
		Str("to", msg.To).
		Str("value", msg.Value).
		Int64("valid_before", msg.ValidBefore).
		Msg("authorization signed")

	header, err := facilitator.EncodeHeader(e.facilitator.Version(), e.opts.Network, auth.Payload)
	if err != nil {
		return facilitator.SettleResponse{}, err
	}

	resp, err := e.facilitator.Settle(ctx, header, e.Requirements(p))
	if err != nil {
		return facilitator.SettleResponse{}, fmt.Errorf("settle: %w", err)
	}
	return resp, nil
}

// Requirements builds the payment requirements submitted for policy p.
func (e *Engine) Requirements(p policy.Policy) facilitator.Requirements {
	return facilitator.Requirements{
		Scheme:            facilitator.SchemeExact,
		Network:           e.opts.Network,
		MaxAmountRequired: e.opts.Amount.String(),
		Resource:          "settlement:" + p.ID,
		Description:       "Auto-settlement triggered by " + p.Description,
		MimeType:          "application/json",
		PayTo:             e.opts.Recipient.Hex(),
		MaxTimeoutSeconds: e.opts.MaxTimeoutSeconds,
		Asset:             e.opts.Asset.Hex(),
	}
}

func (e *Engine) notify(ctx context.Context, p policy.Policy, rec storage.SettlementRecord, total int) {
	if e.notifier == nil {
		return
	}
	note := alerting.Notification{
		Record:      rec,
		Description: p.Description,
		Network:     e.opts.Network,
		Recipient:   e.opts.Recipient.Hex(),
		Amount:      e.opts.Amount.String(),
		Total:       total,
	}
	if err := e.notifier.Notify(ctx, note); err != nil {
		e.logger.Error().Err(err).Str("id", rec.ID).Msg("failed to dispatch settlement notification")
	}
}

func (e *Engine) healthCheck(ctx context.Context) {
	supported, err := e.facilitator.Supported(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("facilitator health check failed, continuing")
		return
	}
	e.logger.Info().
		Int("kinds", len(supported.Kinds)).
		Bool("network_supported", supported.Supports(e.opts.Network)).
		Msg("facilitator reachable")
}

func (e *Engine) logBanner() {
	e.logger.Info().
		Str("network", e.opts.Network).
		Int64("chain_id", e.opts.ChainID).
		Str("wallet", e.signer.Address().Hex()).
		Str("recipient", e.opts.Recipient.Hex()).
		Str("amount", e.opts.Amount.String()).
		Dur("interval", e.opts.PollInterval).
		Strs("symbols", e.opts.Symbols).
		Int("active_policies", len(e.policies.Active())).
		Msg("settlement engine started")
}
