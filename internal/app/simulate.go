package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brolab-dev/x402-mcp/internal/facilitator"
	"github.com/brolab-dev/x402-mcp/internal/market"
	"github.com/brolab-dev/x402-mcp/internal/report"
	"github.com/brolab-dev/x402-mcp/internal/settlement"
)

// SimulateOptions describe a synthetic market snapshot.
type SimulateOptions struct {
	Symbol   string
	Price    decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Previous decimal.Decimal
	Verify   bool
	Submit   bool
}

// Simulate evaluates the policies against a synthetic snapshot. Each
// trigger is signed and its payment header printed; Verify asks the
// facilitator to check it and Submit settles it for real.
func (a *App) Simulate(ctx context.Context, w io.Writer, opts SimulateOptions) error {
	if opts.Symbol == "" {
		opts.Symbol = a.Config.Policy.Symbol
	}
	if !opts.Price.IsPositive() {
		return errors.New("price must be greater than zero")
	}

	src := &staticSource{opts: opts}
	fac := a.newFacilitator()
	engine, signer, err := a.newEngine(src, fac, nil)
	if err != nil {
		return err
	}

	if opts.Submit {
		records, err := engine.CheckAndSettle(ctx)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Fprintln(w, "no policy triggered")
			return nil
		}
		return report.WriteTable(w, records)
	}

	snapshots := src.Snapshots(ctx, nil, engine.Baseline())
	if err := writeSnapshots(w, snapshots); err != nil {
		return err
	}

	policies, err := a.newPolicies()
	if err != nil {
		return err
	}
	triggers := policies.Evaluate(snapshots, time.Now())
	if len(triggers) == 0 {
		fmt.Fprintln(w, "no policy triggered")
		return nil
	}

	settle, err := a.settlementOptions()
	if err != nil {
		return err
	}

	for _, trigger := range triggers {
		auth, err := signer.Authorize(settle.Recipient, settle.Amount, settle.Validity)
		if err != nil {
			return fmt.Errorf("authorize %s: %w", trigger.Policy.ID, err)
		}
		header, err := facilitator.EncodeHeader(fac.Version(), settle.Network, auth.Payload)
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "\npolicy %s triggered (value %s): %s\n", trigger.Policy.ID, trigger.Value.StringFixed(2), trigger.Policy.Description)
		fmt.Fprintf(w, "nonce: %s\nvalidBefore: %d\nX-PAYMENT: %s\n", auth.Message.Nonce, auth.Message.ValidBefore, header)

		if !opts.Verify {
			continue
		}
		res, err := fac.Verify(ctx, header, engine.Requirements(trigger.Policy))
		if err != nil {
			fmt.Fprintf(w, "verify: error: %s\n", err)
			continue
		}
		if res.IsValid {
			fmt.Fprintln(w, "verify: valid")
		} else {
			fmt.Fprintf(w, "verify: invalid (%s)\n", res.InvalidReason)
		}
	}
	return nil
}

func writeSnapshots(w io.Writer, snapshots []market.Snapshot) error {
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tPrice\tHigh\tLow\tVolatility%\tChange%")
	for _, s := range snapshots {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Symbol,
			s.Price.String(),
			s.High24h.String(),
			s.Low24h.String(),
			s.Volatility.StringFixed(2),
			s.PriceChange.StringFixed(2),
		)
	}
	return writer.Flush()
}

// staticSource serves one synthetic snapshot regardless of the requested
// symbols.
type staticSource struct {
	opts SimulateOptions
}

func (s *staticSource) Snapshots(ctx context.Context, symbols []string, baseline *market.Baseline) []market.Snapshot {
	if s.opts.Previous.IsPositive() {
		baseline.Observe(s.opts.Symbol, s.opts.Previous)
	}
	return []market.Snapshot{{
		Symbol:      s.opts.Symbol,
		Price:       s.opts.Price,
		Bid:         s.opts.Price,
		High24h:     s.opts.High,
		Low24h:      s.opts.Low,
		Volatility:  market.Volatility(s.opts.High, s.opts.Low),
		PriceChange: baseline.Observe(s.opts.Symbol, s.opts.Price),
		Timestamp:   time.Now().UTC(),
	}}
}

var _ settlement.MarketSource = (*staticSource)(nil)
