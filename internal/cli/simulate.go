package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/brolab-dev/x402-mcp/internal/app"
)

var (
	simulateSymbol   string
	simulatePrice    string
	simulateHigh     string
	simulateLow      string
	simulatePrevious string
	simulateVerify   bool
	simulateSubmit   bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Evaluate policies against a synthetic snapshot and sign the resulting authorizations",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SimulateOptions{
			Symbol: simulateSymbol,
			Verify: simulateVerify,
			Submit: simulateSubmit,
		}

		fields := []struct {
			flag  string
			value string
			dst   *decimal.Decimal
		}{
			{"price", simulatePrice, &opts.Price},
			{"high", simulateHigh, &opts.High},
			{"low", simulateLow, &opts.Low},
			{"previous", simulatePrevious, &opts.Previous},
		}
		for _, f := range fields {
			if f.value == "" {
				continue
			}
			d, err := decimal.NewFromString(f.value)
			if err != nil {
				return fmt.Errorf("invalid --%s value: %w", f.flag, err)
			}
			*f.dst = d
		}

		return getApp().Simulate(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "", "Instrument name (defaults to policy.symbol)")
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "", "Current price")
	simulateCmd.Flags().StringVar(&simulateHigh, "high", "", "24h high")
	simulateCmd.Flags().StringVar(&simulateLow, "low", "", "24h low")
	simulateCmd.Flags().StringVar(&simulatePrevious, "previous", "", "Previous price, seeds the price-change baseline")
	simulateCmd.Flags().BoolVar(&simulateVerify, "verify", false, "Ask the facilitator to verify each payment header")
	simulateCmd.Flags().BoolVar(&simulateSubmit, "submit", false, "Settle triggered policies through the facilitator")
	_ = simulateCmd.MarkFlagRequired("price")
}
