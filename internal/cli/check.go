package cli

import (
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe the facilitator, RPC node and wallet balance",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Check(cmd.Context(), cmd.OutOrStdout())
	},
}
