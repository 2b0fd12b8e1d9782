package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/brolab-dev/x402-mcp/internal/chain"
)

// Check probes the facilitator and the chain and prints what it finds. It
// returns the joined errors of every failed probe.
func (a *App) Check(ctx context.Context, w io.Writer) error {
	signer, err := a.newSigner()
	if err != nil {
		return fmt.Errorf("init signer: %w", err)
	}
	amount, err := a.Config.SettlementAmount()
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	row := func(name, value string) {
		fmt.Fprintf(writer, "%s\t%s\n", name, value)
	}

	row("Network", fmt.Sprintf("%s (chain %d)", a.Config.Network.Name, a.Config.Network.ChainID))
	row("Token", a.Config.Network.Token.Address)
	row("Wallet", signer.Address().Hex())
	row("Recipient", a.Config.Settlement.Recipient)
	row("Settlement amount", amount.String())

	var errs []error

	supported, err := a.newFacilitator().Supported(ctx)
	if err != nil {
		errs = append(errs, err)
		row("Facilitator", "error: "+err.Error())
	} else {
		row("Facilitator", fmt.Sprintf("ok (%d kinds)", len(supported.Kinds)))
		row("Network supported", yesNo(supported.Supports(a.Config.Network.Name)))
	}

	reader := a.newChainReader()
	defer reader.Close()

	if err := reader.VerifyChain(ctx, a.Config.Network.ChainID); err != nil {
		errs = append(errs, err)
		row("RPC chain", "error: "+err.Error())
	} else {
		row("RPC chain", "ok")
	}

	balance, err := reader.BalanceOf(ctx, signer.Address())
	if err != nil {
		errs = append(errs, err)
		row("Token balance", "error: "+err.Error())
	} else {
		row("Token balance", balanceString(balance, amount.BigInt().String()))
	}

	if err := writer.Flush(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func balanceString(b chain.Balance, perSettlement string) string {
	return fmt.Sprintf("%s (%s units, %s per settlement)", b.Amount.String(), b.Raw.String(), perSettlement)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
