package config

import (
	"fmt"
	"sort"
	"strings"
)

// NetworkPreset holds the built-in parameters of a supported network.
type NetworkPreset struct {
	ChainID      int64
	RPCURL       string
	TokenAddress string
}

// Networks lists the networks the facilitator settles on.
var Networks = map[string]NetworkPreset{
	"cronos-testnet": {
		ChainID:      338,
		RPCURL:       "https://evm-t3.cronos.org",
		TokenAddress: "0xc01efAaF7C5C61bEbFAeb358E1161b537b8bC0e0",
	},
	"cronos-mainnet": {
		ChainID:      25,
		RPCURL:       "https://evm.cronos.org",
		TokenAddress: "0xf951eC28187D9E5Ca673Da8FE6757E6f0Be5F77C",
	},
}

const (
	defaultTokenName     = "Bridged USDC (Stargate)"
	defaultTokenVersion  = "1"
	defaultTokenDecimals = 6
)

// resolve fills unset network fields from the preset named by n.Name.
func (n *NetworkConfig) resolve() error {
	preset, ok := Networks[n.Name]
	if !ok {
		return fmt.Errorf("invalid network: %q (use %s)", n.Name, strings.Join(networkNames(), " or "))
	}
	if n.ChainID == 0 {
		n.ChainID = preset.ChainID
	}
	if n.RPCURL == "" {
		n.RPCURL = preset.RPCURL
	}
	if n.Token.Address == "" {
		n.Token.Address = preset.TokenAddress
	}
	if n.Token.Name == "" {
		n.Token.Name = defaultTokenName
	}
	if n.Token.Version == "" {
		n.Token.Version = defaultTokenVersion
	}
	if n.Token.Decimals == 0 {
		n.Token.Decimals = defaultTokenDecimals
	}
	return nil
}

func networkNames() []string {
	names := make([]string, 0, len(Networks))
	for name := range Networks {
		names = append(names, "'"+name+"'")
	}
	sort.Strings(names)
	return names
}
