// Package types contains shared type definitions used across multiple packages
package types

import (
	"fmt"
	"strings"
)

// SupportedChain represents an EVM network the valuation engine can query
type SupportedChain string

// Supported blockchain networks
const (
	ChainEthereum  SupportedChain = "eth"
	ChainBSC       SupportedChain = "bsc"
	ChainPolygon   SupportedChain = "poly"
	ChainFantom    SupportedChain = "ftm"
	ChainAvalanche SupportedChain = "avax"
	ChainArbitrum  SupportedChain = "arb"
	ChainOptimism  SupportedChain = "op"
	ChainCronos    SupportedChain = "cronos"
)

// AllChains lists every supported chain in a stable order
var AllChains = []SupportedChain{
	ChainEthereum,
	ChainBSC,
	ChainPolygon,
	ChainFantom,
	ChainAvalanche,
	ChainArbitrum,
	ChainOptimism,
	ChainCronos,
}

// ParseChain converts a user supplied chain name into a SupportedChain.
func ParseChain(raw string) (SupportedChain, error) {
	c := SupportedChain(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range AllChains {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unsupported chain %q", raw)
}

// ChainConfig holds the registry entry for a specific blockchain network
type ChainConfig struct {
	Enabled          bool     `json:"enabled" yaml:"enabled"`
	ChainID          int64    `json:"chain_id" yaml:"chain_id"`
	RPCEndpoints     []string `json:"rpc_endpoints" yaml:"rpc_endpoints"`         // Ordered, first is primary
	MulticallAddress string   `json:"multicall_address" yaml:"multicall_address"` // Aggregator supporting tryAggregate
	GasSymbol        string   `json:"gas_symbol" yaml:"gas_symbol"`
	WrappedNative    string   `json:"wrapped_native" yaml:"wrapped_native"` // Priced in place of the native sentinel
	Explorer         string   `json:"explorer,omitempty" yaml:"explorer,omitempty"`
	RateLimit        float64  `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"` // RPC calls per second, 0 = unlimited
}

// PrimaryEndpoint returns the first configured RPC endpoint or an empty string.
func (c ChainConfig) PrimaryEndpoint() string {
	if len(c.RPCEndpoints) == 0 {
		return ""
	}
	return c.RPCEndpoints[0]
}
