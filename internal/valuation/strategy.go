package valuation

import (
	"github.com/yourorg/wallet-valuation/internal/model"
	"github.com/yourorg/wallet-valuation/internal/types"
)

// PoolKind names a family of pool or vault contracts sharing an interface
type PoolKind string

// Pricing strategies
const (
	KindPlain        PoolKind = "plain"
	KindPair         PoolKind = "pair"
	KindWeighted     PoolKind = "weighted"
	KindExchangeRate PoolKind = "exchange-rate"
	KindStakedShare  PoolKind = "staked-share"
)

// PoolSpec tells the engine how to decompose one share token
type PoolSpec struct {
	Kind PoolKind

	// Display symbol, read from the token when empty
	Symbol string

	// Weighted pools: the contract exposing coins(i)/balances(i), the share
	// token itself when empty, and the number of coins
	Pool  string
	Coins int

	// Weighted pools: multiply the per-share value by get_virtual_price()
	VirtualPrice bool

	// Exchange-rate and staked-share tokens: the single underlying asset.
	// Exchange-rate tokens read underlying() when empty.
	Underlying string

	// Exchange-rate tokens: scale of exchangeRateStored(), derived from the
	// token and underlying decimals when zero
	RateDecimals int

	// Staked-share tokens: the contract holding the staked underlying, the
	// share token itself when empty
	Vault string
}

// StrategyTable maps (chain, share token address) to a decomposition rule
type StrategyTable map[types.SupportedChain]map[string]PoolSpec

// Register adds or replaces the rule of address.
func (t StrategyTable) Register(chain types.SupportedChain, address string, spec PoolSpec) {
	if t[chain] == nil {
		t[chain] = make(map[string]PoolSpec)
	}
	t[chain][model.NormalizeAddress(address)] = spec
}

// Lookup returns the rule of address.
func (t StrategyTable) Lookup(chain types.SupportedChain, address string) (PoolSpec, bool) {
	spec, ok := t[chain][model.NormalizeAddress(address)]
	return spec, ok
}

// DefaultStrategies returns the built-in decomposition rules.
func DefaultStrategies() StrategyTable {
	t := StrategyTable{}

	// Curve
	t.Register(types.ChainEthereum, "0x6c3F90f043a72FA612cbac8115EE7e52BDe6E490", PoolSpec{
		Kind:   KindWeighted,
		Symbol: "3Crv",
		Pool:   "0xbEbc44782C7dB0a1A60Cb6fe97d0b483032FF1C7",
		Coins:  3,
	})

	// Compound
	t.Register(types.ChainEthereum, "0x5d3a536E4D6DbD6114cc1Ead35777bAB948E3643", PoolSpec{
		Kind:       KindExchangeRate,
		Underlying: "0x6B175474E89094C44Da98b954EedeAC495271d0F",
	})
	t.Register(types.ChainEthereum, "0x39AA39c021dfcaE8faC545936693aC917d5E7563", PoolSpec{
		Kind:       KindExchangeRate,
		Underlying: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
	})
	t.Register(types.ChainEthereum, "0x4Ddc2D193948926D02f9B1fE9e1daa0718270ED5", PoolSpec{
		Kind:       KindExchangeRate,
		Underlying: model.NativeAddress,
	})

	// SushiBar
	t.Register(types.ChainEthereum, "0x8798249c2E607446EfB7Ad49eC89dD1865Ff4272", PoolSpec{
		Kind:       KindStakedShare,
		Underlying: "0x6B3595068778DD592e39A122f4f5a5cF09C90fE2",
	})

	// Venus
	t.Register(types.ChainBSC, "0xA07c5b74C9B40447a954e1466938b865b6BBea36", PoolSpec{
		Kind:       KindExchangeRate,
		Underlying: model.NativeAddress,
	})
	t.Register(types.ChainBSC, "0x95c78222B3D6e262426483D42CfA53685A67Ab9D", PoolSpec{
		Kind:       KindExchangeRate,
		Underlying: "0xe9e7CEA3DedcA5984780Bafc599bD69ADd087D56",
	})
	t.Register(types.ChainBSC, "0xfD5840Cd36d94D7229439859C0112a4185BC0255", PoolSpec{
		Kind:       KindExchangeRate,
		Underlying: "0x55d398326f99059fF775485246999027B3197955",
	})

	// Ellipsis 3pool
	t.Register(types.ChainBSC, "0xaF4dE8E872131AE328Ce21D909C74705d3Aaf452", PoolSpec{
		Kind:   KindWeighted,
		Symbol: "3EPS",
		Pool:   "0x160CAed03795365F3A589f10C379FfA7d75d4E76",
		Coins:  3,
	})

	return t
}
