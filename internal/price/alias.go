package price

import (
	"github.com/yourorg/wallet-valuation/internal/model"
	"github.com/yourorg/wallet-valuation/internal/types"
)

// maxAliasHops bounds alias chains so a misconfigured cycle cannot loop.
const maxAliasHops = 4

// AliasTable redirects price lookups of one address to another on the same chain
type AliasTable map[types.SupportedChain]map[string]string

// Add registers from -> to.
func (t AliasTable) Add(chain types.SupportedChain, from, to string) {
	if t[chain] == nil {
		t[chain] = make(map[string]string)
	}
	t[chain][model.NormalizeAddress(from)] = model.NormalizeAddress(to)
}

// Resolve returns the address whose price stands in for address.
func (t AliasTable) Resolve(chain types.SupportedChain, address string) string {
	addr := model.NormalizeAddress(address)
	aliases := t[chain]
	for i := 0; i < maxAliasHops; i++ {
		next, ok := aliases[addr]
		if !ok || next == addr {
			return addr
		}
		addr = next
	}
	return addr
}

// WrappedNativeSource exposes the wrapped native token of each chain
type WrappedNativeSource interface {
	Get(chain types.SupportedChain) (types.ChainConfig, bool)
}

// Synthetix synths and staked wrappers priced as their tracked asset
var syntheticAliases = map[types.SupportedChain]map[string]string{
	types.ChainEthereum: {
		"0x5e74c9036fb86bd7ecdcb084a0673efc32ea31cb": "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", // sETH -> WETH
		"0xfe18be6b3bd88a2d2a7f928d00292e7a9963cfc6": "0x2260fac5e5542a773aa44fbcfedf7c193bc2c599", // sBTC -> WBTC
		"0x57ab1ec28d129707052df4df418d58a2d46d5f51": "0x6b175474e89094c44da98b954eedeac495271d0f", // sUSD -> DAI
		"0xd71ecff9342a5ced620049e616c5035f1db98620": "0xdb25f211ab05b1c97d595516f45794528a807ad8", // sEUR -> EURS
	},
}

// DefaultAliases builds the alias table: the native sentinel of every chain
// resolves to its wrapped native token, plus the static synthetic redirects.
func DefaultAliases(chains WrappedNativeSource) AliasTable {
	t := AliasTable{}
	for _, chain := range types.AllChains {
		cfg, ok := chains.Get(chain)
		if !ok || cfg.WrappedNative == "" {
			continue
		}
		t.Add(chain, model.NativeAddress, cfg.WrappedNative)
	}
	for chain, entries := range syntheticAliases {
		for from, to := range entries {
			t.Add(chain, from, to)
		}
	}
	return t
}
