// Package catalog holds the static token and project catalogs of each chain.
package catalog

import (
	"strings"

	"github.com/yourorg/wallet-valuation/internal/model"
	"github.com/yourorg/wallet-valuation/internal/types"
)

// Token is a catalog entry
type Token struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
	Logo     string `json:"logo,omitempty"`
}

const logoBase = "https://cdn.jsdelivr.net/gh/yourorg/token-icons/"

var tokens = map[types.SupportedChain][]Token{
	types.ChainEthereum: {
		{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
		{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
		{Symbol: "USDT", Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6},
		{Symbol: "DAI", Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Decimals: 18},
		{Symbol: "WBTC", Address: "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", Decimals: 8},
		{Symbol: "LINK", Address: "0x514910771AF9Ca656af840dff83E8264EcF986CA", Decimals: 18},
		{Symbol: "UNI", Address: "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984", Decimals: 18},
		{Symbol: "CRV", Address: "0xD533a949740bb3306d119CC777fa900bA034cd52", Decimals: 18},
		{Symbol: "COMP", Address: "0xc00e94Cb662C3520282E6f5717214004A7f26888", Decimals: 18},
		{Symbol: "SUSHI", Address: "0x6B3595068778DD592e39A122f4f5a5cF09C90fE2", Decimals: 18},
		{Symbol: "xSUSHI", Address: "0x8798249c2E607446EfB7Ad49eC89dD1865Ff4272", Decimals: 18},
		{Symbol: "sUSD", Address: "0x57Ab1ec28D129707052df4dF418D58a2D46d5f51", Decimals: 18},
		{Symbol: "sETH", Address: "0x5e74C9036fb86BD7eCdcb084a0673EFc32eA31cb", Decimals: 18},
	},
	types.ChainBSC: {
		{Symbol: "WBNB", Address: "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c", Decimals: 18},
		{Symbol: "BUSD", Address: "0xe9e7CEA3DedcA5984780Bafc599bD69ADd087D56", Decimals: 18},
		{Symbol: "USDT", Address: "0x55d398326f99059fF775485246999027B3197955", Decimals: 18},
		{Symbol: "CAKE", Address: "0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82", Decimals: 18},
		{Symbol: "XVS", Address: "0xcF6BB5389c92Bdda8a3747Ddb454cB7a64626C63", Decimals: 18},
		{Symbol: "BTCB", Address: "0x7130d2A12B9BCbFAe4f2634d864A1Ee1Ce3Ead9c", Decimals: 18},
		{Symbol: "ETH", Address: "0x2170Ed0880ac9A755fd29B2688956BD959F933F8", Decimals: 18},
	},
	types.ChainPolygon: {
		{Symbol: "WMATIC", Address: "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270", Decimals: 18},
		{Symbol: "USDC.e", Address: "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174", Decimals: 6},
		{Symbol: "WETH", Address: "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619", Decimals: 18},
	},
	types.ChainFantom: {
		{Symbol: "WFTM", Address: "0x21be370D5312f44cB42ce377BC9b8a0cEF1A4C83", Decimals: 18},
	},
	types.ChainAvalanche: {
		{Symbol: "WAVAX", Address: "0xB31f66AA3C1e785363F0875A1B74E27b85FD66c7", Decimals: 18},
		{Symbol: "USDC", Address: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", Decimals: 6},
	},
	types.ChainArbitrum: {
		{Symbol: "WETH", Address: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Decimals: 18},
		{Symbol: "USDC", Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Decimals: 6},
		{Symbol: "ARB", Address: "0x912CE59144191C1204E64559FE8253a0e49E6548", Decimals: 18},
	},
	types.ChainOptimism: {
		{Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
		{Symbol: "OP", Address: "0x4200000000000000000000000000000000000042", Decimals: 18},
	},
	types.ChainCronos: {
		{Symbol: "WCRO", Address: "0x5C7F8A570d578ED84E63fdFA7b1eE72dEae1AE23", Decimals: 18},
	},
}

// fallbackLogos covers gas tokens and symbols shared across chains
var fallbackLogos = map[string]string{
	"ETH":   logoBase + "eth.png",
	"WETH":  logoBase + "eth.png",
	"BNB":   logoBase + "bnb.png",
	"WBNB":  logoBase + "bnb.png",
	"MATIC": logoBase + "matic.png",
	"FTM":   logoBase + "ftm.png",
	"AVAX":  logoBase + "avax.png",
	"CRO":   logoBase + "cro.png",
	"USDC":  logoBase + "usdc.png",
	"USDT":  logoBase + "usdt.png",
	"DAI":   logoBase + "dai.png",
}

// index is built once from tokens, keyed by chain then lowercase address
var index = buildIndex()

func buildIndex() map[types.SupportedChain]map[string]Token {
	out := make(map[types.SupportedChain]map[string]Token, len(tokens))
	for chain, list := range tokens {
		m := make(map[string]Token, len(list))
		for _, t := range list {
			if t.Logo == "" {
				t.Logo = logoBase + string(chain) + "/" + strings.ToLower(t.Address) + ".png"
			}
			m[model.NormalizeAddress(t.Address)] = t
		}
		out[chain] = m
	}
	return out
}

// Tokens returns the known tokens of a chain.
func Tokens(chain types.SupportedChain) []Token {
	list := tokens[chain]
	out := make([]Token, 0, len(list))
	for _, t := range list {
		out = append(out, index[chain][model.NormalizeAddress(t.Address)])
	}
	return out
}

// Lookup finds a known token by address.
func Lookup(chain types.SupportedChain, address string) (Token, bool) {
	t, ok := index[chain][model.NormalizeAddress(address)]
	return t, ok
}

// Logo returns the logo of a token, falling back to a per-symbol logo and
// then to the generic icon.
func Logo(chain types.SupportedChain, address, symbol string) string {
	if t, ok := Lookup(chain, address); ok {
		return t.Logo
	}
	if logo, ok := fallbackLogos[strings.ToUpper(symbol)]; ok {
		return logo
	}
	return model.DefaultLogo
}
