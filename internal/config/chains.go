package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/wallet-valuation/internal/types"
)

// Multicall3 is deployed at the same address on every supported chain.
const Multicall3 = "0xcA11bde05977b3631167028862bE2a173976CA11"

// ChainRegistry maps each chain to its RPC endpoints and metadata
type ChainRegistry map[types.SupportedChain]types.ChainConfig

// Get returns the configuration of an enabled chain.
func (r ChainRegistry) Get(chain types.SupportedChain) (types.ChainConfig, bool) {
	cfg, ok := r[chain]
	if !ok || !cfg.Enabled {
		return types.ChainConfig{}, false
	}
	return cfg, true
}

// Endpoints returns the ordered RPC endpoint list for a chain.
func (r ChainRegistry) Endpoints(chain types.SupportedChain) []string {
	cfg, ok := r.Get(chain)
	if !ok {
		return nil
	}
	return cfg.RPCEndpoints
}

// Enabled returns the enabled chains in the order of types.AllChains.
func (r ChainRegistry) Enabled() []types.SupportedChain {
	var out []types.SupportedChain
	for _, c := range types.AllChains {
		if _, ok := r.Get(c); ok {
			out = append(out, c)
		}
	}
	return out
}

// DefaultChainRegistry returns the built-in public endpoint lists
func DefaultChainRegistry() ChainRegistry {
	return ChainRegistry{
		types.ChainEthereum: {
			Enabled: true,
			ChainID: 1,
			RPCEndpoints: []string{
				"https://eth.llamarpc.com",
				"https://rpc.ankr.com/eth",
				"https://cloudflare-eth.com",
			},
			MulticallAddress: Multicall3,
			GasSymbol:        "ETH",
			WrappedNative:    "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
			Explorer:         "https://etherscan.io",
		},
		types.ChainBSC: {
			Enabled: true,
			ChainID: 56,
			RPCEndpoints: []string{
				"https://bsc-dataseed.binance.org",
				"https://bsc-dataseed1.defibit.io",
				"https://rpc.ankr.com/bsc",
			},
			MulticallAddress: Multicall3,
			GasSymbol:        "BNB",
			WrappedNative:    "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c",
			Explorer:         "https://bscscan.com",
		},
		types.ChainPolygon: {
			Enabled: true,
			ChainID: 137,
			RPCEndpoints: []string{
				"https://polygon-rpc.com",
				"https://rpc.ankr.com/polygon",
			},
			MulticallAddress: Multicall3,
			GasSymbol:        "MATIC",
			WrappedNative:    "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270",
			Explorer:         "https://polygonscan.com",
		},
		types.ChainFantom: {
			Enabled: true,
			ChainID: 250,
			RPCEndpoints: []string{
				"https://rpc.ftm.tools",
				"https://rpc.ankr.com/fantom",
			},
			MulticallAddress: Multicall3,
			GasSymbol:        "FTM",
			WrappedNative:    "0x21be370D5312f44cB42ce377BC9b8a0cEF1A4C83",
			Explorer:         "https://ftmscan.com",
		},
		types.ChainAvalanche: {
			Enabled: true,
			ChainID: 43114,
			RPCEndpoints: []string{
				"https://api.avax.network/ext/bc/C/rpc",
				"https://rpc.ankr.com/avalanche",
			},
			MulticallAddress: Multicall3,
			GasSymbol:        "AVAX",
			WrappedNative:    "0xB31f66AA3C1e785363F0875A1B74E27b85FD66c7",
			Explorer:         "https://snowtrace.io",
		},
		types.ChainArbitrum: {
			Enabled: true,
			ChainID: 42161,
			RPCEndpoints: []string{
				"https://arb1.arbitrum.io/rpc",
				"https://rpc.ankr.com/arbitrum",
			},
			MulticallAddress: Multicall3,
			GasSymbol:        "ETH",
			WrappedNative:    "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1",
			Explorer:         "https://arbiscan.io",
		},
		types.ChainOptimism: {
			Enabled: true,
			ChainID: 10,
			RPCEndpoints: []string{
				"https://mainnet.optimism.io",
				"https://rpc.ankr.com/optimism",
			},
			MulticallAddress: Multicall3,
			GasSymbol:        "ETH",
			WrappedNative:    "0x4200000000000000000000000000000000000006",
			Explorer:         "https://optimistic.etherscan.io",
		},
		types.ChainCronos: {
			Enabled: true,
			ChainID: 25,
			RPCEndpoints: []string{
				"https://evm.cronos.org",
			},
			MulticallAddress: Multicall3,
			GasSymbol:        "CRO",
			WrappedNative:    "0x5C7F8A570d578ED84E63fdFA7b1eE72dEae1AE23",
			Explorer:         "https://cronoscan.com",
		},
	}
}

// LoadChainRegistry loads the chain registry from a JSON or YAML file
func LoadChainRegistry(path string) (ChainRegistry, error) {
	registry := DefaultChainRegistry()

	// If no path is specified, apply environment overrides to the defaults
	if path == "" {
		return applyChainEnvOverrides(registry), nil
	}

	fileData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chains file: %w", err)
	}

	var fromFile map[string]types.ChainConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(fileData, &fromFile)
	default:
		err = json.Unmarshal(fileData, &fromFile)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse chains file: %w", err)
	}

	for name, cfg := range fromFile {
		chain, err := types.ParseChain(name)
		if err != nil {
			return nil, fmt.Errorf("chains file: %w", err)
		}
		if cfg.MulticallAddress == "" {
			cfg.MulticallAddress = Multicall3
		}
		registry[chain] = cfg
	}

	registry = applyChainEnvOverrides(registry)

	logrus.Infof("Loaded chain registry from %s", path)
	return registry, nil
}

// applyChainEnvOverrides applies CHAIN_<NAME>_* environment overrides
func applyChainEnvOverrides(registry ChainRegistry) ChainRegistry {
	for chain, cfg := range registry {
		envPrefix := "CHAIN_" + strings.ToUpper(string(chain)) + "_"

		if raw, ok := GetEnv(envPrefix + "RPC_ENDPOINTS"); ok && raw != "" {
			var endpoints []string
			for _, e := range strings.Split(raw, ",") {
				if e = strings.TrimSpace(e); e != "" {
					endpoints = append(endpoints, e)
				}
			}
			cfg.RPCEndpoints = endpoints
		}
		if addr, ok := GetEnv(envPrefix + "MULTICALL"); ok && addr != "" {
			cfg.MulticallAddress = addr
		}
		cfg.Enabled = GetEnvAsBool(envPrefix+"ENABLED", cfg.Enabled)
		cfg.RateLimit = GetEnvAsFloat(envPrefix+"RATE_LIMIT", cfg.RateLimit)

		registry[chain] = cfg
	}
	return registry
}
