package catalog

import (
	"github.com/samber/lo"

	"github.com/yourorg/wallet-valuation/internal/types"
)

// Project names
const (
	ProjectWallet      = "wallet"
	ProjectSushiswap   = "sushiswap"
	ProjectXSushi      = "xsushi"
	ProjectCompound    = "compound"
	ProjectPancakeswap = "pancakeswap"
	ProjectVenus       = "venus"
)

var projects = map[types.SupportedChain][]string{
	types.ChainEthereum:  {ProjectWallet, ProjectSushiswap, ProjectXSushi, ProjectCompound},
	types.ChainBSC:       {ProjectWallet, ProjectPancakeswap, ProjectVenus},
	types.ChainPolygon:   {ProjectWallet},
	types.ChainFantom:    {ProjectWallet},
	types.ChainAvalanche: {ProjectWallet},
	types.ChainArbitrum:  {ProjectWallet},
	types.ChainOptimism:  {ProjectWallet},
	types.ChainCronos:    {ProjectWallet},
}

// Projects returns the valid project names of a chain.
func Projects(chain types.SupportedChain) []string {
	return append([]string(nil), projects[chain]...)
}

// IsProject reports whether name is a valid project on chain.
func IsProject(chain types.SupportedChain, name string) bool {
	return lo.Contains(projects[chain], name)
}
