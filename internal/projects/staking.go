package projects

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yourorg/wallet-valuation/internal/abis"
	"github.com/yourorg/wallet-valuation/internal/catalog"
	"github.com/yourorg/wallet-valuation/internal/model"
	"github.com/yourorg/wallet-valuation/internal/types"
	"github.com/yourorg/wallet-valuation/internal/valuation"
)

// Staking reads a wallet's balance of a staked-share token such as xSUSHI.
type Staking struct {
	Project string
	Chain   types.SupportedChain
	Share   string

	Deps Deps
}

// DefaultStaking lists the built-in staking pools.
func DefaultStaking() []*Staking {
	return []*Staking{
		{
			Project: catalog.ProjectXSushi,
			Chain:   types.ChainEthereum,
			Share:   "0x8798249c2E607446EfB7Ad49eC89dD1865Ff4272",
		},
	}
}

// Get implements dispatch.Handler.
func (s *Staking) Get(ctx context.Context, wallet string) ([]model.Token, error) {
	r := s.Deps.Querier.Query(ctx, s.Chain, s.Share, abis.ERC20, "balanceOf", common.HexToAddress(wallet))
	raw := r.BigInt(0)
	if raw.Sign() <= 0 {
		if r.Err != nil {
			return []model.Token{}, fmt.Errorf("%s balanceOf: %w", s.Project, r.Err)
		}
		return []model.Token{}, nil
	}

	return []model.Token{
		s.Deps.Valuer.StakedShareToken(ctx, valuation.Request{
			Chain:    s.Chain,
			Location: s.Project,
			Status:   model.StatusStaked,
			Owner:    wallet,
			Address:  s.Share,
			Raw:      raw,
		}),
	}, nil
}
