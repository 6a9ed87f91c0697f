package valuation

import (
	"context"
	"math/big"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/wallet-valuation/internal/abis"
	"github.com/yourorg/wallet-valuation/internal/model"
	"github.com/yourorg/wallet-valuation/internal/types"
)

// weightedPrice returns the USD value of one share of a multi-asset pool:
// sum(reserve_i * price_i) / supply, times the virtual price when the rule
// asks for it. complete is false when any read or coin price failed.
func (e *Engine) weightedPrice(ctx context.Context, chain types.SupportedChain, address string, spec PoolSpec, lpDecimals int) (perShare decimal.Decimal, lp tokenMeta, complete bool) {
	pool := spec.Pool
	if pool == "" {
		pool = address
	}

	values := make([]decimal.Decimal, spec.Coins)
	read := make([]bool, spec.Coins)
	var g errgroup.Group
	for i := 0; i < spec.Coins; i++ {
		i := i
		g.Go(func() error {
			idx := big.NewInt(int64(i))
			coin := e.q.Query(ctx, chain, pool, abis.WeightedPool, "coins", idx).Address(0)
			if coin == "" {
				return nil
			}
			reserve := e.q.Query(ctx, chain, pool, abis.WeightedPool, "balances", idx)
			m := e.metadata(ctx, chain, coin, model.DefaultDecimals)
			p, ok := e.lookupPrice(ctx, chain, coin, m.Decimals)
			values[i] = norm(reserve.BigInt(0), m.Decimals).Mul(p)
			read[i] = ok && reserve.OK()
			return nil
		})
	}
	_ = g.Wait()

	tvl := decimal.Sum(decimal.Zero, values...)

	lp = e.metadata(ctx, chain, address, lpDecimals)
	if spec.Symbol != "" {
		lp.Symbol = spec.Symbol
	}
	supply := e.q.Query(ctx, chain, address, abis.ERC20, "totalSupply")
	perShare = safeDiv(tvl, norm(supply.BigInt(0), lp.Decimals))
	complete = supply.OK() && !lo.Contains(read, false)

	if spec.VirtualPrice {
		vp := e.q.Query(ctx, chain, pool, abis.WeightedPool, "get_virtual_price")
		perShare = perShare.Mul(norm(vp.BigInt(0), model.DefaultDecimals))
		complete = complete && vp.OK()
	}
	return perShare, lp, complete
}

// PoolToken values a share of a multi-asset pool listed in the strategy
// table. There is no canonical pair to display, so the result is Simple.
func (e *Engine) PoolToken(ctx context.Context, req Request) model.Token {
	spec, ok := e.strategies.Lookup(req.Chain, req.Address)
	if !ok || spec.Kind != KindWeighted {
		return e.unidentified(req, "no pool decomposition rule")
	}
	return e.weightedToken(ctx, req, spec)
}

func (e *Engine) weightedToken(ctx context.Context, req Request, spec PoolSpec) model.Token {
	if spec.Coins <= 0 {
		return e.unidentified(req, "pool rule without coins")
	}
	perShare, lp, _ := e.weightedPrice(ctx, req.Chain, req.Address, spec, model.DefaultDecimals)
	return model.NewSimple(req.position(), lp.Symbol, req.Address, norm(req.Raw, lp.Decimals), perShare, lp.Logo)
}
