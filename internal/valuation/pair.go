package valuation

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/wallet-valuation/internal/abis"
	"github.com/yourorg/wallet-valuation/internal/model"
	"github.com/yourorg/wallet-valuation/internal/query"
	"github.com/yourorg/wallet-valuation/internal/types"
)

// pairState is a snapshot of a two-asset pool with normalized amounts
type pairState struct {
	lp       tokenMeta
	supply   decimal.Decimal
	addr0    string
	addr1    string
	meta0    tokenMeta
	meta1    tokenMeta
	reserve0 decimal.Decimal
	reserve1 decimal.Decimal
	price0   decimal.Decimal
	price1   decimal.Decimal

	// false when either constituent price may be understated
	complete bool
}

// perShare is the USD value of one pool share.
func (s pairState) perShare() decimal.Decimal {
	tvl := s.reserve0.Mul(s.price0).Add(s.reserve1.Mul(s.price1))
	return safeDiv(tvl, s.supply)
}

func (e *Engine) readPair(ctx context.Context, chain types.SupportedChain, address string, lpDecimals int) (pairState, bool) {
	var reserves, t0, t1, supply query.Result

	var g errgroup.Group
	g.Go(func() error {
		reserves = e.q.Query(ctx, chain, address, abis.LPPair, "getReserves")
		return nil
	})
	g.Go(func() error {
		t0 = e.q.Query(ctx, chain, address, abis.LPPair, "token0")
		return nil
	})
	g.Go(func() error {
		t1 = e.q.Query(ctx, chain, address, abis.LPPair, "token1")
		return nil
	})
	g.Go(func() error {
		supply = e.q.Query(ctx, chain, address, abis.LPPair, "totalSupply")
		return nil
	})
	_ = g.Wait()

	st := pairState{addr0: t0.Address(0), addr1: t1.Address(0)}
	if !reserves.OK() || st.addr0 == "" || st.addr1 == "" {
		return pairState{}, false
	}

	st.lp = e.metadata(ctx, chain, address, lpDecimals)
	st.meta0 = e.metadata(ctx, chain, st.addr0, model.DefaultDecimals)
	st.meta1 = e.metadata(ctx, chain, st.addr1, model.DefaultDecimals)
	st.supply = norm(supply.BigInt(0), st.lp.Decimals)
	st.reserve0 = norm(reserves.BigInt(0), st.meta0.Decimals)
	st.reserve1 = norm(reserves.BigInt(1), st.meta1.Decimals)

	// Either side may itself be a share, each recursion prices independently
	var ok0, ok1 bool
	var prices errgroup.Group
	prices.Go(func() error {
		st.price0, ok0 = e.lookupPrice(ctx, chain, st.addr0, st.meta0.Decimals)
		return nil
	})
	prices.Go(func() error {
		st.price1, ok1 = e.lookupPrice(ctx, chain, st.addr1, st.meta1.Decimals)
		return nil
	})
	_ = prices.Wait()

	st.complete = ok0 && ok1 && supply.OK()
	return st, true
}

// LPToken values a two-asset pool share. Each constituent balance is the
// holder's pro-rata share of the reserve: reserve_i * holder / totalSupply.
func (e *Engine) LPToken(ctx context.Context, req Request) model.Token {
	st, ok := e.readPair(ctx, req.Chain, req.Address, model.DefaultDecimals)
	if !ok {
		return e.unidentified(req, "pair reads failed")
	}

	balance := norm(req.Raw, st.lp.Decimals)
	ratio := shareOf(balance, st.supply)

	token0 := model.PricedConstituent{
		Symbol:  st.meta0.Symbol,
		Address: st.addr0,
		Balance: st.reserve0.Mul(ratio),
		Price:   st.price0,
		Logo:    st.meta0.Logo,
	}
	token1 := model.PricedConstituent{
		Symbol:  st.meta1.Symbol,
		Address: st.addr1,
		Balance: st.reserve1.Mul(ratio),
		Price:   st.price1,
		Logo:    st.meta1.Logo,
	}

	symbol := st.meta0.Symbol + "-" + st.meta1.Symbol
	return model.NewLPPair(req.position(), symbol, req.Address, balance, st.perShare(), token0, token1)
}
