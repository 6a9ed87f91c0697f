package valuation

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/yourorg/wallet-valuation/internal/abis"
	"github.com/yourorg/wallet-valuation/internal/model"
	"github.com/yourorg/wallet-valuation/internal/types"
)

// derivativeState describes a token backed by a single underlying asset
type derivativeState struct {
	token           tokenMeta
	underlying      string
	underlyingMeta  tokenMeta
	underlyingPrice decimal.Decimal

	// Exchange-rate tokens: underlying units per token unit
	rate decimal.Decimal

	// Staked-share tokens: total staked / total shares
	ratio decimal.Decimal

	// false when the underlying price may be understated
	complete bool
}

func (e *Engine) readDerivative(ctx context.Context, chain types.SupportedChain, address string, spec PoolSpec, tokenDecimals int) (derivativeState, bool) {
	underlying := spec.Underlying
	if underlying == "" {
		underlying = e.q.Query(ctx, chain, address, abis.ExchangeRate, "underlying").Address(0)
	}
	if underlying == "" {
		return derivativeState{}, false
	}

	r := e.q.Query(ctx, chain, address, abis.ExchangeRate, "exchangeRateStored")
	if !r.OK() {
		return derivativeState{}, false
	}

	d := derivativeState{
		token:          e.metadata(ctx, chain, address, tokenDecimals),
		underlying:     model.NormalizeAddress(underlying),
		underlyingMeta: e.metadata(ctx, chain, underlying, model.DefaultDecimals),
	}

	// Compound scales the rate by 10^(18 + underlying decimals - token decimals)
	scale := spec.RateDecimals
	if scale == 0 {
		scale = 18 + d.underlyingMeta.Decimals - d.token.Decimals
	}
	d.rate = norm(r.BigInt(0), scale)
	d.underlyingPrice, d.complete = e.lookupPrice(ctx, chain, underlying, d.underlyingMeta.Decimals)
	return d, true
}

// DerivativeToken values an exchange-rate token: price = rate * price(underlying).
// Tokens outside the strategy table read their underlying() on chain.
func (e *Engine) DerivativeToken(ctx context.Context, req Request) model.Token {
	spec, ok := e.strategies.Lookup(req.Chain, req.Address)
	if !ok {
		spec = PoolSpec{Kind: KindExchangeRate}
	}
	if spec.Kind != KindExchangeRate {
		return e.unidentified(req, "not an exchange-rate token")
	}
	return e.derivativeToken(ctx, req, spec)
}

func (e *Engine) derivativeToken(ctx context.Context, req Request, spec PoolSpec) model.Token {
	d, ok := e.readDerivative(ctx, req.Chain, req.Address, spec, model.DefaultDecimals)
	if !ok {
		return e.unidentified(req, "exchange rate unavailable")
	}

	balance := norm(req.Raw, d.token.Decimals)
	underlying := model.PricedConstituent{
		Symbol:  d.underlyingMeta.Symbol,
		Address: d.underlying,
		Balance: balance.Mul(d.rate),
		Price:   d.underlyingPrice,
		Logo:    d.underlyingMeta.Logo,
	}
	return model.NewComposite(req.position(), d.token.Symbol, req.Address, balance, d.rate.Mul(d.underlyingPrice), d.token.Logo, underlying, req.Info)
}

func (e *Engine) readStakedShare(ctx context.Context, chain types.SupportedChain, address string, spec PoolSpec, tokenDecimals int) (derivativeState, bool) {
	if spec.Underlying == "" {
		return derivativeState{}, false
	}
	vault := spec.Vault
	if vault == "" {
		vault = address
	}

	d := derivativeState{
		token:          e.metadata(ctx, chain, address, tokenDecimals),
		underlying:     model.NormalizeAddress(spec.Underlying),
		underlyingMeta: e.metadata(ctx, chain, spec.Underlying, model.DefaultDecimals),
	}

	staked := e.q.Query(ctx, chain, spec.Underlying, abis.ERC20, "balanceOf", common.HexToAddress(vault))
	shares := e.q.Query(ctx, chain, address, abis.ERC20, "totalSupply")
	if !staked.OK() || !shares.OK() {
		return derivativeState{}, false
	}

	d.ratio = safeDiv(norm(staked.BigInt(0), d.underlyingMeta.Decimals), norm(shares.BigInt(0), d.token.Decimals))
	d.underlyingPrice, d.complete = e.lookupPrice(ctx, chain, spec.Underlying, d.underlyingMeta.Decimals)
	return d, true
}

// StakedShareToken values a claim on a growing staking pool. The holder's
// underlying balance is balance * totalStaked / totalShares.
func (e *Engine) StakedShareToken(ctx context.Context, req Request) model.Token {
	spec, ok := e.strategies.Lookup(req.Chain, req.Address)
	if !ok || spec.Kind != KindStakedShare {
		return e.unidentified(req, "no staking rule")
	}
	return e.stakedShareToken(ctx, req, spec)
}

func (e *Engine) stakedShareToken(ctx context.Context, req Request, spec PoolSpec) model.Token {
	d, ok := e.readStakedShare(ctx, req.Chain, req.Address, spec, model.DefaultDecimals)
	if !ok {
		return e.unidentified(req, "staking pool unavailable")
	}

	balance := norm(req.Raw, d.token.Decimals)
	underlying := model.PricedConstituent{
		Symbol:  d.underlyingMeta.Symbol,
		Address: d.underlying,
		Balance: balance.Mul(d.ratio),
		Price:   d.underlyingPrice,
		Logo:    d.underlyingMeta.Logo,
	}
	return model.NewComposite(req.position(), d.token.Symbol, req.Address, balance, d.ratio.Mul(d.underlyingPrice), d.token.Logo, underlying, req.Info)
}
