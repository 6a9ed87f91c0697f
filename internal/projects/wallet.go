package projects

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"

	"github.com/yourorg/wallet-valuation/internal/abis"
	"github.com/yourorg/wallet-valuation/internal/catalog"
	"github.com/yourorg/wallet-valuation/internal/dispatch"
	"github.com/yourorg/wallet-valuation/internal/model"
	"github.com/yourorg/wallet-valuation/internal/multicall"
	"github.com/yourorg/wallet-valuation/internal/query"
	"github.com/yourorg/wallet-valuation/internal/types"
	"github.com/yourorg/wallet-valuation/internal/valuation"
)

// Wallet finds the native coin and catalog tokens held directly by a wallet.
type Wallet struct {
	Chain types.SupportedChain
	Deps  Deps
}

// Get implements dispatch.Handler.
func (w *Wallet) Get(ctx context.Context, wallet string) ([]model.Token, error) {
	var tokens []model.Token
	var errs []error

	native := w.Deps.Querier.Balance(ctx, w.Chain, wallet)
	if raw := native.BigInt(0); raw.Sign() > 0 {
		tokens = append(tokens, w.Deps.Valuer.ClassifyAndPrice(ctx, w.request(wallet, model.NativeAddress, raw)))
	} else if native.Status == query.StatusFailed {
		errs = append(errs, fmt.Errorf("native balance: %w", native.Err))
	}

	holdings, err := w.holdings(ctx, wallet)
	if err != nil {
		errs = append(errs, err)
	}

	w.Deps.prefetch(ctx, w.Chain, lo.Map(holdings, func(h multicall.Holding, _ int) string {
		return h.Token.Address
	}))

	valued, err := dispatch.Collect(ctx, w.Deps.fanout(), holdings, func(ctx context.Context, h multicall.Holding) ([]model.Token, error) {
		return []model.Token{w.Deps.Valuer.ClassifyAndPrice(ctx, w.request(wallet, h.Token.Address, h.Raw))}, nil
	})
	if err != nil {
		errs = append(errs, err)
	}
	tokens = append(tokens, valued...)

	return tokens, errors.Join(errs...)
}

// holdings sweeps the catalog in one batch, falling back to one read per
// token through the failover executor when the batch fails.
func (w *Wallet) holdings(ctx context.Context, wallet string) ([]multicall.Holding, error) {
	refs := lo.Map(catalog.Tokens(w.Chain), func(t catalog.Token, _ int) multicall.TokenRef {
		return multicall.TokenRef{Symbol: t.Symbol, Address: t.Address, Decimals: t.Decimals}
	})
	if len(refs) == 0 {
		return nil, nil
	}

	holdings, err := w.Deps.Batch.BalanceSweep(ctx, w.Chain, wallet, refs)
	if err == nil {
		return holdings, nil
	}
	w.Deps.logger().WithField("chain", w.Chain).Debugf("Balance sweep failed, reading tokens one by one: %v", err)

	owner := common.HexToAddress(wallet)
	var out []multicall.Holding
	for _, tok := range lo.UniqBy(refs, func(r multicall.TokenRef) string { return model.NormalizeAddress(r.Address) }) {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		raw := w.Deps.Querier.Query(ctx, w.Chain, tok.Address, abis.ERC20, "balanceOf", owner).BigInt(0)
		if raw.Sign() > 0 {
			out = append(out, multicall.Holding{Token: tok, Raw: raw})
		}
	}
	return out, nil
}

func (w *Wallet) request(wallet, address string, raw *big.Int) valuation.Request {
	return valuation.Request{
		Chain:    w.Chain,
		Location: model.LocationWallet,
		Status:   model.StatusNone,
		Owner:    wallet,
		Address:  address,
		Raw:      raw,
	}
}
