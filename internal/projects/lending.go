package projects

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"

	"github.com/yourorg/wallet-valuation/internal/abis"
	"github.com/yourorg/wallet-valuation/internal/catalog"
	"github.com/yourorg/wallet-valuation/internal/dispatch"
	"github.com/yourorg/wallet-valuation/internal/model"
	"github.com/yourorg/wallet-valuation/internal/multicall"
	"github.com/yourorg/wallet-valuation/internal/types"
	"github.com/yourorg/wallet-valuation/internal/valuation"
)

// Lending reads supplied and borrowed balances of a Compound style money market.
type Lending struct {
	Project string
	Chain   types.SupportedChain

	Comptroller string

	// Market whose underlying is the native coin; it has no underlying()
	NativeMarket string

	Deps Deps
}

// DefaultLending lists the built-in money markets.
func DefaultLending() []*Lending {
	return []*Lending{
		{
			Project:      catalog.ProjectCompound,
			Chain:        types.ChainEthereum,
			Comptroller:  "0x3d9819210A31b4961b30EF54bE2aeD79B9c9Cd3B",
			NativeMarket: "0x4Ddc2D193948926D02f9B1fE9e1daa0718270ED5",
		},
		{
			Project:      catalog.ProjectVenus,
			Chain:        types.ChainBSC,
			Comptroller:  "0xfD36E2c2a6789Db23113685031d7F16329158384",
			NativeMarket: "0xA07c5b74C9B40447a954e1466938b865b6BBea36",
		},
	}
}

type account struct {
	market   string
	supplied *big.Int
	borrowed *big.Int
}

// Get implements dispatch.Handler.
func (l *Lending) Get(ctx context.Context, wallet string) ([]model.Token, error) {
	all := l.Deps.Querier.Query(ctx, l.Chain, l.Comptroller, abis.Comptroller, "getAllMarkets")
	markets := all.Addresses(0)
	if len(markets) == 0 {
		if !all.OK() {
			return []model.Token{}, fmt.Errorf("%s getAllMarkets: %w", l.Project, errOrAbsent(all.Err))
		}
		return []model.Token{}, nil
	}

	accounts, err := l.accounts(ctx, wallet, markets)
	if len(accounts) == 0 {
		return []model.Token{}, err
	}

	tokens, posErr := dispatch.Collect(ctx, l.Deps.fanout(), accounts, func(ctx context.Context, a account) ([]model.Token, error) {
		return l.position(ctx, wallet, a)
	})
	return tokens, errors.Join(err, posErr)
}

// accounts reads supplied and borrowed balances of every market in one pass
// and keeps the markets where wallet has either.
func (l *Lending) accounts(ctx context.Context, wallet string, markets []string) ([]account, error) {
	user := common.HexToAddress(wallet)
	calls := make([]multicall.Call, 0, 2*len(markets))
	for i, m := range markets {
		calls = append(calls,
			multicall.Call{Reference: ref("supplied", i), Target: m, ABI: abis.ERC20, Method: "balanceOf", Args: []interface{}{user}},
			multicall.Call{Reference: ref("borrowed", i), Target: m, ABI: abis.ExchangeRate, Method: "borrowBalanceStored", Args: []interface{}{user}},
		)
	}

	results, err := batched(ctx, l.Deps.Batch, l.Chain, calls)
	accounts := lo.FilterMap(markets, func(m string, i int) (account, bool) {
		a := account{
			market:   m,
			supplied: results[ref("supplied", i)].Result().BigInt(0),
			borrowed: results[ref("borrowed", i)].Result().BigInt(0),
		}
		return a, a.supplied.Sign() > 0 || a.borrowed.Sign() > 0
	})
	return accounts, err
}

func (l *Lending) position(ctx context.Context, wallet string, a account) ([]model.Token, error) {
	var tokens []model.Token
	if a.supplied.Sign() > 0 {
		tokens = append(tokens, l.Deps.Valuer.DerivativeToken(ctx, valuation.Request{
			Chain:    l.Chain,
			Location: l.Project,
			Status:   model.StatusLent,
			Owner:    wallet,
			Address:  a.market,
			Raw:      a.supplied,
		}))
	}
	if a.borrowed.Sign() <= 0 {
		return tokens, nil
	}

	underlying, err := l.underlying(ctx, a.market)
	if err != nil {
		return tokens, err
	}
	tokens = append(tokens, l.Deps.Valuer.DebtToken(ctx, valuation.Request{
		Chain:    l.Chain,
		Location: l.Project,
		Status:   model.StatusBorrowed,
		Owner:    wallet,
		Address:  underlying,
		Raw:      a.borrowed,
	}))
	return tokens, nil
}

func (l *Lending) underlying(ctx context.Context, market string) (string, error) {
	if strings.EqualFold(market, l.NativeMarket) {
		return model.NativeAddress, nil
	}
	r := l.Deps.Querier.Query(ctx, l.Chain, market, abis.ExchangeRate, "underlying")
	if addr := r.Address(0); addr != "" {
		return addr, nil
	}
	return "", fmt.Errorf("%s market %s underlying: %w", l.Project, market, errOrAbsent(r.Err))
}
