package projects

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"

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

// Farm reads the staked LP positions and pending rewards of a MasterChef
// style staking contract.
type Farm struct {
	Project string
	Chain   types.SupportedChain

	Chef string

	// Method returning the pending reward of (pid, user), e.g. pendingSushi
	PendingMethod string
	Reward        string

	Deps Deps
}

// DefaultFarms lists the built-in MasterChef deployments.
func DefaultFarms() []*Farm {
	return []*Farm{
		{
			Project:       catalog.ProjectSushiswap,
			Chain:         types.ChainEthereum,
			Chef:          "0xc2EdaD668740f1aA35E4D8f227fB8E17dcA888Cd",
			PendingMethod: "pendingSushi",
			Reward:        "0x6B3595068778DD592e39A122f4f5a5cF09C90fE2",
		},
		{
			Project:       catalog.ProjectPancakeswap,
			Chain:         types.ChainBSC,
			Chef:          "0x73feaa1eE314F8c655E354234017bE2193C9E24E",
			PendingMethod: "pendingCake",
			Reward:        "0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82",
		},
	}
}

type stake struct {
	pid    int
	amount *big.Int
}

// Get implements dispatch.Handler.
func (f *Farm) Get(ctx context.Context, wallet string) ([]model.Token, error) {
	length := f.Deps.Querier.Query(ctx, f.Chain, f.Chef, abis.MasterChef, "poolLength")
	if !length.OK() {
		return []model.Token{}, fmt.Errorf("%s poolLength: %w", f.Project, errOrAbsent(length.Err))
	}
	n := length.Int(0, 0)
	if n == 0 {
		return []model.Token{}, nil
	}

	stakes, err := f.stakes(ctx, wallet, n)
	if len(stakes) == 0 {
		return []model.Token{}, err
	}

	tokens, posErr := dispatch.Collect(ctx, f.Deps.fanout(), stakes, func(ctx context.Context, s stake) ([]model.Token, error) {
		return f.position(ctx, wallet, s)
	})
	return tokens, errors.Join(err, posErr)
}

// stakes returns the pools in which wallet has a non-zero deposit.
func (f *Farm) stakes(ctx context.Context, wallet string, n int) ([]stake, error) {
	user := common.HexToAddress(wallet)
	calls := lo.Times(n, func(pid int) multicall.Call {
		return multicall.Call{
			Reference: ref("userInfo", pid),
			Target:    f.Chef,
			ABI:       abis.MasterChef,
			Method:    "userInfo",
			Args:      []interface{}{big.NewInt(int64(pid)), user},
		}
	})

	results, err := batched(ctx, f.Deps.Batch, f.Chain, calls)
	stakes := lo.FilterMap(calls, func(c multicall.Call, pid int) (stake, bool) {
		amount := results[c.Reference].Result().BigInt(0)
		return stake{pid: pid, amount: amount}, amount.Sign() > 0
	})
	return stakes, err
}

// position values one deposit and its unclaimed reward.
func (f *Farm) position(ctx context.Context, wallet string, s stake) ([]model.Token, error) {
	pid := big.NewInt(int64(s.pid))
	info := f.Deps.Querier.Query(ctx, f.Chain, f.Chef, abis.MasterChef, "poolInfo", pid)
	lp := info.Address(0)
	if lp == "" {
		return nil, fmt.Errorf("%s pool %d poolInfo: %w", f.Project, s.pid, errOrAbsent(info.Err))
	}

	// Positions of different pools may share an LP or reward token
	pool := &model.Info{Extra: map[string]string{model.InfoPool: strconv.Itoa(s.pid)}}

	tokens := []model.Token{
		inPool(f.Deps.Valuer.ClassifyAndPrice(ctx, valuation.Request{
			Chain:    f.Chain,
			Location: f.Project,
			Status:   model.StatusStaked,
			Owner:    wallet,
			Address:  lp,
			Raw:      s.amount,
			Info:     pool,
		}), pool),
	}

	if f.PendingMethod == "" || f.Reward == "" {
		return tokens, nil
	}
	pending := f.Deps.Querier.Query(ctx, f.Chain, f.Chef, abis.MasterChef, f.PendingMethod, pid, common.HexToAddress(wallet))
	if raw := pending.BigInt(0); raw.Sign() > 0 {
		tokens = append(tokens, inPool(f.Deps.Valuer.ClassifyAndPrice(ctx, valuation.Request{
			Chain:    f.Chain,
			Location: f.Project,
			Status:   model.StatusUnclaimed,
			Owner:    wallet,
			Address:  f.Reward,
			Raw:      raw,
			Info:     pool,
		}), pool))
	}
	return tokens, nil
}

// inPool tags t with the pool it was read from, for shapes that do not
// carry request info themselves.
func inPool(t model.Token, pool *model.Info) model.Token {
	if t.Info == nil {
		t.Info = pool
	}
	return t
}

var errAbsent = errors.New("no result")

func errOrAbsent(err error) error {
	if err == nil {
		return errAbsent
	}
	return err
}
