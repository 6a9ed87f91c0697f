// Package projects implements the balance handlers of each supported protocol.
package projects

import (
	"context"
	"fmt"
	"strconv"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/wallet-valuation/internal/catalog"
	"github.com/yourorg/wallet-valuation/internal/dispatch"
	"github.com/yourorg/wallet-valuation/internal/model"
	"github.com/yourorg/wallet-valuation/internal/multicall"
	"github.com/yourorg/wallet-valuation/internal/query"
	"github.com/yourorg/wallet-valuation/internal/types"
	"github.com/yourorg/wallet-valuation/internal/valuation"
)

// batchSize caps the calls sent in one multicall round trip.
const batchSize = 200

// Valuer turns raw balances into priced tokens
type Valuer interface {
	ClassifyAndPrice(ctx context.Context, req valuation.Request) model.Token
	DerivativeToken(ctx context.Context, req valuation.Request) model.Token
	StakedShareToken(ctx context.Context, req valuation.Request) model.Token
	DebtToken(ctx context.Context, req valuation.Request) model.Token
}

// Batch sends many reads in one round trip
type Batch interface {
	Query(ctx context.Context, chain types.SupportedChain, calls []multicall.Call) (map[string]multicall.CallResult, error)
	BalanceSweep(ctx context.Context, chain types.SupportedChain, owner string, tokens []multicall.TokenRef) ([]multicall.Holding, error)
}

// Prefetcher warms the price cache before a batch of valuations
type Prefetcher interface {
	Prefetch(ctx context.Context, chain types.SupportedChain, addresses []string) error
}

// Deps are the shared collaborators of every handler.
type Deps struct {
	Querier query.Querier
	Batch   Batch
	Valuer  Valuer

	// Optional
	Prices Prefetcher
	Log    logrus.FieldLogger
	Fanout int
}

func (d Deps) logger() logrus.FieldLogger {
	if d.Log == nil {
		return logrus.StandardLogger()
	}
	return d.Log
}

func (d Deps) fanout() int {
	if d.Fanout <= 0 {
		return 16
	}
	return d.Fanout
}

// prefetch is best effort, a failed warmup only means per-token lookups later.
func (d Deps) prefetch(ctx context.Context, chain types.SupportedChain, addresses []string) {
	if d.Prices == nil || len(addresses) == 0 {
		return
	}
	if err := d.Prices.Prefetch(ctx, chain, addresses); err != nil {
		d.logger().WithField("chain", chain).Debugf("Price prefetch failed: %v", err)
	}
}

// Registry builds the handler registry of every chain in chains.
func Registry(d Deps, chains []types.SupportedChain) dispatch.Registry {
	r := dispatch.Registry{}
	for _, chain := range chains {
		r.Register(chain, catalog.ProjectWallet, &Wallet{Chain: chain, Deps: d})
	}

	for _, f := range DefaultFarms() {
		if lo.Contains(chains, f.Chain) {
			f.Deps = d
			r.Register(f.Chain, f.Project, f)
		}
	}
	for _, l := range DefaultLending() {
		if lo.Contains(chains, l.Chain) {
			l.Deps = d
			r.Register(l.Chain, l.Project, l)
		}
	}
	for _, s := range DefaultStaking() {
		if lo.Contains(chains, s.Chain) {
			s.Deps = d
			r.Register(s.Chain, s.Project, s)
		}
	}
	return r
}

// batched runs calls in chunks of batchSize and merges the results. A failed
// chunk leaves its references out of the map and is reported in err.
func batched(ctx context.Context, b Batch, chain types.SupportedChain, calls []multicall.Call) (map[string]multicall.CallResult, error) {
	out := make(map[string]multicall.CallResult, len(calls))
	var firstErr error
	for _, chunk := range lo.Chunk(calls, batchSize) {
		results, err := b.Query(ctx, chain, chunk)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for k, v := range results {
			out[k] = v
		}
	}
	if firstErr != nil {
		return out, fmt.Errorf("batched reads: %w", firstErr)
	}
	return out, nil
}

func ref(prefix string, i int) string {
	return prefix + ":" + strconv.Itoa(i)
}
