package valuation

import (
	"context"

	"github.com/yourorg/wallet-valuation/internal/abis"
	"github.com/yourorg/wallet-valuation/internal/catalog"
	"github.com/yourorg/wallet-valuation/internal/model"
	"github.com/yourorg/wallet-valuation/internal/multicall"
	"github.com/yourorg/wallet-valuation/internal/query"
	"github.com/yourorg/wallet-valuation/internal/types"
)

type shape int

const (
	shapeUnknown shape = iota
	shapeERC20
	shapePair
)

type tokenMeta struct {
	Symbol   string
	Decimals int
	Logo     string
}

type memoKey struct {
	chain   types.SupportedChain
	address string
}

func keyOf(chain types.SupportedChain, address string) memoKey {
	return memoKey{chain: chain, address: model.NormalizeAddress(address)}
}

// metadata returns symbol, decimals and logo from the catalog, or live reads
// when the token is not cataloged. fallback applies when decimals() fails.
func (e *Engine) metadata(ctx context.Context, chain types.SupportedChain, address string, fallback int) tokenMeta {
	if isNative(address) {
		symbol := e.gasSymbol(chain)
		return tokenMeta{Symbol: symbol, Decimals: model.DefaultDecimals, Logo: catalog.Logo(chain, model.NativeAddress, symbol)}
	}
	if t, ok := catalog.Lookup(chain, address); ok {
		return tokenMeta{Symbol: t.Symbol, Decimals: t.Decimals, Logo: t.Logo}
	}

	k := keyOf(chain, address)
	if v, ok := e.meta.Load(k); ok {
		return v.(tokenMeta)
	}

	if fallback < 0 {
		fallback = model.DefaultDecimals
	}
	dec := e.q.Query(ctx, chain, address, abis.ERC20, "decimals")
	sym := e.q.Query(ctx, chain, address, abis.ERC20, "symbol")
	m := buildMeta(chain, address, sym, dec, fallback)
	if dec.OK() && sym.OK() {
		e.meta.Store(k, m)
	}
	return m
}

func buildMeta(chain types.SupportedChain, address string, sym, dec query.Result, fallback int) tokenMeta {
	symbol := sym.String(0)
	if symbol == "" {
		symbol = model.UnknownSymbol
	}
	return tokenMeta{
		Symbol:   symbol,
		Decimals: dec.Int(0, fallback),
		Logo:     catalog.Logo(chain, address, symbol),
	}
}

// detect identifies the interface of a token outside the strategy table.
func (e *Engine) detect(ctx context.Context, chain types.SupportedChain, address string) shape {
	if _, ok := catalog.Lookup(chain, address); ok {
		return shapeERC20
	}

	k := keyOf(chain, address)
	if v, ok := e.shapes.Load(k); ok {
		return v.(shape)
	}

	s, definitive := e.probeShape(ctx, chain, address)
	if definitive {
		e.shapes.Store(k, s)
	}
	return s
}

// probeShape reads the pair and ERC20 signatures in one batch, where a missing
// method is a cheap per-call failure rather than a retried query.
func (e *Engine) probeShape(ctx context.Context, chain types.SupportedChain, address string) (shape, bool) {
	if e.probe != nil {
		calls := []multicall.Call{
			{Reference: "token0", Target: address, ABI: abis.LPPair, Method: "token0"},
			{Reference: "token1", Target: address, ABI: abis.LPPair, Method: "token1"},
			{Reference: "getReserves", Target: address, ABI: abis.LPPair, Method: "getReserves"},
			{Reference: "decimals", Target: address, ABI: abis.ERC20, Method: "decimals"},
			{Reference: "symbol", Target: address, ABI: abis.ERC20, Method: "symbol"},
			{Reference: "totalSupply", Target: address, ABI: abis.ERC20, Method: "totalSupply"},
		}
		res, err := e.probe.Query(ctx, chain, calls)
		if err == nil {
			if res["decimals"].Success && res["symbol"].Success {
				e.meta.Store(keyOf(chain, address), buildMeta(chain, address, res["symbol"].Result(), res["decimals"].Result(), model.DefaultDecimals))
			}
			switch {
			case res["token0"].Success && res["token1"].Success:
				// A pair whose reserves did not load is retried next time
				return shapePair, res["getReserves"].Success
			case res["decimals"].Success || res["totalSupply"].Success:
				return shapeERC20, true
			}
			return shapeUnknown, true
		}
		e.log.WithField("chain", chain).Debugf("Interface probe of %s failed: %v", address, err)
	}

	// Unbatched fallback only separates ERC20s from unknown contracts and
	// is not memoized, a later batched probe may still find a pair
	if e.q.Query(ctx, chain, address, abis.ERC20, "totalSupply").OK() {
		return shapeERC20, false
	}
	return shapeUnknown, false
}
