package valuation

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/wallet-valuation/internal/config"
	"github.com/yourorg/wallet-valuation/internal/model"
	"github.com/yourorg/wallet-valuation/internal/multicall"
	"github.com/yourorg/wallet-valuation/internal/price"
	"github.com/yourorg/wallet-valuation/internal/query"
	"github.com/yourorg/wallet-valuation/internal/types"
)

const (
	owner = "0x00000000000000000000000000000000000000aa"

	weth  = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	usdc  = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	usdt  = "0xdac17f958d2ee523a2206206994597c13d831ec7"
	dai   = "0x6b175474e89094c44da98b954eedeac495271d0f"
	sushi = "0x6b3595068778dd592e39a122f4f5a5cf09c90fe2"
	xsush = "0x8798249c2e607446efb7ad49ec89dd1865ff4272"
	cdai  = "0x5d3a536e4d6dbd6114cc1ead35777bab948e3643"

	pairAddr   = "0x397ff1542f962076d0bfe58ea045ffa2d347aca0"
	nestedPair = "0x00000000000000000000000000000000000000b1"
	poolToken  = "0x00000000000000000000000000000000000000c1"
	poolAddr   = "0x00000000000000000000000000000000000000c2"
	projToken  = "0x00000000000000000000000000000000000000d1"
	mystery    = "0x00000000000000000000000000000000000000e1"
)

type method func(args []interface{}) []interface{}

// fakeChain answers contract reads from a table; anything missing reverts
type fakeChain struct {
	mu        sync.Mutex
	contracts map[string]map[string]method
	reads     int
}

func newFakeChain() *fakeChain {
	return &fakeChain{contracts: make(map[string]map[string]method)}
}

func (f *fakeChain) on(address, name string, values ...interface{}) *fakeChain {
	return f.onFunc(address, name, func([]interface{}) []interface{} { return values })
}

func (f *fakeChain) onFunc(address, name string, fn method) *fakeChain {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := strings.ToLower(address)
	if f.contracts[a] == nil {
		f.contracts[a] = make(map[string]method)
	}
	f.contracts[a][name] = fn
	return f
}

func (f *fakeChain) erc20(address, symbol string, decimals uint8, supply *big.Int) *fakeChain {
	return f.on(address, "symbol", symbol).
		on(address, "decimals", decimals).
		on(address, "totalSupply", supply)
}

func (f *fakeChain) read(address, name string, args []interface{}) ([]interface{}, bool) {
	f.mu.Lock()
	f.reads++
	fn, ok := f.contracts[strings.ToLower(address)][name]
	f.mu.Unlock()
	if !ok {
		return nil, false
	}
	return fn(args), true
}

func (f *fakeChain) Query(_ context.Context, _ types.SupportedChain, address string, _ *abi.ABI, name string, args ...interface{}) query.Result {
	values, ok := f.read(address, name, args)
	if !ok {
		return query.Result{Status: query.StatusFailed, Err: errors.New("execution reverted")}
	}
	return query.Result{Status: query.StatusOK, Values: values}
}

func (f *fakeChain) Balance(_ context.Context, _ types.SupportedChain, _ string) query.Result {
	return query.Result{Status: query.StatusOK, Values: []interface{}{big.NewInt(0)}}
}

func (f *fakeChain) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// fakeProber serves batches from the same table
type fakeProber struct {
	chain *fakeChain
}

func (p fakeProber) Query(_ context.Context, _ types.SupportedChain, calls []multicall.Call) (map[string]multicall.CallResult, error) {
	out := make(map[string]multicall.CallResult, len(calls))
	for _, c := range calls {
		values, ok := p.chain.read(c.Target, c.Method, c.Args)
		out[c.Reference] = multicall.CallResult{Success: ok, Values: values}
	}
	return out, nil
}

func units(n int64, decimals int) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type harness struct {
	chain    *fakeChain
	engine   *Engine
	resolver *price.Resolver
	hook     *test.Hook
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	chain := newFakeChain()
	oracle := price.StaticOracle{types.ChainEthereum: {
		weth:  dec("3000"),
		usdc:  dec("1"),
		usdt:  dec("1"),
		dai:   dec("1"),
		sushi: dec("2"),
	}}
	resolver := price.NewResolver(price.NewCache(), price.DefaultAliases(config.DefaultChainRegistry()), oracle, logger, nil)

	opts = append([]Option{WithProber(fakeProber{chain: chain}), WithLogger(logger)}, opts...)
	engine := New(chain, resolver, config.DefaultChainRegistry(), opts...)
	resolver.RegisterComposite(engine)

	return &harness{chain: chain, engine: engine, resolver: resolver, hook: hook}
}

func (h *harness) value(address string, raw *big.Int) model.Token {
	return h.engine.ClassifyAndPrice(context.Background(), Request{
		Chain:    types.ChainEthereum,
		Location: "test",
		Owner:    owner,
		Address:  address,
		Raw:      raw,
	})
}

func (h *harness) warnings() int {
	n := 0
	for _, e := range h.hook.AllEntries() {
		if e.Level <= logrus.WarnLevel {
			n++
		}
	}
	return n
}

func (h *harness) withPair(address, token0, token1 string, r0, r1, supply *big.Int) {
	h.chain.
		on(address, "token0", common.HexToAddress(token0)).
		on(address, "token1", common.HexToAddress(token1)).
		on(address, "getReserves", r0, r1, uint32(1700000000)).
		erc20(address, "SLP", 18, supply)
}

func TestNativeToken(t *testing.T) {
	h := newHarness(t)

	tok := h.value(model.NativeAddress, units(2, 18))
	assert.Equal(t, model.KindNative, tok.Kind)
	assert.Equal(t, "ETH", tok.Symbol)
	assert.Equal(t, model.NativeAddress, tok.Address)
	assert.True(t, tok.Balance.Equal(dec("2")))
	assert.True(t, tok.Price.Equal(dec("3000")), "native priced through the wrapped token")
	assert.True(t, tok.Value().Equal(dec("6000")))
}

func TestPlainCatalogTokenSkipsMetadataReads(t *testing.T) {
	h := newHarness(t)

	tok := h.value(usdc, units(1_500_000, 0))
	assert.Equal(t, model.KindSimple, tok.Kind)
	assert.Equal(t, "USDC", tok.Symbol)
	assert.True(t, tok.Balance.Equal(dec("1.5")))
	assert.True(t, tok.Price.Equal(dec("1")))
	assert.Equal(t, model.StatusNone, tok.Status)
	assert.Equal(t, "test", tok.Location)
	assert.Equal(t, 0, h.chain.readCount())
}

func TestProjectTokenSixDecimals(t *testing.T) {
	h := newHarness(t)
	h.chain.erc20(projToken, "PRJ", 6, units(1, 12))

	tok := h.value(projToken, big.NewInt(1_000_000))
	assert.Equal(t, model.KindSimple, tok.Kind)
	assert.Equal(t, "PRJ", tok.Symbol)
	assert.True(t, tok.Balance.Equal(dec("1")), "got %s", tok.Balance)
	assert.True(t, tok.Price.IsZero())
	assert.Equal(t, model.DefaultLogo, tok.Logo)
}

func TestLPPairProportionality(t *testing.T) {
	h := newHarness(t)
	// 100 WETH / 300,000 USDC, 1,000 shares outstanding, holder owns 10
	h.withPair(pairAddr, weth, usdc, units(100, 18), units(300_000, 6), units(1_000, 18))

	tok := h.value(pairAddr, units(10, 18))
	require.Equal(t, model.KindLPPair, tok.Kind)
	require.NotNil(t, tok.Token0)
	require.NotNil(t, tok.Token1)

	assert.Equal(t, "WETH-USDC", tok.Symbol)
	assert.True(t, tok.Balance.Equal(dec("10")))
	assert.True(t, tok.Token0.Balance.Equal(dec("1")), "got %s", tok.Token0.Balance)
	assert.True(t, tok.Token1.Balance.Equal(dec("3000")), "got %s", tok.Token1.Balance)

	share := dec("10").Div(dec("1000"))
	assert.True(t, tok.Token0.Balance.Div(dec("100")).Equal(share))
	assert.True(t, tok.Token1.Balance.Div(dec("300000")).Equal(share))

	assert.True(t, tok.Token0.Price.Equal(dec("3000")))
	assert.True(t, tok.Token1.Price.Equal(dec("1")))
	assert.True(t, tok.Price.Equal(dec("600")), "got %s", tok.Price)
	assert.True(t, tok.Value().Equal(dec("6000")))
}

func TestLPPairZeroSupply(t *testing.T) {
	h := newHarness(t)
	h.withPair(pairAddr, weth, usdc, units(100, 18), units(300_000, 6), big.NewInt(0))

	tok := h.value(pairAddr, units(10, 18))
	require.Equal(t, model.KindLPPair, tok.Kind)
	assert.True(t, tok.Price.IsZero())
	assert.True(t, tok.Token0.Balance.IsZero())
	assert.True(t, tok.Token1.Balance.IsZero())
}

func TestNestedPairPricesRecursively(t *testing.T) {
	h := newHarness(t)
	h.withPair(pairAddr, weth, usdc, units(100, 18), units(300_000, 6), units(1_000, 18))
	// Outer pool: 50 inner shares (worth 600 each) against 30,000 DAI
	h.withPair(nestedPair, pairAddr, dai, units(50, 18), units(30_000, 18), units(100, 18))

	tok := h.value(nestedPair, units(1, 18))
	require.Equal(t, model.KindLPPair, tok.Kind)
	assert.True(t, tok.Token0.Price.Equal(dec("600")), "got %s", tok.Token0.Price)
	assert.True(t, tok.Token0.Balance.Equal(dec("0.5")))
	assert.True(t, tok.Token1.Balance.Equal(dec("300")))
	// (50*600 + 30000*1) / 100
	assert.True(t, tok.Price.Equal(dec("600")), "got %s", tok.Price)
}

func TestSelfReferencingPairTerminates(t *testing.T) {
	h := newHarness(t, WithMaxDepth(3))
	h.withPair(pairAddr, pairAddr, usdc, units(100, 18), units(100, 6), units(100, 18))

	tok := h.value(pairAddr, units(1, 18))
	assert.Equal(t, model.KindLPPair, tok.Kind)
	assert.True(t, tok.Token1.Price.Equal(dec("1")))
}

func TestNestedPairRecoversAfterFailedReserves(t *testing.T) {
	h := newHarness(t)
	// Inner pair answers everything but getReserves
	h.chain.
		on(pairAddr, "token0", common.HexToAddress(weth)).
		on(pairAddr, "token1", common.HexToAddress(usdc)).
		erc20(pairAddr, "SLP", 18, units(1_000, 18))
	h.withPair(nestedPair, pairAddr, dai, units(50, 18), units(30_000, 18), units(100, 18))
	ctx := context.Background()

	p, err := h.resolver.LookupPrice(ctx, types.ChainEthereum, nestedPair, 18)
	require.ErrorIs(t, err, price.ErrIncomplete)
	assert.True(t, p.Equal(dec("300")), "only the DAI side is priced, got %s", p)
	_, cached := h.resolver.Cache().Get(types.ChainEthereum, pairAddr)
	assert.False(t, cached, "failed inner share is not cached")
	_, cached = h.resolver.Cache().Get(types.ChainEthereum, nestedPair)
	assert.False(t, cached, "outer share built on it is not cached")

	h.chain.on(pairAddr, "getReserves", units(100, 18), units(300_000, 6), uint32(1700000000))

	assert.True(t, h.resolver.GetTokenPrice(ctx, types.ChainEthereum, pairAddr, 18).Equal(dec("600")))
	assert.True(t, h.resolver.GetTokenPrice(ctx, types.ChainEthereum, nestedPair, 18).Equal(dec("600")))
	inner, cached := h.resolver.Cache().Get(types.ChainEthereum, pairAddr)
	require.True(t, cached)
	assert.True(t, inner.Equal(dec("600")))
}

func TestDepthGuardZeroNotCached(t *testing.T) {
	h := newHarness(t, WithMaxDepth(1))
	h.withPair(pairAddr, weth, usdc, units(100, 18), units(300_000, 6), units(1_000, 18))
	h.withPair(nestedPair, pairAddr, dai, units(50, 18), units(30_000, 18), units(100, 18))
	ctx := context.Background()

	// The inner share sits one level too deep when reached through the outer one
	_, err := h.resolver.LookupPrice(ctx, types.ChainEthereum, nestedPair, 18)
	require.ErrorIs(t, err, price.ErrIncomplete)
	_, cached := h.resolver.Cache().Get(types.ChainEthereum, pairAddr)
	assert.False(t, cached)

	// Asked directly it is within bounds and gets its real price
	assert.True(t, h.resolver.GetTokenPrice(ctx, types.ChainEthereum, pairAddr, 18).Equal(dec("600")))
}

func TestWeightedPool(t *testing.T) {
	strategies := StrategyTable{}
	strategies.Register(types.ChainEthereum, poolToken, PoolSpec{Kind: KindWeighted, Symbol: "3Crv", Pool: poolAddr, Coins: 3})
	h := newHarness(t, WithStrategies(strategies))

	coins := []string{dai, usdc, usdt}
	reserves := []*big.Int{units(400, 18), units(300, 6), units(300, 6)}
	h.chain.
		onFunc(poolAddr, "coins", func(args []interface{}) []interface{} {
			return []interface{}{common.HexToAddress(coins[args[0].(*big.Int).Int64()])}
		}).
		onFunc(poolAddr, "balances", func(args []interface{}) []interface{} {
			return []interface{}{reserves[args[0].(*big.Int).Int64()]}
		}).
		erc20(poolToken, "3Crv", 18, units(500, 18))

	tok := h.value(poolToken, units(5, 18))
	assert.Equal(t, model.KindSimple, tok.Kind)
	assert.Equal(t, "3Crv", tok.Symbol)
	assert.True(t, tok.Balance.Equal(dec("5")))
	// 1,000 USD over 500 shares
	assert.True(t, tok.Price.Equal(dec("2")), "got %s", tok.Price)
}

func TestWeightedPoolVirtualPrice(t *testing.T) {
	strategies := StrategyTable{}
	strategies.Register(types.ChainEthereum, poolToken, PoolSpec{Kind: KindWeighted, Pool: poolAddr, Coins: 1, VirtualPrice: true})
	h := newHarness(t, WithStrategies(strategies))

	h.chain.
		on(poolAddr, "coins", common.HexToAddress(dai)).
		on(poolAddr, "balances", units(100, 18)).
		on(poolAddr, "get_virtual_price", new(big.Int).Div(units(102, 18), big.NewInt(100))).
		erc20(poolToken, "vLP", 18, units(100, 18))

	tok := h.value(poolToken, units(1, 18))
	assert.Equal(t, "vLP", tok.Symbol)
	assert.True(t, tok.Price.Equal(dec("1.02")), "got %s", tok.Price)
}

func TestPoolTokenWithoutRuleIsPlaceholder(t *testing.T) {
	h := newHarness(t)

	tok := h.engine.PoolToken(context.Background(), Request{Chain: types.ChainEthereum, Address: mystery, Raw: units(1, 18), Owner: owner})
	assert.True(t, tok.IsPlaceholder())
	assert.Equal(t, model.UnknownSymbol, tok.Symbol)
	assert.True(t, tok.Balance.IsZero())
	assert.True(t, tok.Price.IsZero())
	assert.Equal(t, 1, h.warnings())
}

func TestUnidentifiedShapeIsPlaceholder(t *testing.T) {
	h := newHarness(t)

	tok := h.value(mystery, units(7, 18))
	assert.Equal(t, model.KindSimple, tok.Kind)
	assert.Equal(t, "???", tok.Symbol)
	assert.True(t, tok.Balance.IsZero())
	assert.True(t, tok.Price.IsZero())
	assert.Equal(t, 1, h.warnings())
}

func TestExchangeRateDerivative(t *testing.T) {
	h := newHarness(t)
	// 1 cDAI = 0.02 DAI, rate scaled by 10^(18 + 18 - 8)
	h.chain.
		erc20(cdai, "cDAI", 8, units(1, 18)).
		on(cdai, "exchangeRateStored", new(big.Int).Mul(big.NewInt(2), new(big.Int).Exp(big.NewInt(10), big.NewInt(26), nil)))

	tok := h.value(cdai, units(5000, 8))
	require.Equal(t, model.KindComposite, tok.Kind)
	require.NotNil(t, tok.Underlying)
	assert.Equal(t, "cDAI", tok.Symbol)
	assert.True(t, tok.Balance.Equal(dec("5000")))
	assert.True(t, tok.Price.Equal(dec("0.02")), "got %s", tok.Price)
	assert.Equal(t, "DAI", tok.Underlying.Symbol)
	assert.True(t, tok.Underlying.Balance.Equal(dec("100")))
	assert.True(t, tok.Value().Equal(dec("100")))
}

func TestDerivativeReadsUnderlyingWhenNotListed(t *testing.T) {
	h := newHarness(t, WithStrategies(StrategyTable{}))
	h.chain.
		erc20(cdai, "cDAI", 8, units(1, 18)).
		on(cdai, "underlying", common.HexToAddress(dai)).
		on(cdai, "exchangeRateStored", new(big.Int).Mul(big.NewInt(2), new(big.Int).Exp(big.NewInt(10), big.NewInt(26), nil)))

	tok := h.engine.DerivativeToken(context.Background(), Request{Chain: types.ChainEthereum, Address: cdai, Raw: units(50, 8), Owner: owner, Status: model.StatusLent})
	require.Equal(t, model.KindComposite, tok.Kind)
	assert.Equal(t, model.StatusLent, tok.Status)
	assert.True(t, tok.Underlying.Balance.Equal(dec("1")))
}

func TestStakedShareDerivative(t *testing.T) {
	h := newHarness(t)
	// 150 SUSHI staked against 100 xSUSHI
	h.chain.
		on(sushi, "balanceOf", units(150, 18)).
		on(xsush, "totalSupply", units(100, 18))

	tok := h.value(xsush, units(10, 18))
	require.Equal(t, model.KindComposite, tok.Kind)
	assert.Equal(t, "xSUSHI", tok.Symbol)
	assert.True(t, tok.Balance.Equal(dec("10")))
	assert.True(t, tok.Underlying.Balance.Equal(dec("15")), "got %s", tok.Underlying.Balance)
	assert.True(t, tok.Underlying.Price.Equal(dec("2")))
	assert.True(t, tok.Price.Equal(dec("3")), "got %s", tok.Price)
}

func TestStakedShareWithoutRuleIsPlaceholder(t *testing.T) {
	h := newHarness(t)

	tok := h.engine.StakedShareToken(context.Background(), Request{Chain: types.ChainEthereum, Address: mystery, Raw: units(1, 18)})
	assert.True(t, tok.IsPlaceholder())
}

func TestDebtToken(t *testing.T) {
	h := newHarness(t)

	tok := h.engine.DebtToken(context.Background(), Request{
		Chain:    types.ChainEthereum,
		Location: "compound",
		Status:   model.StatusLent,
		Owner:    owner,
		Address:  dai,
		Raw:      units(250, 18),
	})
	assert.Equal(t, model.KindDebt, tok.Kind)
	assert.Equal(t, model.StatusBorrowed, tok.Status)
	assert.True(t, tok.Balance.Equal(dec("250")))
	assert.True(t, tok.Price.Equal(dec("1")))
}

func TestClassifyAndPriceIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.withPair(pairAddr, weth, usdc, units(100, 18), units(300_000, 6), units(1_000, 18))
	h.chain.erc20(projToken, "PRJ", 6, units(1, 12))

	for _, addr := range []string{pairAddr, projToken, xsush, mystery, model.NativeAddress} {
		if addr == xsush {
			h.chain.on(sushi, "balanceOf", units(150, 18)).on(xsush, "totalSupply", units(100, 18))
		}
		first := h.value(addr, units(3, 18))
		second := h.value(addr, units(3, 18))
		assert.Equal(t, first, second, addr)
	}
}

func TestPriceOfPlainTokenIsNotComposite(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.PriceOf(context.Background(), types.ChainEthereum, usdc, 6)
	assert.ErrorIs(t, err, price.ErrNotComposite)
	_, err = h.engine.PriceOf(context.Background(), types.ChainEthereum, model.NativeAddress, 18)
	assert.ErrorIs(t, err, price.ErrNotComposite)
}

func TestProbeFallbackWithoutProber(t *testing.T) {
	h := newHarness(t, WithProber(nil))
	h.chain.erc20(projToken, "PRJ", 6, units(1, 12))

	tok := h.value(projToken, big.NewInt(2_000_000))
	assert.Equal(t, "PRJ", tok.Symbol)
	assert.True(t, tok.Balance.Equal(dec("2")))
}

func TestSafeDiv(t *testing.T) {
	assert.True(t, safeDiv(dec("1"), decimal.Zero).IsZero())
	assert.True(t, safeDiv(dec("1"), dec("-2")).IsZero())
	assert.True(t, safeDiv(dec("1"), dec("4")).Equal(dec("0.25")))
	assert.True(t, shareOf(dec("2"), dec("1")).Equal(dec("1")))
}
