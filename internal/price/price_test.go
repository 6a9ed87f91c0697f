package price

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/wallet-valuation/internal/circuitbreaker"
	"github.com/yourorg/wallet-valuation/internal/config"
	"github.com/yourorg/wallet-valuation/internal/model"
	"github.com/yourorg/wallet-valuation/internal/types"
)

const (
	weth = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	dai  = "0x6b175474e89094c44da98b954eedeac495271d0f"
	sETH = "0x5e74C9036fb86BD7eCdcb084a0673EFc32eA31cb"
	lp   = "0xa478c2975ab1ea89e8196811f51a7b7ade33eb11"
)

// countingOracle wraps StaticOracle and counts requests
type countingOracle struct {
	mu     sync.Mutex
	prices StaticOracle
	calls  int
	err    error
}

func (o *countingOracle) Prices(ctx context.Context, chain types.SupportedChain, addresses []string) (map[string]decimal.Decimal, error) {
	o.mu.Lock()
	o.calls++
	o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	return o.prices.Prices(ctx, chain, addresses)
}

func (o *countingOracle) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

type fakeComposite map[string]decimal.Decimal

func (f fakeComposite) PriceOf(_ context.Context, _ types.SupportedChain, address string, _ int) (decimal.Decimal, error) {
	p, ok := f[model.NormalizeAddress(address)]
	if !ok {
		return decimal.Zero, ErrNotComposite
	}
	return p, nil
}

// flakyComposite reports an incomplete price until healed
type flakyComposite struct {
	mu     sync.Mutex
	healed bool
}

func (f *flakyComposite) heal() {
	f.mu.Lock()
	f.healed = true
	f.mu.Unlock()
}

func (f *flakyComposite) PriceOf(_ context.Context, _ types.SupportedChain, address string, _ int) (decimal.Decimal, error) {
	if model.NormalizeAddress(address) != lp {
		return decimal.Zero, ErrNotComposite
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.healed {
		return decimal.NewFromInt(7), fmt.Errorf("%w: reserves unavailable", ErrIncomplete)
	}
	return decimal.NewFromInt(42), nil
}

func newTestResolver(oracle Oracle) *Resolver {
	logger, _ := test.NewNullLogger()
	return NewResolver(NewCache(), DefaultAliases(config.DefaultChainRegistry()), oracle, logger, nil)
}

func TestCacheLastWriteWins(t *testing.T) {
	c := NewCache()
	c.Set(types.ChainEthereum, "0xABC", decimal.NewFromInt(1))
	c.Set(types.ChainEthereum, "0xabc", decimal.NewFromInt(2))

	p, ok := c.Get(types.ChainEthereum, "0xAbC")
	require.True(t, ok)
	assert.True(t, p.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, 1, c.Len())

	_, ok = c.Get(types.ChainBSC, "0xabc")
	assert.False(t, ok, "keys are per chain")
}

func TestCacheConcurrentWrites(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Set(types.ChainEthereum, fmt.Sprintf("0x%02d", i%10), decimal.NewFromInt(int64(i)))
			c.Get(types.ChainEthereum, "0x01")
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10, c.Len())
	assert.Len(t, c.Snapshot(types.ChainEthereum), 10)
}

func TestAliasResolve(t *testing.T) {
	aliases := DefaultAliases(config.DefaultChainRegistry())

	assert.Equal(t, weth, aliases.Resolve(types.ChainEthereum, model.NativeAddress))
	assert.Equal(t, weth, aliases.Resolve(types.ChainEthereum, sETH))
	assert.Equal(t, dai, aliases.Resolve(types.ChainEthereum, dai))
	assert.Equal(t, model.NormalizeAddress(sETH), aliases.Resolve(types.ChainBSC, sETH), "aliases are per chain")
}

func TestAliasCycleTerminates(t *testing.T) {
	aliases := AliasTable{}
	aliases.Add(types.ChainEthereum, "0xa", "0xb")
	aliases.Add(types.ChainEthereum, "0xb", "0xa")

	got := aliases.Resolve(types.ChainEthereum, "0xa")
	assert.Contains(t, []string{"0xa", "0xb"}, got)
}

func TestResolverOracleThenCache(t *testing.T) {
	oracle := &countingOracle{prices: StaticOracle{
		types.ChainEthereum: {weth: decimal.NewFromInt(3000)},
	}}
	r := newTestResolver(oracle)

	p := r.GetTokenPrice(context.Background(), types.ChainEthereum, weth, 18)
	assert.True(t, p.Equal(decimal.NewFromInt(3000)))

	p = r.GetTokenPrice(context.Background(), types.ChainEthereum, strings.ToUpper(weth[2:]), 18)
	assert.True(t, p.IsZero(), "a different key is a different token")

	p = r.GetTokenPrice(context.Background(), types.ChainEthereum, weth, 18)
	assert.True(t, p.Equal(decimal.NewFromInt(3000)))
	assert.Equal(t, 2, oracle.count())
}

func TestResolverAliasRedirect(t *testing.T) {
	oracle := &countingOracle{prices: StaticOracle{
		types.ChainEthereum: {weth: decimal.NewFromInt(3000)},
	}}
	r := newTestResolver(oracle)

	native := r.GetTokenPrice(context.Background(), types.ChainEthereum, model.NativeAddress, 18)
	synth := r.GetTokenPrice(context.Background(), types.ChainEthereum, sETH, 18)
	assert.True(t, native.Equal(decimal.NewFromInt(3000)))
	assert.True(t, synth.Equal(decimal.NewFromInt(3000)))
	assert.Equal(t, 1, oracle.count(), "the second alias hits the cached target")
}

func TestResolverCompositeFirst(t *testing.T) {
	oracle := &countingOracle{prices: StaticOracle{}}
	r := newTestResolver(oracle)
	r.RegisterComposite(fakeComposite{lp: decimal.NewFromInt(42)})

	p := r.GetTokenPrice(context.Background(), types.ChainEthereum, lp, 18)
	assert.True(t, p.Equal(decimal.NewFromInt(42)))
	assert.Equal(t, 0, oracle.count())

	cached, ok := r.Cache().Get(types.ChainEthereum, lp)
	require.True(t, ok)
	assert.True(t, cached.Equal(decimal.NewFromInt(42)))
}

func TestResolverIncompleteCompositeNotCached(t *testing.T) {
	oracle := &countingOracle{prices: StaticOracle{}}
	r := newTestResolver(oracle)
	composite := &flakyComposite{}
	r.RegisterComposite(composite)

	p, err := r.LookupPrice(context.Background(), types.ChainEthereum, lp, 18)
	require.ErrorIs(t, err, ErrIncomplete)
	assert.True(t, Transient(err))
	assert.True(t, p.Equal(decimal.NewFromInt(7)), "partial price is still served")
	_, ok := r.Cache().Get(types.ChainEthereum, lp)
	assert.False(t, ok)
	assert.Equal(t, 0, oracle.count(), "a recognized share never falls through to the oracle")

	composite.heal()
	p = r.GetTokenPrice(context.Background(), types.ChainEthereum, lp, 18)
	assert.True(t, p.Equal(decimal.NewFromInt(42)))
	cached, ok := r.Cache().Get(types.ChainEthereum, lp)
	require.True(t, ok)
	assert.True(t, cached.Equal(decimal.NewFromInt(42)))
}

func TestTransient(t *testing.T) {
	assert.False(t, Transient(nil))
	assert.False(t, Transient(ErrNoPrice))
	assert.False(t, Transient(fmt.Errorf("wrapped: %w", ErrNoPrice)))
	assert.True(t, Transient(ErrIncomplete))
	assert.True(t, Transient(errors.New("502 bad gateway")))
}

func TestResolverOracleFailureNotCached(t *testing.T) {
	oracle := &countingOracle{err: errors.New("502 bad gateway")}
	r := newTestResolver(oracle)

	assert.True(t, r.GetTokenPrice(context.Background(), types.ChainEthereum, dai, 18).IsZero())
	_, ok := r.Cache().Get(types.ChainEthereum, dai)
	assert.False(t, ok)

	oracle.err = nil
	oracle.prices = StaticOracle{types.ChainEthereum: {dai: decimal.NewFromInt(1)}}
	assert.True(t, r.GetTokenPrice(context.Background(), types.ChainEthereum, dai, 18).Equal(decimal.NewFromInt(1)))
}

func TestResolverUnknownTokenCachedAsZero(t *testing.T) {
	oracle := &countingOracle{prices: StaticOracle{}}
	r := newTestResolver(oracle)

	assert.True(t, r.GetTokenPrice(context.Background(), types.ChainEthereum, dai, 18).IsZero())
	assert.True(t, r.GetTokenPrice(context.Background(), types.ChainEthereum, dai, 18).IsZero())
	assert.Equal(t, 1, oracle.count())
}

func TestResolverUpdatePrice(t *testing.T) {
	r := newTestResolver(nil)

	r.UpdatePrice(types.ChainEthereum, Data{Address: dai, Price: decimal.NewFromFloat(0.999)})
	assert.True(t, r.GetTokenPrice(context.Background(), types.ChainEthereum, dai, 18).Equal(decimal.NewFromFloat(0.999)))

	r.UpdatePrice(types.ChainEthereum, Data{Address: dai, Price: decimal.NewFromInt(-1)})
	assert.True(t, r.GetTokenPrice(context.Background(), types.ChainEthereum, dai, 18).Equal(decimal.NewFromFloat(0.999)), "negative prices are rejected")
}

func TestResolverPrefetch(t *testing.T) {
	oracle := &countingOracle{prices: StaticOracle{
		types.ChainEthereum: {weth: decimal.NewFromInt(3000), dai: decimal.NewFromInt(1)},
	}}
	r := newTestResolver(oracle)

	require.NoError(t, r.Prefetch(context.Background(), types.ChainEthereum, []string{weth, dai, model.NativeAddress}))
	assert.Equal(t, 1, oracle.count())

	assert.True(t, r.GetTokenPrice(context.Background(), types.ChainEthereum, model.NativeAddress, 18).Equal(decimal.NewFromInt(3000)))
	assert.True(t, r.GetTokenPrice(context.Background(), types.ChainEthereum, dai, 18).Equal(decimal.NewFromInt(1)))
	assert.Equal(t, 1, oracle.count())
}

func TestLlamaOracle(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"coins":{"ethereum:%s":{"price":3012.55,"symbol":"WETH","decimals":18,"confidence":0.99}}}`, weth)
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	o := NewLlamaOracle(srv.URL+"/", logger)

	prices, err := o.Prices(context.Background(), types.ChainEthereum, []string{"0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", dai})
	require.NoError(t, err)
	assert.Equal(t, "/prices/current/ethereum:"+weth+",ethereum:"+dai, gotPath)
	require.Contains(t, prices, weth)
	assert.True(t, prices[weth].Equal(decimal.RequireFromString("3012.55")))
	assert.NotContains(t, prices, dai)
}

func TestLlamaOracleErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"bad coins"}`))
	}))
	defer srv.Close()

	o := NewLlamaOracle(srv.URL, nil)
	_, err := o.Prices(context.Background(), types.ChainEthereum, []string{dai})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestLlamaOracleMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"coins":{"ethereum:%s":{"price":"n/a"}},"extra":1}`, weth)
	}))
	defer srv.Close()

	o := NewLlamaOracle(srv.URL, nil)
	prices, err := o.Prices(context.Background(), types.ChainEthereum, []string{weth})
	require.NoError(t, err)
	assert.Empty(t, prices, "unparseable prices are skipped")

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer bad.Close()

	_, err = NewLlamaOracle(bad.URL, nil).Prices(context.Background(), types.ChainEthereum, []string{weth})
	assert.ErrorContains(t, err, "missing coins object")
}

func TestLlamaOracleUnsupportedChain(t *testing.T) {
	o := NewLlamaOracle("http://127.0.0.1:0", nil)
	_, err := o.Prices(context.Background(), types.SupportedChain("zksync"), []string{dai})
	assert.Error(t, err)
}

func TestGuardedOracleTrips(t *testing.T) {
	inner := &countingOracle{err: errors.New("timeout")}
	g := NewGuardedOracle(inner, circuitbreaker.New(circuitbreaker.Thresholds{FailureThreshold: 2}))

	for i := 0; i < 2; i++ {
		_, err := g.Prices(context.Background(), types.ChainEthereum, []string{dai})
		require.Error(t, err)
	}
	assert.Equal(t, circuitbreaker.StateOpen, g.State())

	_, err := g.Prices(context.Background(), types.ChainEthereum, []string{dai})
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, 2, inner.count(), "open circuit skips the oracle")
}
