package app

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/wallet-valuation/internal/catalog"
	"github.com/yourorg/wallet-valuation/internal/config"
	"github.com/yourorg/wallet-valuation/internal/model"
	"github.com/yourorg/wallet-valuation/internal/price"
	"github.com/yourorg/wallet-valuation/internal/query"
	"github.com/yourorg/wallet-valuation/internal/types"
)

// revertingNode holds one ether and reverts every contract call
type revertingNode struct{}

func (revertingNode) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, errors.New("execution reverted")
}

func (revertingNode) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil), nil
}

func testConfig() config.Config {
	return config.Config{
		RequestTimeout:          5 * time.Second,
		RPCMaxPasses:            1,
		FanoutLimit:             4,
		CircuitFailureThreshold: 5,
		CircuitResetDelay:       time.Second,
	}
}

func newTestApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	logger, _ := test.NewNullLogger()

	oracle := price.StaticOracle{types.ChainEthereum: {
		"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2": decimal.NewFromInt(3000),
	}}
	a, err := New(cfg,
		WithDialer(func(context.Context, string) (query.Caller, error) { return revertingNode{}, nil }),
		WithOracle(oracle),
		WithRegisterer(prometheus.NewRegistry()),
		WithLogger(logger),
	)
	require.NoError(t, err)
	return a
}

func TestWalletBalanceEndToEnd(t *testing.T) {
	a := newTestApp(t, testConfig())

	tokens := a.Dispatcher.GetWalletBalance(context.Background(), types.ChainEthereum, "0x00000000000000000000000000000000000000aa")
	require.Len(t, tokens, 1, "every token read reverts, only the native balance remains")

	eth := tokens[0]
	assert.Equal(t, model.KindNative, eth.Kind)
	assert.True(t, eth.Balance.Equal(decimal.NewFromInt(1)))
	assert.True(t, eth.Price.Equal(decimal.NewFromInt(3000)))
}

func TestEveryCatalogProjectHasHandler(t *testing.T) {
	a := newTestApp(t, testConfig())

	for _, chain := range a.Chains.Enabled() {
		assert.ElementsMatch(t, catalog.Projects(chain), a.Dispatcher.Projects(chain), "chain %s", chain)
	}
}

func TestSigningWiring(t *testing.T) {
	cfg := testConfig()
	assert.Nil(t, newTestApp(t, cfg).Signer)

	cfg.SigningEnabled = true
	a := newTestApp(t, cfg)
	require.NotNil(t, a.Signer)
	assert.NotEmpty(t, a.Signer.Address())
}

func TestBadChainsFile(t *testing.T) {
	cfg := testConfig()
	cfg.ChainsFile = "/does/not/exist.json"
	_, err := New(cfg, WithRegisterer(nil))
	assert.Error(t, err)
}

func TestRateLimitsFallBackToDefault(t *testing.T) {
	chains := config.ChainRegistry{
		types.ChainEthereum: {Enabled: true, RateLimit: 5},
		types.ChainBSC:      {Enabled: true},
	}
	limits := rateLimits(chains, 2)
	assert.Equal(t, 5.0, limits[types.ChainEthereum])
	assert.Equal(t, 2.0, limits[types.ChainBSC])
}

func TestBalancesReport(t *testing.T) {
	a := newTestApp(t, testConfig())
	wallet := "0x00000000000000000000000000000000000000aa"

	r := a.Balances(context.Background(), types.ChainEthereum, wallet, "")
	assert.Equal(t, ProjectAll, r.Project)
	require.Len(t, r.Tokens, 1)
	assert.True(t, r.Summary.Net.Equal(decimal.NewFromInt(3000)))

	unknown := a.Balances(context.Background(), types.ChainEthereum, wallet, "nope")
	assert.NotNil(t, unknown.Tokens)
	assert.Empty(t, unknown.Tokens)
}

func TestBalancesAreExported(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.ExportWebhookURL = srv.URL
	cfg.ExportBatchSize = 10
	cfg.ExportInterval = time.Hour

	a := newTestApp(t, cfg)
	require.NotNil(t, a.Exporter)

	a.Balances(context.Background(), types.ChainEthereum, "0x00000000000000000000000000000000000000aa", "wallet")
	assert.Equal(t, 1, a.Exporter.Status()["pending"])

	a.Close()
	assert.Equal(t, int32(1), received.Load())
}
