package price

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/yourorg/wallet-valuation/internal/circuitbreaker"
	"github.com/yourorg/wallet-valuation/internal/model"
	"github.com/yourorg/wallet-valuation/internal/types"
)

// Oracle observes prices of leaf tokens directly. Addresses it has no price
// for are missing from the returned map; err is reserved for failed lookups.
type Oracle interface {
	Prices(ctx context.Context, chain types.SupportedChain, addresses []string) (map[string]decimal.Decimal, error)
}

// llamaChains maps chains to the price API's chain prefixes
var llamaChains = map[types.SupportedChain]string{
	types.ChainEthereum:  "ethereum",
	types.ChainBSC:       "bsc",
	types.ChainPolygon:   "polygon",
	types.ChainFantom:    "fantom",
	types.ChainAvalanche: "avax",
	types.ChainArbitrum:  "arbitrum",
	types.ChainOptimism:  "optimism",
	types.ChainCronos:    "cronos",
}

// maxCoinsPerRequest keeps request URLs well below common length limits.
const maxCoinsPerRequest = 50

// LlamaOracle reads current prices from a DefiLlama-compatible coins API
type LlamaOracle struct {
	baseURL    string
	httpClient *http.Client
	log        logrus.FieldLogger
}

// NewLlamaOracle creates a price API client.
func NewLlamaOracle(baseURL string, log logrus.FieldLogger) *LlamaOracle {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LlamaOracle{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newRetryClient().StandardClient(),
		log:        log,
	}
}

// newRetryClient creates a new HTTP client with retry capabilities
func newRetryClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.HTTPClient.Timeout = 20 * time.Second
	c.Logger = nil
	return c
}

// Prices fetches the current USD price of each address.
func (o *LlamaOracle) Prices(ctx context.Context, chain types.SupportedChain, addresses []string) (map[string]decimal.Decimal, error) {
	prefix, ok := llamaChains[chain]
	if !ok {
		return nil, fmt.Errorf("price api: unsupported chain %s", chain)
	}

	out := make(map[string]decimal.Decimal, len(addresses))
	for _, chunk := range lo.Chunk(addresses, maxCoinsPerRequest) {
		if err := o.fetch(ctx, prefix, chunk, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (o *LlamaOracle) fetch(ctx context.Context, prefix string, addresses []string, out map[string]decimal.Decimal) error {
	coins := make([]string, 0, len(addresses))
	for _, a := range addresses {
		coins = append(coins, prefix+":"+model.NormalizeAddress(a))
	}

	url := fmt.Sprintf("%s/prices/current/%s", o.baseURL, strings.Join(coins, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	o.log.Debugf("Fetching %d prices from %s", len(coins), o.baseURL)
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error fetching prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("price api error: status %d, body: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response: %w", err)
	}
	coinsResult := gjson.GetBytes(body, "coins")
	if !coinsResult.IsObject() {
		return fmt.Errorf("error decoding response: missing coins object")
	}

	coinsResult.ForEach(func(coin, data gjson.Result) bool {
		_, addr, found := strings.Cut(coin.String(), ":")
		if !found {
			return true
		}
		price, err := decimal.NewFromString(data.Get("price").String())
		if err != nil || price.IsNegative() {
			return true
		}
		out[model.NormalizeAddress(addr)] = price
		return true
	})
	return nil
}

// StaticOracle serves fixed prices, keyed by chain and lowercase address
type StaticOracle map[types.SupportedChain]map[string]decimal.Decimal

// Prices returns the configured prices.
func (s StaticOracle) Prices(_ context.Context, chain types.SupportedChain, addresses []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(addresses))
	for _, a := range addresses {
		if p, ok := s[chain][model.NormalizeAddress(a)]; ok {
			out[model.NormalizeAddress(a)] = p
		}
	}
	return out, nil
}

// GuardedOracle skips the wrapped oracle while its circuit is open
type GuardedOracle struct {
	next    Oracle
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuardedOracle wraps next with breaker.
func NewGuardedOracle(next Oracle, breaker *circuitbreaker.CircuitBreaker) *GuardedOracle {
	return &GuardedOracle{next: next, breaker: breaker}
}

// Prices forwards to the wrapped oracle unless the circuit is open.
func (g *GuardedOracle) Prices(ctx context.Context, chain types.SupportedChain, addresses []string) (map[string]decimal.Decimal, error) {
	if err := g.breaker.Allow(); err != nil {
		return nil, err
	}
	prices, err := g.next.Prices(ctx, chain, addresses)
	if err != nil {
		// Caller cancellation says nothing about the oracle's health
		if !errors.Is(err, context.Canceled) {
			g.breaker.RecordFailure(err)
		}
		return nil, err
	}
	g.breaker.RecordSuccess()
	return prices, nil
}

// State reports the breaker state for status endpoints.
func (g *GuardedOracle) State() circuitbreaker.State {
	return g.breaker.GetState()
}
