// Package query issues read-only contract calls with endpoint failover.
package query

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/yourorg/wallet-valuation/internal/metrics"
	"github.com/yourorg/wallet-valuation/internal/telemetry"
	"github.com/yourorg/wallet-valuation/internal/types"
)

// ErrNoEndpoints is returned for chains without configured RPC endpoints
var ErrNoEndpoints = errors.New("no rpc endpoints configured")

// EndpointSource supplies the ordered RPC endpoint list of a chain
type EndpointSource interface {
	Endpoints(chain types.SupportedChain) []string
}

// Querier is the contract-read surface consumed by the valuation engine and handlers
type Querier interface {
	Query(ctx context.Context, chain types.SupportedChain, address string, contract *abi.ABI, method string, args ...interface{}) Result
	Balance(ctx context.Context, chain types.SupportedChain, address string) Result
}

// Policy is the bounded-retry policy: MaxPasses full traversals of the
// endpoint list, so at most len(endpoints)*MaxPasses attempts per read.
type Policy struct {
	MaxPasses  int
	PassDelay  time.Duration
	Suppressed func(chain types.SupportedChain, address string) bool
}

// DefaultPolicy returns three passes and the static suppression list.
func DefaultPolicy() Policy {
	return Policy{
		MaxPasses:  3,
		Suppressed: IsSuppressed,
	}
}

// Executor issues a single contract read against a chain's endpoint list
type Executor struct {
	endpoints EndpointSource
	pool      *Pool
	policy    Policy
	log       logrus.FieldLogger
	metrics   *metrics.Metrics
	limiters  map[types.SupportedChain]*rate.Limiter
}

// Option configures an Executor
type Option func(*Executor)

// WithPolicy overrides the retry policy.
func WithPolicy(p Policy) Option {
	return func(e *Executor) {
		e.policy = p
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Executor) {
		e.log = l
	}
}

// WithMetrics records attempts and abandonments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithRateLimits caps calls per second per chain. Zero means unlimited.
func WithRateLimits(limits map[types.SupportedChain]float64) Option {
	return func(e *Executor) {
		for chain, rps := range limits {
			if rps > 0 {
				e.limiters[chain] = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
			}
		}
	}
}

// NewExecutor creates an executor reading endpoints from src.
func NewExecutor(src EndpointSource, pool *Pool, opts ...Option) *Executor {
	e := &Executor{
		endpoints: src,
		pool:      pool,
		policy:    DefaultPolicy(),
		log:       logrus.StandardLogger(),
		limiters:  make(map[types.SupportedChain]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.policy.MaxPasses < 1 {
		e.policy.MaxPasses = 1
	}
	return e
}

type callFunc func(ctx context.Context, c Caller) ([]interface{}, error)

// Query calls method on the contract at address and decodes its outputs.
// Transport and decoding failures are retried alike; after every pass fails
// the result is StatusFailed (logged) or StatusAbsent (suppressed contract).
func (e *Executor) Query(ctx context.Context, chain types.SupportedChain, address string, contract *abi.ABI, method string, args ...interface{}) Result {
	ctx, span := telemetry.Tracer().Start(ctx, "query.Query", trace.WithAttributes(
		attribute.String("chain", string(chain)),
		attribute.String("address", address),
		attribute.String("method", method),
	))
	defer span.End()

	data, err := contract.Pack(method, args...)
	if err != nil {
		// Encoding is deterministic, no endpoint can fix it
		return failed(fmt.Errorf("pack %s: %w", method, err))
	}
	to := common.HexToAddress(address)

	r := e.run(ctx, chain, address, method, func(ctx context.Context, c Caller) ([]interface{}, error) {
		out, err := c.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		if err != nil {
			return nil, err
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("%s: empty return data", method)
		}
		return contract.Unpack(method, out)
	})
	telemetry.RecordError(ctx, r.Err)
	return r
}

// Balance reads the native balance of address with the same failover policy.
func (e *Executor) Balance(ctx context.Context, chain types.SupportedChain, address string) Result {
	account := common.HexToAddress(address)
	return e.run(ctx, chain, address, "eth_getBalance", func(ctx context.Context, c Caller) ([]interface{}, error) {
		bal, err := c.BalanceAt(ctx, account, nil)
		if err != nil {
			return nil, err
		}
		return []interface{}{bal}, nil
	})
}

func (e *Executor) run(ctx context.Context, chain types.SupportedChain, address, method string, call callFunc) Result {
	endpoints := e.endpoints.Endpoints(chain)
	if len(endpoints) == 0 {
		return absent(fmt.Errorf("%s: %w", chain, ErrNoEndpoints))
	}

	total := len(endpoints) * e.policy.MaxPasses
	var lastErr error

	for attempt := 0; attempt < total; attempt++ {
		rpcID := attempt % len(endpoints)
		if rpcID == 0 && attempt > 0 && e.policy.PassDelay > 0 {
			select {
			case <-ctx.Done():
				return failed(ctx.Err())
			case <-time.After(e.policy.PassDelay):
			}
		}
		if err := ctx.Err(); err != nil {
			return failed(err)
		}
		if lim, ok := e.limiters[chain]; ok {
			if err := lim.Wait(ctx); err != nil {
				return failed(err)
			}
		}

		values, err := e.attempt(ctx, endpoints[rpcID], call)
		e.metrics.ObserveRPC(string(chain), err == nil)
		if err == nil {
			return ok(values)
		}
		lastErr = err
	}

	suppressed := e.policy.Suppressed != nil && e.policy.Suppressed(chain, address)
	e.metrics.RPCAbandoned(string(chain), suppressed)
	err := fmt.Errorf("%s %s on %s: abandoned after %d attempts: %w", address, method, chain, total, lastErr)
	if suppressed {
		return absent(err)
	}

	e.log.WithFields(logrus.Fields{
		"chain":    chain,
		"address":  address,
		"method":   method,
		"attempts": total,
	}).Warnf("Contract query failed: %v", lastErr)
	return failed(err)
}

func (e *Executor) attempt(ctx context.Context, url string, call callFunc) ([]interface{}, error) {
	client, err := e.pool.Client(ctx, url)
	if err != nil {
		return nil, err
	}
	return call(ctx, client)
}

// suppressed lists contracts known to revert or time out on most nodes.
var suppressed = map[types.SupportedChain]map[string]struct{}{
	types.ChainEthereum: {
		"0x57ab1e02fee23774580c119740129eac7081e9d3": {}, // retired sUSD proxy
		"0xc011a72400e58ecd99ee497cf89e3775d4bd732f": {}, // retired SNX proxy
	},
}

// IsSuppressed reports whether failures of address on chain are expected.
func IsSuppressed(chain types.SupportedChain, address string) bool {
	set, ok := suppressed[chain]
	if !ok {
		return false
	}
	_, found := set[strings.ToLower(address)]
	return found
}

// ZeroIfAbsent returns the integer output of r, treating any failure as zero.
func ZeroIfAbsent(r Result) *big.Int {
	return r.BigInt(0)
}
