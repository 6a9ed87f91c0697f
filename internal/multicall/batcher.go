// Package multicall batches independent contract reads into one tryAggregate round trip.
package multicall

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourorg/wallet-valuation/internal/abis"
	"github.com/yourorg/wallet-valuation/internal/metrics"
	"github.com/yourorg/wallet-valuation/internal/model"
	"github.com/yourorg/wallet-valuation/internal/query"
	"github.com/yourorg/wallet-valuation/internal/telemetry"
	"github.com/yourorg/wallet-valuation/internal/types"
)

var (
	// ErrNoMulticall is returned for chains without a multicall contract
	ErrNoMulticall = errors.New("no multicall contract configured")
	// ErrDuplicateReference is returned when two calls share a reference key
	ErrDuplicateReference = errors.New("duplicate call reference")
)

// Registry exposes chain metadata needed for batching
type Registry interface {
	Get(chain types.SupportedChain) (types.ChainConfig, bool)
}

// Call is one read in a batch, correlated back through Reference
type Call struct {
	Reference string
	Target    string
	ABI       *abi.ABI
	Method    string
	Args      []interface{}
}

// CallResult is the independent outcome of one Call
type CallResult struct {
	Success bool
	Values  []interface{}
}

// Result adapts the call outcome to the executor's result accessors.
func (c CallResult) Result() query.Result {
	if !c.Success {
		return query.Result{Status: query.StatusFailed}
	}
	return query.Result{Status: query.StatusOK, Values: c.Values}
}

type aggregateCall struct {
	Target   common.Address
	CallData []byte
}

type aggregateResult struct {
	Success    bool
	ReturnData []byte
}

// Batcher sends batches to the primary endpoint of a chain. There is no
// failover here, a transport failure fails the whole batch.
type Batcher struct {
	registry Registry
	pool     *query.Pool
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
}

// NewBatcher creates a batcher.
func NewBatcher(registry Registry, pool *query.Pool, log logrus.FieldLogger, m *metrics.Metrics) *Batcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Batcher{
		registry: registry,
		pool:     pool,
		log:      log,
		metrics:  m,
	}
}

// Query executes calls in one aggregated read. The returned map has exactly one
// entry per call, keyed by its Reference.
func (b *Batcher) Query(ctx context.Context, chain types.SupportedChain, calls []Call) (map[string]CallResult, error) {
	results := make(map[string]CallResult, len(calls))
	if len(calls) == 0 {
		return results, nil
	}

	ctx, span := telemetry.Tracer().Start(ctx, "multicall.Query", trace.WithAttributes(
		attribute.String("chain", string(chain)),
		attribute.Int("calls", len(calls)),
	))
	defer span.End()

	cfg, found := b.registry.Get(chain)
	if !found || cfg.MulticallAddress == "" {
		return nil, fmt.Errorf("%s: %w", chain, ErrNoMulticall)
	}
	if cfg.PrimaryEndpoint() == "" {
		return nil, fmt.Errorf("%s: %w", chain, query.ErrNoEndpoints)
	}

	// Calls that cannot be encoded fail locally and are left out of the batch
	batch := make([]aggregateCall, 0, len(calls))
	sent := make([]int, 0, len(calls))
	for i, c := range calls {
		if _, dup := results[c.Reference]; dup {
			return nil, fmt.Errorf("%q: %w", c.Reference, ErrDuplicateReference)
		}
		results[c.Reference] = CallResult{}

		data, err := c.ABI.Pack(c.Method, c.Args...)
		if err != nil {
			b.log.WithFields(logrus.Fields{
				"chain":     chain,
				"reference": c.Reference,
				"method":    c.Method,
			}).Debugf("Skipping unencodable call: %v", err)
			continue
		}
		batch = append(batch, aggregateCall{Target: common.HexToAddress(c.Target), CallData: data})
		sent = append(sent, i)
	}
	if len(batch) == 0 {
		return results, nil
	}

	returned, err := b.aggregate(ctx, cfg, batch)
	b.metrics.ObserveMulticall(string(chain), len(batch), err == nil)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("multicall on %s: %w", chain, err)
	}
	if len(returned) != len(batch) {
		return nil, fmt.Errorf("multicall on %s: got %d results for %d calls", chain, len(returned), len(batch))
	}

	for j, r := range returned {
		c := calls[sent[j]]
		if !r.Success || len(r.ReturnData) == 0 {
			continue
		}
		values, err := c.ABI.Unpack(c.Method, r.ReturnData)
		if err != nil {
			continue
		}
		results[c.Reference] = CallResult{Success: true, Values: values}
	}

	return results, nil
}

func (b *Batcher) aggregate(ctx context.Context, cfg types.ChainConfig, batch []aggregateCall) ([]aggregateResult, error) {
	client, err := b.pool.Client(ctx, cfg.PrimaryEndpoint())
	if err != nil {
		return nil, err
	}

	data, err := abis.Multicall.Pack("tryAggregate", false, batch)
	if err != nil {
		return nil, fmt.Errorf("pack tryAggregate: %w", err)
	}

	to := common.HexToAddress(cfg.MulticallAddress)
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}

	unpacked, err := abis.Multicall.Unpack("tryAggregate", out)
	if err != nil {
		return nil, fmt.Errorf("unpack tryAggregate: %w", err)
	}
	if len(unpacked) != 1 {
		return nil, fmt.Errorf("unpack tryAggregate: unexpected output count %d", len(unpacked))
	}

	converted := abi.ConvertType(unpacked[0], new([]aggregateResult))
	results, ok := converted.(*[]aggregateResult)
	if !ok {
		return nil, fmt.Errorf("unpack tryAggregate: unexpected output type %T", unpacked[0])
	}
	return *results, nil
}

// TokenRef identifies a token in a balance sweep
type TokenRef struct {
	Symbol   string
	Address  string
	Decimals int
}

// Holding is a non-zero raw balance found by BalanceSweep
type Holding struct {
	Token TokenRef
	Raw   *big.Int
}

// BalanceSweep checks which of tokens owner holds with a single round trip.
// Failed and zero reads are dropped.
func (b *Batcher) BalanceSweep(ctx context.Context, chain types.SupportedChain, owner string, tokens []TokenRef) ([]Holding, error) {
	calls := make([]Call, 0, len(tokens))
	byRef := make(map[string]TokenRef, len(tokens))
	for _, t := range tokens {
		ref := model.NormalizeAddress(t.Address)
		if _, dup := byRef[ref]; dup {
			continue
		}
		byRef[ref] = t
		calls = append(calls, Call{
			Reference: ref,
			Target:    t.Address,
			ABI:       abis.ERC20,
			Method:    "balanceOf",
			Args:      []interface{}{common.HexToAddress(owner)},
		})
	}

	results, err := b.Query(ctx, chain, calls)
	if err != nil {
		return nil, err
	}

	var holdings []Holding
	for _, c := range calls {
		raw := results[c.Reference].Result().BigInt(0)
		if raw.Sign() <= 0 {
			continue
		}
		holdings = append(holdings, Holding{Token: byRef[c.Reference], Raw: raw})
	}
	return holdings, nil
}
