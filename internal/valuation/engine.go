// Package valuation classifies raw token balances into token shapes and prices
// them, recursing through pool reserves, virtual prices and exchange rates down
// to leaf tokens whose prices are directly observable.
package valuation

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourorg/wallet-valuation/internal/catalog"
	"github.com/yourorg/wallet-valuation/internal/metrics"
	"github.com/yourorg/wallet-valuation/internal/model"
	"github.com/yourorg/wallet-valuation/internal/multicall"
	"github.com/yourorg/wallet-valuation/internal/price"
	"github.com/yourorg/wallet-valuation/internal/query"
	"github.com/yourorg/wallet-valuation/internal/telemetry"
	"github.com/yourorg/wallet-valuation/internal/types"
)

// DefaultMaxDepth bounds how many nested shares a price walk may descend.
const DefaultMaxDepth = 6

// PriceSource prices leaf and composite tokens. A transient error (see
// price.Transient) comes with a best-effort price.
type PriceSource interface {
	LookupPrice(ctx context.Context, chain types.SupportedChain, address string, decimals int) (decimal.Decimal, error)
}

// Prober sends batched reads, used to detect the interface of unknown tokens
type Prober interface {
	Query(ctx context.Context, chain types.SupportedChain, calls []multicall.Call) (map[string]multicall.CallResult, error)
}

// ChainSource exposes chain metadata
type ChainSource interface {
	Get(chain types.SupportedChain) (types.ChainConfig, bool)
}

// Request describes one balance to classify and price
type Request struct {
	Chain    types.SupportedChain
	Location string
	Status   model.Status
	Owner    string
	Address  string
	Raw      *big.Int

	// Optional protocol details attached to composite tokens
	Info *model.Info
}

func (r Request) position() model.Position {
	status := r.Status
	if status == "" {
		status = model.StatusNone
	}
	location := r.Location
	if location == "" {
		location = model.LocationWallet
	}
	return model.Position{
		Chain:    r.Chain,
		Location: location,
		Status:   status,
		Owner:    r.Owner,
	}
}

// Engine is the token valuation engine
type Engine struct {
	q          query.Querier
	probe      Prober
	prices     PriceSource
	chains     ChainSource
	strategies StrategyTable
	log        logrus.FieldLogger
	metrics    *metrics.Metrics
	maxDepth   int

	// Token metadata and detected shapes never change, so both are memoized
	meta   sync.Map
	shapes sync.Map
}

var _ price.CompositePricer = (*Engine)(nil)

// Option configures an Engine
type Option func(*Engine)

// WithStrategies replaces the default decomposition rules.
func WithStrategies(t StrategyTable) Option {
	return func(e *Engine) {
		e.strategies = t
	}
}

// WithProber enables batched interface detection of unknown tokens.
func WithProber(p Prober) Option {
	return func(e *Engine) {
		e.probe = p
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithMetrics counts produced tokens by kind.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithMaxDepth overrides DefaultMaxDepth.
func WithMaxDepth(depth int) Option {
	return func(e *Engine) {
		e.maxDepth = depth
	}
}

// New creates an engine.
func New(q query.Querier, prices PriceSource, chains ChainSource, opts ...Option) *Engine {
	e := &Engine{
		q:          q,
		prices:     prices,
		chains:     chains,
		strategies: DefaultStrategies(),
		log:        logrus.StandardLogger(),
		maxDepth:   DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ClassifyAndPrice turns a raw balance into a priced token. It never fails:
// shapes it cannot identify become zero-value placeholders.
func (e *Engine) ClassifyAndPrice(ctx context.Context, req Request) model.Token {
	ctx, span := telemetry.Tracer().Start(ctx, "valuation.ClassifyAndPrice", trace.WithAttributes(
		attribute.String("chain", string(req.Chain)),
		attribute.String("address", req.Address),
	))
	defer span.End()

	t := e.classify(ctx, req)
	e.metrics.TokenValued(string(t.Kind))
	return t
}

func (e *Engine) classify(ctx context.Context, req Request) model.Token {
	if isNative(req.Address) {
		return e.Native(ctx, req)
	}
	if spec, ok := e.strategies.Lookup(req.Chain, req.Address); ok {
		return e.bySpec(ctx, req, spec)
	}

	switch e.detect(ctx, req.Chain, req.Address) {
	case shapePair:
		return e.LPToken(ctx, req)
	case shapeERC20:
		return e.Token(ctx, req)
	}
	return e.unidentified(req, "no known interface")
}

func (e *Engine) bySpec(ctx context.Context, req Request, spec PoolSpec) model.Token {
	switch spec.Kind {
	case KindPair:
		return e.LPToken(ctx, req)
	case KindWeighted:
		return e.weightedToken(ctx, req, spec)
	case KindExchangeRate:
		return e.derivativeToken(ctx, req, spec)
	case KindStakedShare:
		return e.stakedShareToken(ctx, req, spec)
	default:
		return e.Token(ctx, req)
	}
}

// Native values the gas currency of a chain.
func (e *Engine) Native(ctx context.Context, req Request) model.Token {
	symbol := e.gasSymbol(req.Chain)
	p, _ := e.lookupPrice(ctx, req.Chain, model.NativeAddress, model.DefaultDecimals)
	return model.NewNative(
		req.position(),
		symbol,
		norm(req.Raw, model.DefaultDecimals),
		p,
		catalog.Logo(req.Chain, model.NativeAddress, symbol),
	)
}

// Token values a plain ERC20 balance.
func (e *Engine) Token(ctx context.Context, req Request) model.Token {
	m := e.metadata(ctx, req.Chain, req.Address, model.DefaultDecimals)
	p, _ := e.lookupPrice(ctx, req.Chain, req.Address, m.Decimals)
	return model.NewSimple(req.position(), m.Symbol, req.Address, norm(req.Raw, m.Decimals), p, m.Logo)
}

// DebtToken values a borrowed amount of req.Address, the borrowed asset.
func (e *Engine) DebtToken(ctx context.Context, req Request) model.Token {
	m := e.metadata(ctx, req.Chain, req.Address, model.DefaultDecimals)
	p, _ := e.lookupPrice(ctx, req.Chain, req.Address, m.Decimals)
	return model.NewDebt(req.position(), m.Symbol, req.Address, norm(req.Raw, m.Decimals), p, m.Logo)
}

// PriceOf prices one unit of a pool or vault share. It returns
// price.ErrNotComposite when address is not a share the engine knows how to
// decompose, and an error wrapping price.ErrIncomplete when a read or a
// constituent price failed.
func (e *Engine) PriceOf(ctx context.Context, chain types.SupportedChain, address string, decimals int) (decimal.Decimal, error) {
	if isNative(address) {
		return decimal.Zero, price.ErrNotComposite
	}

	spec, found := e.strategies.Lookup(chain, address)
	if found && spec.Kind == KindPlain {
		return decimal.Zero, price.ErrNotComposite
	}
	if !found && e.detect(ctx, chain, address) != shapePair {
		return decimal.Zero, price.ErrNotComposite
	}

	ctx, ok := e.descend(ctx)
	if !ok {
		e.log.WithFields(logrus.Fields{
			"chain":   chain,
			"address": address,
		}).Warn("Price walk too deep, pricing share at zero")
		return decimal.Zero, errTooDeep
	}

	switch spec.Kind {
	case KindWeighted:
		p, _, complete := e.weightedPrice(ctx, chain, address, spec, decimals)
		return p, incomplete(complete, address)
	case KindExchangeRate:
		d, ok := e.readDerivative(ctx, chain, address, spec, decimals)
		if !ok {
			return decimal.Zero, incomplete(false, address)
		}
		return d.rate.Mul(d.underlyingPrice), incomplete(d.complete, address)
	case KindStakedShare:
		s, ok := e.readStakedShare(ctx, chain, address, spec, decimals)
		if !ok {
			return decimal.Zero, incomplete(false, address)
		}
		return s.ratio.Mul(s.underlyingPrice), incomplete(s.complete, address)
	default:
		st, ok := e.readPair(ctx, chain, address, decimals)
		if !ok {
			return decimal.Zero, incomplete(false, address)
		}
		return st.perShare(), incomplete(st.complete, address)
	}
}

var errTooDeep = fmt.Errorf("%w: price walk too deep", price.ErrIncomplete)

func incomplete(complete bool, address string) error {
	if complete {
		return nil
	}
	return fmt.Errorf("%w: share %s", price.ErrIncomplete, address)
}

// lookupPrice returns the best known price of address. complete is false
// when a transient failure may have understated it.
func (e *Engine) lookupPrice(ctx context.Context, chain types.SupportedChain, address string, decimals int) (p decimal.Decimal, complete bool) {
	p, err := e.prices.LookupPrice(ctx, chain, address, decimals)
	return p, !price.Transient(err)
}

func (e *Engine) unidentified(req Request, reason string) model.Token {
	e.log.WithFields(logrus.Fields{
		"chain":    req.Chain,
		"address":  req.Address,
		"location": req.Location,
	}).Warnf("Unidentified token shape (%s), returning placeholder", reason)
	return model.NewPlaceholder(req.position(), req.Address)
}

func (e *Engine) gasSymbol(chain types.SupportedChain) string {
	if cfg, ok := e.chains.Get(chain); ok && cfg.GasSymbol != "" {
		return cfg.GasSymbol
	}
	return "ETH"
}

type depthKey struct{}

// descend enters one more level of a price walk.
func (e *Engine) descend(ctx context.Context) (context.Context, bool) {
	depth, _ := ctx.Value(depthKey{}).(int)
	if depth >= e.maxDepth {
		return ctx, false
	}
	return context.WithValue(ctx, depthKey{}, depth+1), true
}

// ethPlaceholder is used by some pools for the native coin.
const ethPlaceholder = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"

func isNative(address string) bool {
	a := strings.ToLower(address)
	return a == model.NativeAddress || a == ethPlaceholder
}
