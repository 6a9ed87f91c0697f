// Package app assembles the valuation stack from configuration.
package app

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/wallet-valuation/internal/circuitbreaker"
	"github.com/yourorg/wallet-valuation/internal/config"
	"github.com/yourorg/wallet-valuation/internal/dispatch"
	"github.com/yourorg/wallet-valuation/internal/export"
	"github.com/yourorg/wallet-valuation/internal/metrics"
	"github.com/yourorg/wallet-valuation/internal/multicall"
	"github.com/yourorg/wallet-valuation/internal/price"
	"github.com/yourorg/wallet-valuation/internal/projects"
	"github.com/yourorg/wallet-valuation/internal/query"
	"github.com/yourorg/wallet-valuation/internal/security"
	"github.com/yourorg/wallet-valuation/internal/types"
	"github.com/yourorg/wallet-valuation/internal/validation"
	"github.com/yourorg/wallet-valuation/internal/valuation"
)

// App holds the wired components shared by the server and the CLI
type App struct {
	Config  config.Config
	Chains  config.ChainRegistry
	Metrics *metrics.Metrics

	Executor   *query.Executor
	Batcher    *multicall.Batcher
	Resolver   *price.Resolver
	Oracle     *price.GuardedOracle
	Breaker    *circuitbreaker.CircuitBreaker
	Engine     *valuation.Engine
	Dispatcher *dispatch.Dispatcher

	// Nil unless signing is enabled
	Signer *security.ReportSigner

	// Nil unless a webhook is configured
	Exporter *export.Exporter

	Filters validation.Options
}

// Option customizes wiring, mostly for tests
type Option func(*wiring)

type wiring struct {
	dial     query.DialFunc
	oracle   price.Oracle
	registry prometheus.Registerer
	log      logrus.FieldLogger
}

// WithDialer replaces the go-ethereum RPC dialer.
func WithDialer(dial query.DialFunc) Option {
	return func(w *wiring) {
		w.dial = dial
	}
}

// WithOracle replaces the HTTP price oracle.
func WithOracle(o price.Oracle) Option {
	return func(w *wiring) {
		w.oracle = o
	}
}

// WithRegisterer registers metrics on reg; nil disables metrics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(w *wiring) {
		w.registry = reg
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(l logrus.FieldLogger) Option {
	return func(w *wiring) {
		w.log = l
	}
}

// New wires the full stack from cfg.
func New(cfg config.Config, opts ...Option) (*App, error) {
	w := &wiring{
		dial:     query.DialEthClient,
		registry: prometheus.DefaultRegisterer,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}

	chains, err := config.LoadChainRegistry(cfg.ChainsFile)
	if err != nil {
		return nil, fmt.Errorf("load chain registry: %w", err)
	}

	var m *metrics.Metrics
	if w.registry != nil {
		m = metrics.New(w.registry)
	}

	pool := query.NewPool(w.dial)
	policy := query.DefaultPolicy()
	policy.MaxPasses = cfg.RPCMaxPasses
	policy.PassDelay = cfg.RPCPassDelay

	executor := query.NewExecutor(chains, pool,
		query.WithPolicy(policy),
		query.WithLogger(w.log),
		query.WithMetrics(m),
		query.WithRateLimits(rateLimits(chains, cfg.RPCRateLimit)),
	)
	batcher := multicall.NewBatcher(chains, pool, w.log, m)

	breaker := circuitbreaker.New(circuitbreaker.Thresholds{
		FailureThreshold: cfg.CircuitFailureThreshold,
	}).WithResetDelay(cfg.CircuitResetDelay).WithTripCallback(func(reason string) {
		w.log.Warnf("Price oracle circuit opened: %s", reason)
	})
	if w.oracle == nil {
		w.oracle = price.NewLlamaOracle(cfg.PriceAPIURL, w.log)
	}
	oracle := price.NewGuardedOracle(w.oracle, breaker)

	resolver := price.NewResolver(price.NewCache(), price.DefaultAliases(chains), oracle, w.log, m)
	engine := valuation.New(executor, resolver, chains,
		valuation.WithProber(batcher),
		valuation.WithLogger(w.log),
		valuation.WithMetrics(m),
	)
	resolver.RegisterComposite(engine)

	registry := projects.Registry(projects.Deps{
		Querier: executor,
		Batch:   batcher,
		Valuer:  engine,
		Prices:  resolver,
		Log:     w.log,
		Fanout:  cfg.FanoutLimit,
	}, chains.Enabled())

	dispatcher := dispatch.New(registry,
		dispatch.WithTimeout(cfg.RequestTimeout),
		dispatch.WithFanout(cfg.FanoutLimit),
		dispatch.WithLogger(w.log),
	)

	a := &App{
		Config:     cfg,
		Chains:     chains,
		Metrics:    m,
		Executor:   executor,
		Batcher:    batcher,
		Resolver:   resolver,
		Oracle:     oracle,
		Breaker:    breaker,
		Engine:     engine,
		Dispatcher: dispatcher,
		Filters:    validation.DefaultOptions(),
	}
	a.Filters.MinValue = decimal.NewFromFloat(cfg.MinTokenValue)

	if cfg.SigningEnabled {
		signer, err := security.NewReportSigner(security.Options{PrivateKeyHex: cfg.SigningKey})
		if err != nil {
			return nil, fmt.Errorf("report signer: %w", err)
		}
		a.Signer = signer
	}

	a.Exporter = export.New(export.Config{
		URL:       cfg.ExportWebhookURL,
		APIKey:    cfg.ExportAPIKey,
		BatchSize: cfg.ExportBatchSize,
		Interval:  cfg.ExportInterval,
	}, w.log)

	w.log.WithFields(logrus.Fields{
		"chains":       len(chains.Enabled()),
		"max_passes":   policy.MaxPasses,
		"fanout":       cfg.FanoutLimit,
		"timeout":      cfg.RequestTimeout,
		"price_source": cfg.PriceAPIURL,
		"signing":      a.Signer != nil,
		"export":       a.Exporter != nil,
	}).Info("Valuation stack initialized")

	return a, nil
}

// Close flushes pending exports.
func (a *App) Close() {
	a.Exporter.Stop()
}

// rateLimits merges per-chain limits with the global default.
func rateLimits(chains config.ChainRegistry, fallback float64) map[types.SupportedChain]float64 {
	limits := make(map[types.SupportedChain]float64, len(chains))
	for chain, cfg := range chains {
		limits[chain] = cfg.RateLimit
		if limits[chain] <= 0 {
			limits[chain] = fallback
		}
	}
	return limits
}
