// Package dispatch resolves (chain, project) pairs to balance handlers and runs them.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourorg/wallet-valuation/internal/catalog"
	"github.com/yourorg/wallet-valuation/internal/model"
	"github.com/yourorg/wallet-valuation/internal/telemetry"
	"github.com/yourorg/wallet-valuation/internal/types"
)

// Handler discovers one protocol's positions of a wallet. It returns what it
// found even when some step failed; err describes the failed steps.
type Handler interface {
	Get(ctx context.Context, wallet string) ([]model.Token, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, wallet string) ([]model.Token, error)

// Get calls f.
func (f HandlerFunc) Get(ctx context.Context, wallet string) ([]model.Token, error) {
	return f(ctx, wallet)
}

// Registry maps each chain's project names to handlers
type Registry map[types.SupportedChain]map[string]Handler

// Register adds a handler.
func (r Registry) Register(chain types.SupportedChain, project string, h Handler) {
	if r[chain] == nil {
		r[chain] = make(map[string]Handler)
	}
	r[chain][project] = h
}

// Dispatcher runs project handlers with an outer deadline
type Dispatcher struct {
	registry Registry
	valid    func(chain types.SupportedChain, project string) bool
	projects func(chain types.SupportedChain) []string
	timeout  time.Duration
	fanout   int
	log      logrus.FieldLogger
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithTimeout bounds each top-level request. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(ds *Dispatcher) {
		ds.timeout = d
	}
}

// WithFanout bounds concurrent handlers in GetAllBalances.
func WithFanout(n int) Option {
	return func(ds *Dispatcher) {
		ds.fanout = n
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l logrus.FieldLogger) Option {
	return func(ds *Dispatcher) {
		ds.log = l
	}
}

// WithProjectCatalog replaces the project catalog used for validation.
func WithProjectCatalog(valid func(types.SupportedChain, string) bool, list func(types.SupportedChain) []string) Option {
	return func(ds *Dispatcher) {
		ds.valid = valid
		ds.projects = list
	}
}

// New creates a dispatcher over registry.
func New(registry Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		valid:    catalog.IsProject,
		projects: catalog.Projects,
		timeout:  60 * time.Second,
		fanout:   16,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Projects lists the projects of chain that have a handler.
func (d *Dispatcher) Projects(chain types.SupportedChain) []string {
	var out []string
	for _, p := range d.projects(chain) {
		if _, ok := d.registry[chain][p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// GetProjectBalance returns the positions of wallet in project. Unknown
// projects and failing handlers degrade to empty or partial results.
func (d *Dispatcher) GetProjectBalance(ctx context.Context, chain types.SupportedChain, wallet, project string) []model.Token {
	ctx, cancel := d.withDeadline(ctx)
	defer cancel()
	return d.run(ctx, chain, wallet, project)
}

// GetWalletBalance returns the tokens held directly by wallet.
func (d *Dispatcher) GetWalletBalance(ctx context.Context, chain types.SupportedChain, wallet string) []model.Token {
	return d.GetProjectBalance(ctx, chain, wallet, catalog.ProjectWallet)
}

// GetAllBalances runs every project of chain, at most fanout at a time.
// Results keep the catalog's project order.
func (d *Dispatcher) GetAllBalances(ctx context.Context, chain types.SupportedChain, wallet string) []model.Token {
	ctx, cancel := d.withDeadline(ctx)
	defer cancel()

	projects := d.Projects(chain)
	tokens, _ := Collect(ctx, d.fanout, projects, func(ctx context.Context, project string) ([]model.Token, error) {
		return d.run(ctx, chain, wallet, project), nil
	})
	return tokens
}

func (d *Dispatcher) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.timeout)
}

func (d *Dispatcher) run(ctx context.Context, chain types.SupportedChain, wallet, project string) []model.Token {
	log := d.log.WithFields(logrus.Fields{
		"chain":   chain,
		"project": project,
		"wallet":  wallet,
	})

	if !d.valid(chain, project) {
		log.Warn("Unknown project for chain")
		return []model.Token{}
	}
	h, ok := d.registry[chain][project]
	if !ok {
		log.Warn("No handler registered for project")
		return []model.Token{}
	}

	ctx, span := telemetry.Tracer().Start(ctx, "dispatch.GetProjectBalance", trace.WithAttributes(
		attribute.String("chain", string(chain)),
		attribute.String("project", project),
	))
	defer span.End()

	started := time.Now()
	tokens, err := safeGet(ctx, h, wallet)
	if err != nil {
		telemetry.RecordError(ctx, err)
		log.WithField("kept", len(tokens)).Warnf("Project handler failed: %v", err)
	}
	log.WithField("duration", time.Since(started)).Debugf("Found %d positions", len(tokens))

	if tokens == nil {
		tokens = []model.Token{}
	}
	return tokens
}

// safeGet converts a handler panic into an error. Positions the handler
// returned before a panic are lost, so handlers should not panic.
func safeGet(ctx context.Context, h Handler, wallet string) (tokens []model.Token, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
		}
	}()
	return h.Get(ctx, wallet)
}
