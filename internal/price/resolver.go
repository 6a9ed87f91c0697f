package price

import (
	"context"
	"errors"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/yourorg/wallet-valuation/internal/metrics"
	"github.com/yourorg/wallet-valuation/internal/model"
	"github.com/yourorg/wallet-valuation/internal/types"
)

var (
	// ErrNoPrice is returned when no source knows the price of a token
	ErrNoPrice = errors.New("no price available")
	// ErrNotComposite is returned by a CompositePricer for addresses it does
	// not recognize as a pool or vault share
	ErrNotComposite = errors.New("not a composite share")
	// ErrIncomplete marks a price built from constituents that could not all
	// be read. Such prices are served but never cached.
	ErrIncomplete = errors.New("price incomplete")
)

// CompositePricer prices pool and vault shares from their constituents.
// It returns ErrNotComposite when address is not a share it recognizes. Any
// other error means price is a best effort that must not be cached.
type CompositePricer interface {
	PriceOf(ctx context.Context, chain types.SupportedChain, address string, decimals int) (price decimal.Decimal, err error)
}

// Transient reports whether err from LookupPrice may go away on retry. A
// definitive "no price" answer is not transient.
func Transient(err error) bool {
	return err != nil && !errors.Is(err, ErrNoPrice)
}

// Resolver answers price lookups through the cache, the alias table, the
// composite pricer and finally the oracle
type Resolver struct {
	cache     *Cache
	aliases   AliasTable
	oracle    Oracle
	composite CompositePricer
	log       logrus.FieldLogger
	metrics   *metrics.Metrics
	flight    singleflight.Group
}

// NewResolver creates a resolver. Oracle may be nil for offline use.
func NewResolver(cache *Cache, aliases AliasTable, oracle Oracle, log logrus.FieldLogger, m *metrics.Metrics) *Resolver {
	if cache == nil {
		cache = NewCache()
	}
	if aliases == nil {
		aliases = AliasTable{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Resolver{
		cache:   cache,
		aliases: aliases,
		oracle:  oracle,
		log:     log,
		metrics: m,
	}
}

// RegisterComposite installs the pricer consulted on cache misses. The
// valuation engine registers itself here at wiring time.
func (r *Resolver) RegisterComposite(c CompositePricer) {
	r.composite = c
}

// Cache returns the underlying price cache.
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// GetTokenPrice returns the USD price of one token unit, or zero when no
// source can price it. decimals is forwarded to the composite pricer for
// shares whose decimals cannot be read on chain.
func (r *Resolver) GetTokenPrice(ctx context.Context, chain types.SupportedChain, address string, decimals int) decimal.Decimal {
	p, err := r.LookupPrice(ctx, chain, address, decimals)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"chain":   chain,
			"address": address,
		}).Debugf("No price: %v", err)
	}
	return p
}

// LookupPrice is GetTokenPrice with the failure exposed. On error the
// returned price is zero, or a partial composite price when err wraps
// ErrIncomplete; neither is cached.
func (r *Resolver) LookupPrice(ctx context.Context, chain types.SupportedChain, address string, decimals int) (decimal.Decimal, error) {
	if p, ok := r.cache.Get(chain, address); ok {
		r.metrics.PriceLookup("cache")
		return p, nil
	}

	target := r.aliases.Resolve(chain, address)
	if target != model.NormalizeAddress(address) {
		if p, ok := r.cache.Get(chain, target); ok {
			r.metrics.PriceLookup("cache")
			r.cache.Set(chain, address, p)
			return p, nil
		}
	}

	if r.composite != nil {
		p, err := r.composite.PriceOf(ctx, chain, target, decimals)
		switch {
		case err == nil:
			r.metrics.PriceLookup("composite")
			r.store(chain, address, target, p)
			return p, nil
		case !errors.Is(err, ErrNotComposite):
			r.metrics.PriceLookup("incomplete")
			return p, err
		}
	}

	p, err := r.fromOracle(ctx, chain, target)
	if err != nil {
		r.metrics.PriceLookup("miss")
		return decimal.Zero, err
	}
	r.metrics.PriceLookup("oracle")
	r.store(chain, address, target, p)
	return p, nil
}

func (r *Resolver) store(chain types.SupportedChain, address, target string, p decimal.Decimal) {
	r.cache.Set(chain, target, p)
	if target != model.NormalizeAddress(address) {
		r.cache.Set(chain, address, p)
	}
}

// fromOracle collapses concurrent lookups of the same token into one request.
// A definitive "unknown token" answer is cached as zero, failures are not.
func (r *Resolver) fromOracle(ctx context.Context, chain types.SupportedChain, address string) (decimal.Decimal, error) {
	if r.oracle == nil {
		return decimal.Zero, ErrNoPrice
	}

	v, err, _ := r.flight.Do(string(chain)+":"+address, func() (interface{}, error) {
		prices, err := r.oracle.Prices(ctx, chain, []string{address})
		if err != nil {
			return nil, err
		}
		p, ok := prices[address]
		if !ok {
			r.cache.Set(chain, address, decimal.Zero)
			return nil, ErrNoPrice
		}
		return p, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

// UpdatePrice overwrites the cached price of data.Address.
func (r *Resolver) UpdatePrice(chain types.SupportedChain, data Data) {
	if data.Price.IsNegative() {
		return
	}
	r.cache.Set(chain, data.Address, data.Price)
}

// Prefetch warms the cache with one oracle request for every uncached address.
func (r *Resolver) Prefetch(ctx context.Context, chain types.SupportedChain, addresses []string) error {
	if r.oracle == nil {
		return nil
	}

	targets := lo.Uniq(lo.FilterMap(addresses, func(a string, _ int) (string, bool) {
		if _, ok := r.cache.Get(chain, a); ok {
			return "", false
		}
		return r.aliases.Resolve(chain, a), true
	}))
	if len(targets) == 0 {
		return nil
	}

	prices, err := r.oracle.Prices(ctx, chain, targets)
	if err != nil {
		return err
	}
	for _, a := range addresses {
		if p, ok := prices[r.aliases.Resolve(chain, a)]; ok {
			r.store(chain, a, r.aliases.Resolve(chain, a), p)
		}
	}
	return nil
}
