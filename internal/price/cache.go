// Package price resolves USD prices for tokens and keeps a process-wide cache of them.
package price

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/yourorg/wallet-valuation/internal/model"
	"github.com/yourorg/wallet-valuation/internal/types"
)

// Data is one price record
type Data struct {
	Address string          `json:"address"`
	Price   decimal.Decimal `json:"price"`
}

type cacheKey struct {
	chain   types.SupportedChain
	address string
}

// Cache maps (chain, lowercase address) to the last known price. Entries are
// overwritten, never evicted. Safe for concurrent use; the last write wins.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey]decimal.Decimal
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]decimal.Decimal)}
}

func key(chain types.SupportedChain, address string) cacheKey {
	return cacheKey{chain: chain, address: model.NormalizeAddress(address)}
}

// Get returns the cached price.
func (c *Cache) Get(chain types.SupportedChain, address string) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[key(chain, address)]
	return p, ok
}

// Set stores a price, replacing any previous value.
func (c *Cache) Set(chain types.SupportedChain, address string, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key(chain, address)] = price
}

// Len returns the number of cached prices.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns a copy of the cached prices of one chain.
func (c *Cache) Snapshot(chain types.SupportedChain) []Data {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Data
	for k, p := range c.entries {
		if k.chain == chain {
			out = append(out, Data{Address: k.address, Price: p})
		}
	}
	return out
}
