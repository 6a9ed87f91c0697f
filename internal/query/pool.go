package query

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/hashicorp/go-retryablehttp"
)

// Caller is the subset of ethclient.Client used for read-only queries
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// DialFunc opens a Caller for one RPC endpoint URL
type DialFunc func(ctx context.Context, url string) (Caller, error)

// Pool reuses one dialed client per endpoint URL. It never caches call results.
type Pool struct {
	dial    DialFunc
	mu      sync.Mutex
	clients map[string]Caller
}

// NewPool creates a client pool. A nil dial uses DialEthClient.
func NewPool(dial DialFunc) *Pool {
	if dial == nil {
		dial = DialEthClient
	}
	return &Pool{
		dial:    dial,
		clients: make(map[string]Caller),
	}
}

// Client returns the pooled client for url, dialing it on first use. Dials
// run outside the lock. When two dials of one url race, the first stored
// client wins.
func (p *Pool) Client(ctx context.Context, url string) (Caller, error) {
	p.mu.Lock()
	c, ok := p.clients[url]
	p.mu.Unlock()
	if ok {
		return c, nil
	}

	dialed, err := p.dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[url]; ok {
		closeCaller(dialed)
		return c, nil
	}
	p.clients[url] = dialed
	return dialed, nil
}

// closeCaller releases a client that lost a dial race.
func closeCaller(c Caller) {
	if closer, ok := c.(interface{ Close() }); ok {
		closer.Close()
	}
}

// DialEthClient dials an endpoint with go-ethereum, sending HTTP traffic through
// a retrying client that absorbs single dropped connections.
func DialEthClient(ctx context.Context, url string) (Caller, error) {
	c, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(newRetryClient().StandardClient()))
	if err != nil {
		return nil, err
	}
	return ethclient.NewClient(c), nil
}

// newRetryClient creates an HTTP client with retry capabilities. Failover across
// endpoints is the executor's job, so this only retries once, briefly.
func newRetryClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 1
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 1 * time.Second
	c.HTTPClient.Timeout = 15 * time.Second
	c.Logger = nil
	return c
}
