package multicall

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/wallet-valuation/internal/abis"
	"github.com/yourorg/wallet-valuation/internal/config"
	"github.com/yourorg/wallet-valuation/internal/query"
	"github.com/yourorg/wallet-valuation/internal/types"
)

// aggregatorNode answers tryAggregate like Multicall3. Targets listed in
// reverts fail; every other target returns balances[target].
type aggregatorNode struct {
	reverts  map[common.Address]bool
	balances map[common.Address]int64
	down     bool
	calls    int
	urls     []string
}

func (n *aggregatorNode) dial(_ context.Context, url string) (query.Caller, error) {
	n.urls = append(n.urls, url)
	return n, nil
}

func (n *aggregatorNode) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	n.calls++
	if n.down {
		return nil, errors.New("503 service unavailable")
	}

	method := abis.Multicall.Methods["tryAggregate"]
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	batch := *abi.ConvertType(args[1], new([]aggregateCall)).(*[]aggregateCall)

	out := make([]aggregateResult, 0, len(batch))
	for _, c := range batch {
		if n.reverts[c.Target] {
			out = append(out, aggregateResult{Success: false})
			continue
		}
		data, err := abis.ERC20.Methods["balanceOf"].Outputs.Pack(big.NewInt(n.balances[c.Target]))
		if err != nil {
			return nil, err
		}
		out = append(out, aggregateResult{Success: true, ReturnData: data})
	}
	return method.Outputs.Pack(out)
}

func (n *aggregatorNode) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return nil, errors.New("not supported")
}

func tokenAddr(i int) string {
	return fmt.Sprintf("0x%040x", 0x1000+i)
}

const owner = "0x00000000000000000000000000000000000000aa"

func newTestBatcher(node *aggregatorNode) *Batcher {
	registry := config.ChainRegistry{
		types.ChainEthereum: {
			Enabled:          true,
			RPCEndpoints:     []string{"primary", "backup"},
			MulticallAddress: config.Multicall3,
		},
		types.ChainBSC: {
			Enabled:      true,
			RPCEndpoints: []string{"primary"},
		},
	}
	logger, _ := test.NewNullLogger()
	return NewBatcher(registry, query.NewPool(node.dial), logger, nil)
}

func TestQueryOneFailingCall(t *testing.T) {
	const m = 5
	node := &aggregatorNode{
		reverts:  map[common.Address]bool{common.HexToAddress(tokenAddr(2)): true},
		balances: map[common.Address]int64{},
	}
	calls := make([]Call, 0, m)
	for i := 0; i < m; i++ {
		node.balances[common.HexToAddress(tokenAddr(i))] = int64(100 + i)
		calls = append(calls, Call{
			Reference: fmt.Sprintf("TKN%d", i),
			Target:    tokenAddr(i),
			ABI:       abis.ERC20,
			Method:    "balanceOf",
			Args:      []interface{}{common.HexToAddress(owner)},
		})
	}

	b := newTestBatcher(node)
	results, err := b.Query(context.Background(), types.ChainEthereum, calls)
	require.NoError(t, err)
	require.Len(t, results, m)
	assert.Equal(t, 1, node.calls, "one round trip")
	assert.Equal(t, []string{"primary"}, node.urls)

	failed := 0
	for i := 0; i < m; i++ {
		r := results[fmt.Sprintf("TKN%d", i)]
		if !r.Success {
			failed++
			assert.Equal(t, 2, i)
			continue
		}
		assert.Equal(t, int64(100+i), r.Result().BigInt(0).Int64())
	}
	assert.Equal(t, 1, failed)
}

func TestQueryTransportFailureFailsBatch(t *testing.T) {
	node := &aggregatorNode{down: true}
	b := newTestBatcher(node)

	_, err := b.Query(context.Background(), types.ChainEthereum, []Call{{
		Reference: "A", Target: tokenAddr(1), ABI: abis.ERC20, Method: "totalSupply",
	}})
	require.Error(t, err)
	assert.Equal(t, 1, node.calls, "no failover at this layer")
}

func TestQueryWithoutMulticallContract(t *testing.T) {
	b := newTestBatcher(&aggregatorNode{})

	_, err := b.Query(context.Background(), types.ChainBSC, []Call{{
		Reference: "A", Target: tokenAddr(1), ABI: abis.ERC20, Method: "totalSupply",
	}})
	assert.ErrorIs(t, err, ErrNoMulticall)
}

func TestQueryDuplicateReference(t *testing.T) {
	b := newTestBatcher(&aggregatorNode{})

	call := Call{Reference: "A", Target: tokenAddr(1), ABI: abis.ERC20, Method: "totalSupply"}
	_, err := b.Query(context.Background(), types.ChainEthereum, []Call{call, call})
	assert.ErrorIs(t, err, ErrDuplicateReference)
}

func TestQueryUnencodableCallFailsAlone(t *testing.T) {
	node := &aggregatorNode{balances: map[common.Address]int64{common.HexToAddress(tokenAddr(1)): 9}}
	b := newTestBatcher(node)

	results, err := b.Query(context.Background(), types.ChainEthereum, []Call{
		{Reference: "good", Target: tokenAddr(1), ABI: abis.ERC20, Method: "balanceOf", Args: []interface{}{common.HexToAddress(owner)}},
		{Reference: "bad", Target: tokenAddr(2), ABI: abis.ERC20, Method: "balanceOf", Args: []interface{}{"nope"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results["good"].Success)
	assert.False(t, results["bad"].Success)
}

func TestBalanceSweep(t *testing.T) {
	node := &aggregatorNode{
		reverts: map[common.Address]bool{common.HexToAddress(tokenAddr(3)): true},
		balances: map[common.Address]int64{
			common.HexToAddress(tokenAddr(1)): 1_000_000,
			common.HexToAddress(tokenAddr(2)): 0,
		},
	}
	b := newTestBatcher(node)

	tokens := []TokenRef{
		{Symbol: "USDC", Address: tokenAddr(1), Decimals: 6},
		{Symbol: "DAI", Address: tokenAddr(2), Decimals: 18},
		{Symbol: "BAD", Address: tokenAddr(3), Decimals: 18},
		{Symbol: "USDC", Address: "0x" + strings.ToUpper(tokenAddr(1)[2:]), Decimals: 6},
	}
	holdings, err := b.BalanceSweep(context.Background(), types.ChainEthereum, owner, tokens)
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, "USDC", holdings[0].Token.Symbol)
	assert.Equal(t, int64(1_000_000), holdings[0].Raw.Int64())
}
