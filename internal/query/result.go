package query

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Status classifies the outcome of a contract read
type Status int

const (
	// StatusOK means the call transported and decoded
	StatusOK Status = iota
	// StatusAbsent means no value was expected: a known-unreliable contract or a chain without endpoints
	StatusAbsent
	// StatusFailed means every attempt failed unexpectedly
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusAbsent:
		return "absent"
	default:
		return "failed"
	}
}

// Result is the decoded output of a read. Accessors return zero values when the
// read did not succeed, so callers can treat absence as a zero balance.
type Result struct {
	Status Status
	Values []interface{}
	Err    error
}

func ok(values []interface{}) Result {
	return Result{Status: StatusOK, Values: values}
}

func absent(err error) Result {
	return Result{Status: StatusAbsent, Err: err}
}

func failed(err error) Result {
	return Result{Status: StatusFailed, Err: err}
}

// OK reports whether the read produced a value.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

func (r Result) value(i int) (interface{}, bool) {
	if !r.OK() || i < 0 || i >= len(r.Values) {
		return nil, false
	}
	return r.Values[i], true
}

// BigInt returns output i as an integer, zero when absent.
func (r Result) BigInt(i int) *big.Int {
	v, found := r.value(i)
	if !found {
		return new(big.Int)
	}
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			return new(big.Int)
		}
		return new(big.Int).Set(n)
	case uint8:
		return new(big.Int).SetUint64(uint64(n))
	case uint16:
		return new(big.Int).SetUint64(uint64(n))
	case uint32:
		return new(big.Int).SetUint64(uint64(n))
	case uint64:
		return new(big.Int).SetUint64(n)
	case int64:
		return big.NewInt(n)
	}
	return new(big.Int)
}

// Int returns output i as an int, fallback when absent or out of range.
func (r Result) Int(i int, fallback int) int {
	if _, found := r.value(i); !found {
		return fallback
	}
	n := r.BigInt(i)
	if !n.IsInt64() {
		return fallback
	}
	return int(n.Int64())
}

// Address returns output i as a lowercase hex address, empty when absent.
func (r Result) Address(i int) string {
	v, found := r.value(i)
	if !found {
		return ""
	}
	if a, isAddr := v.(common.Address); isAddr {
		return strings.ToLower(a.Hex())
	}
	return ""
}

// Addresses returns output i as a list of lowercase hex addresses.
func (r Result) Addresses(i int) []string {
	v, found := r.value(i)
	if !found {
		return nil
	}
	list, isList := v.([]common.Address)
	if !isList {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, strings.ToLower(a.Hex()))
	}
	return out
}

// String returns output i as a string, empty when absent.
func (r Result) String(i int) string {
	v, found := r.value(i)
	if !found {
		return ""
	}
	s, _ := v.(string)
	return s
}
