// Package model defines the token shapes produced by the valuation engine.
package model

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/yourorg/wallet-valuation/internal/types"
)

// NativeAddress is the sentinel address used for a chain's gas currency.
const NativeAddress = "0x0000000000000000000000000000000000000000"

// DefaultDecimals applies whenever a token's decimals cannot be resolved.
const DefaultDecimals = 18

// DefaultLogo is shown for tokens missing from the catalog.
const DefaultLogo = "https://cdn.jsdelivr.net/gh/yourorg/token-icons/generic.png"

// UnknownSymbol marks placeholder tokens whose shape could not be identified.
const UnknownSymbol = "???"

// Kind is the variant tag of a Token
type Kind string

// Token variants
const (
	KindNative    Kind = "native"
	KindSimple    Kind = "simple"
	KindLPPair    Kind = "lp"
	KindComposite Kind = "composite"
	KindDebt      Kind = "debt"
)

// Status describes how a position is held
type Status string

// Position statuses
const (
	StatusNone      Status = "none"
	StatusStaked    Status = "staked"
	StatusLent      Status = "lent"
	StatusBorrowed  Status = "borrowed"
	StatusUnclaimed Status = "unclaimed"
)

// LocationWallet is the location of balances held directly by the wallet.
const LocationWallet = "wallet"

// PricedConstituent is an underlying asset embedded in an LP or composite token.
type PricedConstituent struct {
	Symbol  string          `json:"symbol"`
	Address string          `json:"address"`
	Balance decimal.Decimal `json:"balance"`
	Price   decimal.Decimal `json:"price"`
	Logo    string          `json:"logo"`
}

// Value returns balance * price.
func (c PricedConstituent) Value() decimal.Decimal {
	return c.Balance.Mul(c.Price)
}

// InfoPool is the Extra key holding the staking pool id of a farm position.
const InfoPool = "pid"

// Info carries protocol specific details of a position
type Info struct {
	// Unlock is the unix timestamp at which locked funds become withdrawable
	Unlock int64 `json:"unlock,omitempty"`

	// Free form protocol details
	Extra map[string]string `json:"extra,omitempty"`
}

// Get returns the Extra value under key. It is safe on a nil Info.
func (i *Info) Get(key string) string {
	if i == nil {
		return ""
	}
	return i.Extra[key]
}

// Token is a single valued position. Kind selects which optional fields are set.
type Token struct {
	Kind     Kind                 `json:"type"`
	Chain    types.SupportedChain `json:"chain"`
	Location string               `json:"location"`
	Status   Status               `json:"status"`
	Owner    string               `json:"owner"`
	Symbol   string               `json:"symbol"`
	Address  string               `json:"address"`
	Balance  decimal.Decimal      `json:"balance"`
	Price    decimal.Decimal      `json:"price"`
	Logo     string               `json:"logo"`

	// LP pair constituents
	Token0 *PricedConstituent `json:"token0,omitempty"`
	Token1 *PricedConstituent `json:"token1,omitempty"`

	// Composite underlying asset
	Underlying *PricedConstituent `json:"underlyingToken,omitempty"`
	Info       *Info              `json:"info,omitempty"`
}

// Value returns the USD value of the position. LP and composite tokens without
// an outer price fall back to the value of their constituents.
func (t Token) Value() decimal.Decimal {
	if !t.Price.IsZero() {
		return t.Balance.Mul(t.Price)
	}
	switch t.Kind {
	case KindLPPair:
		v := decimal.Zero
		if t.Token0 != nil {
			v = v.Add(t.Token0.Value())
		}
		if t.Token1 != nil {
			v = v.Add(t.Token1.Value())
		}
		return v
	case KindComposite:
		if t.Underlying != nil {
			return t.Underlying.Value()
		}
	}
	return decimal.Zero
}

// IsPlaceholder reports whether the token stands in for an unidentified shape.
func (t Token) IsPlaceholder() bool {
	return t.Symbol == UnknownSymbol && t.Balance.IsZero() && t.Price.IsZero()
}

// Position holds the fields shared by every variant.
type Position struct {
	Chain    types.SupportedChain
	Location string
	Status   Status
	Owner    string
}

// NewNative creates the gas currency token of a chain.
func NewNative(p Position, symbol string, balance, price decimal.Decimal, logo string) Token {
	return Token{
		Kind:     KindNative,
		Chain:    p.Chain,
		Location: p.Location,
		Status:   p.Status,
		Owner:    p.Owner,
		Symbol:   symbol,
		Address:  NativeAddress,
		Balance:  balance,
		Price:    price,
		Logo:     logoOrDefault(logo),
	}
}

// NewSimple creates a plain ERC20 position.
func NewSimple(p Position, symbol, address string, balance, price decimal.Decimal, logo string) Token {
	return Token{
		Kind:     KindSimple,
		Chain:    p.Chain,
		Location: p.Location,
		Status:   p.Status,
		Owner:    p.Owner,
		Symbol:   symbol,
		Address:  address,
		Balance:  balance,
		Price:    price,
		Logo:     logoOrDefault(logo),
	}
}

// NewDebt creates a borrowed position. The status is always borrowed.
func NewDebt(p Position, symbol, address string, balance, price decimal.Decimal, logo string) Token {
	p.Status = StatusBorrowed
	t := NewSimple(p, symbol, address, balance, price, logo)
	t.Kind = KindDebt
	return t
}

// NewLPPair creates a two-asset pool share.
func NewLPPair(p Position, symbol, address string, balance, price decimal.Decimal, token0, token1 PricedConstituent) Token {
	t := NewSimple(p, symbol, address, balance, price, "")
	t.Kind = KindLPPair
	token0.Logo = logoOrDefault(token0.Logo)
	token1.Logo = logoOrDefault(token1.Logo)
	t.Token0 = &token0
	t.Token1 = &token1
	return t
}

// NewComposite creates a wrapped/staked position over a single underlying asset.
func NewComposite(p Position, symbol, address string, balance, price decimal.Decimal, logo string, underlying PricedConstituent, info *Info) Token {
	t := NewSimple(p, symbol, address, balance, price, logo)
	t.Kind = KindComposite
	underlying.Logo = logoOrDefault(underlying.Logo)
	t.Underlying = &underlying
	t.Info = info
	return t
}

// NewPlaceholder creates the zero-value token returned for unidentified shapes.
func NewPlaceholder(p Position, address string) Token {
	return NewSimple(p, UnknownSymbol, address, decimal.Zero, decimal.Zero, "")
}

// Normalize converts a raw on-chain integer into a decimal amount. Negative
// and nil inputs normalize to zero.
func Normalize(raw *big.Int, decimals int) decimal.Decimal {
	if raw == nil || raw.Sign() <= 0 {
		return decimal.Zero
	}
	if decimals < 0 {
		decimals = DefaultDecimals
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}

// NormalizeAddress lowercases an address for use as a map key.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func logoOrDefault(logo string) string {
	if logo == "" {
		return DefaultLogo
	}
	return logo
}
