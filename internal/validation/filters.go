// Package validation filters valued positions before they are reported.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/wallet-valuation/internal/model"
)

var (
	// ErrNegativeBalance is returned for tokens with a balance below zero
	ErrNegativeBalance = errors.New("negative balance")
	// ErrNegativePrice is returned for tokens with a price below zero
	ErrNegativePrice = errors.New("negative price")
	// ErrMissingField is returned when a required field is empty
	ErrMissingField = errors.New("missing field")
)

// Options holds configuration for the filtering process
type Options struct {
	// Positions worth less than this (USD) are dropped; unpriced positions
	// are kept unless DropUnpriced is set
	MinValue decimal.Decimal

	// DropUnpriced removes positions without a price
	DropUnpriced bool

	// DropPlaceholders removes tokens whose shape could not be identified
	DropPlaceholders bool

	// Dedupe keeps the first of several identical positions
	Dedupe bool
}

// DefaultOptions returns the filters applied to API responses.
func DefaultOptions() Options {
	return Options{
		MinValue:         decimal.Zero,
		DropUnpriced:     false,
		DropPlaceholders: false,
		Dedupe:           true,
	}
}

// Validate checks the invariants every token must satisfy.
func Validate(t model.Token) error {
	if t.Balance.IsNegative() {
		return fmt.Errorf("%s %s: %w", t.Chain, t.Address, ErrNegativeBalance)
	}
	if t.Price.IsNegative() {
		return fmt.Errorf("%s %s: %w", t.Chain, t.Address, ErrNegativePrice)
	}
	if t.Chain == "" || t.Address == "" || t.Symbol == "" {
		return fmt.Errorf("%s %s: %w", t.Chain, t.Address, ErrMissingField)
	}
	return nil
}

// FilterInvalid removes invalid tokens with the default options.
func FilterInvalid(tokens []model.Token) []model.Token {
	return FilterWithOptions(tokens, DefaultOptions())
}

// FilterWithOptions removes invalid tokens and applies opts. The result is
// never nil.
func FilterWithOptions(tokens []model.Token, opts Options) []model.Token {
	valid := lo.Filter(tokens, func(t model.Token, _ int) bool {
		if err := Validate(t); err != nil {
			logrus.WithFields(logrus.Fields{
				"chain":   t.Chain,
				"address": t.Address,
				"symbol":  t.Symbol,
			}).Debugf("Filtered invalid token: %v", err)
			return false
		}
		return keep(t, opts)
	})

	if opts.Dedupe {
		valid = lo.UniqBy(valid, identity)
	}
	if valid == nil {
		valid = []model.Token{}
	}
	return valid
}

func keep(t model.Token, opts Options) bool {
	if t.IsPlaceholder() {
		return !opts.DropPlaceholders
	}
	if t.Price.IsZero() && t.Value().IsZero() {
		return !opts.DropUnpriced
	}
	return t.Value().GreaterThanOrEqual(opts.MinValue)
}

// identity is the key under which two positions count as the same. Farm
// positions of different pools never collapse.
func identity(t model.Token) string {
	return strings.Join([]string{
		string(t.Chain),
		t.Location,
		string(t.Status),
		string(t.Kind),
		model.NormalizeAddress(t.Owner),
		model.NormalizeAddress(t.Address),
		t.Info.Get(model.InfoPool),
	}, "|")
}
