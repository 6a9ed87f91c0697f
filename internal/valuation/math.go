package valuation

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/yourorg/wallet-valuation/internal/model"
)

// divPrecision is the number of decimal places kept by divisions.
const divPrecision = 24

// safeDiv returns a/b, or zero when b is zero or negative.
func safeDiv(a, b decimal.Decimal) decimal.Decimal {
	if b.Sign() <= 0 {
		return decimal.Zero
	}
	return a.DivRound(b, divPrecision)
}

// shareOf returns holder/supply clamped to [0, 1].
func shareOf(holder, supply decimal.Decimal) decimal.Decimal {
	r := safeDiv(holder, supply)
	if r.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// norm normalizes a raw integer, tolerating nil.
func norm(raw *big.Int, decimals int) decimal.Decimal {
	return model.Normalize(raw, decimals)
}
