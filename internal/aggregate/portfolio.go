// Package aggregate summarizes valued positions into portfolio totals.
package aggregate

import (
	"sort"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/yourorg/wallet-valuation/internal/model"
	"github.com/yourorg/wallet-valuation/internal/types"
)

// Holding is one row of the top holdings table
type Holding struct {
	Chain    types.SupportedChain `json:"chain"`
	Location string               `json:"location"`
	Status   model.Status         `json:"status"`
	Symbol   string               `json:"symbol"`
	Address  string               `json:"address"`
	Value    decimal.Decimal      `json:"value"`
}

// Summary is the USD breakdown of a set of positions. Debt counts against
// every net figure.
type Summary struct {
	Positions    int `json:"positions"`
	Placeholders int `json:"placeholders"`

	Assets decimal.Decimal `json:"assets"`
	Debt   decimal.Decimal `json:"debt"`
	Net    decimal.Decimal `json:"net"`

	ByChain    map[types.SupportedChain]decimal.Decimal `json:"byChain"`
	ByLocation map[string]decimal.Decimal               `json:"byLocation"`
	ByStatus   map[model.Status]decimal.Decimal         `json:"byStatus"`

	// Median value of the asset positions
	Median decimal.Decimal `json:"median"`

	Top []Holding `json:"top"`
}

// signed returns the value of t, negative for debt.
func signed(t model.Token) decimal.Decimal {
	if t.Kind == model.KindDebt {
		return t.Value().Neg()
	}
	return t.Value()
}

// Summarize totals tokens and lists the topN most valuable positions.
func Summarize(tokens []model.Token, topN int) Summary {
	s := Summary{
		Positions:  len(tokens),
		Assets:     decimal.Zero,
		Debt:       decimal.Zero,
		Net:        decimal.Zero,
		ByChain:    make(map[types.SupportedChain]decimal.Decimal),
		ByLocation: make(map[string]decimal.Decimal),
		ByStatus:   make(map[model.Status]decimal.Decimal),
		Median:     decimal.Zero,
		Top:        []Holding{},
	}

	for _, t := range tokens {
		if t.IsPlaceholder() {
			s.Placeholders++
			continue
		}
		v := signed(t)
		if v.IsNegative() {
			s.Debt = s.Debt.Add(v.Neg())
		} else {
			s.Assets = s.Assets.Add(v)
		}
		s.ByChain[t.Chain] = s.ByChain[t.Chain].Add(v)
		s.ByLocation[t.Location] = s.ByLocation[t.Location].Add(v)
		s.ByStatus[t.Status] = s.ByStatus[t.Status].Add(v)
	}
	s.Net = s.Assets.Sub(s.Debt)

	assets := lo.Filter(tokens, func(t model.Token, _ int) bool {
		return t.Kind != model.KindDebt && !t.IsPlaceholder()
	})
	s.Median = Median(lo.Map(assets, func(t model.Token, _ int) decimal.Decimal { return t.Value() }))
	s.Top = TopHoldings(assets, topN)
	return s
}

// TopHoldings returns the n most valuable tokens, largest first. Ties keep
// input order.
func TopHoldings(tokens []model.Token, n int) []Holding {
	rows := lo.Map(tokens, func(t model.Token, _ int) Holding {
		return Holding{
			Chain:    t.Chain,
			Location: t.Location,
			Status:   t.Status,
			Symbol:   t.Symbol,
			Address:  t.Address,
			Value:    t.Value(),
		}
	})
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Value.GreaterThan(rows[j].Value)
	})
	if n >= 0 && len(rows) > n {
		rows = rows[:n]
	}
	return rows
}

// Median returns the median of values, zero for an empty input.
func Median(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sorted := append([]decimal.Decimal(nil), values...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].LessThan(sorted[j])
	})

	n := len(sorted)
	if n%2 == 0 {
		return sorted[n/2-1].Add(sorted[n/2]).Div(decimal.NewFromInt(2))
	}
	return sorted[n/2]
}

// NetByChain returns the net value of tokens per chain, in chain order.
func NetByChain(tokens []model.Token) []lo.Entry[types.SupportedChain, decimal.Decimal] {
	grouped := lo.GroupBy(tokens, func(t model.Token) types.SupportedChain { return t.Chain })
	chains := lo.Filter(types.AllChains, func(c types.SupportedChain, _ int) bool {
		_, ok := grouped[c]
		return ok
	})
	return lo.Map(chains, func(c types.SupportedChain, _ int) lo.Entry[types.SupportedChain, decimal.Decimal] {
		total := lo.Reduce(grouped[c], func(acc decimal.Decimal, t model.Token, _ int) decimal.Decimal {
			return acc.Add(signed(t))
		}, decimal.Zero)
		return lo.Entry[types.SupportedChain, decimal.Decimal]{Key: c, Value: total}
	})
}
