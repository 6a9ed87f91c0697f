package app

import (
	"context"
	"time"

	"github.com/yourorg/wallet-valuation/internal/aggregate"
	"github.com/yourorg/wallet-valuation/internal/model"
	"github.com/yourorg/wallet-valuation/internal/types"
	"github.com/yourorg/wallet-valuation/internal/validation"
)

// ProjectAll selects every project of a chain.
const ProjectAll = "all"

// topHoldings is the length of the summary's top holdings table.
const topHoldings = 10

// Report is the filtered, summarized balance of one wallet
type Report struct {
	Chain       types.SupportedChain `json:"chain"`
	Wallet      string               `json:"wallet"`
	Project     string               `json:"project"`
	Tokens      []model.Token        `json:"tokens"`
	Summary     aggregate.Summary    `json:"summary"`
	GeneratedAt int64                `json:"generatedAt"`
}

// Balances values wallet in project, or in every project of chain when
// project is empty or ProjectAll.
func (a *App) Balances(ctx context.Context, chain types.SupportedChain, wallet, project string) Report {
	if project == "" {
		project = ProjectAll
	}

	var tokens []model.Token
	if project == ProjectAll {
		tokens = a.Dispatcher.GetAllBalances(ctx, chain, wallet)
	} else {
		tokens = a.Dispatcher.GetProjectBalance(ctx, chain, wallet, project)
	}
	tokens = validation.FilterWithOptions(tokens, a.Filters)

	report := Report{
		Chain:       chain,
		Wallet:      wallet,
		Project:     project,
		Tokens:      tokens,
		Summary:     aggregate.Summarize(tokens, topHoldings),
		GeneratedAt: time.Now().Unix(),
	}
	a.Exporter.Add(report)
	return report
}
