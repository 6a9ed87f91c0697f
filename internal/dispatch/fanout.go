package dispatch

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/yourorg/wallet-valuation/internal/model"
)

// Collect runs fn over items with at most limit in flight and concatenates
// the tokens in item order. Every item runs even when others fail; the
// returned error joins all failures and the tokens still hold everything found.
func Collect[T any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, item T) ([]model.Token, error)) ([]model.Token, error) {
	results := make([][]model.Token, len(items))
	errs := make([]error, len(items))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			results[i], errs[i] = fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()

	var out []model.Token
	for _, r := range results {
		out = append(out, r...)
	}
	return out, errors.Join(errs...)
}
