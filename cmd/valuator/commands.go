package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"github.com/yourorg/wallet-valuation/internal/app"
	"github.com/yourorg/wallet-valuation/internal/catalog"
	"github.com/yourorg/wallet-valuation/internal/config"
	"github.com/yourorg/wallet-valuation/internal/model"
	"github.com/yourorg/wallet-valuation/internal/types"
)

var chainFlag = &cli.StringFlag{Name: "chain", Aliases: []string{"c"}, Required: true}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:  "balance",
		Usage: "value a wallet in one or every project of a chain",
		Flags: []cli.Flag{
			chainFlag,
			&cli.StringFlag{Name: "wallet", Aliases: []string{"w"}, Required: true},
			&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Value: app.ProjectAll},
			&cli.BoolFlag{Name: "sign", Usage: "wrap the report in a signed envelope, keyed by SIGNING_KEY"},
		},
		Action: func(c *cli.Context) error {
			a, chain, err := setup(c)
			if err != nil {
				return err
			}
			defer a.Close()

			wallet, err := address(c, "wallet")
			if err != nil {
				return err
			}
			project := strings.ToLower(c.String("project"))
			if project != app.ProjectAll && !catalog.IsProject(chain, project) {
				return cli.Exit(fmt.Sprintf("unknown project %s on %s", project, chain), 1)
			}

			report := a.Balances(c.Context, chain, wallet, project)
			if a.Signer == nil {
				return printJSON(c, report)
			}
			signed, err := a.Signer.Sign(report)
			if err != nil {
				return fmt.Errorf("sign report: %w", err)
			}
			return printJSON(c, signed)
		},
	}
}

func projectsCommand() *cli.Command {
	return &cli.Command{
		Name:  "projects",
		Usage: "list the projects handled on a chain",
		Flags: []cli.Flag{chainFlag},
		Action: func(c *cli.Context) error {
			a, chain, err := setup(c)
			if err != nil {
				return err
			}
			for _, p := range a.Dispatcher.Projects(chain) {
				fmt.Fprintln(c.App.Writer, p)
			}
			return nil
		},
	}
}

func priceCommand() *cli.Command {
	return &cli.Command{
		Name:  "price",
		Usage: "resolve the USD price of a token",
		Flags: []cli.Flag{
			chainFlag,
			&cli.StringFlag{Name: "address", Aliases: []string{"a"}, Required: true},
		},
		Action: func(c *cli.Context) error {
			a, chain, err := setup(c)
			if err != nil {
				return err
			}
			token, err := address(c, "address")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(c.Context, a.Config.RequestTimeout)
			defer cancel()

			decimals := model.DefaultDecimals
			if t, found := catalog.Lookup(chain, token); found {
				decimals = t.Decimals
			}
			fmt.Fprintln(c.App.Writer, a.Resolver.GetTokenPrice(ctx, chain, token, decimals).String())
			return nil
		},
	}
}

func chainsCommand() *cli.Command {
	return &cli.Command{
		Name:  "chains",
		Usage: "list the enabled chains",
		Action: func(c *cli.Context) error {
			chains, err := config.LoadChainRegistry(c.String("chains-file"))
			if err != nil {
				return err
			}
			for _, chain := range chains.Enabled() {
				cfg, _ := chains.Get(chain)
				fmt.Fprintf(c.App.Writer, "%s\t%d\t%d endpoints\t%s\n", chain, cfg.ChainID, len(cfg.RPCEndpoints), cfg.GasSymbol)
			}
			return nil
		},
	}
}

// setup loads configuration, applies global flags and wires the stack.
func setup(c *cli.Context) (*app.App, types.SupportedChain, error) {
	cfg := config.Load()
	if f := c.String("chains-file"); f != "" {
		cfg.ChainsFile = f
	}
	if d := c.Duration("timeout"); d > 0 {
		cfg.RequestTimeout = d
	}
	if c.Bool("sign") {
		cfg.SigningEnabled = true
	}

	a, err := newApp(cfg)
	if err != nil {
		return nil, "", err
	}

	chain, err := types.ParseChain(c.String("chain"))
	if err != nil {
		return nil, "", cli.Exit(err.Error(), 1)
	}
	if _, enabled := a.Chains.Get(chain); !enabled {
		return nil, "", cli.Exit(fmt.Sprintf("chain %s is not enabled", chain), 1)
	}
	return a, chain, nil
}

func address(c *cli.Context, name string) (string, error) {
	raw := c.String(name)
	if !common.IsHexAddress(raw) {
		return "", cli.Exit("invalid "+name+" address", 1)
	}
	return common.HexToAddress(raw).Hex(), nil
}

func printJSON(c *cli.Context, v interface{}) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
