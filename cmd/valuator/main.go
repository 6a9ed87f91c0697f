// Package main is a command line client for one-off wallet valuations.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/yourorg/wallet-valuation/internal/app"
	"github.com/yourorg/wallet-valuation/internal/config"
	"github.com/yourorg/wallet-valuation/internal/telemetry"
)

const version = "1.0.0"

// newApp builds the valuation stack; tests swap it for a stubbed one
var newApp = func(cfg config.Config) (*app.App, error) {
	return app.New(cfg)
}

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:    "valuator",
		Usage:   "value EVM wallets across chains and projects",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Value: "warn", EnvVars: []string{"LOG_LEVEL"}},
			&cli.StringFlag{Name: "log-format", Value: "text", EnvVars: []string{"LOG_FORMAT"}},
			&cli.StringFlag{Name: "chains-file", Usage: "JSON chain registry override", EnvVars: []string{"CHAINS_FILE"}},
			&cli.DurationFlag{Name: "timeout", Usage: "request timeout", EnvVars: []string{"REQUEST_TIMEOUT"}},
		},
		Before: func(c *cli.Context) error {
			telemetry.SetupLogging(c.String("log-level"), c.String("log-format"))
			return nil
		},
		Commands: []*cli.Command{
			balanceCommand(),
			projectsCommand(),
			priceCommand(),
			chainsCommand(),
		},
	}
}
