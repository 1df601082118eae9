package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/utils"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "paygate",
		Usage:   "pay-per-upload client and storage relay",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a TOML config file",
				EnvVars: []string{utils.EnvPrefix + "_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "override the configured log level",
				EnvVars: []string{utils.EnvPrefix + "_LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			relayCommand(),
			uploadCommand(),
			feeCommand(),
			withdrawCommand(),
			receiptCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		code := utils.NormalizeError(err)
		fmt.Fprintf(os.Stderr, "error: %s\n  %v\n", utils.DisplayMessage(code), err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the process logger.
func setup(c *cli.Context) (*types.Config, *logger.ZapLogger, error) {
	cfg, err := utils.LoadConfig(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	log, err := logger.NewZapLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, log, nil
}
