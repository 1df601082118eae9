package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"github.com/vitwit/paygate/clients"
	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/utils"
)

const privateKeyEnv = utils.EnvPrefix + "_PRIVATE_KEY"

var yesFlag = &cli.BoolFlag{
	Name:  "yes",
	Usage: "approve transactions without prompting",
}

// openWallet dials the configured node with the signer key from the environment.
func openWallet(ctx context.Context, c *cli.Context, cfg *types.Config) (*clients.RPCProvider, error) {
	key := os.Getenv(privateKeyEnv)
	if key == "" {
		return nil, types.NewError(types.ErrWalletUnavailable, privateKeyEnv+" is not set", nil)
	}
	if cfg.RPCURL == "" {
		return nil, types.NewError(types.ErrConfigurationError, "rpc_url not configured", nil)
	}

	approve := promptApproval(cfg)
	if c.Bool(yesFlag.Name) {
		approve = func(clients.TxRequest) bool { return true }
	}
	return clients.NewRPCProvider(ctx, cfg.RPCURL, key,
		clients.WithNetwork(cfg.ChainID, cfg.RPCURL),
		clients.WithApproval(approve),
	)
}

func promptApproval(cfg *types.Config) func(clients.TxRequest) bool {
	network := types.LookupNetwork(cfg.ChainID)
	in := bufio.NewReader(os.Stdin)

	return func(req clients.TxRequest) bool {
		value := "0"
		if req.Value != nil {
			value = utils.FormatAmountFromBigInt(req.Value, network.Decimals)
		}
		fmt.Fprintf(os.Stderr, "Send %s %s from %s to %s? [y/N] ", value, network.Symbol, req.From.Hex(), req.To.Hex())
		line, err := in.ReadString('\n')
		if err != nil {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	}
}
