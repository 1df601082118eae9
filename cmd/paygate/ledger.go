package main

import (
	"fmt"
	"os"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/urfave/cli/v2"
	"github.com/vitwit/paygate/clients"
	"github.com/vitwit/paygate/ledger"
	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/utils"
)

func feeCommand() *cli.Command {
	return &cli.Command{
		Name:   "fee",
		Usage:  "show the on-chain upload fee and the ledger owner",
		Action: runFee,
	}
}

func withdrawCommand() *cli.Command {
	return &cli.Command{
		Name:   "withdraw",
		Usage:  "withdraw collected fees to the ledger owner",
		Flags:  []cli.Flag{yesFlag},
		Action: runWithdraw,
	}
}

func receiptCommand() *cli.Command {
	return &cli.Command{
		Name:      "receipt",
		Usage:     "show the upload payment recorded by a transaction",
		ArgsUsage: "<tx-hash>",
		Action:    runReceipt,
	}
}

func runFee(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	contract, err := utils.ContractAddress(cfg)
	if err != nil {
		return err
	}
	if cfg.RPCURL == "" {
		return types.NewError(types.ErrConfigurationError, "rpc_url not configured", nil)
	}
	client, err := ethclient.DialContext(c.Context, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("failed to connect to Ethereum RPC: %w", err)
	}
	defer client.Close()

	lc := clients.NewLedgerClient(contract, client, nil)
	fee, err := lc.UploadFee(c.Context)
	if err != nil {
		return err
	}
	owner, err := lc.Owner(c.Context)
	if err != nil {
		return err
	}
	configured, err := utils.FeeWei(cfg)
	if err != nil {
		return err
	}

	network := types.LookupNetwork(cfg.ChainID)
	fmt.Printf("Ledger:   %s\n", contract.Hex())
	fmt.Printf("Owner:    %s\n", owner.Hex())
	fmt.Printf("Fee:      %s %s\n", utils.FormatAmountFromBigInt(fee, network.Decimals), network.Symbol)
	if configured.Cmp(fee) != 0 {
		fmt.Fprintf(os.Stderr, "warning: configured fee %s %s differs from the ledger; payments will revert\n",
			cfg.UploadFee, network.Symbol)
	}
	return nil
}

func runWithdraw(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	contract, err := utils.ContractAddress(cfg)
	if err != nil {
		return err
	}

	ctx := c.Context
	provider, err := openWallet(ctx, c, cfg)
	if err != nil {
		return err
	}
	defer provider.Close()

	accounts, err := provider.RequestAccounts(ctx)
	if err != nil {
		return err
	}

	lc := clients.NewLedgerClient(contract, provider, provider)
	owner, err := lc.Owner(ctx)
	if err != nil {
		return err
	}
	if owner != accounts[0] {
		return types.NewError(types.ErrConfigurationError,
			fmt.Sprintf("%s is not the ledger owner (%s)", accounts[0].Hex(), owner.Hex()), nil)
	}

	hash, err := lc.Withdraw(ctx, owner)
	if err != nil {
		return err
	}
	fmt.Printf("Withdraw: %s\n", types.LookupNetwork(cfg.ChainID).TxURL(hash))
	return nil
}

func runReceipt(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.ShowSubcommandHelp(c)
	}
	hash, err := utils.ValidateTransactionHash(c.Args().First())
	if err != nil {
		return err
	}

	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	contract, err := utils.ContractAddress(cfg)
	if err != nil {
		return err
	}
	if cfg.RPCURL == "" {
		return types.NewError(types.ErrConfigurationError, "rpc_url not configured", nil)
	}
	client, err := ethclient.DialContext(c.Context, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("failed to connect to Ethereum RPC: %w", err)
	}
	defer client.Close()

	receipt, err := client.TransactionReceipt(c.Context, hash)
	if err != nil {
		return fmt.Errorf("failed to fetch receipt %s: %w", hash.Hex(), err)
	}

	network := types.LookupNetwork(cfg.ChainID)
	fmt.Printf("Tx:       %s\n", network.TxURL(hash))
	fmt.Printf("Block:    %v\n", receipt.BlockNumber)
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		fmt.Println("Status:   reverted")
		return nil
	}

	found := false
	for _, l := range receipt.Logs {
		if l.Address != contract {
			continue
		}
		rec, err := ledger.DecodePaidLog(*l)
		if err != nil {
			continue
		}
		found = true
		fmt.Printf("Payer:    %s\n", rec.Payer.Hex())
		fmt.Printf("Amount:   %s %s\n", utils.FormatAmountFromBigInt(rec.Amount, network.Decimals), network.Symbol)
		fmt.Printf("UploadId: %s\n", rec.CorrelationID.Hex())
	}
	if !found {
		fmt.Fprintf(os.Stderr, "no Paid event from %s in this transaction\n", contract.Hex())
	}
	return nil
}
