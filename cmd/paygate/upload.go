package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/urfave/cli/v2"
	"github.com/vitwit/paygate"
	"github.com/vitwit/paygate/payment"
	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/utils"
)

func uploadCommand() *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "pay the upload fee and upload a file through the relay",
		ArgsUsage: "<file>",
		Flags:     []cli.Flag{yesFlag},
		Action:    runUpload,
	}
}

func readFile(path string) (*types.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewError(types.ErrNoFileSelected, fmt.Sprintf("cannot read %s", path), err)
	}
	return &types.File{
		Name:        filepath.Base(path),
		ContentType: mimetype.Detect(data).String(),
		Data:        data,
	}, nil
}

func runUpload(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.ShowSubcommandHelp(c)
	}

	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	file, err := readFile(c.Args().First())
	if err != nil {
		return err
	}

	ctx := c.Context
	provider, err := openWallet(ctx, c, cfg)
	if err != nil {
		return err
	}
	defer provider.Close()

	gate, err := paygate.New(provider, nil, cfg, paygate.WithLogger(log))
	if err != nil {
		return err
	}
	defer gate.Close()

	network := gate.Network()
	remove := gate.Payments().OnChange(func(s payment.Snapshot) {
		switch s.State {
		case payment.AwaitingSignature:
			fmt.Fprintln(os.Stderr, "Waiting for signature...")
		case payment.AwaitingConfirmation:
			fmt.Fprintf(os.Stderr, "Submitted %s, waiting for confirmation...\n", s.TxHash.Hex())
		}
	})
	defer remove()

	st, err := gate.Connect(ctx)
	if err != nil {
		return err
	}
	if st.ChainID.Uint64() != network.ChainID {
		fmt.Fprintf(os.Stderr, "Switching to %s...\n", network.Name)
		if st, err = gate.SwitchNetwork(ctx); err != nil {
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "Account %s, balance %s %s\n",
		st.Address.Hex(), utils.FormatAmountFromBigInt(st.Balance, network.Decimals), network.Symbol)
	fmt.Fprintf(os.Stderr, "Uploading %s (%s, %s)\n", file.Name, file.ContentType, utils.FormatFileSize(file.Size()))

	rec, res, err := gate.PayAndUpload(ctx, file)
	if err != nil {
		return err
	}

	fmt.Printf("Payment:  %s\n", network.TxURL(rec.TxHash))
	fmt.Printf("Paid:     %s %s\n", utils.FormatAmountFromBigInt(rec.Amount, network.Decimals), network.Symbol)
	fmt.Printf("CID:      %s\n", res.CID)
	fmt.Printf("URL:      %s\n", res.URL)
	return nil
}
