package main

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/p2ptrade/escrowd/stagedtx"
	"github.com/p2ptrade/escrowd/trade"
	"github.com/urfave/cli"
)

var exportPsbtCommand = cli.Command{
	Name:     "exportpsbt",
	Category: "Trades",
	Usage:    "Export a staged transaction as PSBT for an external signer.",
	Description: `
	Prints the base64 encoded PSBT of the warning or the redirect
	transaction of one side of a trade. The packet carries the spent
	output, its witness script and every signature collected so far.`,
	ArgsUsage: "trade_id",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "tx",
			Usage: "the staged transaction, warning or redirect",
			Value: "warning",
		},
		cli.StringFlag{
			Name:  "party",
			Usage: "whose transaction to export, local or remote",
			Value: "local",
		},
	},
	Action: exportPsbt,
}

func exportPsbt(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "exportpsbt")
	}

	role, err := parseRole(ctx.String("party"))
	if err != nil {
		return err
	}

	cfg, cleanup, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	stores, err := cfg.DB.OpenStores(cfg.DataDir)
	if err != nil {
		return err
	}
	defer stores.Close()

	t, err := stores.Trades.FetchTrade(ctx.Args().First())
	if err != nil {
		return err
	}

	encoded, err := exportPacket(
		t, ctx.String("tx"), role, cfg.Escrow.ClaimDelay,
	)
	if err != nil {
		return err
	}

	fmt.Println(encoded)

	return nil
}

// parseRole parses a trade side given on the command line.
func parseRole(s string) (trade.Role, error) {
	switch s {
	case "local":
		return trade.Local, nil
	case "remote":
		return trade.Remote, nil
	default:
		return 0, fmt.Errorf("unknown party %q, expected local or "+
			"remote", s)
	}
}

// exportPacket returns the base64 encoded PSBT of the named staged
// transaction.
func exportPacket(t *trade.Trade, txType string, role trade.Role,
	claimDelay uint32) (string, error) {

	var (
		packet *psbt.Packet
		err    error
	)
	switch txType {
	case "warning":
		packet, err = stagedtx.WarningPacket(t, role)
	case "redirect":
		packet, err = stagedtx.RedirectPacket(t, role, claimDelay)
	default:
		return "", fmt.Errorf("unknown staged tx %q, expected warning "+
			"or redirect", txType)
	}
	if err != nil {
		return "", err
	}

	return packet.B64Encode()
}
