package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/p2ptrade/escrowd/burningman"
	"github.com/p2ptrade/escrowd/escrow"
	"github.com/p2ptrade/escrowd/escrowcfg"
	"github.com/urfave/cli"
)

var (
	heightFlag = cli.Uint64Flag{
		Name:  "height",
		Usage: "the selection height to use",
	}
	chainHeightFlag = cli.Uint64Flag{
		Name: "chain_height",
		Usage: "the chain height the trade was taken at, used to " +
			"derive the selection height if --height is not set",
	}
)

var receiversCommand = cli.Command{
	Name:     "receivers",
	Category: "Receivers",
	Usage:    "Compute the redirect receiver set of an amount.",
	Description: `
	Compute the receivers, and the amount each of them is paid, when the
	given amount is redirected at the selection height. Both trade parties
	compute the same set from the same receiver file.

	With --redirect the fee of a redirect transaction paying the set is
	deducted first, --feebump additionally reserves the redirect fee bump
	output.
	`,
	Flags: []cli.Flag{
		heightFlag,
		chainHeightFlag,
		cli.Int64Flag{
			Name:  "amt",
			Usage: "the amount in satoshis to distribute",
		},
		cli.Int64Flag{
			Name:  "feerate",
			Usage: "the deposit fee rate in sat/vB",
			Value: int64(escrow.DefaultMinFeeRate),
		},
		cli.BoolFlag{
			Name:  "redirect",
			Usage: "size the fee for a redirect transaction",
		},
		cli.BoolFlag{
			Name:  "feebump",
			Usage: "reserve the redirect fee bump output",
		},
	},
	Action: receivers,
}

func receivers(ctx *cli.Context) error {
	cfg, cleanup, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	height, err := selectionHeight(ctx, cfg)
	if err != nil {
		return err
	}

	amt := ctx.Int64("amt")
	if amt <= 0 {
		return fmt.Errorf("amount must be positive")
	}

	service, err := newReceiverService(cfg)
	if err != nil {
		return err
	}

	var opts []burningman.ReceiverOption
	if ctx.Bool("redirect") {
		opts = append(opts, burningman.WithRedirect())
	}
	if ctx.Bool("feebump") {
		opts = append(opts, burningman.WithFeeBump())
	}

	selected, err := service.GetReceivers(
		height, btcutil.Amount(amt),
		escrow.SatPerVByte(ctx.Int64("feerate")), opts...,
	)
	if err != nil {
		return err
	}

	printReceivers(os.Stdout, height, selected)

	return nil
}

var feeReceiverCommand = cli.Command{
	Name:     "feereceiver",
	Category: "Receivers",
	Usage:    "Draw a weighted random receiver address.",
	Flags:    []cli.Flag{heightFlag, chainHeightFlag},
	Action:   feeReceiver,
}

func feeReceiver(ctx *cli.Context) error {
	cfg, cleanup, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	height, err := selectionHeight(ctx, cfg)
	if err != nil {
		return err
	}

	service, err := newReceiverService(cfg)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	addr, err := service.FeeReceiverAddress(height, rng)
	if err != nil {
		return err
	}

	fmt.Println(addr)

	return nil
}

var selectionHeightCommand = cli.Command{
	Name:      "selectionheight",
	Category:  "Receivers",
	Usage:     "Show the selection height for a chain height.",
	ArgsUsage: "chain_height",
	Action:    showSelectionHeight,
}

func showSelectionHeight(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "selectionheight")
	}

	chainHeight, err := parseHeight(ctx.Args().First())
	if err != nil {
		return err
	}

	cfg, cleanup, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	fmt.Println(cfg.BurningMan.SelectionHeight(chainHeight))

	return nil
}

// selectionHeight returns the height set with --height, or derives it from
// --chain_height.
func selectionHeight(ctx *cli.Context, cfg *escrowcfg.Config) (uint32,
	error) {

	switch {
	case ctx.IsSet(heightFlag.Name):
		return toHeight(ctx.Uint64(heightFlag.Name))

	case ctx.IsSet(chainHeightFlag.Name):
		chainHeight, err := toHeight(ctx.Uint64(chainHeightFlag.Name))
		if err != nil {
			return 0, err
		}

		return cfg.BurningMan.SelectionHeight(chainHeight), nil

	default:
		return 0, errors.New("either --height or --chain_height " +
			"must be set")
	}
}

func toHeight(h uint64) (uint32, error) {
	if h > math.MaxUint32 {
		return 0, fmt.Errorf("block height %d out of range", h)
	}

	return uint32(h), nil
}

// parseHeight parses a block height.
func parseHeight(s string) (uint32, error) {
	height, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid block height %q: %w", s, err)
	}

	return uint32(height), nil
}

func newReceiverService(cfg *escrowcfg.Config) (*burningman.Service,
	error) {

	source, err := cfg.BurningMan.Source()
	if err != nil {
		return nil, err
	}

	netParams, err := cfg.NetParams()
	if err != nil {
		return nil, err
	}

	return burningman.NewService(burningman.Config{
		Source:    source,
		Params:    cfg.Escrow.Params(),
		NetParams: netParams,
	}), nil
}

// printReceivers renders a receiver set as a table.
func printReceivers(w io.Writer, height uint32,
	receivers []burningman.Receiver) {

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.SetTitle(fmt.Sprintf("Receivers at height %d", height))
	tw.AppendHeader(table.Row{"#", "ADDRESS", "AMOUNT (SAT)"})

	var total int64
	for i, receiver := range receivers {
		tw.AppendRow(table.Row{i, receiver.Address, receiver.Weight})
		total += receiver.Weight
	}
	tw.AppendFooter(table.Row{"", "TOTAL", total})

	tw.Render()
}
