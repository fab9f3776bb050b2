package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/p2ptrade/escrowd/stagedtx"
	"github.com/p2ptrade/escrowd/trade"
	"github.com/urfave/cli"
)

var listTradesCommand = cli.Command{
	Name:     "listtrades",
	Category: "Trades",
	Usage:    "List all stored trades.",
	Action:   listTrades,
}

func listTrades(ctx *cli.Context) error {
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

	trades, err := stores.Trades.FetchAllTrades()
	if err != nil {
		return err
	}

	printTrades(os.Stdout, trades)

	return nil
}

var showTradeCommand = cli.Command{
	Name:      "showtrade",
	Category:  "Trades",
	Usage:     "Show the escrow state of a trade.",
	ArgsUsage: "trade_id",
	Action:    showTrade,
}

func showTrade(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "showtrade")
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

	printTrade(os.Stdout, t)

	return nil
}

// tradeSide returns the side we take in the trade.
func tradeSide(t *trade.Trade) string {
	if t.IsBuyer {
		return "buyer"
	}

	return "seller"
}

// fundsStatus describes where the deposit funds are.
func fundsStatus(t *trade.Trade) string {
	switch {
	case t.FundsLockedIn():
		return "locked"

	case t.IsFundsUnreleased():
		return "unreleased"

	default:
		return "released"
	}
}

// txid returns the id of a serialized transaction, or "-" if there is none.
func txid(raw fn.Option[[]byte]) string {
	return orDash(fn.MapOptionZ(raw, func(b []byte) string {
		tx, err := stagedtx.DeserializeTx(b)
		if err != nil {
			return "invalid"
		}

		return tx.TxHash().String()
	}))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}

// printTrades renders a trade overview, sorted by trade id.
func printTrades(w io.Writer, trades []*trade.Trade) {
	sort.Slice(trades, func(i, j int) bool {
		return trades[i].ID < trades[j].ID
	})

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{
		"ID", "SIDE", "PHASE", "DISPUTE", "LOCAL STAGE",
		"REMOTE STAGE", "FUNDS",
	})
	for _, t := range trades {
		tw.AppendRow(table.Row{
			t.ID, tradeSide(t), t.Phase, t.DisputeState,
			t.Local.Stage(), t.Remote.Stage(), fundsStatus(t),
		})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "", "TOTAL", len(trades)})

	tw.Render()
}

// printTrade renders the details of a single trade and the staged
// transactions of both parties.
func printTrade(w io.Writer, t *trade.Trade) {
	deposit := "-"
	if t.DepositTx != nil {
		deposit = t.DepositTx.TxHash().String()
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.SetTitle(fmt.Sprintf("Trade %v", t.ID))
	tw.AppendRows([]table.Row{
		{"side", tradeSide(t)},
		{"phase", t.Phase},
		{"dispute state", t.DisputeState},
		{"mediation result", t.MediationResultState},
		{"funds", fundsStatus(t)},
		{"lock time", t.LockTime},
		{"deposit fee rate", t.DepositTxFeeRate},
		{"selection height", t.SelectionHeight},
		{"deposit txid", deposit},
	})
	tw.Render()

	pw := table.NewWriter()
	pw.SetOutputMirror(w)
	pw.SetStyle(table.StyleLight)
	pw.AppendHeader(table.Row{
		"PARTY", "STAGE", "WARNING TXID", "REDIRECT TXID", "CLAIM TXID",
		"CLAIM ADDRESS",
	})
	for _, party := range []*trade.PartyEscrowState{t.Local, t.Remote} {
		pw.AppendRow(table.Row{
			party.Role, party.Stage(), txid(party.FinalizedWarningTx),
			txid(party.FinalizedRedirectTx),
			txid(party.SignedClaimTx), orDash(party.ClaimAddress),
		})
	}
	pw.Render()
}
