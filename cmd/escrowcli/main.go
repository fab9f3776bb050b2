package main

import (
	"fmt"
	"os"

	"github.com/p2ptrade/escrowd/escrowcfg"
	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[escrowcli] %v\n", err)
	os.Exit(1)
}

// configFlags maps global cli flags to the escrow config options they set.
var configFlags = map[string]string{
	"escrowdir":     "escrowdir",
	"configfile":    "configfile",
	"network":       "network",
	"debuglevel":    "debuglevel",
	"receiverfile":  "burningman.receiverfile",
	"legacyaddress": "burningman.legacyaddress",
}

// loadConfig loads the escrow config, letting the global flags override
// the config file, and directs all logging to the log file. The returned
// closure must be called once the command finished.
func loadConfig(ctx *cli.Context) (*escrowcfg.Config, func(), error) {
	var args []string
	for flag, option := range configFlags {
		if ctx.GlobalIsSet(flag) {
			args = append(args, fmt.Sprintf("--%s=%s", option,
				ctx.GlobalString(flag)))
		}
	}

	cfg, err := escrowcfg.LoadConfig(args)
	if err != nil {
		return nil, nil, err
	}

	// Tables go to stdout, so the console logger stays quiet.
	cfg.LogConfig.Console.Disable = true
	logWriter, _, err := escrowcfg.InitLogging(cfg)
	if err != nil {
		return nil, nil, err
	}

	return cfg, func() { _ = logWriter.Close() }, nil
}

func main() {
	app := cli.NewApp()
	app.Name = "escrowcli"
	app.Usage = "inspect escrowed trades and redirect receivers"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "escrowdir",
			Value: escrowcfg.DefaultEscrowDir,
			Usage: "the base directory of the escrow data",
		},
		cli.StringFlag{
			Name:  "configfile",
			Usage: "path to the escrow config file",
		},
		cli.StringFlag{
			Name: "network, n",
			Usage: "the network trades run on (mainnet, testnet, " +
				"regtest, signet, simnet)",
		},
		cli.StringFlag{
			Name:  "debuglevel",
			Usage: "the log level written to the log file",
		},
		cli.StringFlag{
			Name:  "receiverfile",
			Usage: "path to the receiver snapshot file",
		},
		cli.StringFlag{
			Name:  "legacyaddress",
			Usage: "overrides the legacy address of the receiver file",
		},
	}
	app.Commands = []cli.Command{
		receiversCommand,
		feeReceiverCommand,
		selectionHeightCommand,
		listTradesCommand,
		showTradeCommand,
		exportPsbtCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
