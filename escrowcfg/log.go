package escrowcfg

import (
	"fmt"

	"github.com/btcsuite/btclog/v2"
	"github.com/p2ptrade/escrowd/build"
	"github.com/p2ptrade/escrowd/burningman"
	"github.com/p2ptrade/escrowd/chainntnfs"
	"github.com/p2ptrade/escrowd/contractcourt"
	"github.com/p2ptrade/escrowd/dispatch"
	"github.com/p2ptrade/escrowd/protocol"
	"github.com/p2ptrade/escrowd/stagedtx"
	"github.com/p2ptrade/escrowd/taskrunner"
	"github.com/p2ptrade/escrowd/tradedb"
	"github.com/p2ptrade/escrowd/wallet"
)

// Subsystem defines the logging code for this subsystem.
const Subsystem = "ESCR"

// log is a logger that is initialized with no output filters. This means the
// package will not perform any logging by default until the caller requests
// it.
var log btclog.Logger

// The default amount of logging is none.
func init() {
	UseLogger(build.NewSubLogger(Subsystem, nil))
}

// DisableLog disables all library log output. Logging output is disabled by
// default until UseLogger is called.
func DisableLog() {
	UseLogger(btclog.Disabled)
}

// UseLogger uses a specified Logger to output package logging info. This
// should be used in preference to SetLogWriter if the caller is also using
// btclog.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// SetupLoggers initializes all package-global logger variables.
func SetupLoggers(root *build.SubLoggerManager) {
	AddSubLogger(root, Subsystem, UseLogger)
	AddSubLogger(root, burningman.Subsystem, burningman.UseLogger)
	AddSubLogger(root, chainntnfs.Subsystem, chainntnfs.UseLogger)
	AddSubLogger(root, contractcourt.Subsystem, contractcourt.UseLogger)
	AddSubLogger(root, dispatch.Subsystem, dispatch.UseLogger)
	AddSubLogger(root, protocol.Subsystem, protocol.UseLogger)
	AddSubLogger(root, stagedtx.Subsystem, stagedtx.UseLogger)
	AddSubLogger(root, taskrunner.Subsystem, taskrunner.UseLogger)
	AddSubLogger(root, tradedb.Subsystem, tradedb.UseLogger)
	AddSubLogger(root, wallet.Subsystem, wallet.UseLogger)
}

// AddSubLogger is a helper method to conveniently create and register the
// logger of one or more sub systems.
func AddSubLogger(root *build.SubLoggerManager, subsystem string,
	useLoggers ...func(btclog.Logger)) {

	logger := root.GenSubLogger(subsystem)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}

// InitLogging creates the console and file log handlers described by cfg,
// registers every subsystem logger with them and applies the configured
// debug level. The returned writer is nil if the file logger is disabled,
// and must be closed on shutdown either way.
func InitLogging(cfg *Config) (*build.RotatingLogWriter,
	*build.SubLoggerManager, error) {

	var logWriter *build.RotatingLogWriter
	if !cfg.LogConfig.File.Disable {
		var err error
		logWriter, err = build.OpenLogFile(
			cfg.LogConfig.File, cfg.LogFile(),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to open log file: %w",
				err)
		}
	}

	root := build.NewSubLoggerManager(
		build.NewDefaultLogHandlers(cfg.LogConfig, logWriter)...,
	)
	SetupLoggers(root)

	err := build.ParseAndSetDebugLevels(cfg.DebugLevel, root)
	if err != nil {
		_ = logWriter.Close()
		return nil, nil, err
	}

	return logWriter, root, nil
}
