package build

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btclog/v2"
)

// Call site choices of a logger.
const (
	callSiteOff   = "off"
	callSiteShort = "short"
	callSiteLong  = "long"
)

const (
	// DefaultMaxLogFiles is the number of rotated log files kept by
	// default.
	DefaultMaxLogFiles = 10

	// DefaultMaxLogFileSize is the default size in MB at which the log
	// file is rotated.
	DefaultMaxLogFileSize = 20

	// handlerSkipDepth is the number of frames between a log call and the
	// btclog handler. The HandlerSet adds one frame to the library's
	// default.
	handlerSkipDepth = 7
)

// LogConfig holds the options of the console and the file logger.
//
//nolint:lll
type LogConfig struct {
	Console *ConsoleLoggerConfig `group:"console" namespace:"console" description:"The logger writing to stdout."`
	File    *FileLoggerConfig    `group:"file" namespace:"file" description:"The logger writing to the escrow log file."`
}

// DefaultLogConfig returns the logging defaults: no call sites, gzip
// rotation of ten 20 MB files.
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Console: &ConsoleLoggerConfig{
			LoggerConfig: LoggerConfig{CallSite: callSiteOff},
		},
		File: &FileLoggerConfig{
			LoggerConfig:   LoggerConfig{CallSite: callSiteOff},
			Compressor:     Gzip,
			MaxLogFiles:    DefaultMaxLogFiles,
			MaxLogFileSize: DefaultMaxLogFileSize,
		},
	}
}

// Validate checks the file rotation options and the call site choices.
func (c *LogConfig) Validate() error {
	if err := c.Console.validate(); err != nil {
		return fmt.Errorf("console logger: %w", err)
	}
	if err := c.File.validate(); err != nil {
		return fmt.Errorf("file logger: %w", err)
	}

	if c.File.Disable {
		return nil
	}

	if _, ok := compressors[c.File.Compressor]; !ok {
		return fmt.Errorf("invalid log compressor: %v",
			c.File.Compressor)
	}

	switch {
	case c.File.MaxLogFiles < 0:
		return fmt.Errorf("max log files must be non-negative, got %d",
			c.File.MaxLogFiles)

	case c.File.MaxLogFileSize <= 0:
		return fmt.Errorf("max log file size must be positive, got %d",
			c.File.MaxLogFileSize)
	}

	return nil
}

// LoggerConfig holds the options shared by the console and the file
// logger.
//
//nolint:lll
type LoggerConfig struct {
	Disable      bool   `long:"disable" description:"Disable this logger."`
	NoTimestamps bool   `long:"no-timestamps" description:"Omit timestamps from log lines."`
	CallSite     string `long:"call-site" description:"Include the call-site of each log line." choice:"off" choice:"short" choice:"long"`
}

// validate rejects an unknown call site choice. An empty choice is off.
func (cfg *LoggerConfig) validate() error {
	switch cfg.CallSite {
	case "", callSiteOff, callSiteShort, callSiteLong:
		return nil
	default:
		return errors.New("unknown call site " + cfg.CallSite)
	}
}

// handlerOptions translates the options into btclog handler options,
// followed by extra.
func (cfg *LoggerConfig) handlerOptions(
	extra ...btclog.HandlerOption) []btclog.HandlerOption {

	opts := []btclog.HandlerOption{
		btclog.WithCallSiteSkipDepth(handlerSkipDepth),
	}

	if cfg.NoTimestamps {
		opts = append(opts, btclog.WithNoTimestamp())
	}

	switch cfg.CallSite {
	case callSiteShort:
		opts = append(opts, btclog.WithCallerFlags(btclog.Lshortfile))
	case callSiteLong:
		opts = append(opts, btclog.WithCallerFlags(btclog.Llongfile))
	}

	return append(opts, extra...)
}

// ConsoleLoggerConfig adds terminal styling to LoggerConfig.
//
//nolint:lll
type ConsoleLoggerConfig struct {
	LoggerConfig
	Style bool `long:"style" description:"If set, the output will be styled with color and fonts"`
}

// HandlerOptions returns the btclog options of the console handler.
func (cfg *ConsoleLoggerConfig) HandlerOptions() []btclog.HandlerOption {
	if cfg.Style {
		return cfg.handlerOptions(
			btclog.WithStyledLevel(styleLevel),
			btclog.WithStyledCallSite(styleCallSite),
			btclog.WithStyledKeys(styleKey),
		)
	}

	return cfg.handlerOptions()
}

// FileLoggerConfig adds rotation options to LoggerConfig.
//
//nolint:lll
type FileLoggerConfig struct {
	LoggerConfig
	Compressor     string `long:"compressor" description:"Compression algorithm to use when rotating logs." choice:"gzip" choice:"zstd"`
	MaxLogFiles    int    `long:"max-files" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int    `long:"max-file-size" description:"Maximum logfile size in MB"`
}

// HandlerOptions returns the btclog options of the file handler.
func (cfg *FileLoggerConfig) HandlerOptions() []btclog.HandlerOption {
	return cfg.handlerOptions()
}
