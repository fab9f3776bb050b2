package build

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btclog/v2"
)

// NewSubLogger constructs a new subsystem log using the passed generator. If
// no generator is provided, the returned logger is disabled. Packages call
// this from their init functions so that they always hold a usable logger,
// even when the daemon has not set up its log handlers yet.
func NewSubLogger(subsystem string,
	genSubLogger func(string) btclog.Logger) btclog.Logger {

	if genSubLogger != nil {
		return genSubLogger(subsystem)
	}

	return btclog.Disabled
}

// SubLoggers is a type that holds a map of subsystem loggers keyed by their
// subsystem name.
type SubLoggers map[string]btclog.Logger

// LeveledSubLogger provides the ability to retrieve the subsystem loggers of
// a logger and set their log levels individually or all at once.
type LeveledSubLogger interface {
	// SubLoggers returns the map of all registered subsystem loggers.
	SubLoggers() SubLoggers

	// SupportedSubsystems returns a slice of strings containing the names
	// of the supported subsystems. Should ideally correspond to the keys
	// of the subsystem logger map and be sorted.
	SupportedSubsystems() []string

	// SetLogLevel assigns an individual subsystem logger a new log level.
	SetLogLevel(subsystemID string, logLevel string)

	// SetLogLevels assigns all subsystem loggers the same new log level.
	SetLogLevels(logLevel string)
}

// ErrInvalidDebugLevel is returned for a debug level string that cannot be
// applied.
var ErrInvalidDebugLevel = errors.New("invalid debug level")

// ParseAndSetDebugLevels applies a debug level string to logger. The string
// is a comma separated list of subsystem=level pairs, optionally led by a
// level for all subsystems, e.g. "info,PRTO=trace,CNCT=debug". Nothing is
// applied unless the whole string is valid.
func ParseAndSetDebugLevels(level string, logger LeveledSubLogger) error {
	var (
		globalLevel string
		pairs       = make(map[string]string)
		subLoggers  = logger.SubLoggers()
	)
	for i, entry := range strings.Split(level, ",") {
		subsystem, subLevel, isPair := strings.Cut(entry, "=")
		switch {
		case !isPair && i == 0:
			if !validLogLevel(entry) {
				return fmt.Errorf("%w: %q", ErrInvalidDebugLevel,
					entry)
			}
			globalLevel = entry

			continue

		case !isPair || strings.Contains(subLevel, "="):
			return fmt.Errorf("%w: malformed entry %q, use "+
				"subsystem1=level1,subsystem2=level2",
				ErrInvalidDebugLevel, entry)
		}

		if _, ok := subLoggers[subsystem]; !ok {
			return fmt.Errorf("%w: unknown subsystem %q, supported "+
				"subsystems are %v", ErrInvalidDebugLevel,
				subsystem, logger.SupportedSubsystems())
		}
		if !validLogLevel(subLevel) {
			return fmt.Errorf("%w: %q for %v", ErrInvalidDebugLevel,
				subLevel, subsystem)
		}
		pairs[subsystem] = subLevel
	}

	if globalLevel != "" {
		logger.SetLogLevels(globalLevel)
	}
	for subsystem, subLevel := range pairs {
		logger.SetLogLevel(subsystem, subLevel)
	}

	return nil
}

// validLogLevel returns whether logLevel names a btclog level.
func validLogLevel(logLevel string) bool {
	_, ok := btclog.LevelFromString(logLevel)
	return ok
}
