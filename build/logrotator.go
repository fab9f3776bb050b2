package build

import (
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jrick/logrotate/rotator"
	"github.com/klauspost/compress/zstd"
)

// Supported log compressors.
const (
	Gzip = "gzip"
	Zstd = "zstd"
)

// logCompressor describes how rotated log files are compressed.
type logCompressor struct {
	// suffix is the file extension of compressed roll files.
	suffix string

	// create returns a fresh compressor for the rotator.
	create func() (rotator.Compressor, error)
}

var compressors = map[string]logCompressor{
	Gzip: {
		suffix: "gz",
		create: func() (rotator.Compressor, error) {
			return gzip.NewWriter(nil), nil
		},
	},
	Zstd: {
		suffix: "zst",
		create: func() (rotator.Compressor, error) {
			return zstd.NewWriter(nil)
		},
	},
}

// SupportedLogCompressor returns whether name is a known log compressor.
func SupportedLogCompressor(name string) bool {
	_, ok := compressors[name]
	return ok
}

// RotatingLogWriter writes log lines to a file that is rolled over, and
// compressed, once it reaches the configured size. A nil writer discards
// everything.
type RotatingLogWriter struct {
	rotator *rotator.Rotator
}

// OpenLogFile creates the log directory and a writer appending to logFile.
// Roll files are created next to logFile. The writer must be closed on
// shutdown.
func OpenLogFile(cfg *FileLoggerConfig, logFile string) (*RotatingLogWriter,
	error) {

	compressor, ok := compressors[cfg.Compressor]
	if !ok {
		return nil, fmt.Errorf("unknown log compressor: %v",
			cfg.Compressor)
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0700); err != nil {
		return nil, fmt.Errorf("unable to create log directory: %w",
			err)
	}

	c, err := compressor.create()
	if err != nil {
		return nil, fmt.Errorf("unable to create %v compressor: %w",
			cfg.Compressor, err)
	}

	// The rotator takes the threshold in KB.
	r, err := rotator.New(
		logFile, int64(cfg.MaxLogFileSize*1024), false, cfg.MaxLogFiles,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create file rotator: %w", err)
	}
	r.SetCompressor(c, compressor.suffix)

	return &RotatingLogWriter{rotator: r}, nil
}

// Write appends b to the log file, rolling it over when needed.
func (r *RotatingLogWriter) Write(b []byte) (int, error) {
	if r == nil {
		return len(b), nil
	}

	return r.rotator.Write(b)
}

// Close closes the current log file.
func (r *RotatingLogWriter) Close() error {
	if r == nil {
		return nil
	}

	return r.rotator.Close()
}
