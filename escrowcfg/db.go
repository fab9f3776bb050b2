package escrowcfg

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/p2ptrade/escrowd/chainntnfs"
	"github.com/p2ptrade/escrowd/tradedb"
)

const (
	// DBName is the file name of the bolt database inside the data
	// directory.
	DBName = "escrow.db"
)

// DB holds the database options.
//
//nolint:lll
type DB struct {
	NoFreelistSync bool `long:"nofreelistsync" description:"Do not sync the bolt freelist to disk. Speeds up writes at the cost of a slower startup."`

	Timeout time.Duration `long:"timeout" description:"How long to wait for the database file lock when opening the database."`

	NoHintQuery bool `long:"nohintquery" description:"Ignore the stored spend hints and rescan watched outputs from the start."`
}

// DefaultDB returns the default database options.
func DefaultDB() *DB {
	return &DB{
		NoFreelistSync: true,
		Timeout:        kvdb.DefaultDBTimeout,
	}
}

// Validate checks the database options.
func (db *DB) Validate() error {
	if db.Timeout <= 0 {
		return fmt.Errorf("db timeout must be positive, got %v",
			db.Timeout)
	}

	return nil
}

// Compile-time constraint to ensure DB implements the Validator interface.
var _ Validator = (*DB)(nil)

// Stores bundles the stores living in the escrow database.
type Stores struct {
	// Backend is the shared bolt backend.
	Backend kvdb.Backend

	// Trades holds the trades.
	Trades *tradedb.DB

	// SpendHints remembers, per trade, the heights from which watched
	// outputs can be spent.
	SpendHints *chainntnfs.HeightHintCache
}

// Close closes the shared backend.
func (s *Stores) Close() error {
	return s.Backend.Close()
}

// GetBackend opens, or creates, the bolt database inside dataDir.
func (db *DB) GetBackend(dataDir string) (kvdb.Backend, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, err
	}

	return kvdb.Create(
		kvdb.BoltBackendName, filepath.Join(dataDir, DBName),
		db.NoFreelistSync, db.Timeout, false,
	)
}

// OpenStores opens the database inside dataDir and initializes the trade
// store and the spend hint cache on top of it.
func (db *DB) OpenStores(dataDir string) (*Stores, error) {
	backend, err := db.GetBackend(dataDir)
	if err != nil {
		return nil, fmt.Errorf("unable to open escrow db: %w", err)
	}

	trades, err := tradedb.New(backend)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	hints, err := chainntnfs.NewHeightHintCache(
		chainntnfs.CacheConfig{QueryDisable: db.NoHintQuery}, backend,
	)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	return &Stores{
		Backend:    backend,
		Trades:     trades,
		SpendHints: hints,
	}, nil
}
