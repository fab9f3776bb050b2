package chainntnfs

import (
	"encoding/binary"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/kvdb"
)

var (
	// spendHintBucket is the top level bucket of the cache. It holds one
	// nested bucket per trade, keyed by trade id, which maps the trade's
	// watched outpoints to their spend hints.
	spendHintBucket = []byte("staged-tx-spend-hints")

	// ErrCorruptedHeightHintCache indicates that the bucket structure of
	// the cache changed since it was initialized.
	ErrCorruptedHeightHintCache = errors.New("height hint cache has been " +
		"corrupted")

	// ErrSpendHintNotFound is returned when no spend hint is stored for
	// an outpoint of a trade.
	ErrSpendHintNotFound = errors.New("spend hint not found")

	byteOrder = binary.BigEndian
)

// CacheConfig contains the HeightHintCache configuration.
type CacheConfig struct {
	// QueryDisable makes every query return a zero hint. This recovers
	// from a stored hint above the real spend height, which would make
	// the notifier miss the spend.
	QueryDisable bool
}

// SpendHintCache remembers, per trade, the earliest height at which a
// watched staged transaction output could have been spent. Registering a
// spend notification from the hint spares a rescan from the deposit
// height after a restart.
type SpendHintCache interface {
	// CommitSpendHint stores height as the spend hint of the trade's
	// outpoint, replacing a previous hint.
	CommitSpendHint(tradeID string, height uint32, op wire.OutPoint) error

	// QuerySpendHint returns the spend hint of the trade's outpoint, or
	// ErrSpendHintNotFound.
	QuerySpendHint(tradeID string, op wire.OutPoint) (uint32, error)

	// PurgeSpendHints removes every hint of the trade.
	PurgeSpendHints(tradeID string) error
}

// HeightHintCache is a SpendHintCache stored in a kvdb backend.
type HeightHintCache struct {
	cfg CacheConfig
	db  kvdb.Backend
}

// A compile time check to ensure HeightHintCache implements SpendHintCache.
var _ SpendHintCache = (*HeightHintCache)(nil)

// NewHeightHintCache returns a height hint cache stored in db.
func NewHeightHintCache(cfg CacheConfig, db kvdb.Backend) (*HeightHintCache,
	error) {

	err := kvdb.Update(db, func(tx kvdb.RwTx) error {
		_, err := tx.CreateTopLevelBucket(spendHintBucket)
		return err
	}, func() {})
	if err != nil {
		return nil, err
	}

	return &HeightHintCache{cfg: cfg, db: db}, nil
}

// outPointKey returns the key of an outpoint within a trade bucket: the
// transaction hash followed by the big endian output index.
func outPointKey(op wire.OutPoint) []byte {
	key := make([]byte, chainhash.HashSize+4)
	copy(key, op.Hash[:])
	byteOrder.PutUint32(key[chainhash.HashSize:], op.Index)

	return key
}

// CommitSpendHint stores height as the spend hint of the trade's outpoint.
func (c *HeightHintCache) CommitSpendHint(tradeID string, height uint32,
	op wire.OutPoint) error {

	log.Tracef("Updating spend hint of %v for trade %v to height %d", op,
		tradeID, height)

	return kvdb.Batch(c.db, func(tx kvdb.RwTx) error {
		hints := tx.ReadWriteBucket(spendHintBucket)
		if hints == nil {
			return ErrCorruptedHeightHintCache
		}

		tradeHints, err := hints.CreateBucketIfNotExists(
			[]byte(tradeID),
		)
		if err != nil {
			return err
		}

		var hint [4]byte
		byteOrder.PutUint32(hint[:], height)

		return tradeHints.Put(outPointKey(op), hint[:])
	})
}

// QuerySpendHint returns the spend hint of the trade's outpoint. If queries
// are disabled the hint is always zero.
func (c *HeightHintCache) QuerySpendHint(tradeID string,
	op wire.OutPoint) (uint32, error) {

	if c.cfg.QueryDisable {
		log.Debugf("Ignoring spend hint of %v for trade %v, queries "+
			"disabled", op, tradeID)

		return 0, nil
	}

	var hint uint32
	err := kvdb.View(c.db, func(tx kvdb.RTx) error {
		hints := tx.ReadBucket(spendHintBucket)
		if hints == nil {
			return ErrCorruptedHeightHintCache
		}

		tradeHints := hints.NestedReadBucket([]byte(tradeID))
		if tradeHints == nil {
			return ErrSpendHintNotFound
		}

		raw := tradeHints.Get(outPointKey(op))
		switch {
		case raw == nil:
			return ErrSpendHintNotFound

		case len(raw) != 4:
			return ErrCorruptedHeightHintCache
		}
		hint = byteOrder.Uint32(raw)

		return nil
	}, func() {
		hint = 0
	})
	if err != nil {
		return 0, err
	}

	return hint, nil
}

// PurgeSpendHints removes every hint of the trade. Purging a trade without
// hints is not an error.
func (c *HeightHintCache) PurgeSpendHints(tradeID string) error {
	log.Tracef("Removing spend hints of trade %v", tradeID)

	return kvdb.Batch(c.db, func(tx kvdb.RwTx) error {
		hints := tx.ReadWriteBucket(spendHintBucket)
		if hints == nil {
			return ErrCorruptedHeightHintCache
		}

		key := []byte(tradeID)
		if hints.NestedReadWriteBucket(key) == nil {
			return nil
		}

		return hints.DeleteNestedBucket(key)
	})
}
