package tradedb

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/p2ptrade/escrowd/trade"
)

var (
	// tradeBucket is the top level bucket holding every known trade.
	//
	// maps: trade id -> tlv encoded trade
	tradeBucket = []byte("trades")

	// ErrNoTradesBucket is returned when the trade bucket was not
	// initialized.
	ErrNoTradesBucket = errors.New("trades bucket does not exist")
)

// DB stores trades in a key value backend.
type DB struct {
	backend kvdb.Backend
}

// New wraps the given backend, creating the trade bucket if needed.
func New(backend kvdb.Backend) (*DB, error) {
	err := kvdb.Update(backend, func(tx kvdb.RwTx) error {
		_, err := tx.CreateTopLevelBucket(tradeBucket)
		return err
	}, func() {})
	if err != nil {
		return nil, err
	}

	return &DB{backend: backend}, nil
}

// Open opens, or creates, a bolt database at path.
func Open(path string) (*DB, error) {
	backend, err := kvdb.Create(
		kvdb.BoltBackendName, path, true, kvdb.DefaultDBTimeout, false,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to open trade db: %w", err)
	}

	db, err := New(backend)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	return db, nil
}

// Close closes the underlying backend.
func (d *DB) Close() error {
	return d.backend.Close()
}

// PutTrade stores the trade, replacing any previous version.
func (d *DB) PutTrade(t *trade.Trade) error {
	var b bytes.Buffer
	if err := encodeTrade(&b, t); err != nil {
		return err
	}

	return d.putRaw(t.ID, b.Bytes())
}

// putRaw stores an already encoded trade.
func (d *DB) putRaw(id string, raw []byte) error {
	return kvdb.Update(d.backend, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(tradeBucket)
		if bucket == nil {
			return ErrNoTradesBucket
		}

		return bucket.Put([]byte(id), raw)
	}, func() {})
}

// FetchTrade returns the trade with the given id, or trade.ErrUnknownTrade.
func (d *DB) FetchTrade(id string) (*trade.Trade, error) {
	var t *trade.Trade
	err := kvdb.View(d.backend, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(tradeBucket)
		if bucket == nil {
			return ErrNoTradesBucket
		}

		raw := bucket.Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("%w: %v", trade.ErrUnknownTrade, id)
		}

		var err error
		t, err = decodeTrade(bytes.NewReader(raw))

		return err
	}, func() {
		t = nil
	})
	if err != nil {
		return nil, err
	}

	return t, nil
}

// FetchAllTrades returns every stored trade ordered by id.
func (d *DB) FetchAllTrades() ([]*trade.Trade, error) {
	var trades []*trade.Trade
	err := kvdb.View(d.backend, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(tradeBucket)
		if bucket == nil {
			return ErrNoTradesBucket
		}

		return bucket.ForEach(func(k, v []byte) error {
			t, err := decodeTrade(bytes.NewReader(v))
			if err != nil {
				return fmt.Errorf("unable to decode trade "+
					"%s: %w", k, err)
			}
			trades = append(trades, t)

			return nil
		})
	}, func() {
		trades = nil
	})
	if err != nil {
		return nil, err
	}

	return trades, nil
}

// DeleteTrade removes the trade with the given id.
func (d *DB) DeleteTrade(id string) error {
	return kvdb.Update(d.backend, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(tradeBucket)
		if bucket == nil {
			return ErrNoTradesBucket
		}

		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %v", trade.ErrUnknownTrade, id)
		}

		return bucket.Delete([]byte(id))
	}, func() {})
}
