package stagedtx

import (
	"bytes"

	"github.com/btcsuite/btcd/wire"
)

// SerializeTx returns the canonical serialization of tx, including its
// witness data.
func SerializeTx(tx *wire.MsgTx) ([]byte, error) {
	var b bytes.Buffer
	b.Grow(tx.SerializeSize())
	if err := tx.Serialize(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// DeserializeTx parses a serialized transaction.
func DeserializeTx(raw []byte) (*wire.MsgTx, error) {
	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}

	return tx, nil
}

// TxEqual returns true if tx serializes to exactly raw. Both trade parties
// hold the bytes of every transaction they cosigned, so byte equality
// decides whether a transaction seen on chain is ours.
func TxEqual(raw []byte, tx *wire.MsgTx) bool {
	if tx == nil || len(raw) == 0 {
		return false
	}

	serialized, err := SerializeTx(tx)
	if err != nil {
		return false
	}

	return bytes.Equal(raw, serialized)
}
