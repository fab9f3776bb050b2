package wallet

import (
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrTxNotFound is returned by a TxSource that does not know the
	// requested transaction.
	ErrTxNotFound = errors.New("transaction not found")

	// ErrBroadcastTimeout is reported when the publisher did not answer a
	// broadcast within the configured timeout.
	ErrBroadcastTimeout = errors.New("broadcast timed out")
)

// TxSource looks up transactions known to the wallet or the chain backend.
type TxSource interface {
	// FetchTx returns the transaction with the given hash, or
	// ErrTxNotFound.
	FetchTx(hash chainhash.Hash) (*wire.MsgTx, error)
}

// Publisher hands transactions to the network.
type Publisher interface {
	// BroadcastTx publishes tx under the given wallet label. The
	// callback is invoked once the backend accepted or rejected the
	// transaction, possibly from another goroutine and possibly never.
	BroadcastTx(tx *wire.MsgTx, label string, cb func(error))
}
