package chainntnfs

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ErrChainNotifierShuttingDown is used when we are trying to register a
// notification while the notifier is shutting down.
var ErrChainNotifierShuttingDown = errors.New("chain notifier shutting down")

// ChainNotifier represents a trusted source to receive notifications
// concerning targeted events on the Bitcoin blockchain. Spend notifications
// are delivered for transactions seen in the mempool and again as they gain
// confirmations, so a client must tolerate repeated notifications for the
// same spend.
type ChainNotifier interface {
	// RegisterSpendNtfn registers an intent to be notified once the
	// target outpoint is spent by a transaction, either in the mempool
	// or in a block. The pkScript of the spent output is used by light
	// clients to match the spend. heightHint is the earliest height the
	// outpoint could have been spent at.
	RegisterSpendNtfn(outpoint *wire.OutPoint, pkScript []byte,
		heightHint uint32) (*SpendEvent, error)

	// Start the ChainNotifier. Once started, the implementation should
	// be ready, and able to receive notification registrations from
	// clients.
	Start() error

	// Stop the ChainNotifier. Once stopped, the ChainNotifier should
	// disallow any future requests from potential clients.
	Stop() error
}

// SpendDetail contains details pertaining to a spent output. This struct
// itself is the spentness notification. It includes the original outpoint
// which triggered the notification, the hash of the transaction spending
// the output, the spending transaction itself, the height the spending
// transaction was included in, and its confirmation depth.
type SpendDetail struct {
	SpentOutPoint     *wire.OutPoint
	SpenderTxHash     *chainhash.Hash
	SpendingTx        *wire.MsgTx
	SpenderInputIndex uint32

	// SpendingHeight is the height of the block including the spending
	// transaction, or zero while it is unconfirmed.
	SpendingHeight int32

	// Depth is the number of confirmations of the spending transaction,
	// zero while it is in the mempool.
	Depth uint32
}

// String returns a string representation of SpendDetail.
func (s *SpendDetail) String() string {
	return fmt.Sprintf("%v[%d] spending %v at height=%v, depth=%v",
		s.SpenderTxHash, s.SpenderInputIndex, s.SpentOutPoint,
		s.SpendingHeight, s.Depth)
}

// InMempool returns true if the spending transaction is not confirmed yet.
func (s *SpendDetail) InMempool() bool {
	return s.Depth == 0
}

// SpendEvent encapsulates a spentness notification. Its Spend channel will
// be sent upon once the target output passed into RegisterSpendNtfn has been
// spent, and again whenever the confidence of the spend changes.
//
// NOTE: If the caller wishes to cancel their registered spend notification,
// the Cancel closure MUST be called.
type SpendEvent struct {
	// Spend is a receive only channel which will be sent upon once the
	// target outpoint has been spent.
	//
	// NOTE: This channel must be buffered.
	Spend <-chan *SpendDetail

	// Cancel is a closure that should be executed by the caller in the
	// case that they wish to prematurely abandon their registered spend
	// notification.
	Cancel func()
}

// NewSpendDetail builds the spend detail of input idx of spendingTx.
func NewSpendDetail(spendingTx *wire.MsgTx, idx uint32, height int32,
	depth uint32) *SpendDetail {

	txHash := spendingTx.TxHash()
	spent := spendingTx.TxIn[idx].PreviousOutPoint

	return &SpendDetail{
		SpentOutPoint:     &spent,
		SpenderTxHash:     &txHash,
		SpendingTx:        spendingTx,
		SpenderInputIndex: idx,
		SpendingHeight:    height,
		Depth:             depth,
	}
}
