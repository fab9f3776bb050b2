package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/p2ptrade/escrowd/labels"
	"github.com/p2ptrade/escrowd/logutil"
)

// DefaultBroadcastTimeout is how long a broadcast waits for the publisher
// before it is treated as done.
const DefaultBroadcastTimeout = 30 * time.Second

// Outcome is how a single broadcast ended.
type Outcome uint8

const (
	// OutcomeAccepted means the publisher accepted the transaction.
	OutcomeAccepted Outcome = iota

	// OutcomeRejected means the publisher reported an error.
	OutcomeRejected

	// OutcomeTimeout means the publisher did not answer in time.
	OutcomeTimeout
)

// String returns a human readable name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("unknown<%d>", uint8(o))
	}
}

// BroadcasterConfig holds the dependencies of a Broadcaster.
type BroadcasterConfig struct {
	// Publisher hands the transaction to the network.
	Publisher Publisher

	// Clock drives the timeout. Defaults to the wall clock.
	Clock clock.Clock

	// Timeout bounds the wait for the publisher's answer. Defaults to
	// DefaultBroadcastTimeout.
	Timeout time.Duration

	// OnOutcome, if set, is called once per broadcast.
	// monitoring.Metrics.ObserveBroadcast fits here.
	OnOutcome func(Outcome)
}

// Broadcaster publishes transactions and races the publisher's answer
// against a timeout. Whichever completes first decides the result and the
// other one is ignored.
type Broadcaster struct {
	cfg BroadcasterConfig

	// seen remembers every transaction handed to the publisher so it can
	// be served as a TxSource.
	seen *TxStore
}

// Compile-time check to ensure Broadcaster implements TxSource.
var _ TxSource = (*Broadcaster)(nil)

// NewBroadcaster creates a broadcaster.
func NewBroadcaster(cfg BroadcasterConfig) *Broadcaster {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultBroadcastTimeout
	}

	return &Broadcaster{
		cfg:  cfg,
		seen: NewTxStore(),
	}
}

// Broadcast publishes tx and blocks until the publisher answered or the
// timeout expired. A timeout is not an error: the transaction may still
// propagate, so it is logged and nil is returned. A rejection is returned
// wrapped.
func (b *Broadcaster) Broadcast(tx *wire.MsgTx, label string) error {
	label, err := labels.Validate(label)
	if err != nil {
		return err
	}

	txHash := tx.TxHash()
	b.seen.AddTx(tx)

	var completed atomic.Bool
	result := make(chan error, 1)
	complete := func(err error) bool {
		if !completed.CompareAndSwap(false, true) {
			return false
		}
		result <- err

		return true
	}

	log.DebugS(context.TODO(), "Broadcasting transaction",
		"label", label, logutil.LogTxHash("txid", tx))

	b.cfg.Publisher.BroadcastTx(tx, label, func(err error) {
		if !complete(err) {
			log.Debugf("Ignoring late broadcast answer for %v: %v",
				txHash, err)
		}
	})

	select {
	case err = <-result:
	case <-b.cfg.Clock.TickAfter(b.cfg.Timeout):
		complete(ErrBroadcastTimeout)
		err = <-result
	}

	outcome := OutcomeAccepted
	switch {
	case errors.Is(err, ErrBroadcastTimeout):
		outcome = OutcomeTimeout
		log.Warnf("Broadcast of %v tx %v got no answer after %v, "+
			"assuming it propagates", label, txHash, b.cfg.Timeout)
		err = nil

	case err != nil:
		outcome = OutcomeRejected
		log.Errorf("Broadcast of %v tx %v failed: %v", label, txHash,
			err)
		err = fmt.Errorf("unable to broadcast %v tx %v: %w", label,
			txHash, err)

	default:
		log.Infof("Broadcast %v tx %v", label, txHash)
	}

	if b.cfg.OnOutcome != nil {
		b.cfg.OnOutcome(outcome)
	}

	return err
}

// FetchTx returns a transaction previously handed to Broadcast.
func (b *Broadcaster) FetchTx(hash chainhash.Hash) (*wire.MsgTx, error) {
	return b.seen.FetchTx(hash)
}

// TxStore is an in-memory TxSource.
type TxStore struct {
	mu  sync.RWMutex
	txs map[chainhash.Hash]*wire.MsgTx
}

// Compile-time check to ensure TxStore implements TxSource.
var _ TxSource = (*TxStore)(nil)

// NewTxStore creates an empty store.
func NewTxStore() *TxStore {
	return &TxStore{
		txs: make(map[chainhash.Hash]*wire.MsgTx),
	}
}

// AddTx stores a copy of tx.
func (s *TxStore) AddTx(tx *wire.MsgTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.txs[tx.TxHash()] = tx.Copy()
}

// FetchTx returns a copy of the stored transaction with the given hash.
func (s *TxStore) FetchTx(hash chainhash.Hash) (*wire.MsgTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.txs[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrTxNotFound, hash)
	}

	return tx.Copy(), nil
}
