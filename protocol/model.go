package protocol

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/p2ptrade/escrowd/burningman"
	"github.com/p2ptrade/escrowd/escrow"
	"github.com/p2ptrade/escrowd/input"
	"github.com/p2ptrade/escrowd/stagedtx"
	"github.com/p2ptrade/escrowd/trade"
)

// Broadcaster publishes a staged transaction. A nil error means the
// transaction was accepted or may still propagate.
type Broadcaster interface {
	Broadcast(tx *wire.MsgTx, label string) error
}

// Watcher reconciles the chain into the dispute state of trades.
type Watcher interface {
	// Watch arms the watcher for the trade.
	Watch(t *trade.Trade) error

	// Unwatch drops the trade's subscription.
	Unwatch(tradeID string)
}

// ReceiverSelector computes the redirect receivers of a trade.
type ReceiverSelector interface {
	GetReceivers(selectionHeight uint32, inputAmount btcutil.Amount,
		depositFeeRate escrow.SatPerVByte,
		opts ...burningman.ReceiverOption) ([]burningman.Receiver, error)
}

// SignatureSet is the set of signatures one party contributes to the staged
// transactions. "Own" signatures cover the signer's own warning and redirect
// transactions, "peer" signatures cover the other party's.
type SignatureSet struct {
	OwnWarningSig   []byte
	OwnRedirectSig  []byte
	PeerWarningSig  []byte
	PeerRedirectSig []byte
}

// Model is the shared context of a single pipeline run. It is created fresh
// for every run.
type Model struct {
	// Trade is the trade the pipeline operates on.
	Trade *trade.Trade

	// PeerSigs are the signatures received from the peer, if the run
	// applies them.
	PeerSigs *SignatureSet

	// OwnSigs collects our signatures, if the run creates them.
	OwnSigs *SignatureSet

	Params      escrow.Params
	NetParams   *chaincfg.Params
	Signer      input.Signer
	Receivers   ReceiverSelector
	Broadcaster Broadcaster
	Watcher     Watcher
}

// keys returns the trade's escrow keys.
func (m *Model) keys() stagedtx.EscrowKeys {
	return stagedtx.KeysForTrade(m.Trade)
}

// peerIsBuyer returns true if the trading peer is the BTC buyer.
func (m *Model) peerIsBuyer() bool {
	return !m.Trade.IsBuyer
}

// warningScript returns the witness script of the warning output owned by
// party.
func (m *Model) warningScript(party *trade.PartyEscrowState) ([]byte, error) {
	script, _, err := m.keys().WarningScript(
		m.Params.ClaimDelay, party.MultiSigPubKey,
	)

	return script, err
}

// other returns the mirror of party.
func (m *Model) other(party *trade.PartyEscrowState) *trade.PartyEscrowState {
	return m.Trade.Party(party.Role.Other())
}
