package trade

import (
	"errors"

	"github.com/btcsuite/btcd/wire"
	"github.com/p2ptrade/escrowd/escrow"
)

// ErrUnknownTrade is returned when a trade id is not known.
var ErrUnknownTrade = errors.New("unknown trade")

// Trade is the aggregate root of a single negotiated exchange. It owns the
// two mirrored escrow states and the dispute state driven by the chain.
//
// NOTE: A Trade must only be mutated from the trade's single logical thread.
type Trade struct {
	// ID is the unique trade id.
	ID string

	// IsBuyer is true if we are the BTC buyer of this trade.
	IsBuyer bool

	// LockTime is the absolute block height negotiated at deposit time.
	// Warning transactions are invalid before it.
	LockTime uint32

	// DepositTxFeeRate is the fee rate the deposit transaction paid. All
	// staged transactions derive their mining fee from it.
	DepositTxFeeRate escrow.SatPerVByte

	// DepositTx is the 2-of-2 deposit transaction, nil until known.
	DepositTx *wire.MsgTx

	// SelectionHeight is the height the redirect receivers are selected
	// at.
	SelectionHeight uint32

	// Phase is the lifecycle phase of the trade.
	Phase Phase

	// DisputeState is the escalation state of the trade.
	DisputeState DisputeState

	// MediationResultState is the progress of a mediated payout.
	MediationResultState MediationResultState

	// Local is our half of the staged transaction chain.
	Local *PartyEscrowState

	// Remote is the trading peer's half of the staged transaction chain.
	Remote *PartyEscrowState
}

// New creates a trade with empty escrow states.
func New(id string, isBuyer bool, lockTime uint32,
	depositFeeRate escrow.SatPerVByte) *Trade {

	return &Trade{
		ID:               id,
		IsBuyer:          isBuyer,
		LockTime:         lockTime,
		DepositTxFeeRate: depositFeeRate,
		Local:            NewPartyEscrowState(Local),
		Remote:           NewPartyEscrowState(Remote),
	}
}

// Party returns the escrow state of the given role.
func (t *Trade) Party(role Role) *PartyEscrowState {
	if role == Local {
		return t.Local
	}

	return t.Remote
}

// Buyer returns the escrow state of the BTC buyer.
func (t *Trade) Buyer() *PartyEscrowState {
	if t.IsBuyer {
		return t.Local
	}

	return t.Remote
}

// Seller returns the escrow state of the BTC seller.
func (t *Trade) Seller() *PartyEscrowState {
	if t.IsBuyer {
		return t.Remote
	}

	return t.Local
}

// IsPartyBuyer returns true if the party with the given role is the buyer.
func (t *Trade) IsPartyBuyer(role Role) bool {
	return (role == Local) == t.IsBuyer
}

// DepositConfirmed returns true once the deposit transaction confirmed.
func (t *Trade) DepositConfirmed() bool {
	return t.Phase >= PhaseDepositConfirmed
}

// PayoutPublished returns true once the cooperative payout was published.
func (t *Trade) PayoutPublished() bool {
	return t.Phase >= PhasePayoutPublished
}

// SetPhase advances the trade phase and returns false, leaving the phase
// untouched, if phase does not lie ahead of the current one.
func (t *Trade) SetPhase(phase Phase) bool {
	if !t.Phase.IsValidTransitionTo(phase) {
		return false
	}
	t.Phase = phase

	return true
}

// FundsLockedIn returns true while the deposit is confirmed and no payout,
// mediated payout, redirect or claim has released the funds.
func (t *Trade) FundsLockedIn() bool {
	if !t.DepositConfirmed() {
		return false
	}

	if t.PayoutPublished() {
		return false
	}

	if t.DisputeState == MediationClosed &&
		t.MediationResultState >= MediationPayoutPublished {

		return false
	}

	switch t.DisputeState {
	case RefundRequested, RefundRequestStartedByPeer, RefundRequestClosed,
		EscrowClaimed, EscrowClaimedByPeer:

		return false
	}

	return true
}

// IsFundsUnreleased returns true while the deposit funds may still move
// through the staged transaction chain. Chain watchers re-check it before
// applying any transition.
func (t *Trade) IsFundsUnreleased() bool {
	return t.FundsLockedIn() ||
		(!t.DepositConfirmed() && !t.DisputeState.IsArbitrated())
}

// MaybeClearSensitiveData prunes the peer's signatures, unsigned
// transactions and addresses once the trade no longer needs them. With
// keepStagedTxs the peer's finalized transactions survive, so they can still
// be recognized on chain.
func (t *Trade) MaybeClearSensitiveData(keepStagedTxs bool) {
	t.Remote.clearSensitiveData(keepStagedTxs)
}
