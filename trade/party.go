package trade

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Role identifies which side of a trade a PartyEscrowState mirrors.
type Role uint8

const (
	// Local is our own side of the trade.
	Local Role = iota

	// Remote is the trading peer's side of the trade.
	Remote
)

// String returns a human readable role.
func (r Role) String() string {
	switch r {
	case Local:
		return "local"
	case Remote:
		return "remote"
	default:
		return fmt.Sprintf("unknown role(%d)", uint8(r))
	}
}

// Other returns the opposite role.
func (r Role) Other() Role {
	if r == Local {
		return Remote
	}

	return Local
}

// EscrowStage is the escalation stage of one party's staged transactions.
type EscrowStage uint8

const (
	// StageNone means no staged transaction was built yet.
	StageNone EscrowStage = iota

	// StageWarningBuilt means the unsigned warning transaction exists.
	StageWarningBuilt

	// StageWarningFinalized means the warning transaction is fully
	// signed and broadcastable.
	StageWarningFinalized

	// StageRedirectBuilt means the unsigned redirect transaction exists.
	StageRedirectBuilt

	// StageRedirectFinalized means the redirect transaction is fully
	// signed and broadcastable.
	StageRedirectFinalized

	// StageClaimSigned means the claim transaction is signed.
	StageClaimSigned
)

// String returns a human readable escrow stage.
func (e EscrowStage) String() string {
	switch e {
	case StageNone:
		return "NONE"
	case StageWarningBuilt:
		return "WARNING_BUILT"
	case StageWarningFinalized:
		return "WARNING_FINALIZED"
	case StageRedirectBuilt:
		return "REDIRECT_BUILT"
	case StageRedirectFinalized:
		return "REDIRECT_FINALIZED"
	case StageClaimSigned:
		return "CLAIM_SIGNED"
	default:
		return fmt.Sprintf("UNKNOWN_STAGE(%d)", uint8(e))
	}
}

// PartyEscrowState holds one party's half of the staged transaction chain.
// A trade carries two of them, one per Role, so the local and the peer's
// view can never drift apart field by field.
//
// The warning transaction of a party spends the deposit and can be claimed
// by that party after the claim delay. The redirect transaction of a party
// spends the other party's warning output.
type PartyEscrowState struct {
	// Role is the side this state mirrors.
	Role Role

	// MultiSigPubKey is the party's key in the deposit 2-of-2 and in the
	// multisig branch of both warning outputs.
	MultiSigPubKey *btcec.PublicKey

	// WarningFeeBumpAddress receives the warning transaction's fee bump
	// output.
	WarningFeeBumpAddress string

	// RedirectFeeBumpAddress receives the redirect transaction's fee bump
	// output.
	RedirectFeeBumpAddress string

	// ClaimAddress receives the output of the party's claim transaction.
	ClaimAddress string

	// WarningTx is the party's unsigned warning transaction.
	WarningTx *wire.MsgTx

	// WarningTxBuyerSig and WarningTxSellerSig are the signatures over
	// WarningTx's input, including the sighash byte.
	WarningTxBuyerSig  []byte
	WarningTxSellerSig []byte

	// FinalizedWarningTx is the serialized, fully witnessed warning
	// transaction.
	FinalizedWarningTx fn.Option[[]byte]

	// RedirectTx is the party's unsigned redirect transaction.
	RedirectTx *wire.MsgTx

	// RedirectTxBuyerSig and RedirectTxSellerSig are the signatures over
	// RedirectTx's input, including the sighash byte.
	RedirectTxBuyerSig  []byte
	RedirectTxSellerSig []byte

	// FinalizedRedirectTx is the serialized, fully witnessed redirect
	// transaction.
	FinalizedRedirectTx fn.Option[[]byte]

	// SignedClaimTx is the serialized claim transaction. For the remote
	// party it is only known once it was seen on chain.
	SignedClaimTx fn.Option[[]byte]
}

// NewPartyEscrowState returns an empty state for the given role.
func NewPartyEscrowState(role Role) *PartyEscrowState {
	return &PartyEscrowState{
		Role:                role,
		FinalizedWarningTx:  fn.None[[]byte](),
		FinalizedRedirectTx: fn.None[[]byte](),
		SignedClaimTx:       fn.None[[]byte](),
	}
}

// Stage returns the furthest escalation stage reached by this party.
func (p *PartyEscrowState) Stage() EscrowStage {
	switch {
	case p.SignedClaimTx.IsSome():
		return StageClaimSigned

	case p.FinalizedRedirectTx.IsSome():
		return StageRedirectFinalized

	case p.RedirectTx != nil:
		return StageRedirectBuilt

	case p.FinalizedWarningTx.IsSome():
		return StageWarningFinalized

	case p.WarningTx != nil:
		return StageWarningBuilt

	default:
		return StageNone
	}
}

// WarningSigs returns the warning signatures in buyer, seller order.
func (p *PartyEscrowState) WarningSigs() ([]byte, []byte) {
	return p.WarningTxBuyerSig, p.WarningTxSellerSig
}

// RedirectSigs returns the redirect signatures in buyer, seller order.
func (p *PartyEscrowState) RedirectSigs() ([]byte, []byte) {
	return p.RedirectTxBuyerSig, p.RedirectTxSellerSig
}

// SetWarningSig stores a warning signature for the given trade side.
func (p *PartyEscrowState) SetWarningSig(isBuyer bool, sig []byte) {
	if isBuyer {
		p.WarningTxBuyerSig = sig
	} else {
		p.WarningTxSellerSig = sig
	}
}

// SetRedirectSig stores a redirect signature for the given trade side.
func (p *PartyEscrowState) SetRedirectSig(isBuyer bool, sig []byte) {
	if isBuyer {
		p.RedirectTxBuyerSig = sig
	} else {
		p.RedirectTxSellerSig = sig
	}
}

// clearSensitiveData drops the signatures, unsigned transactions and
// addresses of the party. Finalized transactions are kept if keepStagedTxs
// is set.
func (p *PartyEscrowState) clearSensitiveData(keepStagedTxs bool) {
	p.WarningFeeBumpAddress = ""
	p.RedirectFeeBumpAddress = ""
	p.ClaimAddress = ""

	p.WarningTx = nil
	p.WarningTxBuyerSig = nil
	p.WarningTxSellerSig = nil

	p.RedirectTx = nil
	p.RedirectTxBuyerSig = nil
	p.RedirectTxSellerSig = nil

	if keepStagedTxs {
		return
	}

	p.FinalizedWarningTx = fn.None[[]byte]()
	p.FinalizedRedirectTx = fn.None[[]byte]()
	p.SignedClaimTx = fn.None[[]byte]()
}
