package trade

import "fmt"

// DisputeState tracks how far a trade has escalated away from the cooperative
// payout.
type DisputeState uint8

const (
	// NoDispute is the state of a trade that never escalated.
	NoDispute DisputeState = iota

	// DisputeRequested marks a legacy arbitration opened by us.
	DisputeRequested

	// DisputeStartedByPeer marks a legacy arbitration opened by the peer.
	DisputeStartedByPeer

	// DisputeClosed marks a closed legacy arbitration.
	DisputeClosed

	// MediationRequested marks a mediation opened by us.
	MediationRequested

	// MediationStartedByPeer marks a mediation opened by the peer.
	MediationStartedByPeer

	// MediationClosed marks a closed mediation.
	MediationClosed

	// RefundRequested is entered once our redirect transaction spent the
	// peer's warning output.
	RefundRequested

	// RefundRequestStartedByPeer is entered once the peer's redirect
	// transaction spent our warning output.
	RefundRequestStartedByPeer

	// RefundRequestClosed marks a closed refund request.
	RefundRequestClosed

	// WarningSent is entered once our warning transaction spent the
	// deposit output.
	WarningSent

	// WarningSentByPeer is entered once the peer's warning transaction
	// spent the deposit output.
	WarningSentByPeer

	// EscrowClaimed is entered once our claim transaction spent our
	// warning output after the claim delay.
	EscrowClaimed

	// EscrowClaimedByPeer is entered once the peer's claim transaction
	// spent the peer's warning output after the claim delay.
	EscrowClaimedByPeer
)

// String returns a human readable dispute state.
func (d DisputeState) String() string {
	switch d {
	case NoDispute:
		return "NO_DISPUTE"
	case DisputeRequested:
		return "DISPUTE_REQUESTED"
	case DisputeStartedByPeer:
		return "DISPUTE_STARTED_BY_PEER"
	case DisputeClosed:
		return "DISPUTE_CLOSED"
	case MediationRequested:
		return "MEDIATION_REQUESTED"
	case MediationStartedByPeer:
		return "MEDIATION_STARTED_BY_PEER"
	case MediationClosed:
		return "MEDIATION_CLOSED"
	case RefundRequested:
		return "REFUND_REQUESTED"
	case RefundRequestStartedByPeer:
		return "REFUND_REQUEST_STARTED_BY_PEER"
	case RefundRequestClosed:
		return "REFUND_REQUEST_CLOSED"
	case WarningSent:
		return "WARNING_SENT"
	case WarningSentByPeer:
		return "WARNING_SENT_BY_PEER"
	case EscrowClaimed:
		return "ESCROW_CLAIMED"
	case EscrowClaimedByPeer:
		return "ESCROW_CLAIMED_BY_PEER"
	default:
		return fmt.Sprintf("UNKNOWN_DISPUTE_STATE(%d)", uint8(d))
	}
}

// IsNotDisputed returns true if the trade never escalated.
func (d DisputeState) IsNotDisputed() bool {
	return d == NoDispute
}

// IsMediated returns true for the mediation states.
func (d DisputeState) IsMediated() bool {
	switch d {
	case MediationRequested, MediationStartedByPeer, MediationClosed:
		return true
	}

	return false
}

// IsArbitrated returns true for the arbitration and refund states.
func (d DisputeState) IsArbitrated() bool {
	switch d {
	case DisputeRequested, DisputeStartedByPeer, DisputeClosed,
		RefundRequested, RefundRequestStartedByPeer,
		RefundRequestClosed:

		return true
	}

	return false
}

// IsWarningSent returns true if a warning transaction spent the deposit and
// no second stage transaction has been seen yet.
func (d DisputeState) IsWarningSent() bool {
	return d == WarningSent || d == WarningSentByPeer
}

// IsEscrowClaimed returns true once a claim transaction spent a warning
// output.
func (d DisputeState) IsEscrowClaimed() bool {
	return d == EscrowClaimed || d == EscrowClaimedByPeer
}

// IsRefundRequested returns true once a redirect transaction spent a
// warning output.
func (d DisputeState) IsRefundRequested() bool {
	switch d {
	case RefundRequested, RefundRequestStartedByPeer, RefundRequestClosed:
		return true
	}

	return false
}

// MediationResultState is the progress of a mediated payout.
type MediationResultState uint8

const (
	// MediationResultNone means no mediation result exists.
	MediationResultNone MediationResultState = iota

	// MediationResultAccepted means we accepted the mediator's proposal.
	MediationResultAccepted

	// MediationResultRejected means we rejected the mediator's proposal.
	MediationResultRejected

	// MediationSignatureSent means our payout signature was sent.
	MediationSignatureSent

	// MediationSignatureReceived means the peer's signature arrived.
	MediationSignatureReceived

	// MediationPayoutPublished means the mediated payout was published.
	MediationPayoutPublished

	// MediationPayoutSeenInNetwork means the mediated payout was seen by
	// the network.
	MediationPayoutSeenInNetwork
)

// String returns a human readable mediation result state.
func (m MediationResultState) String() string {
	switch m {
	case MediationResultNone:
		return "NONE"
	case MediationResultAccepted:
		return "ACCEPTED"
	case MediationResultRejected:
		return "REJECTED"
	case MediationSignatureSent:
		return "SIG_SENT"
	case MediationSignatureReceived:
		return "SIG_RECEIVED"
	case MediationPayoutPublished:
		return "PAYOUT_PUBLISHED"
	case MediationPayoutSeenInNetwork:
		return "PAYOUT_SEEN_IN_NETWORK"
	default:
		return fmt.Sprintf("UNKNOWN_MEDIATION_RESULT(%d)", uint8(m))
	}
}
