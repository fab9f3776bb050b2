package trade

import "fmt"

// Phase is the coarse lifecycle position of a trade. Phases only move
// forward.
type Phase uint8

const (
	PhaseInit Phase = iota
	PhaseTakerFeePublished
	PhaseDepositPublished
	PhaseDepositConfirmed
	PhaseFiatSent
	PhaseFiatReceived
	PhasePayoutPublished
	PhaseWithdrawn
)

// String returns a human readable phase.
func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "INIT"
	case PhaseTakerFeePublished:
		return "TAKER_FEE_PUBLISHED"
	case PhaseDepositPublished:
		return "DEPOSIT_PUBLISHED"
	case PhaseDepositConfirmed:
		return "DEPOSIT_CONFIRMED"
	case PhaseFiatSent:
		return "FIAT_SENT"
	case PhaseFiatReceived:
		return "FIAT_RECEIVED"
	case PhasePayoutPublished:
		return "PAYOUT_PUBLISHED"
	case PhaseWithdrawn:
		return "WITHDRAWN"
	default:
		return fmt.Sprintf("UNKNOWN_PHASE(%d)", uint8(p))
	}
}

// IsValidTransitionTo returns true if next lies after the current phase.
func (p Phase) IsValidTransitionTo(next Phase) bool {
	return next > p
}
