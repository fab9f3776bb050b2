package escrowcfg

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/p2ptrade/escrowd/escrow"
	"github.com/p2ptrade/escrowd/wallet"
)

// Escrow holds the escrow policy. Both parties of a trade must run with the
// same values, otherwise their staged transactions differ and the amount
// checks fail.
//
//nolint:lll
type Escrow struct {
	ClaimDelay uint32 `long:"claimdelay" description:"The relative locktime in blocks after which the publisher of a warning transaction may claim its output."`

	MinTxWeight int64 `long:"mintxweight" description:"The weight floor applied to staged transactions before their mining fee is computed."`

	WarningFeeBump int64 `long:"warningfeebump" description:"The value in satoshis of the fee bump output of warning transactions."`

	RedirectFeeBump int64 `long:"redirectfeebump" description:"The value in satoshis of the fee bump output of redirect transactions."`

	MinFeeRate int64 `long:"minfeerate" description:"The lowest fee rate in sat/vB used to size the redirect receiver outputs."`

	BroadcastTimeout time.Duration `long:"broadcasttimeout" description:"How long to wait for the wallet to answer a broadcast before assuming the transaction propagates."`
}

// DefaultEscrow returns the default escrow policy.
func DefaultEscrow() *Escrow {
	params := escrow.DefaultParams()

	return &Escrow{
		ClaimDelay:       params.ClaimDelay,
		MinTxWeight:      params.MinTxWeight,
		WarningFeeBump:   int64(params.WarningFeeBumpValue),
		RedirectFeeBump:  int64(params.RedirectFeeBumpValue),
		MinFeeRate:       int64(params.MinFeeRate),
		BroadcastTimeout: wallet.DefaultBroadcastTimeout,
	}
}

// Params returns the escrow parameters described by the config.
func (e *Escrow) Params() escrow.Params {
	return escrow.Params{
		ClaimDelay:           e.ClaimDelay,
		MinTxWeight:          e.MinTxWeight,
		WarningFeeBumpValue:  btcutil.Amount(e.WarningFeeBump),
		RedirectFeeBumpValue: btcutil.Amount(e.RedirectFeeBump),
		MinFeeRate:           escrow.SatPerVByte(e.MinFeeRate),
	}
}

// Validate checks the escrow policy.
func (e *Escrow) Validate() error {
	if e.BroadcastTimeout <= 0 {
		return fmt.Errorf("broadcast timeout must be positive, got %v",
			e.BroadcastTimeout)
	}

	return e.Params().Validate()
}

// Compile-time constraint to ensure Escrow implements the Validator
// interface.
var _ Validator = (*Escrow)(nil)
