package escrow

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const (
	// DefaultClaimDelay is the default relative locktime, in blocks, that
	// guards the claim path of a warning output.
	DefaultClaimDelay = 144

	// DefaultWarningFeeBumpValue is the default value of the fee bump
	// output carried by every warning transaction.
	DefaultWarningFeeBumpValue btcutil.Amount = 2000

	// DefaultRedirectFeeBumpValue is the default value of the fee bump
	// output carried by every redirect transaction.
	DefaultRedirectFeeBumpValue btcutil.Amount = 2000

	// DefaultMinTxWeight is the default floor applied to the weight of a
	// staged transaction before its fee is computed.
	DefaultMinTxWeight = 704

	// DefaultMinFeeRate is the default lowest fee rate used when sizing
	// the redirect receiver outputs.
	DefaultMinFeeRate SatPerVByte = 10

	// maxRelativeLockTime is the largest block based relative locktime
	// expressible in a BIP 68 sequence number.
	maxRelativeLockTime = 0xffff
)

var (
	// DustLimit is the smallest output value accepted for a fee bump
	// output, which is the dust threshold of a P2WPKH output.
	DustLimit = DustLimitForScript(append(
		[]byte{txscript.OP_0, txscript.OP_DATA_20}, make([]byte, 20)...,
	))

	// ErrInvalidClaimDelay is returned when the claim delay cannot be
	// encoded as a block based relative locktime.
	ErrInvalidClaimDelay = errors.New("invalid claim delay")

	// ErrFeeBumpBelowDust is returned when a fee bump output value is
	// below the dust limit.
	ErrFeeBumpBelowDust = errors.New("fee bump output below dust limit")
)

// SatPerVByte is a fee rate expressed in satoshis per virtual byte.
type SatPerVByte int64

// FeeForWeight returns the fee for a transaction of the given weight at this
// fee rate, rounding up to the next satoshi.
func (s SatPerVByte) FeeForWeight(weight int64) btcutil.Amount {
	scale := int64(blockchain.WitnessScaleFactor)

	return btcutil.Amount((int64(s)*weight + scale - 1) / scale)
}

// FeeForVSize returns the fee for a transaction of the given virtual size.
func (s SatPerVByte) FeeForVSize(vsize int64) btcutil.Amount {
	return btcutil.Amount(int64(s) * vsize)
}

// String returns a human readable fee rate.
func (s SatPerVByte) String() string {
	return fmt.Sprintf("%d sat/vB", int64(s))
}

// Params bundles the escrow policy shared by both trade parties. The value
// is immutable for a given protocol version and is passed explicitly to every
// component that needs it.
type Params struct {
	// ClaimDelay is the relative locktime, in blocks, that the claimant
	// of a warning output must wait before the claim path unlocks.
	ClaimDelay uint32

	// MinTxWeight is the floor applied to a staged transaction's weight
	// before its mining fee is computed.
	MinTxWeight int64

	// WarningFeeBumpValue is the value of the fee bump output attached to
	// every warning transaction.
	WarningFeeBumpValue btcutil.Amount

	// RedirectFeeBumpValue is the value of the fee bump output attached
	// to every redirect transaction.
	RedirectFeeBumpValue btcutil.Amount

	// MinFeeRate is the lowest fee rate used when sizing redirect
	// receiver outputs.
	MinFeeRate SatPerVByte
}

// DefaultParams returns the default escrow parameters.
func DefaultParams() Params {
	return Params{
		ClaimDelay:           DefaultClaimDelay,
		MinTxWeight:          DefaultMinTxWeight,
		WarningFeeBumpValue:  DefaultWarningFeeBumpValue,
		RedirectFeeBumpValue: DefaultRedirectFeeBumpValue,
		MinFeeRate:           DefaultMinFeeRate,
	}
}

// Validate checks that the parameters describe spendable transactions.
func (p Params) Validate() error {
	if p.ClaimDelay == 0 || p.ClaimDelay > maxRelativeLockTime {
		return fmt.Errorf("%w: %d", ErrInvalidClaimDelay, p.ClaimDelay)
	}

	if p.WarningFeeBumpValue < DustLimit {
		return fmt.Errorf("%w: warning fee bump %v", ErrFeeBumpBelowDust,
			p.WarningFeeBumpValue)
	}

	if p.RedirectFeeBumpValue < DustLimit {
		return fmt.Errorf("%w: redirect fee bump %v",
			ErrFeeBumpBelowDust, p.RedirectFeeBumpValue)
	}

	if p.MinTxWeight < 0 {
		return fmt.Errorf("negative minimum tx weight: %d",
			p.MinTxWeight)
	}

	if p.MinFeeRate <= 0 {
		return fmt.Errorf("minimum fee rate must be positive, got %v",
			p.MinFeeRate)
	}

	return nil
}

// MiningFee returns the mining fee for a staged transaction of the given
// weight. The weight is first raised to MinTxWeight.
func (p Params) MiningFee(feeRate SatPerVByte, weight int64) btcutil.Amount {
	return feeRate.FeeForWeight(max(weight, p.MinTxWeight))
}

// WarningTxFee returns the mining fee of a warning transaction built from a
// deposit paying the given fee rate.
func (p Params) WarningTxFee(depositFeeRate SatPerVByte) btcutil.Amount {
	return p.MiningFee(depositFeeRate, WarningTxWeight)
}

// ClaimTxFee returns the mining fee of a claim transaction.
func (p Params) ClaimTxFee(depositFeeRate SatPerVByte) btcutil.Amount {
	return p.MiningFee(depositFeeRate, ClaimTxWeight)
}

// RedirectTxFee returns the mining fee of a redirect transaction paying the
// given number of receivers.
func (p Params) RedirectTxFee(depositFeeRate SatPerVByte,
	numReceivers int) btcutil.Amount {

	return p.MiningFee(depositFeeRate, RedirectTxWeight(numReceivers))
}

// DustLimitForScript returns the dust threshold of an output paying to
// pkScript under the default relay policy.
func DustLimitForScript(pkScript []byte) btcutil.Amount {
	txOut := &wire.TxOut{PkScript: pkScript}

	return btcutil.Amount(mempool.GetDustThreshold(txOut))
}
