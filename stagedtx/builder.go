package stagedtx

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/p2ptrade/escrowd/burningman"
	"github.com/p2ptrade/escrowd/escrow"
	"github.com/p2ptrade/escrowd/input"
	"github.com/p2ptrade/escrowd/logutil"
	"github.com/p2ptrade/escrowd/trade"
)

const (
	// txVersion is the version of all staged transactions. Version 2 is
	// required for the claim transaction's relative locktime.
	txVersion = 2

	// warningOutputIndex is the index of the escrow output of a warning
	// transaction. Redirect and claim transactions spend it.
	warningOutputIndex = 0
)

var (
	// ErrDepositOutputNotFound is returned when the deposit transaction
	// has no output paying to the trade's 2-of-2 script.
	ErrDepositOutputNotFound = errors.New("deposit output not found")

	// ErrOutputBelowDust is returned when a staged transaction would
	// create an output below the dust limit.
	ErrOutputBelowDust = errors.New("output below dust limit")

	// ErrOutputsExceedInput is returned when the outputs of a staged
	// transaction sum to more than its input.
	ErrOutputsExceedInput = errors.New("outputs exceed input value")
)

// EscrowKeys are the multisig keys of both trade parties.
type EscrowKeys struct {
	// Buyer is the BTC buyer's multisig key.
	Buyer *btcec.PublicKey

	// Seller is the BTC seller's multisig key.
	Seller *btcec.PublicKey
}

// KeysForTrade returns the multisig keys of the trade's buyer and seller.
func KeysForTrade(t *trade.Trade) EscrowKeys {
	return EscrowKeys{
		Buyer:  t.Buyer().MultiSigPubKey,
		Seller: t.Seller().MultiSigPubKey,
	}
}

// validate checks that both keys are known.
func (k EscrowKeys) validate() error {
	if k.Buyer == nil || k.Seller == nil {
		return ErrMissingPeerPubKey
	}

	return nil
}

// DepositScript returns the 2-of-2 witness script of the deposit output and
// the matching p2wsh output script.
func (k EscrowKeys) DepositScript() ([]byte, []byte, error) {
	if err := k.validate(); err != nil {
		return nil, nil, err
	}

	witnessScript, err := input.GenMultiSigScript(
		k.Buyer.SerializeCompressed(), k.Seller.SerializeCompressed(),
	)
	if err != nil {
		return nil, nil, err
	}

	pkScript, err := input.WitnessScriptHash(witnessScript)
	if err != nil {
		return nil, nil, err
	}

	return witnessScript, pkScript, nil
}

// WarningScript returns the witness script of the warning output claimable
// by claimant, and the matching p2wsh output script.
func (k EscrowKeys) WarningScript(claimDelay uint32,
	claimant *btcec.PublicKey) ([]byte, []byte, error) {

	if err := k.validate(); err != nil {
		return nil, nil, err
	}
	if claimant == nil {
		return nil, nil, ErrMissingPeerPubKey
	}

	witnessScript, err := input.WarningScript(
		claimDelay, k.Buyer, k.Seller, claimant,
	)
	if err != nil {
		return nil, nil, err
	}

	pkScript, err := input.WitnessScriptHash(witnessScript)
	if err != nil {
		return nil, nil, err
	}

	return witnessScript, pkScript, nil
}

// DepositOutput locates the trade's 2-of-2 output within the deposit
// transaction.
func DepositOutput(depositTx *wire.MsgTx,
	keys EscrowKeys) (*wire.OutPoint, *wire.TxOut, error) {

	if depositTx == nil {
		return nil, nil, ErrMissingDepositTx
	}

	_, pkScript, err := keys.DepositScript()
	if err != nil {
		return nil, nil, err
	}

	found, idx := input.FindScriptOutputIndex(depositTx, pkScript)
	if !found {
		return nil, nil, fmt.Errorf("%w: deposit=%v",
			ErrDepositOutputNotFound, depositTx.TxHash())
	}

	outPoint := &wire.OutPoint{
		Hash:  depositTx.TxHash(),
		Index: idx,
	}

	return outPoint, depositTx.TxOut[idx], nil
}

// WarningOutput returns the escrow output of a warning transaction.
func WarningOutput(warningTx *wire.MsgTx) (*wire.OutPoint, *wire.TxOut,
	error) {

	if warningTx == nil || len(warningTx.TxOut) == 0 {
		return nil, nil, ErrMissingWarningTx
	}

	outPoint := &wire.OutPoint{
		Hash:  warningTx.TxHash(),
		Index: warningOutputIndex,
	}

	return outPoint, warningTx.TxOut[warningOutputIndex], nil
}

// WarningTxParams holds everything needed to build one party's warning
// transaction.
type WarningTxParams struct {
	// DepositTx is the confirmed or pending deposit transaction.
	DepositTx *wire.MsgTx

	// Keys are the trade's multisig keys.
	Keys EscrowKeys

	// Claimant is the key of the party owning this warning transaction.
	// Only this party can claim the escrow output after the claim delay.
	Claimant *btcec.PublicKey

	// FeeBumpAddress receives the fee bump output.
	FeeBumpAddress string

	// LockTime is the trade's negotiated absolute locktime.
	LockTime uint32

	// DepositFeeRate is the fee rate the deposit transaction paid.
	DepositFeeRate escrow.SatPerVByte

	// Params is the escrow policy in force.
	Params escrow.Params

	// NetParams is the network the addresses belong to.
	NetParams *chaincfg.Params
}

// BuildWarningTx builds an unsigned warning transaction spending the deposit
// output. Output 0 is the escrow output, output 1 the fee bump output. The
// outputs sum to the deposit value minus the mining fee.
func BuildWarningTx(p WarningTxParams) (*wire.MsgTx, error) {
	depositOutPoint, depositOut, err := DepositOutput(p.DepositTx, p.Keys)
	if err != nil {
		return nil, err
	}

	_, warningPkScript, err := p.Keys.WarningScript(
		p.Params.ClaimDelay, p.Claimant,
	)
	if err != nil {
		return nil, err
	}

	feeBumpScript, err := payToAddrScript(p.FeeBumpAddress, p.NetParams)
	if err != nil {
		return nil, fmt.Errorf("invalid warning fee bump address: %w",
			err)
	}

	inputValue := btcutil.Amount(depositOut.Value)
	fee := p.Params.WarningTxFee(p.DepositFeeRate)
	escrowValue := inputValue - fee - p.Params.WarningFeeBumpValue
	if escrowValue < escrow.DustLimitForScript(warningPkScript) {
		return nil, fmt.Errorf("%w: escrow output %v from input %v",
			ErrOutputBelowDust, escrowValue, inputValue)
	}

	tx := wire.NewMsgTx(txVersion)
	tx.LockTime = p.LockTime

	// The input opts into the absolute locktime while disabling any
	// relative locktime.
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: *depositOutPoint,
		Sequence:         input.EnableLockTimeSequence,
	})
	tx.AddTxOut(wire.NewTxOut(int64(escrowValue), warningPkScript))
	tx.AddTxOut(wire.NewTxOut(
		int64(p.Params.WarningFeeBumpValue), feeBumpScript,
	))

	log.Debugf("Built warning tx %v spending %v: escrow=%v, fee=%v, "+
		"lock_time=%d", tx.TxHash(), depositOutPoint, escrowValue, fee,
		p.LockTime)
	log.Tracef("Warning tx: %v", logutil.SpewLogClosure(tx))

	return tx, nil
}

// RedirectTxParams holds everything needed to build a redirect transaction.
type RedirectTxParams struct {
	// PeerWarningTx is the warning transaction of the other party, whose
	// escrow output is redirected.
	PeerWarningTx *wire.MsgTx

	// Receivers are the burning man receivers, as computed over the
	// peer warning output value.
	Receivers []burningman.Receiver

	// FeeBumpAddress receives the fee bump output.
	FeeBumpAddress string

	// Params is the escrow policy in force.
	Params escrow.Params

	// NetParams is the network the addresses belong to.
	NetParams *chaincfg.Params
}

// BuildRedirectTx builds an unsigned redirect transaction spending the peer
// warning transaction's escrow output. The receiver outputs come first in
// the given order, followed by the fee bump output. The input carries no
// relative locktime, so the transaction can pre-empt the claim path.
func BuildRedirectTx(p RedirectTxParams) (*wire.MsgTx, error) {
	warningOutPoint, warningOut, err := WarningOutput(p.PeerWarningTx)
	if err != nil {
		return nil, err
	}

	if len(p.Receivers) == 0 {
		return nil, burningman.ErrNoReceivers
	}

	feeBumpScript, err := payToAddrScript(p.FeeBumpAddress, p.NetParams)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect fee bump address: %w",
			err)
	}

	tx := wire.NewMsgTx(txVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: *warningOutPoint,
		Sequence:         wire.MaxTxInSequenceNum,
	})

	total := p.Params.RedirectFeeBumpValue
	for _, receiver := range p.Receivers {
		pkScript, err := payToAddrScript(receiver.Address, p.NetParams)
		if err != nil {
			return nil, fmt.Errorf("invalid receiver address: %w",
				err)
		}

		amount := btcutil.Amount(receiver.Weight)
		if amount < escrow.DustLimitForScript(pkScript) {
			return nil, fmt.Errorf("%w: receiver %v gets %v",
				ErrOutputBelowDust, receiver.Address, amount)
		}

		tx.AddTxOut(wire.NewTxOut(int64(amount), pkScript))
		total += amount
	}
	tx.AddTxOut(wire.NewTxOut(
		int64(p.Params.RedirectFeeBumpValue), feeBumpScript,
	))

	inputValue := btcutil.Amount(warningOut.Value)
	if total > inputValue {
		return nil, fmt.Errorf("%w: outputs=%v, input=%v",
			ErrOutputsExceedInput, total, inputValue)
	}

	log.Debugf("Built redirect tx %v spending %v: receivers=%d, fee=%v, "+
		"outputs=[%v]", tx.TxHash(), warningOutPoint, len(p.Receivers),
		inputValue-total, logutil.TxOutputsClosure(tx))
	log.Tracef("Redirect tx: %v", logutil.SpewLogClosure(tx))

	return tx, nil
}

// ClaimTxParams holds everything needed to build a claim transaction.
type ClaimTxParams struct {
	// WarningTx is the claimant's own warning transaction.
	WarningTx *wire.MsgTx

	// ClaimAddress receives the claimed funds.
	ClaimAddress string

	// DepositFeeRate is the fee rate the deposit transaction paid.
	DepositFeeRate escrow.SatPerVByte

	// Params is the escrow policy in force.
	Params escrow.Params

	// NetParams is the network the address belongs to.
	NetParams *chaincfg.Params
}

// BuildClaimTx builds an unsigned claim transaction spending the claimant's
// own warning output through its timelocked branch. The input's sequence
// carries the claim delay as relative locktime.
func BuildClaimTx(p ClaimTxParams) (*wire.MsgTx, error) {
	warningOutPoint, warningOut, err := WarningOutput(p.WarningTx)
	if err != nil {
		return nil, err
	}

	claimScript, err := payToAddrScript(p.ClaimAddress, p.NetParams)
	if err != nil {
		return nil, fmt.Errorf("invalid claim address: %w", err)
	}

	fee := p.Params.ClaimTxFee(p.DepositFeeRate)
	claimValue := btcutil.Amount(warningOut.Value) - fee
	if claimValue < escrow.DustLimitForScript(claimScript) {
		return nil, fmt.Errorf("%w: claim output %v", ErrOutputBelowDust,
			claimValue)
	}

	tx := wire.NewMsgTx(txVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: *warningOutPoint,
		Sequence:         input.LockTimeToSequence(p.Params.ClaimDelay),
	})
	tx.AddTxOut(wire.NewTxOut(int64(claimValue), claimScript))

	log.Debugf("Built claim tx %v spending %v: value=%v, fee=%v, "+
		"claim_delay=%d", tx.TxHash(), warningOutPoint, claimValue, fee,
		p.Params.ClaimDelay)

	return tx, nil
}

// payToAddrScript decodes addr for the given network and returns its output
// script.
func payToAddrScript(addr string, netParams *chaincfg.Params) ([]byte,
	error) {

	decoded, err := btcutil.DecodeAddress(addr, netParams)
	if err != nil {
		return nil, err
	}

	if !decoded.IsForNet(netParams) {
		return nil, fmt.Errorf("address %v is not for %v", addr,
			netParams.Name)
	}

	return txscript.PayToAddrScript(decoded)
}
