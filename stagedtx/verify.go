package stagedtx

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/p2ptrade/escrowd/burningman"
)

// CheckWarningAmounts asserts that the local and the peer warning
// transactions spend the same deposit output, that each pays out exactly
// the deposit value minus fee, and that both escrow outputs carry the same
// value.
func CheckWarningAmounts(local, peer *wire.MsgTx, depositOut *wire.TxOut,
	fee btcutil.Amount) error {

	if local == nil || peer == nil {
		return ErrMissingWarningTx
	}
	if depositOut == nil {
		return ErrMissingDepositTx
	}

	if len(local.TxIn) != 1 || len(peer.TxIn) != 1 ||
		local.TxIn[0].PreviousOutPoint != peer.TxIn[0].PreviousOutPoint {

		return fmt.Errorf("%w: warning txs spend different inputs",
			ErrAmountMismatch)
	}

	expected := btcutil.Amount(depositOut.Value) - fee
	for _, tx := range []*wire.MsgTx{local, peer} {
		if len(tx.TxOut) == 0 {
			return fmt.Errorf("%w: warning tx %v has no outputs",
				ErrAmountMismatch, tx.TxHash())
		}

		total := sumOutputs(tx)
		if total != expected {
			return fmt.Errorf("%w: warning tx %v pays %v, "+
				"expected %v", ErrAmountMismatch, tx.TxHash(),
				total, expected)
		}
	}

	localValue := local.TxOut[warningOutputIndex].Value
	peerValue := peer.TxOut[warningOutputIndex].Value
	if localValue != peerValue {
		return fmt.Errorf("%w: local escrow output %v, peer escrow "+
			"output %v", ErrAmountMismatch,
			btcutil.Amount(localValue), btcutil.Amount(peerValue))
	}

	return nil
}

// VerifyRedirectReceivers asserts that the redirect transaction pays the
// expected receivers, in order, followed by exactly one fee bump output.
func VerifyRedirectReceivers(redirectTx *wire.MsgTx,
	receivers []burningman.Receiver, netParams *chaincfg.Params) error {

	if len(redirectTx.TxOut) != len(receivers)+1 {
		return fmt.Errorf("%w: %d outputs for %d receivers",
			ErrReceiverMismatch, len(redirectTx.TxOut), len(receivers))
	}

	for i, receiver := range receivers {
		pkScript, err := payToAddrScript(receiver.Address, netParams)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrReceiverMismatch, err)
		}

		txOut := redirectTx.TxOut[i]
		if txOut.Value != receiver.Weight ||
			!bytes.Equal(txOut.PkScript, pkScript) {

			return fmt.Errorf("%w: output %d pays %v, expected %v "+
				"to %v", ErrReceiverMismatch, i,
				btcutil.Amount(txOut.Value),
				btcutil.Amount(receiver.Weight), receiver.Address)
		}
	}

	return nil
}

// sumOutputs returns the total value of all outputs of tx.
func sumOutputs(tx *wire.MsgTx) btcutil.Amount {
	var total btcutil.Amount
	for _, txOut := range tx.TxOut {
		total += btcutil.Amount(txOut.Value)
	}

	return total
}
