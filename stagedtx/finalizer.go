package stagedtx

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/p2ptrade/escrowd/input"
	"github.com/p2ptrade/escrowd/logutil"
)

// signInput signs input 0 of tx, which spends prevOut locked by
// witnessScript, and returns the signature with its sighash byte appended.
func signInput(signer input.Signer, tx *wire.MsgTx, prevOut *wire.TxOut,
	witnessScript []byte, key *btcec.PublicKey) ([]byte, error) {

	if key == nil {
		return nil, ErrMissingPeerPubKey
	}

	signDesc := input.NewSignDescriptor(tx, 0, key, witnessScript, prevOut)
	sig, err := signer.SignOutputRaw(tx, signDesc)
	if err != nil {
		return nil, err
	}

	return append(sig.Serialize(), byte(signDesc.HashType)), nil
}

// checkSpends returns an error if input 0 of tx does not spend outPoint.
func checkSpends(tx *wire.MsgTx, outPoint *wire.OutPoint) error {
	if len(tx.TxIn) != 1 {
		return fmt.Errorf("staged tx %v must have exactly one input, "+
			"has %d", tx.TxHash(), len(tx.TxIn))
	}

	if tx.TxIn[0].PreviousOutPoint != *outPoint {
		return fmt.Errorf("staged tx %v spends %v, expected %v",
			tx.TxHash(), tx.TxIn[0].PreviousOutPoint, outPoint)
	}

	return nil
}

// SignWarningInput signs the deposit input of a warning transaction with
// key.
func SignWarningInput(signer input.Signer, warningTx, depositTx *wire.MsgTx,
	keys EscrowKeys, key *btcec.PublicKey) ([]byte, error) {

	depositOutPoint, depositOut, err := DepositOutput(depositTx, keys)
	if err != nil {
		return nil, err
	}
	if err := checkSpends(warningTx, depositOutPoint); err != nil {
		return nil, err
	}

	witnessScript, _, err := keys.DepositScript()
	if err != nil {
		return nil, err
	}

	return signInput(signer, warningTx, depositOut, witnessScript, key)
}

// SignRedirectInput signs the warning input of a redirect transaction with
// key. warningScript is the witness script of the spent warning output.
func SignRedirectInput(signer input.Signer, redirectTx,
	peerWarningTx *wire.MsgTx, warningScript []byte,
	key *btcec.PublicKey) ([]byte, error) {

	warningOutPoint, warningOut, err := WarningOutput(peerWarningTx)
	if err != nil {
		return nil, err
	}
	if err := checkSpends(redirectTx, warningOutPoint); err != nil {
		return nil, err
	}

	return signInput(signer, redirectTx, warningOut, warningScript, key)
}

// SignClaimTx signs the claim transaction through the timelocked branch of
// the warning output and returns the fully witnessed transaction.
func SignClaimTx(signer input.Signer, claimTx, warningTx *wire.MsgTx,
	warningScript []byte, claimant *btcec.PublicKey) (*wire.MsgTx, error) {

	warningOutPoint, warningOut, err := WarningOutput(warningTx)
	if err != nil {
		return nil, err
	}
	if err := checkSpends(claimTx, warningOutPoint); err != nil {
		return nil, err
	}

	sig, err := signInput(
		signer, claimTx, warningOut, warningScript, claimant,
	)
	if err != nil {
		return nil, err
	}

	signed := claimTx.Copy()
	signed.TxIn[0].Witness = input.WarningSpendClaim(warningScript, sig)

	if err := verifyInput(signed, warningOut); err != nil {
		return nil, err
	}

	logFinalized("claim", signed)

	return signed, nil
}

// FinalizeWarningTx combines the buyer's and the seller's signatures into a
// broadcastable warning transaction. The deposit output value is re-derived
// from depositTx, and the result is checked by the script engine.
func FinalizeWarningTx(warningTx, depositTx *wire.MsgTx, keys EscrowKeys,
	buyerSig, sellerSig []byte) (*wire.MsgTx, error) {

	if err := checkSigs(buyerSig, sellerSig); err != nil {
		return nil, err
	}

	depositOutPoint, depositOut, err := DepositOutput(depositTx, keys)
	if err != nil {
		return nil, err
	}
	if err := checkSpends(warningTx, depositOutPoint); err != nil {
		return nil, err
	}

	witnessScript, _, err := keys.DepositScript()
	if err != nil {
		return nil, err
	}

	finalized := warningTx.Copy()
	finalized.TxIn[0].Witness = input.SpendMultiSig(
		witnessScript, keys.Buyer.SerializeCompressed(), buyerSig,
		keys.Seller.SerializeCompressed(), sellerSig,
	)

	if err := verifyInput(finalized, depositOut); err != nil {
		return nil, err
	}

	logFinalized("warning", finalized)

	return finalized, nil
}

// FinalizeRedirectTx combines the buyer's and the seller's signatures into a
// broadcastable redirect transaction spending the peer warning output.
func FinalizeRedirectTx(redirectTx, peerWarningTx *wire.MsgTx,
	warningScript []byte, keys EscrowKeys, buyerSig,
	sellerSig []byte) (*wire.MsgTx, error) {

	if err := checkSigs(buyerSig, sellerSig); err != nil {
		return nil, err
	}
	if err := keys.validate(); err != nil {
		return nil, err
	}

	warningOutPoint, warningOut, err := WarningOutput(peerWarningTx)
	if err != nil {
		return nil, err
	}
	if err := checkSpends(redirectTx, warningOutPoint); err != nil {
		return nil, err
	}

	finalized := redirectTx.Copy()
	finalized.TxIn[0].Witness = input.WarningSpendMultiSig(
		warningScript, keys.Buyer.SerializeCompressed(), buyerSig,
		keys.Seller.SerializeCompressed(), sellerSig,
	)

	if err := verifyInput(finalized, warningOut); err != nil {
		return nil, err
	}

	logFinalized("redirect", finalized)

	return finalized, nil
}

// checkSigs returns ErrMissingPeerSignature if either signature is missing.
func checkSigs(buyerSig, sellerSig []byte) error {
	switch {
	case len(buyerSig) == 0:
		return fmt.Errorf("%w: buyer", ErrMissingPeerSignature)

	case len(sellerSig) == 0:
		return fmt.Errorf("%w: seller", ErrMissingPeerSignature)
	}

	return nil
}

// verifyInput executes the script engine over input 0 of tx.
func verifyInput(tx *wire.MsgTx, prevOut *wire.TxOut) error {
	fetcher := txscript.NewCannedPrevOutputFetcher(
		prevOut.PkScript, prevOut.Value,
	)
	hashCache := txscript.NewTxSigHashes(tx, fetcher)

	vm, err := txscript.NewEngine(
		prevOut.PkScript, tx, 0, txscript.StandardVerifyFlags, nil,
		hashCache, prevOut.Value, fetcher,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrScriptVerification, err)
	}

	if err := vm.Execute(); err != nil {
		return fmt.Errorf("%w: tx %v: %v", ErrScriptVerification,
			tx.TxHash(), err)
	}

	return nil
}

// logFinalized logs the weight of a finalized staged transaction.
func logFinalized(kind string, tx *wire.MsgTx) {
	log.DebugS(context.TODO(), "Finalized staged tx", "kind", kind,
		logutil.LogTxHash("txid", tx),
		"weight", blockchain.GetTransactionWeight(btcutil.NewTx(tx)))
}
