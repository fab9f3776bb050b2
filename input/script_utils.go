package input

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const (
	// SequenceLockTimeDisabled is the BIP 68 flag that disables the
	// relative locktime of an input.
	SequenceLockTimeDisabled = wire.SequenceLockTimeDisabled

	// SequenceLockTimeIsSeconds is the BIP 68 flag that marks a relative
	// locktime as time based.
	SequenceLockTimeIsSeconds = wire.SequenceLockTimeIsSeconds

	// SequenceLockTimeMask is the mask extracting the relative locktime
	// value from a sequence number.
	SequenceLockTimeMask = wire.SequenceLockTimeMask

	// EnableLockTimeSequence is the sequence of an input that opts into
	// the absolute locktime of its transaction without a relative
	// locktime.
	EnableLockTimeSequence = wire.MaxTxInSequenceNum - 1
)

var (
	// ErrPubKeySize is returned for public keys that are not 33 byte
	// compressed keys.
	ErrPubKeySize = errors.New("pubkey size error: compressed pubkeys only")

	// ErrNoRelativeLockTime is returned when a claim delay of zero is
	// passed to a script template.
	ErrNoRelativeLockTime = errors.New("claim delay must be positive")
)

// WitnessScriptHash generates a pay-to-witness-script-hash public key script
// paying to a version 0 witness program paying to the passed redeem script.
func WitnessScriptHash(witnessScript []byte) ([]byte, error) {
	bldr := txscript.NewScriptBuilder()

	bldr.AddOp(txscript.OP_0)
	scriptHash := sha256.Sum256(witnessScript)
	bldr.AddData(scriptHash[:])

	return bldr.Script()
}

// GenMultiSigScript generates the non-p2sh'd multisig script for 2 of 2
// pubkeys. The keys are sorted lexicographically so both parties derive the
// same script.
func GenMultiSigScript(aPub, bPub []byte) ([]byte, error) {
	if len(aPub) != 33 || len(bPub) != 33 {
		return nil, ErrPubKeySize
	}

	if bytes.Compare(aPub, bPub) == 1 {
		aPub, bPub = bPub, aPub
	}

	bldr := txscript.NewScriptBuilder()
	bldr.AddOp(txscript.OP_2)
	bldr.AddData(aPub)
	bldr.AddData(bPub)
	bldr.AddOp(txscript.OP_2)
	bldr.AddOp(txscript.OP_CHECKMULTISIG)

	return bldr.Script()
}

// GenDepositPkScript creates the 2-of-2 witness script of a trade deposit and
// its matching p2wsh output.
func GenDepositPkScript(aPub, bPub []byte, amt int64) ([]byte, *wire.TxOut,
	error) {

	if amt <= 0 {
		return nil, nil, fmt.Errorf("can't create deposit script with " +
			"zero, or negative coins")
	}

	witnessScript, err := GenMultiSigScript(aPub, bPub)
	if err != nil {
		return nil, nil, err
	}

	pkScript, err := WitnessScriptHash(witnessScript)
	if err != nil {
		return nil, nil, err
	}

	return witnessScript, wire.NewTxOut(amt, pkScript), nil
}

// SpendMultiSig generates the witness stack required to redeem the 2-of-2
// p2wsh multi-sig output.
func SpendMultiSig(witnessScript, pubA, sigA, pubB, sigB []byte) wire.TxWitness {
	witness := make(wire.TxWitness, 4)

	// A nil element eats the extra pop of OP_CHECKMULTISIG.
	witness[0] = nil

	// Signatures must follow the order of the sorted keys in the script.
	if bytes.Compare(pubA, pubB) == 1 {
		witness[1] = sigB
		witness[2] = sigA
	} else {
		witness[1] = sigA
		witness[2] = sigB
	}

	witness[3] = witnessScript

	return witness
}

// WarningScript constructs the witness script of a warning transaction's
// escrow output. The output is spendable either immediately by both trade
// parties, or by the claimant alone once claimDelay blocks have passed since
// the warning transaction confirmed.
//
// Output Script:
//
//	OP_IF
//	    2 <aPub> <bPub> 2 OP_CHECKMULTISIG
//	OP_ELSE
//	    <claimDelay> OP_CHECKSEQUENCEVERIFY OP_DROP
//	    <claimantPub> OP_CHECKSIG
//	OP_ENDIF
//
// Possible Input Scripts:
//
//	REDIRECT: 0 <sig1> <sig2> 1
//	CLAIM:    <claimantSig> <emptyvector>
func WarningScript(claimDelay uint32, aPub, bPub,
	claimantPub *btcec.PublicKey) ([]byte, error) {

	if claimDelay == 0 {
		return nil, ErrNoRelativeLockTime
	}

	aBytes := aPub.SerializeCompressed()
	bBytes := bPub.SerializeCompressed()
	if bytes.Compare(aBytes, bBytes) == 1 {
		aBytes, bBytes = bBytes, aBytes
	}

	bldr := txscript.NewScriptBuilder()
	bldr.AddOp(txscript.OP_IF)
	bldr.AddOp(txscript.OP_2)
	bldr.AddData(aBytes)
	bldr.AddData(bBytes)
	bldr.AddOp(txscript.OP_2)
	bldr.AddOp(txscript.OP_CHECKMULTISIG)

	bldr.AddOp(txscript.OP_ELSE)
	bldr.AddInt64(int64(claimDelay))
	bldr.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	bldr.AddOp(txscript.OP_DROP)
	bldr.AddData(claimantPub.SerializeCompressed())
	bldr.AddOp(txscript.OP_CHECKSIG)
	bldr.AddOp(txscript.OP_ENDIF)

	return bldr.Script()
}

// WarningSpendMultiSig generates the witness that spends a warning output
// through its 2-of-2 branch, as done by a redirect transaction. The
// signatures must already carry their sighash byte.
func WarningSpendMultiSig(witnessScript, pubA, sigA, pubB,
	sigB []byte) wire.TxWitness {

	witness := make(wire.TxWitness, 5)
	witness[0] = nil

	if bytes.Compare(pubA, pubB) == 1 {
		witness[1] = sigB
		witness[2] = sigA
	} else {
		witness[1] = sigA
		witness[2] = sigB
	}

	// Selects the OP_IF branch.
	witness[3] = []byte{1}
	witness[4] = witnessScript

	return witness
}

// WarningSpendClaim generates the witness that spends a warning output
// through its timelocked claim branch. The spending input must carry a
// sequence of at least the claim delay.
func WarningSpendClaim(witnessScript, sig []byte) wire.TxWitness {
	witness := make(wire.TxWitness, 3)
	witness[0] = sig

	// An empty vector selects the OP_ELSE branch.
	witness[1] = nil
	witness[2] = witnessScript

	return witness
}

// LockTimeToSequence converts the passed block based relative locktime to a
// sequence number in accordance to BIP-68.
func LockTimeToSequence(locktime uint32) uint32 {
	return locktime & SequenceLockTimeMask
}

// HasRelativeLockTime returns true if any input of the transaction enforces
// a BIP 68 relative locktime.
func HasRelativeLockTime(tx *wire.MsgTx) bool {
	if tx.Version < 2 {
		return false
	}

	for _, txIn := range tx.TxIn {
		if txIn.Sequence&SequenceLockTimeDisabled == 0 {
			return true
		}
	}

	return false
}

// FindScriptOutputIndex finds the index of the public key script output
// matching 'script'. Additionally, a boolean is returned indicating if a
// matching output was found at all.
//
// NOTE: The search stops after the first matching script is found.
func FindScriptOutputIndex(tx *wire.MsgTx, script []byte) (bool, uint32) {
	for i, txOut := range tx.TxOut {
		if bytes.Equal(txOut.PkScript, script) {
			return true, uint32(i)
		}
	}

	return false, 0
}
