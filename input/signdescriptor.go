package input

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// ErrIncompleteSignDescriptor is returned when a sign descriptor lacks the
// data needed to compute a segwit sighash.
var ErrIncompleteSignDescriptor = errors.New("incomplete sign descriptor")

// SignDescriptor houses the necessary information required to successfully
// sign a given segwit output. This struct is used by the Signer interface in
// order to gain access to critical data needed to generate a valid signature.
type SignDescriptor struct {
	// PubKey is the public key the signer must sign with.
	PubKey *btcec.PublicKey

	// WitnessScript is the full script required to properly redeem the
	// output.
	WitnessScript []byte

	// Output is the target output which should be signed. The PkScript and
	// Value fields within the output should be properly populated,
	// otherwise an invalid signature may be generated.
	Output *wire.TxOut

	// HashType is the target sighash type that should be used when
	// generating the final sighash, and signature.
	HashType txscript.SigHashType

	// SigHashes is the pre-computed sighash midstate to be used when
	// generating the final sighash for signing.
	SigHashes *txscript.TxSigHashes

	// InputIndex is the target input within the transaction that should be
	// signed.
	InputIndex int
}

// NewSignDescriptor returns a SignDescriptor for a p2wsh input spending the
// given output, with the sighash midstate computed from tx.
func NewSignDescriptor(tx *wire.MsgTx, inputIndex int, pubKey *btcec.PublicKey,
	witnessScript []byte, output *wire.TxOut) *SignDescriptor {

	fetcher := txscript.NewCannedPrevOutputFetcher(
		output.PkScript, output.Value,
	)

	return &SignDescriptor{
		PubKey:        pubKey,
		WitnessScript: witnessScript,
		Output:        output,
		HashType:      txscript.SigHashAll,
		SigHashes:     txscript.NewTxSigHashes(tx, fetcher),
		InputIndex:    inputIndex,
	}
}

// Validate checks that the descriptor carries everything needed to sign.
func (s *SignDescriptor) Validate() error {
	switch {
	case s.PubKey == nil:
		return fmt.Errorf("%w: missing public key",
			ErrIncompleteSignDescriptor)

	case s.Output == nil:
		return fmt.Errorf("%w: missing output",
			ErrIncompleteSignDescriptor)

	case len(s.WitnessScript) == 0:
		return fmt.Errorf("%w: missing witness script",
			ErrIncompleteSignDescriptor)

	case s.SigHashes == nil:
		return fmt.Errorf("%w: missing sighash midstate",
			ErrIncompleteSignDescriptor)
	}

	return nil
}
