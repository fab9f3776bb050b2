package escrow

import (
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/wire"
)

const (
	// The weight(cost), which is different from the !size! (see BIP-141),
	// is calculated as:
	// Weight = 4 * BaseSize + WitnessSize (weight).

	// P2WSHSize 34 bytes
	//	- OP_0: 1 byte
	//	- OP_DATA: 1 byte (WitnessScriptSHA256 length)
	//	- WitnessScriptSHA256: 32 bytes
	P2WSHSize = 1 + 1 + 32

	// P2WPKHSize 22 bytes
	//	- OP_0: 1 byte
	//	- OP_DATA: 1 byte (PublicKeyHASH160 length)
	//	- PublicKeyHASH160: 20 bytes
	P2WPKHSize = 1 + 1 + 20

	// MultiSigSize 71 bytes
	//	- OP_2: 1 byte
	//	- OP_DATA: 1 byte (pubKeyAlice length)
	//	- pubKeyAlice: 33 bytes
	//	- OP_DATA: 1 byte (pubKeyBob length)
	//	- pubKeyBob: 33 bytes
	//	- OP_2: 1 byte
	//	- OP_CHECKMULTISIG: 1 byte
	MultiSigSize = 1 + 1 + 33 + 1 + 33 + 1 + 1

	// MultiSigWitnessSize 222 bytes, the witness spending the deposit.
	//	- NumberOfWitnessElements: 1 byte
	//	- NilLength: 1 byte
	//	- sigAliceLength: 1 byte
	//	- sigAlice: 73 bytes
	//	- sigBobLength: 1 byte
	//	- sigBob: 73 bytes
	//	- WitnessScriptLength: 1 byte
	//	- WitnessScript (MultiSig)
	MultiSigWitnessSize = 1 + 1 + 1 + 73 + 1 + 73 + 1 + MultiSigSize

	// WarningScriptSize 116 bytes, upper bound assuming a four byte claim
	// delay push.
	//	- OP_IF: 1 byte
	//	- MultiSig: 71 bytes
	//	- OP_ELSE: 1 byte
	//	- OP_DATA: 1 byte (claim delay length)
	//	- claim delay: 4 bytes
	//	- OP_CHECKSEQUENCEVERIFY: 1 byte
	//	- OP_DROP: 1 byte
	//	- OP_DATA: 1 byte (claimant key length)
	//	- claimant key: 33 bytes
	//	- OP_CHECKSIG: 1 byte
	//	- OP_ENDIF: 1 byte
	WarningScriptSize = 1 + MultiSigSize + 1 + 1 + 4 + 1 + 1 + 1 + 33 + 1 + 1

	// WarningMultiSigWitnessSize 269 bytes, the redirect spend path.
	//	- NumberOfWitnessElements: 1 byte
	//	- NilLength: 1 byte
	//	- sigAliceLength: 1 byte
	//	- sigAlice: 73 bytes
	//	- sigBobLength: 1 byte
	//	- sigBob: 73 bytes
	//	- selectorLength: 1 byte
	//	- selector: 1 byte
	//	- WitnessScriptLength: 1 byte
	//	- WitnessScript (WarningScript)
	WarningMultiSigWitnessSize = 1 + 1 + 1 + 73 + 1 + 73 + 1 + 1 + 1 +
		WarningScriptSize

	// WarningClaimWitnessSize 193 bytes, the timelocked claim path.
	//	- NumberOfWitnessElements: 1 byte
	//	- sigLength: 1 byte
	//	- sig: 73 bytes
	//	- selectorLength: 1 byte (empty selector)
	//	- WitnessScriptLength: 1 byte
	//	- WitnessScript (WarningScript)
	WarningClaimWitnessSize = 1 + 1 + 73 + 1 + 1 + WarningScriptSize

	// InputSize 41 bytes
	//	- PreviousOutPoint:
	//		- Hash: 32 bytes
	//		- Index: 4 bytes
	//	- OP_DATA: 1 byte (ScriptSigLength)
	//	- Sequence: 4 bytes
	InputSize = 32 + 4 + 1 + 4

	// P2WSHOutputSize 43 bytes
	//	- Value: 8 bytes
	//	- VarInt: 1 byte (PkScript length)
	//	- PkScript (P2WSH)
	P2WSHOutputSize = 8 + 1 + P2WSHSize

	// P2WPKHOutputSize 31 bytes
	//	- Value: 8 bytes
	//	- VarInt: 1 byte (PkScript length)
	//	- PkScript (P2WPKH)
	P2WPKHOutputSize = 8 + 1 + P2WPKHSize

	// ReceiverOutputSize is the per receiver output estimate used for the
	// redirect transaction. Receivers use arbitrary address types, so the
	// estimate is rounded up from P2WPKH.
	ReceiverOutputSize = 32

	// BaseTxSize 8 bytes
	//	- Version: 4 bytes
	//	- LockTime: 4 bytes
	BaseTxSize = 4 + 4

	// WitnessHeaderSize 2 bytes
	//	- Flag: 1 byte
	//	- Marker: 1 byte
	WitnessHeaderSize = 1 + 1

	// WarningTxWeight 724 weight
	//	- BaseTxSize: 8 bytes
	//	- InputCount: 1 byte
	//	- Input: 41 bytes
	//	- OutputCount: 1 byte
	//	- Escrow output (P2WSH): 43 bytes
	//	- Fee bump output: 31 bytes
	//	- Witness header: 2 bytes
	//	- Deposit multisig witness: 222 bytes
	WarningTxWeight = (BaseTxSize+1+InputSize+1+P2WSHOutputSize+
		P2WPKHOutputSize)*blockchain.WitnessScaleFactor +
		WitnessHeaderSize + MultiSigWitnessSize

	// ClaimTxWeight 523 weight
	//	- BaseTxSize: 8 bytes
	//	- InputCount: 1 byte
	//	- Input: 41 bytes
	//	- OutputCount: 1 byte
	//	- Claim output: 31 bytes
	//	- Witness header: 2 bytes
	//	- Claim witness: 193 bytes
	ClaimTxWeight = (BaseTxSize+1+InputSize+1+P2WPKHOutputSize)*
		blockchain.WitnessScaleFactor + WitnessHeaderSize +
		WarningClaimWitnessSize
)

// RedirectTxWeight returns the estimated weight of a redirect transaction
// paying the given number of receivers plus one fee bump output.
func RedirectTxWeight(numReceivers int) int64 {
	numOutputs := uint64(numReceivers + 1)
	baseSize := BaseTxSize + 1 + InputSize +
		wire.VarIntSerializeSize(numOutputs) +
		numReceivers*ReceiverOutputSize + P2WPKHOutputSize

	return int64(baseSize*blockchain.WitnessScaleFactor +
		WitnessHeaderSize + WarningMultiSigWitnessSize)
}
