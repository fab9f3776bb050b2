package input

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// MockSigner is a simple implementation of the Signer interface. Each one has
// a set of private keys in a slice and can sign messages using the
// appropriate one.
type MockSigner struct {
	Privkeys []*btcec.PrivateKey
}

// A compile time check to ensure MockSigner implements the Signer interface.
var _ Signer = (*MockSigner)(nil)

// NewMockSigner returns a MockSigner holding the passed keys.
func NewMockSigner(keys ...*btcec.PrivateKey) *MockSigner {
	return &MockSigner{Privkeys: keys}
}

// SignOutputRaw generates a signature for the passed transaction according to
// the data within the passed SignDescriptor.
func (m *MockSigner) SignOutputRaw(tx *wire.MsgTx,
	signDesc *SignDescriptor) (Signature, error) {

	if err := signDesc.Validate(); err != nil {
		return nil, err
	}

	privKey := m.findKey(signDesc.PubKey)
	if privKey == nil {
		return nil, fmt.Errorf("mock signer does not have key")
	}

	sig, err := txscript.RawTxInWitnessSignature(
		tx, signDesc.SigHashes, signDesc.InputIndex,
		signDesc.Output.Value, signDesc.WitnessScript,
		signDesc.HashType, privKey,
	)
	if err != nil {
		return nil, err
	}

	return ecdsa.ParseDERSignature(sig[:len(sig)-1])
}

// findKey searches through all stored private keys and returns the one
// matching the passed public key.
func (m *MockSigner) findKey(pub *btcec.PublicKey) *btcec.PrivateKey {
	for _, privkey := range m.Privkeys {
		if privkey.PubKey().IsEqual(pub) {
			return privkey
		}
	}

	return nil
}
