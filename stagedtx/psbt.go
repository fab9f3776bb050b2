package stagedtx

import (
	"bytes"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/p2ptrade/escrowd/trade"
)

// ErrNotBuilt is returned when a packet is requested for a staged
// transaction that was not built yet.
var ErrNotBuilt = errors.New("staged tx not built")

// NewSigningPacket wraps the single input staged transaction tx into a
// PSBT that carries everything an external signer needs to sign its input:
// the spent output and its witness script.
func NewSigningPacket(tx *wire.MsgTx, prevOut *wire.TxOut,
	witnessScript []byte) (*psbt.Packet, error) {

	if err := checkSingleInput(tx); err != nil {
		return nil, err
	}

	// A PSBT's unsigned transaction must not carry any signature data.
	unsigned := tx.Copy()
	for _, txIn := range unsigned.TxIn {
		txIn.SignatureScript = nil
		txIn.Witness = nil
	}

	packet, err := psbt.NewFromUnsignedTx(unsigned)
	if err != nil {
		return nil, err
	}

	packet.Inputs[0].WitnessUtxo = prevOut
	packet.Inputs[0].WitnessScript = witnessScript
	packet.Inputs[0].SighashType = txscript.SigHashAll

	return packet, nil
}

// checkSingleInput returns an error unless tx has exactly one input.
func checkSingleInput(tx *wire.MsgTx) error {
	if tx == nil {
		return ErrNotBuilt
	}
	if len(tx.TxIn) != 1 {
		return errors.New("staged tx must have exactly one input")
	}

	return nil
}

// AddPartialSig records sig as pubKey's signature over the packet's input,
// replacing a previous signature of the same key.
func AddPartialSig(packet *psbt.Packet, pubKey *btcec.PublicKey,
	sig []byte) {

	key := pubKey.SerializeCompressed()
	in := &packet.Inputs[0]
	for _, partial := range in.PartialSigs {
		if bytes.Equal(partial.PubKey, key) {
			partial.Signature = sig
			return
		}
	}

	in.PartialSigs = append(in.PartialSigs, &psbt.PartialSig{
		PubKey:    key,
		Signature: sig,
	})
}

// PartialSig returns pubKey's signature over the packet's input.
func PartialSig(packet *psbt.Packet, pubKey *btcec.PublicKey) ([]byte,
	error) {

	key := pubKey.SerializeCompressed()
	for _, partial := range packet.Inputs[0].PartialSigs {
		if bytes.Equal(partial.PubKey, key) {
			return partial.Signature, nil
		}
	}

	return nil, ErrMissingPeerSignature
}

// addTradeSigs copies the known buyer and seller signatures into the
// packet.
func addTradeSigs(packet *psbt.Packet, keys EscrowKeys, buyerSig,
	sellerSig []byte) {

	if len(buyerSig) > 0 {
		AddPartialSig(packet, keys.Buyer, buyerSig)
	}
	if len(sellerSig) > 0 {
		AddPartialSig(packet, keys.Seller, sellerSig)
	}
}

// WarningPacket returns the signing packet of the warning transaction of
// the given trade party, including the signatures collected so far.
func WarningPacket(t *trade.Trade, role trade.Role) (*psbt.Packet, error) {
	party := t.Party(role)
	if party.WarningTx == nil {
		return nil, ErrNotBuilt
	}

	keys := KeysForTrade(t)
	_, depositOut, err := DepositOutput(t.DepositTx, keys)
	if err != nil {
		return nil, err
	}

	witnessScript, _, err := keys.DepositScript()
	if err != nil {
		return nil, err
	}

	packet, err := NewSigningPacket(
		party.WarningTx, depositOut, witnessScript,
	)
	if err != nil {
		return nil, err
	}

	buyerSig, sellerSig := party.WarningSigs()
	addTradeSigs(packet, keys, buyerSig, sellerSig)

	return packet, nil
}

// RedirectPacket returns the signing packet of the redirect transaction of
// the given trade party, including the signatures collected so far. The
// redirect transaction spends the other party's warning output.
func RedirectPacket(t *trade.Trade, role trade.Role,
	claimDelay uint32) (*psbt.Packet, error) {

	party := t.Party(role)
	if party.RedirectTx == nil {
		return nil, ErrNotBuilt
	}

	peer := t.Party(role.Other())
	_, warningOut, err := WarningOutput(peer.WarningTx)
	if err != nil {
		return nil, err
	}

	keys := KeysForTrade(t)
	witnessScript, _, err := keys.WarningScript(
		claimDelay, peer.MultiSigPubKey,
	)
	if err != nil {
		return nil, err
	}

	packet, err := NewSigningPacket(
		party.RedirectTx, warningOut, witnessScript,
	)
	if err != nil {
		return nil, err
	}

	buyerSig, sellerSig := party.RedirectSigs()
	addTradeSigs(packet, keys, buyerSig, sellerSig)

	return packet, nil
}
