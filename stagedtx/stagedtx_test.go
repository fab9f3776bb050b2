package stagedtx

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/p2ptrade/escrowd/burningman"
	"github.com/p2ptrade/escrowd/escrow"
	"github.com/p2ptrade/escrowd/input"
	"github.com/stretchr/testify/require"
)

const (
	testDepositValue = 1_000_000
	testFeeRate      = escrow.SatPerVByte(10)
	testLockTime     = 850_000
)

var testNet = &chaincfg.RegressionNetParams

// testHarness holds the keys and the deposit of a test trade.
type testHarness struct {
	buyerKey  *btcec.PrivateKey
	sellerKey *btcec.PrivateKey
	keys      EscrowKeys
	signer    *input.MockSigner
	depositTx *wire.MsgTx
	params    escrow.Params
}

func keyAddress(t *testing.T, key *btcec.PrivateKey) string {
	t.Helper()

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(key.PubKey().SerializeCompressed()), testNet,
	)
	require.NoError(t, err)

	return addr.EncodeAddress()
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	buyerKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	sellerKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	_, depositOut, err := input.GenDepositPkScript(
		buyerKey.PubKey().SerializeCompressed(),
		sellerKey.PubKey().SerializeCompressed(), testDepositValue,
	)
	require.NoError(t, err)

	// The deposit carries a change output in front of the 2-of-2 to
	// make sure the output is located by script.
	depositTx := wire.NewMsgTx(2)
	depositTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{1}},
	})
	depositTx.AddTxOut(wire.NewTxOut(5000, []byte{0x00, 0x14}))
	depositTx.AddTxOut(depositOut)

	return &testHarness{
		buyerKey:  buyerKey,
		sellerKey: sellerKey,
		keys: EscrowKeys{
			Buyer:  buyerKey.PubKey(),
			Seller: sellerKey.PubKey(),
		},
		signer:    input.NewMockSigner(buyerKey, sellerKey),
		depositTx: depositTx,
		params:    escrow.DefaultParams(),
	}
}

// buildWarning builds the warning tx claimable by claimant.
func (h *testHarness) buildWarning(t *testing.T,
	claimant *btcec.PrivateKey) *wire.MsgTx {

	t.Helper()

	tx, err := BuildWarningTx(WarningTxParams{
		DepositTx:      h.depositTx,
		Keys:           h.keys,
		Claimant:       claimant.PubKey(),
		FeeBumpAddress: keyAddress(t, claimant),
		LockTime:       testLockTime,
		DepositFeeRate: testFeeRate,
		Params:         h.params,
		NetParams:      testNet,
	})
	require.NoError(t, err)

	return tx
}

// finalizeWarning signs the warning tx with both keys and finalizes it.
func (h *testHarness) finalizeWarning(t *testing.T,
	tx *wire.MsgTx) *wire.MsgTx {

	t.Helper()

	buyerSig, err := SignWarningInput(
		h.signer, tx, h.depositTx, h.keys, h.keys.Buyer,
	)
	require.NoError(t, err)
	sellerSig, err := SignWarningInput(
		h.signer, tx, h.depositTx, h.keys, h.keys.Seller,
	)
	require.NoError(t, err)

	finalized, err := FinalizeWarningTx(
		tx, h.depositTx, h.keys, buyerSig, sellerSig,
	)
	require.NoError(t, err)

	return finalized
}

// TestWarningTx covers building and finalizing a warning transaction for a
// 1 BTC cent deposit at 10 sat/vB.
func TestWarningTx(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	warningTx := h.buildWarning(t, h.buyerKey)

	fee := h.params.WarningTxFee(testFeeRate)
	require.Equal(t, btcutil.Amount(1810), fee)

	require.EqualValues(t, testLockTime, warningTx.LockTime)
	require.Len(t, warningTx.TxIn, 1)
	require.Equal(t, uint32(1), warningTx.TxIn[0].PreviousOutPoint.Index)
	require.False(t, input.HasRelativeLockTime(warningTx))

	require.Len(t, warningTx.TxOut, 2)
	require.Equal(t, testDepositValue-fee, sumOutputs(warningTx))
	require.EqualValues(
		t, h.params.WarningFeeBumpValue, warningTx.TxOut[1].Value,
	)
	require.EqualValues(
		t, testDepositValue-fee-h.params.WarningFeeBumpValue,
		warningTx.TxOut[0].Value,
	)

	finalized := h.finalizeWarning(t, warningTx)
	require.Equal(t, warningTx.TxHash(), finalized.TxHash())
	require.Len(t, finalized.TxIn[0].Witness, 4)

	// The unsigned transaction is left untouched.
	require.Empty(t, warningTx.TxIn[0].Witness)
}

// TestFinalizeWarningTxErrors covers the missing input errors and a bad
// signature.
func TestFinalizeWarningTxErrors(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	warningTx := h.buildWarning(t, h.sellerKey)

	buyerSig, err := SignWarningInput(
		h.signer, warningTx, h.depositTx, h.keys, h.keys.Buyer,
	)
	require.NoError(t, err)
	sellerSig, err := SignWarningInput(
		h.signer, warningTx, h.depositTx, h.keys, h.keys.Seller,
	)
	require.NoError(t, err)

	_, err = FinalizeWarningTx(warningTx, nil, h.keys, buyerSig, sellerSig)
	require.ErrorIs(t, err, ErrMissingDepositTx)

	_, err = FinalizeWarningTx(warningTx, h.depositTx, h.keys, buyerSig, nil)
	require.ErrorIs(t, err, ErrMissingPeerSignature)

	_, err = FinalizeWarningTx(
		warningTx, h.depositTx, EscrowKeys{Buyer: h.keys.Buyer},
		buyerSig, sellerSig,
	)
	require.ErrorIs(t, err, ErrMissingPeerPubKey)

	// Swapped signatures do not satisfy the 2-of-2.
	_, err = FinalizeWarningTx(
		warningTx, h.depositTx, h.keys, sellerSig, buyerSig,
	)
	require.ErrorIs(t, err, ErrScriptVerification)

	// A deposit without the 2-of-2 output is rejected.
	other := wire.NewMsgTx(2)
	other.AddTxOut(wire.NewTxOut(testDepositValue, []byte{0x51}))
	_, err = FinalizeWarningTx(warningTx, other, h.keys, buyerSig, sellerSig)
	require.ErrorIs(t, err, ErrDepositOutputNotFound)
}

// TestCheckWarningAmounts asserts mirrored warning transactions agree and a
// tampered copy is rejected.
func TestCheckWarningAmounts(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	buyerWarning := h.buildWarning(t, h.buyerKey)
	sellerWarning := h.buildWarning(t, h.sellerKey)

	_, depositOut, err := DepositOutput(h.depositTx, h.keys)
	require.NoError(t, err)

	fee := h.params.WarningTxFee(testFeeRate)
	require.NoError(t, CheckWarningAmounts(
		buyerWarning, sellerWarning, depositOut, fee,
	))

	tampered := sellerWarning.Copy()
	tampered.TxOut[0].Value--
	err = CheckWarningAmounts(buyerWarning, tampered, depositOut, fee)
	require.ErrorIs(t, err, ErrAmountMismatch)

	// Moving value between the outputs keeps the total but breaks the
	// escrow output equality.
	tampered = sellerWarning.Copy()
	tampered.TxOut[0].Value -= 100
	tampered.TxOut[1].Value += 100
	err = CheckWarningAmounts(buyerWarning, tampered, depositOut, fee)
	require.ErrorIs(t, err, ErrAmountMismatch)

	tampered = sellerWarning.Copy()
	tampered.TxIn[0].PreviousOutPoint.Index = 0
	err = CheckWarningAmounts(buyerWarning, tampered, depositOut, fee)
	require.ErrorIs(t, err, ErrAmountMismatch)

	err = CheckWarningAmounts(buyerWarning, nil, depositOut, fee)
	require.ErrorIs(t, err, ErrMissingWarningTx)
}

// TestRedirectTx builds the buyer's redirect transaction over the seller's
// warning output, finalizes it and checks its receivers.
func TestRedirectTx(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	sellerWarning := h.finalizeWarning(t, h.buildWarning(t, h.sellerKey))

	legacyKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	receiverKeys := make([]*btcec.PrivateKey, 3)
	receivers := make([]burningman.Receiver, 3)
	for i := range receiverKeys {
		receiverKeys[i], err = btcec.NewPrivateKey()
		require.NoError(t, err)
		receivers[i] = burningman.Receiver{
			Weight:  int64(i + 1),
			Address: keyAddress(t, receiverKeys[i]),
		}
	}
	source, err := burningman.NewStaticSource(
		keyAddress(t, legacyKey),
		burningman.Snapshot{Height: 100, Receivers: receivers},
	)
	require.NoError(t, err)
	service := burningman.NewService(burningman.Config{
		Source:    source,
		Params:    h.params,
		NetParams: testNet,
	})

	_, warningOut, err := WarningOutput(sellerWarning)
	require.NoError(t, err)

	selected, err := service.GetReceivers(
		100, btcutil.Amount(warningOut.Value), testFeeRate,
		burningman.WithRedirect(), burningman.WithFeeBump(),
	)
	require.NoError(t, err)

	redirectTx, err := BuildRedirectTx(RedirectTxParams{
		PeerWarningTx:  sellerWarning,
		Receivers:      selected,
		FeeBumpAddress: keyAddress(t, h.buyerKey),
		Params:         h.params,
		NetParams:      testNet,
	})
	require.NoError(t, err)
	require.False(t, input.HasRelativeLockTime(redirectTx))
	require.Zero(t, redirectTx.LockTime)
	require.LessOrEqual(t, sumOutputs(redirectTx),
		btcutil.Amount(warningOut.Value))
	require.NoError(t, VerifyRedirectReceivers(redirectTx, selected, testNet))

	warningScript, _, err := h.keys.WarningScript(
		h.params.ClaimDelay, h.keys.Seller,
	)
	require.NoError(t, err)

	buyerSig, err := SignRedirectInput(
		h.signer, redirectTx, sellerWarning, warningScript, h.keys.Buyer,
	)
	require.NoError(t, err)
	sellerSig, err := SignRedirectInput(
		h.signer, redirectTx, sellerWarning, warningScript,
		h.keys.Seller,
	)
	require.NoError(t, err)

	finalized, err := FinalizeRedirectTx(
		redirectTx, sellerWarning, warningScript, h.keys, buyerSig,
		sellerSig,
	)
	require.NoError(t, err)
	require.Len(t, finalized.TxIn[0].Witness, 5)

	// The wrong claimant yields a different script and fails.
	wrongScript, _, err := h.keys.WarningScript(
		h.params.ClaimDelay, h.keys.Buyer,
	)
	require.NoError(t, err)
	_, err = FinalizeRedirectTx(
		redirectTx, sellerWarning, wrongScript, h.keys, buyerSig,
		sellerSig,
	)
	require.ErrorIs(t, err, ErrScriptVerification)

	// Receivers recomputed by a peer with other data do not verify.
	altered := make([]burningman.Receiver, len(selected))
	copy(altered, selected)
	altered[0].Weight++
	err = VerifyRedirectReceivers(redirectTx, altered, testNet)
	require.ErrorIs(t, err, ErrReceiverMismatch)

	err = VerifyRedirectReceivers(redirectTx, selected[1:], testNet)
	require.ErrorIs(t, err, ErrReceiverMismatch)
}

// TestBuildRedirectTxErrors covers invalid receiver sets.
func TestBuildRedirectTxErrors(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	sellerWarning := h.buildWarning(t, h.sellerKey)

	params := RedirectTxParams{
		PeerWarningTx:  sellerWarning,
		FeeBumpAddress: keyAddress(t, h.buyerKey),
		Params:         h.params,
		NetParams:      testNet,
	}

	_, err := BuildRedirectTx(params)
	require.ErrorIs(t, err, burningman.ErrNoReceivers)

	params.Receivers = []burningman.Receiver{{
		Weight:  testDepositValue,
		Address: keyAddress(t, h.sellerKey),
	}}
	_, err = BuildRedirectTx(params)
	require.ErrorIs(t, err, ErrOutputsExceedInput)

	params.Receivers = []burningman.Receiver{{
		Weight:  100,
		Address: keyAddress(t, h.sellerKey),
	}}
	_, err = BuildRedirectTx(params)
	require.ErrorIs(t, err, ErrOutputBelowDust)

	params.PeerWarningTx = nil
	_, err = BuildRedirectTx(params)
	require.ErrorIs(t, err, ErrMissingWarningTx)
}

// TestClaimTx signs a claim transaction through the timelocked branch.
func TestClaimTx(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	buyerWarning := h.finalizeWarning(t, h.buildWarning(t, h.buyerKey))

	claimTx, err := BuildClaimTx(ClaimTxParams{
		WarningTx:      buyerWarning,
		ClaimAddress:   keyAddress(t, h.buyerKey),
		DepositFeeRate: testFeeRate,
		Params:         h.params,
		NetParams:      testNet,
	})
	require.NoError(t, err)
	require.True(t, input.HasRelativeLockTime(claimTx))
	require.Equal(t, uint32(h.params.ClaimDelay), claimTx.TxIn[0].Sequence)

	_, warningOut, err := WarningOutput(buyerWarning)
	require.NoError(t, err)
	require.EqualValues(
		t, warningOut.Value-int64(h.params.ClaimTxFee(testFeeRate)),
		claimTx.TxOut[0].Value,
	)

	warningScript, _, err := h.keys.WarningScript(
		h.params.ClaimDelay, h.keys.Buyer,
	)
	require.NoError(t, err)

	signed, err := SignClaimTx(
		h.signer, claimTx, buyerWarning, warningScript, h.keys.Buyer,
	)
	require.NoError(t, err)
	require.Len(t, signed.TxIn[0].Witness, 3)

	// The seller cannot claim the buyer's warning output.
	_, err = SignClaimTx(
		h.signer, claimTx, buyerWarning, warningScript, h.keys.Seller,
	)
	require.ErrorIs(t, err, ErrScriptVerification)

	// Without the relative locktime the claim branch fails.
	early := claimTx.Copy()
	early.TxIn[0].Sequence = wire.MaxTxInSequenceNum
	_, err = SignClaimTx(
		h.signer, early, buyerWarning, warningScript, h.keys.Buyer,
	)
	require.ErrorIs(t, err, ErrScriptVerification)
}

// TestTxEqual asserts byte equality classification.
func TestTxEqual(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	finalized := h.finalizeWarning(t, h.buildWarning(t, h.buyerKey))

	raw, err := SerializeTx(finalized)
	require.NoError(t, err)
	require.True(t, TxEqual(raw, finalized))

	decoded, err := DeserializeTx(raw)
	require.NoError(t, err)
	require.True(t, TxEqual(raw, decoded))

	// Same txid, different witness: not the same transaction bytes.
	malleated := finalized.Copy()
	malleated.TxIn[0].Witness[0] = []byte{0x00}
	require.Equal(t, finalized.TxHash(), malleated.TxHash())
	require.False(t, TxEqual(raw, malleated))

	require.False(t, TxEqual(nil, finalized))
	require.False(t, TxEqual(raw, nil))
}
