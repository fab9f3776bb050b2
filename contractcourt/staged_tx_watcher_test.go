package contractcourt

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/p2ptrade/escrowd/burningman"
	"github.com/p2ptrade/escrowd/chainntnfs"
	"github.com/p2ptrade/escrowd/dispatch"
	"github.com/p2ptrade/escrowd/escrow"
	"github.com/p2ptrade/escrowd/input"
	"github.com/p2ptrade/escrowd/stagedtx"
	"github.com/p2ptrade/escrowd/trade"
	"github.com/p2ptrade/escrowd/wallet"
	"github.com/stretchr/testify/require"
)

const (
	testDepositValue = 1_000_000
	testFeeRate      = escrow.SatPerVByte(10)
	testLockTime     = 850_000
	testTradeID      = "trade-1"

	waitTimeout = 5 * time.Second
	waitTick    = 10 * time.Millisecond
)

var testNet = &chaincfg.RegressionNetParams

func keyAddress(t *testing.T, key *btcec.PrivateKey) string {
	t.Helper()

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(key.PubKey().SerializeCompressed()), testNet,
	)
	require.NoError(t, err)

	return addr.EncodeAddress()
}

// stagedTxs is the complete staged transaction chain of a trade, signed by
// both keys.
type stagedTxs struct {
	depositTx *wire.MsgTx

	// buyerWarning is claimable by the buyer, sellerWarning by the
	// seller.
	buyerWarning  *wire.MsgTx
	sellerWarning *wire.MsgTx

	// buyerClaim spends buyerWarning, sellerClaim spends sellerWarning.
	buyerClaim  *wire.MsgTx
	sellerClaim *wire.MsgTx

	// buyerRedirect spends sellerWarning, sellerRedirect spends
	// buyerWarning.
	buyerRedirect  *wire.MsgTx
	sellerRedirect *wire.MsgTx
}

func buildStagedTxs(t *testing.T, buyerKey,
	sellerKey *btcec.PrivateKey) *stagedTxs {

	t.Helper()

	params := escrow.DefaultParams()
	keys := stagedtx.EscrowKeys{
		Buyer:  buyerKey.PubKey(),
		Seller: sellerKey.PubKey(),
	}
	signer := input.NewMockSigner(buyerKey, sellerKey)

	_, depositOut, err := input.GenDepositPkScript(
		keys.Buyer.SerializeCompressed(),
		keys.Seller.SerializeCompressed(), testDepositValue,
	)
	require.NoError(t, err)
	depositTx := wire.NewMsgTx(2)
	depositTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{1}},
		SignatureScript:  []byte{0x01},
	})
	depositTx.AddTxOut(depositOut)

	warning := func(claimant *btcec.PrivateKey) *wire.MsgTx {
		tx, err := stagedtx.BuildWarningTx(stagedtx.WarningTxParams{
			DepositTx:      depositTx,
			Keys:           keys,
			Claimant:       claimant.PubKey(),
			FeeBumpAddress: keyAddress(t, claimant),
			LockTime:       testLockTime,
			DepositFeeRate: testFeeRate,
			Params:         params,
			NetParams:      testNet,
		})
		require.NoError(t, err)

		buyerSig, err := stagedtx.SignWarningInput(
			signer, tx, depositTx, keys, keys.Buyer,
		)
		require.NoError(t, err)
		sellerSig, err := stagedtx.SignWarningInput(
			signer, tx, depositTx, keys, keys.Seller,
		)
		require.NoError(t, err)

		finalized, err := stagedtx.FinalizeWarningTx(
			tx, depositTx, keys, buyerSig, sellerSig,
		)
		require.NoError(t, err)

		return finalized
	}

	claim := func(warningTx *wire.MsgTx,
		claimant *btcec.PrivateKey) *wire.MsgTx {

		tx, err := stagedtx.BuildClaimTx(stagedtx.ClaimTxParams{
			WarningTx:      warningTx,
			ClaimAddress:   keyAddress(t, claimant),
			DepositFeeRate: testFeeRate,
			Params:         params,
			NetParams:      testNet,
		})
		require.NoError(t, err)

		script, _, err := keys.WarningScript(
			params.ClaimDelay, claimant.PubKey(),
		)
		require.NoError(t, err)

		signed, err := stagedtx.SignClaimTx(
			signer, tx, warningTx, script, claimant.PubKey(),
		)
		require.NoError(t, err)

		return signed
	}

	receiverKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	redirect := func(peerWarning *wire.MsgTx, peer,
		redirector *btcec.PrivateKey) *wire.MsgTx {

		_, warningOut, err := stagedtx.WarningOutput(peerWarning)
		require.NoError(t, err)

		tx, err := stagedtx.BuildRedirectTx(stagedtx.RedirectTxParams{
			PeerWarningTx: peerWarning,
			Receivers: []burningman.Receiver{{
				Weight:  warningOut.Value - 10_000,
				Address: keyAddress(t, receiverKey),
			}},
			FeeBumpAddress: keyAddress(t, redirector),
			Params:         params,
			NetParams:      testNet,
		})
		require.NoError(t, err)

		script, _, err := keys.WarningScript(
			params.ClaimDelay, peer.PubKey(),
		)
		require.NoError(t, err)

		buyerSig, err := stagedtx.SignRedirectInput(
			signer, tx, peerWarning, script, keys.Buyer,
		)
		require.NoError(t, err)
		sellerSig, err := stagedtx.SignRedirectInput(
			signer, tx, peerWarning, script, keys.Seller,
		)
		require.NoError(t, err)

		finalized, err := stagedtx.FinalizeRedirectTx(
			tx, peerWarning, script, keys, buyerSig, sellerSig,
		)
		require.NoError(t, err)

		return finalized
	}

	s := &stagedTxs{
		depositTx:     depositTx,
		buyerWarning:  warning(buyerKey),
		sellerWarning: warning(sellerKey),
	}
	s.buyerClaim = claim(s.buyerWarning, buyerKey)
	s.sellerClaim = claim(s.sellerWarning, sellerKey)
	s.buyerRedirect = redirect(s.sellerWarning, sellerKey, buyerKey)
	s.sellerRedirect = redirect(s.buyerWarning, buyerKey, sellerKey)

	return s
}

func serialize(t *testing.T, tx *wire.MsgTx) fn.Option[[]byte] {
	t.Helper()

	raw, err := stagedtx.SerializeTx(tx)
	require.NoError(t, err)

	return fn.Some(raw)
}

// transitionRecord is one dispute state transition seen by the watcher's
// hook.
type transitionRecord struct {
	from, to trade.DisputeState
}

// watcherHarness runs a watcher over a trade in which we are the buyer.
type watcherHarness struct {
	t *testing.T

	txs      *stagedTxs
	trade    *trade.Trade
	notifier *chainntnfs.ManualNotifier
	executor *dispatch.Dispatcher
	watcher  *StagedTxWatcher

	mu          sync.Mutex
	persisted   int
	transitions []transitionRecord
}

func newWatcherHarness(t *testing.T) *watcherHarness {
	t.Helper()

	buyerKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	sellerKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	txs := buildStagedTxs(t, buyerKey, sellerKey)

	tr := trade.New(testTradeID, true, testLockTime, testFeeRate)
	tr.DepositTx = txs.depositTx
	tr.Phase = trade.PhaseDepositConfirmed
	tr.Local.MultiSigPubKey = buyerKey.PubKey()
	tr.Remote.MultiSigPubKey = sellerKey.PubKey()
	tr.Local.FinalizedWarningTx = serialize(t, txs.buyerWarning)
	tr.Local.SignedClaimTx = serialize(t, txs.buyerClaim)
	tr.Local.FinalizedRedirectTx = serialize(t, txs.buyerRedirect)

	h := &watcherHarness{
		t:        t,
		txs:      txs,
		trade:    tr,
		notifier: chainntnfs.NewManualNotifier(),
		executor: dispatch.New(),
	}
	require.NoError(t, h.executor.Start())

	h.watcher = NewStagedTxWatcher(WatcherConfig{
		Notifier: h.notifier,
		Executor: h.executor,
		Persist: func(*trade.Trade) error {
			h.mu.Lock()
			defer h.mu.Unlock()

			h.persisted++
			return nil
		},
		OnTransition: func(_ *trade.Trade, from,
			to trade.DisputeState) {

			h.mu.Lock()
			defer h.mu.Unlock()

			h.transitions = append(
				h.transitions, transitionRecord{from, to},
			)
		},
	})
	require.NoError(t, h.watcher.Start())

	t.Cleanup(func() {
		require.NoError(t, h.watcher.Stop())
		require.NoError(t, h.executor.Stop())
		require.NoError(t, h.notifier.Stop())
	})

	return h
}

// onTradeThread runs f on the dispatcher and waits for it.
func (h *watcherHarness) onTradeThread(f func(t *trade.Trade)) {
	h.t.Helper()

	require.NoError(h.t, h.executor.ExecuteSync(func() {
		f(h.trade)
	}))
}

func (h *watcherHarness) watch() {
	h.t.Helper()

	h.onTradeThread(func(t *trade.Trade) {
		require.NoError(h.t, h.watcher.Watch(t))
	})
}

// state reads the dispute state on the trade thread.
func (h *watcherHarness) state() trade.DisputeState {
	var state trade.DisputeState
	_ = h.executor.ExecuteSync(func() {
		state = h.trade.DisputeState
	})

	return state
}

func (h *watcherHarness) assertState(state trade.DisputeState) {
	h.t.Helper()

	require.Eventually(h.t, func() bool {
		return h.state() == state
	}, waitTimeout, waitTick, "expected dispute state %v", state)
}

// assertWatched waits until exactly one subscription for op is live.
func (h *watcherHarness) assertWatched(op wire.OutPoint) {
	h.t.Helper()

	require.Eventually(h.t, func() bool {
		return h.notifier.NumClients(op) == 1
	}, waitTimeout, waitTick, "expected a live subscription for %v", op)
}

// settle flushes every handler queued so far.
func (h *watcherHarness) settle() {
	h.t.Helper()

	time.Sleep(50 * time.Millisecond)
	require.NoError(h.t, h.executor.ExecuteSync(func() {}))
}

func (h *watcherHarness) depositOutPoint() wire.OutPoint {
	h.t.Helper()

	op, _, err := stagedtx.DepositOutput(
		h.txs.depositTx, stagedtx.KeysForTrade(h.trade),
	)
	require.NoError(h.t, err)

	return *op
}

func warningOutPoint(tx *wire.MsgTx) wire.OutPoint {
	return wire.OutPoint{Hash: tx.TxHash(), Index: 0}
}

func (h *watcherHarness) recorded() ([]transitionRecord, int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]transitionRecord(nil), h.transitions...), h.persisted
}

// TestWatcherLocalWarningThenClaim walks our own warning and claim through
// both stages.
func TestWatcherLocalWarningThenClaim(t *testing.T) {
	t.Parallel()

	h := newWatcherHarness(t)
	h.watch()
	h.assertWatched(h.depositOutPoint())

	require.Equal(t, 1, h.notifier.NotifySpend(h.txs.buyerWarning, 0, 0))
	h.assertState(trade.WarningSent)

	// The deposit subscription is gone and the warning output is
	// watched instead.
	h.assertWatched(warningOutPoint(h.txs.buyerWarning))
	require.Zero(t, h.notifier.NumClients(h.depositOutPoint()))

	require.Equal(t, 1, h.notifier.NotifySpend(h.txs.buyerClaim, 200, 1))
	h.assertState(trade.EscrowClaimed)

	h.settle()
	require.False(t, h.watcher.IsWatching(testTradeID))
	require.Zero(t, h.notifier.NumClients(
		warningOutPoint(h.txs.buyerWarning),
	))

	transitions, persisted := h.recorded()
	require.Equal(t, []transitionRecord{
		{trade.NoDispute, trade.WarningSent},
		{trade.WarningSent, trade.EscrowClaimed},
	}, transitions)
	require.Equal(t, 2, persisted)
}

// TestWatcherPeerWarningThenRedirect asserts the peer's warning bytes are
// restored when they were pruned, and that our redirect is recognized.
func TestWatcherPeerWarningThenRedirect(t *testing.T) {
	t.Parallel()

	h := newWatcherHarness(t)
	h.onTradeThread(func(t *trade.Trade) {
		t.Remote.FinalizedWarningTx = fn.None[[]byte]()
	})
	h.watch()
	h.assertWatched(h.depositOutPoint())

	require.Equal(t, 1, h.notifier.NotifySpend(h.txs.sellerWarning, 0, 0))
	h.assertState(trade.WarningSentByPeer)

	h.onTradeThread(func(tr *trade.Trade) {
		require.Equal(
			t, serialize(t, h.txs.sellerWarning),
			tr.Remote.FinalizedWarningTx,
		)
	})

	h.assertWatched(warningOutPoint(h.txs.sellerWarning))
	require.Equal(t, 1, h.notifier.NotifySpend(h.txs.buyerRedirect, 0, 0))
	h.assertState(trade.RefundRequested)
}

// TestWatcherPeerClaim asserts a foreign claim is attributed to the peer and
// its bytes are kept.
func TestWatcherPeerClaim(t *testing.T) {
	t.Parallel()

	h := newWatcherHarness(t)
	h.watch()
	h.assertWatched(h.depositOutPoint())

	h.notifier.NotifySpend(h.txs.sellerWarning, 0, 0)
	h.assertState(trade.WarningSentByPeer)

	h.assertWatched(warningOutPoint(h.txs.sellerWarning))
	h.notifier.NotifySpend(h.txs.sellerClaim, 300, 1)
	h.assertState(trade.EscrowClaimedByPeer)

	h.onTradeThread(func(tr *trade.Trade) {
		require.Equal(
			t, serialize(t, h.txs.sellerClaim),
			tr.Remote.SignedClaimTx,
		)
	})
}

// TestWatcherPeerRedirect asserts a redirect of our warning output by the
// peer is attributed to the peer.
func TestWatcherPeerRedirect(t *testing.T) {
	t.Parallel()

	h := newWatcherHarness(t)
	h.watch()
	h.assertWatched(h.depositOutPoint())

	h.notifier.NotifySpend(h.txs.buyerWarning, 0, 0)
	h.assertState(trade.WarningSent)

	h.assertWatched(warningOutPoint(h.txs.buyerWarning))
	h.notifier.NotifySpend(h.txs.sellerRedirect, 0, 0)
	h.assertState(trade.RefundRequestStartedByPeer)

	h.onTradeThread(func(tr *trade.Trade) {
		require.Equal(
			t, serialize(t, h.txs.sellerRedirect),
			tr.Remote.FinalizedRedirectTx,
		)
	})
}

// TestWatcherPeerWinsRace runs the race in which the peer's warning
// transaction spends the deposit first and the claim held locally spends
// its output afterwards.
func TestWatcherPeerWinsRace(t *testing.T) {
	t.Parallel()

	h := newWatcherHarness(t)
	params := escrow.DefaultParams()
	require.EqualValues(t, 144, params.ClaimDelay)

	// Both warning transactions carry the negotiated locktime, one fee
	// bump output of the configured value and pay out the deposit minus
	// the mining fee.
	fee := params.WarningTxFee(testFeeRate)
	for _, tx := range []*wire.MsgTx{
		h.txs.buyerWarning, h.txs.sellerWarning,
	} {
		require.EqualValues(t, testLockTime, tx.LockTime)
		require.Len(t, tx.TxOut, 2)
		require.EqualValues(
			t, params.WarningFeeBumpValue, tx.TxOut[1].Value,
		)
		require.EqualValues(
			t, testDepositValue-int64(fee),
			tx.TxOut[0].Value+tx.TxOut[1].Value,
		)
	}

	// The claim bytes held locally are the ones that spend the winning
	// warning output.
	h.onTradeThread(func(tr *trade.Trade) {
		tr.Local.SignedClaimTx = serialize(t, h.txs.sellerClaim)
	})

	h.watch()
	h.assertWatched(h.depositOutPoint())

	h.notifier.NotifySpend(h.txs.sellerWarning, 0, 0)
	h.assertState(trade.WarningSentByPeer)

	h.assertWatched(warningOutPoint(h.txs.sellerWarning))
	require.True(t, input.HasRelativeLockTime(h.txs.sellerClaim))
	h.notifier.NotifySpend(h.txs.sellerClaim, 0, 0)
	h.assertState(trade.EscrowClaimed)
}

// TestWatcherFiresOnce asserts repeated notifications of the same spend
// apply a single transition.
func TestWatcherFiresOnce(t *testing.T) {
	t.Parallel()

	h := newWatcherHarness(t)
	h.watch()
	h.assertWatched(h.depositOutPoint())

	// The mempool sighting and the confirmation arrive back to back.
	h.notifier.NotifySpend(h.txs.buyerWarning, 0, 0)
	h.notifier.NotifySpend(h.txs.buyerWarning, 100, 1)
	h.assertState(trade.WarningSent)
	h.assertWatched(warningOutPoint(h.txs.buyerWarning))
	h.settle()

	transitions, _ := h.recorded()
	require.Len(t, transitions, 1)

	// Replaying the first stage handler with its spent generation is a
	// no-op as well.
	detail := chainntnfs.NewSpendDetail(h.txs.buyerWarning, 0, 100, 1)
	h.onTradeThread(func(*trade.Trade) {
		h.watcher.handleSpend(testTradeID, 1, detail)
	})

	transitions, _ = h.recorded()
	require.Len(t, transitions, 1)
	require.Equal(t, trade.WarningSent, h.state())
	require.Equal(t, 1, h.notifier.NumRegistrations(h.depositOutPoint()))
}

// TestWatcherClaimExcludesRedirect asserts a claimed escrow can never move
// to a refund state afterwards.
func TestWatcherClaimExcludesRedirect(t *testing.T) {
	t.Parallel()

	h := newWatcherHarness(t)
	h.watch()
	h.assertWatched(h.depositOutPoint())

	h.notifier.NotifySpend(h.txs.buyerWarning, 0, 0)
	h.assertWatched(warningOutPoint(h.txs.buyerWarning))
	h.notifier.NotifySpend(h.txs.buyerClaim, 0, 0)
	h.assertState(trade.EscrowClaimed)
	h.settle()

	// A conflicting redirect reaches nobody.
	require.Zero(t, h.notifier.NotifySpend(h.txs.sellerRedirect, 0, 0))

	// Even a handler that slipped through leaves the state alone.
	detail := chainntnfs.NewSpendDetail(h.txs.sellerRedirect, 0, 0, 0)
	h.onTradeThread(func(tr *trade.Trade) {
		h.watcher.handleWarningSpend(tr, h.txs.sellerRedirect, detail)
	})
	require.Equal(t, trade.EscrowClaimed, h.state())

	// Re-arming a claimed trade does nothing.
	h.watch()
	require.False(t, h.watcher.IsWatching(testTradeID))
}

// TestWatcherReleasedFunds asserts a spend is discarded once the funds were
// released by other means in the meantime.
func TestWatcherReleasedFunds(t *testing.T) {
	t.Parallel()

	h := newWatcherHarness(t)
	h.watch()
	h.assertWatched(h.depositOutPoint())

	h.onTradeThread(func(tr *trade.Trade) {
		require.True(t, tr.SetPhase(trade.PhasePayoutPublished))
	})

	h.notifier.NotifySpend(h.txs.buyerWarning, 0, 0)
	h.settle()

	require.Equal(t, trade.NoDispute, h.state())
	require.False(t, h.watcher.IsWatching(testTradeID))

	transitions, persisted := h.recorded()
	require.Empty(t, transitions)
	require.Zero(t, persisted)

	// Released trades are not armed again.
	h.watch()
	require.False(t, h.watcher.IsWatching(testTradeID))
}

// TestWatcherCooperativePayout asserts a deposit spend without locktime is
// not mistaken for a warning transaction.
func TestWatcherCooperativePayout(t *testing.T) {
	t.Parallel()

	h := newWatcherHarness(t)
	h.watch()
	h.assertWatched(h.depositOutPoint())

	payout := wire.NewMsgTx(2)
	payout.AddTxIn(&wire.TxIn{PreviousOutPoint: h.depositOutPoint()})
	payout.AddTxOut(wire.NewTxOut(990_000, []byte{0x51}))

	require.Equal(t, 1, h.notifier.NotifySpend(payout, 0, 0))
	h.settle()

	require.Equal(t, trade.NoDispute, h.state())
	require.False(t, h.watcher.IsWatching(testTradeID))
}

// TestWatcherRestart asserts a trade restored in a warning sent state is
// armed directly on the warning output that spent the deposit.
func TestWatcherRestart(t *testing.T) {
	t.Parallel()

	h := newWatcherHarness(t)
	h.onTradeThread(func(tr *trade.Trade) {
		tr.DisputeState = trade.WarningSentByPeer
	})

	// Without the peer's warning bytes there is nothing to watch.
	h.onTradeThread(func(tr *trade.Trade) {
		err := h.watcher.Watch(tr)
		require.ErrorIs(t, err, ErrMissingWarningBytes)
	})

	h.onTradeThread(func(tr *trade.Trade) {
		tr.Remote.FinalizedWarningTx = serialize(t, h.txs.sellerWarning)
	})
	h.watch()
	h.assertWatched(warningOutPoint(h.txs.sellerWarning))
	require.Zero(t, h.notifier.NumClients(h.depositOutPoint()))

	// Watching again keeps the single subscription.
	h.watch()
	require.Equal(t, 1, h.notifier.NumRegistrations(
		warningOutPoint(h.txs.sellerWarning),
	))

	h.notifier.NotifySpend(h.txs.buyerRedirect, 0, 0)
	h.assertState(trade.RefundRequested)
}

// TestWatcherResolvesSpenderAndHints asserts spends without the full
// transaction are resolved through the TxSource, and that the warning
// output is registered with the height its warning confirmed at.
func TestWatcherResolvesSpenderAndHints(t *testing.T) {
	t.Parallel()

	buyerKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	sellerKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	txs := buildStagedTxs(t, buyerKey, sellerKey)

	tr := trade.New(testTradeID, true, testLockTime, testFeeRate)
	tr.DepositTx = txs.depositTx
	tr.Phase = trade.PhaseDepositConfirmed
	tr.Local.MultiSigPubKey = buyerKey.PubKey()
	tr.Remote.MultiSigPubKey = sellerKey.PubKey()
	tr.Local.FinalizedWarningTx = serialize(t, txs.buyerWarning)

	db, err := kvdb.Create(
		kvdb.BoltBackendName, filepath.Join(t.TempDir(), "hints.db"),
		true, kvdb.DefaultDBTimeout, false,
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	hintCache, err := chainntnfs.NewHeightHintCache(
		chainntnfs.CacheConfig{}, db,
	)
	require.NoError(t, err)

	txSource := wallet.NewTxStore()
	txSource.AddTx(txs.buyerWarning)

	depositOp, depositOut, err := stagedtx.DepositOutput(
		txs.depositTx, stagedtx.KeysForTrade(tr),
	)
	require.NoError(t, err)
	warningOp, warningOut, err := stagedtx.WarningOutput(txs.buyerWarning)
	require.NoError(t, err)

	depositSpend := make(chan *chainntnfs.SpendDetail, 1)
	warningSpend := make(chan *chainntnfs.SpendDetail, 1)

	notifier := &chainntnfs.MockChainNotifier{}
	notifier.On(
		"RegisterSpendNtfn", depositOp, depositOut.PkScript, uint32(0),
	).Return(&chainntnfs.SpendEvent{
		Spend:  depositSpend,
		Cancel: func() {},
	}, nil).Once()
	notifier.On(
		"RegisterSpendNtfn", warningOp, warningOut.PkScript,
		uint32(812),
	).Return(&chainntnfs.SpendEvent{
		Spend:  warningSpend,
		Cancel: func() {},
	}, nil).Once()

	executor := dispatch.New()
	require.NoError(t, executor.Start())
	t.Cleanup(func() {
		require.NoError(t, executor.Stop())
	})

	watcher := NewStagedTxWatcher(WatcherConfig{
		Notifier:  notifier,
		Executor:  executor,
		TxSource:  txSource,
		HintCache: hintCache,
	})
	require.NoError(t, watcher.Start())
	t.Cleanup(func() {
		require.NoError(t, watcher.Stop())
	})

	require.NoError(t, executor.ExecuteSync(func() {
		require.NoError(t, watcher.Watch(tr))
	}))

	txHash := txs.buyerWarning.TxHash()
	depositSpend <- &chainntnfs.SpendDetail{
		SpentOutPoint:  depositOp,
		SpenderTxHash:  &txHash,
		SpendingHeight: 812,
		Depth:          1,
	}

	require.Eventually(t, func() bool {
		var state trade.DisputeState
		_ = executor.ExecuteSync(func() {
			state = tr.DisputeState
		})

		return state == trade.WarningSent
	}, waitTimeout, waitTick)

	// The second stage is armed by the same handler that applied the
	// transition.
	notifier.AssertExpectations(t)

	hint, err := hintCache.QuerySpendHint(tr.ID, *warningOp)
	require.NoError(t, err)
	require.EqualValues(t, 812, hint)
}
