package contractcourt

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/p2ptrade/escrowd/chainntnfs"
	"github.com/p2ptrade/escrowd/input"
	"github.com/p2ptrade/escrowd/logutil"
	"github.com/p2ptrade/escrowd/stagedtx"
	"github.com/p2ptrade/escrowd/trade"
	"github.com/p2ptrade/escrowd/wallet"
)

var (
	// ErrWatcherShuttingDown is returned when a trade is handed to a
	// stopped watcher.
	ErrWatcherShuttingDown = errors.New("staged tx watcher shutting down")

	// ErrMissingWarningBytes is returned when a trade is re-armed in the
	// second stage but the warning transaction that spent the deposit is
	// not known.
	ErrMissingWarningBytes = errors.New("warning tx that spent the " +
		"deposit is unknown")
)

// watchStage is the escalation stage a trade is watched at.
type watchStage uint8

const (
	// stageDeposit watches the deposit output for a warning transaction.
	stageDeposit watchStage = iota + 1

	// stageWarning watches the escrow output of the warning transaction
	// for a claim or a redirect transaction.
	stageWarning
)

// String returns a human readable stage.
func (s watchStage) String() string {
	switch s {
	case stageDeposit:
		return "deposit"
	case stageWarning:
		return "warning"
	default:
		return fmt.Sprintf("unknown<%d>", uint8(s))
	}
}

// Executor runs closures on the single logical thread all trade state is
// mutated from.
type Executor interface {
	// Execute queues f for execution.
	Execute(f func()) error
}

// WatcherConfig holds the collaborators of the StagedTxWatcher.
type WatcherConfig struct {
	// Notifier delivers spends of the watched outputs.
	Notifier chainntnfs.ChainNotifier

	// Executor runs the spend handlers on the trade thread.
	Executor Executor

	// TxSource resolves spending transactions when a spend detail does
	// not carry the full transaction.
	TxSource wallet.TxSource

	// HintCache, if set, remembers the earliest height a watched output
	// could be spent at, so a restarted watcher does not rescan.
	HintCache chainntnfs.SpendHintCache

	// Persist requests the trade to be written.
	Persist func(*trade.Trade) error

	// OnTransition, if set, is called after every dispute state
	// transition. monitoring.Metrics.ObserveTransition fits here.
	OnTransition func(t *trade.Trade, from, to trade.DisputeState)
}

// watchedTrade is the live subscription of one trade.
type watchedTrade struct {
	trade *trade.Trade
	stage watchStage

	// outPoint is the output the live subscription watches.
	outPoint wire.OutPoint

	// gen identifies the live subscription. Spends delivered for an older
	// generation are stale.
	gen uint64

	event *chainntnfs.SpendEvent
}

// StagedTxWatcher reconciles spends of a trade's deposit and warning outputs
// into the trade's dispute state. Each trade has at most one live
// subscription. It is cancelled as soon as it fired and before a
// replacement is armed.
type StagedTxWatcher struct {
	started sync.Once
	stopped sync.Once

	cfg WatcherConfig

	mu      sync.Mutex
	trades  map[string]*watchedTrade
	nextGen uint64

	wg   sync.WaitGroup
	quit chan struct{}
}

// NewStagedTxWatcher creates a watcher.
func NewStagedTxWatcher(cfg WatcherConfig) *StagedTxWatcher {
	return &StagedTxWatcher{
		cfg:    cfg,
		trades: make(map[string]*watchedTrade),
		quit:   make(chan struct{}),
	}
}

// Start starts the watcher.
func (w *StagedTxWatcher) Start() error {
	w.started.Do(func() {
		log.Debugf("Staged tx watcher starting")
	})

	return nil
}

// Stop cancels all subscriptions and waits for the spend goroutines to exit.
func (w *StagedTxWatcher) Stop() error {
	w.stopped.Do(func() {
		log.Debugf("Staged tx watcher shutting down")

		close(w.quit)

		w.mu.Lock()
		for id, wt := range w.trades {
			w.cancelLocked(wt)
			delete(w.trades, id)
		}
		w.mu.Unlock()

		w.wg.Wait()
	})

	return nil
}

// Watch arms the watcher for the trade. A trade that already reached
// WARNING_SENT or WARNING_SENT_BY_PEER is armed directly on its warning
// output. Nothing is armed while the deposit is unknown or the funds are
// released.
//
// NOTE: Must be called from the trade thread.
func (w *StagedTxWatcher) Watch(t *trade.Trade) error {
	select {
	case <-w.quit:
		return ErrWatcherShuttingDown
	default:
	}

	if t.DepositTx == nil {
		log.Debugf("Trade %v has no deposit tx yet, not watching",
			t.ID)
		return nil
	}
	if !t.IsFundsUnreleased() {
		log.Debugf("Funds of trade %v are released, not watching",
			t.ID)
		w.Unwatch(t.ID)
		w.purgeSpendHints(t.ID)

		return nil
	}

	if t.DisputeState.IsWarningSent() {
		warningTx, err := spentWarningTx(t)
		if err != nil {
			return err
		}

		return w.armWarningStage(t, warningTx)
	}

	if t.DisputeState.IsEscrowClaimed() {
		return nil
	}

	outPoint, txOut, err := stagedtx.DepositOutput(
		t.DepositTx, stagedtx.KeysForTrade(t),
	)
	if err != nil {
		return fmt.Errorf("unable to locate deposit output of trade "+
			"%v: %w", t.ID, err)
	}

	return w.arm(t, stageDeposit, *outPoint, txOut.PkScript)
}

// Unwatch cancels the trade's subscription, if any.
func (w *StagedTxWatcher) Unwatch(tradeID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	wt, ok := w.trades[tradeID]
	if !ok {
		return
	}

	w.cancelLocked(wt)
	delete(w.trades, tradeID)
}

// IsWatching returns true if the trade has a live subscription.
func (w *StagedTxWatcher) IsWatching(tradeID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, ok := w.trades[tradeID]

	return ok
}

// spentWarningTx returns the warning transaction that spent the deposit of
// a trade in one of the warning sent states.
func spentWarningTx(t *trade.Trade) (*wire.MsgTx, error) {
	party := t.Local
	if t.DisputeState == trade.WarningSentByPeer {
		party = t.Remote
	}

	raw, err := party.FinalizedWarningTx.UnwrapOrErr(
		fmt.Errorf("%w: trade %v", ErrMissingWarningBytes, t.ID),
	)
	if err != nil {
		return nil, err
	}

	return stagedtx.DeserializeTx(raw)
}

// armWarningStage arms the second stage on warningTx's escrow output.
func (w *StagedTxWatcher) armWarningStage(t *trade.Trade,
	warningTx *wire.MsgTx) error {

	outPoint, txOut, err := stagedtx.WarningOutput(warningTx)
	if err != nil {
		return err
	}

	return w.arm(t, stageWarning, *outPoint, txOut.PkScript)
}

// arm replaces the trade's subscription with one for outPoint. The previous
// subscription is cancelled before the new one is registered.
func (w *StagedTxWatcher) arm(t *trade.Trade, stage watchStage,
	outPoint wire.OutPoint, pkScript []byte) error {

	w.mu.Lock()
	defer w.mu.Unlock()

	if wt, ok := w.trades[t.ID]; ok {
		if wt.event != nil && wt.stage == stage &&
			wt.outPoint == outPoint {

			log.Tracef("Trade %v already watched at %v stage", t.ID,
				stage)
			wt.trade = t

			return nil
		}

		w.cancelLocked(wt)
		delete(w.trades, t.ID)
	}

	heightHint := w.spendHint(t.ID, outPoint)
	event, err := w.cfg.Notifier.RegisterSpendNtfn(
		&outPoint, pkScript, heightHint,
	)
	if err != nil {
		return fmt.Errorf("unable to register spend of %v: %w",
			outPoint, err)
	}

	w.nextGen++
	wt := &watchedTrade{
		trade:    t,
		stage:    stage,
		outPoint: outPoint,
		gen:      w.nextGen,
		event:    event,
	}
	w.trades[t.ID] = wt

	log.InfoS(context.TODO(), "Watching staged tx output",
		"trade_id", t.ID, "stage", stage,
		logutil.LogOutPoint("outpoint", outPoint),
		"height_hint", heightHint)

	w.wg.Add(1)
	go w.waitForSpend(t.ID, wt.gen, event)

	return nil
}

// cancelLocked cancels the live subscription of wt.
//
// NOTE: The mutex must be held.
func (w *StagedTxWatcher) cancelLocked(wt *watchedTrade) {
	if wt.event == nil {
		return
	}

	wt.event.Cancel()
	wt.event = nil
}

// spendHint returns the cached spend hint of outPoint, or zero.
func (w *StagedTxWatcher) spendHint(tradeID string,
	outPoint wire.OutPoint) uint32 {

	if w.cfg.HintCache == nil {
		return 0
	}

	hint, err := w.cfg.HintCache.QuerySpendHint(tradeID, outPoint)
	switch {
	case errors.Is(err, chainntnfs.ErrSpendHintNotFound):
		return 0

	case err != nil:
		log.Warnf("Unable to query spend hint of %v: %v", outPoint, err)
		return 0
	}

	return hint
}

// waitForSpend forwards the first spend of a subscription to the trade
// thread.
func (w *StagedTxWatcher) waitForSpend(tradeID string, gen uint64,
	event *chainntnfs.SpendEvent) {

	defer w.wg.Done()

	select {
	case spend, ok := <-event.Spend:
		if !ok {
			return
		}

		err := w.cfg.Executor.Execute(func() {
			w.handleSpend(tradeID, gen, spend)
		})
		if err != nil {
			log.Debugf("Dropping spend %v of trade %v: %v", spend,
				tradeID, err)
		}

	case <-w.quit:
	}
}

// handleSpend applies a spend to the trade. It runs on the trade thread.
func (w *StagedTxWatcher) handleSpend(tradeID string, gen uint64,
	spend *chainntnfs.SpendDetail) {

	// Only the live generation may fire, and only once. The subscription
	// is removed before anything else happens.
	w.mu.Lock()
	wt, ok := w.trades[tradeID]
	if !ok || wt.gen != gen || wt.event == nil {
		w.mu.Unlock()

		log.Debugf("Ignoring stale spend %v of trade %v", spend,
			tradeID)
		return
	}
	w.cancelLocked(wt)
	delete(w.trades, tradeID)
	w.mu.Unlock()

	t := wt.trade
	if !t.IsFundsUnreleased() {
		log.Infof("Funds of trade %v released meanwhile, dropping "+
			"spend %v", t.ID, spend)
		return
	}

	spendingTx, err := w.spendingTx(spend)
	if err != nil {
		log.Errorf("Unable to resolve spend %v of trade %v: %v", spend,
			t.ID, err)
		return
	}

	switch wt.stage {
	case stageDeposit:
		w.handleDepositSpend(t, spendingTx, spend)

	case stageWarning:
		w.handleWarningSpend(t, spendingTx, spend)
	}
}

// spendingTx returns the spending transaction of a spend detail, resolving
// it through the TxSource if the notifier did not include it.
func (w *StagedTxWatcher) spendingTx(
	spend *chainntnfs.SpendDetail) (*wire.MsgTx, error) {

	if spend.SpendingTx != nil {
		return spend.SpendingTx, nil
	}

	if w.cfg.TxSource == nil || spend.SpenderTxHash == nil {
		return nil, wallet.ErrTxNotFound
	}

	return w.cfg.TxSource.FetchTx(*spend.SpenderTxHash)
}

// transition is a classified spend.
type transition struct {
	state trade.DisputeState

	// store, if set, records the spending transaction on the peer state.
	store func(raw []byte)
}

// classifyDepositSpend decides which warning transaction spent the
// deposit.
func classifyDepositSpend(t *trade.Trade,
	spendingTx *wire.MsgTx) fn.Result[transition] {

	// Every warning transaction carries the trade's absolute locktime.
	// A spend without one is the cooperative payout or something
	// foreign.
	if spendingTx.LockTime == 0 {
		return fn.Errf[transition]("deposit spent by %v without "+
			"locktime", spendingTx.TxHash())
	}

	if isTx(t.Local.FinalizedWarningTx, spendingTx) {
		return fn.Ok(transition{state: trade.WarningSent})
	}

	return fn.Ok(transition{
		state: trade.WarningSentByPeer,
		store: func(raw []byte) {
			if t.Remote.FinalizedWarningTx.IsNone() {
				t.Remote.FinalizedWarningTx = fn.Some(raw)
			}
		},
	})
}

// classifyWarningSpend decides whether a claim or a redirect transaction
// spent the warning output, and whose it is.
func classifyWarningSpend(t *trade.Trade,
	spendingTx *wire.MsgTx) fn.Result[transition] {

	if input.HasRelativeLockTime(spendingTx) {
		if isTx(t.Local.SignedClaimTx, spendingTx) {
			return fn.Ok(transition{state: trade.EscrowClaimed})
		}

		return fn.Ok(transition{
			state: trade.EscrowClaimedByPeer,
			store: func(raw []byte) {
				t.Remote.SignedClaimTx = fn.Some(raw)
			},
		})
	}

	if isTx(t.Local.FinalizedRedirectTx, spendingTx) {
		return fn.Ok(transition{state: trade.RefundRequested})
	}

	return fn.Ok(transition{
		state: trade.RefundRequestStartedByPeer,
		store: func(raw []byte) {
			if t.Remote.FinalizedRedirectTx.IsNone() {
				t.Remote.FinalizedRedirectTx = fn.Some(raw)
			}
		},
	})
}

// isTx returns true if raw holds exactly the serialization of tx.
func isTx(raw fn.Option[[]byte], tx *wire.MsgTx) bool {
	return fn.MapOptionZ(raw, func(b []byte) bool {
		return stagedtx.TxEqual(b, tx)
	})
}

// handleDepositSpend moves the trade into one of the warning sent states
// and arms the second stage on the warning output.
func (w *StagedTxWatcher) handleDepositSpend(t *trade.Trade,
	spendingTx *wire.MsgTx, spend *chainntnfs.SpendDetail) {

	if t.DisputeState.IsWarningSent() || t.DisputeState.IsEscrowClaimed() {
		log.Debugf("Trade %v already in %v, ignoring deposit spend",
			t.ID, t.DisputeState)
		return
	}

	next, err := classifyDepositSpend(t, spendingTx).Unpack()
	if err != nil {
		log.Infof("Trade %v: %v, no longer watching", t.ID, err)
		return
	}

	if !w.apply(t, next, spendingTx, spend) {
		return
	}

	// The warning output cannot be spent before the warning confirmed.
	if spend.SpendingHeight > 0 && w.cfg.HintCache != nil {
		warningOutPoint := wire.OutPoint{
			Hash:  spendingTx.TxHash(),
			Index: 0,
		}
		err := w.cfg.HintCache.CommitSpendHint(
			t.ID, uint32(spend.SpendingHeight), warningOutPoint,
		)
		if err != nil {
			log.Warnf("Unable to commit spend hint of %v: %v",
				warningOutPoint, err)
		}
	}

	if err := w.armWarningStage(t, spendingTx); err != nil {
		log.Errorf("Unable to watch warning output of trade %v: %v",
			t.ID, err)
	}
}

// handleWarningSpend moves the trade into a claimed or a refund requested
// state. The trade is not watched any further.
func (w *StagedTxWatcher) handleWarningSpend(t *trade.Trade,
	spendingTx *wire.MsgTx, spend *chainntnfs.SpendDetail) {

	if t.DisputeState.IsEscrowClaimed() ||
		t.DisputeState.IsRefundRequested() {

		log.Debugf("Trade %v already in %v, ignoring warning spend",
			t.ID, t.DisputeState)
		return
	}

	next, err := classifyWarningSpend(t, spendingTx).Unpack()
	if err != nil {
		log.Errorf("Trade %v: %v", t.ID, err)
		return
	}

	if !w.apply(t, next, spendingTx, spend) {
		return
	}

	w.purgeSpendHints(t.ID)
}

// purgeSpendHints drops the cached spend hints of a trade that is no longer
// watched.
func (w *StagedTxWatcher) purgeSpendHints(tradeID string) {
	if w.cfg.HintCache == nil {
		return
	}

	if err := w.cfg.HintCache.PurgeSpendHints(tradeID); err != nil {
		log.Warnf("Unable to purge spend hints of trade %v: %v",
			tradeID, err)
	}
}

// apply performs a classified transition and requests persistence.
func (w *StagedTxWatcher) apply(t *trade.Trade, next transition,
	spendingTx *wire.MsgTx, spend *chainntnfs.SpendDetail) bool {

	if next.store != nil {
		raw, err := stagedtx.SerializeTx(spendingTx)
		if err != nil {
			log.Errorf("Unable to serialize spend %v of trade %v: %v",
				spend, t.ID, err)
			return false
		}
		next.store(raw)
	}

	prev := t.DisputeState
	t.DisputeState = next.state

	log.InfoS(context.TODO(), "Dispute state changed",
		"trade_id", t.ID, "from", prev, "to", next.state,
		logutil.LogTxHash("spender", spendingTx),
		"height", spend.SpendingHeight, "depth", spend.Depth)

	if w.cfg.Persist != nil {
		if err := w.cfg.Persist(t); err != nil {
			log.Errorf("Unable to persist trade %v: %v", t.ID, err)
		}
	}

	if w.cfg.OnTransition != nil {
		w.cfg.OnTransition(t, prev, next.state)
	}

	return true
}
