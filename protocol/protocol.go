package protocol

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/p2ptrade/escrowd/escrow"
	"github.com/p2ptrade/escrowd/input"
	"github.com/p2ptrade/escrowd/monitoring"
	"github.com/p2ptrade/escrowd/taskrunner"
	"github.com/p2ptrade/escrowd/trade"
)

// Pipeline names.
const (
	PipelinePrepare          = "prepare-staged-txs"
	PipelinePeerSignatures   = "peer-signatures"
	PipelineDepositConfirmed = "deposit-confirmed"
	PipelineRequestWarning   = "request-warning"
	PipelineRequestRedirect  = "request-redirect"
	PipelineRequestClaim     = "request-claim"
	PipelineTradeCompleted   = "trade-completed"
	PipelineRestore          = "restore"
)

// Executor runs closures on the trade thread and waits for them.
type Executor interface {
	ExecuteSync(f func()) error
}

// Config holds the collaborators of the Protocol.
type Config struct {
	// Params is the escrow policy in force.
	Params escrow.Params

	// NetParams is the network the trades run on.
	NetParams *chaincfg.Params

	// Signer signs with our multisig key.
	Signer input.Signer

	// Receivers selects the redirect receivers.
	Receivers ReceiverSelector

	// Broadcaster publishes staged transactions.
	Broadcaster Broadcaster

	// Watcher reconciles the chain into the dispute state.
	Watcher Watcher

	// Executor serializes all pipeline runs on the trade thread.
	Executor Executor

	// Persist requests the trade to be written. It is called after every
	// task.
	Persist func(*trade.Trade) error

	// Intercept, if set, runs before every task. See
	// taskrunner.Config.Intercept.
	Intercept func(task taskrunner.Task[*Model], m *Model) error

	// Metrics, if set, counts pipeline runs.
	Metrics *monitoring.Metrics
}

// Protocol drives the staged transaction lifecycle of trades. Every entry
// point runs a fresh pipeline on the trade thread. Entry points are driven
// by external events and may be called again after a failure, once the
// missing input arrived.
type Protocol struct {
	cfg Config
}

// New creates a Protocol.
func New(cfg Config) (*Protocol, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}

	switch {
	case cfg.NetParams == nil:
		return nil, errors.New("network params required")
	case cfg.Executor == nil:
		return nil, errors.New("executor required")
	}

	return &Protocol{cfg: cfg}, nil
}

// newModel creates the context of a single run.
func (p *Protocol) newModel(t *trade.Trade) *Model {
	return &Model{
		Trade:       t,
		Params:      p.cfg.Params,
		NetParams:   p.cfg.NetParams,
		Signer:      p.cfg.Signer,
		Receivers:   p.cfg.Receivers,
		Broadcaster: p.cfg.Broadcaster,
		Watcher:     p.cfg.Watcher,
	}
}

// run executes the tasks as a fresh pipeline on the trade thread.
func (p *Protocol) run(name string, m *Model,
	tasks ...taskrunner.Task[*Model]) error {

	runner := taskrunner.NewRunner(taskrunner.Config[*Model]{
		Name:      fmt.Sprintf("%s(%s)", name, m.Trade.ID),
		Intercept: p.cfg.Intercept,
		Persist: func(m *Model) {
			if p.cfg.Persist == nil {
				return
			}
			if err := p.cfg.Persist(m.Trade); err != nil {
				log.Errorf("Unable to persist trade %v: %v",
					m.Trade.ID, err)
			}
		},
	}, tasks...)

	var runErr error
	err := p.cfg.Executor.ExecuteSync(func() {
		runErr = runner.Run(m)
	})
	if err != nil {
		return err
	}

	p.cfg.Metrics.ObservePipeline(name, runErr)

	return runErr
}

// PrepareStagedTxs builds both parties' warning and redirect transactions,
// checks the warning amounts and signs everything with our key. The
// returned signatures are sent to the peer.
func (p *Protocol) PrepareStagedTxs(t *trade.Trade) (*SignatureSet, error) {
	m := p.newModel(t)
	err := p.run(
		PipelinePrepare, m,
		CreateWarningTxs(),
		CheckWarningTxAmounts(),
		CreateRedirectTxs(),
		SignStagedTxs(),
	)
	if err != nil {
		return nil, err
	}

	return m.OwnSigs, nil
}

// OnPeerSignatures applies the peer's signatures, finalizes all staged
// transactions and signs our claim transaction.
func (p *Protocol) OnPeerSignatures(t *trade.Trade, sigs *SignatureSet) error {
	m := p.newModel(t)
	m.PeerSigs = sigs

	return p.run(
		PipelinePeerSignatures, m,
		ApplyPeerSignatures(),
		FinalizeWarningTxs(),
		FinalizeRedirectTxs(),
		CreateSignedClaimTx(),
	)
}

// OnDepositConfirmed marks the deposit confirmed and arms the watcher.
func (p *Protocol) OnDepositConfirmed(t *trade.Trade) error {
	return p.run(
		PipelineDepositConfirmed, p.newModel(t),
		SetDepositConfirmed(),
		WatchStagedTxs(),
	)
}

// RequestWarning publishes our warning transaction.
func (p *Protocol) RequestWarning(t *trade.Trade) error {
	return p.run(
		PipelineRequestWarning, p.newModel(t),
		PublishWarningTx(),
		WatchStagedTxs(),
	)
}

// RequestRedirect publishes our redirect transaction, pre-empting the
// peer's claim.
func (p *Protocol) RequestRedirect(t *trade.Trade) error {
	return p.run(
		PipelineRequestRedirect, p.newModel(t),
		PublishRedirectTx(),
	)
}

// RequestClaim publishes our claim transaction.
func (p *Protocol) RequestClaim(t *trade.Trade) error {
	return p.run(
		PipelineRequestClaim, p.newModel(t),
		PublishClaimTx(),
	)
}

// OnTradeCompleted stops watching the trade and prunes the peer's data.
func (p *Protocol) OnTradeCompleted(t *trade.Trade) error {
	return p.run(
		PipelineTradeCompleted, p.newModel(t),
		UnwatchStagedTxs(),
		MaybeClearSensitiveData(),
	)
}

// RestoreTrades re-arms the watcher for every stored trade. A trade that
// fails to restore is logged and skipped.
func (p *Protocol) RestoreTrades(trades []*trade.Trade) int {
	var restored int
	for _, t := range trades {
		err := p.run(PipelineRestore, p.newModel(t), WatchStagedTxs())
		if err != nil {
			log.Errorf("Unable to restore trade %v: %v", t.ID, err)
			continue
		}
		restored++
	}

	log.Infof("Restored %d of %d trades", restored, len(trades))

	return restored
}
