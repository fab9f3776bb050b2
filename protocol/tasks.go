package protocol

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/p2ptrade/escrowd/burningman"
	"github.com/p2ptrade/escrowd/labels"
	"github.com/p2ptrade/escrowd/stagedtx"
	"github.com/p2ptrade/escrowd/taskrunner"
	"github.com/p2ptrade/escrowd/trade"
)

var (
	// ErrInvalidDisputeState is returned when a request does not fit the
	// trade's dispute state.
	ErrInvalidDisputeState = errors.New("invalid dispute state")

	// ErrFundsReleased is returned when escalation is requested for a
	// trade whose funds are no longer locked in the deposit.
	ErrFundsReleased = errors.New("trade funds already released")

	// ErrNotFinalized is returned when a staged transaction has to be
	// published before it was finalized.
	ErrNotFinalized = errors.New("staged tx not finalized")
)

// Task names.
const (
	taskCreateWarningTxs      = "CreateWarningTxs"
	taskCheckWarningTxAmounts = "CheckWarningTxAmounts"
	taskCreateRedirectTxs     = "CreateRedirectTxs"
	taskSignStagedTxs         = "SignStagedTxs"
	taskApplyPeerSignatures   = "ApplyPeerSignatures"
	taskFinalizeWarningTxs    = "FinalizeWarningTxs"
	taskFinalizeRedirectTxs   = "FinalizeRedirectTxs"
	taskCreateSignedClaimTx   = "CreateSignedClaimTx"
	taskSetDepositConfirmed   = "SetDepositConfirmed"
	taskWatchStagedTxs        = "WatchStagedTxs"
	taskPublishWarningTx      = "PublishWarningTx"
	taskPublishRedirectTx     = "PublishRedirectTx"
	taskPublishClaimTx        = "PublishClaimTx"
	taskUnwatchStagedTxs      = "UnwatchStagedTxs"
	taskClearSensitiveData    = "MaybeClearSensitiveData"
)

// CreateWarningTxs builds the unsigned warning transactions of both parties.
// A party's warning transaction is claimable by that party. Transactions
// that already exist, for example because the peer sent its own, are kept.
func CreateWarningTxs() taskrunner.Task[*Model] {
	return taskrunner.NewTask(taskCreateWarningTxs, func(m *Model) error {
		t := m.Trade
		if t.DepositTx == nil {
			return stagedtx.ErrMissingDepositTx
		}

		for _, party := range []*trade.PartyEscrowState{t.Local, t.Remote} {
			if party.WarningTx != nil {
				continue
			}

			tx, err := stagedtx.BuildWarningTx(stagedtx.WarningTxParams{
				DepositTx:      t.DepositTx,
				Keys:           m.keys(),
				Claimant:       party.MultiSigPubKey,
				FeeBumpAddress: party.WarningFeeBumpAddress,
				LockTime:       t.LockTime,
				DepositFeeRate: t.DepositTxFeeRate,
				Params:         m.Params,
				NetParams:      m.NetParams,
			})
			if err != nil {
				return fmt.Errorf("unable to build %v warning tx: %w",
					party.Role, err)
			}
			party.WarningTx = tx
		}

		return nil
	})
}

// CheckWarningTxAmounts asserts that both warning transactions spend the
// same deposit output and pay out the same amounts.
func CheckWarningTxAmounts() taskrunner.Task[*Model] {
	return taskrunner.NewTask(taskCheckWarningTxAmounts, func(m *Model) error {
		t := m.Trade
		if t.DepositTx == nil {
			return stagedtx.ErrMissingDepositTx
		}

		_, depositOut, err := stagedtx.DepositOutput(t.DepositTx, m.keys())
		if err != nil {
			return err
		}

		return stagedtx.CheckWarningAmounts(
			t.Local.WarningTx, t.Remote.WarningTx, depositOut,
			m.Params.WarningTxFee(t.DepositTxFeeRate),
		)
	})
}

// redirectReceivers computes the receivers of a redirect transaction
// spending peerWarningTx.
func (m *Model) redirectReceivers(
	peerWarningTx *wire.MsgTx) ([]burningman.Receiver, error) {

	_, warningOut, err := stagedtx.WarningOutput(peerWarningTx)
	if err != nil {
		return nil, err
	}

	return m.Receivers.GetReceivers(
		m.Trade.SelectionHeight, btcutil.Amount(warningOut.Value),
		m.Trade.DepositTxFeeRate, burningman.WithRedirect(),
		burningman.WithFeeBump(),
	)
}

// CreateRedirectTxs builds the unsigned redirect transactions of both
// parties. A party's redirect transaction spends the other party's warning
// output. A redirect transaction that already exists is verified against
// the recomputed receivers instead.
func CreateRedirectTxs() taskrunner.Task[*Model] {
	return taskrunner.NewTask(taskCreateRedirectTxs, func(m *Model) error {
		t := m.Trade
		for _, party := range []*trade.PartyEscrowState{t.Local, t.Remote} {
			peerWarningTx := m.other(party).WarningTx
			if peerWarningTx == nil {
				return stagedtx.ErrMissingWarningTx
			}

			receivers, err := m.redirectReceivers(peerWarningTx)
			if err != nil {
				return err
			}

			if party.RedirectTx != nil {
				err := stagedtx.VerifyRedirectReceivers(
					party.RedirectTx, receivers, m.NetParams,
				)
				if err != nil {
					return fmt.Errorf("%v redirect tx: %w",
						party.Role, err)
				}

				continue
			}

			tx, err := stagedtx.BuildRedirectTx(stagedtx.RedirectTxParams{
				PeerWarningTx:  peerWarningTx,
				Receivers:      receivers,
				FeeBumpAddress: party.RedirectFeeBumpAddress,
				Params:         m.Params,
				NetParams:      m.NetParams,
			})
			if err != nil {
				return fmt.Errorf("unable to build %v redirect tx: %w",
					party.Role, err)
			}
			party.RedirectTx = tx
		}

		return nil
	})
}

// SignStagedTxs signs the warning and redirect transactions of both parties
// with our multisig key and collects the signatures for the peer.
func SignStagedTxs() taskrunner.Task[*Model] {
	return taskrunner.NewTask(taskSignStagedTxs, func(m *Model) error {
		t := m.Trade
		if t.DepositTx == nil {
			return stagedtx.ErrMissingDepositTx
		}

		keys := m.keys()
		ourKey := t.Local.MultiSigPubKey
		sigs := &SignatureSet{}

		for _, party := range []*trade.PartyEscrowState{t.Local, t.Remote} {
			peerWarningTx := m.other(party).WarningTx
			if party.WarningTx == nil || party.RedirectTx == nil ||
				peerWarningTx == nil {

				return stagedtx.ErrMissingWarningTx
			}

			warningSig, err := stagedtx.SignWarningInput(
				m.Signer, party.WarningTx, t.DepositTx, keys,
				ourKey,
			)
			if err != nil {
				return err
			}

			// The redirect spends the other party's warning
			// output, so it is signed against that script.
			script, err := m.warningScript(m.other(party))
			if err != nil {
				return err
			}
			redirectSig, err := stagedtx.SignRedirectInput(
				m.Signer, party.RedirectTx, peerWarningTx, script,
				ourKey,
			)
			if err != nil {
				return err
			}

			party.SetWarningSig(t.IsBuyer, warningSig)
			party.SetRedirectSig(t.IsBuyer, redirectSig)

			if party.Role == trade.Local {
				sigs.OwnWarningSig = warningSig
				sigs.OwnRedirectSig = redirectSig
			} else {
				sigs.PeerWarningSig = warningSig
				sigs.PeerRedirectSig = redirectSig
			}
		}

		m.OwnSigs = sigs

		return nil
	})
}

// ApplyPeerSignatures stores the signatures received from the peer.
func ApplyPeerSignatures() taskrunner.Task[*Model] {
	return taskrunner.NewTask(taskApplyPeerSignatures, func(m *Model) error {
		sigs := m.PeerSigs
		if sigs == nil {
			return stagedtx.ErrMissingPeerSignature
		}

		t := m.Trade
		peerIsBuyer := m.peerIsBuyer()

		// The peer's own transactions are our Remote ones.
		if len(sigs.OwnWarningSig) > 0 {
			t.Remote.SetWarningSig(peerIsBuyer, sigs.OwnWarningSig)
		}
		if len(sigs.OwnRedirectSig) > 0 {
			t.Remote.SetRedirectSig(peerIsBuyer, sigs.OwnRedirectSig)
		}
		if len(sigs.PeerWarningSig) > 0 {
			t.Local.SetWarningSig(peerIsBuyer, sigs.PeerWarningSig)
		}
		if len(sigs.PeerRedirectSig) > 0 {
			t.Local.SetRedirectSig(peerIsBuyer, sigs.PeerRedirectSig)
		}

		return nil
	})
}

// FinalizeWarningTxs combines the signatures of both warning transactions.
func FinalizeWarningTxs() taskrunner.Task[*Model] {
	return taskrunner.NewTask(taskFinalizeWarningTxs, func(m *Model) error {
		t := m.Trade
		if t.DepositTx == nil {
			return stagedtx.ErrMissingDepositTx
		}

		for _, party := range []*trade.PartyEscrowState{t.Local, t.Remote} {
			if party.FinalizedWarningTx.IsSome() {
				continue
			}
			if party.WarningTx == nil {
				return stagedtx.ErrMissingWarningTx
			}

			buyerSig, sellerSig := party.WarningSigs()
			finalized, err := stagedtx.FinalizeWarningTx(
				party.WarningTx, t.DepositTx, m.keys(), buyerSig,
				sellerSig,
			)
			if err != nil {
				return fmt.Errorf("unable to finalize %v warning "+
					"tx: %w", party.Role, err)
			}

			raw, err := stagedtx.SerializeTx(finalized)
			if err != nil {
				return err
			}
			party.FinalizedWarningTx = fn.Some(raw)
		}

		return nil
	})
}

// FinalizeRedirectTxs combines the signatures of both redirect
// transactions.
func FinalizeRedirectTxs() taskrunner.Task[*Model] {
	return taskrunner.NewTask(taskFinalizeRedirectTxs, func(m *Model) error {
		t := m.Trade
		for _, party := range []*trade.PartyEscrowState{t.Local, t.Remote} {
			if party.FinalizedRedirectTx.IsSome() {
				continue
			}

			peer := m.other(party)
			if party.RedirectTx == nil || peer.WarningTx == nil {
				return stagedtx.ErrMissingWarningTx
			}

			script, err := m.warningScript(peer)
			if err != nil {
				return err
			}

			buyerSig, sellerSig := party.RedirectSigs()
			finalized, err := stagedtx.FinalizeRedirectTx(
				party.RedirectTx, peer.WarningTx, script, m.keys(),
				buyerSig, sellerSig,
			)
			if err != nil {
				return fmt.Errorf("unable to finalize %v redirect "+
					"tx: %w", party.Role, err)
			}

			raw, err := stagedtx.SerializeTx(finalized)
			if err != nil {
				return err
			}
			party.FinalizedRedirectTx = fn.Some(raw)
		}

		return nil
	})
}

// CreateSignedClaimTx builds and signs our claim transaction, spending our
// warning output after the claim delay.
func CreateSignedClaimTx() taskrunner.Task[*Model] {
	return taskrunner.NewTask(taskCreateSignedClaimTx, func(m *Model) error {
		local := m.Trade.Local
		if local.SignedClaimTx.IsSome() {
			return nil
		}

		warningTx, err := finalizedTx(local.FinalizedWarningTx)
		if err != nil {
			return fmt.Errorf("warning tx: %w", err)
		}

		claimTx, err := stagedtx.BuildClaimTx(stagedtx.ClaimTxParams{
			WarningTx:      warningTx,
			ClaimAddress:   local.ClaimAddress,
			DepositFeeRate: m.Trade.DepositTxFeeRate,
			Params:         m.Params,
			NetParams:      m.NetParams,
		})
		if err != nil {
			return err
		}

		script, err := m.warningScript(local)
		if err != nil {
			return err
		}

		signed, err := stagedtx.SignClaimTx(
			m.Signer, claimTx, warningTx, script,
			local.MultiSigPubKey,
		)
		if err != nil {
			return err
		}

		raw, err := stagedtx.SerializeTx(signed)
		if err != nil {
			return err
		}
		local.SignedClaimTx = fn.Some(raw)

		return nil
	})
}

// SetDepositConfirmed moves the trade into the deposit confirmed phase.
func SetDepositConfirmed() taskrunner.Task[*Model] {
	return taskrunner.NewTask(taskSetDepositConfirmed, func(m *Model) error {
		if !m.Trade.DepositConfirmed() {
			m.Trade.SetPhase(trade.PhaseDepositConfirmed)
		}

		return nil
	})
}

// WatchStagedTxs arms the watcher for the trade.
func WatchStagedTxs() taskrunner.Task[*Model] {
	return taskrunner.NewTask(taskWatchStagedTxs, func(m *Model) error {
		return m.Watcher.Watch(m.Trade)
	})
}

// UnwatchStagedTxs drops the watcher's subscription for the trade.
func UnwatchStagedTxs() taskrunner.Task[*Model] {
	return taskrunner.NewTask(taskUnwatchStagedTxs, func(m *Model) error {
		m.Watcher.Unwatch(m.Trade.ID)
		return nil
	})
}

// finalizedTx decodes a finalized staged transaction.
func finalizedTx(raw fn.Option[[]byte]) (*wire.MsgTx, error) {
	b, err := raw.UnwrapOrErr(ErrNotFinalized)
	if err != nil {
		return nil, err
	}

	return stagedtx.DeserializeTx(b)
}

// checkEscalation returns ErrFundsReleased if the trade's funds can no
// longer move through the staged transactions.
func checkEscalation(t *trade.Trade) error {
	if t.DepositTx == nil {
		return stagedtx.ErrMissingDepositTx
	}
	if !t.IsFundsUnreleased() {
		return fmt.Errorf("%w: trade %v in phase %v, dispute state %v",
			ErrFundsReleased, t.ID, t.Phase, t.DisputeState)
	}

	return nil
}

// PublishWarningTx broadcasts our finalized warning transaction. The
// dispute state only changes once the watcher sees it on chain.
func PublishWarningTx() taskrunner.Task[*Model] {
	return taskrunner.NewTask(taskPublishWarningTx, func(m *Model) error {
		t := m.Trade
		if err := checkEscalation(t); err != nil {
			return err
		}

		switch {
		case t.DisputeState.IsWarningSent(),
			t.DisputeState.IsEscrowClaimed(),
			t.DisputeState.IsRefundRequested():

			return fmt.Errorf("%w: warning tx cannot be published "+
				"in %v", ErrInvalidDisputeState, t.DisputeState)
		}

		tx, err := finalizedTx(t.Local.FinalizedWarningTx)
		if err != nil {
			return fmt.Errorf("warning tx: %w", err)
		}

		return m.Broadcaster.Broadcast(
			tx, labels.MakeLabel(labels.LabelTypeWarningTx, m.Trade.ID),
		)
	})
}

// PublishRedirectTx broadcasts our finalized redirect transaction. It is
// only valid once the peer's warning transaction spent the deposit.
func PublishRedirectTx() taskrunner.Task[*Model] {
	return taskrunner.NewTask(taskPublishRedirectTx, func(m *Model) error {
		t := m.Trade
		if err := checkEscalation(t); err != nil {
			return err
		}

		if t.DisputeState != trade.WarningSentByPeer {
			return fmt.Errorf("%w: redirect tx requires %v, trade is "+
				"in %v", ErrInvalidDisputeState,
				trade.WarningSentByPeer, t.DisputeState)
		}

		tx, err := finalizedTx(t.Local.FinalizedRedirectTx)
		if err != nil {
			return fmt.Errorf("redirect tx: %w", err)
		}

		return m.Broadcaster.Broadcast(
			tx, labels.MakeLabel(labels.LabelTypeRedirectTx, m.Trade.ID),
		)
	})
}

// PublishClaimTx broadcasts our signed claim transaction. It is only valid
// once our own warning transaction spent the deposit. The relative
// locktime keeps it out of blocks until the claim delay expired.
func PublishClaimTx() taskrunner.Task[*Model] {
	return taskrunner.NewTask(taskPublishClaimTx, func(m *Model) error {
		t := m.Trade
		if err := checkEscalation(t); err != nil {
			return err
		}

		if t.DisputeState != trade.WarningSent {
			return fmt.Errorf("%w: claim tx requires %v, trade is in "+
				"%v", ErrInvalidDisputeState, trade.WarningSent,
				t.DisputeState)
		}

		tx, err := finalizedTx(t.Local.SignedClaimTx)
		if err != nil {
			return fmt.Errorf("claim tx: %w", err)
		}

		return m.Broadcaster.Broadcast(
			tx, labels.MakeLabel(labels.LabelTypeClaimTx, m.Trade.ID),
		)
	})
}

// MaybeClearSensitiveData prunes the peer's data. Finalized staged
// transactions survive as long as the trade escalated or its funds are
// still locked, so they can be recognized on chain.
func MaybeClearSensitiveData() taskrunner.Task[*Model] {
	return taskrunner.NewTask(taskClearSensitiveData, func(m *Model) error {
		t := m.Trade
		keepStagedTxs := t.IsFundsUnreleased() ||
			!t.DisputeState.IsNotDisputed()

		t.MaybeClearSensitiveData(keepStagedTxs)

		return nil
	})
}
