package monitoring

import (
	"errors"
	"testing"

	"github.com/p2ptrade/escrowd/taskrunner"
	"github.com/p2ptrade/escrowd/trade"
	"github.com/p2ptrade/escrowd/wallet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// TestMetrics asserts every observation lands on its labeled counter.
func TestMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.ObservePipeline("publish-warning", nil)
	m.ObservePipeline("publish-warning", errors.New("no deposit"))
	m.ObservePipeline("publish-warning", &taskrunner.TaskError{
		Pipeline: "publish-warning",
		Task:     "publish",
		Panicked: true,
		Err:      errors.New("boom"),
	})
	m.ObserveDisputeTransition(trade.WarningSentByPeer)
	m.ObserveTransition(nil, trade.WarningSent, trade.EscrowClaimed)
	m.ObserveBroadcast(wallet.OutcomeTimeout)
	m.ObserveBroadcast(wallet.OutcomeTimeout)

	for _, result := range []string{
		ResultCompleted, ResultFailed, ResultPanicked,
	} {
		require.EqualValues(t, 1, testutil.ToFloat64(
			m.pipelineRuns.WithLabelValues("publish-warning", result),
		))
	}
	require.EqualValues(t, 1, testutil.ToFloat64(
		m.disputeTransitions.WithLabelValues(
			trade.WarningSentByPeer.String(),
		),
	))
	require.EqualValues(t, 2, testutil.ToFloat64(
		m.broadcasts.WithLabelValues("timeout"),
	))
	require.EqualValues(t, 1, testutil.ToFloat64(
		m.disputeTransitions.WithLabelValues(
			trade.EscrowClaimed.String(),
		),
	))

	// The hooks plug into the watcher and broadcaster configs.
	var (
		_ func(*trade.Trade, trade.DisputeState,
			trade.DisputeState) = m.ObserveTransition
		_ func(wallet.Outcome) = m.ObserveBroadcast
	)

	// Registering twice on the same registry fails.
	_, err = New(reg)
	require.Error(t, err)

	// A nil Metrics records nothing and does not panic.
	var nilMetrics *Metrics
	nilMetrics.ObservePipeline("x", nil)
	nilMetrics.ObserveDisputeTransition(trade.EscrowClaimed)
	nilMetrics.ObserveBroadcast(wallet.OutcomeAccepted)
	nilMetrics.ObserveTransition(nil, trade.NoDispute, trade.WarningSent)
}
