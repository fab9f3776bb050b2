package monitoring

import (
	"errors"

	"github.com/p2ptrade/escrowd/taskrunner"
	"github.com/p2ptrade/escrowd/trade"
	"github.com/p2ptrade/escrowd/wallet"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "escrowd"

// Pipeline results.
const (
	ResultCompleted = "completed"
	ResultFailed    = "failed"
	ResultPanicked  = "panicked"
)

// Metrics counts pipeline runs, dispute transitions and broadcasts. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	pipelineRuns       *prometheus.CounterVec
	disputeTransitions *prometheus.CounterVec
	broadcasts         *prometheus.CounterVec
}

// New creates the counters and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		pipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Count of protocol pipeline runs by pipeline and result.",
		}, []string{"pipeline", "result"}),
		disputeTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispute_transitions_total",
			Help:      "Count of dispute state transitions by resulting state.",
		}, []string{"state"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Count of staged transaction broadcasts by outcome.",
		}, []string{"outcome"}),
	}

	collectors := []prometheus.Collector{
		m.pipelineRuns, m.disputeTransitions, m.broadcasts,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// ObservePipeline counts a finished pipeline run.
func (m *Metrics) ObservePipeline(pipeline string, err error) {
	if m == nil {
		return
	}

	result := ResultCompleted
	var taskErr *taskrunner.TaskError
	switch {
	case errors.As(err, &taskErr) && taskErr.Panicked:
		result = ResultPanicked

	case err != nil:
		result = ResultFailed
	}

	m.pipelineRuns.WithLabelValues(pipeline, result).Inc()
}

// ObserveDisputeTransition counts a dispute state transition.
func (m *Metrics) ObserveDisputeTransition(state trade.DisputeState) {
	if m == nil {
		return
	}

	m.disputeTransitions.WithLabelValues(state.String()).Inc()
}

// ObserveBroadcast counts a broadcast outcome.
func (m *Metrics) ObserveBroadcast(outcome wallet.Outcome) {
	if m == nil {
		return
	}

	m.broadcasts.WithLabelValues(outcome.String()).Inc()
}

// ObserveTransition has the signature of the staged tx watcher's
// OnTransition hook and counts the state the trade moved to.
func (m *Metrics) ObserveTransition(_ *trade.Trade, _,
	to trade.DisputeState) {

	m.ObserveDisputeTransition(to)
}
