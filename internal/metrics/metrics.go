// Package metrics implements raft.Metrics on top of
// github.com/prometheus/client_golang, dependency-injected with a
// caller-owned registry rather than the package-global default (spec §9:
// "No process-wide singletons in the core"). Grounded on
// other_examples/bf628b13_dreamsxin-wal__wal.go.go, whose WAL holds an
// injected prometheus.Registerer instead of relying on
// prometheus.DefaultRegisterer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jsxtech/neo4j-sub001/internal/raft"
)

// PrometheusMetrics implements raft.Metrics. Construct with New, which
// registers it against the caller's registry (the same registry the
// caller passes to adminapi.NewServer).
type PrometheusMetrics struct {
	electionsStarted prometheus.Counter
	electionsWon     prometheus.Counter
	termChanges      prometheus.Counter
	stepDowns        prometheus.Counter
	commitIndex      prometheus.Gauge
	appendsAccepted  prometheus.Counter
	appendsRejected  prometheus.Counter
	logPruned        prometheus.Counter
	messagesDropped  *prometheus.CounterVec
}

// New constructs and registers a PrometheusMetrics against reg. Callers
// typically construct one *prometheus.Registry per process and pass it
// to both this and the admin HTTP handler.
func New(reg *prometheus.Registry) *PrometheusMetrics {
	m := &PrometheusMetrics{
		electionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raft", Name: "elections_started_total", Help: "Elections this node has started.",
		}),
		electionsWon: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raft", Name: "elections_won_total", Help: "Elections this node has won.",
		}),
		termChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raft", Name: "term_changes_total", Help: "Observed term changes.",
		}),
		stepDowns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raft", Name: "step_downs_total", Help: "Times this node stepped down from Candidate/Leader.",
		}),
		commitIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "raft", Name: "commit_index", Help: "Current commitIndex.",
		}),
		appendsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raft", Name: "log_appends_accepted_total", Help: "Entries accepted into the local log.",
		}),
		appendsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raft", Name: "append_entries_rejected_total", Help: "AppendEntries requests this node rejected.",
		}),
		logPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raft", Name: "log_pruned_total", Help: "Prune operations performed.",
		}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raft", Name: "messages_dropped_total", Help: "Messages dropped, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		m.electionsStarted, m.electionsWon, m.termChanges, m.stepDowns,
		m.commitIndex, m.appendsAccepted, m.appendsRejected, m.logPruned, m.messagesDropped,
	)
	return m
}

func (m *PrometheusMetrics) ElectionStarted(raft.Term)    { m.electionsStarted.Inc() }
func (m *PrometheusMetrics) ElectionWon(raft.Term)        { m.electionsWon.Inc() }
func (m *PrometheusMetrics) TermChanged(raft.Term)        { m.termChanges.Inc() }
func (m *PrometheusMetrics) SteppedDown(raft.Term)        { m.stepDowns.Inc() }
func (m *PrometheusMetrics) CommitAdvanced(idx raft.LogIndex) {
	m.commitIndex.Set(float64(idx))
}
func (m *PrometheusMetrics) AppendAccepted(count int) { m.appendsAccepted.Add(float64(count)) }
func (m *PrometheusMetrics) AppendRejected()          { m.appendsRejected.Inc() }
func (m *PrometheusMetrics) LogPruned(raft.LogIndex)  { m.logPruned.Inc() }
func (m *PrometheusMetrics) MessageDropped(reason string) {
	m.messagesDropped.WithLabelValues(reason).Inc()
}

var _ raft.Metrics = (*PrometheusMetrics)(nil)
