package raft

// Metrics is the dependency-injected observability collaborator (spec §9:
// "expose a Metrics trait with dependency-injected implementation; the
// core emits counter/event increments through this interface. No
// process-wide singletons in the core."). internal/metrics provides a
// github.com/prometheus/client_golang-backed implementation; tests use
// NopMetrics.
type Metrics interface {
	ElectionStarted(term Term)
	ElectionWon(term Term)
	TermChanged(term Term)
	SteppedDown(fromTerm Term)
	CommitAdvanced(index LogIndex)
	AppendAccepted(count int)
	AppendRejected()
	LogPruned(upTo LogIndex)
	MessageDropped(reason string)
}

// NopMetrics discards every observation; the zero value is ready to use.
type NopMetrics struct{}

func (NopMetrics) ElectionStarted(Term)      {}
func (NopMetrics) ElectionWon(Term)          {}
func (NopMetrics) TermChanged(Term)          {}
func (NopMetrics) SteppedDown(Term)          {}
func (NopMetrics) CommitAdvanced(LogIndex)   {}
func (NopMetrics) AppendAccepted(int)        {}
func (NopMetrics) AppendRejected()           {}
func (NopMetrics) LogPruned(LogIndex)        {}
func (NopMetrics) MessageDropped(string)     {}

var _ Metrics = NopMetrics{}
