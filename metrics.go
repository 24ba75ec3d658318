package chatsync

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what the engine does. A nil *Metrics records nothing.
type Metrics struct {
	eventsApplied *prometheus.CounterVec
	operations    *prometheus.CounterVec
	loadsRejected *prometheus.CounterVec
	pendingSync   prometheus.Gauge
	syncRuns      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "events_applied_total",
			Help:      "Events applied to channel state, by event type.",
		}, []string{"type"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "operations_total",
			Help:      "Outgoing operations, by operation and outcome.",
		}, []string{"op", "outcome"}),
		loadsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "loads_rejected_total",
			Help:      "Paginated loads rejected because one was already in flight.",
		}, []string{"direction"}),
		pendingSync: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatsync",
			Name:      "pending_sync",
			Help:      "Messages and reactions waiting to be resubmitted.",
		}),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "sync_runs_total",
			Help:      "Resubmission passes, by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.eventsApplied, m.operations, m.loadsRejected, m.pendingSync, m.syncRuns)
	}
	return m
}

func (m *Metrics) eventApplied(t EventType) {
	if m == nil {
		return
	}
	m.eventsApplied.WithLabelValues(string(t)).Inc()
}

// Outcomes recorded for operations.
const (
	outcomeSuccess   = "success"
	outcomeQueued    = "queued"
	outcomeTransient = "transient"
	outcomePermanent = "permanent"
	outcomeRejected  = "rejected"
)

func (m *Metrics) operation(op, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) loadRejected(dir Direction) {
	if m == nil {
		return
	}
	m.loadsRejected.WithLabelValues(dir.String()).Inc()
}

func (m *Metrics) setPendingSync(n int) {
	if m == nil {
		return
	}
	m.pendingSync.Set(float64(n))
}

func (m *Metrics) syncRun(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.syncRuns.WithLabelValues(result).Inc()
}
