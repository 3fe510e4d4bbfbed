package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's counters. A nil *Metrics is valid and records
// nothing, so wiring stays optional in tests and one-off tools.
type Metrics struct {
	syncRows         *prometheus.CounterVec
	dispatches       *prometheus.CounterVec
	reminderOutcomes *prometheus.CounterVec
	flowEvents       *prometheus.CounterVec
}

// New registers the counters with reg. Pass prometheus.DefaultRegisterer in
// binaries; tests use prometheus.NewRegistry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		syncRows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_rows_total",
			Help: "Legacy change rows observed per mapped lifecycle state.",
		}, []string{"state"}),
		dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_dispatches_total",
			Help: "Notification dispatch attempts per kind and ack class.",
		}, []string{"kind", "result"}),
		reminderOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reminder_outcomes_total",
			Help: "Reminder worker invocation outcomes.",
		}, []string{"outcome"}),
		flowEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flow_events_total",
			Help: "Inbound conversational-flow events per type.",
		}, []string{"event"}),
	}
}

func (m *Metrics) SyncRowObserved(state string) {
	if m == nil {
		return
	}
	m.syncRows.WithLabelValues(state).Inc()
}

func (m *Metrics) DispatchObserved(kind string, ack int) {
	if m == nil {
		return
	}
	result := "delivered"
	if ack < 0 {
		result = "failed"
	}
	m.dispatches.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ReminderOutcome(outcome string) {
	if m == nil {
		return
	}
	m.reminderOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) FlowEvent(event string) {
	if m == nil {
		return
	}
	m.flowEvents.WithLabelValues(event).Inc()
}
