package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConversationMetrics exposes counters/histograms for conversation state
// management.
type ConversationMetrics struct {
	contextsCreated *prometheus.CounterVec
	turnsAdded      *prometheus.CounterVec
	savesTotal      *prometheus.CounterVec
	loadsTotal      *prometheus.CounterVec
	saveLatency     prometheus.Histogram
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		contextsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retail",
			Subsystem: "conversation",
			Name:      "contexts_created_total",
			Help:      "Total conversation contexts created",
		}, []string{"device_type"}),
		turnsAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retail",
			Subsystem: "conversation",
			Name:      "turns_added_total",
			Help:      "Total conversation turns recorded",
		}, []string{"stage"}),
		savesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retail",
			Subsystem: "conversation",
			Name:      "state_saves_total",
			Help:      "Total conversation state save attempts",
		}, []string{"status"}),
		loadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retail",
			Subsystem: "conversation",
			Name:      "state_loads_total",
			Help:      "Total conversation state load attempts",
		}, []string{"result"}),
		saveLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "retail",
			Subsystem: "conversation",
			Name:      "state_save_latency_seconds",
			Help:      "Latency of conversation state persistence",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.contextsCreated, m.turnsAdded, m.savesTotal, m.loadsTotal, m.saveLatency)
	return m
}

func (m *ConversationMetrics) ObserveContextCreated(deviceType string) {
	if m == nil {
		return
	}
	m.contextsCreated.WithLabelValues(deviceType).Inc()
}

func (m *ConversationMetrics) ObserveTurnAdded(stage string) {
	if m == nil {
		return
	}
	m.turnsAdded.WithLabelValues(stage).Inc()
}

func (m *ConversationMetrics) ObserveSave(status string, seconds float64) {
	if m == nil {
		return
	}
	m.savesTotal.WithLabelValues(status).Inc()
	m.saveLatency.Observe(seconds)
}

func (m *ConversationMetrics) ObserveLoad(result string) {
	if m == nil {
		return
	}
	m.loadsTotal.WithLabelValues(result).Inc()
}
