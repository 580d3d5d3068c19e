package metrics

import "github.com/prometheus/client_golang/prometheus"

// InterpretationMetrics counts classifier and extractor outcomes. It
// satisfies consultation.Observer.
type InterpretationMetrics struct {
	messagesTotal      *prometheus.CounterVec
	extractionsTotal   *prometheus.CounterVec
	parseFailuresTotal *prometheus.CounterVec
}

func NewInterpretationMetrics(reg prometheus.Registerer) *InterpretationMetrics {
	m := &InterpretationMetrics{
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "physio",
			Subsystem: "interpretation",
			Name:      "messages_total",
			Help:      "Debug messages by classified kind and tool",
		}, []string{"kind", "tool"}),
		extractionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "physio",
			Subsystem: "interpretation",
			Name:      "extractions_total",
			Help:      "Extractor runs by outcome",
		}, []string{"extractor", "outcome"}),
		parseFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "physio",
			Subsystem: "interpretation",
			Name:      "parse_failures_total",
			Help:      "Tool payloads an extractor could not read",
		}, []string{"extractor"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.messagesTotal, m.extractionsTotal, m.parseFailuresTotal)
	return m
}

func (m *InterpretationMetrics) ObserveClassified(kind, tool string) {
	if m == nil {
		return
	}
	if tool == "" {
		tool = "none"
	}
	m.messagesTotal.WithLabelValues(kind, tool).Inc()
}

func (m *InterpretationMetrics) ObserveExtraction(extractor string, ok bool) {
	if m == nil {
		return
	}
	outcome := "extracted"
	if !ok {
		outcome = "failed"
		m.parseFailuresTotal.WithLabelValues(extractor).Inc()
	}
	m.extractionsTotal.WithLabelValues(extractor, outcome).Inc()
}

// SessionMetrics covers call lifecycle, selections, refreshes and the event
// bus.
type SessionMetrics struct {
	callsTotal        *prometheus.CounterVec
	selectionsTotal   *prometheus.CounterVec
	transitionsTotal  *prometheus.CounterVec
	refreshTotal      *prometheus.CounterVec
	staleTotal        *prometheus.CounterVec
	busDroppedTotal   *prometheus.CounterVec
	processingLatency *prometheus.HistogramVec
}

func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	m := &SessionMetrics{
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "physio",
			Subsystem: "session",
			Name:      "calls_total",
			Help:      "Call lifecycle events",
		}, []string{"event"}),
		selectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "physio",
			Subsystem: "session",
			Name:      "selections_total",
			Help:      "Popup selections by kind and outcome",
		}, []string{"kind", "outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "physio",
			Subsystem: "session",
			Name:      "flow_transitions_total",
			Help:      "Booking flow transitions by target state and trigger",
		}, []string{"to", "trigger"}),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "physio",
			Subsystem: "session",
			Name:      "upcoming_refresh_total",
			Help:      "Upcoming-appointment fetches by source and outcome",
		}, []string{"source", "outcome"}),
		staleTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "physio",
			Subsystem: "session",
			Name:      "stale_results_total",
			Help:      "Async results dropped because a new call started",
		}, []string{"source"}),
		busDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "physio",
			Subsystem: "session",
			Name:      "bus_dropped_total",
			Help:      "Events dropped for slow bus subscribers",
		}, []string{"subscriber"}),
		processingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "physio",
			Subsystem: "session",
			Name:      "processing_seconds",
			Help:      "Time to apply one inbound session event",
			Buckets:   prometheus.DefBuckets,
		}, []string{"input"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.callsTotal, m.selectionsTotal, m.transitionsTotal, m.refreshTotal,
		m.staleTotal, m.busDroppedTotal, m.processingLatency)
	return m
}

func (m *SessionMetrics) ObserveCall(event string) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(event).Inc()
}

func (m *SessionMetrics) ObserveSelection(kind string, ok bool) {
	if m == nil {
		return
	}
	outcome := "accepted"
	if !ok {
		outcome = "rejected"
	}
	m.selectionsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *SessionMetrics) ObserveTransition(to, trigger string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(to, trigger).Inc()
}

func (m *SessionMetrics) ObserveRefresh(source string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.refreshTotal.WithLabelValues(source, outcome).Inc()
}

func (m *SessionMetrics) ObserveStale(source string) {
	if m == nil {
		return
	}
	m.staleTotal.WithLabelValues(source).Inc()
}

func (m *SessionMetrics) ObserveBusDrop(subscriber string) {
	if m == nil {
		return
	}
	m.busDroppedTotal.WithLabelValues(subscriber).Inc()
}

func (m *SessionMetrics) ObserveProcessing(input string, seconds float64) {
	if m == nil {
		return
	}
	m.processingLatency.WithLabelValues(input).Observe(seconds)
}
