package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterpretationMetricsCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewInterpretationMetrics(reg)

	m.ObserveClassified("conversation", "")
	m.ObserveClassified("tool_result", "bookAppointment")
	m.ObserveExtraction("booking_result", true)
	m.ObserveExtraction("booking_result", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesTotal.WithLabelValues("conversation", "none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.extractionsTotal.WithLabelValues("booking_result", "extracted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.parseFailuresTotal.WithLabelValues("booking_result")))
}

func TestSessionMetricsGather(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSessionMetrics(reg)
	m.ObserveCall("started")
	m.ObserveSelection("city", true)
	m.ObserveSelection("city", false)
	m.ObserveTransition("awaiting_city", "cue:ask_city")
	m.ObserveRefresh("post_booking", true)
	m.ObserveStale("post_booking")
	m.ObserveBusDrop("websocket")
	m.ObserveProcessing("debug", 0.002)

	families, err := reg.Gather()
	require.NoError(t, err)
	byName := map[string]*dto.MetricFamily{}
	for _, f := range families {
		byName[f.GetName()] = f
	}
	require.Contains(t, byName, "physio_session_selections_total")
	assert.Len(t, byName["physio_session_selections_total"].GetMetric(), 2)
	require.Contains(t, byName, "physio_session_processing_seconds")
	assert.Equal(t, uint64(1), byName["physio_session_processing_seconds"].GetMetric()[0].GetHistogram().GetSampleCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.staleTotal.WithLabelValues("post_booking")))
}

func TestMetricsNilSafe(t *testing.T) {
	var im *InterpretationMetrics
	im.ObserveClassified("noise", "")
	im.ObserveExtraction("slots", false)

	var sm *SessionMetrics
	sm.ObserveCall("ended")
	sm.ObserveSelection("slot", true)
	sm.ObserveTransition("booked", "override")
	sm.ObserveRefresh("call_ended", false)
	sm.ObserveStale("call_ended")
	sm.ObserveBusDrop("redis")
	sm.ObserveProcessing("selection", 0.1)
}
