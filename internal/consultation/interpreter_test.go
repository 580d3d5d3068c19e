package consultation

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/physio-voice-booking/pkg/logging"
)

type recordingObserver struct {
	classified  []string
	extractions map[string][]bool
}

func (r *recordingObserver) ObserveClassified(kind, tool string) {
	r.classified = append(r.classified, kind+":"+tool)
}

func (r *recordingObserver) ObserveExtraction(extractor string, ok bool) {
	if r.extractions == nil {
		r.extractions = map[string][]bool{}
	}
	r.extractions[extractor] = append(r.extractions[extractor], ok)
}

func TestInterpretConsultationScenario(t *testing.T) {
	in := NewInterpreter(nil, nil)
	msg := `Tool calls: updateConsultation {"consultationData":{"symptoms":[{"symptom":"lower back pain","duration":"3 days","severity":"7"}],"assessmentStatus":"In Progress"}}`

	got := in.Interpret(context.Background(), "sess", 1, msg)
	require.NotNil(t, got.Consultation)

	state := NewState()
	for _, u := range got.Updates() {
		u.MobileNumber = "9876543210"
		state = Reduce(state, u)
	}
	require.Len(t, state.Record.Symptoms, 1)
	assert.Equal(t, Symptom{Symptom: "lower back pain", Severity: "7", Duration: "3 days"}, state.Record.Symptoms[0])
	assert.Equal(t, "In Progress", state.Record.AssessmentStatus)
}

func TestInterpretBookingScenario(t *testing.T) {
	in := NewInterpreter(nil, nil)
	got := in.Interpret(context.Background(), "sess", 1, "bookAppointment result: "+nestedBookingPayload)
	require.NotNil(t, got.Booking)

	state := NewState()
	for _, u := range got.Updates() {
		state = Reduce(state, u)
	}
	a := state.Record.Appointment
	require.NotNil(t, a)
	assert.Equal(t, "Dr. Riya", a.Doctor)
	assert.Equal(t, TypeOnline, a.Type)
	assert.Equal(t, "REF1", a.BookingID)
	assert.Equal(t, "https://pay/x", a.PaymentLink)
	assert.Equal(t, "2-3 PM", a.Time)
	assert.Equal(t, "https://pay/x", state.Payment.ShortURL)
	assert.Equal(t, "REF1", state.Payment.ReferenceID)
}

func TestInterpretObservesAndLogs(t *testing.T) {
	var buf bytes.Buffer
	obs := &recordingObserver{}
	in := NewInterpreter(NewEventLogger(logging.NewWithWriter("info", &buf)), obs)

	in.Interpret(context.Background(), "sess-9", 2, "How are you feeling?")
	in.Interpret(context.Background(), "sess-9", 2, `bookAppointment {bad json`)

	assert.Equal(t, []string{"conversation:", "tool_result:bookAppointment"}, obs.classified)
	assert.Equal(t, []bool{false}, obs.extractions[ExtractorBooking])
	assert.NotContains(t, obs.extractions, ExtractorSlots)

	out := buf.String()
	assert.True(t, strings.Contains(out, `\"event\":\"parse_failed\"`), out)
	assert.True(t, strings.Contains(out, `\"session_id\":\"sess-9\"`), out)
}
