package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/physio-voice-booking/internal/appointments"
	"github.com/wolfman30/physio-voice-booking/internal/bookingflow"
	"github.com/wolfman30/physio-voice-booking/internal/consultation"
)

const (
	testMobile = "9876543210"

	consultationMessage = `Tool calls: updateConsultation {"consultationData":{"symptoms":[{"symptom":"lower back pain","duration":"3 days","severity":"7"}],"assessmentStatus":"In Progress"}}`
	bookingMessage      = `bookAppointment result: {"success":true,"appointmentInfo":{"appointed_doctor":"Dr. Riya","startDateTime":"2025-06-02 14:00","consultation_type":"Online"},"payment":{"short_url":"https://pay/x","reference_id":"REF1"}}`
	slotsMessage        = `fetchSlots result: {"slots":["9AM","4PM"]}`
)

type fetcherFunc func(ctx context.Context, mobile string) ([]appointments.Appointment, error)

func (f fetcherFunc) Upcoming(ctx context.Context, mobile string) ([]appointments.Appointment, error) {
	return f(ctx, mobile)
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (f *fakeTimer) Stop() bool {
	f.stopped = true
	return true
}

type countingObserver struct{ classified int }

func (c *countingObserver) ObserveClassified(string, string) { c.classified++ }
func (c *countingObserver) ObserveExtraction(string, bool) {}

type harness struct {
	m        *Manager
	timers   []*fakeTimer
	fetches  []string
	upcoming []appointments.Appointment
	fetchErr error
	onFetch  func()
	observer *countingObserver
	events   <-chan Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{observer: &countingObserver{}}
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	h.m = NewManager(Config{RefreshDelay: 2 * time.Second}, Options{
		Interpreter: consultation.NewInterpreter(nil, h.observer),
		Fetcher: fetcherFunc(func(_ context.Context, mobile string) ([]appointments.Appointment, error) {
			h.fetches = append(h.fetches, mobile)
			if h.onFetch != nil {
				h.onFetch()
			}
			return h.upcoming, h.fetchErr
		}),
		Now: func() time.Time { return now },
		Go:  func(fn func()) { fn() },
		AfterFunc: func(d time.Duration, fn func()) Timer {
			ft := &fakeTimer{delay: d, fn: fn}
			h.timers = append(h.timers, ft)
			return ft
		},
	})
	ch, cancel := h.m.Bus().Subscribe("test", 512, nil)
	t.Cleanup(cancel)
	h.events = ch
	return h
}

func (h *harness) drain() []Event {
	var out []Event
	for {
		select {
		case e := <-h.events:
			out = append(out, e)
		default:
			return out
		}
	}
}

func countType(events []Event, typ EventType) int {
	n := 0
	for _, e := range events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func (h *harness) newCall(t *testing.T) *Session {
	t.Helper()
	s, err := h.m.Create(context.Background(), testMobile)
	require.NoError(t, err)
	s.StartCall(context.Background())
	return s
}

func TestConsultationScenario(t *testing.T) {
	h := newHarness(t)
	s, err := h.m.Create(context.Background(), testMobile)
	require.NoError(t, err)

	v := s.View()
	assert.Empty(t, v.Consultation.Symptoms)
	assert.NotNil(t, v.Consultation.Symptoms)
	assert.Equal(t, consultation.StatusNotStarted, v.Consultation.AssessmentStatus)
	assert.Equal(t, StatusNotStarted, v.CallStatus)

	s.StartCall(context.Background())
	v = s.HandleDebug(context.Background(), consultationMessage)

	require.Len(t, v.Consultation.Symptoms, 1)
	assert.Equal(t, consultation.Symptom{Symptom: "lower back pain", Severity: "7", Duration: "3 days"}, v.Consultation.Symptoms[0])
	assert.Equal(t, "In Progress", v.Consultation.AssessmentStatus)
	assert.Equal(t, StatusInProgress, v.CallStatus)
}

func TestBookingScenario(t *testing.T) {
	h := newHarness(t)
	s := h.newCall(t)
	h.drain()

	v := s.HandleDebug(context.Background(), bookingMessage)
	a := v.Consultation.Appointment
	require.NotNil(t, a)
	assert.Equal(t, "Dr. Riya", a.Doctor)
	assert.Equal(t, consultation.TypeOnline, a.Type)
	assert.Equal(t, "2-3 PM", a.Time)
	assert.Equal(t, "2025-06-02", a.Date)
	assert.Equal(t, "https://pay/x", a.PaymentLink)
	assert.Equal(t, "REF1", a.BookingID)
	assert.Equal(t, testMobile, a.MobileNumber)
	assert.Equal(t, consultation.Payment{ShortURL: "https://pay/x", ReferenceID: "REF1"}, v.Payment)
	assert.Equal(t, bookingflow.StateBooked, v.Flow.State)

	events := h.drain()
	assert.Equal(t, 1, countType(events, EventAppointmentBooked))
	for _, e := range events {
		if e.Type == EventAppointmentBooked {
			payload, ok := e.Payload.(BookedPayload)
			require.True(t, ok)
			assert.Equal(t, "tool_result", payload.Source)
			assert.Equal(t, "REF1", payload.Payment.ReferenceID)
		}
	}

	require.Len(t, h.timers, 1, "one delayed refresh per confirmation")
	assert.Equal(t, 2*time.Second, h.timers[0].delay)

	h.upcoming = []appointments.Appointment{{ID: "42", Doctor: "Dr. Riya"}}
	h.timers[0].fn()
	v = s.View()
	require.Len(t, v.Upcoming, 1)
	assert.Equal(t, "42", v.Upcoming[0].ID)
	assert.False(t, v.LoadingUpcoming)
}

func TestResetScenario(t *testing.T) {
	h := newHarness(t)
	s := h.newCall(t)
	ctx := context.Background()

	for _, sel := range []struct {
		kind  bookingflow.Kind
		value string
	}{
		{bookingflow.KindMode, "online"},
		{bookingflow.KindWeek, "this week"},
		{bookingflow.KindDay, "Monday"},
	} {
		_, err := s.Select(ctx, sel.kind, sel.value)
		require.NoError(t, err)
	}
	v := s.HandleDebug(ctx, slotsMessage)
	require.Equal(t, bookingflow.StateSlotsShown, v.Flow.State)
	require.Equal(t, []string{"9-10 AM", "4-5 PM"}, v.Flow.Slots.Slots)

	_, err := s.Select(ctx, bookingflow.KindSlot, "4-5 PM")
	require.NoError(t, err)
	v = s.HandleDebug(ctx, bookingMessage)
	require.Equal(t, "4-5 PM", v.Flow.Selection.Slot)
	require.Equal(t, "REF1", v.Consultation.Appointment.BookingID)

	v = s.StartCall(ctx)
	assert.Equal(t, uint64(2), v.Epoch)
	assert.Empty(t, v.Flow.Selection.Slot)
	assert.Nil(t, v.Consultation.Appointment)
	assert.Equal(t, consultation.Payment{}, v.Payment)
	assert.Empty(t, v.Transcript)
	assert.Equal(t, bookingflow.StateAwaitingMode, v.Flow.State)
	assert.Equal(t, testMobile, v.Flow.Selection.Mobile)
	assert.Equal(t, StatusStarting, v.CallStatus)
	assert.True(t, h.timers[0].stopped)

	// The memo was cleared, so the same message is processed again.
	v = s.HandleDebug(ctx, bookingMessage)
	assert.Equal(t, "REF1", v.Consultation.Appointment.BookingID)
}

func TestDuplicateMessageSkipped(t *testing.T) {
	h := newHarness(t)
	s := h.newCall(t)
	ctx := context.Background()
	h.drain()

	s.HandleDebug(ctx, consultationMessage)
	s.HandleDebug(ctx, consultationMessage)
	assert.Equal(t, 1, countType(h.drain(), EventRecordUpdated))
	assert.Equal(t, 1, h.observer.classified, "the duplicate never reaches the classifier")

	s.HandleDebug(ctx, "How long have you had this pain?")
	s.HandleDebug(ctx, consultationMessage)
	assert.Equal(t, 1, countType(h.drain(), EventRecordUpdated), "memo only holds the last message")
}

func TestToolAcknowledgementKeepsSymptoms(t *testing.T) {
	h := newHarness(t)
	s := h.newCall(t)
	ctx := context.Background()

	v := s.HandleDebug(ctx, consultationMessage)
	require.Len(t, v.Consultation.Symptoms, 1)
	h.drain()

	v = s.HandleDebug(ctx, `Tool result for updateConsultation: {"success": true, "message": "Consultation updated"}`)
	require.Len(t, v.Consultation.Symptoms, 1)
	assert.Equal(t, "lower back pain", v.Consultation.Symptoms[0].Symptom)
	assert.Equal(t, 0, countType(h.drain(), EventRecordUpdated))
}

func TestBookingConfirmationFromText(t *testing.T) {
	h := newHarness(t)
	s := h.newCall(t)
	ctx := context.Background()

	_, err := s.Select(ctx, bookingflow.KindMode, "online")
	require.NoError(t, err)
	v := s.HandleDebug(ctx, "Great news! Your online consultation has been booked with Dr. Riya on Monday at 4:00 PM. Payment link: https://rzp.io/l/abc.")

	assert.Equal(t, bookingflow.StateBooked, v.Flow.State)
	require.NotNil(t, v.Consultation.Appointment)
	assert.Equal(t, "Dr. Riya", v.Consultation.Appointment.Doctor)
	assert.Equal(t, "4-5 PM", v.Consultation.Appointment.Time)
	assert.Equal(t, "https://rzp.io/l/abc", v.Payment.ShortURL)
	assert.Equal(t, testMobile, v.Consultation.Appointment.MobileNumber)
	require.Len(t, h.timers, 1)

	s.HandleDebug(ctx, "Your consultation has been booked with Dr. Riya. Anything else?")
	assert.Len(t, h.timers, 1, "a repeated confirmation does not schedule another refresh")
}

func TestStaleRefreshDropped(t *testing.T) {
	t.Run("timer fires after a new call started", func(t *testing.T) {
		h := newHarness(t)
		s := h.newCall(t)
		ctx := context.Background()
		s.HandleDebug(ctx, bookingMessage)
		require.Len(t, h.timers, 1)
		fetchesBefore := len(h.fetches)

		s.StartCall(ctx)
		h.upcoming = []appointments.Appointment{{ID: "stale"}}
		h.timers[0].fn()

		assert.Len(t, h.fetches, fetchesBefore, "stale refresh never reaches the backend")
		assert.Empty(t, s.View().Upcoming)
	})

	t.Run("response lands after a new call started", func(t *testing.T) {
		h := newHarness(t)
		h.upcoming = []appointments.Appointment{{ID: "first"}}
		s := h.newCall(t)
		require.Equal(t, "first", s.View().Upcoming[0].ID)

		h.upcoming = []appointments.Appointment{{ID: "late"}}
		h.onFetch = func() {
			h.onFetch = nil
			s.StartCall(context.Background())
		}
		s.EndCall(context.Background())

		v := s.View()
		require.Len(t, v.Upcoming, 1)
		assert.Equal(t, "first", v.Upcoming[0].ID)
		assert.False(t, v.LoadingUpcoming)
		assert.Equal(t, StatusStarting, v.CallStatus)
	})
}

func TestUpcomingFetch(t *testing.T) {
	t.Run("on mobile submit", func(t *testing.T) {
		h := newHarness(t)
		h.upcoming = []appointments.Appointment{{ID: "1"}, {ID: "2"}}
		s, err := h.m.Create(context.Background(), testMobile)
		require.NoError(t, err)
		assert.Equal(t, []string{testMobile}, h.fetches)
		assert.Len(t, s.View().Upcoming, 2)
	})

	t.Run("failure yields empty list", func(t *testing.T) {
		h := newHarness(t)
		h.fetchErr = errors.New("connection refused")
		h.upcoming = nil
		s, err := h.m.Create(context.Background(), testMobile)
		require.NoError(t, err)
		v := s.View()
		assert.NotNil(t, v.Upcoming)
		assert.Empty(t, v.Upcoming)
		assert.False(t, v.LoadingUpcoming)
	})

	t.Run("on call end", func(t *testing.T) {
		h := newHarness(t)
		s := h.newCall(t)
		v := s.EndCall(context.Background())
		assert.Equal(t, StatusEnded, v.CallStatus)
		assert.Len(t, h.fetches, 2)

		var ended *CallEndedPayload
		for _, e := range h.drain() {
			if p, ok := e.Payload.(CallEndedPayload); ok {
				ended = &p
			}
		}
		require.NotNil(t, ended)
		assert.Equal(t, testMobile, ended.Mobile)
	})
}

func TestSelectionsBypassClassifier(t *testing.T) {
	h := newHarness(t)
	s := h.newCall(t)
	before := h.observer.classified

	v, err := s.Select(context.Background(), bookingflow.KindMode, "in-person")
	require.NoError(t, err)
	v, err = s.Select(context.Background(), bookingflow.KindCity, "Bangalore")
	require.NoError(t, err)

	assert.Equal(t, before, h.observer.classified)
	require.Len(t, v.Transcript, 2)
	assert.Equal(t, TranscriptEntry{Speaker: "user", Text: "User: I'd like the Bangalore location.", Synthetic: true, At: v.Transcript[1].At}, v.Transcript[1])
	assert.Equal(t, bookingflow.StateAwaitingCenter, v.Flow.State)

	_, err = s.Select(context.Background(), bookingflow.KindSlot, "9-10 AM")
	assert.ErrorIs(t, err, bookingflow.ErrOutOfOrder)
	_, err = s.Select(context.Background(), bookingflow.KindCenter, "Gachibowli")
	assert.ErrorIs(t, err, bookingflow.ErrUnknownOption)
}

func TestTranscriptFiltersToolChatter(t *testing.T) {
	h := newHarness(t)
	s := h.newCall(t)
	ctx := context.Background()

	s.AddTranscript(ctx, "agent", "Tool calls: fetchSlots")
	s.AddTranscript(ctx, "agent", "FunctionCall(invocation_id=1)")
	s.AddTranscript(ctx, "agent", "   ")
	v := s.AddTranscript(ctx, "Agent", "Hello, I'm Dr. Riya from Physiotattva.")

	require.Len(t, v.Transcript, 1)
	assert.Equal(t, "agent", v.Transcript[0].Speaker)
	assert.Equal(t, StatusInProgress, v.CallStatus)
}

func TestOverrideAndPopups(t *testing.T) {
	h := newHarness(t)
	s := h.newCall(t)
	ctx := context.Background()

	_, err := s.Select(ctx, bookingflow.KindMode, "online")
	require.NoError(t, err)
	v, err := s.Override(ctx, bookingflow.StateSlotsShown)
	require.NoError(t, err)
	assert.Equal(t, bookingflow.StateSlotsShown, v.Flow.State)

	v = s.ClosePopup(ctx)
	assert.Equal(t, bookingflow.PopupNone, v.Flow.Popup)
	v = s.ShowPopup(ctx)
	assert.Equal(t, bookingflow.PopupSlots, v.Flow.Popup)

	_, err = s.Override(ctx, bookingflow.StateAwaitingWeek)
	assert.ErrorIs(t, err, bookingflow.ErrOutOfOrder)
}

func TestManagerLookup(t *testing.T) {
	h := newHarness(t)
	_, err := h.m.Create(context.Background(), "12345")
	assert.ErrorIs(t, err, bookingflow.ErrInvalidMobile)
	assert.Equal(t, 0, h.m.Len())

	_, err = h.m.Get("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = h.m.View(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	s, err := h.m.Create(context.Background(), testMobile)
	require.NoError(t, err)
	got, err := h.m.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)

	require.NoError(t, h.m.Remove(context.Background(), s.ID()))
	assert.Equal(t, 0, h.m.Len())
	assert.ErrorIs(t, h.m.Remove(context.Background(), s.ID()), ErrSessionNotFound)

	events, err := h.m.EventLog(context.Background(), s.ID(), 0)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Nil(t, events)
}

func TestStallOpensPopupAndNotifies(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	var timers []*fakeTimer
	m := NewManager(Config{CueTimeout: time.Minute}, Options{
		Now: func() time.Time { return now },
		Go:  func(fn func()) { fn() },
		AfterFunc: func(d time.Duration, fn func()) Timer {
			ft := &fakeTimer{delay: d, fn: fn}
			timers = append(timers, ft)
			return ft
		},
	})
	flowEvents, cancel := m.Bus().Subscribe("test", 64, OfType(EventFlowChanged))
	defer cancel()
	ctx := context.Background()

	s, err := m.Create(ctx, testMobile)
	require.NoError(t, err)
	s.StartCall(ctx)
	_, err = s.Select(ctx, bookingflow.KindMode, "in-person")
	require.NoError(t, err)
	for len(flowEvents) > 0 {
		<-flowEvents
	}

	require.NotEmpty(t, timers)
	check := timers[len(timers)-1]
	assert.Equal(t, time.Minute, check.delay)
	for _, ft := range timers[:len(timers)-1] {
		assert.True(t, ft.stopped, "each new state replaces the pending check")
	}

	now = now.Add(time.Minute)
	check.fn()
	require.Len(t, flowEvents, 1)
	evt := <-flowEvents
	payload, ok := evt.Payload.(FlowPayload)
	require.True(t, ok)
	assert.True(t, payload.Stalled)
	assert.Equal(t, bookingflow.PopupCity, evt.View.Flow.Popup)
	assert.True(t, s.View().Flow.Stalled)

	check.fn()
	assert.Empty(t, flowEvents, "a stall is announced once")
}

func TestStallCheckFromEarlierCallIgnored(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	var timers []*fakeTimer
	m := NewManager(Config{CueTimeout: time.Minute}, Options{
		Now: func() time.Time { return now },
		Go:  func(fn func()) { fn() },
		AfterFunc: func(d time.Duration, fn func()) Timer {
			ft := &fakeTimer{delay: d, fn: fn}
			timers = append(timers, ft)
			return ft
		},
	})
	flowEvents, cancel := m.Bus().Subscribe("test", 64, OfType(EventFlowChanged))
	defer cancel()
	ctx := context.Background()

	s, err := m.Create(ctx, testMobile)
	require.NoError(t, err)
	s.StartCall(ctx)
	stale := timers[len(timers)-1]
	s.StartCall(ctx)
	for len(flowEvents) > 0 {
		<-flowEvents
	}

	now = now.Add(time.Hour)
	stale.fn()
	assert.Empty(t, flowEvents)

	s.EndCall(ctx)
	assert.True(t, timers[len(timers)-1].stopped, "ending the call cancels the stall check")
}
