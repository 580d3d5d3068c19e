// Package session owns the per-call state cell. Every input for a session
// (debug messages, transcript lines, popup selections, call lifecycle and
// async refresh results) is applied under the session lock, which makes the
// reducer the single serialization point.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/physio-voice-booking/internal/appointments"
	"github.com/wolfman30/physio-voice-booking/internal/bookingflow"
	"github.com/wolfman30/physio-voice-booking/internal/consultation"
)

var ErrSessionNotFound = errors.New("session: not found")

// CallStatus is the human readable call status shown in the view.
type CallStatus string

const (
	StatusNotStarted CallStatus = "Not started"
	StatusStarting   CallStatus = "Starting call..."
	StatusInProgress CallStatus = "In progress"
	StatusEnded      CallStatus = "Call ended successfully"
)

// Refresh sources.
const (
	RefreshMobileSubmitted = "mobile_submitted"
	RefreshPostBooking     = "post_booking"
	RefreshCallEnded       = "call_ended"
)

// TranscriptEntry is one displayed line. Synthetic entries come from popup
// selections.
type TranscriptEntry struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Synthetic bool      `json:"synthetic,omitempty"`
	At        time.Time `json:"at"`
}

// View is the read model rendered to clients.
type View struct {
	ID              string                     `json:"id"`
	Mobile          string                     `json:"mobileNumber"`
	Epoch           uint64                     `json:"epoch"`
	CallStatus      CallStatus                 `json:"callStatus"`
	Consultation    consultation.Record        `json:"consultation"`
	Payment         consultation.Payment       `json:"payment"`
	Flow            bookingflow.Snapshot       `json:"flow"`
	Transcript      []TranscriptEntry          `json:"transcript"`
	Upcoming        []appointments.Appointment `json:"upcomingAppointments"`
	LoadingUpcoming bool                       `json:"loadingUpcoming"`
	LastUpdate      time.Time                  `json:"lastUpdate"`
}

// Timer is the handle of a scheduled refresh.
type Timer interface {
	Stop() bool
}

// Session is the state cell of one patient session.
type Session struct {
	m  *Manager
	id string

	mu          sync.Mutex
	mobile      string
	epoch       uint64
	status      CallStatus
	startedAt   time.Time
	state       consultation.State
	flow        *bookingflow.Controller
	transcript  []TranscriptEntry
	lastMessage string
	upcoming    []appointments.Appointment
	loading     bool
	lastUpdate  time.Time
	refresh     Timer
	stall       Timer
}

func (s *Session) ID() string { return s.id }

// Epoch returns the current call epoch.
func (s *Session) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// View returns a snapshot of the session.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// StartCall begins a new call. Selection, record, payment, transcript and
// the last-message memo are cleared before anything else is processed, and
// the epoch moves on so results of work started earlier are dropped.
func (s *Session) StartCall(ctx context.Context) View {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	if s.refresh != nil {
		s.refresh.Stop()
		s.refresh = nil
	}
	s.state = consultation.NewState()
	s.flow.Reset()
	s.armStallLocked()
	s.transcript = nil
	s.lastMessage = ""
	s.loading = false
	s.status = StatusStarting
	s.startedAt = s.m.now()
	s.lastUpdate = s.startedAt

	s.m.events.CallStarted(ctx, s.id, s.epoch, s.mobile)
	s.m.metrics.ObserveCall("started")
	s.publishLocked(EventCallStarted, nil)
	return s.viewLocked()
}

// EndCall marks the call finished and refreshes upcoming appointments.
func (s *Session) EndCall(ctx context.Context) View {
	s.mu.Lock()
	s.status = StatusEnded
	s.lastUpdate = s.m.now()
	if s.stall != nil {
		s.stall.Stop()
		s.stall = nil
	}
	epoch := s.epoch
	payload := CallEndedPayload{
		Mobile:     s.mobile,
		StartedAt:  s.startedAt,
		EndedAt:    s.lastUpdate,
		Transcript: append([]TranscriptEntry{}, s.transcript...),
		Record:     cloneRecord(s.state.Record),
	}
	s.m.metrics.ObserveCall("ended")
	s.publishLocked(EventCallEnded, payload)
	view := s.viewLocked()
	s.mu.Unlock()

	s.m.goAsync(func() { s.refreshUpcoming(context.WithoutCancel(ctx), epoch, RefreshCallEnded) })
	return view
}

// HandleDebug applies one debug-channel message: classify, extract, reduce
// and drive the booking flow. A message identical to the previous one is
// skipped.
func (s *Session) HandleDebug(ctx context.Context, raw string) View {
	started := time.Now()
	defer func() { s.m.metrics.ObserveProcessing("debug", time.Since(started).Seconds()) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	fp := consultation.Fingerprint(raw)
	if fp == s.lastMessage {
		s.m.events.DuplicateSkipped(ctx, s.id, s.epoch)
		return s.viewLocked()
	}
	s.lastMessage = fp
	s.lastUpdate = s.m.now()
	s.markInProgressLocked()

	in := s.m.interpreter.Interpret(ctx, s.id, s.epoch, raw)
	updates := in.Updates()
	var transitions []bookingflow.Transition
	bookedBy := ""

	if in.Message.Kind == consultation.KindConversation {
		out := s.flow.Observe(in.Message.Text)
		transitions = append(transitions, out.Transitions...)
		if out.Slots != nil {
			s.publishLocked(EventSlotsOffered, *out.Slots)
		}
		if out.Booked() && reached(out.Transitions, bookingflow.StateBooked) {
			if b := consultation.ParseBookingConfirmation(in.Message.Text); b != nil {
				updates = append(updates, b.Update())
			}
			bookedBy = "confirmation_text"
		}
	}
	if in.Slots != nil {
		transitions = append(transitions, s.flow.OfferSlots(in.Slots)...)
		s.publishLocked(EventSlotsOffered, *in.Slots)
	}
	if in.Booking != nil {
		transitions = append(transitions, s.flow.MarkBooked("tool:"+consultation.ToolBookAppointment)...)
		bookedBy = "tool_result"
	}

	for _, u := range updates {
		u.MobileNumber = s.mobile
		s.state = consultation.Reduce(s.state, u)
	}
	if len(updates) > 0 {
		s.publishLocked(EventRecordUpdated, nil)
	}
	s.recordTransitionsLocked(ctx, transitions)

	if bookedBy != "" {
		s.scheduleRefreshLocked()
		payload := BookedPayload{Source: bookedBy, Mobile: s.mobile, Payment: s.state.Payment}
		if s.state.Record.Appointment != nil {
			payload.Appointment = *s.state.Record.Appointment
		}
		s.publishLocked(EventAppointmentBooked, payload)
	}
	return s.viewLocked()
}

// AddTranscript appends a display-only transcript line. Tool chatter is
// filtered out.
func (s *Session) AddTranscript(ctx context.Context, speaker, text string) View {
	s.mu.Lock()
	defer s.mu.Unlock()

	text = strings.TrimSpace(text)
	if text == "" || consultation.IsDiagnostic(text) {
		return s.viewLocked()
	}
	s.markInProgressLocked()
	s.appendTranscriptLocked(TranscriptEntry{Speaker: strings.ToLower(strings.TrimSpace(speaker)), Text: text})
	return s.viewLocked()
}

// Select applies a popup selection and appends its synthetic transcript
// line. The line is never fed back to the classifier.
func (s *Session) Select(ctx context.Context, kind bookingflow.Kind, value string) (View, error) {
	started := time.Now()
	defer func() { s.m.metrics.ObserveProcessing("selection", time.Since(started).Seconds()) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	line, transitions, err := s.flow.Select(kind, strings.TrimSpace(value))
	s.m.metrics.ObserveSelection(string(kind), err == nil)
	if err != nil {
		return s.viewLocked(), fmt.Errorf("session: select %s: %w", kind, err)
	}
	s.m.events.SelectionMade(ctx, s.id, s.epoch, string(kind), value)
	s.appendTranscriptLocked(TranscriptEntry{Speaker: "user", Text: line, Synthetic: true})
	s.recordTransitionsLocked(ctx, transitions)
	return s.viewLocked(), nil
}

// Override forces the booking flow forward when a cue never arrived.
func (s *Session) Override(ctx context.Context, target bookingflow.State) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	transitions, err := s.flow.Override(target)
	s.recordTransitionsLocked(ctx, transitions)
	if err != nil {
		return s.viewLocked(), fmt.Errorf("session: override: %w", err)
	}
	return s.viewLocked(), nil
}

// ShowPopup shows the popup of the current flow step.
func (s *Session) ShowPopup(ctx context.Context) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flow.ForcePopup()
	s.publishLocked(EventFlowChanged, FlowPayload{Transitions: []bookingflow.Transition{}})
	return s.viewLocked()
}

// ClosePopup hides the current popup.
func (s *Session) ClosePopup(ctx context.Context) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flow.ClosePopup()
	s.publishLocked(EventFlowChanged, FlowPayload{Transitions: []bookingflow.Transition{}})
	return s.viewLocked()
}

// refreshUpcoming fetches upcoming appointments for the epoch that asked
// for them. A result for an older epoch is dropped.
func (s *Session) refreshUpcoming(ctx context.Context, epoch uint64, source string) {
	s.mu.Lock()
	if epoch != s.epoch {
		s.dropStaleLocked(ctx, epoch, source)
		s.mu.Unlock()
		return
	}
	mobile := s.mobile
	s.loading = true
	s.mu.Unlock()

	list, err := s.m.fetcher.Upcoming(ctx, mobile)
	s.m.metrics.ObserveRefresh(source, err == nil)
	if err != nil {
		s.m.logger.Warn("session: upcoming appointments fetch failed",
			"session_id", s.id,
			"source", source,
			"error", err,
		)
		list = []appointments.Appointment{}
	}
	if list == nil {
		list = []appointments.Appointment{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		s.dropStaleLocked(ctx, epoch, source)
		return
	}
	s.upcoming = list
	s.loading = false
	s.publishLocked(EventUpcomingRefreshed, UpcomingPayload{Source: source, Appointments: append([]appointments.Appointment{}, list...)})
}

// scheduleRefreshLocked arms the single delayed post-booking refresh,
// replacing any refresh still pending.
func (s *Session) scheduleRefreshLocked() {
	if s.refresh != nil {
		s.refresh.Stop()
	}
	epoch := s.epoch
	s.refresh = s.m.afterFunc(s.m.cfg.RefreshDelay, func() {
		s.refreshUpcoming(context.Background(), epoch, RefreshPostBooking)
	})
}

func (s *Session) dropStaleLocked(ctx context.Context, epoch uint64, source string) {
	s.m.metrics.ObserveStale(source)
	s.m.events.StaleResultDropped(ctx, s.id, s.epoch, epoch, source)
}

func (s *Session) markInProgressLocked() {
	if s.status == StatusStarting {
		s.status = StatusInProgress
	}
}

func (s *Session) appendTranscriptLocked(e TranscriptEntry) {
	e.At = s.m.now()
	s.transcript = append(s.transcript, e)
	s.lastUpdate = e.At
	s.publishLocked(EventTranscript, e)
}

func (s *Session) recordTransitionsLocked(ctx context.Context, transitions []bookingflow.Transition) {
	if len(transitions) == 0 {
		return
	}
	for _, t := range transitions {
		s.m.events.FlowTransitioned(ctx, s.id, s.epoch, string(t.From), string(t.To), t.Trigger)
		s.m.metrics.ObserveTransition(string(t.To), t.Trigger)
	}
	s.publishLocked(EventFlowChanged, FlowPayload{Transitions: transitions})
	s.armStallLocked()
}

// armStallLocked schedules the stall check for the state the flow is in
// now, replacing any earlier check.
func (s *Session) armStallLocked() {
	if s.stall != nil {
		s.stall.Stop()
		s.stall = nil
	}
	deadline, ok := s.flow.StallDeadline()
	if !ok {
		return
	}
	epoch := s.epoch
	s.stall = s.m.afterFunc(deadline.Sub(s.m.now()), func() { s.checkStall(epoch) })
}

// checkStall opens the waiting step's popup and tells subscribers when the
// agent never produced the cue that would have moved the flow on.
func (s *Session) checkStall(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch || !s.flow.Escalate() {
		return
	}
	s.m.logger.Info("session: booking flow stalled",
		"session_id", s.id,
		"state", s.flow.State(),
		"popup", s.flow.Popup(),
	)
	s.publishLocked(EventFlowChanged, FlowPayload{Transitions: []bookingflow.Transition{}, Stalled: true})
}

func (s *Session) publishLocked(typ EventType, payload any) {
	view := s.viewLocked()
	s.m.bus.Publish(Event{
		Type:      typ,
		SessionID: s.id,
		Epoch:     s.epoch,
		At:        s.m.now(),
		Payload:   payload,
		View:      &view,
	})
}

func (s *Session) viewLocked() View {
	upcoming := append([]appointments.Appointment{}, s.upcoming...)
	return View{
		ID:              s.id,
		Mobile:          s.mobile,
		Epoch:           s.epoch,
		CallStatus:      s.status,
		Consultation:    cloneRecord(s.state.Record),
		Payment:         s.state.Payment,
		Flow:            s.flow.Snapshot(),
		Transcript:      append([]TranscriptEntry{}, s.transcript...),
		Upcoming:        upcoming,
		LoadingUpcoming: s.loading,
		LastUpdate:      s.lastUpdate,
	}
}

func cloneRecord(r consultation.Record) consultation.Record {
	out := r
	out.Symptoms = append([]consultation.Symptom{}, r.Symptoms...)
	if r.Appointment != nil {
		appt := *r.Appointment
		out.Appointment = &appt
	}
	return out
}

func reached(transitions []bookingflow.Transition, state bookingflow.State) bool {
	for _, t := range transitions {
		if t.To == state {
			return true
		}
	}
	return false
}
