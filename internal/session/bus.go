package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/physio-voice-booking/internal/appointments"
	"github.com/wolfman30/physio-voice-booking/internal/bookingflow"
	"github.com/wolfman30/physio-voice-booking/internal/consultation"
	"github.com/wolfman30/physio-voice-booking/internal/observability/metrics"
	"github.com/wolfman30/physio-voice-booking/pkg/logging"
)

// EventType names a state change published on the bus.
type EventType string

const (
	EventSessionCreated    EventType = "session.created"
	EventSessionRemoved    EventType = "session.removed"
	EventCallStarted       EventType = "call.started"
	EventCallEnded         EventType = "call.ended"
	EventTranscript        EventType = "transcript.appended"
	EventRecordUpdated     EventType = "record.updated"
	EventFlowChanged       EventType = "flow.changed"
	EventSlotsOffered      EventType = "slots.offered"
	EventAppointmentBooked EventType = "appointment.booked"
	EventUpcomingRefreshed EventType = "upcoming.refreshed"
)

// Event is one notification. View is the session as it stood right after
// the change.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Epoch     uint64    `json:"epoch"`
	At        time.Time `json:"at"`
	Payload   any       `json:"payload,omitempty"`
	View      *View     `json:"view,omitempty"`
}

// BookedPayload accompanies EventAppointmentBooked.
type BookedPayload struct {
	Source      string                   `json:"source"`
	Mobile      string                   `json:"mobileNumber"`
	Appointment consultation.Appointment `json:"appointment"`
	Payment     consultation.Payment     `json:"payment"`
}

// CallEndedPayload accompanies EventCallEnded.
type CallEndedPayload struct {
	Mobile     string              `json:"mobileNumber"`
	StartedAt  time.Time           `json:"startedAt"`
	EndedAt    time.Time           `json:"endedAt"`
	Transcript []TranscriptEntry   `json:"transcript"`
	Record     consultation.Record `json:"record"`
}

// FlowPayload accompanies EventFlowChanged. Stalled is set when the flow
// waited out the cue timeout and its popup was opened.
type FlowPayload struct {
	Transitions []bookingflow.Transition `json:"transitions"`
	Stalled     bool                     `json:"stalled,omitempty"`
}

// UpcomingPayload accompanies EventUpcomingRefreshed.
type UpcomingPayload struct {
	Source       string                     `json:"source"`
	Appointments []appointments.Appointment `json:"appointments"`
}

type subscription struct {
	name   string
	ch     chan Event
	filter func(Event) bool
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscription
	nextID  uint64
	logger  *logging.Logger
	metrics *metrics.SessionMetrics
}

// NewBus creates an empty bus.
func NewBus(logger *logging.Logger, m *metrics.SessionMetrics) *Bus {
	if logger == nil {
		logger = logging.Default()
	}
	return &Bus{subs: make(map[uint64]*subscription), logger: logger, metrics: m}
}

// Subscribe registers a buffered channel receiving events that pass filter
// (all events when filter is nil). The returned func unsubscribes and
// closes the channel.
func (b *Bus) Subscribe(name string, buffer int, filter func(Event) bool) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &subscription{name: name, ch: make(chan Event, buffer), filter: filter}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Publish delivers evt to every matching subscriber.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.filter != nil && !sub.filter(evt) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.metrics.ObserveBusDrop(sub.name)
			b.logger.Warn("session bus: subscriber buffer full, dropping event",
				"subscriber", sub.name,
				"event_type", string(evt.Type),
				"session_id", evt.SessionID,
			)
		}
	}
}

// Consume runs handle for every matching event on its own goroutine until
// ctx is done. Handler errors are logged; they never reach the publisher.
func (b *Bus) Consume(ctx context.Context, name string, buffer int, handle func(context.Context, Event) error, types ...EventType) {
	ch, cancel := b.Subscribe(name, buffer, OfType(types...))
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if err := handle(ctx, evt); err != nil {
					b.logger.Error("session bus: consumer failed",
						"subscriber", name,
						"event_type", string(evt.Type),
						"session_id", evt.SessionID,
						"error", err,
					)
				}
			}
		}
	}()
}

// OfType matches events of the given types, or every event when none are
// given.
func OfType(types ...EventType) func(Event) bool {
	if len(types) == 0 {
		return nil
	}
	set := make(map[EventType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(e Event) bool { return set[e.Type] }
}

// ForSession matches events of one session.
func ForSession(id string) func(Event) bool {
	return func(e Event) bool { return e.SessionID == id }
}
