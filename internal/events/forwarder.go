package events

import (
	"context"
	"strings"

	"github.com/wolfman30/physio-voice-booking/internal/consultation"
	"github.com/wolfman30/physio-voice-booking/internal/session"
	"github.com/wolfman30/physio-voice-booking/pkg/logging"
)

// Sink accepts envelopes for downstream delivery.
type Sink interface {
	Enqueue(ctx context.Context, env Envelope) error
}

// Forwarder maps session bus events onto canonical events.
type Forwarder struct {
	sink   Sink
	logger *logging.Logger
}

func NewForwarder(sink Sink, logger *logging.Logger) *Forwarder {
	if logger == nil {
		logger = logging.Default()
	}
	return &Forwarder{sink: sink, logger: logger}
}

// Handle forwards appointment.booked and call.ended. Other events are ignored.
func (f *Forwarder) Handle(ctx context.Context, evt session.Event) error {
	if f == nil || f.sink == nil {
		return nil
	}
	var canonical CanonicalEvent
	switch p := evt.Payload.(type) {
	case session.BookedPayload:
		canonical = bookingConfirmed(evt, p)
	case session.CallEndedPayload:
		canonical = callEnded(evt, p)
	default:
		return nil
	}
	env, err := NewEnvelope(SessionAggregate(evt.SessionID), evt.ID, canonical, WithTimestamp(evt.At))
	if err != nil {
		return err
	}
	if err := f.sink.Enqueue(ctx, env); err != nil {
		return err
	}
	f.logger.Debug("event forwarded", "session_id", evt.SessionID, "event_type", env.EventType, "event_id", env.EventID)
	return nil
}

func bookingConfirmed(evt session.Event, p session.BookedPayload) BookingConfirmedV1 {
	a := p.Appointment
	out := BookingConfirmedV1{
		SessionID:        evt.SessionID,
		Epoch:            evt.Epoch,
		MobileNumber:     p.Mobile,
		BookingReference: value(p.Payment.ReferenceID, a.BookingID),
		PaymentLink:      value(p.Payment.ShortURL, a.PaymentLink),
		Doctor:           value(a.Doctor),
		AppointmentDate:  value(a.Date),
		AppointmentTime:  value(a.Time),
		Location:         value(a.Location),
		ConfirmedBy:      p.Source,
		ConfirmedAt:      evt.At,
	}
	if a.Type != consultation.TypeTBD {
		out.ConsultationType = string(a.Type)
	}
	return out
}

func callEnded(evt session.Event, p session.CallEndedPayload) CallEndedV1 {
	out := CallEndedV1{
		SessionID:        evt.SessionID,
		Epoch:            evt.Epoch,
		MobileNumber:     p.Mobile,
		StartedAt:        p.StartedAt,
		EndedAt:          p.EndedAt,
		AssessmentStatus: p.Record.AssessmentStatus,
		SymptomCount:     len(p.Record.Symptoms),
	}
	if a := p.Record.Appointment; a != nil {
		out.Booked = value(a.BookingID) != ""
	}
	return out
}

// value returns the first argument that is not empty or the placeholder.
func value(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" && !strings.EqualFold(v, consultation.TBD) {
			return v
		}
	}
	return ""
}
