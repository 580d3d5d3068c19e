package bookings

import (
	"context"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/physio-voice-booking/internal/consultation"
	"github.com/wolfman30/physio-voice-booking/internal/session"
	"github.com/wolfman30/physio-voice-booking/pkg/logging"
)

var bookingsTracer = otel.Tracer("physio.internal.bookings")

type store interface {
	Insert(ctx context.Context, b Booking) (bool, error)
}

// Service writes confirmed bookings from the session bus into the ledger.
type Service struct {
	repo   store
	logger *logging.Logger
}

// NewService constructs a bookings service.
func NewService(repo *Repository, logger *logging.Logger) *Service {
	if repo == nil {
		panic("bookings: repository required")
	}
	return newService(repo, logger)
}

func newService(repo store, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Handle records an appointment.booked event. Other events are ignored.
func (s *Service) Handle(ctx context.Context, evt session.Event) error {
	if evt.Type != session.EventAppointmentBooked {
		return nil
	}
	payload, ok := evt.Payload.(session.BookedPayload)
	if !ok {
		return nil
	}

	ctx, span := bookingsTracer.Start(ctx, "bookings.record")
	defer span.End()
	span.SetAttributes(
		attribute.String("physio.session_id", evt.SessionID),
		attribute.String("physio.epoch", strconv.FormatUint(evt.Epoch, 10)),
	)

	a := payload.Appointment
	b := Booking{
		SessionID:        evt.SessionID,
		Epoch:            evt.Epoch,
		MobileNumber:     known(payload.Mobile),
		BookingReference: known(firstNonEmpty(payload.Payment.ReferenceID, a.BookingID)),
		PaymentLink:      known(firstNonEmpty(payload.Payment.ShortURL, a.PaymentLink)),
		Doctor:           known(a.Doctor),
		ConsultationType: known(string(a.Type)),
		AppointmentDate:  known(a.Date),
		AppointmentTime:  known(a.Time),
		Location:         known(a.Location),
		Source:           payload.Source,
		CreatedAt:        evt.At,
	}
	inserted, err := s.repo.Insert(ctx, b)
	if err != nil {
		span.RecordError(err)
		return err
	}
	s.logger.Info("booking recorded",
		"session_id", evt.SessionID,
		"epoch", evt.Epoch,
		"booking_reference", b.BookingReference,
		"inserted", inserted,
	)
	return nil
}

// known maps the record placeholder to an empty column.
func known(v string) string {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, consultation.TBD) {
		return ""
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if known(v) != "" {
			return v
		}
	}
	return ""
}
