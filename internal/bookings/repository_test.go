package bookings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/physio-voice-booking/internal/consultation"
	"github.com/wolfman30/physio-voice-booking/internal/session"
)

func TestRepositoryInsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := newRepositoryWithQuerier(mock)

	created := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	b := Booking{
		ID: uuid.New(), SessionID: "sess-1", Epoch: 2, MobileNumber: "9876543210",
		BookingReference: "REF1", PaymentLink: "https://pay/x", Doctor: "Dr. Riya",
		ConsultationType: "Online", AppointmentDate: "2025-06-02", AppointmentTime: "2-3 PM",
		Source: "tool_result", CreatedAt: created,
	}

	mock.ExpectExec("INSERT INTO consultation_bookings").
		WithArgs(b.ID, "sess-1", int64(2), "9876543210", "REF1", "https://pay/x", "Dr. Riya", "Online", "2025-06-02", "2-3 PM", "", "tool_result", created).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	inserted, err := repo.Insert(context.Background(), b)
	require.NoError(t, err)
	assert.True(t, inserted)

	mock.ExpectExec("INSERT INTO consultation_bookings").
		WithArgs(b.ID, "sess-1", int64(2), "9876543210", "REF1", "https://pay/x", "Dr. Riya", "Online", "2025-06-02", "2-3 PM", "", "tool_result", created).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	inserted, err = repo.Insert(context.Background(), b)
	require.NoError(t, err)
	assert.False(t, inserted, "conflict is not an error")

	mock.ExpectExec("INSERT INTO consultation_bookings").
		WithArgs(pgxmock.AnyArg(), "sess-1", int64(2), "9876543210", "REF1", "https://pay/x", "Dr. Riya", "Online", "2025-06-02", "2-3 PM", "", "tool_result", created).
		WillReturnError(errors.New("db down"))
	b.ID = uuid.Nil
	_, err = repo.Insert(context.Background(), b)
	assert.ErrorContains(t, err, "bookings: insert")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryListByMobile(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := newRepositoryWithQuerier(mock)

	id := uuid.New()
	created := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	cols := []string{"id", "session_id", "epoch", "mobile_number", "booking_reference", "payment_link",
		"doctor", "consultation_type", "appointment_date", "appointment_time", "location", "source", "created_at"}
	mock.ExpectQuery("SELECT id, session_id, epoch").
		WithArgs("9876543210", 20).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(id, "sess-1", int64(3), "9876543210", "REF1", "https://pay/x",
			"Dr. Riya", "Online", "2025-06-02", "2-3 PM", "", "tool_result", created))

	list, err := repo.ListByMobile(context.Background(), "9876543210", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, uint64(3), list[0].Epoch)
	assert.Equal(t, "REF1", list[0].BookingReference)
	require.NoError(t, mock.ExpectationsWereMet())
}

type recordingStore struct {
	got []Booking
	err error
}

func (r *recordingStore) Insert(_ context.Context, b Booking) (bool, error) {
	r.got = append(r.got, b)
	return r.err == nil, r.err
}

func TestServiceHandleBookedEvent(t *testing.T) {
	st := &recordingStore{}
	svc := newService(st, nil)
	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	evt := session.Event{
		Type:      session.EventAppointmentBooked,
		SessionID: "sess-1",
		Epoch:     1,
		At:        at,
		Payload: session.BookedPayload{
			Source: "tool_result",
			Mobile: "9876543210",
			Appointment: consultation.Appointment{
				Type: consultation.TypeOnline, Doctor: "Dr. Riya", Time: "2-3 PM", Date: "2025-06-02",
				Location: consultation.TBD, BookingID: "REF1", PaymentLink: "https://pay/x",
			},
			Payment: consultation.Payment{ShortURL: "https://pay/x", ReferenceID: "REF1"},
		},
	}
	require.NoError(t, svc.Handle(context.Background(), evt))
	require.Len(t, st.got, 1)
	b := st.got[0]
	assert.Equal(t, "REF1", b.BookingReference)
	assert.Equal(t, "", b.Location, "placeholder is not stored")
	assert.Equal(t, "Online", b.ConsultationType)
	assert.Equal(t, at, b.CreatedAt)

	require.NoError(t, svc.Handle(context.Background(), session.Event{Type: session.EventTranscript}))
	assert.Len(t, st.got, 1)

	st.err = errors.New("db down")
	assert.Error(t, svc.Handle(context.Background(), evt))
}
