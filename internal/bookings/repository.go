package bookings

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Booking is one confirmed booking in the ledger.
type Booking struct {
	ID               uuid.UUID `json:"id"`
	SessionID        string    `json:"sessionId"`
	Epoch            uint64    `json:"epoch"`
	MobileNumber     string    `json:"mobileNumber"`
	BookingReference string    `json:"bookingReference"`
	PaymentLink      string    `json:"paymentLink"`
	Doctor           string    `json:"doctor"`
	ConsultationType string    `json:"consultationType"`
	AppointmentDate  string    `json:"appointmentDate"`
	AppointmentTime  string    `json:"appointmentTime"`
	Location         string    `json:"location"`
	Source           string    `json:"source"`
	CreatedAt        time.Time `json:"createdAt"`
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository provides persistence helpers for the bookings ledger.
type Repository struct {
	pool querier
}

// NewRepository creates a repository backed by pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("bookings: pgx pool required")
	}
	return &Repository{pool: pool}
}

func newRepositoryWithQuerier(q querier) *Repository {
	if q == nil {
		panic("bookings: querier required")
	}
	return &Repository{pool: q}
}

// Insert records a booking. It returns false when the same booking was
// already recorded for that call.
func (r *Repository) Insert(ctx context.Context, b Booking) (bool, error) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO consultation_bookings (
			id, session_id, epoch, mobile_number, booking_reference, payment_link,
			doctor, consultation_type, appointment_date, appointment_time, location, source, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (session_id, epoch, booking_reference) DO NOTHING
	`
	ct, err := r.pool.Exec(ctx, query,
		b.ID, b.SessionID, int64(b.Epoch), b.MobileNumber, b.BookingReference, b.PaymentLink,
		b.Doctor, b.ConsultationType, b.AppointmentDate, b.AppointmentTime, b.Location, b.Source, b.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("bookings: insert: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// ListByMobile returns the most recent bookings for a mobile number.
func (r *Repository) ListByMobile(ctx context.Context, mobile string, limit int) ([]Booking, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, session_id, epoch, mobile_number, booking_reference, payment_link,
			doctor, consultation_type, appointment_date, appointment_time, location, source, created_at
		FROM consultation_bookings
		WHERE mobile_number = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, mobile, limit)
	if err != nil {
		return nil, fmt.Errorf("bookings: list by mobile: %w", err)
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		var b Booking
		var epoch int64
		if err := rows.Scan(&b.ID, &b.SessionID, &epoch, &b.MobileNumber, &b.BookingReference, &b.PaymentLink,
			&b.Doctor, &b.ConsultationType, &b.AppointmentDate, &b.AppointmentTime, &b.Location, &b.Source, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("bookings: scan: %w", err)
		}
		b.Epoch = uint64(epoch)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: list rows: %w", err)
	}
	return out, nil
}
