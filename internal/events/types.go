package events

import "time"

// BookingConfirmedV1 is emitted once per confirmed consultation booking.
type BookingConfirmedV1 struct {
	SessionID        string    `json:"session_id"`
	Epoch            uint64    `json:"epoch"`
	MobileNumber     string    `json:"mobile_number"`
	BookingReference string    `json:"booking_reference,omitempty"`
	PaymentLink      string    `json:"payment_link,omitempty"`
	ConsultationType string    `json:"consultation_type,omitempty"`
	Doctor           string    `json:"doctor,omitempty"`
	AppointmentDate  string    `json:"appointment_date,omitempty"`
	AppointmentTime  string    `json:"appointment_time,omitempty"`
	Location         string    `json:"location,omitempty"`
	ConfirmedBy      string    `json:"confirmed_by"`
	ConfirmedAt      time.Time `json:"confirmed_at"`
}

// EventType implements CanonicalEvent.
func (BookingConfirmedV1) EventType() string { return "consultation.booking.confirmed.v1" }

// CallEndedV1 is emitted when an operator ends a call.
type CallEndedV1 struct {
	SessionID        string    `json:"session_id"`
	Epoch            uint64    `json:"epoch"`
	MobileNumber     string    `json:"mobile_number"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at"`
	AssessmentStatus string    `json:"assessment_status"`
	SymptomCount     int       `json:"symptom_count"`
	Booked           bool      `json:"booked"`
}

// EventType implements CanonicalEvent.
func (CallEndedV1) EventType() string { return "consultation.call.ended.v1" }
