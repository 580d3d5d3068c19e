// Package consultation turns the voice agent's debug/tool channel into a
// structured consultation record: symptoms, assessment status, appointment and
// payment details.
package consultation

import "strings"

// TBD is the placeholder for appointment fields nobody has supplied yet.
const TBD = "TBD"

// Assessment status values the record starts with or falls back to.
const (
	StatusNotStarted = "Not started"
	StatusInProgress = "In Progress"
)

// ConsultationType is the canonical online/in-person tag. Upstream payloads
// spell it several ways ("In-Person", "in person", "offline"); NormalizeType
// folds them into one of these values.
type ConsultationType string

const (
	TypeOnline   ConsultationType = "Online"
	TypeInPerson ConsultationType = "in-person"
	TypeTBD      ConsultationType = TBD
)

// NormalizeType maps any upstream spelling onto the canonical enum.
func NormalizeType(raw string) ConsultationType {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("-", "", "_", "", " ", "").Replace(key)
	switch key {
	case "online", "video", "virtual", "teleconsultation", "onlineconsultation":
		return TypeOnline
	case "inperson", "offline", "clinic", "center", "centre", "inclinic", "inpersonconsultation":
		return TypeInPerson
	default:
		return TypeTBD
	}
}

// Symptom is one reported complaint.
type Symptom struct {
	Symptom  string `json:"symptom"`
	Severity string `json:"severity"`
	Duration string `json:"duration"`
}

// Appointment is the appointment half of the consultation record.
type Appointment struct {
	Type          ConsultationType `json:"type"`
	Location      string           `json:"location"`
	Date          string           `json:"date"`
	Time          string           `json:"time"`
	Doctor        string           `json:"doctor"`
	MobileNumber  string           `json:"mobileNumber"`
	PaymentLink   string           `json:"paymentLink"`
	BookingID     string           `json:"bookingId"`
	Status        string           `json:"status"`
	StartDateTime string           `json:"startDateTime"`
}

// Record is the consultation aggregate for one call.
type Record struct {
	Symptoms         []Symptom    `json:"symptoms"`
	AssessmentStatus string       `json:"assessmentStatus"`
	Appointment      *Appointment `json:"appointment,omitempty"`
}

// NewRecord returns the empty record a call starts with.
func NewRecord() Record {
	return Record{Symptoms: []Symptom{}, AssessmentStatus: StatusNotStarted}
}

// Payment is the dedicated payment sub-state. Values here outrank any payment
// fields carried inside consultation-update payloads.
type Payment struct {
	ShortURL    string `json:"shortUrl"`
	ReferenceID string `json:"referenceId"`
}

// IsZero reports whether no payment data has been observed.
func (p Payment) IsZero() bool {
	return !present(p.ShortURL) && !present(p.ReferenceID)
}

// State bundles both merge sources the reducer works over.
type State struct {
	Record  Record  `json:"record"`
	Payment Payment `json:"payment"`
}

// NewState returns the initial state for a fresh call.
func NewState() State {
	return State{Record: NewRecord()}
}

// AppointmentPatch is a partial appointment. Empty strings (and a literal
// "TBD") mean "not supplied".
type AppointmentPatch struct {
	Type          string
	Location      string
	Date          string
	Time          string
	Doctor        string
	MobileNumber  string
	PaymentLink   string
	BookingID     string
	Status        string
	StartDateTime string
}

// Update is one partial change to the record. A nil Symptoms slice means the
// update carries no symptom data; a non-nil empty slice clears the list.
type Update struct {
	Symptoms         []Symptom
	AssessmentStatus string
	Appointment      *AppointmentPatch
	Payment          *Payment
	MobileNumber     string
}

// present reports whether s is an actual value rather than a placeholder.
func present(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && !strings.EqualFold(s, TBD)
}

// firstPresent returns the first real value, or TBD.
func firstPresent(values ...string) string {
	for _, v := range values {
		if present(v) {
			return strings.TrimSpace(v)
		}
	}
	return TBD
}
