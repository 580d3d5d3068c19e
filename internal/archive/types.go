package archive

import "time"

// RecordVersion is the schema version stamped on archived calls.
const RecordVersion = "1.0"

// Call outcomes.
const (
	OutcomeBooked    = "booked"
	OutcomeAssessed  = "assessed"
	OutcomeAbandoned = "abandoned"
)

// CallRecord is the archived form of one finished call.
type CallRecord struct {
	Version         string      `json:"version"`
	SessionID       string      `json:"session_id"`
	Epoch           uint64      `json:"epoch"`
	PhoneHash       string      `json:"phone_hash"`
	StartedAt       time.Time   `json:"started_at"`
	EndedAt         time.Time   `json:"ended_at"`
	DurationSeconds int         `json:"duration_seconds"`
	TurnCount       int         `json:"turn_count"`
	Outcome         string      `json:"outcome"`
	Summary         CallSummary `json:"summary"`
	Turns           []Turn      `json:"turns"`
}

// CallSummary carries the consultation fields useful for review.
type CallSummary struct {
	Symptoms         []string `json:"symptoms,omitempty"`
	AssessmentStatus string   `json:"assessment_status"`
	ConsultationType string   `json:"consultation_type,omitempty"`
	Location         string   `json:"location,omitempty"`
	BookingID        string   `json:"booking_id,omitempty"`
}

// Turn is a single transcript line.
type Turn struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Synthetic bool      `json:"synthetic,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	SessionID  string `json:"session_id"`
	Epoch      uint64 `json:"epoch"`
	S3Key      string `json:"s3_key"`
	Outcome    string `json:"outcome"`
	ArchivedAt string `json:"archived_at"`
	TurnCount  int    `json:"turn_count"`
}
