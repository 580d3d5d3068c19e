package archive

import (
	"context"
	"strings"

	"github.com/wolfman30/physio-voice-booking/internal/consultation"
	"github.com/wolfman30/physio-voice-booking/internal/session"
	"github.com/wolfman30/physio-voice-booking/pkg/logging"
)

// Archiver turns call.ended events into archived call records.
type Archiver struct {
	store  *Store
	logger *logging.Logger
}

// NewArchiver returns nil if store is not enabled.
func NewArchiver(store *Store, logger *logging.Logger) *Archiver {
	if store == nil || !store.Enabled() {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Archiver{store: store, logger: logger}
}

// Handle archives the transcript carried by a call.ended event.
func (a *Archiver) Handle(ctx context.Context, evt session.Event) error {
	if a == nil || evt.Type != session.EventCallEnded {
		return nil
	}
	payload, ok := evt.Payload.(session.CallEndedPayload)
	if !ok {
		return nil
	}
	return a.store.ArchiveCall(ctx, BuildRecord(evt.SessionID, evt.Epoch, payload))
}

// BuildRecord converts a call.ended payload into a scrubbed call record.
func BuildRecord(sessionID string, epoch uint64, p session.CallEndedPayload) *CallRecord {
	turns := make([]Turn, 0, len(p.Transcript))
	for _, entry := range p.Transcript {
		turns = append(turns, Turn{
			Speaker:   entry.Speaker,
			Text:      entry.Text,
			Synthetic: entry.Synthetic,
			Timestamp: entry.At,
		})
	}
	ScrubTurns(turns)

	record := &CallRecord{
		Version:   RecordVersion,
		SessionID: sessionID,
		Epoch:     epoch,
		StartedAt: p.StartedAt,
		EndedAt:   p.EndedAt,
		TurnCount: len(turns),
		Outcome:   outcomeOf(p.Record),
		Summary:   summarize(p.Record),
		Turns:     turns,
	}
	if p.Mobile != "" {
		record.PhoneHash = HashPhone(p.Mobile)
	}
	if !p.StartedAt.IsZero() && p.EndedAt.After(p.StartedAt) {
		record.DurationSeconds = int(p.EndedAt.Sub(p.StartedAt).Seconds())
	}
	return record
}

func outcomeOf(r consultation.Record) string {
	if r.Appointment != nil && supplied(r.Appointment.BookingID) {
		return OutcomeBooked
	}
	if len(r.Symptoms) > 0 || (r.AssessmentStatus != "" && r.AssessmentStatus != consultation.StatusNotStarted) {
		return OutcomeAssessed
	}
	return OutcomeAbandoned
}

func summarize(r consultation.Record) CallSummary {
	out := CallSummary{AssessmentStatus: r.AssessmentStatus}
	for _, s := range r.Symptoms {
		out.Symptoms = append(out.Symptoms, s.Symptom)
	}
	if a := r.Appointment; a != nil {
		if a.Type != consultation.TypeTBD {
			out.ConsultationType = string(a.Type)
		}
		if supplied(a.Location) {
			out.Location = a.Location
		}
		if supplied(a.BookingID) {
			out.BookingID = a.BookingID
		}
	}
	return out
}

func supplied(v string) bool {
	v = strings.TrimSpace(v)
	return v != "" && !strings.EqualFold(v, consultation.TBD)
}
