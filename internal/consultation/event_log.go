package consultation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wolfman30/physio-voice-booking/pkg/logging"
)

// Event is one structured interpretation/booking-flow decision.
// All events share the same base fields for easy filtering/grep.
type Event struct {
	Time      string         `json:"time"`
	Event     string         `json:"event"`
	SessionID string         `json:"session_id"`
	Epoch     uint64         `json:"epoch"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventLogger emits one JSON line per decision point:
//
//	grep '"event":"booking_result_extracted"' /var/log/app.log
//	grep '"session_id":"9d2c..."' /var/log/app.log
type EventLogger struct {
	logger *logging.Logger
}

// NewEventLogger creates an event logger.
func NewEventLogger(logger *logging.Logger) *EventLogger {
	return &EventLogger{logger: logger}
}

// Log emits a structured event.
func (e *EventLogger) Log(_ context.Context, event, sessionID string, epoch uint64, data map[string]any) {
	if e == nil || e.logger == nil {
		return
	}
	evt := Event{
		Time:      time.Now().UTC().Format(time.RFC3339Nano),
		Event:     event,
		SessionID: sessionID,
		Epoch:     epoch,
		Data:      data,
	}
	b, _ := json.Marshal(evt)
	e.logger.Info(string(b))
}

func (e *EventLogger) CallStarted(ctx context.Context, sessionID string, epoch uint64, mobile string) {
	e.Log(ctx, "call_started", sessionID, epoch, map[string]any{
		"mobile_suffix": suffix(mobile, 4),
	})
}

func (e *EventLogger) MessageClassified(ctx context.Context, sessionID string, epoch uint64, c Classified) {
	e.Log(ctx, "message_classified", sessionID, epoch, map[string]any{
		"kind":     string(c.Kind),
		"tool":     c.Tool,
		"strategy": c.Strategy,
		"has_json": c.JSON != nil,
	})
}

func (e *EventLogger) DuplicateSkipped(ctx context.Context, sessionID string, epoch uint64) {
	e.Log(ctx, "duplicate_skipped", sessionID, epoch, nil)
}

func (e *EventLogger) ParseFailed(ctx context.Context, sessionID string, epoch uint64, tool string, preview string) {
	// Truncate message for logging
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	e.Log(ctx, "parse_failed", sessionID, epoch, map[string]any{
		"tool":    tool,
		"preview": preview,
	})
}

func (e *EventLogger) SlotsExtracted(ctx context.Context, sessionID string, epoch uint64, u *SlotUpdate) {
	e.Log(ctx, "slots_extracted", sessionID, epoch, map[string]any{
		"day":        u.Day,
		"week":       u.Week,
		"slot_count": len(u.Slots),
	})
}

func (e *EventLogger) BookingResultExtracted(ctx context.Context, sessionID string, epoch uint64, b *BookingResult) {
	e.Log(ctx, "booking_result_extracted", sessionID, epoch, map[string]any{
		"shape":        b.Shape,
		"doctor":       b.Appointment.Doctor,
		"has_link":     b.Payment.ShortURL != "",
		"reference_id": b.Payment.ReferenceID,
	})
}

func (e *EventLogger) ConsultationUpdated(ctx context.Context, sessionID string, epoch uint64, u *Update) {
	e.Log(ctx, "consultation_updated", sessionID, epoch, map[string]any{
		"symptom_count":     len(u.Symptoms),
		"assessment_status": u.AssessmentStatus,
		"has_appointment":   u.Appointment != nil,
	})
}

func (e *EventLogger) FlowTransitioned(ctx context.Context, sessionID string, epoch uint64, from, to, trigger string) {
	e.Log(ctx, "flow_transitioned", sessionID, epoch, map[string]any{
		"from":    from,
		"to":      to,
		"trigger": trigger,
	})
}

func (e *EventLogger) SelectionMade(ctx context.Context, sessionID string, epoch uint64, kind, value string) {
	e.Log(ctx, "selection_made", sessionID, epoch, map[string]any{
		"kind":  kind,
		"value": value,
	})
}

func (e *EventLogger) StaleResultDropped(ctx context.Context, sessionID string, current, captured uint64, source string) {
	e.Log(ctx, "stale_result_dropped", sessionID, current, map[string]any{
		"captured_epoch": captured,
		"source":         source,
	})
}

func (e *EventLogger) ErrorOccurred(ctx context.Context, sessionID string, epoch uint64, step string, err error) {
	e.Log(ctx, "error", sessionID, epoch, map[string]any{
		"step":  step,
		"error": err.Error(),
	})
}

func suffix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
