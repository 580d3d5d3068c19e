package consultation

import "context"

// Extractor names used for metrics and logs.
const (
	ExtractorSlots        = "slots"
	ExtractorBooking      = "booking_result"
	ExtractorConsultation = "consultation_update"
)

// Observer receives classification and extraction outcomes. The metrics
// package provides the production implementation.
type Observer interface {
	ObserveClassified(kind, tool string)
	ObserveExtraction(extractor string, ok bool)
}

// Interpretation is everything one debug message contributed.
type Interpretation struct {
	Message      Classified
	Slots        *SlotUpdate
	Booking      *BookingResult
	Consultation *Update
}

// Updates returns the record updates in application order.
func (i Interpretation) Updates() []Update {
	var out []Update
	if i.Booking != nil {
		out = append(out, i.Booking.Update())
	}
	if i.Consultation != nil {
		out = append(out, *i.Consultation)
	}
	return out
}

// Interpreter runs classify -> extract for one message. It holds no per-call
// state; callers own the record and the dedup memo.
type Interpreter struct {
	events   *EventLogger
	observer Observer
}

// NewInterpreter creates an interpreter. Both arguments may be nil.
func NewInterpreter(events *EventLogger, observer Observer) *Interpreter {
	return &Interpreter{events: events, observer: observer}
}

// Interpret classifies raw and runs whichever extractors apply. Conversation
// and noise messages never reach an extractor.
func (in *Interpreter) Interpret(ctx context.Context, sessionID string, epoch uint64, raw string) Interpretation {
	c := Classify(raw)
	in.events.MessageClassified(ctx, sessionID, epoch, c)
	in.observeClassified(c)

	out := Interpretation{Message: c}
	if !c.IsTool() {
		return out
	}
	if c.Kind == KindToolResult && c.JSON == nil {
		in.events.ParseFailed(ctx, sessionID, epoch, c.Tool, c.Text)
	}

	out.Slots = ExtractSlots(c)
	in.observeExtraction(ExtractorSlots, c.Tool == ToolFetchSlots, out.Slots != nil)
	if out.Slots != nil {
		in.events.SlotsExtracted(ctx, sessionID, epoch, out.Slots)
	}

	out.Booking = ExtractBookingResult(c)
	in.observeExtraction(ExtractorBooking, c.Tool == ToolBookAppointment && c.Kind == KindToolResult, out.Booking != nil)
	if out.Booking != nil {
		in.events.BookingResultExtracted(ctx, sessionID, epoch, out.Booking)
	}

	out.Consultation = ExtractConsultationUpdate(c)
	isConsultationTool := c.Tool == ToolUpdateConsultation || c.Tool == ToolUpdateAssessment
	in.observeExtraction(ExtractorConsultation, isConsultationTool && c.Kind == KindToolResult, out.Consultation != nil)
	if out.Consultation != nil {
		in.events.ConsultationUpdated(ctx, sessionID, epoch, out.Consultation)
	}
	return out
}

func (in *Interpreter) observeClassified(c Classified) {
	if in.observer == nil {
		return
	}
	in.observer.ObserveClassified(string(c.Kind), c.Tool)
}

// observeExtraction records an outcome only when the extractor was expected
// to produce something, so misses measure real parse failures.
func (in *Interpreter) observeExtraction(extractor string, expected, ok bool) {
	if in.observer == nil || (!expected && !ok) {
		return
	}
	in.observer.ObserveExtraction(extractor, ok)
}
