package consultation

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Kind discriminates classified debug messages.
type Kind string

const (
	KindConversation   Kind = "conversation"
	KindToolInvocation Kind = "tool_invocation"
	KindToolResult     Kind = "tool_result"
	KindNoise          Kind = "noise"
)

// Tool names the agent runtime is configured with.
const (
	ToolUpdateConsultation = "updateConsultation"
	ToolUpdateAssessment   = "updateAssessment"
	ToolFetchSlots         = "fetchSlots"
	ToolBookAppointment    = "bookAppointment"
)

// KnownTools lists every tool literal the classifier looks for.
var KnownTools = []string{
	ToolBookAppointment,
	ToolFetchSlots,
	ToolUpdateConsultation,
	ToolUpdateAssessment,
}

// diagnosticMarkers identify agent-runtime chatter that is not meant for the
// patient transcript.
var diagnosticMarkers = []string{"Tool calls:", "FunctionCall", "invocation_id"}

// Classified is the classifier's output for one raw debug message.
type Classified struct {
	Kind     Kind
	Tool     string
	JSON     map[string]any
	Strategy string
	Text     string
}

// IsTool reports whether the message concerns a tool call at all.
func (c Classified) IsTool() bool {
	return c.Kind == KindToolInvocation || c.Kind == KindToolResult
}

// Classify inspects one raw debug message. A tool literal plus an object
// literal is a tool result (the JSON may still be nil when nothing parses);
// a tool literal without one is an invocation notice.
func Classify(raw string) Classified {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Classified{Kind: KindNoise}
	}

	tool := detectTool(text)
	if tool == "" {
		return Classified{Kind: KindConversation, Text: text}
	}

	c := Classified{Tool: tool, Text: text}
	if !strings.Contains(text, "{") {
		c.Kind = KindToolInvocation
		return c
	}

	c.Kind = KindToolResult
	if obj, strategy, ok := ExtractJSON(text); ok {
		c.JSON = obj
		c.Strategy = strategy
	}
	return c
}

// detectTool returns the tool literal that appears earliest in text.
func detectTool(text string) string {
	best, bestIdx := "", -1
	for _, tool := range KnownTools {
		idx := strings.Index(text, tool)
		if idx == -1 {
			continue
		}
		if bestIdx == -1 || idx < bestIdx {
			best, bestIdx = tool, idx
		}
	}
	return best
}

// IsDiagnostic reports whether a message carries agent-runtime markers and
// should be hidden from the patient-facing transcript.
func IsDiagnostic(text string) bool {
	for _, marker := range diagnosticMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// Fingerprint identifies a message for last-message deduplication.
func Fingerprint(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
