package bookingflow

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Action is what a matched cue asks the controller to do.
type Action string

const (
	ActionSetOnline   Action = "set_online"
	ActionSetInPerson Action = "set_in_person"
	ActionAskCity     Action = "ask_city"
	ActionAskCenter   Action = "ask_center"
	ActionAskWeekDay  Action = "ask_week_day"
	ActionSlotsShown  Action = "slots_shown"
	ActionAskName     Action = "ask_name"
	ActionBooked      Action = "booked"
)

var knownActions = map[Action]bool{
	ActionSetOnline:   true,
	ActionSetInPerson: true,
	ActionAskCity:     true,
	ActionAskCenter:   true,
	ActionAskWeekDay:  true,
	ActionSlotsShown:  true,
	ActionAskName:     true,
	ActionBooked:      true,
}

// Cue maps a literal phrase in an agent message to an action. When States is
// non-empty the cue only applies while the controller is in one of them.
type Cue struct {
	Phrase string  `json:"phrase"`
	Action Action  `json:"action"`
	States []State `json:"states,omitempty"`
}

// CueTable is the ordered list of cue phrases. Agent phrasing is not a
// contract, so the table is configuration and can be replaced from a file.
type CueTable struct {
	Cues []Cue `json:"cues"`
}

// DefaultCues returns the built-in phrases.
func DefaultCues() CueTable {
	return CueTable{Cues: []Cue{
		{Phrase: "an online consultation", Action: ActionSetOnline, States: []State{StateAwaitingMode}},
		{Phrase: "a video consultation", Action: ActionSetOnline, States: []State{StateAwaitingMode}},
		{Phrase: "an in-person consultation", Action: ActionSetInPerson, States: []State{StateAwaitingMode}},
		{Phrase: "an in person consultation", Action: ActionSetInPerson, States: []State{StateAwaitingMode}},
		{Phrase: "which city", Action: ActionAskCity},
		{Phrase: "preferred city", Action: ActionAskCity},
		{Phrase: "bangalore or hyderabad", Action: ActionAskCity},
		{Phrase: "which center", Action: ActionAskCenter},
		{Phrase: "which centre", Action: ActionAskCenter},
		{Phrase: "preferred center", Action: ActionAskCenter},
		{Phrase: "which day", Action: ActionAskWeekDay},
		{Phrase: "preferred day", Action: ActionAskWeekDay},
		{Phrase: "this week or next week", Action: ActionAskWeekDay},
		{Phrase: "slots available", Action: ActionSlotsShown},
		{Phrase: "time slot", Action: ActionSlotsShown},
		{Phrase: "your full name", Action: ActionAskName},
		{Phrase: "your name", Action: ActionAskName},
		{Phrase: "consultation has been booked", Action: ActionBooked},
		{Phrase: "appointment has been booked", Action: ActionBooked},
	}}
}

// LoadCueTable reads a JSON cue table from path. An empty path yields the
// defaults.
func LoadCueTable(path string) (CueTable, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCues(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return CueTable{}, fmt.Errorf("bookingflow: read cues: %w", err)
	}
	var table CueTable
	if err := json.Unmarshal(raw, &table); err != nil {
		return CueTable{}, fmt.Errorf("bookingflow: decode cues: %w", err)
	}
	if err := table.Validate(); err != nil {
		return CueTable{}, err
	}
	return table, nil
}

// Validate rejects empty phrases and unknown actions or states.
func (t CueTable) Validate() error {
	if len(t.Cues) == 0 {
		return fmt.Errorf("bookingflow: cue table is empty")
	}
	for i, cue := range t.Cues {
		if strings.TrimSpace(cue.Phrase) == "" {
			return fmt.Errorf("bookingflow: cue %d: empty phrase", i)
		}
		if !knownActions[cue.Action] {
			return fmt.Errorf("bookingflow: cue %d: unknown action %q", i, cue.Action)
		}
		for _, s := range cue.States {
			if !s.valid() {
				return fmt.Errorf("bookingflow: cue %d: unknown state %q", i, s)
			}
		}
	}
	return nil
}

// Match returns the actions whose phrase appears in text while in state,
// in table order and without duplicates.
func (t CueTable) Match(state State, text string) []Action {
	lower := strings.ToLower(text)
	seen := map[Action]bool{}
	var out []Action
	for _, cue := range t.Cues {
		if seen[cue.Action] || !cue.appliesIn(state) {
			continue
		}
		if strings.Contains(lower, strings.ToLower(cue.Phrase)) {
			seen[cue.Action] = true
			out = append(out, cue.Action)
		}
	}
	return out
}

func (c Cue) appliesIn(state State) bool {
	if len(c.States) == 0 {
		return true
	}
	for _, s := range c.States {
		if s == state {
			return true
		}
	}
	return false
}
