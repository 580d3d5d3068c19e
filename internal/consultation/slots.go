package consultation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// SlotUpdate carries slots offered for a day/week.
type SlotUpdate struct {
	Day   string   `json:"day,omitempty"`
	Week  string   `json:"week,omitempty"`
	Slots []string `json:"slots"`
}

var (
	slotParamsPattern  = regexp.MustCompile(`week_selection=([^,&\s)]+)[,&\s]+selected_day=([^,&\s)]+)`)
	slotArgsPattern    = regexp.MustCompile(`args=(\{[^}]+\})`)
	slotsOnDayPattern  = regexp.MustCompile(`(?i)slots\s+available\s+on\s+(\w+)`)
	slotListPattern    = regexp.MustCompile(`(?i)time slots?(?:[^\n]*?[^\d\n])?:(.+?)(?:\?|\.\s|\.$|\n|$)`)
	slotTokenPattern   = regexp.MustCompile(`\d{1,2}(?::\d{2})?(?:\s*-\s*\d{1,2}(?::\d{2})?)?\s*[aApP]\.?[mM]\.?`)
	slotRangePattern   = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*-\s*(\d{1,2})(?::(\d{2}))?\s*([aApP])\.?[mM]\.?$`)
	slotBarePattern    = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*([aApP])\.?[mM]\.?$`)
	clock24Pattern     = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?(?::\d{2})?$`)
	slotListSeparator  = regexp.MustCompile(`(?i)\s*(?:,|\band\b|\bor\b)\s*`)
	slotTextCueMarkers = []string{"slots available", "time slot"}
)

// ExtractSlots reads offered slots from a fetchSlots invocation/result, or
// from any tool message that carries slot cues or a slots array. It never
// fires for plain conversation turns.
func ExtractSlots(c Classified) *SlotUpdate {
	if !c.IsTool() {
		return nil
	}
	payload := slotPayload(c.JSON)
	lower := strings.ToLower(c.Text)
	cued := false
	for _, cue := range slotTextCueMarkers {
		if strings.Contains(lower, cue) {
			cued = true
			break
		}
	}
	if c.Tool != ToolFetchSlots && !cued && payload["slots"] == nil {
		return nil
	}

	u := &SlotUpdate{Slots: []string{}}
	u.Week, u.Day = slotParams(c.Text, payload)

	if raw, ok := payload["slots"].([]any); ok {
		for _, item := range raw {
			if label := slotLabel(item); label != "" {
				u.Slots = append(u.Slots, NormalizeSlot(label))
			}
		}
	} else if cued {
		if text := SlotsFromText(c.Text); text != nil {
			u.Slots = text.Slots
			if u.Day == "" {
				u.Day, u.Week = text.Day, text.Week
			}
		}
	}

	if u.Day == "" && u.Week == "" && len(u.Slots) == 0 {
		return nil
	}
	return u
}

// SlotsFromText parses an agent sentence such as "We have time slots
// available on Monday: 9AM, 10-11 AM". Returns nil when no slot is named.
func SlotsFromText(text string) *SlotUpdate {
	u := &SlotUpdate{Slots: []string{}}
	if m := slotsOnDayPattern.FindStringSubmatch(text); m != nil {
		u.Day = strings.ToLower(m[1])
		u.Week = "this week"
		if strings.Contains(strings.ToLower(text), "next week") {
			u.Week = "next week"
		}
	}

	if m := slotListPattern.FindStringSubmatch(text); m != nil {
		for _, part := range slotListSeparator.Split(m[1], -1) {
			if tok := slotTokenPattern.FindString(part); validSlotToken(tok) {
				u.Slots = append(u.Slots, NormalizeSlot(tok))
			}
		}
	}
	if len(u.Slots) == 0 {
		for _, tok := range slotTokenPattern.FindAllString(text, -1) {
			if validSlotToken(tok) {
				u.Slots = append(u.Slots, NormalizeSlot(tok))
			}
		}
	}
	if len(u.Slots) == 0 {
		return nil
	}
	return u
}

// validSlotToken reports whether every hour in a 12-hour token lies in 1-12.
// A fragment such as "00 PM" cut from "4:00 PM" fails.
func validSlotToken(tok string) bool {
	if tok == "" {
		return false
	}
	m := slotRangePattern.FindStringSubmatch(tok)
	hours := []string{}
	if m != nil {
		hours = append(hours, m[1], m[3])
	} else if m = slotBarePattern.FindStringSubmatch(tok); m != nil {
		hours = append(hours, m[1])
	} else {
		return false
	}
	for _, raw := range hours {
		if h, err := strconv.Atoi(raw); err != nil || h < 1 || h > 12 {
			return false
		}
	}
	return true
}

// slotPayload returns the object holding slot data, unwrapping a
// double-encoded "result" field when present.
func slotPayload(root map[string]any) map[string]any {
	if root == nil {
		return map[string]any{}
	}
	if inner, ok := decodeNested(root["result"]); ok {
		if _, has := inner["slots"]; has {
			return inner
		}
	}
	if inner := asMap(root["args"]); inner != nil {
		merged := map[string]any{}
		for k, v := range inner {
			merged[k] = v
		}
		for k, v := range root {
			merged[k] = v
		}
		return merged
	}
	return root
}

func slotParams(text string, payload map[string]any) (week, day string) {
	if m := slotParamsPattern.FindStringSubmatch(text); m != nil {
		week = strings.Trim(m[1], `"'`)
		day = strings.Trim(m[2], `"'`)
	}
	if week == "" || day == "" {
		if m := slotArgsPattern.FindStringSubmatch(text); m != nil {
			if args, ok := decodeObject(m[1]); ok {
				payload = args
			} else if args, ok := decodeObject(pythonReplacer.Replace(m[1])); ok {
				payload = args
			}
		}
		if week == "" {
			week = stringField(payload, "week_selection", "week")
		}
		if day == "" {
			day = stringField(payload, "selected_day", "day")
		}
	}
	week = strings.ReplaceAll(strings.ToLower(week), "_", " ")
	return week, strings.ToLower(day)
}

func slotLabel(item any) string {
	if s := asString(item); s != "" {
		return s
	}
	return stringField(asMap(item), "slot", "time", "label", "start_time")
}

// NormalizeSlot renders a slot label as an hour range: "9AM" -> "9-10 AM",
// "11AM" -> "11-12 PM", "11PM" -> "11-12 AM", "14:00" -> "2-3 PM".
// Labels it does not recognise are returned trimmed.
func NormalizeSlot(label string) string {
	s := strings.TrimSpace(label)
	if m := slotRangePattern.FindStringSubmatch(s); m != nil {
		return fmt.Sprintf("%s-%s %s", clock(m[1], m[2]), clock(m[3], m[4]), meridiem(m[5]))
	}
	if m := slotBarePattern.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		if h < 1 || h > 12 {
			return s
		}
		h24 := h % 12
		if meridiem(m[3]) == "PM" {
			h24 += 12
		}
		return hourRange(h24, m[2])
	}
	if m := clock24Pattern.FindStringSubmatch(s); m != nil && strings.Contains(s, ":") {
		h, _ := strconv.Atoi(m[1])
		if h > 23 {
			return s
		}
		return hourRange(h, m[2])
	}
	return s
}

// HourRange renders a 24-hour clock hour as a one-hour display range.
func HourRange(hour24 int) string {
	return hourRange(hour24, "")
}

func hourRange(hour24 int, minutes string) string {
	hour24 = ((hour24 % 24) + 24) % 24
	start := hour24 % 12
	if start == 0 {
		start = 12
	}
	end := start%12 + 1
	mer := "AM"
	if hour24 >= 12 {
		mer = "PM"
	}
	// The range takes the meridiem of its end: 11 AM runs into noon.
	if start == 11 {
		if mer == "AM" {
			mer = "PM"
		} else {
			mer = "AM"
		}
	}
	if minutes != "" && minutes != "00" {
		return fmt.Sprintf("%d:%s-%d:%s %s", start, minutes, end, minutes, mer)
	}
	return fmt.Sprintf("%d-%d %s", start, end, mer)
}

func clock(hour, minutes string) string {
	h := strings.TrimLeft(hour, "0")
	if h == "" {
		h = "0"
	}
	if minutes != "" && minutes != "00" {
		return h + ":" + minutes
	}
	return h
}

func meridiem(letter string) string {
	if strings.EqualFold(letter, "p") {
		return "PM"
	}
	return "AM"
}
