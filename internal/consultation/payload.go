package consultation

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Strategy is one named way of pulling a JSON object out of free text.
type Strategy struct {
	Name    string
	Extract func(text string) (map[string]any, bool)
}

var (
	backtickPattern   = regexp.MustCompile("`\\s*(\\{[\\s\\S]*?\\})\\s*`")
	toolResultPattern = regexp.MustCompile(`(?i)tool\s*result[\s\S]*?(\{[\s\S]*\})`)
)

// DefaultStrategies is the ordered fallback chain used by ExtractJSON.
var DefaultStrategies = []Strategy{
	{Name: "braces", Extract: outermostBraces},
	{Name: "backticks", Extract: backtickObject},
	{Name: "tool_result_marker", Extract: toolResultObject},
	{Name: "success_key", Extract: objectWithKey("success")},
	{Name: "appointment_info_key", Extract: objectWithKey("appointmentInfo")},
	{Name: "python_literal", Extract: pythonLiteral},
}

// ExtractJSON runs DefaultStrategies in order and returns the first object
// that parses, plus the name of the strategy that produced it.
func ExtractJSON(text string) (map[string]any, string, bool) {
	return ExtractJSONWith(DefaultStrategies, text)
}

// ExtractJSONWith is ExtractJSON over a caller-supplied chain.
func ExtractJSONWith(strategies []Strategy, text string) (map[string]any, string, bool) {
	if !strings.Contains(text, "{") {
		return nil, "", false
	}
	for _, s := range strategies {
		if obj, ok := s.Extract(text); ok {
			return obj, s.Name, true
		}
	}
	return nil, "", false
}

func decodeObject(raw string) (map[string]any, bool) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, false
	}
	return obj, obj != nil
}

func outermostBraces(text string) (map[string]any, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return nil, false
	}
	return decodeObject(text[start : end+1])
}

func backtickObject(text string) (map[string]any, bool) {
	for _, m := range backtickPattern.FindAllStringSubmatch(text, -1) {
		if obj, ok := decodeObject(m[1]); ok {
			return obj, true
		}
	}
	return nil, false
}

func toolResultObject(text string) (map[string]any, bool) {
	m := toolResultPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	if obj, ok := decodeObject(m[1]); ok {
		return obj, true
	}
	// The greedy match may swallow trailing objects; retry on the balanced prefix.
	if span, ok := balancedObject(m[1], 0); ok {
		return decodeObject(span)
	}
	return nil, false
}

// objectWithKey finds the smallest balanced object that contains the quoted
// key, walking outward from the key's position.
func objectWithKey(key string) func(string) (map[string]any, bool) {
	quoted := `"` + key + `"`
	return func(text string) (map[string]any, bool) {
		idx := strings.Index(text, quoted)
		if idx == -1 {
			return nil, false
		}
		for open := strings.LastIndex(text[:idx], "{"); open >= 0; open = strings.LastIndex(text[:open], "{") {
			span, ok := balancedObject(text, open)
			if !ok || open+len(span) <= idx {
				continue
			}
			if obj, ok := decodeObject(span); ok {
				if _, has := obj[key]; has {
					return obj, true
				}
			}
		}
		return nil, false
	}
}

var pythonReplacer = strings.NewReplacer("'", `"`, "True", "true", "False", "false", "None", "null")

// pythonLiteral handles dict reprs such as args={'selected_day': 'monday'}.
func pythonLiteral(text string) (map[string]any, bool) {
	start := strings.Index(text, "{")
	if start == -1 {
		return nil, false
	}
	span, ok := balancedObject(text, start)
	if !ok {
		return nil, false
	}
	return decodeObject(pythonReplacer.Replace(span))
}

// balancedObject returns the object literal starting at text[open], honoring
// string quoting so braces inside strings do not count.
func balancedObject(text string, open int) (string, bool) {
	if open < 0 || open >= len(text) || text[open] != '{' {
		return "", false
	}
	depth := 0
	var quote byte
	escaped := false
	for i := open; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[open : i+1], true
			}
		}
	}
	return "", false
}

// decodeNested re-decodes a value that upstream double-encoded as a JSON
// string, e.g. {"result": "{\"success\": true}"}.
func decodeNested(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case string:
		return decodeObject(t)
	default:
		return nil, false
	}
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// asString renders scalars the way the agent tends to mean them: numbers
// without trailing zeros, booleans as words.
func asString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		b, _ := json.Marshal(t)
		return string(b)
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s == "true" || s == "yes" || s == "ok"
	case float64:
		return t != 0
	default:
		return false
	}
}

// stringField returns the first non-empty string among the given keys.
func stringField(m map[string]any, keys ...string) string {
	if m == nil {
		return ""
	}
	for _, k := range keys {
		if s := asString(m[k]); s != "" {
			return s
		}
	}
	return ""
}
