package bookingflow

import (
	"regexp"
	"strings"
)

// DefaultCenter is the campus used when the patient does not name one.
const DefaultCenter = "Indiranagar"

var mobilePattern = regexp.MustCompile(`^\d{10}$`)

// Centers lists the in-person centers offered per city.
var Centers = map[string][]string{
	"Bangalore": {"Indiranagar", "Koramangala", "Whitefield", "HSR Layout", "JP Nagar"},
	"Hyderabad": {"Jubilee Hills", "Gachibowli", "Kondapur"},
}

// Weeks and Days are the week/day popup options.
var (
	Weeks = []string{"this week", "next week"}
	Days  = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}
)

// Cities returns the supported cities in display order.
func Cities() []string {
	return []string{"Bangalore", "Hyderabad"}
}

// ValidMobile reports whether number is a ten digit mobile number.
func ValidMobile(number string) bool {
	return mobilePattern.MatchString(number)
}

// canonical returns the option matching value, ignoring case, underscores
// and surrounding whitespace.
func canonical(options []string, value string) (string, bool) {
	key := optionKey(value)
	if key == "" {
		return "", false
	}
	for _, opt := range options {
		if optionKey(opt) == key {
			return opt, true
		}
	}
	return "", false
}

func optionKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "_", " ")), " ")
}
