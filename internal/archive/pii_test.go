package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHashPhone(t *testing.T) {
	h1 := HashPhone("9876543210")
	h2 := HashPhone("9876543210")
	h3 := HashPhone("9123456780")

	assert.Equal(t, h1, h2, "same input should produce same hash")
	assert.NotEqual(t, h1, h3, "different input should produce different hash")
	assert.Len(t, h1, 64, "SHA-256 hex should be 64 chars")
}

func TestScrubPII(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect string
	}{
		{"email", "contact me at ravi@example.com please", "contact me at [EMAIL] please"},
		{"mobile", "my number is 9876543210", "my number is [PHONE]"},
		{"mobile with country code", "call +91 9876543210 now", "call [PHONE] now"},
		{"spaced mobile", "it is 98765 43210", "it is [PHONE]"},
		{"both", "email: a@b.com phone: 9876543210", "email: [EMAIL] phone: [PHONE]"},
		{"slot time kept", "the 10:00 AM - 11:00 AM slot", "the 10:00 AM - 11:00 AM slot"},
		{"name kept", "My name is Priya Nair", "My name is Priya Nair"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, ScrubPII(tt.input))
		})
	}
}

func TestScrubTurns(t *testing.T) {
	turns := []Turn{
		{Speaker: "user", Text: "my email is test@test.com", Timestamp: time.Now()},
		{Speaker: "agent", Text: "Got it!", Timestamp: time.Now()},
	}
	ScrubTurns(turns)
	assert.Equal(t, "my email is [EMAIL]", turns[0].Text)
	assert.Equal(t, "Got it!", turns[1].Text)
}
