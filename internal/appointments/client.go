// Package appointments reads a patient's upcoming appointments from the
// scheduling backend.
package appointments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/physio-voice-booking/pkg/logging"
)

const (
	defaultBaseURL = "https://api-dev.physiotattva247.com"
	defaultTimeout = 10 * time.Second
)

// Appointment is one upcoming appointment as the backend reports it.
type Appointment struct {
	ID               string `json:"id"`
	StartDateTime    string `json:"startDateTime"`
	EndDateTime      string `json:"endDateTime"`
	Doctor           string `json:"doctor"`
	ConsultationType string `json:"consultationType"`
	Status           string `json:"status"`
	Campus           string `json:"campus"`
	PatientName      string `json:"patientName"`
	CallerName       string `json:"callerName"`
}

// UnmarshalJSON accepts numeric or string ids.
func (a *Appointment) UnmarshalJSON(data []byte) error {
	type alias Appointment
	var raw struct {
		alias
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = Appointment(raw.alias)
	a.ID = strings.Trim(strings.TrimSpace(string(raw.ID)), `"`)
	if a.ID == "null" {
		a.ID = ""
	}
	return nil
}

// Client calls GET /upcoming-appointments/{phone}.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userID     int
	logger     *logging.Logger
	tracer     trace.Tracer
}

// NewClient constructs a client. Zero values fall back to defaults.
func NewClient(baseURL string, userID int, timeout time.Duration, logger *logging.Logger) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	if userID <= 0 {
		userID = 1
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		userID:     userID,
		logger:     logger,
		tracer:     otel.Tracer("physio.internal.appointments"),
	}
}

// Upcoming lists the appointments booked for mobile. The backend returns
// either a single object or an array under "appointment". On any failure
// the list is empty and the error says why.
func (c *Client) Upcoming(ctx context.Context, mobile string) ([]Appointment, error) {
	ctx, span := c.tracer.Start(ctx, "appointments.upcoming")
	defer span.End()

	endpoint := fmt.Sprintf("%s/upcoming-appointments/%s?user_id=%s",
		c.baseURL, url.PathEscape(mobile), strconv.Itoa(c.userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		span.RecordError(err)
		return []Appointment{}, fmt.Errorf("appointments: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return []Appointment{}, fmt.Errorf("appointments: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		span.RecordError(err)
		return []Appointment{}, fmt.Errorf("appointments: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(body)
		if len(msg) > 300 {
			msg = msg[:300]
		}
		c.logger.Warn("appointments API non-2xx response", "status", resp.StatusCode, "body", msg)
		err := fmt.Errorf("appointments: API returned %d", resp.StatusCode)
		span.RecordError(err)
		return []Appointment{}, err
	}

	list, err := decodeUpcoming(body)
	if err != nil {
		span.RecordError(err)
		return []Appointment{}, err
	}
	return list, nil
}

func decodeUpcoming(body []byte) ([]Appointment, error) {
	var wrapped struct {
		Success     bool            `json:"success"`
		Appointment json.RawMessage `json:"appointment"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("appointments: decode response: %w", err)
	}
	raw := strings.TrimSpace(string(wrapped.Appointment))
	if !wrapped.Success || raw == "" || raw == "null" {
		return []Appointment{}, nil
	}

	if strings.HasPrefix(raw, "[") {
		var list []Appointment
		if err := json.Unmarshal(wrapped.Appointment, &list); err != nil {
			return nil, fmt.Errorf("appointments: decode list: %w", err)
		}
		if list == nil {
			list = []Appointment{}
		}
		return list, nil
	}
	var single Appointment
	if err := json.Unmarshal(wrapped.Appointment, &single); err != nil {
		return nil, fmt.Errorf("appointments: decode appointment: %w", err)
	}
	return []Appointment{single}, nil
}
