package consultation

import (
	"regexp"
	"strconv"
	"strings"
)

// Booking result shapes.
const (
	ShapeNested = "nested"
	ShapeFlat   = "flat"
	ShapeText   = "text"
)

// BookingResult is what a bookAppointment result contributes.
type BookingResult struct {
	Shape       string
	Appointment AppointmentPatch
	Payment     Payment
}

// Update converts the result into a reducer update.
func (b *BookingResult) Update() Update {
	patch := b.Appointment
	pay := b.Payment
	return Update{Appointment: &patch, Payment: &pay}
}

var (
	clockPattern      = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?(?::\d{2})?(?:\.\d+)?\s*([aApP])?\.?[mM]?\.?`)
	confirmedPattern  = regexp.MustCompile(`(?i)(consultation|appointment) has been booked`)
	doctorPattern     = regexp.MustCompile(`with\s+(Dr\.?\s+[A-Z][\w'-]*(?:\s+[A-Z][\w'-]*)*)`)
	atTimePattern     = regexp.MustCompile(`(?i)\bat\s+(\d{1,2}:\d{2}\s*[ap]m)`)
	onDayPattern      = regexp.MustCompile(`(?i)\bon\s+((?:mon|tues|wednes|thurs|fri|satur|sun)day|\d{4}-\d{2}-\d{2})`)
	paymentURLPattern = regexp.MustCompile(`(?i)payment\s+link:?\s*(https?://\S+)`)
)

// ExtractBookingResult reads a bookAppointment payload. The nested shape
// (appointmentInfo/payment, possibly double-encoded under "result") is tried
// first, then the flat paymentLink/appointmentId shape. A payload reporting
// success=false yields nil.
func ExtractBookingResult(c Classified) *BookingResult {
	if c.Tool != ToolBookAppointment || c.JSON == nil {
		return nil
	}
	if inner, ok := decodeNested(c.JSON["result"]); ok {
		if res := nestedBooking(inner); res != nil {
			return res
		}
		if res := flatBooking(inner); res != nil {
			return res
		}
	}
	if res := nestedBooking(c.JSON); res != nil {
		return res
	}
	return flatBooking(c.JSON)
}

func nestedBooking(data map[string]any) *BookingResult {
	info := asMap(data["appointmentInfo"])
	payment := asMap(data["payment"])
	if info == nil && payment == nil {
		return nil
	}
	if v, has := data["success"]; has && !truthy(v) {
		return nil
	}
	if _, has := data["success"]; !has && info == nil {
		return nil
	}

	start := stringField(info, "startDateTime", "start_date_time", "start_time")
	date, clockRange := SplitStartDateTime(start)
	res := &BookingResult{
		Shape: ShapeNested,
		Appointment: AppointmentPatch{
			Type:          stringField(info, "consultation_type", "consultationType", "type"),
			Location:      stringField(info, "location", "campus", "campus_id"),
			Doctor:        stringField(info, "appointed_doctor", "doctor", "doctorName"),
			Status:        stringField(info, "status"),
			StartDateTime: start,
			Date:          date,
			Time:          clockRange,
		},
		Payment: Payment{
			ShortURL:    stringField(payment, "short_url", "shortUrl"),
			ReferenceID: stringField(payment, "reference_id", "referenceId"),
		},
	}
	res.Appointment.PaymentLink = res.Payment.ShortURL
	res.Appointment.BookingID = res.Payment.ReferenceID
	return res
}

func flatBooking(data map[string]any) *BookingResult {
	if !truthy(data["success"]) {
		return nil
	}
	link := stringField(data, "paymentLink", "payment_link")
	id := stringField(data, "appointmentId", "appointment_id")
	if link == "" && id == "" {
		return nil
	}
	return &BookingResult{
		Shape:       ShapeFlat,
		Appointment: AppointmentPatch{PaymentLink: link, BookingID: id},
		Payment:     Payment{ShortURL: link, ReferenceID: id},
	}
}

// SplitStartDateTime derives the display date and hour range from values
// like "2025-06-02 14:00". Anything unparseable yields TBD for both.
func SplitStartDateTime(start string) (date, hourRange string) {
	start = strings.TrimSpace(start)
	if start == "" {
		return TBD, TBD
	}
	sep := strings.IndexAny(start, " T")
	if sep <= 0 || sep == len(start)-1 {
		return TBD, TBD
	}
	datePart, clockPart := start[:sep], strings.TrimSpace(start[sep+1:])
	m := clockPattern.FindStringSubmatch(clockPart)
	if m == nil {
		return TBD, TBD
	}
	hour, err := strconv.Atoi(m[1])
	if err != nil || hour > 23 {
		return TBD, TBD
	}
	if m[3] != "" {
		if hour < 1 || hour > 12 {
			return TBD, TBD
		}
		hour %= 12
		if meridiem(m[3]) == "PM" {
			hour += 12
		}
	}
	return datePart, HourRange(hour)
}

// ParseBookingConfirmation reads a spoken confirmation such as "Your online
// consultation has been booked with Dr. Riya on Monday at 4:00 PM. Payment
// link: https://pay.example/x". Returns nil unless the sentence confirms a
// booking and names at least one detail.
func ParseBookingConfirmation(text string) *BookingResult {
	if !confirmedPattern.MatchString(text) {
		return nil
	}
	res := &BookingResult{Shape: ShapeText}
	if m := doctorPattern.FindStringSubmatch(text); m != nil {
		res.Appointment.Doctor = strings.TrimSpace(m[1])
	}
	if m := atTimePattern.FindStringSubmatch(text); m != nil {
		res.Appointment.Time = NormalizeSlot(m[1])
	}
	if m := onDayPattern.FindStringSubmatch(text); m != nil {
		res.Appointment.Date = m[1]
	}
	if m := paymentURLPattern.FindStringSubmatch(text); m != nil {
		link := strings.TrimRight(m[1], ".,;)")
		res.Payment.ShortURL = link
		res.Appointment.PaymentLink = link
	}
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "online consultation"):
		res.Appointment.Type = string(TypeOnline)
	case strings.Contains(lower, "in-person consultation"), strings.Contains(lower, "in person consultation"):
		res.Appointment.Type = string(TypeInPerson)
	}
	a := res.Appointment
	if a.Doctor == "" && a.Time == "" && a.Date == "" && a.PaymentLink == "" {
		return nil
	}
	return res
}
