package consultation

// ExtractConsultationUpdate reads an updateConsultation/updateAssessment
// payload. The data may sit under value.consultationData, value,
// consultationData, assessmentData, or at the root; the first present wins.
func ExtractConsultationUpdate(c Classified) *Update {
	if c.Tool != ToolUpdateConsultation && c.Tool != ToolUpdateAssessment {
		return nil
	}
	if c.JSON == nil {
		return nil
	}

	data := consultationRoot(c.JSON)
	if !hasAnyKey(data, "symptoms", "assessmentStatus", "assessment_status", "appointment") {
		// acknowledgements like {"success":true} carry no record data
		return nil
	}
	u := &Update{
		Symptoms:         symptomsFrom(data["symptoms"]),
		AssessmentStatus: stringField(data, "assessmentStatus", "assessment_status", "status"),
	}
	if u.AssessmentStatus == "" {
		u.AssessmentStatus = StatusInProgress
	}
	if appt := asMap(data["appointment"]); appt != nil {
		u.Appointment = &AppointmentPatch{
			Type:          stringField(appt, "type", "consultation_type"),
			Location:      stringField(appt, "location", "campus"),
			Date:          stringField(appt, "date"),
			Time:          stringField(appt, "time"),
			Doctor:        stringField(appt, "doctor", "appointed_doctor"),
			PaymentLink:   stringField(appt, "paymentLink", "payment_link"),
			BookingID:     stringField(appt, "bookingId", "booking_id"),
			Status:        stringField(appt, "status"),
			StartDateTime: stringField(appt, "startDateTime"),
		}
	}
	return u
}

func consultationRoot(root map[string]any) map[string]any {
	if value := asMap(root["value"]); value != nil {
		if inner := asMap(value["consultationData"]); inner != nil {
			return inner
		}
		return value
	}
	for _, key := range []string{"consultationData", "assessmentData"} {
		if inner, ok := decodeNested(root[key]); ok {
			return inner
		}
	}
	return root
}

func hasAnyKey(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

func symptomsFrom(v any) []Symptom {
	items, ok := v.([]any)
	if !ok {
		return []Symptom{}
	}
	out := make([]Symptom, 0, len(items))
	for _, item := range items {
		if s := asString(item); s != "" {
			out = append(out, Symptom{Symptom: s})
			continue
		}
		m := asMap(item)
		if m == nil {
			continue
		}
		out = append(out, Symptom{
			Symptom:  stringField(m, "symptom", "location", "name"),
			Severity: stringField(m, "severity"),
			Duration: stringField(m, "duration"),
		})
	}
	return out
}
