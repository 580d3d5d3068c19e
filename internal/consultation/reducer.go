package consultation

// Reduce merges one update into the state. It is pure: prev is never
// mutated and applying the same update twice equals applying it once.
//
// Appointment fields take the update's value when present, else the
// previous value, else TBD. Payment link and booking id come from the
// dedicated payment sub-state first, so a later consultation payload cannot
// erase them.
func Reduce(prev State, u Update) State {
	next := State{
		Record:  prev.Record.clone(),
		Payment: ApplyPayment(prev.Payment, u.Payment),
	}

	if u.Symptoms != nil {
		next.Record.Symptoms = append([]Symptom{}, u.Symptoms...)
	}
	if next.Record.Symptoms == nil {
		next.Record.Symptoms = []Symptom{}
	}
	if present(u.AssessmentStatus) {
		next.Record.AssessmentStatus = u.AssessmentStatus
	}
	if next.Record.AssessmentStatus == "" {
		next.Record.AssessmentStatus = StatusNotStarted
	}

	if u.Appointment != nil || u.Payment != nil {
		next.Record.Appointment = mergeAppointment(prev.Record.Appointment, u.Appointment, next.Payment, u.MobileNumber)
	}
	return next
}

// ApplyPayment folds newly observed payment data into the payment sub-state.
// Fields are only ever replaced by real values.
func ApplyPayment(prev Payment, p *Payment) Payment {
	if p == nil {
		return prev
	}
	next := prev
	if present(p.ShortURL) {
		next.ShortURL = p.ShortURL
	}
	if present(p.ReferenceID) {
		next.ReferenceID = p.ReferenceID
	}
	return next
}

func mergeAppointment(prev *Appointment, patch *AppointmentPatch, pay Payment, mobile string) *Appointment {
	var p AppointmentPatch
	if patch != nil {
		p = *patch
	}
	var old Appointment
	if prev != nil {
		old = *prev
	}

	typ := NormalizeType(p.Type)
	if typ == TypeTBD {
		typ = NormalizeType(string(old.Type))
	}

	return &Appointment{
		Type:          typ,
		Location:      firstPresent(p.Location, old.Location),
		Date:          firstPresent(p.Date, old.Date),
		Time:          firstPresent(p.Time, old.Time),
		Doctor:        firstPresent(p.Doctor, old.Doctor),
		MobileNumber:  firstPresent(mobile, p.MobileNumber, old.MobileNumber),
		PaymentLink:   firstPresent(pay.ShortURL, p.PaymentLink, old.PaymentLink),
		BookingID:     firstPresent(pay.ReferenceID, p.BookingID, old.BookingID),
		Status:        firstPresent(p.Status, old.Status),
		StartDateTime: firstPresent(p.StartDateTime, old.StartDateTime),
	}
}

func (r Record) clone() Record {
	out := r
	if r.Symptoms != nil {
		out.Symptoms = append([]Symptom{}, r.Symptoms...)
	}
	if r.Appointment != nil {
		appt := *r.Appointment
		out.Appointment = &appt
	}
	return out
}
