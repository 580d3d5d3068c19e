// Package bookingflow drives the modal prompts that collect booking
// parameters (mobile number, consultation mode, city, center, week, day and
// slot) from cue phrases in agent messages and from popup selections.
package bookingflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/physio-voice-booking/internal/consultation"
)

var (
	ErrInvalidMobile = errors.New("bookingflow: invalid mobile number")
	ErrOutOfOrder    = errors.New("bookingflow: selection out of order")
	ErrUnknownOption = errors.New("bookingflow: unknown option")
)

// State is a step of the booking flow.
type State string

const (
	StateAwaitingMobile    State = "awaiting_mobile"
	StateAwaitingMode      State = "awaiting_mode"
	StateAwaitingCity      State = "awaiting_city"
	StateAwaitingCenter    State = "awaiting_center"
	StateAwaitingWeek      State = "awaiting_week"
	StateAwaitingDay       State = "awaiting_day"
	StateAwaitingSlotFetch State = "awaiting_slot_fetch"
	StateSlotsShown        State = "slots_shown"
	StateAwaitingName      State = "awaiting_name"
	StateBooked            State = "booked"
)

var allStates = []State{
	StateAwaitingMobile, StateAwaitingMode, StateAwaitingCity, StateAwaitingCenter,
	StateAwaitingWeek, StateAwaitingDay, StateAwaitingSlotFetch, StateSlotsShown,
	StateAwaitingName, StateBooked,
}

func (s State) valid() bool {
	return indexOf(allStates, s) >= 0
}

// Mode is the consultation mode chosen for this call.
type Mode string

const (
	ModeUnknown  Mode = ""
	ModeOnline   Mode = "online"
	ModeInPerson Mode = "in-person"
)

// Popup names the modal currently shown to the patient.
type Popup string

const (
	PopupNone    Popup = ""
	PopupMobile  Popup = "mobile"
	PopupCity    Popup = "city"
	PopupCenter  Popup = "center"
	PopupWeekDay Popup = "week_day"
	PopupSlots   Popup = "slots"
)

// Kind is the kind of a popup selection.
type Kind string

const (
	KindMode   Kind = "mode"
	KindCity   Kind = "city"
	KindCenter Kind = "center"
	KindWeek   Kind = "week"
	KindDay    Kind = "day"
	KindSlot   Kind = "slot"
)

// Selection holds what the patient picked so far.
type Selection struct {
	Mobile string `json:"mobile,omitempty"`
	City   string `json:"city,omitempty"`
	Center string `json:"center,omitempty"`
	Week   string `json:"week,omitempty"`
	Day    string `json:"day,omitempty"`
	Slot   string `json:"slot,omitempty"`
}

// Transition records one state change.
type Transition struct {
	From    State     `json:"from"`
	To      State     `json:"to"`
	Trigger string    `json:"trigger"`
	At      time.Time `json:"at"`
}

// Outcome is what one agent message did to the flow.
type Outcome struct {
	Actions     []Action                 `json:"actions,omitempty"`
	Transitions []Transition             `json:"transitions,omitempty"`
	Slots       *consultation.SlotUpdate `json:"slots,omitempty"`
}

// Booked reports whether the message carried a booking confirmation cue.
func (o Outcome) Booked() bool {
	for _, a := range o.Actions {
		if a == ActionBooked {
			return true
		}
	}
	return false
}

// Snapshot is the view of the controller rendered to clients.
type Snapshot struct {
	State     State                    `json:"state"`
	Mode      Mode                     `json:"mode"`
	Popup     Popup                    `json:"popup"`
	Selection Selection                `json:"selection"`
	Slots     *consultation.SlotUpdate `json:"slots,omitempty"`
	Stalled   bool                     `json:"stalled"`
	EnteredAt time.Time                `json:"enteredAt"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// Controller is the booking flow state machine for one session. It is not
// safe for concurrent use; the owning session serializes access.
//
// The flow is strictly linear per mode:
//
//	in-person: mobile -> mode -> city -> center -> week -> day -> slot fetch -> slots shown -> name -> booked
//	online:    mobile -> mode -> week -> day -> slot fetch -> slots shown -> name -> booked
//
// Leaving a step requires its selection. Slot data arriving from the agent
// satisfies the week and day steps, never city or center.
type Controller struct {
	cues    CueTable
	timeout time.Duration
	now     func() time.Time

	state     State
	mode      Mode
	popup     Popup
	sel       Selection
	shown     *consultation.SlotUpdate
	pending   *consultation.SlotUpdate
	enteredAt time.Time
	escalated bool
}

// NewController creates a controller waiting for the mobile number. A zero
// timeout disables stall detection.
func NewController(cues CueTable, timeout time.Duration, opts ...Option) *Controller {
	if len(cues.Cues) == 0 {
		cues = DefaultCues()
	}
	c := &Controller{cues: cues, timeout: timeout, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	c.state = StateAwaitingMobile
	c.popup = PopupMobile
	c.enteredAt = c.now()
	return c
}

func (c *Controller) State() State { return c.state }
func (c *Controller) Mode() Mode { return c.mode }
func (c *Controller) Popup() Popup { return c.popup }
func (c *Controller) Selection() Selection { return c.sel }

// ShownSlots returns the slots currently offered, or nil.
func (c *Controller) ShownSlots() *consultation.SlotUpdate {
	if c.shown == nil {
		return nil
	}
	cp := *c.shown
	cp.Slots = append([]string{}, c.shown.Slots...)
	return &cp
}

// Snapshot returns the current view.
func (c *Controller) Snapshot() Snapshot {
	return Snapshot{
		State:     c.state,
		Mode:      c.mode,
		Popup:     c.popup,
		Selection: c.sel,
		Slots:     c.ShownSlots(),
		Stalled:   c.Stalled(),
		EnteredAt: c.enteredAt,
	}
}

// Reset returns the flow to its start for a new call. A submitted mobile
// number survives the reset; every other selection is cleared.
func (c *Controller) Reset() {
	mobile := c.sel.Mobile
	c.sel = Selection{Mobile: mobile}
	c.mode = ModeUnknown
	c.shown = nil
	c.pending = nil
	c.enteredAt = c.now()
	c.escalated = false
	if mobile == "" {
		c.state = StateAwaitingMobile
		c.popup = PopupMobile
		return
	}
	c.state = StateAwaitingMode
	c.popup = PopupNone
}

// SubmitMobile stores the patient's number and leaves the mobile step.
func (c *Controller) SubmitMobile(number string) ([]Transition, error) {
	if !ValidMobile(number) {
		return nil, ErrInvalidMobile
	}
	c.sel.Mobile = number
	if c.popup == PopupMobile {
		c.popup = PopupNone
	}
	return c.advance(StateAwaitingMode, "mobile_submitted", false), nil
}

// Observe scans an agent message for cue phrases and applies them.
func (c *Controller) Observe(text string) Outcome {
	var out Outcome
	out.Actions = dropAmbiguousMode(c.cues.Match(c.state, text))
	for _, action := range out.Actions {
		trigger := "cue:" + string(action)
		switch action {
		case ActionSetOnline:
			out.Transitions = append(out.Transitions, c.setMode(ModeOnline, trigger)...)
		case ActionSetInPerson:
			out.Transitions = append(out.Transitions, c.setMode(ModeInPerson, trigger)...)
		case ActionAskCity:
			if c.state == StateAwaitingMode {
				out.Transitions = append(out.Transitions, c.setMode(ModeInPerson, trigger)...)
			}
			c.prompt(StateAwaitingCity)
		case ActionAskCenter:
			c.prompt(StateAwaitingCenter)
		case ActionAskWeekDay:
			c.prompt(StateAwaitingDay)
		case ActionSlotsShown:
			if u := consultation.SlotsFromText(text); u != nil {
				out.Slots = u
				out.Transitions = append(out.Transitions, c.OfferSlots(u)...)
			}
		case ActionAskName:
			out.Transitions = append(out.Transitions, c.advance(StateAwaitingName, trigger, false)...)
		case ActionBooked:
			out.Transitions = append(out.Transitions, c.MarkBooked(trigger)...)
		}
	}
	return out
}

// OfferSlots applies slot data from the agent. Slots that arrive before the
// week step is reachable are held and applied once it is.
func (c *Controller) OfferSlots(u *consultation.SlotUpdate) []Transition {
	if u == nil || c.state == StateBooked {
		return nil
	}
	if !c.slotsReachable() {
		c.pending = u
		return nil
	}
	return c.applySlots(u)
}

// MarkBooked moves to the terminal state. The agent's booking is
// authoritative, so no selection is required.
func (c *Controller) MarkBooked(trigger string) []Transition {
	if c.state == StateBooked || c.state == StateAwaitingMobile {
		return nil
	}
	c.popup = PopupNone
	c.pending = nil
	return []Transition{c.enter(StateBooked, trigger)}
}

// Select applies a popup selection and returns the synthetic transcript line
// for it.
func (c *Controller) Select(kind Kind, value string) (string, []Transition, error) {
	switch kind {
	case KindMode:
		if c.state != StateAwaitingMode {
			return "", nil, c.outOfOrder(kind)
		}
		var mode Mode
		switch consultation.NormalizeType(value) {
		case consultation.TypeOnline:
			mode = ModeOnline
		case consultation.TypeInPerson:
			mode = ModeInPerson
		default:
			return "", nil, fmt.Errorf("%w: mode %q", ErrUnknownOption, value)
		}
		return fmt.Sprintf("User: I'd like the %s consultation.", mode), c.setMode(mode, "select:mode"), nil

	case KindCity:
		if c.state != StateAwaitingCity {
			return "", nil, c.outOfOrder(kind)
		}
		city, ok := canonical(Cities(), value)
		if !ok {
			return "", nil, fmt.Errorf("%w: city %q", ErrUnknownOption, value)
		}
		c.sel.City = city
		c.popup = PopupNone
		return fmt.Sprintf("User: I'd like the %s location.", city), c.advance(StateAwaitingCenter, "select:city", false), nil

	case KindCenter:
		if c.state != StateAwaitingCenter {
			return "", nil, c.outOfOrder(kind)
		}
		center, ok := canonical(Centers[c.sel.City], value)
		if !ok {
			return "", nil, fmt.Errorf("%w: center %q in %s", ErrUnknownOption, value, c.sel.City)
		}
		c.sel.Center = center
		c.popup = PopupNone
		return fmt.Sprintf("User: I'd like the %s center.", center), c.advance(StateAwaitingWeek, "select:center", false), nil

	case KindWeek:
		if c.state != StateAwaitingWeek {
			return "", nil, c.outOfOrder(kind)
		}
		week, ok := canonical(Weeks, value)
		if !ok {
			return "", nil, fmt.Errorf("%w: week %q", ErrUnknownOption, value)
		}
		c.sel.Week = week
		return fmt.Sprintf("User: I'd like %s.", week), c.advance(StateAwaitingDay, "select:week", false), nil

	case KindDay:
		if c.state != StateAwaitingDay {
			return "", nil, c.outOfOrder(kind)
		}
		day, ok := canonical(Days, value)
		if !ok {
			return "", nil, fmt.Errorf("%w: day %q", ErrUnknownOption, value)
		}
		c.sel.Day = day
		c.popup = PopupNone
		return fmt.Sprintf("User: I'd like %s.", day), c.advance(StateAwaitingSlotFetch, "select:day", false), nil

	case KindSlot:
		if c.state != StateSlotsShown || c.shown == nil || c.sel.Slot != "" {
			return "", nil, c.outOfOrder(kind)
		}
		slot, ok := canonical(c.shown.Slots, consultation.NormalizeSlot(value))
		if !ok {
			return "", nil, fmt.Errorf("%w: slot %q", ErrUnknownOption, value)
		}
		c.sel.Slot = slot
		c.popup = PopupNone
		return fmt.Sprintf("User: I'd like the %s slot.", slot), c.advance(StateAwaitingName, "select:slot", false), nil
	}
	return "", nil, fmt.Errorf("%w: kind %q", ErrUnknownOption, kind)
}

// ClosePopup hides the current popup without changing state.
func (c *Controller) ClosePopup() {
	c.popup = PopupNone
}

// ForcePopup shows the popup belonging to the current state. It is the
// manual escape hatch when a cue phrase never arrives.
func (c *Controller) ForcePopup() Popup {
	c.popup = popupFor(c.state)
	return c.popup
}

// Stalled reports whether the current state has waited for the cue timeout.
func (c *Controller) Stalled() bool {
	deadline, ok := c.StallDeadline()
	return ok && !c.now().Before(deadline)
}

// StallDeadline returns when the current state counts as stalled. ok is
// false when stall detection is off or the flow is booked.
func (c *Controller) StallDeadline() (deadline time.Time, ok bool) {
	if c.timeout <= 0 || c.state == StateBooked {
		return time.Time{}, false
	}
	return c.enteredAt.Add(c.timeout), true
}

// Escalate opens the current state's popup once the state has stalled. It
// reports true only for the first stall seen in a state.
func (c *Controller) Escalate() bool {
	if c.escalated || !c.Stalled() {
		return false
	}
	c.escalated = true
	if p := popupFor(c.state); p != PopupNone {
		c.popup = p
	}
	return true
}

// Override forces the flow forward to target. Week, day and slot steps may be
// skipped; mobile, mode, city and center may not, and that holds for a
// forced booking too.
func (c *Controller) Override(target State) ([]Transition, error) {
	if !target.valid() {
		return nil, fmt.Errorf("%w: state %q", ErrUnknownOption, target)
	}
	if target == StateBooked {
		if c.state == StateBooked {
			return nil, fmt.Errorf("%w: already %s", ErrOutOfOrder, StateBooked)
		}
		transitions := c.advance(StateAwaitingName, "override", true)
		if c.state != StateAwaitingName {
			return transitions, fmt.Errorf("%w: stopped at %s before %s", ErrOutOfOrder, c.state, target)
		}
		return append(transitions, c.MarkBooked("override")...), nil
	}
	seq := c.sequence()
	ti := indexOf(seq, target)
	if ti < 0 || ti <= indexOf(seq, c.state) {
		return nil, fmt.Errorf("%w: cannot move from %s to %s", ErrOutOfOrder, c.state, target)
	}
	transitions := c.advance(target, "override", true)
	if c.state != target {
		return transitions, fmt.Errorf("%w: stopped at %s before %s", ErrOutOfOrder, c.state, target)
	}
	c.popup = popupFor(c.state)
	return transitions, nil
}

func (c *Controller) setMode(mode Mode, trigger string) []Transition {
	if c.state != StateAwaitingMode || c.mode != ModeUnknown {
		return nil
	}
	c.mode = mode
	next := StateAwaitingWeek
	if mode == ModeInPerson {
		next = StateAwaitingCity
	}
	return c.advance(next, trigger, false)
}

// prompt shows the popup for target, or for the current step when the
// patient still has to answer an earlier prompt first.
func (c *Controller) prompt(target State) {
	if c.state == StateAwaitingWeek && target == StateAwaitingDay {
		c.popup = PopupWeekDay
		return
	}
	seq := c.sequence()
	ti, ci := indexOf(seq, target), indexOf(seq, c.state)
	if ti < 0 || ci < 0 || ci > ti {
		return
	}
	if p := popupFor(c.state); p != PopupNone {
		c.popup = p
	}
}

// dropAmbiguousMode removes both mode actions when a message names both
// modes, which is the agent asking rather than confirming.
func dropAmbiguousMode(actions []Action) []Action {
	var online, inPerson bool
	for _, a := range actions {
		online = online || a == ActionSetOnline
		inPerson = inPerson || a == ActionSetInPerson
	}
	if !online || !inPerson {
		return actions
	}
	out := actions[:0]
	for _, a := range actions {
		if a != ActionSetOnline && a != ActionSetInPerson {
			out = append(out, a)
		}
	}
	return out
}

func (c *Controller) slotsReachable() bool {
	seq := c.sequence()
	ci := indexOf(seq, c.state)
	wi := indexOf(seq, StateAwaitingWeek)
	return wi >= 0 && ci >= wi
}

func (c *Controller) applySlots(u *consultation.SlotUpdate) []Transition {
	c.pending = nil
	if c.sel.Week == "" {
		if week, ok := canonical(Weeks, u.Week); ok {
			c.sel.Week = week
		}
	}
	if c.sel.Day == "" {
		if day, ok := canonical(Days, u.Day); ok {
			c.sel.Day = day
		}
	}
	if len(u.Slots) == 0 {
		return c.advance(StateAwaitingSlotFetch, "slots:fetch", true)
	}

	cp := *u
	cp.Slots = append([]string{}, u.Slots...)
	if cp.Day == "" {
		cp.Day = c.sel.Day
	}
	if cp.Week == "" {
		cp.Week = c.sel.Week
	}
	c.shown = &cp
	transitions := c.advance(StateSlotsShown, "slots:shown", true)
	if c.state == StateSlotsShown {
		c.popup = PopupSlots
	}
	return transitions
}

// advance walks forward one step at a time until target, stopping at the
// first step whose exit condition is unmet. force waives the week, day and
// slot-fetch conditions only.
func (c *Controller) advance(target State, trigger string, force bool) []Transition {
	seq := c.sequence()
	ti := indexOf(seq, target)
	if ti < 0 {
		return nil
	}
	var out []Transition
	for {
		ci := indexOf(seq, c.state)
		if ci < 0 || ci >= ti || !c.canLeave(c.state, force) {
			break
		}
		out = append(out, c.enter(seq[ci+1], trigger))
	}
	if c.pending != nil && c.slotsReachable() {
		out = append(out, c.applySlots(c.pending)...)
	}
	return out
}

func (c *Controller) canLeave(s State, force bool) bool {
	switch s {
	case StateAwaitingMobile:
		return c.sel.Mobile != ""
	case StateAwaitingMode:
		return c.mode != ModeUnknown
	case StateAwaitingCity:
		return c.sel.City != ""
	case StateAwaitingCenter:
		return c.sel.Center != ""
	case StateAwaitingWeek:
		return force || c.sel.Week != ""
	case StateAwaitingDay:
		return force || c.sel.Day != ""
	case StateAwaitingSlotFetch:
		return force || c.shown != nil
	case StateSlotsShown, StateAwaitingName:
		return true
	}
	return false
}

func (c *Controller) enter(s State, trigger string) Transition {
	t := Transition{From: c.state, To: s, Trigger: trigger, At: c.now()}
	c.state = s
	c.enteredAt = t.At
	c.escalated = false
	if c.popup != PopupNone && c.popup != popupFor(s) {
		c.popup = PopupNone
	}
	return t
}

func (c *Controller) sequence() []State {
	switch c.mode {
	case ModeOnline:
		return []State{
			StateAwaitingMobile, StateAwaitingMode, StateAwaitingWeek, StateAwaitingDay,
			StateAwaitingSlotFetch, StateSlotsShown, StateAwaitingName, StateBooked,
		}
	case ModeInPerson:
		return []State{
			StateAwaitingMobile, StateAwaitingMode, StateAwaitingCity, StateAwaitingCenter,
			StateAwaitingWeek, StateAwaitingDay, StateAwaitingSlotFetch, StateSlotsShown,
			StateAwaitingName, StateBooked,
		}
	}
	return []State{StateAwaitingMobile, StateAwaitingMode}
}

func (c *Controller) outOfOrder(kind Kind) error {
	return fmt.Errorf("%w: %s while %s", ErrOutOfOrder, kind, c.state)
}

func popupFor(s State) Popup {
	switch s {
	case StateAwaitingMobile:
		return PopupMobile
	case StateAwaitingCity:
		return PopupCity
	case StateAwaitingCenter:
		return PopupCenter
	case StateAwaitingWeek, StateAwaitingDay:
		return PopupWeekDay
	case StateSlotsShown:
		return PopupSlots
	}
	return PopupNone
}

func indexOf(states []State, s State) int {
	for i, v := range states {
		if v == s {
			return i
		}
	}
	return -1
}
