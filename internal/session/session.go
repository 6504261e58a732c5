package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/mbellini/concierge/internal/calendar"
)

// State is the dialogue position of a conversation.
type State string

const (
	StateGreeting          State = "GREETING"
	StateIntentPending     State = "INTENT_PENDING"
	StateSlotFilling       State = "SLOT_FILLING"
	StateSlotOffered       State = "SLOT_OFFERED"
	StateSlotConfirmed     State = "SLOT_CONFIRMED"
	StateBooked            State = "BOOKED"
	StateCancelPending     State = "CANCEL_PENDING"
	StateReschedulePending State = "RESCHEDULE_PENDING"
	StateHandoff           State = "HANDOFF"
)

// Preferences holds the slot-filling fields collected so far. Nil pointers
// mean "not provided yet".
type Preferences struct {
	WindowFrom *time.Time     `json:"window_from,omitempty"`
	WindowTo   *time.Time     `json:"window_to,omitempty"`
	Duration   *time.Duration `json:"duration,omitempty"`
}

func (p Preferences) Window() calendar.Window {
	if p.WindowFrom == nil || p.WindowTo == nil {
		return calendar.Window{}
	}
	return calendar.Window{From: *p.WindowFrom, To: *p.WindowTo}
}

func (p Preferences) HasWindow() bool { return p.WindowFrom != nil && p.WindowTo != nil }

// Session is the per-conversation dialogue state. It is mutated only by the
// conversation engine; stores hand out deep copies.
type Session struct {
	ID          string      `json:"session_id"`
	State       State       `json:"state"`
	Intent      string      `json:"intent,omitempty"`
	Topic       string      `json:"topic,omitempty"`
	Preferences Preferences `json:"preferences"`

	OfferedSlots []calendar.Slot `json:"offered_slots,omitempty"`
	SelectedSlot *calendar.Slot  `json:"selected_slot,omitempty"`

	BookingCode         string `json:"booking_code,omitempty"`
	BookingCodeToCancel string `json:"booking_code_to_cancel,omitempty"`
	CancellationPending bool   `json:"cancellation_pending,omitempty"`
	ReschedulePending   bool   `json:"reschedule_pending,omitempty"`

	ExtractFailures int `json:"extract_failures,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// New returns a fresh session in the greeting state.
func New() *Session {
	now := time.Now().UTC()
	return &Session{
		ID:             uuid.NewString(),
		State:          StateGreeting,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// Clone returns a deep copy, so stored state cannot be mutated by callers.
func (s *Session) Clone() *Session {
	c := *s
	if s.OfferedSlots != nil {
		c.OfferedSlots = append([]calendar.Slot(nil), s.OfferedSlots...)
	}
	if s.SelectedSlot != nil {
		sel := *s.SelectedSlot
		c.SelectedSlot = &sel
	}
	if s.Preferences.WindowFrom != nil {
		v := *s.Preferences.WindowFrom
		c.Preferences.WindowFrom = &v
	}
	if s.Preferences.WindowTo != nil {
		v := *s.Preferences.WindowTo
		c.Preferences.WindowTo = &v
	}
	if s.Preferences.Duration != nil {
		v := *s.Preferences.Duration
		c.Preferences.Duration = &v
	}
	return &c
}

// Update carries entity values extracted from one user turn.
type Update struct {
	Topic      string
	WindowFrom *time.Time
	WindowTo   *time.Time
	Duration   *time.Duration
}

// Merge applies extracted entities non-destructively: a field that already
// holds a value is only overwritten when the turn is an explicit correction,
// otherwise the first write wins until the user corrects it. This is a
// stronger guard than protecting only user-accepted fields, so acceptance
// needs no bookkeeping of its own.
func (s *Session) Merge(u Update, correction bool) {
	if u.Topic != "" && (s.Topic == "" || correction) {
		s.Topic = u.Topic
	}
	if u.WindowFrom != nil && u.WindowTo != nil && (!s.Preferences.HasWindow() || correction) {
		from, to := *u.WindowFrom, *u.WindowTo
		s.Preferences.WindowFrom = &from
		s.Preferences.WindowTo = &to
	}
	if u.Duration != nil && (s.Preferences.Duration == nil || correction) {
		d := *u.Duration
		s.Preferences.Duration = &d
	}
}

// ClearOffers drops offered and selected slots ahead of a new search.
func (s *Session) ClearOffers() {
	s.OfferedSlots = nil
	s.SelectedSlot = nil
}

// ClearWindow forgets the requested window so the user can widen it.
func (s *Session) ClearWindow() {
	s.Preferences.WindowFrom = nil
	s.Preferences.WindowTo = nil
}

// ResetFlow returns the session to a clean pre-booking position. Completed
// bookings live on in the booking store; the session only tracks the flow
// in progress.
func (s *Session) ResetFlow() {
	s.State = StateGreeting
	s.Intent = ""
	s.Topic = ""
	s.Preferences = Preferences{}
	s.ClearOffers()
	s.BookingCode = ""
	s.BookingCodeToCancel = ""
	s.CancellationPending = false
	s.ReschedulePending = false
}

func (s *Session) Touch() { s.LastActivityAt = time.Now().UTC() }
