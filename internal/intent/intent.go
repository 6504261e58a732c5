package intent

import (
	"context"
	"errors"
	"time"
)

// Intent classifies what the user wants from one turn.
type Intent string

const (
	IntentBook       Intent = "book"
	IntentProvide    Intent = "provide_info"
	IntentSelectSlot Intent = "select_slot"
	IntentConfirm    Intent = "confirm"
	IntentDecline    Intent = "decline"
	IntentCorrection Intent = "correction"
	IntentCancel     Intent = "cancel_booking"
	IntentReschedule Intent = "reschedule_booking"
	IntentUnknown    Intent = "unknown"
)

// Recognizable reports whether the intent can drive a state transition.
func (i Intent) Recognizable() bool { return i != IntentUnknown && i != "" }

// ErrExtraction is the fail-closed result for timeouts, malformed model
// output, and low-confidence classifications. The engine never transitions
// state on it.
var ErrExtraction = errors.New("intent extraction failed")

// Entities are the structured values pulled out of free text. Nil pointers
// and zero values mean "not mentioned".
type Entities struct {
	Topic       string
	WindowFrom  *time.Time
	WindowTo    *time.Time
	Duration    *time.Duration
	BookingCode string
	SlotOrdinal int        // 1-based index into the offered slots, 0 = none
	SlotTime    *time.Time // a restated slot time, date part may be today's
}

// Result is one classified turn.
type Result struct {
	Intent     Intent
	Entities   Entities
	Confidence float64
}

// Context gives the extractor the conversation state it needs to
// disambiguate short answers ("yes", "the first one").
type Context struct {
	State        string
	Topic        string
	HasWindow    bool
	OfferedSlots []time.Time
	BookingCode  string
}

// Extractor turns free text into a structured intent and entity set.
// Implementations must fail closed: when unsure, return ErrExtraction
// rather than a guess.
type Extractor interface {
	Extract(ctx context.Context, text string, conv Context) (Result, error)
}
