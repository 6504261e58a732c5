package calendar

import (
	"context"
	"errors"
	"time"
)

// ErrSlotConflict reports that a slot was taken between offer and reserve.
// Callers are expected to re-query availability rather than surface it raw.
var ErrSlotConflict = errors.New("slot no longer available")

// ErrUnavailable reports that the backing calendar could not be reached.
var ErrUnavailable = errors.New("calendar unavailable")

// Slot is a proposed (start, end) interval offered to the user, not yet reserved.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (s Slot) Duration() time.Duration { return s.End.Sub(s.Start) }

func (s Slot) Equal(o Slot) bool {
	return s.Start.Equal(o.Start) && s.End.Equal(o.End)
}

// Window bounds a slot search.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (w Window) IsZero() bool { return w.From.IsZero() || w.To.IsZero() }

// Adapter queries and reserves advisor availability.
type Adapter interface {
	// FindSlots returns free candidate slots of the given duration inside the
	// window, soonest-first. An empty result means no availability, not an error.
	FindSlots(ctx context.Context, window Window, duration time.Duration) ([]Slot, error)
	// Reserve books the slot, returning ErrSlotConflict if it was taken since
	// it was offered.
	Reserve(ctx context.Context, slot Slot, summary string) error
}
