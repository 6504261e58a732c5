package calendar

import (
	"context"
	"sync"
	"time"
)

// FakeAdapter is an in-process calendar for local/dev use and tests.
// It generates half-hour-aligned slots inside business hours and tracks
// reservations in memory. Blocked slots simulate external parties taking
// availability between offer and reserve.
type FakeAdapter struct {
	mu       sync.Mutex
	reserved map[time.Time]string
	blocked  map[time.Time]bool

	dayStart int // hour, inclusive
	dayEnd   int // hour, exclusive
	now      func() time.Time
}

func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		reserved: make(map[time.Time]string),
		blocked:  make(map[time.Time]bool),
		dayStart: 9,
		dayEnd:   17,
		now:      time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (a *FakeAdapter) SetNow(now func() time.Time) { a.now = now }

// Block marks a slot as externally taken without going through Reserve.
func (a *FakeAdapter) Block(slot Slot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blocked[slot.Start.UTC()] = true
}

func (a *FakeAdapter) FindSlots(ctx context.Context, window Window, duration time.Duration) ([]Slot, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if window.IsZero() || duration <= 0 {
		return nil, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	earliest := a.now().UTC()
	if window.From.After(earliest) {
		earliest = window.From.UTC()
	}
	start := earliest.Truncate(30 * time.Minute)
	if start.Before(earliest) {
		start = start.Add(30 * time.Minute)
	}

	var out []Slot
	for cur := start; cur.Add(duration).Before(window.To.UTC()) || cur.Add(duration).Equal(window.To.UTC()); cur = cur.Add(30 * time.Minute) {
		if cur.Hour() < a.dayStart || cur.Add(duration).Hour() > a.dayEnd ||
			(cur.Add(duration).Hour() == a.dayEnd && cur.Add(duration).Minute() > 0) {
			continue
		}
		if a.reserved[cur] != "" || a.blocked[cur] {
			continue
		}
		out = append(out, Slot{Start: cur, End: cur.Add(duration)})
	}
	return out, nil
}

func (a *FakeAdapter) Reserve(ctx context.Context, slot Slot, summary string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	key := slot.Start.UTC()
	if a.reserved[key] != "" || a.blocked[key] {
		return ErrSlotConflict
	}
	if summary == "" {
		summary = "advisor meeting"
	}
	a.reserved[key] = summary
	return nil
}
