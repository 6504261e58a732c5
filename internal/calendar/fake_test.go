package calendar

import (
	"context"
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC) // Monday 08:00
}

func tuesdayAfternoon() Window {
	return Window{
		From: time.Date(2025, 3, 11, 12, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 3, 11, 17, 0, 0, 0, time.UTC),
	}
}

func TestFakeFindSlotsSoonestFirst(t *testing.T) {
	a := NewFakeAdapter()
	a.SetNow(fixedNow)

	slots, err := a.FindSlots(context.Background(), tuesdayAfternoon(), 30*time.Minute)
	if err != nil {
		t.Fatalf("FindSlots() error = %v", err)
	}
	if len(slots) == 0 {
		t.Fatalf("expected slots inside business hours")
	}
	for i := 1; i < len(slots); i++ {
		if !slots[i-1].Start.Before(slots[i].Start) {
			t.Fatalf("slots not soonest-first at %d: %v then %v", i, slots[i-1].Start, slots[i].Start)
		}
	}
	for _, s := range slots {
		if s.Start.Hour() < 9 || s.End.Hour() > 17 {
			t.Fatalf("slot outside business hours: %v", s)
		}
	}
}

func TestFakeReserveConflict(t *testing.T) {
	a := NewFakeAdapter()
	a.SetNow(fixedNow)

	slots, err := a.FindSlots(context.Background(), tuesdayAfternoon(), 30*time.Minute)
	if err != nil {
		t.Fatalf("FindSlots() error = %v", err)
	}
	if len(slots) < 2 {
		t.Fatalf("need at least two slots, got %d", len(slots))
	}

	if err := a.Reserve(context.Background(), slots[0], "retirement planning"); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if err := a.Reserve(context.Background(), slots[0], "other"); err != ErrSlotConflict {
		t.Fatalf("second Reserve() error = %v, want ErrSlotConflict", err)
	}

	// Reserved slot should no longer be offered.
	refreshed, err := a.FindSlots(context.Background(), tuesdayAfternoon(), 30*time.Minute)
	if err != nil {
		t.Fatalf("FindSlots() error = %v", err)
	}
	for _, s := range refreshed {
		if s.Equal(slots[0]) {
			t.Fatalf("reserved slot still offered: %v", s)
		}
	}
}

func TestFakeBlockSimulatesExternalTake(t *testing.T) {
	a := NewFakeAdapter()
	a.SetNow(fixedNow)

	slots, _ := a.FindSlots(context.Background(), tuesdayAfternoon(), 30*time.Minute)
	if len(slots) == 0 {
		t.Fatalf("expected slots")
	}
	a.Block(slots[0])
	if err := a.Reserve(context.Background(), slots[0], ""); err != ErrSlotConflict {
		t.Fatalf("Reserve() on blocked slot = %v, want ErrSlotConflict", err)
	}
}
