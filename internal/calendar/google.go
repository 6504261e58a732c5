package calendar

import (
	"context"
	"fmt"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// GoogleAdapter backs the slot calendar with a Google Calendar.
type GoogleAdapter struct {
	svc        *gcal.Service
	calendarID string

	dayStart int
	dayEnd   int
}

func NewGoogleAdapter(ctx context.Context, credentialsFile, calendarID string) (*GoogleAdapter, error) {
	if calendarID == "" {
		return nil, fmt.Errorf("google calendar id is required")
	}
	svc, err := gcal.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(gcal.CalendarScope),
	)
	if err != nil {
		return nil, fmt.Errorf("init google calendar: %w", err)
	}
	return &GoogleAdapter{
		svc:        svc,
		calendarID: calendarID,
		dayStart:   9,
		dayEnd:     17,
	}, nil
}

func (a *GoogleAdapter) FindSlots(ctx context.Context, window Window, duration time.Duration) ([]Slot, error) {
	if window.IsZero() || duration <= 0 {
		return nil, nil
	}

	busy, err := a.busyIntervals(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	earliest := time.Now().UTC()
	if window.From.After(earliest) {
		earliest = window.From.UTC()
	}
	start := earliest.Truncate(30 * time.Minute)
	if start.Before(earliest) {
		start = start.Add(30 * time.Minute)
	}

	var out []Slot
	for cur := start; !cur.Add(duration).After(window.To.UTC()); cur = cur.Add(30 * time.Minute) {
		if cur.Hour() < a.dayStart || cur.Add(duration).Hour() > a.dayEnd ||
			(cur.Add(duration).Hour() == a.dayEnd && cur.Add(duration).Minute() > 0) {
			continue
		}
		candidate := Slot{Start: cur, End: cur.Add(duration)}
		if overlapsAny(candidate, busy) {
			continue
		}
		out = append(out, candidate)
	}
	return out, nil
}

func (a *GoogleAdapter) Reserve(ctx context.Context, slot Slot, summary string) error {
	// Re-check before inserting: the calendar is shared and the offer may be
	// minutes old. A busy overlap at this point is the expected conflict path.
	busy, err := a.busyIntervals(ctx, Window{From: slot.Start, To: slot.End})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if overlapsAny(slot, busy) {
		return ErrSlotConflict
	}

	if summary == "" {
		summary = "Advisor meeting"
	}
	event := &gcal.Event{
		Summary: summary,
		Start:   &gcal.EventDateTime{DateTime: slot.Start.Format(time.RFC3339)},
		End:     &gcal.EventDateTime{DateTime: slot.End.Format(time.RFC3339)},
	}
	if _, err := a.svc.Events.Insert(a.calendarID, event).Context(ctx).Do(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (a *GoogleAdapter) busyIntervals(ctx context.Context, window Window) ([]Slot, error) {
	req := &gcal.FreeBusyRequest{
		TimeMin: window.From.UTC().Format(time.RFC3339),
		TimeMax: window.To.UTC().Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: a.calendarID}},
	}
	res, err := a.svc.Freebusy.Query(req).Context(ctx).Do()
	if err != nil {
		return nil, err
	}

	cal, ok := res.Calendars[a.calendarID]
	if !ok {
		return nil, nil
	}
	var busy []Slot
	for _, p := range cal.Busy {
		from, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			continue
		}
		to, err := time.Parse(time.RFC3339, p.End)
		if err != nil {
			continue
		}
		busy = append(busy, Slot{Start: from, End: to})
	}
	return busy, nil
}

func overlapsAny(s Slot, busy []Slot) bool {
	for _, b := range busy {
		if s.Start.Before(b.End) && b.Start.Before(s.End) {
			return true
		}
	}
	return false
}
