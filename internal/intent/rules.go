package intent

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RulesExtractor classifies turns with deterministic keyword and date rules.
// It keeps local development and tests independent of the Groq API, the same
// way a mock brain keeps a voice pipeline runnable offline.
type RulesExtractor struct {
	now func() time.Time
}

func NewRulesExtractor() *RulesExtractor {
	return &RulesExtractor{now: time.Now}
}

// SetNow overrides the reference clock for relative dates, for tests.
func (e *RulesExtractor) SetNow(now func() time.Time) { e.now = now }

var (
	bookingCodeRe = regexp.MustCompile(`\b([A-Z]{2,3}[0-9A-Z]{4,12})\b`)
	clockTimeRe   = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b|\b(\d{1,2}):(\d{2})\b`)
	minutesRe     = regexp.MustCompile(`\b(\d{1,3})\s*(?:minutes|minute|mins|min)\b`)
	hoursRe       = regexp.MustCompile(`\b(\d{1,2})\s*(?:hours|hour|hrs|hr)\b`)
	ordinalRe     = regexp.MustCompile(`\b(?:option|number|slot)\s*(\d{1,2})\b`)
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

var ordinalWords = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
}

func (e *RulesExtractor) Extract(ctx context.Context, text string, conv Context) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return Result{Intent: IntentUnknown, Confidence: 1}, nil
	}

	ents := Entities{
		BookingCode: e.findBookingCode(text),
		Topic:       extractTopic(lower),
		SlotOrdinal: extractOrdinal(lower, len(conv.OfferedSlots)),
	}
	ents.WindowFrom, ents.WindowTo = e.extractWindow(lower)
	ents.Duration = extractDuration(lower)
	ents.SlotTime = e.extractClockTime(lower, conv.OfferedSlots)

	res := Result{Entities: ents, Confidence: 0.9}

	switch {
	case containsAny(lower, "cancel"):
		res.Intent = IntentCancel
	case containsAny(lower, "reschedule", "move my", "move the", "different time"):
		res.Intent = IntentReschedule
	case containsAny(lower, "actually", "i meant", "i said", "instead of", "rather than", "make that"):
		res.Intent = IntentCorrection
	case len(conv.OfferedSlots) > 0 && (ents.SlotOrdinal > 0 || ents.SlotTime != nil):
		res.Intent = IntentSelectSlot
	case isAffirmation(lower):
		res.Intent = IntentConfirm
	case isRejection(lower):
		res.Intent = IntentDecline
	case containsAny(lower, "book", "schedule", "appointment", "meeting", "meet", "discuss", "talk", "speak", "advice", "advisor", "consult"):
		res.Intent = IntentBook
	case ents.Topic != "" || ents.WindowFrom != nil || ents.Duration != nil:
		res.Intent = IntentProvide
	default:
		res.Intent = IntentUnknown
	}

	return res, nil
}

func (e *RulesExtractor) findBookingCode(text string) string {
	for _, m := range bookingCodeRe.FindAllString(strings.ToUpper(text), -1) {
		// Weekday names and similar words match the shape; require a digit.
		if strings.ContainsAny(m, "0123456789") {
			return m
		}
	}
	return ""
}

func extractTopic(lower string) string {
	markers := []string{"about ", "discuss ", "regarding ", "talk over "}
	for _, marker := range markers {
		idx := strings.Index(lower, marker)
		if idx < 0 {
			continue
		}
		rest := lower[idx+len(marker):]
		return trimAtTimePhrase(rest)
	}
	return ""
}

// trimAtTimePhrase cuts a topic candidate where scheduling language begins.
func trimAtTimePhrase(s string) string {
	cutWords := []string{
		" next ", " tomorrow", " today", " this ", " on monday", " on tuesday",
		" on wednesday", " on thursday", " on friday", " on saturday", " on sunday",
		" at ", " for ", " sometime", " morning", " afternoon", " evening",
	}
	cut := len(s)
	for _, w := range cutWords {
		if idx := strings.Index(s, w); idx >= 0 && idx < cut {
			cut = idx
		}
	}
	return strings.Trim(strings.TrimSpace(s[:cut]), ".,!?")
}

func extractOrdinal(lower string, offered int) int {
	for word, n := range ordinalWords {
		if strings.Contains(lower, "the "+word) || strings.Contains(lower, word+" one") || lower == word {
			if offered == 0 || n <= offered {
				return n
			}
		}
	}
	if strings.Contains(lower, "last one") && offered > 0 {
		return offered
	}
	if m := ordinalRe.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n > 0 && (offered == 0 || n <= offered) {
			return n
		}
	}
	// A bare small number is a selection only when slots are on the table.
	if offered > 0 {
		if n, err := strconv.Atoi(strings.Trim(lower, ".,!? ")); err == nil && n >= 1 && n <= offered {
			return n
		}
	}
	return 0
}

func (e *RulesExtractor) extractWindow(lower string) (*time.Time, *time.Time) {
	now := e.now().UTC()
	var day time.Time
	found := false

	switch {
	case strings.Contains(lower, "tomorrow"):
		day = now.AddDate(0, 0, 1)
		found = true
	case strings.Contains(lower, "today"):
		day = now
		found = true
	default:
		for name, wd := range weekdays {
			if !strings.Contains(lower, name) {
				continue
			}
			days := (int(wd) - int(now.Weekday()) + 7) % 7
			if days == 0 {
				days = 7
			}
			day = now.AddDate(0, 0, days)
			found = true
			break
		}
	}
	if !found {
		return nil, nil
	}

	startHour, endHour := 9, 17
	switch {
	case strings.Contains(lower, "morning"):
		startHour, endHour = 9, 12
	case strings.Contains(lower, "afternoon"):
		startHour, endHour = 12, 17
	case strings.Contains(lower, "evening"):
		startHour, endHour = 17, 20
	}

	from := time.Date(day.Year(), day.Month(), day.Day(), startHour, 0, 0, 0, time.UTC)
	to := time.Date(day.Year(), day.Month(), day.Day(), endHour, 0, 0, 0, time.UTC)
	return &from, &to
}

func extractDuration(lower string) *time.Duration {
	if strings.Contains(lower, "half an hour") || strings.Contains(lower, "half hour") {
		d := 30 * time.Minute
		return &d
	}
	if m := minutesRe.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n > 0 {
			d := time.Duration(n) * time.Minute
			return &d
		}
	}
	if m := hoursRe.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n > 0 {
			d := time.Duration(n) * time.Hour
			return &d
		}
	}
	if strings.Contains(lower, "an hour") || strings.Contains(lower, "one hour") {
		d := time.Hour
		return &d
	}
	return nil
}

func (e *RulesExtractor) extractClockTime(lower string, offered []time.Time) *time.Time {
	m := clockTimeRe.FindStringSubmatch(lower)
	if m == nil {
		return nil
	}

	var hour, minute int
	if m[1] != "" {
		hour, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if m[3] == "pm" && hour < 12 {
			hour += 12
		}
		if m[3] == "am" && hour == 12 {
			hour = 0
		}
	} else {
		hour, _ = strconv.Atoi(m[4])
		minute, _ = strconv.Atoi(m[5])
	}
	if hour > 23 || minute > 59 {
		return nil
	}

	// Anchor to the offered slot sharing the wall-clock time when possible.
	for _, start := range offered {
		if start.UTC().Hour() == hour && start.UTC().Minute() == minute {
			t := start.UTC()
			return &t
		}
	}
	now := e.now().UTC()
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	return &t
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func isAffirmation(lower string) bool {
	trimmed := strings.Trim(lower, ".,!? ")
	switch trimmed {
	case "yes", "yeah", "yep", "sure", "ok", "okay", "confirm", "correct", "please", "sounds good", "that works", "go ahead", "book it", "yes please":
		return true
	}
	return strings.HasPrefix(trimmed, "yes ") || strings.HasPrefix(trimmed, "sure ")
}

func isRejection(lower string) bool {
	trimmed := strings.Trim(lower, ".,!? ")
	switch trimmed {
	case "no", "nope", "nah", "neither", "none", "no thanks", "not really", "none of those":
		return true
	}
	return strings.HasPrefix(trimmed, "no ")
}
