package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mbellini/concierge/internal/booking"
	"github.com/mbellini/concierge/internal/calendar"
	"github.com/mbellini/concierge/internal/intent"
	"github.com/mbellini/concierge/internal/session"
)

// Monday 2025-03-10 08:00 UTC; "next tuesday" resolves to 2025-03-11.
func testNow() time.Time {
	return time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
}

type testRig struct {
	engine   *Engine
	sessions *session.MemoryStore
	cal      *calendar.FakeAdapter
	bookings *booking.MemoryStore
}

func newTestRig(t *testing.T, ext intent.Extractor) *testRig {
	t.Helper()
	if ext == nil {
		rules := intent.NewRulesExtractor()
		rules.SetNow(testNow)
		ext = rules
	}
	sessions := session.NewMemoryStore(time.Minute)
	cal := calendar.NewFakeAdapter()
	cal.SetNow(testNow)
	bookings := booking.NewMemoryStore()
	codes := booking.NewCodeGenerator("BK")

	eng := New(sessions, ext, cal, bookings, codes, nil, Options{
		MaxOfferedSlots:     3,
		DefaultSlotDuration: 30 * time.Minute,
		ExtractorTimeout:    time.Second,
		CalendarTimeout:     time.Second,
		MaxExtractFailures:  3,
		CodeRetries:         5,
	})
	return &testRig{engine: eng, sessions: sessions, cal: cal, bookings: bookings}
}

func (r *testRig) turn(t *testing.T, sessionID, text string) Turn {
	t.Helper()
	turn, err := r.engine.Process(context.Background(), sessionID, text)
	if err != nil {
		t.Fatalf("Process(%q) error = %v", text, err)
	}
	return turn
}

func TestHappyPathBooking(t *testing.T) {
	r := newTestRig(t, nil)

	turn := r.turn(t, "", "I'd like to discuss retirement planning next Tuesday afternoon")
	if turn.State != session.StateSlotOffered {
		t.Fatalf("state = %q, want SLOT_OFFERED", turn.State)
	}
	if turn.Session.Topic != "retirement planning" {
		t.Fatalf("topic = %q, want retirement planning", turn.Session.Topic)
	}
	if len(turn.Session.OfferedSlots) == 0 || len(turn.Session.OfferedSlots) > 3 {
		t.Fatalf("offered %d slots, want 1..3", len(turn.Session.OfferedSlots))
	}
	for _, slot := range turn.Session.OfferedSlots {
		if slot.Start.Hour() < 12 || slot.Start.Hour() >= 17 {
			t.Fatalf("offered slot %v outside the afternoon window", slot.Start)
		}
	}

	turn = r.turn(t, turn.SessionID, "the first one")
	if turn.State != session.StateSlotConfirmed {
		t.Fatalf("state = %q, want SLOT_CONFIRMED", turn.State)
	}
	if turn.Session.SelectedSlot == nil {
		t.Fatalf("selected slot not set")
	}
	found := false
	for _, slot := range turn.Session.OfferedSlots {
		if slot.Equal(*turn.Session.SelectedSlot) {
			found = true
		}
	}
	if !found {
		t.Fatalf("selected slot %v not among offers", turn.Session.SelectedSlot)
	}

	turn = r.turn(t, turn.SessionID, "yes")
	if turn.State != session.StateBooked {
		t.Fatalf("state = %q, want BOOKED", turn.State)
	}
	code := turn.Session.BookingCode
	if code == "" {
		t.Fatalf("booking code not set")
	}
	rec, err := r.bookings.Get(context.Background(), code)
	if err != nil {
		t.Fatalf("booking %q not in store: %v", code, err)
	}
	if rec.Status != booking.StatusConfirmed {
		t.Fatalf("status = %q, want confirmed", rec.Status)
	}
	if rec.Topic != "retirement planning" {
		t.Fatalf("record topic = %q", rec.Topic)
	}
}

func TestAsksTopicBeforeWindow(t *testing.T) {
	r := newTestRig(t, nil)

	turn := r.turn(t, "", "I need to book a meeting")
	if turn.State != session.StateSlotFilling {
		t.Fatalf("state = %q, want SLOT_FILLING", turn.State)
	}
	if turn.Reply != replyAskTopic {
		t.Fatalf("reply = %q, want topic prompt first", turn.Reply)
	}

	turn = r.turn(t, turn.SessionID, "it's about inheritance tax")
	if turn.State != session.StateSlotFilling {
		t.Fatalf("state = %q, want SLOT_FILLING", turn.State)
	}
	if !strings.Contains(turn.Reply, "When would suit you") {
		t.Fatalf("reply = %q, want window prompt after topic", turn.Reply)
	}
	if turn.Session.Topic != "inheritance tax" {
		t.Fatalf("topic = %q", turn.Session.Topic)
	}
}

func TestSlotConflictReoffersWithoutBooking(t *testing.T) {
	r := newTestRig(t, nil)

	turn := r.turn(t, "", "I'd like to discuss retirement planning next Tuesday afternoon")
	turn = r.turn(t, turn.SessionID, "the first one")
	selected := *turn.Session.SelectedSlot

	// Someone else takes the slot between offer and confirm.
	r.cal.Block(selected)

	turn = r.turn(t, turn.SessionID, "yes")
	if turn.State != session.StateSlotOffered {
		t.Fatalf("state = %q, want SLOT_OFFERED after conflict", turn.State)
	}
	if !strings.Contains(turn.Reply, "just taken") {
		t.Fatalf("reply = %q, want conflict notice", turn.Reply)
	}
	if turn.Session.BookingCode != "" {
		t.Fatalf("conflict must not create a booking, got code %q", turn.Session.BookingCode)
	}
	if turn.Session.SelectedSlot != nil {
		t.Fatalf("selected slot should be discarded after conflict")
	}
	if len(turn.Session.OfferedSlots) == 0 {
		t.Fatalf("expected refreshed offers")
	}
	for _, slot := range turn.Session.OfferedSlots {
		if slot.Equal(selected) {
			t.Fatalf("taken slot re-offered: %v", slot)
		}
	}
}

func TestConfirmReplayDoesNotDoubleBook(t *testing.T) {
	r := newTestRig(t, nil)

	turn := r.turn(t, "", "I'd like to discuss retirement planning next Tuesday afternoon")
	turn = r.turn(t, turn.SessionID, "the first one")
	turn = r.turn(t, turn.SessionID, "yes")
	first := turn.Session.BookingCode
	if first == "" {
		t.Fatalf("booking code not set")
	}

	// The transport retries the same confirmation.
	turn = r.turn(t, turn.SessionID, "yes")
	if turn.Session.BookingCode != first {
		t.Fatalf("replay produced a second code: %q then %q", first, turn.Session.BookingCode)
	}
	if turn.State != session.StateBooked {
		t.Fatalf("state = %q, want BOOKED", turn.State)
	}
}

func TestCancelByCode(t *testing.T) {
	r := newTestRig(t, nil)
	seed := booking.Record{
		Code:  "ABC123",
		Topic: "portfolio review",
		Slot: calendar.Slot{
			Start: time.Date(2025, 3, 12, 14, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 3, 12, 14, 30, 0, 0, time.UTC),
		},
		Status: booking.StatusConfirmed,
	}
	if err := r.bookings.Reserve(context.Background(), seed); err != nil {
		t.Fatalf("seed booking: %v", err)
	}

	turn := r.turn(t, "", "cancel my booking ABC123")
	if turn.State != session.StateCancelPending {
		t.Fatalf("state = %q, want CANCEL_PENDING", turn.State)
	}
	if turn.Session.BookingCodeToCancel != "ABC123" {
		t.Fatalf("BookingCodeToCancel = %q", turn.Session.BookingCodeToCancel)
	}

	turn = r.turn(t, turn.SessionID, "yes")
	if turn.State != session.StateGreeting {
		t.Fatalf("state = %q, want GREETING after cancel", turn.State)
	}
	rec, err := r.bookings.Get(context.Background(), "ABC123")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Status != booking.StatusCancelled {
		t.Fatalf("status = %q, want cancelled", rec.Status)
	}
}

func TestCancelWithoutCodeAsksForOne(t *testing.T) {
	r := newTestRig(t, nil)

	turn := r.turn(t, "", "I want to cancel my meeting")
	if turn.State != session.StateCancelPending {
		t.Fatalf("state = %q, want CANCEL_PENDING", turn.State)
	}
	if turn.Reply != replyAskCancelCode {
		t.Fatalf("reply = %q, want code prompt", turn.Reply)
	}

	turn = r.turn(t, turn.SessionID, "it's ABC123")
	if turn.Session.BookingCodeToCancel != "ABC123" {
		t.Fatalf("BookingCodeToCancel = %q", turn.Session.BookingCodeToCancel)
	}
	if !turn.Session.CancellationPending {
		t.Fatalf("CancellationPending should be set")
	}
}

func TestCancelUnknownCode(t *testing.T) {
	r := newTestRig(t, nil)

	turn := r.turn(t, "", "cancel booking XYZ999")
	turn = r.turn(t, turn.SessionID, "yes")
	if !strings.Contains(turn.Reply, "couldn't find") {
		t.Fatalf("reply = %q, want unknown-code notice", turn.Reply)
	}
	if turn.State != session.StateGreeting {
		t.Fatalf("state = %q, want GREETING", turn.State)
	}
}

func TestRescheduleSeedsTopic(t *testing.T) {
	r := newTestRig(t, nil)

	turn := r.turn(t, "", "I'd like to discuss retirement planning next Tuesday afternoon")
	turn = r.turn(t, turn.SessionID, "the first one")
	turn = r.turn(t, turn.SessionID, "yes")
	code := turn.Session.BookingCode

	turn = r.turn(t, turn.SessionID, "I need to reschedule")
	if turn.State != session.StateReschedulePending {
		t.Fatalf("state = %q, want RESCHEDULE_PENDING", turn.State)
	}
	if turn.Session.BookingCodeToCancel != code {
		t.Fatalf("reschedule target = %q, want %q", turn.Session.BookingCodeToCancel, code)
	}

	turn = r.turn(t, turn.SessionID, "yes")
	if turn.State != session.StateSlotFilling {
		t.Fatalf("state = %q, want SLOT_FILLING", turn.State)
	}
	if turn.Session.Topic != "retirement planning" {
		t.Fatalf("topic = %q, want seed from old booking", turn.Session.Topic)
	}
	rec, _ := r.bookings.Get(context.Background(), code)
	if rec.Status != booking.StatusRescheduled {
		t.Fatalf("old record status = %q, want rescheduled", rec.Status)
	}

	turn = r.turn(t, turn.SessionID, "wednesday morning")
	if turn.State != session.StateSlotOffered {
		t.Fatalf("state = %q, want SLOT_OFFERED", turn.State)
	}
}

func TestInvalidSelectionReprompts(t *testing.T) {
	r := newTestRig(t, nil)

	turn := r.turn(t, "", "I'd like to discuss retirement planning next Tuesday afternoon")
	offered := turn.Session.OfferedSlots

	turn = r.turn(t, turn.SessionID, "option 9")
	if turn.State != session.StateSlotOffered {
		t.Fatalf("state = %q, invalid pick must not transition", turn.State)
	}
	if turn.Session.SelectedSlot != nil {
		t.Fatalf("invalid pick must not select a slot")
	}
	if len(turn.Session.OfferedSlots) != len(offered) {
		t.Fatalf("offers changed on invalid pick")
	}
}

func TestEmptyTurnIsNoOp(t *testing.T) {
	r := newTestRig(t, nil)

	turn := r.turn(t, "", "I'd like to discuss retirement planning next Tuesday afternoon")
	state := turn.State

	turn = r.turn(t, turn.SessionID, "   ")
	if turn.State != state {
		t.Fatalf("empty turn transitioned from %q to %q", state, turn.State)
	}
}

// flakyCalendar injects outage errors in front of the fake calendar.
type flakyCalendar struct {
	*calendar.FakeAdapter
	findErr    error
	reserveErr error
}

func (c *flakyCalendar) FindSlots(ctx context.Context, w calendar.Window, d time.Duration) ([]calendar.Slot, error) {
	if c.findErr != nil {
		return nil, c.findErr
	}
	return c.FakeAdapter.FindSlots(ctx, w, d)
}

func (c *flakyCalendar) Reserve(ctx context.Context, slot calendar.Slot, summary string) error {
	if c.reserveErr != nil {
		return c.reserveErr
	}
	return c.FakeAdapter.Reserve(ctx, slot, summary)
}

// collidingStore fails Reserve with ErrAlreadyExists a set number of times
// before delegating, simulating booking-code collisions.
type collidingStore struct {
	*booking.MemoryStore
	collisions   int
	reserveCalls int
}

func (s *collidingStore) Reserve(ctx context.Context, r booking.Record) error {
	s.reserveCalls++
	if s.collisions > 0 {
		s.collisions--
		return booking.ErrAlreadyExists
	}
	return s.MemoryStore.Reserve(ctx, r)
}

func newCustomRig(t *testing.T, cal calendar.Adapter, bookings booking.Store) *testRig {
	t.Helper()
	rules := intent.NewRulesExtractor()
	rules.SetNow(testNow)
	sessions := session.NewMemoryStore(time.Minute)
	eng := New(sessions, rules, cal, bookings, booking.NewCodeGenerator("BK"), nil, Options{
		MaxOfferedSlots:     3,
		DefaultSlotDuration: 30 * time.Minute,
		ExtractorTimeout:    time.Second,
		CalendarTimeout:     time.Second,
		MaxExtractFailures:  3,
		CodeRetries:         5,
	})
	return &testRig{engine: eng, sessions: sessions}
}

func TestCalendarDownOnSearchHoldsState(t *testing.T) {
	fake := calendar.NewFakeAdapter()
	fake.SetNow(testNow)
	cal := &flakyCalendar{FakeAdapter: fake, findErr: calendar.ErrUnavailable}
	r := newCustomRig(t, cal, booking.NewMemoryStore())

	turn := r.turn(t, "", "I'd like to discuss retirement planning next Tuesday afternoon")
	if turn.State == session.StateSlotOffered {
		t.Fatalf("state = %q, must not offer slots while the calendar is down", turn.State)
	}
	if turn.Reply != replyCalendarDown {
		t.Fatalf("reply = %q, want calendar-down notice", turn.Reply)
	}
	if len(turn.Session.OfferedSlots) != 0 {
		t.Fatalf("no slots should be offered during an outage")
	}
	if !turn.Session.Preferences.HasWindow() || turn.Session.Topic == "" {
		t.Fatalf("collected fields must survive the outage so the turn can be retried")
	}

	// The calendar comes back; replaying the same turn completes the search.
	cal.findErr = nil
	turn = r.turn(t, turn.SessionID, "I'd like to discuss retirement planning next Tuesday afternoon")
	if turn.State != session.StateSlotOffered {
		t.Fatalf("state = %q, want SLOT_OFFERED after retry", turn.State)
	}
	if len(turn.Session.OfferedSlots) == 0 {
		t.Fatalf("expected offers after retry")
	}
}

func TestCalendarDownOnReserveKeepsConfirmation(t *testing.T) {
	fake := calendar.NewFakeAdapter()
	fake.SetNow(testNow)
	cal := &flakyCalendar{FakeAdapter: fake}
	bookings := booking.NewMemoryStore()
	r := newCustomRig(t, cal, bookings)

	turn := r.turn(t, "", "I'd like to discuss retirement planning next Tuesday afternoon")
	turn = r.turn(t, turn.SessionID, "the first one")
	selected := *turn.Session.SelectedSlot

	cal.reserveErr = calendar.ErrUnavailable
	turn = r.turn(t, turn.SessionID, "yes")
	if turn.State != session.StateSlotConfirmed {
		t.Fatalf("state = %q, outage must not advance or roll back the confirmation", turn.State)
	}
	if turn.Reply != replyCalendarDown {
		t.Fatalf("reply = %q, want calendar-down notice", turn.Reply)
	}
	if turn.Session.SelectedSlot == nil || !turn.Session.SelectedSlot.Equal(selected) {
		t.Fatalf("selected slot must be kept so the same confirmation can be retried")
	}
	if turn.Session.BookingCode != "" {
		t.Fatalf("outage must not mint a booking code")
	}
	if recs, _ := bookings.List(context.Background()); len(recs) != 0 {
		t.Fatalf("outage must not persist a record, got %d", len(recs))
	}

	cal.reserveErr = nil
	turn = r.turn(t, turn.SessionID, "yes")
	if turn.State != session.StateBooked {
		t.Fatalf("state = %q, want BOOKED after retry", turn.State)
	}
	if turn.Session.BookingCode == "" {
		t.Fatalf("booking code not set after retry")
	}
}

func TestBookingCodeCollisionRegenerates(t *testing.T) {
	fake := calendar.NewFakeAdapter()
	fake.SetNow(testNow)
	store := &collidingStore{MemoryStore: booking.NewMemoryStore(), collisions: 3}
	r := newCustomRig(t, fake, store)

	turn := r.turn(t, "", "I'd like to discuss retirement planning next Tuesday afternoon")
	turn = r.turn(t, turn.SessionID, "the first one")
	turn = r.turn(t, turn.SessionID, "yes")

	if turn.State != session.StateBooked {
		t.Fatalf("state = %q, want BOOKED despite collisions", turn.State)
	}
	if turn.Session.BookingCode == "" {
		t.Fatalf("booking code not set")
	}
	if store.reserveCalls != 4 {
		t.Fatalf("reserveCalls = %d, want 4 (3 collisions then success)", store.reserveCalls)
	}
	recs, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(recs) != 1 || recs[0].Code != turn.Session.BookingCode {
		t.Fatalf("store records = %+v", recs)
	}
}

func TestBookingCodeExhaustionSurfacesStorageError(t *testing.T) {
	fake := calendar.NewFakeAdapter()
	fake.SetNow(testNow)
	// More collisions than the retry budget of 5.
	store := &collidingStore{MemoryStore: booking.NewMemoryStore(), collisions: 10}
	r := newCustomRig(t, fake, store)

	turn := r.turn(t, "", "I'd like to discuss retirement planning next Tuesday afternoon")
	turn = r.turn(t, turn.SessionID, "the first one")
	turn = r.turn(t, turn.SessionID, "yes")

	if turn.Reply != replyBookingStorageDown {
		t.Fatalf("reply = %q, want storage failure notice", turn.Reply)
	}
	if turn.State != session.StateSlotConfirmed {
		t.Fatalf("state = %q, exhaustion must not advance the session", turn.State)
	}
	if turn.Session.BookingCode != "" {
		t.Fatalf("no code should be set after exhaustion")
	}
	if store.reserveCalls != 5 {
		t.Fatalf("reserveCalls = %d, want the full retry budget of 5", store.reserveCalls)
	}
	if recs, _ := store.List(context.Background()); len(recs) != 0 {
		t.Fatalf("exhaustion must not persist a record, got %d", len(recs))
	}
}

type failingExtractor struct{}

func (failingExtractor) Extract(context.Context, string, intent.Context) (intent.Result, error) {
	return intent.Result{}, intent.ErrExtraction
}

func TestExtractorFailuresEscalateToHandoff(t *testing.T) {
	r := newTestRig(t, failingExtractor{})

	turn := r.turn(t, "", "mumble")
	if turn.State != session.StateGreeting {
		t.Fatalf("state = %q, extraction failure must not transition", turn.State)
	}
	if turn.Reply != replyRepeat {
		t.Fatalf("reply = %q, want repeat prompt", turn.Reply)
	}

	turn = r.turn(t, turn.SessionID, "mumble")
	turn = r.turn(t, turn.SessionID, "mumble")
	if turn.State != session.StateHandoff {
		t.Fatalf("state = %q, want HANDOFF after 3 consecutive failures", turn.State)
	}

	// Terminal: further turns stay in handoff.
	turn = r.turn(t, turn.SessionID, "hello?")
	if turn.State != session.StateHandoff {
		t.Fatalf("state = %q, handoff should be terminal", turn.State)
	}
}

func TestUnknownSessionSurfacesNotFound(t *testing.T) {
	r := newTestRig(t, nil)
	_, err := r.engine.Process(context.Background(), "nope", "hello")
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("err = %v, want session.ErrNotFound", err)
	}
}

func TestDeclineOffersWidensSearch(t *testing.T) {
	r := newTestRig(t, nil)

	turn := r.turn(t, "", "I'd like to discuss retirement planning next Tuesday afternoon")
	turn = r.turn(t, turn.SessionID, "none of those")
	if turn.State != session.StateSlotFilling {
		t.Fatalf("state = %q, want SLOT_FILLING", turn.State)
	}
	if len(turn.Session.OfferedSlots) != 0 {
		t.Fatalf("offers should be cleared")
	}
	if turn.Session.Preferences.HasWindow() {
		t.Fatalf("window should be cleared so the user can widen it")
	}
	if turn.Session.Topic != "retirement planning" {
		t.Fatalf("topic should be kept, got %q", turn.Session.Topic)
	}
}
