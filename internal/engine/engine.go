package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mbellini/concierge/internal/booking"
	"github.com/mbellini/concierge/internal/calendar"
	"github.com/mbellini/concierge/internal/intent"
	"github.com/mbellini/concierge/internal/observability"
	"github.com/mbellini/concierge/internal/session"
)

// Effect reports a collaborator call the engine made while processing a turn,
// so transports and logs can see what a turn actually did.
type Effect struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

const (
	EffectCalendarSearch  = "calendar_search"
	EffectCalendarReserve = "calendar_reserve"
	EffectBookingPersist  = "booking_persist"
	EffectBookingStatus   = "booking_status"
	EffectAuditAppend     = "audit_append"
)

// Turn is the outcome of processing one user message.
type Turn struct {
	SessionID string           `json:"session_id"`
	Reply     string           `json:"reply"`
	State     session.State    `json:"state"`
	Session   *session.Session `json:"session"`
	Effects   []Effect         `json:"effects,omitempty"`
}

// Auditor records booking lifecycle events out of band. Failures are logged
// as effects, never surfaced to the user.
type Auditor interface {
	Append(ctx context.Context, event string, r booking.Record) error
}

// Options bound the engine's behavior.
type Options struct {
	MaxOfferedSlots     int
	DefaultSlotDuration time.Duration
	ExtractorTimeout    time.Duration
	CalendarTimeout     time.Duration
	MaxExtractFailures  int
	CodeRetries         int
}

func (o *Options) applyDefaults() {
	if o.MaxOfferedSlots <= 0 {
		o.MaxOfferedSlots = 3
	}
	if o.DefaultSlotDuration <= 0 {
		o.DefaultSlotDuration = 30 * time.Minute
	}
	if o.ExtractorTimeout <= 0 {
		o.ExtractorTimeout = 8 * time.Second
	}
	if o.CalendarTimeout <= 0 {
		o.CalendarTimeout = 10 * time.Second
	}
	if o.MaxExtractFailures <= 0 {
		o.MaxExtractFailures = 3
	}
	if o.CodeRetries <= 0 {
		o.CodeRetries = 5
	}
}

// Engine is the booking conversation state machine. It owns all session
// mutation; collaborators are reached only through the injected interfaces,
// which keeps every transition deterministic and testable.
type Engine struct {
	sessions  session.Store
	gate      *session.Gate
	extractor intent.Extractor
	cal       calendar.Adapter
	bookings  booking.Store
	codes     *booking.CodeGenerator
	audit     Auditor
	metrics   *observability.Metrics
	opts      Options
}

func New(
	sessions session.Store,
	extractor intent.Extractor,
	cal calendar.Adapter,
	bookings booking.Store,
	codes *booking.CodeGenerator,
	metrics *observability.Metrics,
	opts Options,
) *Engine {
	opts.applyDefaults()
	return &Engine{
		sessions:  sessions,
		gate:      session.NewGate(),
		extractor: extractor,
		cal:       cal,
		bookings:  bookings,
		codes:     codes,
		metrics:   metrics,
		opts:      opts,
	}
}

// SetAuditor attaches an optional booking audit trail.
func (e *Engine) SetAuditor(a Auditor) { e.audit = a }

// Process runs one user turn against its session. Turns for the same session
// are serialized; a concurrent turn fails with session.ErrTurnInFlight and an
// unknown session id with session.ErrNotFound.
func (e *Engine) Process(ctx context.Context, sessionID, userText string) (Turn, error) {
	started := time.Now()

	var s *session.Session
	var err error
	if strings.TrimSpace(sessionID) == "" {
		s, err = e.sessions.Create(ctx)
	} else {
		s, err = e.sessions.Get(ctx, sessionID)
	}
	if err != nil {
		return Turn{}, err
	}

	if err := e.gate.Acquire(s.ID); err != nil {
		return Turn{}, err
	}
	defer e.gate.Release(s.ID)

	t := &turn{s: s}
	reply := e.step(ctx, t, userText)

	s.Touch()
	if err := e.sessions.Put(ctx, s); err != nil {
		return Turn{}, err
	}

	if e.metrics != nil {
		e.metrics.TurnEvents.WithLabelValues(string(s.State)).Inc()
		e.metrics.ObserveTurnLatency(time.Since(started))
	}

	return Turn{
		SessionID: s.ID,
		Reply:     reply,
		State:     s.State,
		Session:   s.Clone(),
		Effects:   t.effects,
	}, nil
}

// turn accumulates the side effects of one Process call.
type turn struct {
	s       *session.Session
	effects []Effect
}

func (t *turn) effect(kind, detail string) {
	t.effects = append(t.effects, Effect{Kind: kind, Detail: detail})
}

func (e *Engine) step(ctx context.Context, t *turn, userText string) string {
	s := t.s

	// An empty turn never transitions; it only asks the user to speak up.
	if strings.TrimSpace(userText) == "" {
		return replyEmptyTurn(s)
	}

	if s.State == session.StateHandoff {
		return replyHandoff
	}

	res, err := e.extract(ctx, userText, s)
	if err != nil {
		s.ExtractFailures++
		if e.metrics != nil {
			e.metrics.ExtractorErrors.Inc()
		}
		if s.ExtractFailures >= e.opts.MaxExtractFailures {
			s.State = session.StateHandoff
			return replyHandoff
		}
		return replyRepeat
	}
	s.ExtractFailures = 0
	s.Intent = string(res.Intent)

	correction := res.Intent == intent.IntentCorrection
	s.Merge(session.Update{
		Topic:      res.Entities.Topic,
		WindowFrom: res.Entities.WindowFrom,
		WindowTo:   res.Entities.WindowTo,
		Duration:   res.Entities.Duration,
	}, correction)

	// Cancel/reschedule requests cut across the main flow from any state.
	if s.State != session.StateCancelPending && s.State != session.StateReschedulePending {
		switch res.Intent {
		case intent.IntentCancel:
			return e.enterCancel(s, res.Entities.BookingCode)
		case intent.IntentReschedule:
			return e.enterReschedule(s, res.Entities.BookingCode)
		}
	}

	switch s.State {
	case session.StateGreeting:
		if !res.Intent.Recognizable() {
			return replyGreeting
		}
		s.State = session.StateIntentPending
		return e.fillOrSearch(ctx, t)

	case session.StateIntentPending, session.StateSlotFilling:
		return e.fillOrSearch(ctx, t)

	case session.StateSlotOffered:
		return e.handleSlotOffered(ctx, t, res)

	case session.StateSlotConfirmed:
		return e.handleSlotConfirmed(ctx, t, res)

	case session.StateBooked:
		return e.handleBooked(ctx, t, res)

	case session.StateCancelPending:
		return e.handleCancelPending(ctx, t, res)

	case session.StateReschedulePending:
		return e.handleReschedulePending(ctx, t, res)
	}

	return replyGreeting
}

func (e *Engine) extract(ctx context.Context, text string, s *session.Session) (intent.Result, error) {
	ectx, cancel := context.WithTimeout(ctx, e.opts.ExtractorTimeout)
	defer cancel()

	starts := make([]time.Time, 0, len(s.OfferedSlots))
	for _, slot := range s.OfferedSlots {
		starts = append(starts, slot.Start)
	}
	return e.extractor.Extract(ectx, text, intent.Context{
		State:        string(s.State),
		Topic:        s.Topic,
		HasWindow:    s.Preferences.HasWindow(),
		OfferedSlots: starts,
		BookingCode:  s.BookingCode,
	})
}

// fillOrSearch asks for the next missing field, topic first, then runs the
// calendar search once everything required is present.
func (e *Engine) fillOrSearch(ctx context.Context, t *turn) string {
	s := t.s

	if s.Topic == "" {
		s.State = session.StateSlotFilling
		return replyAskTopic
	}
	if !s.Preferences.HasWindow() {
		s.State = session.StateSlotFilling
		return replyAskWindow(s.Topic)
	}
	return e.searchAndOffer(ctx, t)
}

func (e *Engine) searchAndOffer(ctx context.Context, t *turn) string {
	s := t.s

	cctx, cancel := context.WithTimeout(ctx, e.opts.CalendarTimeout)
	defer cancel()

	slots, err := e.cal.FindSlots(cctx, s.Preferences.Window(), e.slotDuration(s))
	t.effect(EffectCalendarSearch, s.Preferences.Window().From.Format(time.RFC3339))
	if err != nil {
		// Availability is unknown; hold position so the user can retry the turn.
		return replyCalendarDown
	}
	if len(slots) == 0 {
		s.State = session.StateSlotFilling
		s.ClearOffers()
		s.ClearWindow()
		return replyNoAvailability
	}

	if len(slots) > e.opts.MaxOfferedSlots {
		slots = slots[:e.opts.MaxOfferedSlots]
	}
	s.ClearOffers()
	s.OfferedSlots = slots
	s.State = session.StateSlotOffered
	return replyOffer(slots)
}

func (e *Engine) handleSlotOffered(ctx context.Context, t *turn, res intent.Result) string {
	s := t.s

	switch res.Intent {
	case intent.IntentSelectSlot, intent.IntentConfirm, intent.IntentProvide:
		slot, ok := matchOffered(s.OfferedSlots, res.Entities.SlotOrdinal, res.Entities.SlotTime)
		if !ok {
			return replyPickAgain(s.OfferedSlots)
		}
		s.SelectedSlot = &slot
		s.State = session.StateSlotConfirmed
		return replyConfirmSlot(s.Topic, slot)

	case intent.IntentDecline:
		s.State = session.StateSlotFilling
		s.ClearOffers()
		s.ClearWindow()
		return replyWiderWindow

	case intent.IntentCorrection:
		// A corrected window or topic restarts the search with merged fields.
		return e.fillOrSearch(ctx, t)

	default:
		return replyPickAgain(s.OfferedSlots)
	}
}

func (e *Engine) handleSlotConfirmed(ctx context.Context, t *turn, res intent.Result) string {
	s := t.s

	switch res.Intent {
	case intent.IntentConfirm:
		return e.book(ctx, t)

	case intent.IntentDecline:
		s.SelectedSlot = nil
		s.State = session.StateSlotOffered
		return replyPickAgain(s.OfferedSlots)

	case intent.IntentSelectSlot:
		slot, ok := matchOffered(s.OfferedSlots, res.Entities.SlotOrdinal, res.Entities.SlotTime)
		if !ok {
			return replyPickAgain(s.OfferedSlots)
		}
		s.SelectedSlot = &slot
		return replyConfirmSlot(s.Topic, slot)

	default:
		if s.SelectedSlot != nil {
			return replyConfirmSlot(s.Topic, *s.SelectedSlot)
		}
		s.State = session.StateSlotOffered
		return replyPickAgain(s.OfferedSlots)
	}
}

// book reserves the selected slot against the calendar and persists the
// record. Reserving the calendar first guarantees a lost slot race never
// leaves a booking record behind.
func (e *Engine) book(ctx context.Context, t *turn) string {
	s := t.s

	// Replayed confirm turns must not create a second booking.
	if s.BookingCode != "" {
		s.State = session.StateBooked
		return replyAlreadyBooked(s.BookingCode)
	}
	if s.SelectedSlot == nil {
		s.State = session.StateSlotOffered
		return replyPickAgain(s.OfferedSlots)
	}
	slot := *s.SelectedSlot

	cctx, cancel := context.WithTimeout(ctx, e.opts.CalendarTimeout)
	defer cancel()
	err := e.cal.Reserve(cctx, slot, s.Topic)
	t.effect(EffectCalendarReserve, slot.Start.Format(time.RFC3339))
	if errors.Is(err, calendar.ErrSlotConflict) {
		if e.metrics != nil {
			e.metrics.SlotConflicts.Inc()
		}
		s.SelectedSlot = nil
		return replySlotTaken + " " + e.searchAndOffer(ctx, t)
	}
	if err != nil {
		// Session state intact, so the same confirmation can be retried.
		return replyCalendarDown
	}

	rec, bErr := e.persistBooking(ctx, t, slot)
	if bErr != nil {
		t.effect(EffectBookingPersist, "failed: "+bErr.Error())
		return replyBookingStorageDown
	}

	s.BookingCode = rec.Code
	s.State = session.StateBooked
	if e.metrics != nil {
		e.metrics.BookingEvents.WithLabelValues("created").Inc()
	}
	e.appendAudit(ctx, t, "created", rec)
	return replyBooked(rec.Code, slot)
}

func (e *Engine) persistBooking(ctx context.Context, t *turn, slot calendar.Slot) (booking.Record, error) {
	s := t.s
	for attempt := 0; attempt < e.opts.CodeRetries; attempt++ {
		code, err := e.codes.NewCode()
		if err != nil {
			return booking.Record{}, err
		}
		rec := booking.Record{
			Code:   code,
			Topic:  s.Topic,
			Slot:   slot,
			Status: booking.StatusConfirmed,
		}
		err = e.bookings.Reserve(ctx, rec)
		if err == nil {
			t.effect(EffectBookingPersist, code)
			return rec, nil
		}
		if errors.Is(err, booking.ErrAlreadyExists) {
			continue
		}
		return booking.Record{}, err
	}
	return booking.Record{}, booking.ErrStorageFatal
}

func (e *Engine) handleBooked(ctx context.Context, t *turn, res intent.Result) string {
	s := t.s

	switch res.Intent {
	case intent.IntentBook, intent.IntentProvide:
		// The finished booking lives in the store; the session starts a
		// fresh flow.
		s.ResetFlow()
		s.State = session.StateIntentPending
		s.Merge(session.Update{
			Topic:      res.Entities.Topic,
			WindowFrom: res.Entities.WindowFrom,
			WindowTo:   res.Entities.WindowTo,
			Duration:   res.Entities.Duration,
		}, false)
		return e.fillOrSearch(ctx, t)

	case intent.IntentConfirm:
		return replyAlreadyBooked(s.BookingCode)

	default:
		return replyAnythingElse(s.BookingCode)
	}
}

func (e *Engine) enterCancel(s *session.Session, code string) string {
	if code == "" {
		// Policy: "cancel my meeting" without a code falls back to the booking
		// made in this session; otherwise we ask rather than guess.
		code = s.BookingCode
	}
	s.State = session.StateCancelPending
	s.BookingCodeToCancel = code
	if code == "" {
		s.CancellationPending = false
		return replyAskCancelCode
	}
	s.CancellationPending = true
	return replyConfirmCancel(code)
}

func (e *Engine) enterReschedule(s *session.Session, code string) string {
	if code == "" {
		code = s.BookingCode
	}
	s.State = session.StateReschedulePending
	s.ReschedulePending = true
	s.BookingCodeToCancel = code
	if code == "" {
		return replyAskRescheduleCode
	}
	return replyConfirmReschedule(code)
}

func (e *Engine) handleCancelPending(ctx context.Context, t *turn, res intent.Result) string {
	s := t.s

	if s.BookingCodeToCancel == "" {
		if res.Entities.BookingCode == "" {
			return replyAskCancelCode
		}
		s.BookingCodeToCancel = res.Entities.BookingCode
		s.CancellationPending = true
		return replyConfirmCancel(s.BookingCodeToCancel)
	}

	switch res.Intent {
	case intent.IntentConfirm:
		code := s.BookingCodeToCancel
		err := e.bookings.SetStatus(ctx, code, booking.StatusCancelled)
		t.effect(EffectBookingStatus, code+": cancelled")
		if errors.Is(err, booking.ErrNotFound) {
			e.leaveSubFlow(s)
			return replyUnknownBooking(code)
		}
		if err != nil {
			// Keep the sub-dialogue so the confirmation can be retried.
			return replyBookingStorageDown
		}
		if e.metrics != nil {
			e.metrics.BookingEvents.WithLabelValues("cancelled").Inc()
		}
		if rec, gErr := e.bookings.Get(ctx, code); gErr == nil {
			e.appendAudit(ctx, t, "cancelled", rec)
		}
		if s.BookingCode == code {
			s.BookingCode = ""
		}
		e.leaveSubFlow(s)
		s.State = session.StateGreeting
		return replyCancelled(code)

	case intent.IntentDecline:
		e.leaveSubFlow(s)
		return replyKept(s.State)

	default:
		return replyConfirmCancel(s.BookingCodeToCancel)
	}
}

func (e *Engine) handleReschedulePending(ctx context.Context, t *turn, res intent.Result) string {
	s := t.s

	if s.BookingCodeToCancel == "" {
		if res.Entities.BookingCode == "" {
			return replyAskRescheduleCode
		}
		s.BookingCodeToCancel = res.Entities.BookingCode
		return replyConfirmReschedule(s.BookingCodeToCancel)
	}

	switch res.Intent {
	case intent.IntentConfirm:
		code := s.BookingCodeToCancel
		rec, err := e.bookings.Get(ctx, code)
		if errors.Is(err, booking.ErrNotFound) {
			e.leaveSubFlow(s)
			return replyUnknownBooking(code)
		}
		if err != nil {
			return replyBookingStorageDown
		}
		if err := e.bookings.SetStatus(ctx, code, booking.StatusRescheduled); err != nil {
			return replyBookingStorageDown
		}
		t.effect(EffectBookingStatus, code+": rescheduled")
		if e.metrics != nil {
			e.metrics.BookingEvents.WithLabelValues("rescheduled").Inc()
		}
		e.appendAudit(ctx, t, "rescheduled", rec)

		// Restart slot filling seeded with the old topic.
		s.ResetFlow()
		s.Topic = rec.Topic
		s.State = session.StateSlotFilling
		return replyAskWindow(rec.Topic)

	case intent.IntentDecline:
		e.leaveSubFlow(s)
		return replyKept(s.State)

	default:
		return replyConfirmReschedule(s.BookingCodeToCancel)
	}
}

// leaveSubFlow clears cancel/reschedule scoping and returns the session to
// its resting state: BOOKED when this conversation holds a booking,
// GREETING otherwise.
func (e *Engine) leaveSubFlow(s *session.Session) {
	s.BookingCodeToCancel = ""
	s.CancellationPending = false
	s.ReschedulePending = false
	if s.BookingCode != "" {
		s.State = session.StateBooked
	} else {
		s.State = session.StateGreeting
	}
}

func (e *Engine) appendAudit(ctx context.Context, t *turn, event string, rec booking.Record) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Append(ctx, event, rec); err != nil {
		t.effect(EffectAuditAppend, "failed: "+err.Error())
		return
	}
	t.effect(EffectAuditAppend, event+" "+rec.Code)
}

func (e *Engine) slotDuration(s *session.Session) time.Duration {
	if s.Preferences.Duration != nil {
		return *s.Preferences.Duration
	}
	return e.opts.DefaultSlotDuration
}

// matchOffered resolves a selection by ordinal or restated time against the
// current offers. Selections that name anything else fail closed.
func matchOffered(offers []calendar.Slot, ordinal int, at *time.Time) (calendar.Slot, bool) {
	if ordinal >= 1 && ordinal <= len(offers) {
		return offers[ordinal-1], true
	}
	if at != nil {
		for _, slot := range offers {
			if slot.Start.Equal(*at) {
				return slot, true
			}
		}
		for _, slot := range offers {
			if slot.Start.UTC().Hour() == at.UTC().Hour() && slot.Start.UTC().Minute() == at.UTC().Minute() {
				return slot, true
			}
		}
	}
	return calendar.Slot{}, false
}
