package engine

import (
	"fmt"
	"strings"

	"github.com/mbellini/concierge/internal/calendar"
	"github.com/mbellini/concierge/internal/session"
)

const (
	replyGreeting = "Hi, I can book a meeting with your advisor. What would you like to discuss?"
	replyAskTopic = "What would you like to discuss with your advisor?"
	replyRepeat   = "Sorry, I didn't catch that. Could you say it again?"
	replyHandoff  = "I'm having trouble understanding. Let me connect you with a colleague who can help."

	replyNoAvailability = "I couldn't find any openings in that window. Could you give me a wider or different time range?"
	replyWiderWindow    = "No problem. What other day or time range should I look at?"
	replySlotTaken      = "I'm sorry, that time was just taken."

	replyCalendarDown       = "I can't reach the calendar right now. Please try again in a moment."
	replyBookingStorageDown = "Something went wrong saving the booking. Please try again in a moment."

	replyAskCancelCode     = "Which booking should I cancel? Please give me the booking code."
	replyAskRescheduleCode = "Which booking should I move? Please give me the booking code."
)

// Greeting is the opening line a transport shows before the first turn.
func Greeting() string { return replyGreeting }

func replyEmptyTurn(s *session.Session) string {
	if s.State == session.StateGreeting {
		return replyGreeting
	}
	return replyRepeat
}

func replyAskWindow(topic string) string {
	return fmt.Sprintf("Got it, %s. When would suit you? You can say something like \"next Tuesday afternoon\".", topic)
}

func replyOffer(slots []calendar.Slot) string {
	var b strings.Builder
	b.WriteString("Here's what's available: ")
	for i, slot := range slots {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d) %s", i+1, formatSlot(slot))
	}
	b.WriteString(". Which one works for you?")
	return b.String()
}

func replyPickAgain(slots []calendar.Slot) string {
	if len(slots) == 0 {
		return replyWiderWindow
	}
	return "Please pick one of the offered times: " + slotList(slots) + "."
}

func replyConfirmSlot(topic string, slot calendar.Slot) string {
	return fmt.Sprintf("Shall I book %s on %s? (yes/no)", topic, formatSlot(slot))
}

func replyBooked(code string, slot calendar.Slot) string {
	return fmt.Sprintf("Done! Your meeting is booked for %s. Your booking code is %s.", formatSlot(slot), code)
}

func replyAlreadyBooked(code string) string {
	return fmt.Sprintf("You're all set, booking %s is confirmed. Anything else?", code)
}

func replyAnythingElse(code string) string {
	return fmt.Sprintf("Your booking %s is confirmed. Would you like to book, cancel, or reschedule anything?", code)
}

func replyConfirmCancel(code string) string {
	return fmt.Sprintf("Should I cancel booking %s? (yes/no)", code)
}

func replyConfirmReschedule(code string) string {
	return fmt.Sprintf("Should I move booking %s to a new time? (yes/no)", code)
}

func replyCancelled(code string) string {
	return fmt.Sprintf("Booking %s is cancelled. Is there anything else I can help with?", code)
}

func replyUnknownBooking(code string) string {
	return fmt.Sprintf("I couldn't find a booking with code %s. Please check the code and try again.", code)
}

func replyKept(state session.State) string {
	if state == session.StateBooked {
		return "Okay, your booking stays as it is. Anything else?"
	}
	return "Okay, nothing changed. What would you like to do?"
}

func formatSlot(slot calendar.Slot) string {
	return slot.Start.UTC().Format("Mon Jan 2 at 15:04")
}

func slotList(slots []calendar.Slot) string {
	parts := make([]string, 0, len(slots))
	for i, slot := range slots {
		parts = append(parts, fmt.Sprintf("%d) %s", i+1, formatSlot(slot)))
	}
	return strings.Join(parts, ", ")
}
