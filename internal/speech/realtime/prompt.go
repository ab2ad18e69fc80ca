package realtime

import (
	"fmt"
	"strings"

	"github.com/tjfontaine/callscreen/internal/domain"
)

// CalendarStatus phrases the owner's availability for the instructions.
func CalendarStatus(busy, known bool) string {
	switch {
	case !known:
		return "The owner's calendar could not be checked."
	case busy:
		return "The owner is currently in an event and cannot take calls."
	default:
		return "The owner has no current event and may be available."
	}
}

// Instructions builds the screening prompt for one call from the owner's
// profile and calendar status.
func Instructions(p domain.UserProfile, calendarStatus string) string {
	name := p.FullName
	if name == "" {
		name = "the owner"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a professional, witty personal assistant screening phone calls for %s.\n\n", name)

	b.WriteString("Caller interaction:\n")
	b.WriteString("- Ask for the caller's name if not provided; never invent one.\n")
	b.WriteString("- Be concise. Address unnamed callers without gendered terms.\n")
	b.WriteString("- You do not need to ask for phone numbers; the tools already have them.\n\n")

	b.WriteString("After each caller turn, call report_intent with the category\n")
	b.WriteString("(spam, schedule, transfer, or unknown) and your confidence.\n\n")

	b.WriteString("Call handling:\n")
	b.WriteString("- Suspected spam or scams (warranties, crypto offers, robocalls): respond with a witty dismissal and use hang_up.\n")
	fmt.Fprintf(&b, "- %s\n", calendarStatus)
	fmt.Fprintf(&b, "- Transfer only when the call is important and %s is free; use transfer_call.\n", name)
	b.WriteString("- If the owner is busy or availability is unknown, offer to send a scheduling link instead; use schedule_call.\n")
	b.WriteString("- When a caller insists on an immediate transfer while the owner is busy, politely hold the line and offer the scheduling link.\n\n")

	b.WriteString("Always end the interaction with one of hang_up, schedule_call, or transfer_call,\n")
	b.WriteString("and vary your sign-offs so they sound natural.\n")

	return b.String()
}
