package enums

import (
	"fmt"
	"strings"
)

// EventType maps to funnel_events.event_type.
type EventType string

const (
	EventPageView             EventType = "page_view"
	EventLeadCaptured         EventType = "lead_captured"
	EventFormSubmitted        EventType = "form_submitted"
	EventSignupStarted        EventType = "signup_started"
	EventAppointmentBooked    EventType = "appointment_booked"
	EventAppointmentCancelled EventType = "appointment_cancelled"
	EventRegistered           EventType = "registered"
	EventTicketPurchased      EventType = "ticket_purchased"
	EventAttended             EventType = "attended"
	EventNoShow               EventType = "no_show"
	EventConverted            EventType = "converted"
)

// validEventTypes is ordered by funnel stage, top of funnel first.
var validEventTypes = []EventType{
	EventPageView,
	EventLeadCaptured,
	EventFormSubmitted,
	EventSignupStarted,
	EventAppointmentBooked,
	EventAppointmentCancelled,
	EventRegistered,
	EventTicketPurchased,
	EventAttended,
	EventNoShow,
	EventConverted,
}

// EventTypes returns the canonical event types in funnel order.
func EventTypes() []EventType {
	out := make([]EventType, len(validEventTypes))
	copy(out, validEventTypes)
	return out
}

// IsValid checks whether the given type matches the canonical enum.
func (e EventType) IsValid() bool {
	return e.StageRank() >= 0
}

// StageRank is the position of the event type in the funnel, or -1 when unknown.
func (e EventType) StageRank() int {
	for i, candidate := range validEventTypes {
		if candidate == e {
			return i
		}
	}
	return -1
}

func (e EventType) String() string {
	return string(e)
}

// ParseEventType converts raw strings into EventType.
func ParseEventType(value string) (EventType, error) {
	normalized := EventType(strings.ToLower(strings.TrimSpace(value)))
	if normalized.IsValid() {
		return normalized, nil
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
