package events

import "fmt"

// Subject naming conventions.
//
// Hierarchy:
//   dialer.calls.<call_sid>.<event_suffix>  - Per-call dial events
//
// Wildcard subscriptions:
//   dialer.calls.>                          - All dial events
//   dialer.calls.*.ended                    - Every dial outcome
//   dialer.calls.<call_sid>.*               - All events for one call

const (
	// SubjectPrefix is the root of all dialer subjects
	SubjectPrefix = "dialer"

	SubjectCalls            = SubjectPrefix + ".calls"
	SubjectDialStarted      = "started"
	SubjectDialAnswered     = "answered"
	SubjectDialBridged      = "bridged"
	SubjectDialEnded        = "ended"
	SubjectConferenceJoined = "conference.joined"
	SubjectConferenceLeft   = "conference.left"
)

// CallSubject builds a subject for a specific call event.
// Example: CallSubject("CA123", "ended") => "dialer.calls.CA123.ended"
func CallSubject(callSID string, eventSuffix string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectCalls, callSID, eventSuffix)
}

var (
	// PatternAllCalls matches all dial events.
	PatternAllCalls = SubjectCalls + ".>"

	// PatternDialEnded matches every dial outcome.
	PatternDialEnded = SubjectCalls + ".*.ended"
)

// SubjectForEventType returns the suffix used for a given event type.
func SubjectForEventType(t EventType) string {
	switch t {
	case DialStarted:
		return SubjectDialStarted
	case DialAnswered:
		return SubjectDialAnswered
	case DialBridged:
		return SubjectDialBridged
	case DialEnded:
		return SubjectDialEnded
	case ConferenceJoined:
		return SubjectConferenceJoined
	case ConferenceLeft:
		return SubjectConferenceLeft
	default:
		return "unknown"
	}
}
