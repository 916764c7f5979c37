// Package events defines dial lifecycle events and the publishers that ship
// them: no-op, logging, in-process fan-out and NATS JetStream.
package events

import "time"

// EventType identifies the type of dial event.
type EventType string

const (
	// DialStarted fires when a dial instruction begins executing.
	DialStarted EventType = "dial.started"
	// DialAnswered fires when a dialed leg is answered and wins the race.
	DialAnswered EventType = "dial.answered"
	// DialBridged fires when the answered leg joins the caller's room.
	DialBridged EventType = "dial.bridged"
	// DialEnded fires once per dial with its outcome.
	DialEnded EventType = "dial.ended"
	// ConferenceJoined fires when a call enters a named conference.
	ConferenceJoined EventType = "conference.joined"
	// ConferenceLeft fires when a call leaves a named conference.
	ConferenceLeft EventType = "conference.left"
)

// Mode is the shape of a dial.
type Mode string

const (
	ModeSingle     Mode = "single"
	ModeFork       Mode = "fork"
	ModeConference Mode = "conference"
)

// Event is the interface for all dial events.
type Event interface {
	// ID returns the unique event identifier, used for deduplication.
	ID() string
	// Type returns the event type for routing/filtering.
	Type() EventType
	// Subject returns the subject this event publishes to.
	Subject() string
	// Timestamp returns when the event occurred.
	Timestamp() time.Time
	// CallID returns the SID of the call that executed the dial.
	CallID() string
}

// BaseEvent contains fields common to all events.
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType EventType `json:"event_type"`
	EventTime time.Time `json:"event_time"`
	// CallSID is the anchoring call.
	CallSID string `json:"call_sid"`
	// NodeID identifies the dialer instance.
	NodeID string `json:"node_id,omitempty"`
}

func (e *BaseEvent) ID() string           { return e.EventID }
func (e *BaseEvent) Type() EventType      { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time { return e.EventTime }
func (e *BaseEvent) CallID() string       { return e.CallSID }

// Subject returns dialer.calls.<call_sid>.<suffix>.
func (e *BaseEvent) Subject() string {
	return CallSubject(e.CallSID, SubjectForEventType(e.EventType))
}

// DialStartedEvent fires when a dial begins.
type DialStartedEvent struct {
	BaseEvent
	Mode      Mode     `json:"mode"`
	Targets   []string `json:"targets"`
	CallerID  string   `json:"caller_id,omitempty"`
	TimeoutS  int      `json:"timeout_s"`
	TimeLimit int      `json:"time_limit_s"`
	Record    bool     `json:"record"`
}

// DialAnsweredEvent fires when a leg answers.
type DialAnsweredEvent struct {
	BaseEvent
	LegSID         string `json:"leg_sid"`
	Target         string `json:"target"`
	RingDurationMs int64  `json:"ring_duration_ms"`
}

// DialBridgedEvent fires when the answered leg joins the room.
type DialBridgedEvent struct {
	BaseEvent
	LegSID    string `json:"leg_sid"`
	Room      string `json:"room"`
	Recording string `json:"recording_url,omitempty"`
}

// DialEndedEvent fires once with the dial outcome.
type DialEndedEvent struct {
	BaseEvent
	Mode         Mode   `json:"mode"`
	Status       string `json:"status"`
	LegSID       string `json:"leg_sid,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
	RecordingURL string `json:"recording_url,omitempty"`
	Error        string `json:"error,omitempty"`
}

// ConferenceEvent fires when a call enters or leaves a named conference.
type ConferenceEvent struct {
	BaseEvent
	Conference   string `json:"conference"`
	Participants int    `json:"participants"`
	Muted        bool   `json:"muted"`
	EndedRoom    bool   `json:"ended_room,omitempty"`
}
