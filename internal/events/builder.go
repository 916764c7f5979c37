package events

import (
	"time"

	"github.com/google/uuid"
)

// Builder constructs dial events with consistent defaults.
type Builder struct {
	nodeID string
}

// NewBuilder creates an event builder stamping events with nodeID.
func NewBuilder(nodeID string) *Builder {
	return &Builder{nodeID: nodeID}
}

func (b *Builder) newBase(eventType EventType, callSID string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		EventTime: time.Now().UTC(),
		CallSID:   callSID,
		NodeID:    b.nodeID,
	}
}

// DialStartedBuilder constructs DialStartedEvent.
type DialStartedBuilder struct {
	event *DialStartedEvent
}

// DialStarted starts building a DialStartedEvent.
func (b *Builder) DialStarted(callSID string, mode Mode) *DialStartedBuilder {
	return &DialStartedBuilder{
		event: &DialStartedEvent{
			BaseEvent: b.newBase(DialStarted, callSID),
			Mode:      mode,
		},
	}
}

func (db *DialStartedBuilder) Targets(targets []string) *DialStartedBuilder {
	db.event.Targets = targets
	return db
}

func (db *DialStartedBuilder) CallerID(id string) *DialStartedBuilder {
	db.event.CallerID = id
	return db
}

// Limits sets the answer timeout and call time limit, in seconds.
func (db *DialStartedBuilder) Limits(timeout, timeLimit int) *DialStartedBuilder {
	db.event.TimeoutS = timeout
	db.event.TimeLimit = timeLimit
	return db
}

func (db *DialStartedBuilder) Record(record bool) *DialStartedBuilder {
	db.event.Record = record
	return db
}

func (db *DialStartedBuilder) Build() *DialStartedEvent {
	return db.event
}

// DialAnswered builds a DialAnsweredEvent.
func (b *Builder) DialAnswered(callSID, legSID, target string, ring time.Duration) *DialAnsweredEvent {
	return &DialAnsweredEvent{
		BaseEvent:      b.newBase(DialAnswered, callSID),
		LegSID:         legSID,
		Target:         target,
		RingDurationMs: ring.Milliseconds(),
	}
}

// DialBridged builds a DialBridgedEvent.
func (b *Builder) DialBridged(callSID, legSID, room, recording string) *DialBridgedEvent {
	return &DialBridgedEvent{
		BaseEvent: b.newBase(DialBridged, callSID),
		LegSID:    legSID,
		Room:      room,
		Recording: recording,
	}
}

// DialEndedBuilder constructs DialEndedEvent.
type DialEndedBuilder struct {
	event *DialEndedEvent
}

// DialEnded starts building a DialEndedEvent.
func (b *Builder) DialEnded(callSID string, mode Mode) *DialEndedBuilder {
	return &DialEndedBuilder{
		event: &DialEndedEvent{
			BaseEvent: b.newBase(DialEnded, callSID),
			Mode:      mode,
		},
	}
}

func (db *DialEndedBuilder) Status(status string) *DialEndedBuilder {
	db.event.Status = status
	return db
}

func (db *DialEndedBuilder) Leg(sid string) *DialEndedBuilder {
	db.event.LegSID = sid
	return db
}

func (db *DialEndedBuilder) Duration(d time.Duration) *DialEndedBuilder {
	db.event.DurationMs = d.Milliseconds()
	return db
}

func (db *DialEndedBuilder) Recording(url string) *DialEndedBuilder {
	db.event.RecordingURL = url
	return db
}

func (db *DialEndedBuilder) Err(err error) *DialEndedBuilder {
	if err != nil {
		db.event.Error = err.Error()
	}
	return db
}

func (db *DialEndedBuilder) Build() *DialEndedEvent {
	return db.event
}

// ConferenceJoined builds the event for a call entering a conference.
func (b *Builder) ConferenceJoined(callSID, conference string, participants int, muted bool) *ConferenceEvent {
	return &ConferenceEvent{
		BaseEvent:    b.newBase(ConferenceJoined, callSID),
		Conference:   conference,
		Participants: participants,
		Muted:        muted,
	}
}

// ConferenceLeft builds the event for a call leaving a conference.
func (b *Builder) ConferenceLeft(callSID, conference string, participants int, endedRoom bool) *ConferenceEvent {
	return &ConferenceEvent{
		BaseEvent:    b.newBase(ConferenceLeft, callSID),
		Conference:   conference,
		Participants: participants,
		EndedRoom:    endedRoom,
	}
}
