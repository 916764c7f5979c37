// Package engine declares the call and conference primitives the dial
// orchestrator drives. Signaling, media mixing, playback and recording live
// behind these interfaces.
package engine

import "fmt"

// CallStatus represents the current state of a call leg.
type CallStatus int

const (
	// CallStatusQueued indicates the leg exists but has not been answered.
	CallStatusQueued CallStatus = iota
	// CallStatusInProgress indicates the leg is answered and media is flowing.
	CallStatusInProgress
	// CallStatusCancelled indicates the leg was abandoned before answer.
	CallStatusCancelled
	// CallStatusCompleted indicates the leg was hung up after answer.
	CallStatusCompleted
	// CallStatusFailed indicates the leg could not be established.
	CallStatusFailed
)

// String returns the wire name of the status, as reported to callbacks.
func (s CallStatus) String() string {
	switch s {
	case CallStatusQueued:
		return "queued"
	case CallStatusInProgress:
		return "in-progress"
	case CallStatusCancelled:
		return "cancelled"
	case CallStatusCompleted:
		return "completed"
	case CallStatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// IsTerminal returns true if the leg can no longer change state.
func (s CallStatus) IsTerminal() bool {
	return s == CallStatusCancelled || s == CallStatusCompleted || s == CallStatusFailed
}

// Direction indicates how a leg was created.
type Direction int

const (
	// DirectionInbound represents a call that arrived at the platform.
	DirectionInbound Direction = iota
	// DirectionOutboundDial represents a leg originated by a dial instruction.
	DirectionOutboundDial
)

// String returns the string representation of Direction.
func (d Direction) String() string {
	switch d {
	case DirectionInbound:
		return "inbound"
	case DirectionOutboundDial:
		return "outbound-dial"
	default:
		return fmt.Sprintf("unknown(%d)", int(d))
	}
}

// ConferenceStatus represents the lifecycle of a mixing room.
type ConferenceStatus int

const (
	// ConferenceStatusInProgress indicates the room accepts participants.
	ConferenceStatusInProgress ConferenceStatus = iota
	// ConferenceStatusCompleted indicates the room was torn down.
	ConferenceStatusCompleted
	// ConferenceStatusFailed indicates the room broke.
	ConferenceStatusFailed
)

// String returns the string representation of ConferenceStatus.
func (s ConferenceStatus) String() string {
	switch s {
	case ConferenceStatusInProgress:
		return "in-progress"
	case ConferenceStatusCompleted:
		return "completed"
	case ConferenceStatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// IsTerminal returns true if the room is gone.
func (s ConferenceStatus) IsTerminal() bool {
	return s == ConferenceStatusCompleted || s == ConferenceStatusFailed
}
