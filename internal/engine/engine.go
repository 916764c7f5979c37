package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by engine implementations.
var (
	// ErrCallNotFound indicates no call exists for the given SID.
	ErrCallNotFound = errors.New("call not found")

	// ErrInvalidTransition indicates a command is not valid in the leg's state.
	ErrInvalidTransition = errors.New("invalid call state transition")

	// ErrConferenceClosed indicates the room has already been removed.
	ErrConferenceClosed = errors.New("conference closed")
)

// Call is one call attempt as seen by the orchestrator.
//
// The engine mutates a Call as signaling progresses. Observers are notified
// after every status change, on the engine's own goroutines.
//
// Thread Safety: All methods are safe for concurrent use.
type Call interface {
	// SID returns the unique identifier for this leg.
	SID() string

	// Status returns the current state of the leg.
	Status() CallStatus

	// Direction returns whether this leg is inbound or dial-originated.
	Direction() Direction

	// Originator returns the caller address.
	Originator() string

	// Recipient returns the callee address.
	Recipient() string

	// IsMuted reports whether the leg's audio is muted in rooms.
	IsMuted() bool

	// --- Commands ---

	// Dial starts signaling for a queued outbound leg. It does not block
	// until answer; progress is reported through observers.
	Dial(ctx context.Context) error

	// Cancel abandons a leg that has not been answered.
	Cancel(ctx context.Context) error

	// Hangup terminates an answered leg.
	Hangup(ctx context.Context) error

	// Mute silences the leg inside rooms.
	Mute(ctx context.Context) error

	// Unmute restores the leg's audio.
	Unmute(ctx context.Context) error

	// --- Observation ---

	AddObserver(o CallObserver)
	RemoveObserver(o CallObserver)
}

// CallObserver receives call status notifications.
type CallObserver interface {
	OnCallStatusChanged(call Call)
}

// Conference is a mixing room holding a participant set.
//
// Thread Safety: All methods are safe for concurrent use.
type Conference interface {
	// Name returns the room key: an anchoring call SID or a conference name.
	Name() string

	Status() ConferenceStatus

	NumberOfParticipants() int

	HasParticipant(call Call) bool

	AddParticipant(ctx context.Context, call Call) error

	RemoveParticipant(ctx context.Context, call Call) error

	// SetBackgroundMusic replaces the playlist used by PlayBackgroundMusic.
	SetBackgroundMusic(uris []string)

	PlayBackgroundMusic(ctx context.Context) error

	StopBackgroundMusic(ctx context.Context) error

	// Alert plays the entry beep to every participant.
	Alert(ctx context.Context) error

	// RecordAudio records the room mix to destination for at most maxDuration.
	RecordAudio(ctx context.Context, destination string, maxDuration time.Duration) error

	// --- Observation ---

	// AddObserver registers o for status notifications. Participant
	// membership changes are reported through the same callback.
	AddObserver(o ConferenceObserver)
	RemoveObserver(o ConferenceObserver)
}

// ConferenceObserver receives room notifications.
type ConferenceObserver interface {
	OnConferenceStatusChanged(conference Conference)
}

// CallManager creates outbound legs.
type CallManager interface {
	// CreateCall creates a queued leg towards a SIP URI.
	CreateCall(ctx context.Context, from, to string) (Call, error)

	// CreateExternalCall creates a queued leg towards an E.164 number.
	CreateExternalCall(ctx context.Context, from, to string) (Call, error)
}

// ConferenceCenter is the shared room registry keyed by name.
//
// Rooms are created on first reference. Other orchestrations may hold the
// same room concurrently.
type ConferenceCenter interface {
	GetConference(ctx context.Context, name string) (Conference, error)
	RemoveConference(ctx context.Context, name string) error
}

// StateTransitionError indicates a command was issued in a state that does
// not allow it.
type StateTransitionError struct {
	Entity  string       // "call" or "conference"
	ID      string       // SID or room name
	From    fmt.Stringer // Current state
	To      fmt.Stringer // Attempted state
	Message string       // Additional context
}

// Error returns the error message.
func (e *StateTransitionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: cannot transition from %s to %s: %s",
			e.Entity, e.ID, e.From, e.To, e.Message)
	}
	return fmt.Sprintf("%s %s: cannot transition from %s to %s",
		e.Entity, e.ID, e.From, e.To)
}

// Unwrap returns ErrInvalidTransition.
func (e *StateTransitionError) Unwrap() error {
	return ErrInvalidTransition
}
