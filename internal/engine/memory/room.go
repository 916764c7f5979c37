package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sebas/dialer/internal/engine"
)

// Recording describes one room recording request.
type Recording struct {
	Destination string        `json:"destination"`
	MaxDuration time.Duration `json:"max_duration"`
	StartedAt   time.Time     `json:"started_at"`
}

// RoomInfo is a point-in-time snapshot of a room.
type RoomInfo struct {
	Name         string      `json:"name"`
	Status       string      `json:"status"`
	Participants []string    `json:"participants"`
	Playlist     []string    `json:"playlist,omitempty"`
	MusicPlaying bool        `json:"music_playing"`
	MusicStarts  int         `json:"music_starts"`
	Alerts       int         `json:"alerts"`
	Recordings   []Recording `json:"recordings,omitempty"`
}

// Room is the in-memory engine.Conference.
type Room struct {
	engine *Engine
	name   string

	mu           sync.Mutex
	status       engine.ConferenceStatus
	participants map[string]*Call
	playlist     []string
	playing      bool
	musicStarts  int
	alerts       int
	recordings   []Recording

	observerMu sync.Mutex
	observers  map[engine.ConferenceObserver]struct{}
}

func (r *Room) Name() string { return r.name }

func (r *Room) Status() engine.ConferenceStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Room) NumberOfParticipants() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

func (r *Room) HasParticipant(call engine.Call) bool {
	if call == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.participants[call.SID()]
	return ok
}

// AddParticipant adds an engine-owned live call to the room. A call moves
// out of any room it was previously in.
func (r *Room) AddParticipant(ctx context.Context, call engine.Call) error {
	if err := r.engine.fault(OpAddParticipant); err != nil {
		return err
	}
	c, ok := call.(*Call)
	if !ok || c.engine != r.engine {
		return fmt.Errorf("room %s: call %s does not belong to this engine", r.name, call.SID())
	}
	if st := c.Status(); st.IsTerminal() {
		return &engine.StateTransitionError{
			Entity:  "call",
			ID:      c.sid,
			From:    st,
			To:      engine.CallStatusInProgress,
			Message: "ended legs cannot join a room",
		}
	}

	r.mu.Lock()
	if r.status.IsTerminal() {
		r.mu.Unlock()
		return fmt.Errorf("room %s: %w", r.name, engine.ErrConferenceClosed)
	}
	if _, exists := r.participants[c.sid]; exists {
		r.mu.Unlock()
		return nil
	}
	r.participants[c.sid] = c
	r.mu.Unlock()

	if previous := c.setRoom(r); previous != nil && previous != r {
		previous.drop(c)
	}
	if c.Status().IsTerminal() {
		c.clearRoom(r)
		r.drop(c)
		return nil
	}

	r.engine.logger.Debug("[Engine] Participant joined", "room", r.name, "sid", c.sid)
	r.notify()
	return nil
}

// RemoveParticipant takes call out of the room. Removing a non-member is a no-op.
func (r *Room) RemoveParticipant(ctx context.Context, call engine.Call) error {
	c, ok := call.(*Call)
	if !ok {
		return nil
	}
	c.clearRoom(r)
	r.drop(c)
	return nil
}

// drop removes c from the participant set and notifies observers if it was
// a member.
func (r *Room) drop(c *Call) {
	r.mu.Lock()
	_, ok := r.participants[c.sid]
	delete(r.participants, c.sid)
	r.mu.Unlock()

	if !ok {
		return
	}
	r.engine.logger.Debug("[Engine] Participant left", "room", r.name, "sid", c.sid)
	r.notify()
}

func (r *Room) SetBackgroundMusic(uris []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playlist = append([]string(nil), uris...)
}

// PlayBackgroundMusic starts the playlist. It is a no-op while music is
// already playing or when the playlist is empty.
func (r *Room) PlayBackgroundMusic(ctx context.Context) error {
	if err := r.engine.fault(OpPlayMusic); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.IsTerminal() {
		return fmt.Errorf("room %s: %w", r.name, engine.ErrConferenceClosed)
	}
	if r.playing || len(r.playlist) == 0 {
		return nil
	}
	r.playing = true
	r.musicStarts++
	return nil
}

func (r *Room) StopBackgroundMusic(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playing = false
	return nil
}

func (r *Room) Alert(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts++
	return nil
}

func (r *Room) RecordAudio(ctx context.Context, destination string, maxDuration time.Duration) error {
	if err := r.engine.fault(OpRecord); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.IsTerminal() {
		return fmt.Errorf("room %s: %w", r.name, engine.ErrConferenceClosed)
	}
	r.recordings = append(r.recordings, Recording{
		Destination: destination,
		MaxDuration: maxDuration,
		StartedAt:   time.Now(),
	})
	return nil
}

// close ends the room and releases every participant.
func (r *Room) close(status engine.ConferenceStatus) {
	r.mu.Lock()
	if r.status.IsTerminal() {
		r.mu.Unlock()
		return
	}
	r.status = status
	r.playing = false
	members := make([]*Call, 0, len(r.participants))
	for _, c := range r.participants {
		members = append(members, c)
	}
	r.participants = make(map[string]*Call)
	r.mu.Unlock()

	for _, c := range members {
		c.clearRoom(r)
	}
	r.notify()
}

// --- Inspection ---

func (r *Room) MusicPlaying() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playing
}

// MusicStarts counts how many times background music actually started.
func (r *Room) MusicStarts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.musicStarts
}

func (r *Room) Alerts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alerts
}

func (r *Room) Recordings() []Recording {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recording(nil), r.recordings...)
}

// Info returns a snapshot of the room.
func (r *Room) Info() RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	sids := make([]string, 0, len(r.participants))
	for sid := range r.participants {
		sids = append(sids, sid)
	}
	sort.Strings(sids)

	return RoomInfo{
		Name:         r.name,
		Status:       r.status.String(),
		Participants: sids,
		Playlist:     append([]string(nil), r.playlist...),
		MusicPlaying: r.playing,
		MusicStarts:  r.musicStarts,
		Alerts:       r.alerts,
		Recordings:   append([]Recording(nil), r.recordings...),
	}
}

// --- Observation ---

func (r *Room) AddObserver(o engine.ConferenceObserver) {
	r.observerMu.Lock()
	defer r.observerMu.Unlock()
	if _, ok := r.observers[o]; ok {
		return
	}
	r.observers[o] = struct{}{}
	r.engine.observersAdded.Add(1)
}

func (r *Room) RemoveObserver(o engine.ConferenceObserver) {
	r.observerMu.Lock()
	defer r.observerMu.Unlock()
	if _, ok := r.observers[o]; !ok {
		return
	}
	delete(r.observers, o)
	r.engine.observersRemoved.Add(1)
}

func (r *Room) notify() {
	r.observerMu.Lock()
	observers := make([]engine.ConferenceObserver, 0, len(r.observers))
	for o := range r.observers {
		observers = append(observers, o)
	}
	r.observerMu.Unlock()

	for _, o := range observers {
		o.OnConferenceStatusChanged(r)
	}
}

var _ engine.Conference = (*Room)(nil)
