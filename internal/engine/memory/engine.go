// Package memory provides an in-process call engine.
//
// Legs follow the engine state machine (queued, in-progress, terminal) and
// rooms keep a participant set, a background playlist and recordings. Leg
// progress after Dial is driven either by a scripted Behavior or by explicit
// Answer/Reject/Complete calls, which makes the engine usable both for tests
// and for the simulator.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sebas/dialer/internal/engine"
)

// Behavior scripts what a dialed leg does on its own.
// The zero value rings until cancelled.
type Behavior struct {
	// AnswerAfter answers the leg this long after Dial.
	AnswerAfter time.Duration `yaml:"answer_after" json:"answer_after,omitempty"`
	// FailAfter fails the leg this long after Dial. Takes precedence over AnswerAfter.
	FailAfter time.Duration `yaml:"fail_after" json:"fail_after,omitempty"`
	// HangupAfter completes an answered leg this long after answer.
	HangupAfter time.Duration `yaml:"hangup_after" json:"hangup_after,omitempty"`
}

// Engine implements engine.CallManager and engine.ConferenceCenter in memory.
type Engine struct {
	mu        sync.RWMutex
	calls     map[string]*Call
	rooms     map[string]*Room
	behaviors map[string]Behavior
	fallback  Behavior

	faultMu sync.Mutex
	faults  map[Op]error

	observersAdded   atomic.Int64
	observersRemoved atomic.Int64

	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithDefaultBehavior sets the behavior for targets without a scripted one.
func WithDefaultBehavior(b Behavior) Option {
	return func(e *Engine) {
		e.fallback = b
	}
}

// New creates an empty engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		calls:     make(map[string]*Call),
		rooms:     make(map[string]*Room),
		behaviors: make(map[string]Behavior),
		faults:    make(map[Op]error),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetBehavior scripts the behavior of legs dialed towards target.
func (e *Engine) SetBehavior(target string, b Behavior) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.behaviors[target] = b
}

func (e *Engine) behaviorFor(target string) Behavior {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if b, ok := e.behaviors[target]; ok {
		return b
	}
	return e.fallback
}

// Op names an engine operation that can be made to fail.
type Op string

const (
	OpCreateCall     Op = "create_call"
	OpDial           Op = "dial"
	OpMute           Op = "mute"
	OpGetConference  Op = "get_conference"
	OpAddParticipant Op = "add_participant"
	OpPlayMusic      Op = "play_music"
	OpRecord         Op = "record"
)

// InjectFault makes every subsequent op fail with err. A nil err clears it.
func (e *Engine) InjectFault(op Op, err error) {
	e.faultMu.Lock()
	defer e.faultMu.Unlock()
	if err == nil {
		delete(e.faults, op)
		return
	}
	e.faults[op] = err
}

func (e *Engine) fault(op Op) error {
	e.faultMu.Lock()
	defer e.faultMu.Unlock()
	return e.faults[op]
}

// NewSID returns a platform identifier with the given two-letter prefix.
func NewSID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// --- engine.CallManager ---

// CreateCall creates a queued leg towards a SIP URI.
func (e *Engine) CreateCall(ctx context.Context, from, to string) (engine.Call, error) {
	if err := e.fault(OpCreateCall); err != nil {
		return nil, err
	}
	return e.newCall(from, to, engine.DirectionOutboundDial, engine.CallStatusQueued), nil
}

// CreateExternalCall creates a queued leg towards a PSTN number.
func (e *Engine) CreateExternalCall(ctx context.Context, from, to string) (engine.Call, error) {
	if err := e.fault(OpCreateCall); err != nil {
		return nil, err
	}
	return e.newCall(from, to, engine.DirectionOutboundDial, engine.CallStatusQueued), nil
}

// CreateInboundCall registers an answered inbound call, the anchor of a dial.
func (e *Engine) CreateInboundCall(from, to string) *Call {
	return e.newCall(from, to, engine.DirectionInbound, engine.CallStatusInProgress)
}

func (e *Engine) newCall(from, to string, dir engine.Direction, status engine.CallStatus) *Call {
	c := &Call{
		engine:    e,
		sid:       NewSID("CA"),
		from:      from,
		to:        to,
		direction: dir,
		status:    status,
		createdAt: time.Now(),
		observers: make(map[engine.CallObserver]struct{}),
	}

	e.mu.Lock()
	e.calls[c.sid] = c
	e.mu.Unlock()

	e.logger.Debug("[Engine] Call created",
		"sid", c.sid,
		"from", from,
		"to", to,
		"direction", dir.String(),
	)
	return c
}

// Call returns the call with the given SID.
func (e *Engine) Call(sid string) (*Call, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.calls[sid]
	return c, ok
}

// Calls returns a snapshot of every known call ordered by creation time.
func (e *Engine) Calls() []CallInfo {
	e.mu.RLock()
	calls := make([]*Call, 0, len(e.calls))
	for _, c := range e.calls {
		calls = append(calls, c)
	}
	e.mu.RUnlock()

	sort.Slice(calls, func(i, j int) bool {
		return calls[i].createdAt.Before(calls[j].createdAt)
	})
	out := make([]CallInfo, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Info())
	}
	return out
}

// CallsTo returns every leg created towards target, oldest first.
func (e *Engine) CallsTo(target string) []*Call {
	e.mu.RLock()
	var out []*Call
	for _, c := range e.calls {
		if c.to == target && c.direction == engine.DirectionOutboundDial {
			out = append(out, c)
		}
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].createdAt.Before(out[j].createdAt)
	})
	return out
}

// --- engine.ConferenceCenter ---

// GetConference returns the live room for name, creating it if needed.
func (e *Engine) GetConference(ctx context.Context, name string) (engine.Conference, error) {
	if err := e.fault(OpGetConference); err != nil {
		return nil, err
	}
	return e.room(name), nil
}

func (e *Engine) room(name string) *Room {
	e.mu.Lock()
	defer e.mu.Unlock()

	if r, ok := e.rooms[name]; ok && !r.Status().IsTerminal() {
		return r
	}
	r := &Room{
		engine:       e,
		name:         name,
		status:       engine.ConferenceStatusInProgress,
		participants: make(map[string]*Call),
		observers:    make(map[engine.ConferenceObserver]struct{}),
	}
	e.rooms[name] = r
	e.logger.Debug("[Engine] Room created", "name", name)
	return r
}

// RemoveConference tears the room down. Removing an unknown room is a no-op.
func (e *Engine) RemoveConference(ctx context.Context, name string) error {
	e.mu.Lock()
	r, ok := e.rooms[name]
	if ok {
		delete(e.rooms, name)
	}
	e.mu.Unlock()

	if !ok {
		return nil
	}
	r.close(engine.ConferenceStatusCompleted)
	e.logger.Debug("[Engine] Room removed", "name", name)
	return nil
}

// Conference returns the live room with the given name.
func (e *Engine) Conference(name string) (*Room, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rooms[name]
	return r, ok
}

// Conferences returns a snapshot of every live room ordered by name.
func (e *Engine) Conferences() []RoomInfo {
	e.mu.RLock()
	rooms := make([]*Room, 0, len(e.rooms))
	for _, r := range e.rooms {
		rooms = append(rooms, r)
	}
	e.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].name < rooms[j].name })
	out := make([]RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Info())
	}
	return out
}

// ObserverStats reports how many observer registrations were added and
// removed across all calls and rooms.
func (e *Engine) ObserverStats() (added, removed int64) {
	return e.observersAdded.Load(), e.observersRemoved.Load()
}

var (
	_ engine.CallManager      = (*Engine)(nil)
	_ engine.ConferenceCenter = (*Engine)(nil)
)
