package memory

import (
	"context"
	"sync"
	"time"

	"github.com/sebas/dialer/internal/engine"
)

// CallInfo is a point-in-time snapshot of a call.
type CallInfo struct {
	SID        string    `json:"sid"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Direction  string    `json:"direction"`
	Status     string    `json:"status"`
	Muted      bool      `json:"muted"`
	Room       string    `json:"room,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	AnsweredAt time.Time `json:"answered_at,omitzero"`
	EndedAt    time.Time `json:"ended_at,omitzero"`
}

// Call is the in-memory engine.Call.
type Call struct {
	engine *Engine

	sid       string
	from      string
	to        string
	direction engine.Direction

	mu         sync.Mutex
	status     engine.CallStatus
	muted      bool
	dialed     bool
	room       *Room
	timers     []*time.Timer
	createdAt  time.Time
	answeredAt time.Time
	endedAt    time.Time

	observerMu sync.Mutex
	observers  map[engine.CallObserver]struct{}
}

// --- Identity ---

func (c *Call) SID() string                 { return c.sid }
func (c *Call) Direction() engine.Direction { return c.direction }
func (c *Call) Originator() string          { return c.from }
func (c *Call) Recipient() string           { return c.to }

func (c *Call) Status() engine.CallStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Call) IsMuted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// Dialed reports whether Dial was accepted for this leg.
func (c *Call) Dialed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dialed
}

// Info returns a snapshot of the call.
func (c *Call) Info() CallInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := CallInfo{
		SID:        c.sid,
		From:       c.from,
		To:         c.to,
		Direction:  c.direction.String(),
		Status:     c.status.String(),
		Muted:      c.muted,
		CreatedAt:  c.createdAt,
		AnsweredAt: c.answeredAt,
		EndedAt:    c.endedAt,
	}
	if c.room != nil {
		info.Room = c.room.name
	}
	return info
}

// --- Commands ---

// Dial starts ringing a queued leg and arms its scripted behavior.
func (c *Call) Dial(ctx context.Context) error {
	if err := c.engine.fault(OpDial); err != nil {
		return err
	}

	c.mu.Lock()
	if c.status != engine.CallStatusQueued {
		defer c.mu.Unlock()
		return c.transitionError(engine.CallStatusInProgress, "only queued legs can be dialed")
	}
	if c.dialed {
		c.mu.Unlock()
		return nil
	}
	c.dialed = true

	b := c.engine.behaviorFor(c.to)
	switch {
	case b.FailAfter > 0:
		c.timers = append(c.timers, time.AfterFunc(b.FailAfter, func() { _ = c.Reject() }))
	case b.AnswerAfter > 0:
		c.timers = append(c.timers, time.AfterFunc(b.AnswerAfter, func() { _ = c.Answer() }))
	}
	c.mu.Unlock()

	c.engine.logger.Debug("[Engine] Call dialing", "sid", c.sid, "to", c.to)
	return nil
}

// Cancel abandons a queued leg. Cancelling a finished leg is a no-op.
func (c *Call) Cancel(ctx context.Context) error {
	if c.transition(engine.CallStatusCancelled, engine.CallStatusQueued) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == engine.CallStatusInProgress {
		return c.transitionError(engine.CallStatusCancelled, "answered legs must be hung up")
	}
	return nil
}

// Hangup terminates the leg: an answered leg completes, a queued one is
// cancelled. Hanging up a finished leg is a no-op.
func (c *Call) Hangup(ctx context.Context) error {
	for {
		if c.transition(engine.CallStatusCompleted, engine.CallStatusInProgress) ||
			c.transition(engine.CallStatusCancelled, engine.CallStatusQueued) {
			return nil
		}
		// Statuses only move forward, so a miss here means the leg was
		// answered between the two attempts or has already ended.
		if c.Status().IsTerminal() {
			return nil
		}
	}
}

func (c *Call) Mute(ctx context.Context) error   { return c.setMuted(true) }
func (c *Call) Unmute(ctx context.Context) error { return c.setMuted(false) }

func (c *Call) setMuted(muted bool) error {
	if err := c.engine.fault(OpMute); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.IsTerminal() {
		return c.transitionError(c.status, "leg already ended")
	}
	c.muted = muted
	return nil
}

// --- Remote events ---

// Answer marks a queued leg as answered by the remote party.
func (c *Call) Answer() error {
	if !c.transition(engine.CallStatusInProgress, engine.CallStatusQueued) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.transitionError(engine.CallStatusInProgress, "leg is not queued")
	}
	return nil
}

// Reject marks a queued leg as failed, as on a busy or unreachable callee.
func (c *Call) Reject() error {
	if !c.transition(engine.CallStatusFailed, engine.CallStatusQueued) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.transitionError(engine.CallStatusFailed, "leg is not queued")
	}
	return nil
}

// Complete marks an answered leg as hung up by the remote party.
func (c *Call) Complete() error {
	if !c.transition(engine.CallStatusCompleted, engine.CallStatusInProgress) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.transitionError(engine.CallStatusCompleted, "leg is not in progress")
	}
	return nil
}

// Fail marks any live leg as failed.
func (c *Call) Fail() error {
	if !c.transition(engine.CallStatusFailed, engine.CallStatusQueued, engine.CallStatusInProgress) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.transitionError(engine.CallStatusFailed, "leg already ended")
	}
	return nil
}

// transition moves the leg to next if its current status is one of from,
// then notifies observers outside the lock. It reports whether the
// transition happened.
func (c *Call) transition(next engine.CallStatus, from ...engine.CallStatus) bool {
	c.mu.Lock()
	allowed := false
	for _, s := range from {
		if c.status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		c.mu.Unlock()
		return false
	}

	old := c.status
	c.status = next
	now := time.Now()

	var room *Room
	if next == engine.CallStatusInProgress {
		c.answeredAt = now
		if b := c.engine.behaviorFor(c.to); b.HangupAfter > 0 && c.direction == engine.DirectionOutboundDial {
			c.timers = append(c.timers, time.AfterFunc(b.HangupAfter, func() { _ = c.Complete() }))
		}
	}
	if next.IsTerminal() {
		c.endedAt = now
		for _, t := range c.timers {
			t.Stop()
		}
		c.timers = nil
		room = c.room
		c.room = nil
	}
	c.mu.Unlock()

	c.engine.logger.Debug("[Engine] Call status changed",
		"sid", c.sid,
		"from", old.String(),
		"to", next.String(),
	)

	c.notify()
	if room != nil {
		room.drop(c)
	}
	return true
}

// transitionError builds the error for a refused command. Caller holds c.mu.
func (c *Call) transitionError(to engine.CallStatus, msg string) error {
	return &engine.StateTransitionError{
		Entity:  "call",
		ID:      c.sid,
		From:    c.status,
		To:      to,
		Message: msg,
	}
}

func (c *Call) setRoom(r *Room) (previous *Room) {
	c.mu.Lock()
	defer c.mu.Unlock()
	previous = c.room
	c.room = r
	return previous
}

func (c *Call) clearRoom(r *Room) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room == r {
		c.room = nil
	}
}

// --- Observation ---

// AddObserver registers o. Registering the same observer twice is a no-op.
func (c *Call) AddObserver(o engine.CallObserver) {
	c.observerMu.Lock()
	defer c.observerMu.Unlock()
	if _, ok := c.observers[o]; ok {
		return
	}
	c.observers[o] = struct{}{}
	c.engine.observersAdded.Add(1)
}

// RemoveObserver unregisters o. Removing an unknown observer is a no-op.
func (c *Call) RemoveObserver(o engine.CallObserver) {
	c.observerMu.Lock()
	defer c.observerMu.Unlock()
	if _, ok := c.observers[o]; !ok {
		return
	}
	delete(c.observers, o)
	c.engine.observersRemoved.Add(1)
}

// ObserverCount returns the number of registered observers.
func (c *Call) ObserverCount() int {
	c.observerMu.Lock()
	defer c.observerMu.Unlock()
	return len(c.observers)
}

func (c *Call) notify() {
	c.observerMu.Lock()
	observers := make([]engine.CallObserver, 0, len(c.observers))
	for o := range c.observers {
		observers = append(observers, o)
	}
	c.observerMu.Unlock()

	for _, o := range observers {
		o.OnCallStatusChanged(c)
	}
}

var _ engine.Call = (*Call)(nil)
