package dial

import (
	"context"
	"sync"
	"time"

	"github.com/sebas/dialer/internal/engine"
)

// session is the per-dial dispatcher. It observes the legs and rooms of one
// orchestration and wakes the single goroutine blocked in awaitUntil.
//
// Predicates passed to awaitUntil run under mu, as do the race fields, so a
// notification can never slip in between a predicate check and the wait.
type session struct {
	mu   sync.Mutex
	wake chan struct{}

	racing     bool
	candidates map[string]struct{}
	winner     engine.Call

	calls []engine.Call
	rooms []engine.Conference
}

func newSession() *session {
	return &session{wake: make(chan struct{})}
}

// OnCallStatusChanged implements engine.CallObserver. While racing, the
// first candidate reported in progress becomes the winner and the race
// closes in the same critical section.
func (s *session) OnCallStatusChanged(call engine.Call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.racing && s.winner == nil && call.Status() == engine.CallStatusInProgress {
		if _, ok := s.candidates[call.SID()]; ok {
			s.winner = call
			s.racing = false
		}
	}
	s.signalLocked()
}

// OnConferenceStatusChanged implements engine.ConferenceObserver.
func (s *session) OnConferenceStatusChanged(engine.Conference) {
	s.signal()
}

func (s *session) signal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signalLocked()
}

func (s *session) signalLocked() {
	close(s.wake)
	s.wake = make(chan struct{})
}

// awaitUntil blocks until pred holds, timeout elapses or ctx is done.
// A timeout <= 0 waits without deadline. It reports whether pred held on
// return; callers re-read state either way.
func (s *session) awaitUntil(ctx context.Context, timeout time.Duration, pred func() bool) bool {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	for {
		s.mu.Lock()
		if pred() {
			s.mu.Unlock()
			return true
		}
		wake := s.wake
		s.mu.Unlock()

		select {
		case <-wake:
		case <-deadline:
			return s.check(pred)
		case <-ctx.Done():
			return s.check(pred)
		}
	}
}

func (s *session) check(pred func() bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pred()
}

// race opens a race between legs.
func (s *session) race(legs []engine.Call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.racing = true
	s.winner = nil
	s.candidates = make(map[string]struct{}, len(legs))
	for _, leg := range legs {
		s.candidates[leg.SID()] = struct{}{}
	}
}

// stopRace closes the race and returns its winner, if any.
func (s *session) stopRace() engine.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.racing = false
	return s.winner
}

// winnerLocked is for predicates, which already hold mu.
func (s *session) winnerLocked() engine.Call {
	return s.winner
}

// --- Observer bookkeeping ---

func (s *session) watch(call engine.Call) {
	s.mu.Lock()
	for _, c := range s.calls {
		if c == call {
			s.mu.Unlock()
			return
		}
	}
	s.calls = append(s.calls, call)
	s.mu.Unlock()
	call.AddObserver(s)
}

func (s *session) unwatch(call engine.Call) {
	s.mu.Lock()
	found := false
	for i, c := range s.calls {
		if c == call {
			s.calls = append(s.calls[:i], s.calls[i+1:]...)
			found = true
			break
		}
	}
	s.mu.Unlock()
	if found {
		call.RemoveObserver(s)
	}
}

func (s *session) watchRoom(room engine.Conference) {
	s.mu.Lock()
	s.rooms = append(s.rooms, room)
	s.mu.Unlock()
	room.AddObserver(s)
}

// release stops observing everything. It is safe to call more than once.
func (s *session) release() {
	s.mu.Lock()
	calls, rooms := s.calls, s.rooms
	s.calls, s.rooms = nil, nil
	s.mu.Unlock()

	for _, c := range calls {
		c.RemoveObserver(s)
	}
	for _, r := range rooms {
		r.RemoveObserver(s)
	}
}
