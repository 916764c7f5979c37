package dial

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sebas/dialer/internal/engine"
	"github.com/sebas/dialer/internal/engine/memory"
	"github.com/sebas/dialer/internal/events"
	"github.com/sebas/dialer/internal/markup"
	"github.com/sebas/dialer/internal/notification"
)

const testUnit = 50 * time.Millisecond

type note struct {
	level notification.Level
	code  int
}

type redirect struct {
	action string
	method string
	params url.Values
}

type fakeInterpreter struct {
	base *url.URL

	mu          sync.Mutex
	notes       []note
	failed      int
	redirects   []redirect
	redirectErr error
}

func newFakeInterpreter() *fakeInterpreter {
	base, _ := url.Parse("http://app.example.com/rcml/start.xml")
	return &fakeInterpreter{base: base}
}

func (f *fakeInterpreter) CurrentResourceURI() *url.URL { return f.base }

func (f *fakeInterpreter) Notify(ctx context.Context, level notification.Level, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, note{level, code})
}

func (f *fakeInterpreter) Failed(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed++
}

func (f *fakeInterpreter) Redirect(ctx context.Context, action *url.URL, method string, params url.Values) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redirects = append(f.redirects, redirect{action.String(), method, params})
	return f.redirectErr
}

func (f *fakeInterpreter) hasNote(level notification.Level, code int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.notes {
		if n.level == level && n.code == code {
			return true
		}
	}
	return false
}

func (f *fakeInterpreter) lastRedirect(t *testing.T) redirect {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.redirects) != 1 {
		t.Fatalf("redirects = %d, want 1", len(f.redirects))
	}
	return f.redirects[0]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(e *memory.Engine, pub events.Publisher) *Service {
	s := NewService(ServiceConfig{
		Calls:         e,
		Conferences:   e,
		Publisher:     pub,
		NodeID:        "test",
		RingbackAudio: "/srv/audio/ringback.wav",
		RecordingsURL: "http://rec.example.com/recordings/",
		Logger:        discardLogger(),
	})
	s.second = testUnit
	return s
}

func dialTag(text string, attrs map[string]string, children ...*markup.Tag) *markup.Tag {
	return &markup.Tag{Name: markup.TagDial, Text: text, Attributes: attrs, Children: children}
}

func noun(name, text string) *markup.Tag {
	return &markup.Tag{Name: name, Text: text}
}

func assertObserversBalanced(t *testing.T, e *memory.Engine) {
	t.Helper()
	added, removed := e.ObserverStats()
	if added == 0 || added != removed {
		t.Errorf("ObserverStats() = (%d, %d), want equal and non-zero", added, removed)
	}
}

func assertRoomRemoved(t *testing.T, e *memory.Engine, name string) {
	t.Helper()
	if _, ok := e.Conference(name); ok {
		t.Errorf("room %s still registered", name)
	}
}

func TestBridgeNoAnswer(t *testing.T) {
	e := memory.New(memory.WithLogger(discardLogger()))
	pub := events.NewChannelPublisher(16)
	s := newTestService(e, pub)
	interp := newFakeInterpreter()
	anchor := e.CreateInboundCall("+15550001111", "+15550002222")

	tag := dialTag("+15551234567", map[string]string{
		markup.AttrTimeout: "2",
		markup.AttrAction:  "next.xml",
	})
	out, err := s.Execute(context.Background(), interp, anchor, tag)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if out.Status != "cancelled" {
		t.Errorf("Status = %q, want cancelled", out.Status)
	}
	if out.Answered() {
		t.Errorf("WinnerSID = %q, want empty", out.WinnerSID)
	}
	if out.Duration < 2*testUnit {
		t.Errorf("Duration = %v, want >= %v", out.Duration, 2*testUnit)
	}

	legs := e.CallsTo("+15551234567")
	if len(legs) != 1 {
		t.Fatalf("legs = %d, want 1", len(legs))
	}
	if legs[0].Status() != engine.CallStatusCancelled {
		t.Errorf("leg status = %v, want cancelled", legs[0].Status())
	}

	r := interp.lastRedirect(t)
	if r.action != "http://app.example.com/rcml/next.xml" {
		t.Errorf("action = %q", r.action)
	}
	if r.method != "POST" {
		t.Errorf("method = %q, want POST", r.method)
	}
	if got := r.params.Get(ParamDialCallStatus); got != "cancelled" {
		t.Errorf("DialCallStatus = %q, want cancelled", got)
	}
	if got := r.params.Get(ParamDialCallSid); got != legs[0].SID() {
		t.Errorf("DialCallSid = %q, want %q", got, legs[0].SID())
	}
	if got := r.params.Get(ParamDialCallDuration); got != "2" {
		t.Errorf("DialCallDuration = %q, want 2", got)
	}

	assertObserversBalanced(t, e)
	assertRoomRemoved(t, e, anchor.SID())
	if anchor.Status() != engine.CallStatusInProgress {
		t.Errorf("anchor status = %v, want in-progress", anchor.Status())
	}

	_ = pub.Close()
	var types []events.EventType
	for ev := range pub.Events() {
		types = append(types, ev.Type())
	}
	if len(types) != 2 || types[0] != events.DialStarted || types[1] != events.DialEnded {
		t.Errorf("events = %v, want [dial.started dial.ended]", types)
	}
}

func TestBridgeTimeLimitHangsUp(t *testing.T) {
	e := memory.New(memory.WithLogger(discardLogger()))
	e.SetBehavior("+15551234567", memory.Behavior{AnswerAfter: 5 * time.Millisecond})
	s := newTestService(e, nil)
	interp := newFakeInterpreter()
	anchor := e.CreateInboundCall("+15550001111", "+15550002222")

	tag := dialTag("+15551234567", map[string]string{
		markup.AttrTimeLimit: "2",
		markup.AttrRecord:    "TRUE",
	})

	var room *memory.Room
	done := make(chan struct{})
	go func() {
		defer close(done)
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if r, ok := e.Conference(anchor.SID()); ok && r.NumberOfParticipants() == 2 {
				room = r
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	out, err := s.Execute(context.Background(), interp, anchor, tag)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	<-done

	if out.Status != "completed" {
		t.Errorf("Status = %q, want completed", out.Status)
	}
	leg := e.CallsTo("+15551234567")[0]
	if out.WinnerSID != leg.SID() || out.LegSID != leg.SID() {
		t.Errorf("WinnerSID, LegSID = %q, %q, want %q", out.WinnerSID, out.LegSID, leg.SID())
	}
	if leg.Status() != engine.CallStatusCompleted {
		t.Errorf("leg status = %v, want completed", leg.Status())
	}
	if out.Duration < 2*testUnit {
		t.Errorf("Duration = %v, want >= %v", out.Duration, 2*testUnit)
	}
	if out.Duration > 2*testUnit+time.Second {
		t.Errorf("Duration = %v, time limit not enforced", out.Duration)
	}
	if !strings.HasPrefix(out.RecordingURL, "http://rec.example.com/recordings/RE") ||
		!strings.HasSuffix(out.RecordingURL, ".wav") {
		t.Errorf("RecordingURL = %q", out.RecordingURL)
	}

	if room == nil {
		t.Fatal("leg was never bridged")
	}
	if room.MusicStarts() != 1 {
		t.Errorf("MusicStarts() = %d, want 1", room.MusicStarts())
	}
	recs := room.Recordings()
	if len(recs) != 1 || recs[0].Destination != out.RecordingURL || recs[0].MaxDuration != 2*testUnit {
		t.Errorf("Recordings() = %+v", recs)
	}
	if len(interp.redirects) != 0 {
		t.Errorf("redirects = %d, want 0 without action", len(interp.redirects))
	}
	assertObserversBalanced(t, e)
	assertRoomRemoved(t, e, anchor.SID())
}

func TestBridgeLegHangsUp(t *testing.T) {
	e := memory.New(memory.WithLogger(discardLogger()))
	e.SetBehavior("+15551234567", memory.Behavior{
		AnswerAfter: 5 * time.Millisecond,
		HangupAfter: 20 * time.Millisecond,
	})
	s := newTestService(e, nil)
	anchor := e.CreateInboundCall("+15550001111", "+15550002222")

	start := time.Now()
	out, err := s.Execute(context.Background(), newFakeInterpreter(), anchor, dialTag("+15551234567", nil))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out.Status != "completed" {
		t.Errorf("Status = %q, want completed", out.Status)
	}
	if elapsed := time.Since(start); elapsed > 10*testUnit {
		t.Errorf("Execute() took %v, want it to return when the leg hangs up", elapsed)
	}
	if anchor.Status() != engine.CallStatusInProgress {
		t.Errorf("anchor status = %v, want in-progress", anchor.Status())
	}
	assertObserversBalanced(t, e)
}

func TestBridgeAnchorHangsUpWhileRinging(t *testing.T) {
	e := memory.New(memory.WithLogger(discardLogger()))
	s := newTestService(e, nil)
	interp := newFakeInterpreter()
	anchor := e.CreateInboundCall("+15550001111", "+15550002222")

	go func() {
		time.Sleep(testUnit / 2)
		_ = anchor.Complete()
	}()

	tag := dialTag("+15551234567", map[string]string{
		markup.AttrTimeout: "60",
		markup.AttrAction:  "next.xml",
	})
	start := time.Now()
	out, err := s.Execute(context.Background(), interp, anchor, tag)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if time.Since(start) > 30*testUnit {
		t.Errorf("Execute() did not wake when the anchor ended")
	}
	if out.Status != "cancelled" {
		t.Errorf("Status = %q, want cancelled", out.Status)
	}
	if len(interp.redirects) != 0 {
		t.Errorf("redirects = %d, want 0 for an ended call", len(interp.redirects))
	}
	assertObserversBalanced(t, e)
}

func TestForkSecondLegAnswers(t *testing.T) {
	e := memory.New(memory.WithLogger(discardLogger()))
	e.SetBehavior("sip:b@example.com", memory.Behavior{
		AnswerAfter: 20 * time.Millisecond,
		HangupAfter: 20 * time.Millisecond,
	})
	s := newTestService(e, nil)
	interp := newFakeInterpreter()
	anchor := e.CreateInboundCall("+15550001111", "+15550002222")

	tag := dialTag("", map[string]string{markup.AttrAction: "/done"},
		noun(markup.TagURI, "sip:a@example.com"),
		noun(markup.TagURI, "sip:b@example.com"),
		noun(markup.TagURI, "sip:c@example.com"),
	)
	out, err := s.Execute(context.Background(), interp, anchor, tag)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	a := e.CallsTo("sip:a@example.com")[0]
	b := e.CallsTo("sip:b@example.com")[0]
	c := e.CallsTo("sip:c@example.com")[0]

	if out.WinnerSID != b.SID() {
		t.Errorf("WinnerSID = %q, want %q", out.WinnerSID, b.SID())
	}
	if out.Status != "completed" {
		t.Errorf("Status = %q, want completed", out.Status)
	}
	for _, loser := range []*memory.Call{a, c} {
		if loser.Status() != engine.CallStatusCancelled {
			t.Errorf("loser %s status = %v, want cancelled", loser.Recipient(), loser.Status())
		}
	}
	r := interp.lastRedirect(t)
	if r.action != "http://app.example.com/done" {
		t.Errorf("action = %q", r.action)
	}
	if got := r.params.Get(ParamDialCallSid); got != b.SID() {
		t.Errorf("DialCallSid = %q, want %q", got, b.SID())
	}
	assertObserversBalanced(t, e)
	assertRoomRemoved(t, e, anchor.SID())
}

func TestForkAtMostOneWinner(t *testing.T) {
	e := memory.New(memory.WithLogger(discardLogger()))
	both := memory.Behavior{AnswerAfter: 5 * time.Millisecond, HangupAfter: 40 * time.Millisecond}
	e.SetBehavior("sip:a@example.com", both)
	e.SetBehavior("sip:b@example.com", both)
	s := newTestService(e, nil)
	anchor := e.CreateInboundCall("+15550001111", "+15550002222")

	var mu sync.Mutex
	joined := map[string]struct{}{}
	room, _ := e.GetConference(context.Background(), anchor.SID())
	watcher := &roomWatcher{fn: func(c engine.Conference) {
		mu.Lock()
		defer mu.Unlock()
		for _, sid := range c.(*memory.Room).Info().Participants {
			joined[sid] = struct{}{}
		}
	}}
	room.AddObserver(watcher)

	tag := dialTag("", nil,
		noun(markup.TagURI, "sip:a@example.com"),
		noun(markup.TagURI, "sip:b@example.com"),
	)
	out, err := s.Execute(context.Background(), newFakeInterpreter(), anchor, tag)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	legs := []*memory.Call{e.CallsTo("sip:a@example.com")[0], e.CallsTo("sip:b@example.com")[0]}
	winners := 0
	for _, leg := range legs {
		if leg.SID() == out.WinnerSID {
			winners++
			continue
		}
		// A loser that was answered before teardown must be hung up, not
		// cancelled; one that never answered is cancelled.
		want := engine.CallStatusCancelled
		if !leg.Info().AnsweredAt.IsZero() {
			want = engine.CallStatusCompleted
		}
		if got := leg.Status(); got != want {
			t.Errorf("loser %s status = %v, want %v", leg.Recipient(), got, want)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want 1", winners)
	}

	mu.Lock()
	for sid := range joined {
		if sid != anchor.SID() && sid != out.WinnerSID {
			t.Errorf("leg %s was placed in the anchor room, only the winner may be", sid)
		}
	}
	if _, ok := joined[out.WinnerSID]; !ok {
		t.Errorf("winner %s never joined the anchor room", out.WinnerSID)
	}
	mu.Unlock()
	room.RemoveObserver(watcher)
	assertObserversBalanced(t, e)
}

func TestForkNoAnswer(t *testing.T) {
	e := memory.New(memory.WithLogger(discardLogger()))
	s := newTestService(e, nil)
	interp := newFakeInterpreter()
	anchor := e.CreateInboundCall("+15550001111", "+15550002222")

	var maxParticipants int
	var mu sync.Mutex
	room, _ := e.GetConference(context.Background(), anchor.SID())
	room.AddObserver(&roomWatcher{fn: func(c engine.Conference) {
		mu.Lock()
		defer mu.Unlock()
		maxParticipants = max(maxParticipants, c.NumberOfParticipants())
	}})

	tag := dialTag("", map[string]string{
		markup.AttrTimeout: "2",
		markup.AttrAction:  "/done",
	},
		noun(markup.TagURI, "sip:a@example.com"),
		noun(markup.TagNumber, "not a number"),
		noun(markup.TagNumber, "+1 415 555 0100"),
	)
	out, err := s.Execute(context.Background(), interp, anchor, tag)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out.Status != StatusNoAnswer {
		t.Errorf("Status = %q, want %q", out.Status, StatusNoAnswer)
	}
	if out.LegSID != "" || out.WinnerSID != "" {
		t.Errorf("LegSID, WinnerSID = %q, %q, want empty", out.LegSID, out.WinnerSID)
	}
	for _, target := range []string{"sip:a@example.com", "+14155550100"} {
		legs := e.CallsTo(target)
		if len(legs) != 1 {
			t.Fatalf("legs to %s = %d, want 1", target, len(legs))
		}
		if legs[0].Status() != engine.CallStatusCancelled {
			t.Errorf("leg %s status = %v, want cancelled", target, legs[0].Status())
		}
	}
	mu.Lock()
	if maxParticipants > 1 {
		t.Errorf("room held %d participants, want only the anchor", maxParticipants)
	}
	mu.Unlock()

	params := interp.lastRedirect(t).params
	if _, ok := params[ParamDialCallSid]; ok {
		t.Errorf("DialCallSid present without a winner: %v", params)
	}
	if got := params.Get(ParamDialCallStatus); got != StatusNoAnswer {
		t.Errorf("DialCallStatus = %q", got)
	}
}

func TestForkAllLegsFail(t *testing.T) {
	e := memory.New(memory.WithLogger(discardLogger()))
	e.SetBehavior("sip:a@example.com", memory.Behavior{FailAfter: 5 * time.Millisecond})
	e.SetBehavior("sip:b@example.com", memory.Behavior{FailAfter: 10 * time.Millisecond})
	s := newTestService(e, nil)
	anchor := e.CreateInboundCall("+15550001111", "+15550002222")

	tag := dialTag("", map[string]string{markup.AttrTimeout: "60"},
		noun(markup.TagURI, "sip:a@example.com"),
		noun(markup.TagURI, "sip:b@example.com"),
	)
	out, err := s.Execute(context.Background(), newFakeInterpreter(), anchor, tag)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out.Status != StatusNoAnswer {
		t.Errorf("Status = %q, want %q", out.Status, StatusNoAnswer)
	}
	if out.Duration > 30*testUnit {
		t.Errorf("Duration = %v, want an early wake once every leg failed", out.Duration)
	}
	assertObserversBalanced(t, e)
}

func TestForkWithoutCandidates(t *testing.T) {
	e := memory.New(memory.WithLogger(discardLogger()))
	s := newTestService(e, nil)
	anchor := e.CreateInboundCall("+15550001111", "+15550002222")

	tag := dialTag("", nil, noun(markup.TagNumber, "bogus"), noun(markup.TagClient, "alice"))
	out, err := s.Execute(context.Background(), newFakeInterpreter(), anchor, tag)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out.Status != StatusNoAnswer {
		t.Errorf("Status = %q, want %q", out.Status, StatusNoAnswer)
	}
	if _, ok := e.Conference(anchor.SID()); ok {
		t.Error("room created for an empty fork")
	}
}

func TestInvalidSingleNumber(t *testing.T) {
	e := memory.New(memory.WithLogger(discardLogger()))
	s := newTestService(e, nil)
	interp := newFakeInterpreter()
	anchor := e.CreateInboundCall("+15550001111", "+15550002222")

	out, err := s.Execute(context.Background(), interp, anchor, dialTag("call me maybe", nil))
	if !errors.Is(err, ErrInvalidNumber) {
		t.Fatalf("Execute() error = %v, want ErrInvalidNumber", err)
	}
	if out != nil {
		t.Errorf("outcome = %+v, want nil", out)
	}
	if !interp.hasNote(notification.Warning, notification.InvalidNumber) {
		t.Errorf("notes = %v, want warning %d", interp.notes, notification.InvalidNumber)
	}
	if interp.failed != 0 {
		t.Errorf("Failed() called %d times, want 0", interp.failed)
	}
	if len(e.Calls()) != 1 {
		t.Errorf("calls = %d, want only the anchor", len(e.Calls()))
	}
}

func TestEngineFailureIsFatal(t *testing.T) {
	boom := errors.New("boom")
	e := memory.New(memory.WithLogger(discardLogger()))
	e.InjectFault(memory.OpDial, boom)
	pub := events.NewChannelPublisher(16)
	s := newTestService(e, pub)
	interp := newFakeInterpreter()
	anchor := e.CreateInboundCall("+15550001111", "+15550002222")

	out, err := s.Execute(context.Background(), interp, anchor, dialTag("+15551234567", map[string]string{
		markup.AttrAction: "/done",
	}))
	if out != nil {
		t.Errorf("outcome = %+v, want nil", out)
	}
	var ee *EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("Execute() error = %v, want *EngineError", err)
	}
	if ee.Op != "dial" || !errors.Is(err, boom) {
		t.Errorf("EngineError = %+v", ee)
	}
	if interp.failed != 1 {
		t.Errorf("Failed() called %d times, want 1", interp.failed)
	}
	if !interp.hasNote(notification.Error, notification.DialFailed) {
		t.Errorf("notes = %v, want error %d", interp.notes, notification.DialFailed)
	}
	if len(interp.redirects) != 0 {
		t.Errorf("redirects = %d, want 0", len(interp.redirects))
	}

	leg := e.CallsTo("+15551234567")[0]
	if leg.Status() != engine.CallStatusCancelled {
		t.Errorf("leg status = %v, want cancelled", leg.Status())
	}
	assertObserversBalanced(t, e)
	assertRoomRemoved(t, e, anchor.SID())

	_ = pub.Close()
	var last events.Event
	for ev := range pub.Events() {
		last = ev
	}
	ended, ok := last.(*events.DialEndedEvent)
	if !ok || ended.Status != "failed" || ended.Error == "" {
		t.Errorf("last event = %+v, want failed dial.ended", last)
	}
}

func TestRedirectFailure(t *testing.T) {
	e := memory.New(memory.WithLogger(discardLogger()))
	s := newTestService(e, nil)
	interp := newFakeInterpreter()
	interp.redirectErr = errors.New("connection refused")
	anchor := e.CreateInboundCall("+15550001111", "+15550002222")

	tag := dialTag("", map[string]string{markup.AttrAction: "/done"})
	out, err := s.Execute(context.Background(), interp, anchor, tag)
	if err == nil {
		t.Fatal("Execute() error = nil, want redirect error")
	}
	if IsEngineError(err) {
		t.Errorf("redirect error reported as engine error: %v", err)
	}
	if out == nil || out.Status != StatusNoAnswer {
		t.Errorf("outcome = %+v", out)
	}
	if interp.failed != 1 {
		t.Errorf("Failed() called %d times, want 1", interp.failed)
	}
}

func TestExecuteWithoutCall(t *testing.T) {
	s := newTestService(memory.New(), nil)
	if _, err := s.Execute(context.Background(), newFakeInterpreter(), nil, dialTag("+15551234567", nil)); !errors.Is(err, ErrNoCall) {
		t.Errorf("Execute() error = %v, want ErrNoCall", err)
	}
}

type roomWatcher struct {
	fn func(engine.Conference)
}

func (w *roomWatcher) OnConferenceStatusChanged(c engine.Conference) { w.fn(c) }
