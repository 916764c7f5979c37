package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestEventSubjectNaming(t *testing.T) {
	builder := NewBuilder("test-node")

	tests := []struct {
		event Event
		want  string
	}{
		{builder.DialStarted("CA1", ModeSingle).Build(), "dialer.calls.CA1.started"},
		{builder.DialAnswered("CA1", "CA2", "sip:bob@example.com", time.Second), "dialer.calls.CA1.answered"},
		{builder.DialBridged("CA1", "CA2", "CA1", ""), "dialer.calls.CA1.bridged"},
		{builder.DialEnded("CA1", ModeFork).Build(), "dialer.calls.CA1.ended"},
		{builder.ConferenceJoined("CA1", "standup", 2, false), "dialer.calls.CA1.conference.joined"},
		{builder.ConferenceLeft("CA1", "standup", 1, true), "dialer.calls.CA1.conference.left"},
	}
	for _, tt := range tests {
		if got := tt.event.Subject(); got != tt.want {
			t.Errorf("Subject() = %q, want %q", got, tt.want)
		}
	}
}

func TestDialEndedEventJSON(t *testing.T) {
	event := NewBuilder("node-1").DialEnded("CA1", ModeSingle).
		Status("completed").
		Leg("CA2").
		Duration(1500 * time.Millisecond).
		Recording("http://rec/RE1.wav").
		Err(errors.New("boom")).
		Build()

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	checks := map[string]string{
		"event_type":    "dial.ended",
		"call_sid":      "CA1",
		"node_id":       "node-1",
		"mode":          "single",
		"status":        "completed",
		"leg_sid":       "CA2",
		"recording_url": "http://rec/RE1.wav",
		"error":         "boom",
	}
	for k, want := range checks {
		if got, ok := m[k].(string); !ok || got != want {
			t.Errorf("m[%q] = %v, want %q", k, m[k], want)
		}
	}
	if got := m["duration_ms"].(float64); got != 1500 {
		t.Errorf("duration_ms = %v, want 1500", got)
	}
	if event.ID() == "" {
		t.Error("ID() is empty")
	}
}

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		pattern, subject string
		want             bool
	}{
		{"dialer.calls.>", "dialer.calls.CA1.ended", true},
		{"dialer.calls.>", "dialer.calls", false},
		{"dialer.calls.*.ended", "dialer.calls.CA1.ended", true},
		{"dialer.calls.*.ended", "dialer.calls.CA1.started", false},
		{"dialer.calls.CA1.*", "dialer.calls.CA1.started", true},
		{"dialer.calls.CA1.*", "dialer.calls.CA1.conference.joined", false},
		{"dialer.calls.CA1.>", "dialer.calls.CA1.conference.joined", true},
		{"", "dialer.calls.CA1.ended", false},
	}
	for _, tt := range tests {
		if got := MatchSubject(tt.pattern, tt.subject); got != tt.want {
			t.Errorf("MatchSubject(%q, %q) = %v, want %v", tt.pattern, tt.subject, got, tt.want)
		}
	}
}

func TestHubFanOut(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	all, cancelAll := hub.Subscribe(PatternAllCalls, 4)
	ended, cancelEnded := hub.Subscribe(PatternDialEnded, 4)
	defer cancelEnded()

	b := NewBuilder("n")
	_ = hub.Publish(context.Background(), b.DialStarted("CA1", ModeSingle).Build())
	hub.PublishAsync(b.DialEnded("CA1", ModeSingle).Status("completed").Build())

	if got := len(all); got != 2 {
		t.Errorf("all subscriber got %d events, want 2", got)
	}
	if got := len(ended); got != 1 {
		t.Errorf("ended subscriber got %d events, want 1", got)
	}

	cancelAll()
	cancelAll()
	if hub.Subscribers() != 1 {
		t.Errorf("Subscribers() = %d, want 1", hub.Subscribers())
	}
}

func TestChannelPublisherDrops(t *testing.T) {
	p := NewChannelPublisher(1)
	b := NewBuilder("n")

	p.PublishAsync(b.DialStarted("CA1", ModeSingle).Build())
	p.PublishAsync(b.DialStarted("CA2", ModeSingle).Build())
	if got := p.DroppedCount(); got != 1 {
		t.Errorf("DroppedCount() = %d, want 1", got)
	}

	_ = p.Close()
	ev, ok := <-p.Events()
	if !ok || ev.CallID() != "CA1" {
		t.Errorf("first event = %v, %v, want CA1", ev, ok)
	}
	p.PublishAsync(b.DialStarted("CA3", ModeSingle).Build())
}

func TestMultiPublisher(t *testing.T) {
	a := NewChannelPublisher(4)
	b := NewChannelPublisher(4)
	m := NewMultiPublisher(a, NewNoopPublisher(), NewLoggingPublisher(nil), b)

	if err := m.Publish(context.Background(), NewBuilder("n").DialEnded("CA1", ModeFork).Build()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Errorf("fan-out = (%d, %d), want (1, 1)", len(a.Events()), len(b.Events()))
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestStreamConfig(t *testing.T) {
	cfg := StreamConfig("DIALER_CALLS")
	if cfg.Name != "DIALER_CALLS" {
		t.Errorf("Name = %q", cfg.Name)
	}
	if len(cfg.Subjects) != 1 || cfg.Subjects[0] != PatternAllCalls {
		t.Errorf("Subjects = %v, want [%s]", cfg.Subjects, PatternAllCalls)
	}
}
