package dial

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sebas/dialer/internal/engine"
	"github.com/sebas/dialer/internal/engine/memory"
	"github.com/sebas/dialer/internal/markup"
	"github.com/sebas/dialer/internal/presence"
)

type staticPresence map[string][]presence.Record

func (p staticPresence) RecordsByUser(ctx context.Context, user string) ([]presence.Record, error) {
	if user == "broken" {
		return nil, errors.New("store offline")
	}
	return p[user], nil
}

func TestResolve(t *testing.T) {
	now := time.Now()
	lookup := staticPresence{
		"alice": {
			{User: "alice", ContactURI: "sip:alice@10.0.0.1:5060", ExpiresAt: now.Add(time.Hour)},
			{User: "alice", ContactURI: "sip:alice@10.0.0.2:5060", ExpiresAt: now.Add(-time.Minute)},
			{User: "alice", ContactURI: "sip:alice@10.0.0.3:5060", ExpiresAt: now.Add(time.Minute)},
		},
	}
	e := memory.New(memory.WithLogger(discardLogger()))
	r := NewResolver(e, lookup, "US", discardLogger())

	legs, err := r.Resolve(context.Background(), "+15550001111", []*markup.Tag{
		noun(markup.TagClient, "alice"),
		noun(markup.TagClient, "broken"),
		noun(markup.TagClient, "nobody"),
		noun(markup.TagURI, "sip:bob@example.com"),
		noun(markup.TagURI, "sip:"),
		noun(markup.TagURI, ""),
		noun(markup.TagNumber, "415-555-0100"),
		noun(markup.TagNumber, "abc"),
		noun("Queue", "support"),
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	want := []string{
		"sip:alice@10.0.0.1:5060",
		"sip:alice@10.0.0.3:5060",
		"sip:bob@example.com",
		"+14155550100",
	}
	if len(legs) != len(want) {
		t.Fatalf("legs = %d, want %d", len(legs), len(want))
	}
	for i, leg := range legs {
		if leg.Recipient() != want[i] {
			t.Errorf("leg[%d] = %q, want %q", i, leg.Recipient(), want[i])
		}
		if leg.Status() != engine.CallStatusQueued {
			t.Errorf("leg[%d] status = %v, want queued", i, leg.Status())
		}
		if leg.Originator() != "+15550001111" {
			t.Errorf("leg[%d] originator = %q", i, leg.Originator())
		}
	}
}

func TestResolveEngineFailureCancelsCreatedLegs(t *testing.T) {
	e := memory.New(memory.WithLogger(discardLogger()))
	r := NewResolver(e, nil, "", discardLogger())
	ctx := context.Background()

	created := 0
	failing := &failingCalls{Engine: e, failAt: 2, created: &created}
	r.calls = failing

	legs, err := r.Resolve(ctx, "alice", []*markup.Tag{
		noun(markup.TagURI, "sip:a@example.com"),
		noun(markup.TagURI, "sip:b@example.com"),
	})
	if legs != nil {
		t.Errorf("legs = %v, want nil", legs)
	}
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Target != "sip:b@example.com" {
		t.Fatalf("Resolve() error = %v, want *EngineError for sip:b", err)
	}
	if got := e.CallsTo("sip:a@example.com")[0].Status(); got != engine.CallStatusCancelled {
		t.Errorf("first leg status = %v, want cancelled", got)
	}
}

type failingCalls struct {
	*memory.Engine
	failAt  int
	created *int
}

func (f *failingCalls) CreateCall(ctx context.Context, from, to string) (engine.Call, error) {
	*f.created++
	if *f.created == f.failAt {
		return nil, errors.New("no capacity")
	}
	return f.Engine.CreateCall(ctx, from, to)
}

func TestOutcomeParams(t *testing.T) {
	out := &Outcome{
		Status:       "completed",
		LegSID:       "CA2",
		WinnerSID:    "CA2",
		Duration:     3500 * time.Millisecond,
		RecordingURL: "http://rec/RE1.wav",
	}
	p := out.Params()
	checks := map[string]string{
		ParamDialCallStatus:   "completed",
		ParamDialCallSid:      "CA2",
		ParamDialCallDuration: "3",
		ParamRecordingURL:     "http://rec/RE1.wav",
	}
	for k, want := range checks {
		if got := p.Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
	if len(p) != 4 {
		t.Errorf("params = %v, want exactly 4 keys", p)
	}

	bare := (&Outcome{Status: StatusNoAnswer}).Params()
	if len(bare) != 2 || bare.Get(ParamDialCallDuration) != "0" {
		t.Errorf("params = %v, want status and duration only", bare)
	}
}
