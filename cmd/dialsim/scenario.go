package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sebas/dialer/internal/dial"
	"github.com/sebas/dialer/internal/engine/memory"
	"github.com/sebas/dialer/internal/events"
	"github.com/sebas/dialer/internal/markup"
	"github.com/sebas/dialer/internal/notification"
	"github.com/sebas/dialer/internal/presence"
)

// Scenario describes one simulated dial.
type Scenario struct {
	Name   string `yaml:"name"`
	Region string `yaml:"region"`
	// URL is the document the caller is executing.
	URL      string `yaml:"url"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	Document string `yaml:"document"`
	Ringback string `yaml:"ringback"`
	// HangupAfter hangs up the caller this long after the dial starts.
	HangupAfter time.Duration              `yaml:"hangup_after"`
	Behaviors   map[string]memory.Behavior `yaml:"behaviors"`
	Presence    []Registration             `yaml:"presence"`
}

// Registration is a client registration seeded before the dial.
type Registration struct {
	User    string        `yaml:"user"`
	Contact string        `yaml:"contact"`
	TTL     time.Duration `yaml:"ttl"`
}

// LoadScenario decodes a scenario and checks that it can run.
func LoadScenario(r io.Reader) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if strings.TrimSpace(sc.Document) == "" {
		return nil, errors.New("scenario has no document")
	}
	if sc.From == "" {
		sc.From = "+15550000001"
	}
	if sc.To == "" {
		sc.To = "+15550000002"
	}
	return &sc, nil
}

// Report is what a run produced.
type Report struct {
	Scenario      string                      `json:"scenario"`
	Outcome       *dial.Outcome               `json:"outcome,omitempty"`
	Error         string                      `json:"error,omitempty"`
	Redirects     []RedirectRecord            `json:"redirects,omitempty"`
	Notifications []notification.Notification `json:"notifications,omitempty"`
	Failed        bool                        `json:"failed"`
	Events        []string                    `json:"events"`
	Calls         []memory.CallInfo           `json:"calls"`
}

// RedirectRecord is one action request the dial would have made.
type RedirectRecord struct {
	URL    string     `json:"url"`
	Method string     `json:"method"`
	Params url.Values `json:"params"`
}

// recorder stands in for the document interpreter: it records instead of
// fetching.
type recorder struct {
	base *url.URL

	mu        sync.Mutex
	notes     []notification.Notification
	redirects []RedirectRecord
	failed    bool
}

func (r *recorder) CurrentResourceURI() *url.URL { return r.base }

func (r *recorder) Notify(ctx context.Context, level notification.Level, code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, notification.New(level, code))
}

func (r *recorder) Failed(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = true
}

func (r *recorder) Redirect(ctx context.Context, action *url.URL, method string, params url.Values) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redirects = append(r.redirects, RedirectRecord{URL: action.String(), Method: method, Params: params})
	return nil
}

// Run executes the scenario against an in-memory engine.
func Run(ctx context.Context, sc *Scenario, opts ...memory.Option) (*Report, error) {
	tag, err := markup.ParseDial(strings.NewReader(sc.Document))
	if err != nil {
		return nil, err
	}
	var base *url.URL
	if sc.URL != "" {
		if base, err = url.Parse(sc.URL); err != nil {
			return nil, fmt.Errorf("scenario url: %w", err)
		}
	}

	eng := memory.New(opts...)
	for target, b := range sc.Behaviors {
		eng.SetBehavior(target, b)
	}

	store := presence.NewMemoryStore(0)
	defer store.Close()
	for _, reg := range sc.Presence {
		ttl := reg.TTL
		if ttl <= 0 {
			ttl = time.Hour
		}
		if _, err := store.Register(ctx, presence.Record{
			User:       reg.User,
			ContactURI: reg.Contact,
			ExpiresAt:  time.Now().Add(ttl),
		}); err != nil {
			return nil, fmt.Errorf("seed presence %s: %w", reg.User, err)
		}
	}

	pub := events.NewChannelPublisher(1024)
	svc := dial.NewService(dial.ServiceConfig{
		Calls:         eng,
		Conferences:   eng,
		Presence:      store,
		Publisher:     pub,
		NodeID:        "dialsim",
		RingbackAudio: sc.Ringback,
		Region:        sc.Region,
	})

	caller := eng.CreateInboundCall(sc.From, sc.To)
	if sc.HangupAfter > 0 {
		t := time.AfterFunc(sc.HangupAfter, func() { _ = caller.Hangup(context.Background()) })
		defer t.Stop()
	}

	rec := &recorder{base: base}
	outcome, runErr := svc.Execute(ctx, rec, caller, tag)
	_ = pub.Close()

	report := &Report{
		Scenario:      sc.Name,
		Outcome:       outcome,
		Redirects:     rec.redirects,
		Notifications: rec.notes,
		Failed:        rec.failed,
		Calls:         eng.Calls(),
	}
	if runErr != nil {
		report.Error = runErr.Error()
	}
	for ev := range pub.Events() {
		report.Events = append(report.Events, string(ev.Type()))
	}
	return report, nil
}
