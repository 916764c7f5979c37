package dial

import (
	"context"
	"log/slog"
	"time"

	"github.com/sebas/dialer/internal/engine"
	"github.com/sebas/dialer/internal/markup"
	"github.com/sebas/dialer/internal/phone"
	"github.com/sebas/dialer/internal/presence"
)

// PresenceLookup finds the registrations of a client.
type PresenceLookup interface {
	RecordsByUser(ctx context.Context, user string) ([]presence.Record, error)
}

// Resolver turns the nouns of a Dial verb into queued legs.
type Resolver struct {
	calls    engine.CallManager
	presence PresenceLookup
	region   string
	logger   *slog.Logger
	now      func() time.Time
}

// NewResolver creates a resolver. presence may be nil, in which case Client
// nouns resolve to nothing.
func NewResolver(calls engine.CallManager, lookup PresenceLookup, region string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		calls:    calls,
		presence: lookup,
		region:   region,
		logger:   logger,
		now:      time.Now,
	}
}

// Resolve creates one queued leg per dialable destination in children.
//
// Client nouns yield a leg per live registration, Uri nouns must be SIP
// URIs and Number nouns must parse as phone numbers. Anything else is
// skipped. An engine failure cancels the legs created so far.
func (r *Resolver) Resolve(ctx context.Context, caller string, children []*markup.Tag) ([]engine.Call, error) {
	var legs []engine.Call
	fail := func(op, target string, err error) ([]engine.Call, error) {
		for _, leg := range legs {
			_ = leg.Cancel(context.WithoutCancel(ctx))
		}
		return nil, engineErr(op, target, err)
	}

	for _, child := range children {
		if child.Text == "" {
			continue
		}
		switch child.Name {
		case markup.TagClient:
			for _, contact := range r.contacts(ctx, child.Text) {
				leg, err := r.calls.CreateCall(ctx, caller, contact)
				if err != nil {
					return fail("create_call", contact, err)
				}
				legs = append(legs, leg)
			}

		case markup.TagURI:
			if err := presence.ValidateContact(child.Text); err != nil {
				r.logger.Warn("[Resolver] Skipping malformed URI", "uri", child.Text, "error", err)
				continue
			}
			leg, err := r.calls.CreateCall(ctx, caller, child.Text)
			if err != nil {
				return fail("create_call", child.Text, err)
			}
			legs = append(legs, leg)

		case markup.TagNumber:
			number, err := phone.Parse(child.Text, r.region)
			if err != nil {
				r.logger.Debug("[Resolver] Skipping malformed number", "number", child.Text)
				continue
			}
			leg, err := r.calls.CreateExternalCall(ctx, caller, number)
			if err != nil {
				return fail("create_external_call", number, err)
			}
			legs = append(legs, leg)
		}
	}
	return legs, nil
}

func (r *Resolver) contacts(ctx context.Context, user string) []string {
	if r.presence == nil {
		return nil
	}
	records, err := r.presence.RecordsByUser(ctx, user)
	if err != nil {
		r.logger.Warn("[Resolver] Presence lookup failed", "user", user, "error", err)
		return nil
	}
	now := r.now()
	var out []string
	for _, rec := range records {
		if rec.Live(now) {
			out = append(out, rec.ContactURI)
		}
	}
	if len(out) == 0 {
		r.logger.Debug("[Resolver] Client has no live registration", "user", user)
	}
	return out
}
