// Package dial orchestrates the Dial verb: bridging a single destination,
// racing several destinations to the first answer, or joining a named
// conference room.
package dial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sebas/dialer/internal/engine"
	"github.com/sebas/dialer/internal/events"
	"github.com/sebas/dialer/internal/markup"
	"github.com/sebas/dialer/internal/notification"
	"github.com/sebas/dialer/internal/phone"
)

const tracerName = "github.com/sebas/dialer/internal/dial"

// Interpreter is the document interpreter driving the anchoring call.
type Interpreter interface {
	Notifier

	// CurrentResourceURI is the document being executed. Relative URLs
	// in attributes resolve against it.
	CurrentResourceURI() *url.URL

	// Failed flags the anchoring call as failed.
	Failed(ctx context.Context)

	// Redirect loads the next document from action with params.
	Redirect(ctx context.Context, action *url.URL, method string, params url.Values) error
}

// ServiceConfig holds the collaborators of a Service.
type ServiceConfig struct {
	Calls       engine.CallManager
	Conferences engine.ConferenceCenter
	// Presence resolves Client nouns. Optional.
	Presence  PresenceLookup
	Publisher events.Publisher
	NodeID    string

	// RingbackAudio is the audio file played while legs ring.
	RingbackAudio string
	// RecordingsURL is the base URL recordings are written under.
	RecordingsURL string
	// Region is the default phone number region.
	Region string

	Logger *slog.Logger
	Tracer trace.Tracer
}

// Service runs Dial verbs against the call engine.
type Service struct {
	calls       engine.CallManager
	conferences engine.ConferenceCenter
	resolver    *Resolver
	publisher   events.Publisher
	events      *events.Builder

	ringback      string
	recordingsURL string
	region        string

	logger *slog.Logger
	tracer trace.Tracer

	// joinMu serializes conference admission.
	joinMu sync.Mutex

	// second is the unit of timeout and timeLimit.
	second time.Duration
	now    func() time.Time
}

// NewService creates a dial service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.NewNoopPublisher()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	if cfg.Region == "" {
		cfg.Region = phone.DefaultRegion
	}

	s := &Service{
		calls:         cfg.Calls,
		conferences:   cfg.Conferences,
		resolver:      NewResolver(cfg.Calls, cfg.Presence, cfg.Region, cfg.Logger),
		publisher:     cfg.Publisher,
		events:        events.NewBuilder(cfg.NodeID),
		recordingsURL: strings.TrimRight(cfg.RecordingsURL, "/"),
		region:        cfg.Region,
		logger:        cfg.Logger,
		tracer:        cfg.Tracer,
		second:        time.Second,
		now:           time.Now,
	}
	if cfg.RingbackAudio != "" {
		s.ringback = (&url.URL{Scheme: "file", Path: cfg.RingbackAudio}).String()
	}
	return s
}

// Execute runs the Dial verb tag on behalf of call.
//
// Text in the verb dials a single number; a Conference noun joins a room;
// any other nouns are raced against each other. When the anchoring call is
// still up and the verb has an action, the outcome is posted there.
//
// Engine failures are fatal: the interpreter is told the call failed and
// an *EngineError is returned. A single target that is not a phone number
// abandons the dial with ErrInvalidNumber and leaves the call untouched.
func (s *Service) Execute(ctx context.Context, interp Interpreter, call engine.Call, tag *markup.Tag) (*Outcome, error) {
	if call == nil {
		return nil, ErrNoCall
	}

	ctx, span := s.tracer.Start(ctx, "dial.execute",
		trace.WithAttributes(attribute.String("call.sid", call.SID())))
	defer span.End()

	base := interp.CurrentResourceURI()
	opts := ParseOptions(ctx, interp, base, tag, Defaults{
		CallerID: call.Originator(),
		Ringback: s.ringback,
		Region:   s.region,
	})

	var (
		mode    events.Mode
		outcome *Outcome
		err     error
	)
	switch conf := tag.Child(markup.TagConference); {
	case tag.Text != "":
		mode = events.ModeSingle
		number, perr := phone.Parse(tag.Text, s.region)
		if perr != nil {
			interp.Notify(ctx, notification.Warning, notification.InvalidNumber)
			s.logger.Warn("[Dial] Invalid number, dial abandoned",
				"call_sid", call.SID(),
				"number", tag.Text,
			)
			span.SetStatus(codes.Error, "invalid number")
			return nil, fmt.Errorf("%w: %q", ErrInvalidNumber, tag.Text)
		}
		s.started(call, mode, []string{number}, opts)

		leg, cerr := s.calls.CreateExternalCall(ctx, opts.CallerID, number)
		if cerr != nil {
			err = engineErr("create_external_call", number, cerr)
			break
		}
		outcome, err = s.bridge(ctx, call, leg, opts)

	case conf != nil:
		mode = events.ModeConference
		s.started(call, mode, []string{conf.Text}, opts)
		policy := ParseConferencePolicy(ctx, interp, base, conf)
		outcome, err = s.join(ctx, call, policy)

	default:
		mode = events.ModeFork
		legs, rerr := s.resolver.Resolve(ctx, opts.CallerID, tag.Children)
		if rerr != nil {
			s.started(call, mode, nil, opts)
			err = rerr
			break
		}
		targets := make([]string, 0, len(legs))
		for _, leg := range legs {
			targets = append(targets, leg.Recipient())
		}
		s.started(call, mode, targets, opts)
		outcome, err = s.fork(ctx, call, legs, opts)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		return nil, s.fail(ctx, interp, call, mode, err)
	}

	if outcome.unit == 0 {
		outcome.unit = s.second
	}
	span.SetAttributes(attribute.String("dial.status", outcome.Status))
	s.publisher.PublishAsync(s.events.DialEnded(call.SID(), mode).
		Status(outcome.Status).
		Leg(outcome.LegSID).
		Duration(outcome.Duration).
		Recording(outcome.RecordingURL).
		Build())

	s.logger.Info("[Dial] Finished",
		"call_sid", call.SID(),
		"mode", string(mode),
		"status", outcome.Status,
		"leg_sid", outcome.LegSID,
		"duration", outcome.Duration,
	)

	if opts.Action == nil || call.Status() != engine.CallStatusInProgress {
		return outcome, nil
	}
	// The call is still up, so it gets its next document even when ctx was
	// cancelled during the dial.
	rctx := context.WithoutCancel(ctx)
	if rerr := interp.Redirect(rctx, opts.Action, opts.Method, outcome.Params()); rerr != nil {
		s.logger.Error("[Dial] Redirect failed",
			"call_sid", call.SID(),
			"action", opts.Action.String(),
			"error", rerr,
		)
		interp.Failed(rctx)
		interp.Notify(rctx, notification.Error, notification.DialFailed)
		return outcome, fmt.Errorf("redirect to %s: %w", opts.Action, rerr)
	}
	return outcome, nil
}

func (s *Service) started(call engine.Call, mode events.Mode, targets []string, opts Options) {
	s.publisher.PublishAsync(s.events.DialStarted(call.SID(), mode).
		Targets(targets).
		CallerID(opts.CallerID).
		Limits(opts.Timeout, opts.TimeLimit).
		Record(opts.Record).
		Build())

	s.logger.Info("[Dial] Started",
		"call_sid", call.SID(),
		"mode", string(mode),
		"targets", len(targets),
		"timeout", opts.Timeout,
		"time_limit", opts.TimeLimit,
	)
}

// fail reports a fatal dial error.
func (s *Service) fail(ctx context.Context, interp Interpreter, call engine.Call, mode events.Mode, err error) error {
	s.logger.Error("[Dial] Engine failure",
		"call_sid", call.SID(),
		"mode", string(mode),
		"error", err,
	)
	interp.Failed(ctx)
	interp.Notify(ctx, notification.Error, notification.DialFailed)
	s.publisher.PublishAsync(s.events.DialEnded(call.SID(), mode).
		Status(engine.CallStatusFailed.String()).
		Err(err).
		Build())
	return err
}

// seconds converts a count of dial seconds to a duration.
func (s *Service) seconds(n int) time.Duration {
	return time.Duration(n) * s.second
}

func (s *Service) newRecording() string {
	sid := "RE" + strings.ReplaceAll(uuid.New().String(), "-", "")
	if s.recordingsURL == "" {
		return sid + ".wav"
	}
	return s.recordingsURL + "/" + sid + ".wav"
}

// release hangs up or cancels leg, whichever its status calls for. Cleanup
// runs even when ctx is already cancelled.
func (s *Service) release(ctx context.Context, leg engine.Call) error {
	ctx = context.WithoutCancel(ctx)

	var err error
	switch leg.Status() {
	case engine.CallStatusQueued:
		err = leg.Cancel(ctx)
		if errors.Is(err, engine.ErrInvalidTransition) {
			// Answered since the status check.
			err = leg.Hangup(ctx)
		}
		if err == nil {
			s.logger.Debug("[Dial] Leg cancelled", "leg_sid", leg.SID())
		}
	case engine.CallStatusInProgress:
		err = leg.Hangup(ctx)
		if err == nil {
			s.logger.Debug("[Dial] Leg hung up", "leg_sid", leg.SID())
		}
	}
	if err != nil {
		s.logger.Warn("[Dial] Failed to release leg", "leg_sid", leg.SID(), "error", err)
		return engineErr("release", leg.SID(), err)
	}
	return nil
}

// closeRoom removes the ad-hoc room of the anchoring call.
func (s *Service) closeRoom(ctx context.Context, name string) {
	if err := s.conferences.RemoveConference(context.WithoutCancel(ctx), name); err != nil {
		s.logger.Warn("[Dial] Failed to remove room", "room", name, "error", err)
	}
}
