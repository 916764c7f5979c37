package dial

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sebas/dialer/internal/engine"
)

// bridge dials a single leg and connects it to call.
//
// Flow:
//  1. Open the room anchored to call, with ringback playing
//  2. Dial the leg and wait up to Timeout for it to leave the queue
//  3. On answer, connect the leg and wait up to TimeLimit
//  4. Otherwise cancel or hang up the leg
//  5. Stop observing, then remove the room
func (s *Service) bridge(ctx context.Context, call, leg engine.Call, opts Options) (*Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "dial.bridge",
		trace.WithAttributes(attribute.String("leg.sid", leg.SID())))
	defer span.End()

	start := s.now()
	sess := newSession()
	defer func() {
		sess.release()
		s.closeRoom(ctx, call.SID())
	}()

	room, err := s.openRoom(ctx, sess, call, opts)
	if err != nil {
		_ = s.release(ctx, leg)
		return nil, err
	}

	sess.watch(leg)
	if err := leg.Dial(ctx); err != nil {
		_ = s.release(ctx, leg)
		return nil, engineErr("dial", leg.SID(), err)
	}
	s.logger.Debug("[Dial] Dialing", "call_sid", call.SID(), "leg_sid", leg.SID(), "to", leg.Recipient())

	sess.awaitUntil(ctx, s.seconds(opts.Timeout), func() bool {
		return leg.Status() != engine.CallStatusQueued || call.Status() != engine.CallStatusInProgress
	})

	if leg.Status() == engine.CallStatusInProgress && call.Status() == engine.CallStatusInProgress {
		s.answered(call, leg, start)
		out, err := s.connect(ctx, sess, room, call, leg, opts, start)
		if out != nil {
			span.SetAttributes(attribute.String("dial.status", out.Status))
		}
		return out, err
	}

	if err := s.release(ctx, leg); err != nil {
		return nil, err
	}
	out := &Outcome{
		Status:   leg.Status().String(),
		LegSID:   leg.SID(),
		Duration: s.now().Sub(start),
	}
	span.SetAttributes(attribute.String("dial.status", out.Status))
	return out, nil
}

// openRoom prepares the ad-hoc room keyed by call: ringback playing and
// call as its first participant. call is observed from here on.
func (s *Service) openRoom(ctx context.Context, sess *session, call engine.Call, opts Options) (engine.Conference, error) {
	room, err := s.conferences.GetConference(ctx, call.SID())
	if err != nil {
		return nil, engineErr("get_conference", call.SID(), err)
	}
	if opts.RingbackTone != "" {
		room.SetBackgroundMusic([]string{opts.RingbackTone})
	}
	if err := room.PlayBackgroundMusic(ctx); err != nil {
		return nil, engineErr("play_music", room.Name(), err)
	}
	sess.watch(call)
	if err := room.AddParticipant(ctx, call); err != nil {
		return nil, engineErr("add_participant", call.SID(), err)
	}
	return room, nil
}

// connect bridges an answered leg into room and holds until either party
// ends the call or TimeLimit runs out, in which case the leg is hung up.
func (s *Service) connect(ctx context.Context, sess *session, room engine.Conference, call, leg engine.Call, opts Options, start time.Time) (*Outcome, error) {
	out := &Outcome{LegSID: leg.SID(), WinnerSID: leg.SID()}

	if err := room.StopBackgroundMusic(ctx); err != nil {
		_ = s.release(ctx, leg)
		return nil, engineErr("stop_music", room.Name(), err)
	}
	if err := room.AddParticipant(ctx, leg); err != nil {
		if leg.Status().IsTerminal() {
			// Hung up between answer and bridge.
			out.Status = leg.Status().String()
			out.Duration = s.now().Sub(start)
			return out, nil
		}
		_ = s.release(ctx, leg)
		return nil, engineErr("add_participant", leg.SID(), err)
	}

	limit := s.seconds(opts.TimeLimit)
	if opts.Record {
		out.RecordingURL = s.newRecording()
		if err := room.RecordAudio(ctx, out.RecordingURL, limit); err != nil {
			_ = s.release(ctx, leg)
			return nil, engineErr("record", room.Name(), err)
		}
	}
	s.publisher.PublishAsync(s.events.DialBridged(call.SID(), leg.SID(), room.Name(), out.RecordingURL))
	s.logger.Info("[Dial] Bridged",
		"call_sid", call.SID(),
		"leg_sid", leg.SID(),
		"record", opts.Record,
	)

	ended := sess.awaitUntil(ctx, limit, func() bool {
		return leg.Status() != engine.CallStatusInProgress || call.Status() != engine.CallStatusInProgress
	})
	if !ended {
		s.logger.Info("[Dial] Time limit reached", "call_sid", call.SID(), "leg_sid", leg.SID())
	}
	if err := s.release(ctx, leg); err != nil {
		return nil, err
	}

	out.Status = leg.Status().String()
	out.Duration = s.now().Sub(start)
	return out, nil
}

func (s *Service) answered(call, leg engine.Call, start time.Time) {
	ring := s.now().Sub(start)
	s.publisher.PublishAsync(s.events.DialAnswered(call.SID(), leg.SID(), leg.Recipient(), ring))
	s.logger.Info("[Dial] Answered",
		"call_sid", call.SID(),
		"leg_sid", leg.SID(),
		"ring", ring,
	)
}
