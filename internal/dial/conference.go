package dial

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sebas/dialer/internal/engine"
)

// join puts call into the named room and holds until it leaves, ends, or
// the room closes. Named rooms are shared with other dials, so the room is
// removed only when the policy ends the conference on exit.
func (s *Service) join(ctx context.Context, call engine.Call, policy ConferencePolicy) (*Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "dial.join",
		trace.WithAttributes(attribute.String("conference.name", policy.Name)))
	defer span.End()

	start := s.now()
	if policy.Name == "" {
		s.logger.Warn("[Dial] Conference without a name", "call_sid", call.SID())
		return &Outcome{Status: StatusFailed}, nil
	}

	room, err := s.conferences.GetConference(ctx, policy.Name)
	if err != nil {
		return nil, engineErr("get_conference", policy.Name, err)
	}
	sess := newSession()
	defer sess.release()
	sess.watch(call)
	sess.watchRoom(room)

	admitted, err := s.admit(ctx, room, call, policy)
	if err != nil {
		return nil, err
	}
	if !admitted {
		return &Outcome{Status: StatusFailed}, nil
	}
	s.publisher.PublishAsync(s.events.ConferenceJoined(call.SID(), policy.Name, room.NumberOfParticipants(), call.IsMuted()))
	s.logger.Info("[Dial] Joined conference",
		"call_sid", call.SID(),
		"conference", policy.Name,
		"muted", call.IsMuted(),
	)

	sess.awaitUntil(ctx, 0, func() bool {
		return call.Status() != engine.CallStatusInProgress ||
			room.Status().IsTerminal() ||
			!room.HasParticipant(call)
	})
	sess.release()

	cleanup := context.WithoutCancel(ctx)
	if policy.EndOnExit {
		if err := s.conferences.RemoveConference(cleanup, policy.Name); err != nil {
			return nil, engineErr("remove_conference", policy.Name, err)
		}
	} else if call.Status() == engine.CallStatusInProgress && room.HasParticipant(call) {
		if err := room.RemoveParticipant(cleanup, call); err != nil {
			return nil, engineErr("remove_participant", call.SID(), err)
		}
	}

	s.publisher.PublishAsync(s.events.ConferenceLeft(call.SID(), policy.Name, room.NumberOfParticipants(), policy.EndOnExit))
	s.logger.Info("[Dial] Left conference",
		"call_sid", call.SID(),
		"conference", policy.Name,
		"ended_room", policy.EndOnExit,
	)
	return &Outcome{Status: StatusCompleted, Duration: s.now().Sub(start)}, nil
}

// admit adds call to room unless the room is at capacity. Admissions are
// serialized so the capacity check holds until the call is in the room.
func (s *Service) admit(ctx context.Context, room engine.Conference, call engine.Call, policy ConferencePolicy) (bool, error) {
	s.joinMu.Lock()
	defer s.joinMu.Unlock()

	if n := room.NumberOfParticipants(); n >= policy.MaxParticipants {
		s.logger.Warn("[Dial] Conference full",
			"call_sid", call.SID(),
			"conference", policy.Name,
			"participants", n,
			"error", ErrConferenceFull,
		)
		return false, nil
	}
	if err := s.enter(ctx, room, call, policy); err != nil {
		return false, err
	}
	if err := room.AddParticipant(ctx, call); err != nil {
		return false, engineErr("add_participant", call.SID(), err)
	}
	return true, nil
}

// enter applies the entry policy before call is added to room.
func (s *Service) enter(ctx context.Context, room engine.Conference, call engine.Call, policy ConferencePolicy) error {
	if !policy.StartOnEnter {
		if !call.IsMuted() {
			if err := call.Mute(ctx); err != nil {
				return engineErr("mute", call.SID(), err)
			}
		}
		if room.NumberOfParticipants() == 0 && policy.WaitURL != nil {
			room.SetBackgroundMusic([]string{policy.WaitURL.String()})
			if err := room.PlayBackgroundMusic(ctx); err != nil {
				return engineErr("play_music", room.Name(), err)
			}
		}
		return nil
	}

	if err := room.StopBackgroundMusic(ctx); err != nil {
		return engineErr("stop_music", room.Name(), err)
	}
	if policy.Beep {
		if err := room.Alert(ctx); err != nil {
			return engineErr("alert", room.Name(), err)
		}
	}
	if policy.Muted {
		if err := call.Mute(ctx); err != nil {
			return engineErr("mute", call.SID(), err)
		}
	}
	return nil
}
