package dial

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/sebas/dialer/internal/engine"
)

// fork dials every leg at once and bridges the first one to answer.
//
// Flow:
//  1. Open the room anchored to call, with ringback playing
//  2. Race: observe and dial every queued leg concurrently
//  3. Wait up to Timeout for a winner, the end of call, or every leg ending
//  4. Close the race and tear down every loser
//  5. Connect the winner as a single bridge would
//
// With no winner the outcome is StatusNoAnswer and nothing is bridged.
func (s *Service) fork(ctx context.Context, call engine.Call, legs []engine.Call, opts Options) (*Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "dial.fork",
		trace.WithAttributes(attribute.Int("fork.candidates", len(legs))))
	defer span.End()

	start := s.now()
	if len(legs) == 0 {
		s.logger.Info("[Dial] Nothing to dial", "call_sid", call.SID())
		return &Outcome{Status: StatusNoAnswer}, nil
	}

	sess := newSession()
	defer func() {
		sess.release()
		s.closeRoom(ctx, call.SID())
	}()

	room, err := s.openRoom(ctx, sess, call, opts)
	if err != nil {
		s.releaseAll(ctx, legs)
		return nil, err
	}

	sess.race(legs)
	for _, leg := range legs {
		sess.watch(leg)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, leg := range legs {
		if leg.Status() != engine.CallStatusQueued {
			continue
		}
		g.Go(func() error {
			if err := leg.Dial(gctx); err != nil {
				return engineErr("dial", leg.SID(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		sess.stopRace()
		s.releaseAll(ctx, legs)
		return nil, err
	}
	s.logger.Debug("[Dial] Forked", "call_sid", call.SID(), "legs", len(legs))

	sess.awaitUntil(ctx, s.seconds(opts.Timeout), func() bool {
		return sess.winnerLocked() != nil ||
			call.Status() != engine.CallStatusInProgress ||
			allEnded(legs)
	})
	winner := sess.stopRace()

	var firstErr error
	for _, leg := range legs {
		if winner != nil && leg.SID() == winner.SID() {
			continue
		}
		sess.unwatch(leg)
		if err := s.release(ctx, leg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		if winner != nil {
			_ = s.release(ctx, winner)
		}
		return nil, firstErr
	}

	if winner == nil {
		s.logger.Info("[Dial] No answer", "call_sid", call.SID(), "legs", len(legs))
		span.SetAttributes(attribute.String("dial.status", StatusNoAnswer))
		return &Outcome{Status: StatusNoAnswer, Duration: s.now().Sub(start)}, nil
	}

	span.SetAttributes(attribute.String("fork.winner", winner.SID()))
	if call.Status() != engine.CallStatusInProgress {
		if err := s.release(ctx, winner); err != nil {
			return nil, err
		}
		return &Outcome{
			Status:   winner.Status().String(),
			LegSID:   winner.SID(),
			Duration: s.now().Sub(start),
		}, nil
	}

	s.answered(call, winner, start)
	out, err := s.connect(ctx, sess, room, call, winner, opts, start)
	if out != nil {
		span.SetAttributes(attribute.String("dial.status", out.Status))
	}
	return out, err
}

func (s *Service) releaseAll(ctx context.Context, legs []engine.Call) {
	for _, leg := range legs {
		_ = s.release(ctx, leg)
	}
}

func allEnded(legs []engine.Call) bool {
	for _, leg := range legs {
		if !leg.Status().IsTerminal() {
			return false
		}
	}
	return true
}
