package dial

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidNumber indicates the single dial target is not a phone
	// number. The dial is abandoned with a warning and no outcome.
	ErrInvalidNumber = errors.New("invalid dial number")

	// ErrConferenceFull indicates a join into a room already at capacity.
	ErrConferenceFull = errors.New("conference is full")

	// ErrNoCall indicates Execute was called without an anchoring call.
	ErrNoCall = errors.New("no call to dial from")
)

// EngineError reports a failure of the call or conference engine during a
// dial. It is fatal for the dial: the anchoring call is flagged failed.
type EngineError struct {
	// Op is the engine operation that failed, e.g. "create_call".
	Op string
	// Target is the call SID, room name or address involved.
	Target string
	// Cause is the underlying error.
	Cause error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %s %s: %v", e.Op, e.Target, e.Cause)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

func engineErr(op, target string, err error) error {
	if err == nil {
		return nil
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return err
	}
	return &EngineError{Op: op, Target: target, Cause: err}
}

// IsEngineError reports whether err carries an EngineError.
func IsEngineError(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee)
}
