// Package notification defines the numbered warnings and errors a dial
// reports to the document interpreter.
package notification

import (
	"fmt"
	"time"
)

// Level is the severity of a notification.
type Level int

const (
	Warning Level = iota
	Error
)

func (l Level) String() string {
	switch l {
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(l))
	}
}

// MarshalText encodes the level by name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name.
func (l *Level) UnmarshalText(b []byte) error {
	switch string(b) {
	case "warning":
		*l = Warning
	case "error":
		*l = Error
	default:
		return fmt.Errorf("unknown notification level %q", b)
	}
	return nil
}

// Notification codes.
const (
	InvalidURL                    = 11100
	DialFailed                    = 12400
	InvalidMethod                 = 13210
	InvalidTimeout                = 13212
	InvalidHangupOnStar           = 13213
	InvalidCallerID               = 13214
	InvalidTimeLimit              = 13216
	InvalidNumber                 = 13223
	InvalidMuted                  = 13230
	InvalidEndConferenceOnExit    = 13231
	InvalidStartConferenceOnEnter = 13232
	InvalidWaitURL                = 13233
	InvalidWaitMethod             = 13234
)

var messages = map[int]string{
	InvalidURL:                    "invalid URL",
	DialFailed:                    "dial failed",
	InvalidMethod:                 "invalid method, using POST",
	InvalidTimeout:                "invalid timeout, using 30",
	InvalidHangupOnStar:           "invalid hangupOnStar, using false",
	InvalidCallerID:               "invalid callerId",
	InvalidTimeLimit:              "invalid timeLimit, using 14400",
	InvalidNumber:                 "invalid phone number",
	InvalidMuted:                  "invalid muted, using false",
	InvalidEndConferenceOnExit:    "invalid endConferenceOnExit, using false",
	InvalidStartConferenceOnEnter: "invalid startConferenceOnEnter, using true",
	InvalidWaitURL:                "invalid waitUrl, no hold music",
	InvalidWaitMethod:             "invalid waitMethod, using POST",
}

// Message returns the description of code.
func Message(code int) string {
	if m, ok := messages[code]; ok {
		return m
	}
	return fmt.Sprintf("code %d", code)
}

// Notification is one reported warning or error.
type Notification struct {
	Level   Level     `json:"level"`
	Code    int       `json:"code"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// New builds a notification for code stamped with the current time.
func New(level Level, code int) Notification {
	return Notification{
		Level:   level,
		Code:    code,
		Message: Message(code),
		Time:    time.Now().UTC(),
	}
}
