package dial

import (
	"net/url"
	"strconv"
	"time"
)

// Outcome statuses beyond the leg status names.
const (
	// StatusNoAnswer reports a fork in which no candidate answered.
	StatusNoAnswer = "no-answer"
	// StatusCompleted reports a finished conference join.
	StatusCompleted = "completed"
	// StatusFailed reports a join refused by the room.
	StatusFailed = "failed"
)

// Callback parameter names.
const (
	ParamDialCallStatus   = "DialCallStatus"
	ParamDialCallSid      = "DialCallSid"
	ParamDialCallDuration = "DialCallDuration"
	ParamRecordingURL     = "RecordingUrl"
)

// Outcome is the result of one dial.
type Outcome struct {
	// Status is the final leg status name, or one of the Status constants.
	Status string `json:"status"`
	// LegSID is the dialed leg: the single leg or the fork winner.
	LegSID string `json:"leg_sid,omitempty"`
	// WinnerSID is set only when a leg answered.
	WinnerSID string `json:"winner_sid,omitempty"`
	// Duration runs from dial start to the end of the bridge.
	Duration     time.Duration `json:"duration"`
	RecordingURL string        `json:"recording_url,omitempty"`

	unit time.Duration
}

// Params returns the callback parameter set.
func (o *Outcome) Params() url.Values {
	unit := o.unit
	if unit <= 0 {
		unit = time.Second
	}
	v := url.Values{}
	v.Set(ParamDialCallStatus, o.Status)
	if o.LegSID != "" {
		v.Set(ParamDialCallSid, o.LegSID)
	}
	v.Set(ParamDialCallDuration, strconv.FormatInt(int64(o.Duration/unit), 10))
	if o.RecordingURL != "" {
		v.Set(ParamRecordingURL, o.RecordingURL)
	}
	return v
}

// Answered reports whether a leg was bridged.
func (o *Outcome) Answered() bool {
	return o.WinnerSID != ""
}
