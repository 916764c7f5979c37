package dial

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/sebas/dialer/internal/markup"
	"github.com/sebas/dialer/internal/notification"
	"github.com/sebas/dialer/internal/phone"
)

// Attribute defaults.
const (
	DefaultMethod          = "POST"
	DefaultTimeout         = 30
	DefaultTimeLimit       = 14400
	DefaultMaxParticipants = 40
)

// Notifier receives numbered warnings and errors.
type Notifier interface {
	Notify(ctx context.Context, level notification.Level, code int)
}

// Options is the parsed, read-only configuration of one Dial verb.
type Options struct {
	// Action is the post-dial callback. Nil means no callback.
	Action *url.URL
	Method string

	// Timeout is how long legs ring, in seconds.
	Timeout int
	// TimeLimit caps the bridged call, in seconds.
	TimeLimit int

	CallerID     string
	RingbackTone string
	Record       bool
	HangupOnStar bool
}

// Defaults are the values Options fall back to when the verb omits them.
type Defaults struct {
	// CallerID is the anchoring call's originator.
	CallerID string
	// Ringback is the audio played while legs ring.
	Ringback string
	// Region is used to parse numbers without a country code.
	Region string
}

// ParseOptions reads the Dial attributes of tag. Invalid values fall back to
// their defaults and are reported to n as warnings; parsing never fails.
func ParseOptions(ctx context.Context, n Notifier, base *url.URL, tag *markup.Tag, d Defaults) Options {
	opts := Options{
		Method:       DefaultMethod,
		Timeout:      DefaultTimeout,
		TimeLimit:    DefaultTimeLimit,
		CallerID:     d.CallerID,
		RingbackTone: d.Ringback,
	}

	if v, ok := tag.Attribute(markup.AttrAction); ok && v != "" {
		if u, err := resolveURL(base, v); err != nil {
			n.Notify(ctx, notification.Warning, notification.InvalidURL)
		} else {
			opts.Action = u
		}
	}

	if v, ok := tag.Attribute(markup.AttrMethod); ok && v != "" {
		opts.Method = parseMethod(ctx, n, v, notification.InvalidMethod)
	}

	if v, ok := tag.Attribute(markup.AttrTimeout); ok {
		if t, ok := positiveInt(v); ok {
			opts.Timeout = t
		} else {
			n.Notify(ctx, notification.Warning, notification.InvalidTimeout)
		}
	}

	if v, ok := tag.Attribute(markup.AttrTimeLimit); ok {
		if t, ok := positiveInt(v); ok {
			opts.TimeLimit = t
		} else {
			n.Notify(ctx, notification.Warning, notification.InvalidTimeLimit)
		}
	}

	if v, ok := tag.Attribute(markup.AttrCallerID); ok && v != "" {
		opts.CallerID = v
	}
	if opts.CallerID != "" {
		if e164, err := phone.Parse(opts.CallerID, d.Region); err == nil {
			opts.CallerID = e164
		} else {
			n.Notify(ctx, notification.Warning, notification.InvalidCallerID)
		}
	}

	if v, ok := tag.Attribute(markup.AttrRingbackTone); ok && v != "" {
		if u, err := resolveURL(base, v); err != nil {
			n.Notify(ctx, notification.Warning, notification.InvalidURL)
		} else {
			opts.RingbackTone = u.String()
		}
	}

	if v, ok := tag.Attribute(markup.AttrRecord); ok {
		opts.Record = strings.EqualFold(v, "true")
	}

	if v, ok := tag.Attribute(markup.AttrHangupOnStar); ok {
		b, ok := parseBool(v)
		if !ok {
			n.Notify(ctx, notification.Warning, notification.InvalidHangupOnStar)
		}
		opts.HangupOnStar = b && ok
	}
	return opts
}

// ConferencePolicy is the parsed entry and exit policy of one conference join.
type ConferencePolicy struct {
	Name         string
	Muted        bool
	Beep         bool
	StartOnEnter bool
	EndOnExit    bool
	// WaitURL is the hold music. Nil means silence.
	WaitURL         *url.URL
	WaitMethod      string
	MaxParticipants int
}

// ParseConferencePolicy reads the attributes of a Conference noun.
func ParseConferencePolicy(ctx context.Context, n Notifier, base *url.URL, tag *markup.Tag) ConferencePolicy {
	p := ConferencePolicy{
		Name:            tag.Text,
		Beep:            true,
		StartOnEnter:    true,
		WaitMethod:      DefaultMethod,
		MaxParticipants: DefaultMaxParticipants,
	}

	p.Muted = boolAttr(ctx, n, tag, markup.AttrMuted, false, notification.InvalidMuted)
	p.StartOnEnter = boolAttr(ctx, n, tag, markup.AttrStartConferenceOnEnter, true, notification.InvalidStartConferenceOnEnter)
	p.EndOnExit = boolAttr(ctx, n, tag, markup.AttrEndConferenceOnExit, false, notification.InvalidEndConferenceOnExit)

	if v, ok := tag.Attribute(markup.AttrBeep); ok {
		if b, ok := parseBool(v); ok {
			p.Beep = b
		}
	}

	if v, ok := tag.Attribute(markup.AttrWaitURL); ok && v != "" {
		if u, err := resolveURL(base, v); err != nil {
			n.Notify(ctx, notification.Warning, notification.InvalidWaitURL)
		} else {
			p.WaitURL = u
		}
	}

	if v, ok := tag.Attribute(markup.AttrWaitMethod); ok && v != "" {
		p.WaitMethod = parseMethod(ctx, n, v, notification.InvalidWaitMethod)
	}

	if v, ok := tag.Attribute(markup.AttrMaxParticipants); ok {
		if m, ok := positiveInt(v); ok {
			p.MaxParticipants = m
		}
	}
	return p
}

func boolAttr(ctx context.Context, n Notifier, tag *markup.Tag, name string, def bool, code int) bool {
	v, ok := tag.Attribute(name)
	if !ok {
		return def
	}
	b, ok := parseBool(v)
	if !ok {
		n.Notify(ctx, notification.Warning, code)
		return def
	}
	return b
}

func parseBool(v string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

func positiveInt(v string) (int, bool) {
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || i <= 0 {
		return 0, false
	}
	return i, true
}

func parseMethod(ctx context.Context, n Notifier, v string, code int) string {
	switch m := strings.ToUpper(strings.TrimSpace(v)); m {
	case "GET", "POST":
		return m
	}
	n.Notify(ctx, notification.Warning, code)
	return DefaultMethod
}

// resolveURL parses raw and resolves it against base when it is relative.
func resolveURL(base *url.URL, raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if base != nil && !u.IsAbs() {
		u = base.ResolveReference(u)
	}
	return u, nil
}
