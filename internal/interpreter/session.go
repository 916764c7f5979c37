// Package interpreter is the document side of a dial: it tracks which
// document a call is executing, collects notifications, and fetches the
// next document when a dial reports its outcome.
package interpreter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sebas/dialer/internal/markup"
	"github.com/sebas/dialer/internal/notification"
)

// MaxDocumentSize caps the body read from a document server.
const MaxDocumentSize = 1 << 20

var (
	// ErrNoDocument indicates the session has no document URI yet.
	ErrNoDocument = errors.New("no current document")

	// ErrUnsupportedMethod indicates a fetch method other than GET or POST.
	ErrUnsupportedMethod = errors.New("unsupported method")
)

// StatusError reports a non-2xx answer from a document server.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
}

// Session interprets documents for one call.
//
// Thread Safety: All methods are safe for concurrent use.
type Session struct {
	callSID string
	client  *http.Client
	logger  *slog.Logger
	// onFailed runs when the call is flagged failed, e.g. to fail the
	// engine leg.
	onFailed func(ctx context.Context)

	mu       sync.Mutex
	current  *url.URL
	document *markup.Tag
	notes    []notification.Notification
	failed   bool
}

// Option configures a Session.
type Option func(*Session)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) {
		if c != nil {
			s.client = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithFailureHandler sets the hook run by Failed.
func WithFailureHandler(fn func(ctx context.Context)) Option {
	return func(s *Session) {
		s.onFailed = fn
	}
}

// New creates a session for callSID starting at document uri. uri may be
// nil when the first document is supplied inline.
func New(callSID string, uri *url.URL, opts ...Option) *Session {
	s := &Session{
		callSID: callSID,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  slog.Default(),
		current: uri,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CurrentResourceURI returns the document being executed.
func (s *Session) CurrentResourceURI() *url.URL {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Notify records a numbered warning or error.
func (s *Session) Notify(ctx context.Context, level notification.Level, code int) {
	n := notification.New(level, code)

	s.mu.Lock()
	s.notes = append(s.notes, n)
	s.mu.Unlock()

	attrs := []any{"call_sid", s.callSID, "code", code, "message", n.Message}
	if level == notification.Error {
		s.logger.Error("[Interpreter] Notification", attrs...)
		return
	}
	s.logger.Warn("[Interpreter] Notification", attrs...)
}

// Failed flags the call as failed. The failure handler runs once.
func (s *Session) Failed(ctx context.Context) {
	s.mu.Lock()
	already := s.failed
	s.failed = true
	s.mu.Unlock()

	if already {
		return
	}
	s.logger.Error("[Interpreter] Call failed", "call_sid", s.callSID)
	if s.onFailed != nil {
		s.onFailed(ctx)
	}
}

// Redirect fetches the next document from action, sending params as a
// query string for GET and as a form for POST. On success action becomes
// the current document.
func (s *Session) Redirect(ctx context.Context, action *url.URL, method string, params url.Values) error {
	doc, err := s.fetch(ctx, action, method, params)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.current = action
	s.document = doc
	s.mu.Unlock()

	s.logger.Info("[Interpreter] Redirected",
		"call_sid", s.callSID,
		"url", action.String(),
		"method", method,
		"verb", doc.Name,
	)
	return nil
}

// Load fetches the current document with GET and returns its Dial verb.
func (s *Session) Load(ctx context.Context) (*markup.Tag, error) {
	uri := s.CurrentResourceURI()
	if uri == nil {
		return nil, ErrNoDocument
	}
	doc, err := s.fetch(ctx, uri, http.MethodGet, nil)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.document = doc
	s.mu.Unlock()
	return dialOf(doc)
}

// Document returns the last fetched document root, or nil.
func (s *Session) Document() *markup.Tag {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.document
}

// Notifications returns the recorded notifications in order.
func (s *Session) Notifications() []notification.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notification.Notification(nil), s.notes...)
}

// IsFailed reports whether Failed was called.
func (s *Session) IsFailed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

func (s *Session) fetch(ctx context.Context, target *url.URL, method string, params url.Values) (*markup.Tag, error) {
	var (
		req *http.Request
		err error
	)
	switch strings.ToUpper(method) {
	case http.MethodGet, "":
		u := *target
		if len(params) > 0 {
			q := u.Query()
			for k, vs := range params {
				for _, v := range vs {
					q.Add(k, v)
				}
			}
			u.RawQuery = q.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	case http.MethodPost:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, target.String(),
			bytes.NewBufferString(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/xml, text/xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: target.String(), StatusCode: resp.StatusCode}
	}
	doc, err := markup.Parse(io.LimitReader(resp.Body, MaxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	return doc, nil
}

func dialOf(doc *markup.Tag) (*markup.Tag, error) {
	if doc.Name == markup.TagDial {
		return doc, nil
	}
	if dial := doc.Child(markup.TagDial); dial != nil {
		return dial, nil
	}
	return nil, markup.ErrNoDial
}
