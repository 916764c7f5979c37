package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/sebas/dialer/internal/dial"
	"github.com/sebas/dialer/internal/engine"
	"github.com/sebas/dialer/internal/engine/memory"
	"github.com/sebas/dialer/internal/interpreter"
	"github.com/sebas/dialer/internal/markup"
	"github.com/sebas/dialer/internal/notification"
)

var _ dial.Interpreter = (*interpreter.Session)(nil)

type createCallRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Calls())
}

// handleCreateCall registers an answered inbound call that dials can anchor on.
func (s *Server) handleCreateCall(w http.ResponseWriter, r *http.Request) {
	var req createCallRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if req.From == "" || req.To == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}
	call := s.engine.CreateInboundCall(req.From, req.To)
	s.logger.Info("[API] Inbound call created", "call_sid", call.SID(), "from", req.From, "to", req.To)
	writeJSON(w, http.StatusCreated, call.Info())
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	call, ok := s.engine.Call(r.PathValue("sid"))
	if !ok {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	writeJSON(w, http.StatusOK, call.Info())
}

// handleCallAction drives a leg the way the far end would.
func (s *Server) handleCallAction(w http.ResponseWriter, r *http.Request) {
	call, ok := s.engine.Call(r.PathValue("sid"))
	if !ok {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}

	var err error
	switch action := r.PathValue("action"); action {
	case "answer":
		err = call.Answer()
	case "reject":
		err = call.Reject()
	case "complete":
		err = call.Complete()
	case "hangup":
		err = call.Hangup(r.Context())
	case "fail":
		err = call.Fail()
	default:
		writeError(w, http.StatusNotFound, "unknown action "+action)
		return
	}
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, engine.ErrInvalidTransition) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, call.Info())
}

type dialRequest struct {
	// URL is the document the call is executing. Relative action and
	// wait URLs resolve against it.
	URL string `json:"url,omitempty"`
	// Document is an inline document holding the Dial verb. When empty the
	// document is fetched from URL.
	Document string `json:"document,omitempty"`
	// Wait makes the request block until the dial finishes.
	Wait bool `json:"wait,omitempty"`
}

type dialResponse struct {
	CallSID       string                      `json:"call_sid"`
	State         string                      `json:"state"`
	Outcome       *dial.Outcome               `json:"outcome,omitempty"`
	Notifications []notification.Notification `json:"notifications,omitempty"`
	Error         string                      `json:"error,omitempty"`
}

// handleDial executes a Dial verb on an existing call.
func (s *Server) handleDial(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	call, ok := s.engine.Call(sid)
	if !ok {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}

	var req dialRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	var uri *url.URL
	if req.URL != "" {
		u, err := url.Parse(req.URL)
		if err != nil || !u.IsAbs() {
			writeError(w, http.StatusBadRequest, "url must be absolute")
			return
		}
		uri = u
	}
	if uri == nil && req.Document == "" {
		writeError(w, http.StatusBadRequest, "url or document is required")
		return
	}

	log := s.logger.With("call_sid", sid)
	session := interpreter.New(sid, uri,
		interpreter.WithHTTPClient(s.client),
		interpreter.WithLogger(log),
		interpreter.WithFailureHandler(func(context.Context) { failCall(call) }),
	)

	var (
		tag *markup.Tag
		err error
	)
	if req.Document != "" {
		tag, err = markup.ParseDial(strings.NewReader(req.Document))
	} else {
		tag, err = session.Load(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "document: "+err.Error())
		return
	}

	if !s.claim(sid) {
		writeError(w, http.StatusConflict, "call is already dialing")
		return
	}

	if req.Wait {
		defer s.unclaim(sid)
		// Only the call ending stops a dial; a client that stops waiting
		// does not.
		outcome, err := s.dialer.Execute(context.WithoutCancel(r.Context()), session, call, tag)
		resp := dialResponse{
			CallSID:       sid,
			State:         "finished",
			Outcome:       outcome,
			Notifications: session.Notifications(),
		}
		status := http.StatusOK
		if err != nil {
			resp.Error = err.Error()
			status = dialErrorStatus(err)
		}
		writeJSON(w, status, resp)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.unclaim(sid)
		if _, err := s.dialer.Execute(s.baseCtx, session, call, tag); err != nil {
			log.Warn("[API] Background dial ended with error", "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, dialResponse{CallSID: sid, State: "dialing"})
}

func (s *Server) claim(sid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.dialing[sid]; busy {
		return false
	}
	s.dialing[sid] = struct{}{}
	return true
}

func (s *Server) unclaim(sid string) {
	s.mu.Lock()
	delete(s.dialing, sid)
	s.mu.Unlock()
}

func dialErrorStatus(err error) int {
	switch {
	case errors.Is(err, dial.ErrInvalidNumber):
		return http.StatusUnprocessableEntity
	case dial.IsEngineError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func failCall(call *memory.Call) {
	if call.Status().IsTerminal() {
		return
	}
	_ = call.Fail()
}

func (s *Server) handleListConferences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Conferences())
}

func (s *Server) handleGetConference(w http.ResponseWriter, r *http.Request) {
	room, ok := s.engine.Conference(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, "conference not found")
		return
	}
	writeJSON(w, http.StatusOK, room.Info())
}
