package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sebas/dialer/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

type eventFrame struct {
	Subject string           `json:"subject"`
	Type    events.EventType `json:"type"`
	Event   events.Event     `json:"event"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Access is controlled by the bearer token, not the origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEvents streams dial events matching the subject query parameter
// (default: every call) over a websocket.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	pattern := r.URL.Query().Get("subject")
	if pattern == "" {
		pattern = events.PatternAllCalls
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	stream, cancel := s.hub.Subscribe(pattern, 256)
	defer cancel()
	s.logger.Debug("[API] Event stream opened", "pattern", pattern, "remote", r.RemoteAddr)

	// The reader only notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			s.logger.Debug("[API] Event stream closed", "pattern", pattern)
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case ev, ok := <-stream:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if err := conn.WriteJSON(eventFrame{Subject: ev.Subject(), Type: ev.Type(), Event: ev}); err != nil {
				return
			}
		}
	}
}
