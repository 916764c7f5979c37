// Package api exposes the dialer over HTTP: call control, dial execution,
// presence registration and a live event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sebas/dialer/internal/dial"
	"github.com/sebas/dialer/internal/engine/memory"
	"github.com/sebas/dialer/internal/events"
	"github.com/sebas/dialer/internal/presence"
)

// Config holds the collaborators of a Server.
type Config struct {
	Addr     string
	Engine   *memory.Engine
	Dialer   *dial.Service
	Presence presence.Store
	// Hub feeds the event stream. Optional.
	Hub *events.Hub
	// Auth enables bearer token checks. Optional.
	Auth *Authenticator
	// HTTPClient fetches documents for dials.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Server provides the HTTP API
type Server struct {
	addr       string
	httpServer *http.Server
	handler    http.Handler

	engine   *memory.Engine
	dialer   *dial.Service
	presence presence.Store
	hub      *events.Hub
	auth     *Authenticator
	client   *http.Client
	logger   *slog.Logger
	started  time.Time

	// baseCtx outlives requests so background dials survive their request.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	dialing map[string]struct{}
}

// NewServer creates a new API server
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		addr:     cfg.Addr,
		engine:   cfg.Engine,
		dialer:   cfg.Dialer,
		presence: cfg.Presence,
		hub:      cfg.Hub,
		auth:     cfg.Auth,
		client:   cfg.HTTPClient,
		logger:   cfg.Logger,
		started:  time.Now(),
		baseCtx:  ctx,
		cancel:   cancel,
		dialing:  make(map[string]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.Handle("GET /api/v1/stats", s.protect(s.handleStats))

	mux.Handle("GET /api/v1/calls", s.protect(s.handleListCalls))
	mux.Handle("POST /api/v1/calls", s.protect(s.handleCreateCall))
	mux.Handle("GET /api/v1/calls/{sid}", s.protect(s.handleGetCall))
	mux.Handle("POST /api/v1/calls/{sid}/dial", s.protect(s.handleDial))
	mux.Handle("POST /api/v1/calls/{sid}/{action}", s.protect(s.handleCallAction))

	mux.Handle("GET /api/v1/conferences", s.protect(s.handleListConferences))
	mux.Handle("GET /api/v1/conferences/{name}", s.protect(s.handleGetConference))

	mux.Handle("POST /api/v1/presence", s.protect(s.handleRegister))
	mux.Handle("GET /api/v1/presence/{user}", s.protect(s.handleListRecords))
	mux.Handle("DELETE /api/v1/presence/{user}", s.protect(s.handleUnregister))

	mux.Handle("GET /api/v1/events", s.protect(s.handleEvents))

	s.handler = mux
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.logger.Info("[API] Starting HTTP API server", "addr", ln.Addr().String())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("[API] HTTP server error", "error", err)
		}
	}()
	return nil
}

// Shutdown stops accepting requests, waits for running dials until ctx is
// done and then cancels the ones left.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("[API] Cancelling running dials", "count", s.activeDials())
	}
	s.cancel()
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

type statsResponse struct {
	Uptime           string         `json:"uptime"`
	Calls            map[string]int `json:"calls"`
	Conferences      int            `json:"conferences"`
	ActiveDials      int            `json:"active_dials"`
	EventSubscribers int            `json:"event_subscribers"`
	ObserversAdded   int64          `json:"observers_added"`
	ObserversRemoved int64          `json:"observers_removed"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Uptime:      time.Since(s.started).Round(time.Second).String(),
		Calls:       make(map[string]int),
		ActiveDials: s.activeDials(),
	}
	for _, c := range s.engine.Calls() {
		resp.Calls[c.Status]++
	}
	resp.Conferences = len(s.engine.Conferences())
	resp.ObserversAdded, resp.ObserversRemoved = s.engine.ObserverStats()
	if s.hub != nil {
		resp.EventSubscribers = s.hub.Subscribers()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) activeDials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dialing)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
