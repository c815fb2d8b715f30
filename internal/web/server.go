// Package web serves the JSON API, the live frame stream and the metrics
// endpoint.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"zigstack/internal/automation"
	"zigstack/internal/events"
	"zigstack/internal/metrics"
	"zigstack/internal/mt"
	"zigstack/internal/session"
	"zigstack/internal/store"
)

// Line is the part of a session the API drives.
type Line interface {
	Request(ctx context.Context, cmd mt.Command, payload []byte) (*mt.Frame, error)
	Send(ctx context.Context, cmd mt.Command, payload []byte) error
	SendAck(seq uint8) error
	SendNak(seq uint8) error
	Ping(ctx context.Context) (uint16, error)
	Version(ctx context.Context) (*session.VersionInfo, error)
}

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed CORS and WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithAutomation sets the automation engine and script manager.
func WithAutomation(engine *automation.Engine, mgr *automation.Manager) ServerOption {
	return func(s *Server) {
		s.autoEngine = engine
		s.scriptMgr = mgr
	}
}

// WithMetrics mounts /metrics and times /api/send requests.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithVersion sets the application version reported by /api/version.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// Server is the HTTP server.
type Server struct {
	line           Line
	store          store.Store
	bus            *events.Bus
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	scriptMgr      *automation.Manager
	autoEngine     *automation.Engine
	metrics        *metrics.Metrics
	version        string
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer wires the routes and starts the WebSocket hub. Every bus event
// is broadcast to connected clients.
func NewServer(line Line, st store.Store, bus *events.Bus, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		line:   line,
		store:  st,
		bus:    bus,
		logger: logger.With("component", "web"),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	if bus != nil {
		s.unsubEvents = bus.OnAll(func(ev events.Event) {
			s.wsHub.Broadcast(ev)
		})
	}

	s.routes()
	return s
}

// Stop shuts down the WebSocket hub and waits for its goroutine.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/captures", s.handleAPIListCaptures)
	s.mux.HandleFunc("GET /api/captures/{id}", s.handleAPIGetCapture)
	s.mux.HandleFunc("POST /api/decode", s.handleAPIDecode)
	s.mux.HandleFunc("POST /api/encode", s.handleAPIEncode)
	s.mux.HandleFunc("POST /api/send", s.handleAPISend)
	s.mux.HandleFunc("POST /api/ack", s.handleAPIAck)
	s.mux.HandleFunc("POST /api/ping", s.handleAPIPing)
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	s.mux.HandleFunc("GET /api/scripts", s.handleAPIListScripts)
	s.mux.HandleFunc("GET /api/scripts/{id}", s.handleAPIGetScript)
	s.mux.HandleFunc("POST /api/scripts/run", s.handleAPIRunScript)
	s.mux.HandleFunc("POST /api/scripts/{id}/reload", s.handleAPIReloadScript)
	s.mux.HandleFunc("POST /api/scripts/{id}/stop", s.handleAPIStopScript)
	s.mux.HandleFunc("POST /api/scripts", s.handleAPICreateScript)
	s.mux.HandleFunc("PUT /api/scripts/{id}", s.handleAPIUpdateScript)
	s.mux.HandleFunc("POST /api/scripts/{id}/toggle", s.handleAPIToggleScript)
	s.mux.HandleFunc("DELETE /api/scripts/{id}", s.handleAPIDeleteScript)

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}

	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	// Only /api/ is key-protected: browsers cannot set headers on a
	// WebSocket upgrade and scrapers rarely carry one.
	if s.apiKey != "" && strings.HasPrefix(r.URL.Path, "/api/") {
		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write json response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// readJSON decodes a request body capped at 64 KiB.
func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	return json.NewDecoder(r.Body).Decode(v)
}
