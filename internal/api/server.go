// Package api implements the HTTP control surface: zone state queries,
// check/snooze/clear commands, and a WebSocket event stream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hollowpine/tidewatch/internal/buildinfo"
	"github.com/hollowpine/tidewatch/internal/events"
	"github.com/hollowpine/tidewatch/internal/zone"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address    string
	port       int
	zones      *zone.Registry
	bus        *events.Bus
	logger     *slog.Logger
	server     *http.Server
	connStatus func() any
}

// NewServer creates a new API server. The bus may be nil, in which case
// the /v1/events stream reports that events are not configured.
func NewServer(address string, port int, zones *zone.Registry, bus *events.Bus, logger *slog.Logger) *Server {
	return &Server{
		address: address,
		port:    port,
		zones:   zones,
		bus:     bus,
		logger:  logger,
	}
}

// SetConnStatus registers a callback whose result is embedded in the
// /health response under "homeassistant". Used to surface the
// connectivity watcher without the api package importing it.
func (s *Server) SetConnStatus(fn func() any) {
	s.connStatus = fn
}

// Handler builds the route table. Exposed separately from Start so
// tests can exercise routes without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Zone state and commands
	mux.HandleFunc("GET /v1/zones", s.handleZoneList)
	mux.HandleFunc("GET /v1/zones/{zone}", s.handleZoneGet)
	mux.HandleFunc("POST /v1/zones/{zone}/check", s.handleZoneCheck)
	mux.HandleFunc("POST /v1/zones/{zone}/snooze", s.handleZoneSnooze)
	mux.HandleFunc("POST /v1/zones/{zone}/clear", s.handleZoneClear)

	// Event stream
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	// Health endpoints
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. Blocks until the listener fails
// or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Tidewatch",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "healthy"}
	if s.connStatus != nil {
		resp["homeassistant"] = s.connStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

// zoneSummary is one entry in the zone list response.
type zoneSummary struct {
	Name      string     `json:"name"`
	Camera    string     `json:"camera"`
	Mode      string     `json:"mode"`
	Provider  string     `json:"provider"`
	NeedsTidy bool       `json:"needs_tidy"`
	State     zone.State `json:"state"`
}

func (s *Server) zoneSummary(z *zone.Zone) zoneSummary {
	cfg := z.Config()
	state := z.State()
	return zoneSummary{
		Name:      cfg.Name,
		Camera:    cfg.Camera,
		Mode:      cfg.Mode,
		Provider:  cfg.Provider,
		NeedsTidy: state.NeedsTidy(),
		State:     state,
	}
}

func (s *Server) handleZoneList(w http.ResponseWriter, r *http.Request) {
	names := s.zones.Names()
	summaries := make([]zoneSummary, 0, len(names))
	for _, name := range names {
		if z, ok := s.zones.Get(name); ok {
			summaries = append(summaries, s.zoneSummary(z))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"zones": summaries,
		"count": len(summaries),
	}, s.logger)
}

func (s *Server) handleZoneGet(w http.ResponseWriter, r *http.Request) {
	z, ok := s.zones.Get(r.PathValue("zone"))
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "zone not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.zoneSummary(z), s.logger)
}

// handleZoneCheck runs a check synchronously and returns the resulting
// state. Check failures land in the state as status=error rather than
// an HTTP error; only an unknown zone is a 404.
func (s *Server) handleZoneCheck(w http.ResponseWriter, r *http.Request) {
	z, ok := s.zones.Get(r.PathValue("zone"))
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "zone not found")
		return
	}

	z.RequestCheck(r.Context(), zone.ReasonService)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.zoneSummary(z), s.logger)
}

type snoozeRequest struct {
	Minutes int `json:"minutes"`
}

func (s *Server) handleZoneSnooze(w http.ResponseWriter, r *http.Request) {
	z, ok := s.zones.Get(r.PathValue("zone"))
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "zone not found")
		return
	}

	var req snoozeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Minutes < 1 || req.Minutes > 1440 {
		s.errorResponse(w, http.StatusBadRequest, "minutes must be between 1 and 1440")
		return
	}

	z.Snooze(req.Minutes)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"status":  "ok",
		"zone":    z.Name(),
		"minutes": req.Minutes,
	}, s.logger)
}

func (s *Server) handleZoneClear(w http.ResponseWriter, r *http.Request) {
	z, ok := s.zones.Get(r.PathValue("zone"))
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "zone not found")
		return
	}

	z.ClearTasks()

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.zoneSummary(z), s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}
