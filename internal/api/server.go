// Package api exposes the device and preferences over HTTP: the same actions
// a user would take on the status, alert and settings screens.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"siren/internal/alarm"
	"siren/internal/config"
	"siren/internal/device"
	"siren/internal/preferences"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Server provides the HTTP control API
type Server struct {
	reconciler *device.Reconciler
	prefs      *preferences.Store
	alarm      *alarm.Trigger
	logger     *zap.Logger
	limiter    *IPRateLimiter
	upgrader   websocket.Upgrader
	server     *http.Server
	handler    http.Handler
}

// NewServer creates a new API server
func NewServer(reconciler *device.Reconciler, prefs *preferences.Store, trigger *alarm.Trigger, logger *zap.Logger, cfg config.ServerConfig) *Server {
	s := &Server{
		reconciler: reconciler,
		prefs:      prefs,
		alarm:      trigger,
		logger:     logger.Named("api"),
		limiter:    NewIPRateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleSitemap)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/state", s.handleGetState)
	mux.HandleFunc("/api/pair", s.handlePair)
	mux.HandleFunc("/api/unpair", s.handleUnpair)
	mux.HandleFunc("/api/refresh", s.limiter.Middleware(s.handleRefresh))
	mux.HandleFunc("/api/arm", s.limiter.Middleware(s.command("arm", s.reconciler.Arm)))
	mux.HandleFunc("/api/disarm", s.limiter.Middleware(s.command("disarm", s.reconciler.Disarm)))
	mux.HandleFunc("/api/trigger", s.limiter.Middleware(s.handleTrigger))
	mux.HandleFunc("/api/clear", s.limiter.Middleware(s.command("clear", s.reconciler.ClearMotion)))
	mux.HandleFunc("/api/disarm-and-clear", s.limiter.Middleware(s.command("disarm-and-clear", s.reconciler.DisarmAndClearMotion)))
	mux.HandleFunc("/api/preferences", s.handlePreferences)
	mux.HandleFunc("/api/alarm/test", s.limiter.Middleware(s.handleAlarmTest))
	mux.HandleFunc("/api/events", s.handleEvents)
	s.handler = mux

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Handler returns the request router
func (s *Server) Handler() http.Handler {
	return s.handler
}

// StateResponse is the JSON body describing the current device and preferences
type StateResponse struct {
	Device      device.DeviceState      `json:"device"`
	Status      device.RequestStatus    `json:"status"`
	Preferences preferences.Preferences `json:"preferences"`
	Alarm       AlarmStatus             `json:"alarm"`
}

// AlarmStatus describes alarm playback
type AlarmStatus struct {
	Playing         bool `json:"playing"`
	PlayerAvailable bool `json:"player_available"`
}

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error string         `json:"error"`
	State *StateResponse `json:"state,omitempty"`
}

func (s *Server) currentState() StateResponse {
	snap := s.reconciler.Snapshot()
	return StateResponse{
		Device:      snap.Device,
		Status:      snap.Status,
		Preferences: s.prefs.Get(),
		Alarm: AlarmStatus{
			Playing:         s.alarm.Playing(),
			PlayerAvailable: s.alarm.PlayerAvailable(),
		},
	}
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// commandStatus maps a reconciler command error to an HTTP status
func commandStatus(err error) int {
	switch {
	case errors.Is(err, device.ErrNotPaired):
		return http.StatusConflict
	case errors.Is(err, device.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusBadGateway
	}
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}
