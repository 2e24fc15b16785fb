package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"siren/internal/alarm"
	"siren/internal/preferences"

	"go.uber.org/zap"
)

// handleGetState returns the device snapshot together with the preferences
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	writeJSON(w, http.StatusOK, s.currentState())
	s.logger.Debug("State request served", zap.String("remote_addr", r.RemoteAddr))
}

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	s.reconciler.PairDevice()
	writeJSON(w, http.StatusOK, s.currentState())
}

func (s *Server) handleUnpair(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	s.reconciler.Unpair()
	writeJSON(w, http.StatusOK, s.currentState())
}

// handleRefresh polls the backend once. Poll failures show up in the
// returned status rather than as an error response.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if !s.reconciler.State().Paired {
		writeError(w, http.StatusConflict, "device not paired")
		return
	}

	s.reconciler.RefreshState(r.Context())
	writeJSON(w, http.StatusOK, s.currentState())
}

// command wraps a reconciler command as a POST handler
func (s *Server) command(name string, run func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}

		if err := run(r.Context()); err != nil {
			state := s.currentState()
			s.logger.Warn("Command request failed",
				zap.String("command", name),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Error(err))
			writeJSON(w, commandStatus(err), ErrorResponse{Error: err.Error(), State: &state})
			return
		}

		s.logger.Info("Command request served",
			zap.String("command", name),
			zap.String("remote_addr", r.RemoteAddr))
		writeJSON(w, http.StatusOK, s.currentState())
	}
}

// handleTrigger simulates motion. Refused while motion alerts are disabled.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if !s.prefs.Get().MotionAlertsEnabled {
		writeError(w, http.StatusForbidden, "motion alerts are disabled")
		return
	}

	s.command("trigger", s.reconciler.TriggerMotion)(w, r)
}

// PreferencesUpdate is the body of PUT /api/preferences. Omitted fields are left unchanged.
type PreferencesUpdate struct {
	AlarmSound          *string  `json:"alarm_sound"`
	Volume              *float64 `json:"volume"`
	MotionAlertsEnabled *bool    `json:"motion_alerts_enabled"`
}

func (s *Server) handlePreferences(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.prefs.Get())
	case http.MethodPut:
		s.updatePreferences(w, r)
	default:
		w.Header().Set("Allow", "GET, PUT")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// updatePreferences validates the whole update before applying any of it
func (s *Server) updatePreferences(w http.ResponseWriter, r *http.Request) {
	var update PreferencesUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	var sound preferences.AlarmSound
	if update.AlarmSound != nil {
		parsed, err := preferences.ParseAlarmSound(*update.AlarmSound)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		sound = parsed
	}

	if sound != "" {
		if err := s.prefs.SetAlarmSound(sound); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if update.Volume != nil {
		s.prefs.SetVolume(*update.Volume)
	}
	if update.MotionAlertsEnabled != nil {
		s.prefs.SetMotionAlertsEnabled(*update.MotionAlertsEnabled)
	}

	prefs := s.prefs.Get()
	s.logger.Info("Preferences updated",
		zap.String("alarm_sound", string(prefs.AlarmSound)),
		zap.Int("volume", prefs.Volume),
		zap.Bool("motion_alerts_enabled", prefs.MotionAlertsEnabled))
	writeJSON(w, http.StatusOK, prefs)
}

func (s *Server) handleAlarmTest(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	switch err := s.alarm.Test(); {
	case errors.Is(err, alarm.ErrAlarmActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, alarm.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, s.currentState())
	}
}
