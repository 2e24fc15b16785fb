package api

import (
	"net/http"
	"time"

	"siren/internal/device"
	"siren/internal/preferences"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Event types sent on /api/events
const (
	EventSnapshot = "snapshot"
	EventChanged  = "changed"
)

// Event is one message on the events stream
type Event struct {
	Type  string        `json:"type"`
	State StateResponse `json:"state"`
}

// handleEvents streams the current state over a websocket: once on connect,
// then after every device or preference change. Bursts of changes are
// coalesced into a single message carrying the latest state.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade events connection", zap.Error(err))
		return
	}
	defer conn.Close()

	logger := s.logger.With(zap.String("remote_addr", r.RemoteAddr))
	logger.Info("Events client connected")

	changed := make(chan struct{}, 1)
	notify := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}

	stateSub := s.reconciler.Subscribe(func(_, _ device.Snapshot) { notify() })
	defer stateSub.Unsubscribe()
	prefsSub := s.prefs.Subscribe(func(_, _ preferences.Preferences) { notify() })
	defer prefsSub.Unsubscribe()

	closed := make(chan struct{})
	go s.readEvents(conn, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	if err := s.writeEvent(conn, EventSnapshot); err != nil {
		logger.Debug("Failed to send initial snapshot", zap.Error(err))
		return
	}

	for {
		select {
		case <-changed:
			if err := s.writeEvent(conn, EventChanged); err != nil {
				logger.Debug("Failed to send state change", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logger.Debug("Ping failed", zap.Error(err))
				return
			}
		case <-closed:
			logger.Info("Events client disconnected")
			return
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, eventType string) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(Event{Type: eventType, State: s.currentState()})
}

// readEvents drains client messages so control frames are processed, and
// closes done when the connection goes away
func (s *Server) readEvents(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("Events connection closed unexpectedly", zap.Error(err))
			}
			return
		}
	}
}
