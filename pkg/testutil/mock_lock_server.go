// Package testutil provides testing utilities for the siren service.
// It contains a mock lock backend speaking the REST protocol and a test
// environment wiring real components against it.
package testutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"
)

// LockState is the backend's view of the device
type LockState struct {
	ID          int  `json:"id"`
	IsLocked    bool `json:"is_locked"`
	IsTriggered bool `json:"is_triggered"`
}

// MockLockServer simulates the remote lock backend
type MockLockServer struct {
	server   *http.Server
	listener net.Listener
	addr     string

	state   LockState
	stateMu sync.RWMutex

	failures   map[string]int // path -> status code
	latency    time.Duration  // Simulates network latency
	failuresMu sync.Mutex

	calls   []LockCall // Track all calls for verification
	callsMu sync.Mutex
}

// NewMockLockServer creates a mock backend listening on addr. Use
// "127.0.0.1:0" for a random free port.
func NewMockLockServer(addr string) *MockLockServer {
	return &MockLockServer{
		addr:     addr,
		state:    LockState{ID: 1},
		failures: make(map[string]int),
		calls:    make([]LockCall, 0),
	}
}

// Start starts the mock server
func (s *MockLockServer) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/lock", s.handle(func(st *LockState, r *http.Request) {
		if r.Method == http.MethodPost {
			st.IsLocked = true
		}
	}, http.MethodGet, http.MethodPost))
	mux.HandleFunc("/unlock", s.handle(func(st *LockState, _ *http.Request) { st.IsLocked = false }, http.MethodPost))
	mux.HandleFunc("/trigger", s.handle(func(st *LockState, _ *http.Request) { st.IsTriggered = true }, http.MethodPost))
	mux.HandleFunc("/untrigger", s.handle(func(st *LockState, _ *http.Request) { st.IsTriggered = false }, http.MethodPost))

	s.server = &http.Server{Handler: mux}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Mock lock server error: %v", err)
		}
	}()

	return nil
}

// Stop stops the mock server
func (s *MockLockServer) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// URL returns the base URL of the running server
func (s *MockLockServer) URL() string {
	if s.listener == nil {
		return "http://" + s.addr
	}
	return "http://" + s.listener.Addr().String()
}

// SetState changes the backend state out of band, as another client would
func (s *MockLockServer) SetState(isLocked, isTriggered bool) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.state.IsLocked = isLocked
	s.state.IsTriggered = isTriggered
}

// GetState returns the backend state
func (s *MockLockServer) GetState() LockState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// SetFailure makes every request to path answer with status until cleared
// with status 0
func (s *MockLockServer) SetFailure(path string, status int) {
	s.failuresMu.Lock()
	defer s.failuresMu.Unlock()
	if status == 0 {
		delete(s.failures, path)
		return
	}
	s.failures[path] = status
}

// SetLatency delays every response by d
func (s *MockLockServer) SetLatency(d time.Duration) {
	s.failuresMu.Lock()
	defer s.failuresMu.Unlock()
	s.latency = d
}

// handle serves one endpoint: record, fail or mutate, then reply with the state
func (s *MockLockServer) handle(apply func(*LockState, *http.Request), methods ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		allowed := false
		for _, m := range methods {
			if r.Method == m {
				allowed = true
				break
			}
		}
		if !allowed {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		s.recordCall(r)

		s.failuresMu.Lock()
		status, failing := s.failures[r.URL.Path]
		latency := s.latency
		s.failuresMu.Unlock()

		if latency > 0 {
			select {
			case <-time.After(latency):
			case <-r.Context().Done():
				return
			}
		}

		if failing {
			http.Error(w, http.StatusText(status), status)
			return
		}

		s.stateMu.Lock()
		apply(&s.state, r)
		state := s.state
		s.stateMu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(state)
	}
}

func (s *MockLockServer) recordCall(r *http.Request) {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	s.calls = append(s.calls, LockCall{
		Timestamp:   time.Now(),
		Method:      r.Method,
		Path:        r.URL.Path,
		RequestID:   r.Header.Get("X-Request-ID"),
		ContentType: r.Header.Get("Content-Type"),
	})
}

// GetCalls returns all recorded calls
func (s *MockLockServer) GetCalls() []LockCall {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	return append([]LockCall(nil), s.calls...)
}

// ClearCalls clears all recorded calls
func (s *MockLockServer) ClearCalls() {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	s.calls = make([]LockCall, 0)
}

// CountCalls returns the number of calls to method and path
func (s *MockLockServer) CountCalls(method, path string) int {
	return len(FilterCalls(s.GetCalls(), method, path))
}
