package lock

import (
	"fmt"
	"time"
)

// LockState is the body returned by every lock endpoint
type LockState struct {
	ID          int  `json:"id"`
	IsLocked    bool `json:"is_locked"`
	IsTriggered bool `json:"is_triggered"`
}

// Operation identifies one of the five remote calls
type Operation string

const (
	OpGetState  Operation = "get_state"
	OpLock      Operation = "lock"
	OpUnlock    Operation = "unlock"
	OpTrigger   Operation = "trigger"
	OpUntrigger Operation = "untrigger"
)

// endpoint describes how an operation maps onto the REST API
type endpoint struct {
	method string
	path   string
	// action is the human-readable name used in error messages
	action string
}

var endpoints = map[Operation]endpoint{
	OpGetState:  {method: "GET", path: "/lock", action: "get lock state"},
	OpLock:      {method: "POST", path: "/lock", action: "lock device"},
	OpUnlock:    {method: "POST", path: "/unlock", action: "unlock device"},
	OpTrigger:   {method: "POST", path: "/trigger", action: "trigger lock"},
	OpUntrigger: {method: "POST", path: "/untrigger", action: "untrigger lock"},
}

// APIError is returned when the backend answers with a non-2xx status
type APIError struct {
	Op         Operation
	StatusCode int
	// Status is the status line text, e.g. "503 Service Unavailable"
	Status string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("failed to %s: %s", endpoints[e.Op].action, e.Status)
}

// Call records a call made against a MockClient
type Call struct {
	Op   Operation
	Time time.Time
}
