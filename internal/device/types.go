package device

import (
	"errors"
	"time"
)

var (
	// ErrNotPaired is returned by commands issued before PairDevice. No request is sent.
	ErrNotPaired = errors.New("device not paired")

	// ErrStopped is returned by commands issued after Stop
	ErrStopped = errors.New("reconciler stopped")
)

// DeviceState is the canonical view of the lock/siren device
type DeviceState struct {
	Paired bool `json:"paired"`
	Armed  bool `json:"armed"`
	// MotionDetectedAt is the local time the triggered state was first applied,
	// nil while the device reports no motion
	MotionDetectedAt *time.Time `json:"motion_detected_at"`
}

// MotionDetected reports whether the device currently reports motion
func (s DeviceState) MotionDetected() bool {
	return s.MotionDetectedAt != nil
}

// Equal compares two states, timestamps by instant
func (s DeviceState) Equal(o DeviceState) bool {
	if s.Paired != o.Paired || s.Armed != o.Armed {
		return false
	}
	if s.MotionDetectedAt == nil || o.MotionDetectedAt == nil {
		return s.MotionDetectedAt == nil && o.MotionDetectedAt == nil
	}
	return s.MotionDetectedAt.Equal(*o.MotionDetectedAt)
}

// clone returns a copy that shares no pointers with s
func (s DeviceState) clone() DeviceState {
	if s.MotionDetectedAt != nil {
		t := *s.MotionDetectedAt
		s.MotionDetectedAt = &t
	}
	return s
}

// RequestStatus describes the outcome of the latest command or poll
type RequestStatus struct {
	IsLoading bool   `json:"is_loading"`
	Error     string `json:"error,omitempty"`
}

// Snapshot is the unit published to subscribers
type Snapshot struct {
	Device DeviceState   `json:"device"`
	Status RequestStatus `json:"status"`
}

// Equal compares two snapshots
func (s Snapshot) Equal(o Snapshot) bool {
	return s.Status == o.Status && s.Device.Equal(o.Device)
}

// serverState is the part of a backend reading used for change detection
type serverState struct {
	isLocked    bool
	isTriggered bool
}

// StateChangeHandler is called after every published change. Handlers run
// synchronously and in order; they must not issue reconciler commands inline.
type StateChangeHandler func(oldSnap, newSnap Snapshot)

// Subscription represents an active state change subscription
type Subscription interface {
	Unsubscribe()
}

// subscriberEntry holds a handler with its unique subscription ID
type subscriberEntry struct {
	subID   int
	handler StateChangeHandler
}

type subscription struct {
	subID      int
	reconciler *Reconciler
}

func (s *subscription) Unsubscribe() {
	s.reconciler.unsubscribe(s.subID)
}
