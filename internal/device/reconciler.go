// Package device owns the canonical state of the paired lock/siren device.
//
// The Reconciler polls the remote lock backend, merges readings into
// DeviceState only when the reported fields change, executes user commands
// and publishes every change to subscribers.
package device

import (
	"context"
	"sync"
	"time"

	"siren/internal/clock"
	"siren/internal/lock"

	"go.uber.org/zap"
)

// DefaultPollInterval is how often the backend is polled while paired
const DefaultPollInterval = 5 * time.Second

// Reconciler manages state synchronization with the remote lock backend
type Reconciler struct {
	client       lock.LockClient
	logger       *zap.Logger
	clock        clock.Clock
	pollInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards everything below up to notifyMu
	mu          sync.Mutex
	state       DeviceState
	status      RequestStatus
	inFlight    int
	lastApplied *serverState
	// nextSeq is handed out to every outbound request; appliedSeq is the
	// newest one whose reading has been merged
	nextSeq    uint64
	appliedSeq uint64
	pollTimer  clock.Timer
	pollGen    uint64
	stopped    bool

	// notifyMu serializes mutation+notification so handlers see changes in order
	notifyMu    sync.Mutex
	subscribers []subscriberEntry
	subsMu      sync.RWMutex
	nextSubID   int
}

// NewReconciler creates an unpaired, disarmed reconciler. A non-positive
// pollInterval selects DefaultPollInterval.
func NewReconciler(client lock.LockClient, logger *zap.Logger, pollInterval time.Duration) *Reconciler {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		client:       client,
		logger:       logger.Named("reconciler"),
		clock:        clock.NewRealClock(),
		pollInterval: pollInterval,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// SetClock sets the clock implementation (useful for testing). Call before PairDevice.
func (r *Reconciler) SetClock(c clock.Clock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = c
}

// Snapshot returns the current device state and request status
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// State returns the current device state
func (r *Reconciler) State() DeviceState {
	return r.Snapshot().Device
}

// Status returns the current request status
func (r *Reconciler) Status() RequestStatus {
	return r.Snapshot().Status
}

func (r *Reconciler) snapshotLocked() Snapshot {
	return Snapshot{
		Device: r.state.clone(),
		Status: r.status,
	}
}

// PairDevice marks the device as paired and starts the poll loop: one refresh
// right away, then one per poll interval. Calling it again has no effect.
func (r *Reconciler) PairDevice() {
	r.update(func() {
		if r.stopped || r.state.Paired {
			return
		}
		r.state.Paired = true
		r.startPollingLocked()
		r.logger.Info("Device paired", zap.Duration("poll_interval", r.pollInterval))
	})
}

// Unpair stops the poll loop and freezes the device state at its last value
func (r *Reconciler) Unpair() {
	r.update(func() {
		if !r.state.Paired {
			return
		}
		r.state.Paired = false
		r.stopPollingLocked()
		r.logger.Info("Device unpaired")
	})
}

// Stop tears the reconciler down: polling stops, in-flight polls are cancelled
// and no further merges or notifications happen.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.stopPollingLocked()
	r.mu.Unlock()

	r.cancel()
	r.logger.Info("Reconciler stopped")
}

// RefreshState polls the backend once and merges the reading. Failures are
// recorded in the request status and logged, never returned; nothing happens
// while unpaired.
func (r *Reconciler) RefreshState(ctx context.Context) {
	seq, err := r.begin(false)
	if err != nil {
		return
	}

	reading, err := r.client.GetState(ctx)
	if err != nil {
		r.fail(seq, false, "refresh state", err)
		return
	}
	r.succeed(seq, false, fromLockState(reading))
}

// Arm locks the device
func (r *Reconciler) Arm(ctx context.Context) error {
	return r.runCommand(ctx, "arm device", r.client.Lock)
}

// Disarm unlocks the device
func (r *Reconciler) Disarm(ctx context.Context) error {
	return r.runCommand(ctx, "disarm device", r.client.Unlock)
}

// TriggerMotion asks the backend to report motion
func (r *Reconciler) TriggerMotion(ctx context.Context) error {
	return r.runCommand(ctx, "trigger motion", r.client.Trigger)
}

// ClearMotion asks the backend to clear motion
func (r *Reconciler) ClearMotion(ctx context.Context) error {
	return r.runCommand(ctx, "clear motion", r.client.Untrigger)
}

// DisarmAndClearMotion unlocks and then untriggers the device. The result is
// merged from the unlock reading with motion forced off, since the untrigger
// endpoint may report the device as still locked. If either call fails nothing
// is merged. The result is sequenced when the untrigger response arrives, so
// polls answered while the two calls were in flight cannot outrank it.
func (r *Reconciler) DisarmAndClearMotion(ctx context.Context) error {
	seq, err := r.begin(true)
	if err != nil {
		return err
	}

	unlocked, err := r.client.Unlock(ctx)
	if err != nil {
		r.fail(seq, true, "disarm and clear motion", err)
		return err
	}

	if _, err := r.client.Untrigger(ctx); err != nil {
		r.fail(seq, true, "disarm and clear motion", err)
		return err
	}

	seq = r.reissue()
	r.succeed(seq, true, serverState{isLocked: unlocked.IsLocked, isTriggered: false})
	return nil
}

func (r *Reconciler) runCommand(ctx context.Context, name string, call func(context.Context) (*lock.LockState, error)) error {
	seq, err := r.begin(true)
	if err != nil {
		return err
	}

	reading, err := call(ctx)
	if err != nil {
		r.fail(seq, true, name, err)
		return err
	}
	r.succeed(seq, true, fromLockState(reading))
	return nil
}

// begin checks the pairing gate, clears the previous error and hands out a
// sequence number for the request about to be sent
func (r *Reconciler) begin(command bool) (uint64, error) {
	var seq uint64
	var err error

	r.update(func() {
		if r.stopped {
			err = ErrStopped
			return
		}
		if !r.state.Paired {
			err = ErrNotPaired
			return
		}

		r.status.Error = ""
		if command {
			r.inFlight++
			r.status.IsLoading = true
		}
		r.nextSeq++
		seq = r.nextSeq
	})

	return seq, err
}

// reissue hands out a fresh sequence number for a request already in flight
func (r *Reconciler) reissue() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSeq++
	return r.nextSeq
}

// fail records err as the current request error
func (r *Reconciler) fail(seq uint64, command bool, name string, err error) {
	r.update(func() {
		r.endLocked(command)
		if r.stopped {
			return
		}

		r.status.Error = err.Error()
		if command {
			r.logger.Error("Command failed",
				zap.String("command", name),
				zap.Uint64("seq", seq),
				zap.Error(err))
		} else {
			r.logger.Warn("Failed to refresh lock state",
				zap.Uint64("seq", seq),
				zap.Error(err))
		}
	})
}

// succeed merges a reading obtained by request seq
func (r *Reconciler) succeed(seq uint64, command bool, reading serverState) {
	r.update(func() {
		r.endLocked(command)
		if r.stopped || !r.state.Paired {
			r.logger.Debug("Dropping reading received while inactive", zap.Uint64("seq", seq))
			return
		}
		r.mergeLocked(seq, reading)
	})
}

func (r *Reconciler) endLocked(command bool) {
	if !command {
		return
	}
	r.inFlight--
	r.status.IsLoading = r.inFlight > 0
}

// mergeLocked applies reading only if no newer response has been merged and
// only if it differs from the last applied reading. An unchanged triggered
// reading keeps the first detection time.
func (r *Reconciler) mergeLocked(seq uint64, reading serverState) {
	if seq <= r.appliedSeq {
		r.logger.Debug("Discarding stale reading",
			zap.Uint64("seq", seq),
			zap.Uint64("applied_seq", r.appliedSeq))
		return
	}
	r.appliedSeq = seq

	if r.lastApplied != nil && *r.lastApplied == reading {
		return
	}

	applied := reading
	r.lastApplied = &applied
	r.state.Armed = reading.isLocked
	if reading.isTriggered {
		now := r.clock.Now()
		r.state.MotionDetectedAt = &now
	} else {
		r.state.MotionDetectedAt = nil
	}

	r.logger.Info("Device state changed",
		zap.Bool("armed", r.state.Armed),
		zap.Bool("motion", r.state.MotionDetected()),
		zap.Uint64("seq", seq))
}

// startPollingLocked schedules an immediate poll that keeps re-arming itself
func (r *Reconciler) startPollingLocked() {
	r.pollGen++
	gen := r.pollGen
	r.pollTimer = r.clock.AfterFunc(0, func() { r.tick(gen) })
}

func (r *Reconciler) stopPollingLocked() {
	r.pollGen++
	if r.pollTimer != nil {
		r.pollTimer.Stop()
		r.pollTimer = nil
	}
}

// tick runs one poll for loop generation gen and schedules the next one.
// The next poll is timed from the end of this one so polls never overlap.
func (r *Reconciler) tick(gen uint64) {
	clk, active := r.pollActive(gen)
	if !active {
		return
	}

	start := clk.Now()
	r.RefreshState(r.ctx)
	r.logger.Debug("Poll finished", zap.Duration("elapsed", clk.Since(start)))

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || !r.state.Paired || r.pollGen != gen {
		return
	}
	r.pollTimer = r.clock.AfterFunc(r.pollInterval, func() { r.tick(gen) })
}

func (r *Reconciler) pollActive(gen uint64) (clock.Clock, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clock, !r.stopped && r.state.Paired && r.pollGen == gen
}

// update applies fn under the state lock and publishes the change, if any
func (r *Reconciler) update(fn func()) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	before := r.snapshotLocked()
	fn()
	after := r.snapshotLocked()
	stopped := r.stopped
	r.mu.Unlock()

	if stopped || before.Equal(after) {
		return
	}
	r.notifySubscribers(before, after)
}

// Subscribe registers handler for every published change
func (r *Reconciler) Subscribe(handler StateChangeHandler) Subscription {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()

	subID := r.nextSubID
	r.nextSubID++
	r.subscribers = append(r.subscribers, subscriberEntry{subID: subID, handler: handler})

	return &subscription{subID: subID, reconciler: r}
}

// unsubscribe removes a single subscription by ID
func (r *Reconciler) unsubscribe(subID int) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()

	for i, entry := range r.subscribers {
		if entry.subID == subID {
			r.subscribers = append(r.subscribers[:i:i], r.subscribers[i+1:]...)
			return
		}
	}
}

// notifySubscribers notifies all subscribers of a change
func (r *Reconciler) notifySubscribers(oldSnap, newSnap Snapshot) {
	r.subsMu.RLock()
	entries := append([]subscriberEntry(nil), r.subscribers...)
	r.subsMu.RUnlock()

	for _, entry := range entries {
		entry.handler(oldSnap, newSnap)
	}
}

func fromLockState(s *lock.LockState) serverState {
	return serverState{isLocked: s.IsLocked, isTriggered: s.IsTriggered}
}
