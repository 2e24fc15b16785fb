package lock

import (
	"context"
	"sync"
	"time"
)

// CallHook runs inside a MockClient call before the response is produced.
// Tests use it to block a call and stage interleavings.
type CallHook func(ctx context.Context)

// MockClient implements LockClient for testing. It simulates a backend that
// flips is_locked/is_triggered on the matching command, and lets tests queue
// canned responses, inject errors and record every call.
type MockClient struct {
	state   LockState
	stateMu sync.Mutex

	queued map[Operation][]LockState
	errs   map[Operation]error
	hooks  map[Operation]CallHook
	cfgMu  sync.Mutex

	calls   []Call
	callsMu sync.Mutex
}

// NewMockClient creates a new mock lock client with an unlocked, untriggered device
func NewMockClient() *MockClient {
	return &MockClient{
		state:  LockState{ID: 1},
		queued: make(map[Operation][]LockState),
		errs:   make(map[Operation]error),
		hooks:  make(map[Operation]CallHook),
		calls:  make([]Call, 0),
	}
}

// GetState returns the simulated state
func (m *MockClient) GetState(ctx context.Context) (*LockState, error) {
	return m.call(ctx, OpGetState, func(s *LockState) {})
}

// Lock sets is_locked
func (m *MockClient) Lock(ctx context.Context) (*LockState, error) {
	return m.call(ctx, OpLock, func(s *LockState) { s.IsLocked = true })
}

// Unlock clears is_locked
func (m *MockClient) Unlock(ctx context.Context) (*LockState, error) {
	return m.call(ctx, OpUnlock, func(s *LockState) { s.IsLocked = false })
}

// Trigger sets is_triggered
func (m *MockClient) Trigger(ctx context.Context) (*LockState, error) {
	return m.call(ctx, OpTrigger, func(s *LockState) { s.IsTriggered = true })
}

// Untrigger clears is_triggered
func (m *MockClient) Untrigger(ctx context.Context) (*LockState, error) {
	return m.call(ctx, OpUntrigger, func(s *LockState) { s.IsTriggered = false })
}

func (m *MockClient) call(ctx context.Context, op Operation, apply func(*LockState)) (*LockState, error) {
	m.callsMu.Lock()
	m.calls = append(m.calls, Call{Op: op, Time: time.Now()})
	m.callsMu.Unlock()

	m.cfgMu.Lock()
	hook := m.hooks[op]
	m.cfgMu.Unlock()

	if hook != nil {
		hook(ctx)
	}

	m.cfgMu.Lock()
	err := m.errs[op]
	var canned *LockState
	if q := m.queued[op]; len(q) > 0 {
		s := q[0]
		canned = &s
		m.queued[op] = q[1:]
	}
	m.cfgMu.Unlock()

	if err != nil {
		return nil, err
	}
	if canned != nil {
		return canned, nil
	}

	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	apply(&m.state)
	s := m.state
	return &s, nil
}

// SetState replaces the simulated backend state
func (m *MockClient) SetState(isLocked, isTriggered bool) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.state.IsLocked = isLocked
	m.state.IsTriggered = isTriggered
}

// QueueResponse makes the next call of op return s instead of the simulated state.
// Queued responses are consumed in order and do not touch the simulated state.
func (m *MockClient) QueueResponse(op Operation, s LockState) {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	m.queued[op] = append(m.queued[op], s)
}

// SetError makes every call of op fail with err until cleared with a nil err
func (m *MockClient) SetError(op Operation, err error) {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	if err == nil {
		delete(m.errs, op)
		return
	}
	m.errs[op] = err
}

// SetHook installs a hook run by every call of op. A nil hook removes it.
func (m *MockClient) SetHook(op Operation, hook CallHook) {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	if hook == nil {
		delete(m.hooks, op)
		return
	}
	m.hooks[op] = hook
}

// GetCalls returns all recorded calls
func (m *MockClient) GetCalls() []Call {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	calls := make([]Call, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// CountCalls returns how many times op was called
func (m *MockClient) CountCalls(op Operation) int {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	n := 0
	for _, c := range m.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// ClearCalls clears the call history
func (m *MockClient) ClearCalls() {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.calls = make([]Call, 0)
}
