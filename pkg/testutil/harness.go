package testutil

import (
	"fmt"
	"time"

	"siren/internal/alarm"
	"siren/internal/device"
	"siren/internal/lock"
	"siren/internal/preferences"

	"go.uber.org/zap"
)

// TestEnv wires the real lock client, reconciler, preference store and alarm
// trigger against a MockLockServer
type TestEnv struct {
	Server      *MockLockServer
	Client      *lock.Client
	Reconciler  *device.Reconciler
	Preferences *preferences.Store
	Player      *RecordingPlayer
	Alarm       *alarm.Trigger
	Logger      *zap.Logger
}

// NewTestEnv creates a fully configured test environment. The reconciler polls
// every pollInterval on the real clock once paired.
//
// Example usage:
//
//	env, err := testutil.NewTestEnv(20 * time.Millisecond)
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer env.Cleanup()
//
//	env.Reconciler.PairDevice()
func NewTestEnv(pollInterval time.Duration) (*TestEnv, error) {
	logger, _ := zap.NewDevelopment()

	server := NewMockLockServer("127.0.0.1:0")
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("failed to start mock server: %w", err)
	}

	client := lock.NewClient(server.URL(), 2*time.Second, logger)
	reconciler := device.NewReconciler(client, logger, pollInterval)
	prefs := preferences.NewStore(preferences.Defaults(), logger)
	player := NewRecordingPlayer()

	trigger := alarm.NewTrigger(reconciler, prefs, player, logger, 50*time.Millisecond)
	trigger.Start()

	return &TestEnv{
		Server:      server,
		Client:      client,
		Reconciler:  reconciler,
		Preferences: prefs,
		Player:      player,
		Alarm:       trigger,
		Logger:      logger,
	}, nil
}

// Cleanup stops all components in the correct order.
// Always call this in a defer after creating the TestEnv.
func (e *TestEnv) Cleanup() {
	if e.Alarm != nil {
		e.Alarm.Close()
	}
	if e.Reconciler != nil {
		e.Reconciler.Stop()
	}
	if e.Server != nil {
		e.Server.Stop()
	}
}

// GetCalls returns all calls made to the mock backend
func (e *TestEnv) GetCalls() []LockCall {
	return e.Server.GetCalls()
}

// ClearCalls clears the recorded backend calls
func (e *TestEnv) ClearCalls() {
	e.Server.ClearCalls()
}
