package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"siren/internal/clock"
	"siren/internal/lock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var testStart = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestReconciler(t *testing.T) (*Reconciler, *lock.MockClient, *clock.MockClock) {
	mockClient := lock.NewMockClient()
	mockClock := clock.NewMockClock(testStart)

	r := NewReconciler(mockClient, zap.NewNop(), 5*time.Second)
	r.SetClock(mockClock)
	t.Cleanup(r.Stop)

	return r, mockClient, mockClock
}

// pairedReconciler returns a paired reconciler whose poll loop has not fired yet
func pairedReconciler(t *testing.T) (*Reconciler, *lock.MockClient, *clock.MockClock) {
	r, mockClient, mockClock := newTestReconciler(t)
	r.PairDevice()
	return r, mockClient, mockClock
}

func TestNewReconciler(t *testing.T) {
	r := NewReconciler(lock.NewMockClient(), zap.NewNop(), 0)
	defer r.Stop()

	assert.Equal(t, DefaultPollInterval, r.pollInterval)

	snap := r.Snapshot()
	assert.False(t, snap.Device.Paired)
	assert.False(t, snap.Device.Armed)
	assert.Nil(t, snap.Device.MotionDetectedAt)
	assert.False(t, snap.Status.IsLoading)
	assert.Empty(t, snap.Status.Error)
}

func TestReconciler_NotPairedGuard(t *testing.T) {
	r, mockClient, _ := newTestReconciler(t)
	ctx := context.Background()
	before := r.Snapshot()

	assert.ErrorIs(t, r.Arm(ctx), ErrNotPaired)
	assert.ErrorIs(t, r.Disarm(ctx), ErrNotPaired)
	assert.ErrorIs(t, r.TriggerMotion(ctx), ErrNotPaired)
	assert.ErrorIs(t, r.ClearMotion(ctx), ErrNotPaired)
	assert.ErrorIs(t, r.DisarmAndClearMotion(ctx), ErrNotPaired)
	r.RefreshState(ctx)

	assert.Empty(t, mockClient.GetCalls(), "no remote calls while unpaired")
	assert.True(t, before.Equal(r.Snapshot()))
	assert.Empty(t, r.Status().Error, "not-paired is not recorded as an error")
}

func TestReconciler_MergeCorrectness(t *testing.T) {
	r, mockClient, _ := pairedReconciler(t)
	mockClient.SetState(true, false)

	r.RefreshState(context.Background())

	state := r.State()
	assert.True(t, state.Armed)
	assert.Nil(t, state.MotionDetectedAt)
}

func TestReconciler_MotionOnsetUsesLocalTime(t *testing.T) {
	r, mockClient, mockClock := pairedReconciler(t)
	ctx := context.Background()

	mockClient.SetState(true, false)
	r.RefreshState(ctx)
	require.Nil(t, r.State().MotionDetectedAt)

	mockClock.Set(testStart.Add(42 * time.Second))
	mockClient.SetState(true, true)
	r.RefreshState(ctx)

	detected := r.State().MotionDetectedAt
	require.NotNil(t, detected)
	assert.Equal(t, testStart.Add(42*time.Second), *detected)
}

func TestReconciler_DedupKeepsDetectionTime(t *testing.T) {
	r, mockClient, mockClock := pairedReconciler(t)
	ctx := context.Background()

	var mu sync.Mutex
	changes := 0
	r.Subscribe(func(oldSnap, newSnap Snapshot) {
		if !oldSnap.Device.Equal(newSnap.Device) {
			mu.Lock()
			changes++
			mu.Unlock()
		}
	})

	mockClient.SetState(true, true)
	r.RefreshState(ctx)
	first := r.State().MotionDetectedAt
	require.NotNil(t, first)

	for i := 0; i < 5; i++ {
		mockClock.Set(mockClock.Now().Add(5 * time.Second))
		r.RefreshState(ctx)
	}

	again := r.State().MotionDetectedAt
	require.NotNil(t, again)
	assert.Equal(t, *first, *again)
	assert.Equal(t, testStart, *again)

	mu.Lock()
	assert.Equal(t, 1, changes, "identical readings publish no device change")
	mu.Unlock()
}

func TestReconciler_Commands(t *testing.T) {
	r, mockClient, _ := pairedReconciler(t)
	ctx := context.Background()

	require.NoError(t, r.Arm(ctx))
	assert.True(t, r.State().Armed)

	require.NoError(t, r.TriggerMotion(ctx))
	assert.True(t, r.State().MotionDetected())

	require.NoError(t, r.ClearMotion(ctx))
	assert.False(t, r.State().MotionDetected())

	require.NoError(t, r.Disarm(ctx))
	assert.False(t, r.State().Armed)

	assert.Equal(t, 1, mockClient.CountCalls(lock.OpLock))
	assert.Equal(t, 1, mockClient.CountCalls(lock.OpTrigger))
	assert.Equal(t, 1, mockClient.CountCalls(lock.OpUntrigger))
	assert.Equal(t, 1, mockClient.CountCalls(lock.OpUnlock))
	assert.False(t, r.Status().IsLoading)
}

func TestReconciler_DisarmAndClearMotion(t *testing.T) {
	t.Run("ignores untrigger lock state", func(t *testing.T) {
		r, mockClient, _ := pairedReconciler(t)
		ctx := context.Background()

		mockClient.SetState(true, true)
		r.RefreshState(ctx)
		require.True(t, r.State().Armed)
		require.True(t, r.State().MotionDetected())

		mockClient.QueueResponse(lock.OpUnlock, lock.LockState{ID: 1, IsLocked: false, IsTriggered: true})
		mockClient.QueueResponse(lock.OpUntrigger, lock.LockState{ID: 1, IsLocked: true, IsTriggered: true})

		require.NoError(t, r.DisarmAndClearMotion(ctx))

		state := r.State()
		assert.False(t, state.Armed)
		assert.Nil(t, state.MotionDetectedAt)

		calls := mockClient.GetCalls()
		require.Len(t, calls, 3)
		assert.Equal(t, lock.OpUnlock, calls[1].Op)
		assert.Equal(t, lock.OpUntrigger, calls[2].Op)
	})

	t.Run("poll answered between unlock and untrigger does not win", func(t *testing.T) {
		r, mockClient, _ := pairedReconciler(t)
		ctx := context.Background()

		mockClient.SetState(true, true)
		r.RefreshState(ctx)
		require.True(t, r.State().MotionDetected())

		var onsets int
		sub := r.Subscribe(func(oldSnap, newSnap Snapshot) {
			if !oldSnap.Device.MotionDetected() && newSnap.Device.MotionDetected() {
				onsets++
			}
		})
		defer sub.Unsubscribe()

		var once sync.Once
		mockClient.SetHook(lock.OpUntrigger, func(ctx context.Context) {
			once.Do(func() { r.RefreshState(ctx) })
		})

		require.NoError(t, r.DisarmAndClearMotion(ctx))
		assert.Equal(t, 2, mockClient.CountCalls(lock.OpGetState))

		state := r.State()
		assert.False(t, state.Armed)
		assert.Nil(t, state.MotionDetectedAt)
		assert.Equal(t, 0, onsets, "motion never reappears")

		t.Run("older poll finishing late is discarded", func(t *testing.T) {
			release := make(chan struct{})
			started := make(chan struct{})
			mockClient.QueueResponse(lock.OpGetState, lock.LockState{ID: 1, IsLocked: true, IsTriggered: true})
			mockClient.SetHook(lock.OpGetState, func(context.Context) {
				close(started)
				<-release
			})

			done := make(chan struct{})
			go func() {
				defer close(done)
				r.RefreshState(ctx)
			}()
			<-started

			mockClient.SetHook(lock.OpGetState, nil)
			mockClient.SetHook(lock.OpUntrigger, nil)
			require.NoError(t, r.DisarmAndClearMotion(ctx))
			close(release)
			<-done

			assert.False(t, r.State().Armed)
			assert.Nil(t, r.State().MotionDetectedAt)
		})
	})

	t.Run("untrigger failure applies nothing", func(t *testing.T) {
		r, mockClient, _ := pairedReconciler(t)
		ctx := context.Background()

		mockClient.SetState(true, true)
		r.RefreshState(ctx)
		before := r.State()

		mockClient.SetError(lock.OpUntrigger, errors.New("failed to untrigger lock: 500 Internal Server Error"))

		err := r.DisarmAndClearMotion(ctx)
		require.Error(t, err)
		assert.True(t, before.Equal(r.State()), "unlock result is not partially merged")
		assert.Equal(t, "failed to untrigger lock: 500 Internal Server Error", r.Status().Error)
	})

	t.Run("unlock failure skips untrigger", func(t *testing.T) {
		r, mockClient, _ := pairedReconciler(t)

		mockClient.SetError(lock.OpUnlock, errors.New("offline"))

		err := r.DisarmAndClearMotion(context.Background())
		require.Error(t, err)
		assert.Equal(t, 0, mockClient.CountCalls(lock.OpUntrigger))
	})
}

func TestReconciler_FailurePropagation(t *testing.T) {
	t.Run("command failure is returned and recorded", func(t *testing.T) {
		r, mockClient, _ := pairedReconciler(t)
		ctx := context.Background()

		mockClient.SetState(false, true)
		r.RefreshState(ctx)
		before := r.State()

		apiErr := &lock.APIError{Op: lock.OpLock, StatusCode: 503, Status: "503 Service Unavailable"}
		mockClient.SetError(lock.OpLock, apiErr)

		err := r.Arm(ctx)
		require.Error(t, err)

		var target *lock.APIError
		assert.True(t, errors.As(err, &target))
		assert.Equal(t, "failed to lock device: 503 Service Unavailable", r.Status().Error)
		assert.False(t, r.Status().IsLoading)

		after := r.State()
		assert.Equal(t, before.Armed, after.Armed)
		require.NotNil(t, after.MotionDetectedAt)
		assert.Equal(t, *before.MotionDetectedAt, *after.MotionDetectedAt)
	})

	t.Run("poll failure is recorded only", func(t *testing.T) {
		r, mockClient, _ := pairedReconciler(t)

		mockClient.SetError(lock.OpGetState, errors.New("failed to get lock state: 502 Bad Gateway"))
		r.RefreshState(context.Background())
		assert.Equal(t, "failed to get lock state: 502 Bad Gateway", r.Status().Error)

		mockClient.SetError(lock.OpGetState, nil)
		r.RefreshState(context.Background())
		assert.Empty(t, r.Status().Error, "next attempt clears the error")
	})
}

func TestReconciler_LoadingWhileCommandInFlight(t *testing.T) {
	r, mockClient, _ := pairedReconciler(t)

	var observed RequestStatus
	mockClient.SetHook(lock.OpLock, func(ctx context.Context) {
		observed = r.Status()
	})

	require.NoError(t, r.Arm(context.Background()))
	assert.True(t, observed.IsLoading)
	assert.False(t, r.Status().IsLoading)
}

func TestReconciler_StalePollDiscarded(t *testing.T) {
	r, mockClient, _ := pairedReconciler(t)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	mockClient.SetHook(lock.OpGetState, func(ctx context.Context) {
		once.Do(func() { close(entered) })
		<-release
	})
	// The poll was answered before the arm reached the backend
	mockClient.QueueResponse(lock.OpGetState, lock.LockState{ID: 1, IsLocked: false})

	done := make(chan struct{})
	go func() {
		r.RefreshState(ctx)
		close(done)
	}()
	<-entered

	require.NoError(t, r.Arm(ctx))
	require.True(t, r.State().Armed)

	close(release)
	<-done
	assert.True(t, r.State().Armed, "older poll reading does not overwrite newer command result")

	mockClient.SetHook(lock.OpGetState, nil)
	mockClient.SetState(false, false)
	r.RefreshState(ctx)
	assert.False(t, r.State().Armed, "newer poll is merged")
}

func TestReconciler_PollLoop(t *testing.T) {
	r, mockClient, mockClock := newTestReconciler(t)

	r.PairDevice()
	r.PairDevice()
	assert.True(t, r.State().Paired)

	mockClock.Advance(0)
	assert.Equal(t, 1, mockClient.CountCalls(lock.OpGetState), "immediate poll on pairing")

	mockClock.Advance(4 * time.Second)
	assert.Equal(t, 1, mockClient.CountCalls(lock.OpGetState))

	mockClock.Advance(1 * time.Second)
	assert.Equal(t, 2, mockClient.CountCalls(lock.OpGetState))

	mockClock.Advance(5 * time.Second)
	assert.Equal(t, 3, mockClient.CountCalls(lock.OpGetState))

	r.Unpair()
	assert.False(t, r.State().Paired)
	assert.Equal(t, 0, mockClock.PendingTimers())

	mockClock.Advance(time.Minute)
	assert.Equal(t, 3, mockClient.CountCalls(lock.OpGetState), "no polls while unpaired")
}

func TestReconciler_PollLogsElapsedTime(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	mockClient := lock.NewMockClient()
	mockClock := clock.NewMockClock(testStart)

	r := NewReconciler(mockClient, zap.New(core), 5*time.Second)
	r.SetClock(mockClock)
	defer r.Stop()

	mockClient.SetHook(lock.OpGetState, func(context.Context) {
		mockClock.Advance(300 * time.Millisecond)
	})

	r.PairDevice()
	mockClock.Advance(0)

	entries := logs.FilterMessage("Poll finished").All()
	require.Len(t, entries, 1)
	assert.Equal(t, 300*time.Millisecond, entries[0].ContextMap()["elapsed"])
}

func TestReconciler_PollLoopKeepsRunningAfterFailure(t *testing.T) {
	r, mockClient, mockClock := pairedReconciler(t)

	mockClient.SetError(lock.OpGetState, errors.New("offline"))
	mockClock.Advance(0)
	assert.Equal(t, "offline", r.Status().Error)

	mockClient.SetError(lock.OpGetState, nil)
	mockClient.SetState(true, false)
	mockClock.Advance(5 * time.Second)

	assert.Empty(t, r.Status().Error)
	assert.True(t, r.State().Armed)
}

func TestReconciler_UnpairFreezesState(t *testing.T) {
	r, mockClient, _ := pairedReconciler(t)
	ctx := context.Background()

	mockClient.SetState(true, true)
	r.RefreshState(ctx)
	frozen := r.State()

	r.Unpair()
	mockClient.SetState(false, false)
	r.RefreshState(ctx)
	assert.ErrorIs(t, r.Disarm(ctx), ErrNotPaired)

	state := r.State()
	assert.False(t, state.Paired)
	assert.Equal(t, frozen.Armed, state.Armed)
	assert.Equal(t, frozen.MotionDetectedAt, state.MotionDetectedAt)
}

func TestReconciler_Subscribe(t *testing.T) {
	r, _, _ := newTestReconciler(t)

	var mu sync.Mutex
	var events []Snapshot
	sub := r.Subscribe(func(oldSnap, newSnap Snapshot) {
		mu.Lock()
		events = append(events, newSnap)
		mu.Unlock()
	})

	other := 0
	r.Subscribe(func(oldSnap, newSnap Snapshot) { other++ })

	r.PairDevice()
	require.NoError(t, r.Arm(context.Background()))

	mu.Lock()
	require.GreaterOrEqual(t, len(events), 3)
	assert.True(t, events[0].Device.Paired)
	assert.True(t, events[len(events)-1].Device.Armed)
	assert.False(t, events[len(events)-1].Status.IsLoading)
	count := len(events)
	mu.Unlock()

	sub.Unsubscribe()
	require.NoError(t, r.Disarm(context.Background()))

	mu.Lock()
	assert.Equal(t, count, len(events), "unsubscribed handler receives nothing")
	mu.Unlock()
	assert.Greater(t, other, count, "other subscriptions remain")
}

func TestReconciler_Stop(t *testing.T) {
	r, mockClient, mockClock := pairedReconciler(t)

	notified := 0
	r.Subscribe(func(oldSnap, newSnap Snapshot) { notified++ })

	r.Stop()
	r.Stop()

	assert.Equal(t, 0, mockClock.PendingTimers())
	mockClock.Advance(time.Minute)
	assert.Equal(t, 0, mockClient.CountCalls(lock.OpGetState))

	assert.ErrorIs(t, r.Arm(context.Background()), ErrStopped)
	assert.Equal(t, 0, notified)
}

func TestDeviceState_Equal(t *testing.T) {
	a := testStart
	b := testStart.In(time.FixedZone("UTC+1", 3600))

	assert.True(t, DeviceState{MotionDetectedAt: &a}.Equal(DeviceState{MotionDetectedAt: &b}))
	assert.False(t, DeviceState{MotionDetectedAt: &a}.Equal(DeviceState{}))
	assert.False(t, DeviceState{Armed: true}.Equal(DeviceState{}))
	assert.True(t, DeviceState{}.Equal(DeviceState{}))
}
