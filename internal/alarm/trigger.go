package alarm

import (
	"errors"
	"sync"
	"time"

	"siren/internal/clock"
	"siren/internal/device"
	"siren/internal/preferences"

	"go.uber.org/zap"
)

// DefaultPreviewDuration is how long Test plays the alarm
const DefaultPreviewDuration = 3 * time.Second

var (
	// ErrAlarmActive is returned by Test while motion playback is running
	ErrAlarmActive = errors.New("alarm is already sounding")

	// ErrClosed is returned by Test after Close
	ErrClosed = errors.New("alarm trigger closed")
)

// StateSource publishes device snapshots
type StateSource interface {
	Snapshot() device.Snapshot
	Subscribe(handler device.StateChangeHandler) device.Subscription
}

// PreferenceSource publishes user preferences
type PreferenceSource interface {
	Get() preferences.Preferences
	Subscribe(handler preferences.ChangeHandler) preferences.Subscription
}

type playMode int

const (
	modeIdle playMode = iota
	modeAlert
	modePreview
)

func (m playMode) String() string {
	switch m {
	case modeAlert:
		return "alert"
	case modePreview:
		return "preview"
	default:
		return "idle"
	}
}

// Trigger sounds the alarm while the device reports motion and motion alerts
// are enabled
type Trigger struct {
	state   StateSource
	prefs   PreferenceSource
	player  Player
	logger  *zap.Logger
	clock   clock.Clock
	preview time.Duration

	mu           sync.Mutex
	mode         playMode
	motion       bool
	playing      preferences.Preferences
	previewTimer clock.Timer
	previewGen   uint64
	stateSub     device.Subscription
	prefsSub     preferences.Subscription
	started      bool
	closed       bool
}

// NewTrigger creates a trigger. A non-positive preview selects DefaultPreviewDuration.
func NewTrigger(state StateSource, prefs PreferenceSource, player Player, logger *zap.Logger, preview time.Duration) *Trigger {
	if preview <= 0 {
		preview = DefaultPreviewDuration
	}
	return &Trigger{
		state:   state,
		prefs:   prefs,
		player:  player,
		logger:  logger.Named("alarm"),
		clock:   clock.NewRealClock(),
		preview: preview,
	}
}

// SetClock sets the clock implementation (useful for testing). Call before Start.
func (t *Trigger) SetClock(c clock.Clock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clock = c
}

// Start subscribes to device and preference changes. Motion already present
// when Start is called sounds the alarm right away.
func (t *Trigger) Start() {
	t.mu.Lock()
	if t.started || t.closed {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	stateSub := t.state.Subscribe(t.handleStateChange)
	prefsSub := t.prefs.Subscribe(t.handlePreferencesChange)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateSub = stateSub
	t.prefsSub = prefsSub
	if t.closed {
		return
	}

	if t.state.Snapshot().Device.MotionDetected() {
		t.motion = true
		t.startAlertLocked(t.prefs.Get())
	}
	t.logger.Info("Alarm trigger started", zap.Bool("player_available", t.player.IsAvailable()))
}

// Close stops playback and unsubscribes. Safe to call more than once.
func (t *Trigger) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.stopLocked()
	stateSub, prefsSub := t.stateSub, t.prefsSub
	t.mu.Unlock()

	if stateSub != nil {
		stateSub.Unsubscribe()
	}
	if prefsSub != nil {
		prefsSub.Unsubscribe()
	}
	t.logger.Info("Alarm trigger closed")
}

// Playing reports whether motion playback is active
func (t *Trigger) Playing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode == modeAlert
}

// PlayerAvailable reports whether alarms actually produce sound
func (t *Trigger) PlayerAvailable() bool {
	return t.player.IsAvailable()
}

// Test plays the current alarm sound for the preview duration. A new preview
// replaces a running one.
func (t *Trigger) Test() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.mode == modeAlert {
		return ErrAlarmActive
	}

	prefs := t.prefs.Get()
	t.cancelPreviewLocked()
	t.mode = modePreview
	t.playing = prefs
	t.player.Play(prefs.AlarmSound, prefs.Volume)

	t.previewGen++
	gen := t.previewGen
	t.previewTimer = t.clock.AfterFunc(t.preview, func() { t.endPreview(gen) })

	t.logger.Info("Previewing alarm sound",
		zap.String("sound", string(prefs.AlarmSound)),
		zap.Int("volume", prefs.Volume),
		zap.Duration("duration", t.preview))
	return nil
}

// endPreview stops preview gen unless it has been replaced or taken over
func (t *Trigger) endPreview(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.mode != modePreview || t.previewGen != gen {
		return
	}
	t.previewTimer = nil
	t.stopLocked()
}

func (t *Trigger) handleStateChange(oldSnap, newSnap device.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	had := oldSnap.Device.MotionDetected()
	has := newSnap.Device.MotionDetected()
	t.motion = has

	switch {
	case !had && has:
		t.startAlertLocked(t.prefs.Get())
	case had && !has:
		if t.mode == modeAlert {
			t.logger.Info("Motion cleared, stopping alarm")
			t.stopLocked()
		}
	}
}

func (t *Trigger) handlePreferencesChange(oldPrefs, newPrefs preferences.Preferences) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	switch t.mode {
	case modeAlert:
		if !newPrefs.MotionAlertsEnabled {
			t.logger.Info("Motion alerts disabled, stopping alarm")
			t.stopLocked()
			return
		}
		if newPrefs.AlarmSound != t.playing.AlarmSound || newPrefs.Volume != t.playing.Volume {
			t.logger.Info("Alarm settings changed, restarting playback")
			t.player.Stop()
			t.playing = newPrefs
			t.player.Play(newPrefs.AlarmSound, newPrefs.Volume)
		}
	default:
		if t.motion && newPrefs.MotionAlertsEnabled && !oldPrefs.MotionAlertsEnabled {
			t.startAlertLocked(newPrefs)
		}
	}
}

// startAlertLocked sounds the alarm for motion if alerts are enabled. A
// running preview is taken over.
func (t *Trigger) startAlertLocked(prefs preferences.Preferences) {
	if !prefs.MotionAlertsEnabled {
		t.logger.Info("Motion detected, alerts disabled")
		return
	}
	if t.mode == modeAlert {
		return
	}

	t.cancelPreviewLocked()
	if t.mode == modePreview {
		t.player.Stop()
	}
	t.mode = modeAlert
	t.playing = prefs
	t.player.Play(prefs.AlarmSound, prefs.Volume)

	t.logger.Warn("Motion detected, sounding alarm",
		zap.String("sound", string(prefs.AlarmSound)),
		zap.Int("volume", prefs.Volume))
}

func (t *Trigger) stopLocked() {
	t.cancelPreviewLocked()
	if t.mode == modeIdle {
		return
	}
	t.logger.Debug("Stopping playback", zap.Stringer("mode", t.mode))
	t.mode = modeIdle
	t.player.Stop()
}

func (t *Trigger) cancelPreviewLocked() {
	if t.previewTimer != nil {
		t.previewTimer.Stop()
		t.previewTimer = nil
	}
}
