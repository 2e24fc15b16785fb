// Package preferences holds the local alarm preferences: which sound plays,
// how loud, and whether motion alerts sound at all. Nothing here is synced
// with the lock backend.
package preferences

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
)

// AlarmSound is one of the bundled alarm sounds
type AlarmSound string

const (
	SoundAlarm AlarmSound = "Alarm"
	SoundSiren AlarmSound = "Siren"
)

// AllSounds lists the selectable sounds in display order
var AllSounds = []AlarmSound{SoundAlarm, SoundSiren}

// ErrUnknownSound is returned when a sound outside AllSounds is selected
var ErrUnknownSound = errors.New("unknown alarm sound")

// Volume bounds
const (
	MinVolume = 0
	MaxVolume = 100
)

// ParseAlarmSound validates a user-supplied sound name
func ParseAlarmSound(name string) (AlarmSound, error) {
	for _, s := range AllSounds {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSound, name)
}

// Preferences is a snapshot of the preference values
type Preferences struct {
	AlarmSound          AlarmSound `json:"alarm_sound"`
	Volume              int        `json:"volume"`
	MotionAlertsEnabled bool       `json:"motion_alerts_enabled"`
}

// Defaults returns the preferences a new session starts with
func Defaults() Preferences {
	return Preferences{
		AlarmSound:          SoundAlarm,
		Volume:              75,
		MotionAlertsEnabled: true,
	}
}

// ChangeHandler is called synchronously after a preference changes
type ChangeHandler func(oldPrefs, newPrefs Preferences)

// Subscription represents an active preference subscription
type Subscription interface {
	Unsubscribe()
}

type subscriberEntry struct {
	subID   int
	handler ChangeHandler
}

type subscription struct {
	subID int
	store *Store
}

func (s *subscription) Unsubscribe() {
	s.store.unsubscribe(s.subID)
}

// Store holds the current preferences
type Store struct {
	logger *zap.Logger

	mu    sync.RWMutex
	prefs Preferences

	notifyMu    sync.Mutex
	subsMu      sync.RWMutex
	subscribers []subscriberEntry
	nextSubID   int
}

// NewStore creates a store seeded with initial. The volume is normalized and an
// unknown sound falls back to the default.
func NewStore(initial Preferences, logger *zap.Logger) *Store {
	if _, err := ParseAlarmSound(string(initial.AlarmSound)); err != nil {
		logger.Warn("Unknown initial alarm sound, using default",
			zap.String("sound", string(initial.AlarmSound)))
		initial.AlarmSound = Defaults().AlarmSound
	}
	initial.Volume = clampVolume(float64(initial.Volume))

	return &Store{
		logger: logger.Named("preferences"),
		prefs:  initial,
	}
}

// Get returns the current preferences
func (s *Store) Get() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs
}

// SetAlarmSound selects the alarm sound
func (s *Store) SetAlarmSound(sound AlarmSound) error {
	if _, err := ParseAlarmSound(string(sound)); err != nil {
		return err
	}
	s.update(func(p *Preferences) { p.AlarmSound = sound })
	return nil
}

// SetVolume stores v clamped to [0,100] and rounded to the nearest integer.
// NaN leaves the volume unchanged.
func (s *Store) SetVolume(v float64) {
	if math.IsNaN(v) {
		s.logger.Debug("Ignoring NaN volume")
		return
	}
	s.update(func(p *Preferences) { p.Volume = clampVolume(v) })
}

// SetMotionAlertsEnabled toggles whether motion sounds the alarm
func (s *Store) SetMotionAlertsEnabled(enabled bool) {
	s.update(func(p *Preferences) { p.MotionAlertsEnabled = enabled })
}

func (s *Store) update(fn func(*Preferences)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	before := s.prefs
	fn(&s.prefs)
	after := s.prefs
	s.mu.Unlock()

	if before == after {
		return
	}

	s.logger.Debug("Preferences changed",
		zap.String("alarm_sound", string(after.AlarmSound)),
		zap.Int("volume", after.Volume),
		zap.Bool("motion_alerts_enabled", after.MotionAlertsEnabled))

	s.subsMu.RLock()
	entries := append([]subscriberEntry(nil), s.subscribers...)
	s.subsMu.RUnlock()

	for _, entry := range entries {
		entry.handler(before, after)
	}
}

// Subscribe registers handler for preference changes
func (s *Store) Subscribe(handler ChangeHandler) Subscription {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	subID := s.nextSubID
	s.nextSubID++
	s.subscribers = append(s.subscribers, subscriberEntry{subID: subID, handler: handler})

	return &subscription{subID: subID, store: s}
}

func (s *Store) unsubscribe(subID int) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for i, entry := range s.subscribers {
		if entry.subID == subID {
			s.subscribers = append(s.subscribers[:i:i], s.subscribers[i+1:]...)
			return
		}
	}
}

func clampVolume(v float64) int {
	return int(math.Max(MinVolume, math.Min(MaxVolume, math.Round(v))))
}
