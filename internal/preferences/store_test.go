package preferences

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaults(t *testing.T) {
	store := NewStore(Defaults(), zap.NewNop())
	prefs := store.Get()

	assert.Equal(t, SoundAlarm, prefs.AlarmSound)
	assert.Equal(t, 75, prefs.Volume)
	assert.True(t, prefs.MotionAlertsEnabled)
}

func TestNewStore_NormalizesInitialValues(t *testing.T) {
	store := NewStore(Preferences{AlarmSound: "Kazoo", Volume: 250}, zap.NewNop())
	prefs := store.Get()

	assert.Equal(t, SoundAlarm, prefs.AlarmSound)
	assert.Equal(t, 100, prefs.Volume)
}

func TestStore_SetVolume(t *testing.T) {
	tests := []struct {
		name  string
		input float64
		want  int
	}{
		{"negative clamps to zero", -5, 0},
		{"above range clamps to max", 133.7, 100},
		{"rounds down", 42.4, 42},
		{"rounds half up", 42.5, 43},
		{"exact bounds", 100, 100},
		{"zero", 0, 0},
		{"positive infinity", math.Inf(1), 100},
		{"negative infinity", math.Inf(-1), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStore(Defaults(), zap.NewNop())
			store.SetVolume(tt.input)
			assert.Equal(t, tt.want, store.Get().Volume)
		})
	}

	t.Run("NaN is ignored", func(t *testing.T) {
		store := NewStore(Defaults(), zap.NewNop())
		store.SetVolume(math.NaN())
		assert.Equal(t, 75, store.Get().Volume)
	})
}

func TestStore_SetAlarmSound(t *testing.T) {
	store := NewStore(Defaults(), zap.NewNop())

	require.NoError(t, store.SetAlarmSound(SoundSiren))
	assert.Equal(t, SoundSiren, store.Get().AlarmSound)

	err := store.SetAlarmSound("Beep Pattern")
	assert.True(t, errors.Is(err, ErrUnknownSound))
	assert.Equal(t, SoundSiren, store.Get().AlarmSound, "rejected sound leaves value unchanged")
}

func TestParseAlarmSound(t *testing.T) {
	s, err := ParseAlarmSound("Siren")
	require.NoError(t, err)
	assert.Equal(t, SoundSiren, s)

	_, err = ParseAlarmSound("siren")
	assert.ErrorIs(t, err, ErrUnknownSound)
}

func TestStore_Subscribe(t *testing.T) {
	store := NewStore(Defaults(), zap.NewNop())

	var changes [][2]Preferences
	sub := store.Subscribe(func(oldPrefs, newPrefs Preferences) {
		changes = append(changes, [2]Preferences{oldPrefs, newPrefs})
	})

	store.SetMotionAlertsEnabled(false)
	store.SetMotionAlertsEnabled(false)
	store.SetVolume(75.2)

	require.Len(t, changes, 1, "unchanged values publish nothing")
	assert.True(t, changes[0][0].MotionAlertsEnabled)
	assert.False(t, changes[0][1].MotionAlertsEnabled)

	sub.Unsubscribe()
	store.SetVolume(10)
	assert.Len(t, changes, 1)
	assert.Equal(t, 10, store.Get().Volume)
}
