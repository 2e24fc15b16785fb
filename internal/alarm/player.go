// Package alarm turns motion reported by the device into alarm playback.
//
// Playback goes through the Player interface. StubPlayer is used when no audio
// backend is installed; NativePlayer maps sounds to bundled assets and hands
// them to a host Output.
package alarm

import "siren/internal/preferences"

// Player is the audio capability the alarm drives
type Player interface {
	// Play starts looping sound at volumePercent (0-100) until Stop is called.
	// It replaces anything already playing and never blocks on playback.
	Play(sound preferences.AlarmSound, volumePercent int)

	// Stop ends playback. Safe to call when nothing is playing.
	Stop()

	// IsAvailable reports whether Play actually produces sound
	IsAvailable() bool
}
