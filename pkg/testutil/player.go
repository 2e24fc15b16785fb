package testutil

import (
	"sync"

	"siren/internal/preferences"
)

// PlayerEvent records one call on a RecordingPlayer
type PlayerEvent struct {
	Stop   bool
	Sound  preferences.AlarmSound
	Volume int
}

// RecordingPlayer is an alarm player that records calls instead of playing
type RecordingPlayer struct {
	mu      sync.Mutex
	events  []PlayerEvent
	playing bool
}

// NewRecordingPlayer creates an empty recording player
func NewRecordingPlayer() *RecordingPlayer {
	return &RecordingPlayer{}
}

// Play records a play call
func (p *RecordingPlayer) Play(sound preferences.AlarmSound, volumePercent int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, PlayerEvent{Sound: sound, Volume: volumePercent})
	p.playing = true
}

// Stop records a stop call
func (p *RecordingPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, PlayerEvent{Stop: true})
	p.playing = false
}

// IsAvailable returns true
func (p *RecordingPlayer) IsAvailable() bool {
	return true
}

// Playing reports whether the last call was Play
func (p *RecordingPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Events returns all recorded calls
func (p *RecordingPlayer) Events() []PlayerEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PlayerEvent(nil), p.events...)
}
