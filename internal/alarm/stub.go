package alarm

import (
	"siren/internal/preferences"

	"go.uber.org/zap"
)

// StubPlayer is the Player used when no audio backend is installed
type StubPlayer struct {
	logger *zap.Logger
}

// NewStubPlayer creates a player that only logs
func NewStubPlayer(logger *zap.Logger) *StubPlayer {
	return &StubPlayer{logger: logger.Named("alarm.stub")}
}

// Play logs that no sound could be played
func (p *StubPlayer) Play(sound preferences.AlarmSound, volumePercent int) {
	p.logger.Warn("No audio backend installed, sound not played",
		zap.String("sound", string(sound)),
		zap.Int("volume", volumePercent))
}

// Stop does nothing
func (p *StubPlayer) Stop() {}

// IsAvailable always returns false
func (p *StubPlayer) IsAvailable() bool {
	return false
}
