package alarm

import (
	"path/filepath"

	"siren/internal/preferences"

	"go.uber.org/zap"
)

// soundAssets maps each selectable sound to its bundled file
var soundAssets = map[preferences.AlarmSound]string{
	preferences.SoundAlarm: "alarm.mp3",
	preferences.SoundSiren: "siren.mp3",
}

// Output is the host audio capability behind NativePlayer
type Output interface {
	// PlayLoop plays the file at path on repeat at volumePercent until Stop
	PlayLoop(path string, volumePercent int) error
	// Stop ends playback; it must be idempotent
	Stop() error
}

// NativePlayer plays bundled sound assets through a host Output
type NativePlayer struct {
	assetDir string
	output   Output
	logger   *zap.Logger
}

// NewNativePlayer creates a player reading assets from assetDir
func NewNativePlayer(assetDir string, output Output, logger *zap.Logger) *NativePlayer {
	return &NativePlayer{
		assetDir: assetDir,
		output:   output,
		logger:   logger.Named("alarm.native"),
	}
}

// AssetPath returns the file played for sound
func (p *NativePlayer) AssetPath(sound preferences.AlarmSound) string {
	file, ok := soundAssets[sound]
	if !ok {
		file = soundAssets[preferences.SoundAlarm]
	}
	return filepath.Join(p.assetDir, file)
}

// Play starts looping the asset for sound. Errors are logged, not returned.
func (p *NativePlayer) Play(sound preferences.AlarmSound, volumePercent int) {
	path := p.AssetPath(sound)
	if err := p.output.PlayLoop(path, volumePercent); err != nil {
		p.logger.Error("Failed to play alarm sound",
			zap.String("path", path),
			zap.Int("volume", volumePercent),
			zap.Error(err))
		return
	}
	p.logger.Info("Playing alarm sound",
		zap.String("sound", string(sound)),
		zap.Int("volume", volumePercent))
}

// Stop ends playback
func (p *NativePlayer) Stop() {
	if err := p.output.Stop(); err != nil {
		p.logger.Warn("Failed to stop alarm sound", zap.Error(err))
	}
}

// IsAvailable returns true
func (p *NativePlayer) IsAvailable() bool {
	return true
}
