package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() *Settings {
	return &Settings{
		Tables: []string{"table_1"},
		Primary: PrimarySettings{
			WatchPath:           "./gfx",
			FilePattern:         "*.json",
			PollIntervalSeconds: 2.0,
		},
		Secondary: SecondarySettings{ConfidenceThreshold: 0.8},
		Fusion:    FusionSettings{TimestampToleranceSeconds: 10},
		Fallback: FallbackSettings{
			Enabled:           true,
			Path:              "./fallback",
			MismatchThreshold: 3,
		},
		Health: HealthSettings{CheckIntervalSeconds: 10, MaxReconnectAttempts: 5},
		Device: DeviceSettings{Host: "127.0.0.1", Port: 8088, FrameRate: 30},
		Recording: RecordingSettings{
			OutputPath:  "./recordings",
			Format:      "mp4",
			HistorySize: 100,
		},
	}
}

func TestValidateSettingsAccepted(t *testing.T) {
	t.Parallel()
	require.NoError(t, ValidateSettings(validSettings()))
}

func TestValidateSettingsRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"no tables", func(s *Settings) { s.Tables = nil }},
		{"missing watch path", func(s *Settings) { s.Primary.WatchPath = "" }},
		{"bad poll interval", func(s *Settings) { s.Primary.PollIntervalSeconds = 0 }},
		{"confidence above one", func(s *Settings) { s.Secondary.ConfidenceThreshold = 1.5 }},
		{"negative tolerance", func(s *Settings) { s.Fusion.TimestampToleranceSeconds = -1 }},
		{"fallback enabled without path", func(s *Settings) { s.Fallback.Path = "" }},
		{"mismatch threshold zero", func(s *Settings) { s.Fallback.MismatchThreshold = 0 }},
		{"health interval zero", func(s *Settings) { s.Health.CheckIntervalSeconds = 0 }},
		{"device port out of range", func(s *Settings) { s.Device.Port = 70000 }},
		{"frame rate zero", func(s *Settings) { s.Device.FrameRate = 0 }},
		{"missing output path", func(s *Settings) { s.Recording.OutputPath = "" }},
		{"history size zero", func(s *Settings) { s.Recording.HistorySize = 0 }},
		{"mqtt enabled without broker", func(s *Settings) {
			s.MQTT.Enabled = true
			s.MQTT.Broker = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := validSettings()
			tt.mutate(settings)
			assert.Error(t, ValidateSettings(settings))
		})
	}
}
