package conf

import (
	"fmt"
)

// ValidateSettings checks the loaded settings for contract violations.
// Misconfiguration fails fast here rather than surfacing mid-session.
func ValidateSettings(settings *Settings) error {
	if len(settings.Tables) == 0 {
		return fmt.Errorf("at least one table id must be configured")
	}

	if settings.Primary.WatchPath == "" {
		return fmt.Errorf("primary.watchpath must be set")
	}
	if settings.Primary.PollIntervalSeconds <= 0 {
		return fmt.Errorf("primary.pollintervalseconds must be positive, got %v", settings.Primary.PollIntervalSeconds)
	}

	if settings.Secondary.ConfidenceThreshold < 0 || settings.Secondary.ConfidenceThreshold > 1 {
		return fmt.Errorf("secondary.confidencethreshold must be in [0,1], got %v", settings.Secondary.ConfidenceThreshold)
	}

	if settings.Fusion.TimestampToleranceSeconds < 0 {
		return fmt.Errorf("fusion.timestamptoleranceseconds must not be negative")
	}

	if settings.Fallback.Enabled && settings.Fallback.Path == "" {
		return fmt.Errorf("fallback.path must be set when fallback is enabled")
	}
	if settings.Fallback.MismatchThreshold < 1 {
		return fmt.Errorf("fallback.mismatchthreshold must be at least 1, got %d", settings.Fallback.MismatchThreshold)
	}

	if settings.Health.CheckIntervalSeconds < 1 {
		return fmt.Errorf("health.checkintervalseconds must be at least 1, got %d", settings.Health.CheckIntervalSeconds)
	}
	if settings.Health.MaxReconnectAttempts < 1 {
		return fmt.Errorf("health.maxreconnectattempts must be at least 1, got %d", settings.Health.MaxReconnectAttempts)
	}

	if settings.Device.Host == "" {
		return fmt.Errorf("device.host must be set")
	}
	if settings.Device.Port < 1 || settings.Device.Port > 65535 {
		return fmt.Errorf("device.port must be a valid port, got %d", settings.Device.Port)
	}
	if settings.Device.FrameRate <= 0 {
		return fmt.Errorf("device.framerate must be positive, got %v", settings.Device.FrameRate)
	}

	if settings.Recording.OutputPath == "" {
		return fmt.Errorf("recording.outputpath must be set")
	}
	if settings.Recording.Format == "" {
		return fmt.Errorf("recording.format must be set")
	}
	if settings.Recording.HistorySize < 1 {
		return fmt.Errorf("recording.historysize must be at least 1, got %d", settings.Recording.HistorySize)
	}

	if settings.MQTT.Enabled && settings.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker must be set when mqtt is enabled")
	}

	return nil
}
