// Package conf defines the application settings and the functions to
// load them from the configuration file and environment.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

//go:embed config.yaml
var configFiles embed.FS

// LogConfig contains settings for a rotated log file.
type LogConfig struct {
	Enabled bool   // true to enable this log
	Path    string // path to log file
}

// MainSettings contains top-level application settings.
type MainSettings struct {
	Name string    // node name, used as client id for integrations
	Log  LogConfig // main log settings
}

// PrimarySettings configures the deterministic hand feed watched on a
// network file share.
type PrimarySettings struct {
	WatchPath            string  // network share directory with session JSON files
	FilePattern          string  // glob pattern for session files
	PollIntervalSeconds  float64 // directory polling interval
	SettleDelaySeconds   float64 // wait for file size to stabilize before reading
	JournalPath          string  // processed-file journal location
	MaxReconnectAttempts int     // bounded reconnect attempts on share loss
}

// SecondarySettings configures acceptance of AI video analyzer results.
type SecondarySettings struct {
	ConfidenceThreshold float64 // minimum confidence to trust a secondary-only result
}

// FusionSettings configures cross-validation between sources.
type FusionSettings struct {
	TimestampToleranceSeconds float64 // max primary/secondary timestamp skew for a match
}

// FallbackSettings configures automation failure detection and the local
// fallback ingestion directory.
type FallbackSettings struct {
	Enabled                 bool   // false disables fallback mode entirely
	Path                    string // local directory watched while the share is down
	JournalPath             string // processed-file journal for the fallback watcher
	PrimaryTimeoutSeconds   int    // silence on a connected primary before timeout
	SecondaryTimeoutSeconds int    // silence on secondary while primary is down
	MismatchThreshold       int    // consecutive fusion mismatches before tripping
}

// HealthSettings configures the share connection health monitor.
type HealthSettings struct {
	CheckIntervalSeconds int // health check interval
	MaxReconnectAttempts int // bounded backoff attempts while disconnected
}

// DeviceSettings configures the vMix recording device HTTP API.
type DeviceSettings struct {
	Host           string  // device host
	Port           int     // device HTTP API port
	TimeoutSeconds float64 // per-request timeout
	Channel        string  // replay channel (A, B or empty for default)
	FrameRate      float64 // frame rate for timecode arithmetic
	TrackTimecode  bool    // read device timecode around marks
	AutoRecord     bool    // ensure main recording is active on mark-in
	ExportEvents   bool    // export replay events on mark-out
}

// RecordingSettings configures clip placement and session bookkeeping.
type RecordingSettings struct {
	OutputPath         string // base directory for recorded clips
	Format             string // clip container format, e.g. mp4
	MinDurationSeconds int    // clips shorter than this are suspect
	MaxDurationSeconds int    // hard cap on a single hand recording
	HistorySize        int    // completed sessions kept in memory
	RetentionDays      int    // cleanup threshold for old clips
}

// MQTTSettings configures the broker used to push results and alerts to
// the persistence and dashboard collaborators.
type MQTTSettings struct {
	Enabled  bool   // true to enable MQTT publishing
	Broker   string // broker URL, e.g. tcp://localhost:1883
	Topic    string // topic prefix for published records
	Username string // MQTT username
	Password string // MQTT password
}

// ObservabilitySettings configures the metrics endpoint.
type ObservabilitySettings struct {
	Enabled    bool   // true to expose prometheus metrics
	ListenAddr string // address for the metrics HTTP listener
}

// Settings contains all runtime settings.
type Settings struct {
	Debug bool // true to enable debug logging

	Main          MainSettings
	Tables        []string // table identifiers captured by this node
	Primary       PrimarySettings
	Secondary     SecondarySettings
	Fusion        FusionSettings
	Fallback      FallbackSettings
	Health        HealthSettings
	Device        DeviceSettings
	Recording     RecordingSettings
	MQTT          MQTTSettings
	Observability ObservabilitySettings
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a
// Settings instance and validates it.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the
// configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Config file not found, create config with defaults
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config to the first
// default config path and re-reads it.
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig := getDefaultConfig()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded
// config.yaml file.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}
	return string(data)
}

// GetSettings returns the current settings instance.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// GetDefaultConfigPaths returns the config file search paths: the
// current directory first, then the user config directory.
func GetDefaultConfigPaths() ([]string, error) {
	paths := []string{"."}

	configDir, err := os.UserConfigDir()
	if err == nil {
		paths = append(paths, filepath.Join(configDir, "tablecap"))
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "tablecap"))
	}

	return paths, nil
}
