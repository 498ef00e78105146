package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// TrackingConfig holds freshness and session timing settings.
type TrackingConfig struct {
	PollInterval       time.Duration `json:"pollInterval" mapstructure:"pollInterval" validate:"gt=0"`
	FreshnessThreshold time.Duration `json:"freshnessThreshold" mapstructure:"freshnessThreshold" validate:"gt=0"`
	SessionCap         time.Duration `json:"sessionCap" mapstructure:"sessionCap" validate:"gt=0"`
	StopTombstoneWait  time.Duration `json:"stopTombstoneWait" mapstructure:"stopTombstoneWait" validate:"gt=0"`
	StopDeleteWait     time.Duration `json:"stopDeleteWait" mapstructure:"stopDeleteWait" validate:"gt=0"`
}

// DirectionsConfig holds the external directions API settings.
type DirectionsConfig struct {
	ServerURL string        `json:"serverUrl" mapstructure:"serverUrl" validate:"required,url"`
	APIKey    string        `json:"apiKey" mapstructure:"apiKey" validate:"omitempty"`
	Throttle  time.Duration `json:"throttle" mapstructure:"throttle" validate:"gte=0"`
	Timeout   time.Duration `json:"timeout" mapstructure:"timeout" validate:"gt=0"`
}

// WatchConfig holds device location watch settings.
type WatchConfig struct {
	MinInterval time.Duration `json:"minInterval" mapstructure:"minInterval" validate:"gt=0"`
	MinDistance float64       `json:"minDistance" mapstructure:"minDistance" validate:"gte=0"`
}

// RealtimeConfig holds the push channel endpoint settings.
type RealtimeConfig struct {
	ListenAddr string `json:"listenAddr" mapstructure:"listenAddr" validate:"required"`
	ServerURL  string `json:"serverUrl" mapstructure:"serverUrl" validate:"required"`
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	// Set default values
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./trackerlogs")

	viper.SetDefault("tracking.pollInterval", "2s")
	viper.SetDefault("tracking.freshnessThreshold", "15s")
	viper.SetDefault("tracking.sessionCap", "3h")
	viper.SetDefault("tracking.stopTombstoneWait", "500ms")
	viper.SetDefault("tracking.stopDeleteWait", "800ms")

	viper.SetDefault("watch.minInterval", "3s")
	viper.SetDefault("watch.minDistance", 5.0)

	viper.SetDefault("directions.serverUrl", "https://maps.googleapis.com/maps/api/directions/json")
	viper.SetDefault("directions.apiKey", "")
	viper.SetDefault("directions.throttle", "15s")
	viper.SetDefault("directions.timeout", "10s")

	viper.SetDefault("realtime.listenAddr", ":8090")
	viper.SetDefault("realtime.serverUrl", "ws://localhost:8090/ws")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "campustrack")

	viper.SetDefault("storage.type", "gorm")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "campustrack-metrics")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetConfigName("tracker.cfg.json")
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return validateSections()
}

func validateSections() error {
	v := validator.New()
	for name, section := range map[string]interface{}{
		"tracking":   GetTrackingConfig(),
		"directions": GetDirectionsConfig(),
		"watch":      GetWatchConfig(),
		"realtime":   GetRealtimeConfig(),
	} {
		if err := v.Struct(section); err != nil {
			return fmt.Errorf("invalid %s config: %w", name, err)
		}
	}
	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetTrackingConfig returns the tracking section with durations parsed.
func GetTrackingConfig() TrackingConfig {
	return TrackingConfig{
		PollInterval:       viper.GetDuration("tracking.pollInterval"),
		FreshnessThreshold: viper.GetDuration("tracking.freshnessThreshold"),
		SessionCap:         viper.GetDuration("tracking.sessionCap"),
		StopTombstoneWait:  viper.GetDuration("tracking.stopTombstoneWait"),
		StopDeleteWait:     viper.GetDuration("tracking.stopDeleteWait"),
	}
}

// GetDirectionsConfig returns the directions API section.
func GetDirectionsConfig() DirectionsConfig {
	return DirectionsConfig{
		ServerURL: viper.GetString("directions.serverUrl"),
		APIKey:    viper.GetString("directions.apiKey"),
		Throttle:  viper.GetDuration("directions.throttle"),
		Timeout:   viper.GetDuration("directions.timeout"),
	}
}

// GetWatchConfig returns the device watch section.
func GetWatchConfig() WatchConfig {
	return WatchConfig{
		MinInterval: viper.GetDuration("watch.minInterval"),
		MinDistance: viper.GetFloat64("watch.minDistance"),
	}
}

// GetRealtimeConfig returns the push channel endpoint section.
func GetRealtimeConfig() RealtimeConfig {
	return RealtimeConfig{
		ListenAddr: viper.GetString("realtime.listenAddr"),
		ServerURL:  viper.GetString("realtime.serverUrl"),
	}
}
