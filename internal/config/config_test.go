package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	cfg := `{
		"logLevel": "debug",
		"db": { "host": "10.0.0.1", "port": "5433" },
		"tracking": { "pollInterval": "1s" }
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tracker.cfg.json"), []byte(cfg), 0644))

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, "10.0.0.1", viper.GetString("db.host"))
	assert.Equal(t, "5433", viper.GetString("db.port"))
	assert.Equal(t, time.Second, GetTrackingConfig().PollInterval)
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tracker.cfg.json"), []byte(`{}`), 0644))

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./trackerlogs", viper.GetString("logsDir"))
	assert.Equal(t, "localhost", viper.GetString("db.host"))
	assert.Equal(t, "5432", viper.GetString("db.port"))
	assert.Equal(t, "postgres", viper.GetString("db.username"))
	assert.Equal(t, "campustrack", viper.GetString("db.database"))
	assert.Equal(t, "gorm", viper.GetString("storage.type"))
	assert.Equal(t, false, viper.GetBool("influx.enabled"))
	assert.Equal(t, false, viper.GetBool("graylog.enabled"))
	assert.Equal(t, "localhost:12201", viper.GetString("graylog.address"))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load("/nonexistent/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoad_InvalidSection(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	cfg := `{ "tracking": { "freshnessThreshold": "0s" } }`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tracker.cfg.json"), []byte(cfg), 0644))

	err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid tracking config")
}

func TestGetTrackingConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tracker.cfg.json"), []byte(`{}`), 0644))
	require.NoError(t, Load(dir))

	tc := GetTrackingConfig()
	assert.Equal(t, 2*time.Second, tc.PollInterval)
	assert.Equal(t, 15*time.Second, tc.FreshnessThreshold)
	assert.Equal(t, 3*time.Hour, tc.SessionCap)
	assert.Equal(t, 500*time.Millisecond, tc.StopTombstoneWait)
	assert.Equal(t, 800*time.Millisecond, tc.StopDeleteWait)
}

func TestGetDirectionsConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	cfg := `{
		"directions": {
			"serverUrl": "https://example.com/directions",
			"apiKey": "secret",
			"throttle": "30s"
		}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tracker.cfg.json"), []byte(cfg), 0644))
	require.NoError(t, Load(dir))

	dc := GetDirectionsConfig()
	assert.Equal(t, "https://example.com/directions", dc.ServerURL)
	assert.Equal(t, "secret", dc.APIKey)
	assert.Equal(t, 30*time.Second, dc.Throttle)
	assert.Equal(t, 10*time.Second, dc.Timeout)
}

func TestGetWatchConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tracker.cfg.json"), []byte(`{}`), 0644))
	require.NoError(t, Load(dir))

	wc := GetWatchConfig()
	assert.Equal(t, 3*time.Second, wc.MinInterval)
	assert.Equal(t, 5.0, wc.MinDistance)
}
