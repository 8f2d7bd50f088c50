package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "isswatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(nil, envMap(nil), testLogger())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, modeTUI, cfg.Mode)
	assert.Equal(t, 30, cfg.FPS)
	assert.Equal(t, feedFallback, cfg.Feed.Source)
	assert.Equal(t, 5*time.Second, cfg.Feed.Interval)
	assert.Equal(t, 120, cfg.Camera.TotalFrames)
	assert.Equal(t, 420.0, cfg.Camera.DefaultAltitudeKm)
	assert.True(t, cfg.Origin.LocateIP)
	assert.False(t, cfg.Auth.Enabled)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
http_addr: ":9090"
mode: headless
feed:
  source: sgp4
  interval: 2s
origin:
  latitude: 40.7128
  longitude: -74.006
  locate_ip: false
camera:
  total_frames: 60
stream:
  keepalive_interval: 10s
`)

	cfg, err := loadConfig([]string{"-config", path}, envMap(nil), testLogger())
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, modeHeadless, cfg.Mode)
	assert.Equal(t, feedSGP4, cfg.Feed.Source)
	assert.Equal(t, 2*time.Second, cfg.Feed.Interval)
	require.NotNil(t, cfg.Origin.Latitude)
	assert.InDelta(t, 40.7128, *cfg.Origin.Latitude, 1e-9)
	assert.False(t, cfg.Origin.LocateIP)
	assert.Equal(t, 60, cfg.Camera.TotalFrames)
	// Keys absent from the file keep their defaults.
	require.NotNil(t, cfg.Camera.DriftStep)
	assert.Equal(t, 0.0001, *cfg.Camera.DriftStep)
	assert.Equal(t, 10*time.Second, cfg.Stream.KeepaliveInterval)
	assert.Equal(t, 10, cfg.Stream.MaxConcurrentPerIP)
}

func TestLoadConfigFileZeroDriftStep(t *testing.T) {
	path := writeConfig(t, `
camera:
  drift_step: 0
  tracking: true
`)

	cfg, err := loadConfig([]string{"-config", path}, envMap(nil), testLogger())
	require.NoError(t, err)

	require.NotNil(t, cfg.Camera.DriftStep)
	assert.Zero(t, *cfg.Camera.DriftStep)
	assert.True(t, cfg.Camera.Tracking)
}

func TestLoadConfigFileFromEnv(t *testing.T) {
	path := writeConfig(t, "fps: 15\n")
	cfg, err := loadConfig(nil, envMap(map[string]string{"ISSWATCH_CONFIG": path}), testLogger())
	require.NoError(t, err)
	assert.Equal(t, 15, cfg.FPS)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig([]string{"-config", filepath.Join(t.TempDir(), "absent.yaml")}, envMap(nil), testLogger())
	assert.ErrorContains(t, err, "read config")
}

func TestLoadConfigBadYAML(t *testing.T) {
	path := writeConfig(t, "fps: [1, 2\n")
	_, err := loadConfig([]string{"-config", path}, envMap(nil), testLogger())
	assert.ErrorContains(t, err, "parse config")
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := writeConfig(t, "http_addr: \":9090\"\norigin:\n  city: Lisbon\n")
	env := envMap(map[string]string{
		"ISSWATCH_HTTP_ADDR": ":7070",
		"ISSWATCH_CITY":      "Porto",
		"ISSWATCH_MODE":      "tui",
	})

	cfg, err := loadConfig([]string{"-config", path, "-city", "Seattle", "-headless"}, env, testLogger())
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.HTTPAddr, "env overrides file")
	assert.Equal(t, "Seattle", cfg.Origin.City, "flag overrides env")
	assert.Equal(t, modeHeadless, cfg.Mode, "flag overrides env")
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	env := envMap(map[string]string{
		"ISSWATCH_FEED_SOURCE":               "api",
		"ISSWATCH_POLL_INTERVAL":             "10",
		"ISSWATCH_LATITUDE":                  "51.5",
		"ISSWATCH_LONGITUDE":                 "-0.12",
		"ISSWATCH_LOCATE_IP":                 "false",
		"ISSWATCH_AUTH_ENABLED":              "true",
		"ISSWATCH_AUTH_TOKEN":                "secret",
		"ISSWATCH_STREAM_MAX_CONCURRENT":     "3",
		"ISSWATCH_STREAM_KEEPALIVE_INTERVAL": "15",
		"ISSWATCH_LOG_LEVEL":                 "debug",
	})

	cfg, err := loadConfig(nil, env, testLogger())
	require.NoError(t, err)

	assert.Equal(t, feedAPI, cfg.Feed.Source)
	assert.Equal(t, 10*time.Second, cfg.Feed.Interval)
	require.NotNil(t, cfg.Origin.Longitude)
	assert.InDelta(t, -0.12, *cfg.Origin.Longitude, 1e-9)
	assert.False(t, cfg.Origin.LocateIP)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "secret", cfg.Auth.Token)
	assert.Equal(t, 3, cfg.Stream.MaxConcurrentPerIP)
	assert.Equal(t, 15*time.Second, cfg.Stream.KeepaliveInterval)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigInvalidNumbersKeepDefaults(t *testing.T) {
	env := envMap(map[string]string{
		"ISSWATCH_FPS":           "fast",
		"ISSWATCH_POLL_INTERVAL": "-3",
	})

	cfg, err := loadConfig(nil, env, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.FPS)
	assert.Equal(t, 5*time.Second, cfg.Feed.Interval)
}

func TestLoadConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"auth without token", map[string]string{"ISSWATCH_AUTH_ENABLED": "true"}, "ISSWATCH_AUTH_TOKEN"},
		{"bad auth flag", map[string]string{"ISSWATCH_AUTH_ENABLED": "maybe"}, "ISSWATCH_AUTH_ENABLED"},
		{"latitude alone", map[string]string{"ISSWATCH_LATITUDE": "10"}, "set together"},
		{"latitude range", map[string]string{"ISSWATCH_LATITUDE": "91", "ISSWATCH_LONGITUDE": "0"}, "latitude"},
		{"bad latitude", map[string]string{"ISSWATCH_LATITUDE": "north"}, "ISSWATCH_LATITUDE"},
		{"unknown mode", map[string]string{"ISSWATCH_MODE": "gui"}, "unknown mode"},
		{"unknown source", map[string]string{"ISSWATCH_FEED_SOURCE": "radar"}, "unknown feed source"},
		{"fps range", map[string]string{"ISSWATCH_FPS": "500"}, "fps"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadConfig(nil, envMap(tc.env), testLogger())
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestLoadConfigUnknownFlag(t *testing.T) {
	_, err := loadConfig([]string{"-verbose"}, envMap(nil), testLogger())
	assert.Error(t, err)
}
