package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/star/isswatch/internal/auth"
	"github.com/star/isswatch/internal/camera"
	"github.com/star/isswatch/internal/logging"
	"github.com/star/isswatch/internal/stream"
	"github.com/star/isswatch/internal/track"
)

const (
	modeTUI      = "tui"
	modeHeadless = "headless"

	feedAPI      = "api"
	feedSGP4     = "sgp4"
	feedFallback = "api+sgp4"

	defaultTUILogFile = "isswatch.log"
)

// Config is the full process configuration.
type Config struct {
	HTTPAddr     string         `yaml:"http_addr"`
	Mode         string         `yaml:"mode"`
	FPS          int            `yaml:"fps"`
	MarkerRadius float64        `yaml:"marker_radius"`
	Log          logging.Config `yaml:"log"`
	Feed         FeedConfig     `yaml:"feed"`
	Geocode      GeocodeConfig  `yaml:"geocode"`
	Origin       OriginConfig   `yaml:"origin"`
	Camera       camera.Config  `yaml:"camera"`
	Auth         auth.Config    `yaml:"auth"`
	Stream       stream.Config  `yaml:"stream"`
	Track        track.Config   `yaml:"track"`
}

// FeedConfig selects where positions come from.
type FeedConfig struct {
	Source      string        `yaml:"source"` // api, sgp4 or api+sgp4
	URL         string        `yaml:"url"`
	Interval    time.Duration `yaml:"interval"`
	TLEURL      string        `yaml:"tle_url"`
	TLECacheDir string        `yaml:"tle_cache_dir"`
	TLEMaxAge   time.Duration `yaml:"tle_max_age"`
}

// GeocodeConfig points at the Nominatim service.
type GeocodeConfig struct {
	URL       string        `yaml:"url"`
	UserAgent string        `yaml:"user_agent"`
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// OriginConfig describes the user's location.
type OriginConfig struct {
	City       string   `yaml:"city"`
	Latitude   *float64 `yaml:"latitude"`
	Longitude  *float64 `yaml:"longitude"`
	LocateIP   bool     `yaml:"locate_ip"`
	LocatorURL string   `yaml:"locator_url"`
}

func defaultConfig() Config {
	return Config{
		HTTPAddr: ":8080",
		Mode:     modeTUI,
		FPS:      30,
		Log:      logging.Config{Level: "info", Format: "json"},
		Feed: FeedConfig{
			Source:      feedFallback,
			Interval:    5 * time.Second,
			TLECacheDir: "/tmp/isswatch/tle",
			TLEMaxAge:   12 * time.Hour,
		},
		Geocode: GeocodeConfig{
			CacheSize: 256,
			CacheTTL:  time.Hour,
		},
		Origin: OriginConfig{LocateIP: true},
		Camera: camera.DefaultConfig(),
		Stream: stream.Config{
			MaxConcurrentPerIP: 10,
			MaxConcurrent:      1000,
			KeepaliveInterval:  30 * time.Second,
		},
		Track: track.DefaultConfig(),
	}
}

// loadConfig layers defaults, the YAML file, ISSWATCH_* variables and
// command-line flags, in that order.
func loadConfig(args []string, getenv func(string) string, logger *slog.Logger) (Config, error) {
	fs := flag.NewFlagSet("isswatch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "path to a YAML config file")
	headless := fs.Bool("headless", false, "run without the terminal UI")
	city := fs.String("city", "", "observer city, resolved with Nominatim")
	addr := fs.String("addr", "", "HTTP listen address")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := defaultConfig()

	path := *configPath
	if path == "" {
		path = getenv("ISSWATCH_CONFIG")
	}
	if path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return Config{}, err
		}
		logger.Info("config file loaded", "path", path)
	}

	if err := applyEnv(&cfg, getenv, logger); err != nil {
		return Config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "headless":
			if *headless {
				cfg.Mode = modeHeadless
			}
		case "city":
			cfg.Origin.City = *city
		case "addr":
			cfg.HTTPAddr = *addr
		}
	})

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string, logger *slog.Logger) error {
	if v := getenv("ISSWATCH_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := getenv("ISSWATCH_MODE"); v != "" {
		cfg.Mode = v
	}
	envInt(getenv, logger, "ISSWATCH_FPS", &cfg.FPS)

	if v := getenv("ISSWATCH_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := getenv("ISSWATCH_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := getenv("ISSWATCH_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}

	if v := getenv("ISSWATCH_FEED_SOURCE"); v != "" {
		cfg.Feed.Source = v
	}
	if v := getenv("ISSWATCH_FEED_URL"); v != "" {
		cfg.Feed.URL = v
	}
	envSeconds(getenv, logger, "ISSWATCH_POLL_INTERVAL", &cfg.Feed.Interval)
	if v := getenv("ISSWATCH_TLE_URL"); v != "" {
		cfg.Feed.TLEURL = v
	}
	if v := getenv("ISSWATCH_TLE_CACHE_DIR"); v != "" {
		cfg.Feed.TLECacheDir = v
	}
	envSeconds(getenv, logger, "ISSWATCH_TLE_MAX_AGE", &cfg.Feed.TLEMaxAge)

	if v := getenv("ISSWATCH_NOMINATIM_URL"); v != "" {
		cfg.Geocode.URL = v
	}
	if v := getenv("ISSWATCH_NOMINATIM_USER_AGENT"); v != "" {
		cfg.Geocode.UserAgent = v
	}

	if v := getenv("ISSWATCH_CITY"); v != "" {
		cfg.Origin.City = v
	}
	if v := getenv("ISSWATCH_LATITUDE"); v != "" {
		lat, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid ISSWATCH_LATITUDE %q: %w", v, err)
		}
		cfg.Origin.Latitude = &lat
	}
	if v := getenv("ISSWATCH_LONGITUDE"); v != "" {
		lon, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid ISSWATCH_LONGITUDE %q: %w", v, err)
		}
		cfg.Origin.Longitude = &lon
	}
	if v := getenv("ISSWATCH_LOCATE_IP"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid ISSWATCH_LOCATE_IP value, keeping current setting", "value", v, "locate_ip", cfg.Origin.LocateIP)
		} else {
			cfg.Origin.LocateIP = on
		}
	}

	if v := getenv("ISSWATCH_AUTH_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid ISSWATCH_AUTH_ENABLED value %q: must be true or false", v)
		}
		cfg.Auth.Enabled = enabled
	}
	if v := getenv("ISSWATCH_AUTH_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}

	envInt(getenv, logger, "ISSWATCH_STREAM_MAX_CONCURRENT", &cfg.Stream.MaxConcurrentPerIP)
	envSeconds(getenv, logger, "ISSWATCH_STREAM_KEEPALIVE_INTERVAL", &cfg.Stream.KeepaliveInterval)
	if v := getenv("ISSWATCH_TRUST_PROXY"); v != "" {
		trust, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid ISSWATCH_TRUST_PROXY value, defaulting to false", "value", v)
		} else {
			cfg.Stream.TrustProxy = trust
		}
	}
	return nil
}

func envInt(getenv func(string) string, logger *slog.Logger, key string, dst *int) {
	v := getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		logger.Warn("invalid "+key+" value, using default", "value", v, "default", *dst)
		return
	}
	*dst = n
}

func envSeconds(getenv func(string) string, logger *slog.Logger, key string, dst *time.Duration) {
	v := getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		logger.Warn("invalid "+key+" value, using default", "value", v, "default", dst.Seconds())
		return
	}
	*dst = time.Duration(n) * time.Second
}

func (c Config) validate() error {
	switch c.Mode {
	case modeTUI, modeHeadless:
	default:
		return fmt.Errorf("unknown mode %q: want %s or %s", c.Mode, modeTUI, modeHeadless)
	}

	switch c.Feed.Source {
	case feedAPI, feedSGP4, feedFallback:
	default:
		return fmt.Errorf("unknown feed source %q: want %s, %s or %s", c.Feed.Source, feedAPI, feedSGP4, feedFallback)
	}

	if c.FPS < 1 || c.FPS > 120 {
		return fmt.Errorf("fps %d out of range [1, 120]", c.FPS)
	}

	if (c.Origin.Latitude == nil) != (c.Origin.Longitude == nil) {
		return errors.New("origin latitude and longitude must be set together")
	}
	if c.Origin.Latitude != nil {
		if *c.Origin.Latitude < -90 || *c.Origin.Latitude > 90 {
			return fmt.Errorf("origin latitude %v out of range", *c.Origin.Latitude)
		}
		if *c.Origin.Longitude < -180 || *c.Origin.Longitude > 180 {
			return fmt.Errorf("origin longitude %v out of range", *c.Origin.Longitude)
		}
	}

	if c.Auth.Enabled && c.Auth.Token == "" {
		return errors.New("ISSWATCH_AUTH_TOKEN is required when auth is enabled")
	}
	return nil
}
