// Package logging builds the process logger: slog, JSON by default, to
// stderr or to a size-rotated file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the log level, format and destination.
type Config struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
	File   string `yaml:"file"`   // empty means stderr

	MaxSizeMB  int `yaml:"max_size_mb"`
	MaxBackups int `yaml:"max_backups"`
	MaxAgeDays int `yaml:"max_age_days"`
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New creates the logger described by cfg. The returned closer releases the
// log file, if any.
func New(cfg Config, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		w      io.Writer = stderr
		closer io.Closer = nopCloser{}
	)
	if cfg.File != "" {
		if dir := filepath.Dir(cfg.File); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create log dir: %w", err)
			}
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		if lj.MaxSize == 0 {
			lj.MaxSize = 32 // MB
		}
		if lj.MaxBackups == 0 {
			lj.MaxBackups = 3
		}
		w, closer = lj, lj
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		h = slog.NewJSONHandler(w, opts)
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	return slog.New(h), closer, nil
}

// ParseLevel maps a level name to a slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// LogBuildInfo records the platform and module versions at startup.
func LogBuildInfo(logger *slog.Logger) {
	logger.Info("system information",
		"goarch", runtime.GOARCH,
		"goos", runtime.GOOS,
		"num_cpu", runtime.NumCPU(),
	)
	if bi, ok := debug.ReadBuildInfo(); ok {
		logger.Info("build",
			"go_version", bi.GoVersion,
			"path", bi.Path,
			"version", bi.Main.Version,
		)
	}
}
