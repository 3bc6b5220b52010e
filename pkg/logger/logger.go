// Package logger builds the JSON slog loggers used by every switchwatch
// binary, optionally teeing records into an hourly rotated log file.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

// Config holds the configuration for the logger.
type Config struct {
	// Output is the writer to send logs to (defaults to os.Stdout).
	Output io.Writer
	// File, when set, also writes every record to a rotated file.
	File *FileConfig
	// Level is the minimum log level to output.
	Level slog.Level
	// AddSource adds source code position to log records.
	AddSource bool
}

// FileConfig describes rotated file output.
type FileConfig struct {
	// Path is the stable name of the current log file. Rotated files are
	// written next to it with a timestamp prefix and Path becomes a symlink
	// to the newest one.
	Path string
	// RotationTime defaults to one hour.
	RotationTime time.Duration
	// MaxAge defaults to seven days.
	MaxAge time.Duration
}

const (
	defaultRotationTime = time.Hour
	defaultMaxAge       = 7 * 24 * time.Hour
)

// DefaultConfig returns a Config writing info records to stdout.
func DefaultConfig() *Config {
	return &Config{
		Level:  slog.LevelInfo,
		Output: os.Stdout,
	}
}

// New creates a JSON logger writing to cfg.Output only. File output is
// ignored; use Open for that.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	return newJSON(out, cfg)
}

// Open creates a JSON logger and, when cfg.File is set, the rotated file
// writer behind it. The returned closer releases the file and is never nil.
func Open(cfg *Config) (*slog.Logger, io.Closer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.File == nil {
		return newJSON(out, cfg), nopCloser{}, nil
	}

	rl, err := newRotator(cfg.File)
	if err != nil {
		return nil, nil, err
	}
	return newJSON(io.MultiWriter(out, rl), cfg), rl, nil
}

func newRotator(fc *FileConfig) (*rotatelogs.RotateLogs, error) {
	if fc.Path == "" {
		return nil, errors.New("log file path cannot be empty")
	}
	rotation := fc.RotationTime
	if rotation <= 0 {
		rotation = defaultRotationTime
	}
	maxAge := fc.MaxAge
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}

	dir, base := filepath.Split(fc.Path)
	if err := os.MkdirAll(filepath.Clean(dir+"."), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// strftime pattern; a literal % in the file name must be doubled.
	pattern := filepath.Join(dir, "%Y-%m-%d-%H-"+strings.ReplaceAll(base, "%", "%%"))
	rl, err := rotatelogs.New(pattern,
		rotatelogs.WithLinkName(fc.Path),
		rotatelogs.WithRotationTime(rotation),
		rotatelogs.WithMaxAge(maxAge),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open rotated log file: %w", err)
	}
	return rl, nil
}

func newJSON(out io.Writer, cfg *Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewDefault creates a new JSON logger with default configuration.
func NewDefault() *slog.Logger {
	return New(DefaultConfig())
}

// NewWithLevel creates a new JSON logger with the specified log level.
func NewWithLevel(level slog.Level) *slog.Logger {
	cfg := DefaultConfig()
	cfg.Level = level
	return New(cfg)
}

// ParseLevel maps debug, info, warn(ing) and error to a slog.Level,
// case-insensitively. Anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ForAsset scopes a logger to one switch machine.
func ForAsset(l *slog.Logger, assetID string, attrs ...slog.Attr) *slog.Logger {
	args := make([]any, 0, len(attrs)+1)
	args = append(args, slog.String("asset_id", assetID))
	for _, a := range attrs {
		args = append(args, a)
	}
	return l.With(args...)
}
