package common

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig controls the rotating log file written next to console output.
type LogConfig struct {
	Directory  string `yaml:"directory"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
	Level      string `yaml:"level"`
}

// WithDefaults fills zero rotation settings.
func (c LogConfig) WithDefaults() LogConfig {
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = 25
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = 7
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = 5
	}
	if c.Level == "" {
		c.Level = "info"
	}
	return c
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger builds a zerolog logger writing human readable lines to console
// and, when cfg.Directory is set, JSON lines to <Directory>/<name>.log rotated
// by lumberjack. The returned closer releases the log file.
func NewLogger(name string, cfg LogConfig, console io.Writer) (zerolog.Logger, io.Closer, error) {
	cfg = cfg.WithDefaults()
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("log level: %w", err)
	}
	if console == nil {
		console = os.Stderr
	}
	writers := []io.Writer{zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05.000"}}
	var closer io.Closer = nopCloser{}
	if cfg.Directory != "" {
		if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("create log dir: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Directory, name+".log"),
			MaxSize:    cfg.MaxSizeMB,
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: cfg.MaxBackups,
			Compress:   cfg.Compress,
		}
		writers = append(writers, rotator)
		closer = rotator
	}
	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Str("component", name).
		Logger()
	return logger, closer, nil
}
