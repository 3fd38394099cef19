// Package logging builds the zap logger shared by every gtalk component.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gtalk/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel maps a config level name onto a zap level. Empty means warn.
func ParseLevel(name string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "warn", "warning":
		return zapcore.WarnLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.WarnLevel, fmt.Errorf("unknown log level %q", name)
}

// New returns a console-encoded logger writing to cfg.File, or stderr when no file is set.
// Terminal output belongs to the renderer; logs stay quiet at the default warn level.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	out := "stderr"
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		out = cfg.File
	}

	zc := zap.NewDevelopmentConfig()
	zc.Development = false
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	zc.OutputPaths = []string{out}
	zc.ErrorOutputPaths = []string{"stderr"}
	zc.DisableStacktrace = true

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
