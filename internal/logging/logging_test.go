package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gtalk/internal/config"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.WarnLevel, false},
		{"DEBUG", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{" warn ", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", zapcore.WarnLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "gtalk.log")

	logger, err := New(config.LogConfig{Level: "info", File: path})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Info("browser ready")
	logger.Debug("hidden at info level")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "browser ready") {
		t.Errorf("expected info line in log file, got %q", string(data))
	}
	if strings.Contains(string(data), "hidden at info level") {
		t.Errorf("debug line should be filtered at info level, got %q", string(data))
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(config.LogConfig{Level: "verbose"}); err == nil {
		t.Error("expected error for unknown level")
	}
}
