package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(Config{Level: "warn"}, &buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	log.Info("hidden")
	log.Warn("shown", zap.String("pack", "core"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("output = %q, want info line filtered", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "core") {
		t.Errorf("output = %q, want warn line with field", out)
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(Config{Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	log.Info("hello")
	if !strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("output = %q, want a JSON object", buf.String())
	}
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actionrunner.log")
	var buf bytes.Buffer
	log, err := newLogger(Config{Output: "file", File: path, MaxSize: 1}, &buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	log.Info("to file")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("log file = %q, want the message", data)
	}
	if buf.Len() != 0 {
		t.Errorf("stderr = %q, want nothing for file output", buf.String())
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	for _, cfg := range []Config{
		{Level: "loud"},
		{Format: "xml"},
		{Output: "syslog"},
		{Output: "file"},
	} {
		if _, err := newLogger(cfg, &bytes.Buffer{}); err == nil {
			t.Errorf("newLogger(%+v) succeeded, want error", cfg)
		}
	}
}

func TestNewAction(t *testing.T) {
	var buf bytes.Buffer
	log := NewAction(&buf, zapcore.ErrorLevel)
	log.Info("noise")
	log.Error("boom")

	out := buf.String()
	if strings.Contains(out, "noise") {
		t.Errorf("output = %q, want info filtered at error level", out)
	}
	if !strings.HasPrefix(out, "ERROR\tboom") {
		t.Errorf("output = %q, want %q prefix", out, "ERROR\tboom")
	}
}
