package log

import (
	"bytes"
	"strings"
	"testing"

	"firestige.xyz/vanilla/internal/config"
)

func TestLogrusAdapterLevels(t *testing.T) {
	a := newLogrusAdapter(config.LogConfig{Level: "debug", Format: "text", Pattern: defaultPattern})
	if !a.IsDebugEnabled() {
		t.Error("expected debug enabled")
	}
	if a.entry.Logger.Level.String() != "debug" {
		t.Errorf("level = %s, want debug", a.entry.Logger.Level)
	}
}

func TestLogrusAdapterDefaultLevel(t *testing.T) {
	a := newLogrusAdapter(config.LogConfig{Level: "bogus", Format: "text"})
	if a.entry.Logger.Level.String() != "info" {
		t.Errorf("level = %s, want info fallback", a.entry.Logger.Level)
	}
}

func TestFormatterPattern(t *testing.T) {
	a := newLogrusAdapter(config.LogConfig{Level: "info", Format: "text", Pattern: "%level: %msg"})
	var buf bytes.Buffer
	a.entry.Logger.SetOutput(&buf)
	a.entry.Logger.Out = &buf
	a.Info("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("output = %q, want it to contain 'hello'", buf.String())
	}
}

func TestWithFieldChaining(t *testing.T) {
	a := newLogrusAdapter(config.LogConfig{Level: "info", Format: "text"})
	l2 := a.WithField("k", "v")
	if l2 == Logger(a) {
		t.Error("WithField should return a distinct Logger")
	}
}
