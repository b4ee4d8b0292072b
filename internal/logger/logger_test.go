package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q): expected %v, got %v", in, want, got)
		}
	}
}

func TestNewAndWith(t *testing.T) {
	l, err := New("development", "debug")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	child := l.With("component", "test")
	if child == l || child.SugaredLogger == nil {
		t.Fatalf("With should return a new logger")
	}
	child.Debug("hello", "k", "v")
}
