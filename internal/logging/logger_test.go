package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { SetLevel("info") })

	cases := []struct {
		in       string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, c := range cases {
		SetLevel(c.in)
		assert.Equal(t, c.expected, level.Level(), "SetLevel(%q)", c.in)
	}
}

func TestNopLoggerIsSilent(t *testing.T) {
	l := Nop().With("job", "j-1")
	l.Info("page done", "page", 1)
	l.Warn("render failed", "page", 2)
	l.Error("load failed")
	l.Debug("fragment skipped")
	assert.NotNil(t, l.Sugar())
}
