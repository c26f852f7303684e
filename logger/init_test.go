package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLevelFromEnv(t *testing.T) {
	tests := []struct {
		name          string
		envValue      string
		expectedLevel LogLevel
	}{
		{name: "trace level", envValue: "trace", expectedLevel: LevelTrace},
		{name: "debug level", envValue: "debug", expectedLevel: LevelDebug},
		{name: "info level", envValue: "info", expectedLevel: LevelInfo},
		{name: "warn level", envValue: "warn", expectedLevel: LevelWarn},
		{name: "warning alias", envValue: "warning", expectedLevel: LevelWarn},
		{name: "error level", envValue: "error", expectedLevel: LevelError},
		{name: "silenced", envValue: "off", expectedLevel: LevelNone},
		{name: "uppercase trace", envValue: "TRACE", expectedLevel: LevelTrace},
		{name: "mixed case debug", envValue: "DeBuG", expectedLevel: LevelDebug},
		{name: "empty string", envValue: "", expectedLevel: LevelInfo},
		{name: "invalid value", envValue: "invalid", expectedLevel: LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvLogLevel, tt.envValue)
			assert.Equal(t, tt.expectedLevel, GetLevelFromEnv())
		})
	}
}

func TestParseLevelUnknown(t *testing.T) {
	level, ok := ParseLevel("chatty")
	assert.False(t, ok)
	assert.Equal(t, LevelInfo, level)
}

func TestLogLevelString(t *testing.T) {
	for _, level := range []LogLevel{LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError} {
		parsed, ok := ParseLevel(level.String())
		assert.True(t, ok)
		assert.Equal(t, level, parsed)
	}
	assert.Equal(t, "none", LevelNone.String())
}

func TestLogLevelConstants(t *testing.T) {
	assert.Equal(t, LogLevel(0), LevelTrace)
	assert.Equal(t, LogLevel(1), LevelDebug)
	assert.Equal(t, LogLevel(2), LevelInfo)
	assert.Equal(t, LogLevel(3), LevelWarn)
	assert.Equal(t, LogLevel(4), LevelError)
	assert.Equal(t, LogLevel(5), LevelNone)
}
