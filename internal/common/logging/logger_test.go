package logging

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T, level LogLevel) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return New(level, &buf), &buf
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLevel("warning"))
	assert.Equal(t, ErrorLevel, ParseLevel(" ERROR "))
	assert.Equal(t, InfoLevel, ParseLevel("nonsense"))
	assert.Equal(t, InfoLevel, ParseLevel(""))
}

func TestLogger_LogLevels(t *testing.T) {
	logger, buf := newBufferLogger(t, DebugLevel)

	tests := []struct {
		name     string
		logFunc  func()
		contains []string
	}{
		{
			name:     "debug log",
			logFunc:  func() { logger.Debug("cache miss", Field{"key", "user:42:stats"}) },
			contains: []string{"DEBUG", "cache miss", "user:42:stats"},
		},
		{
			name:     "info log",
			logFunc:  func() { logger.Info("purged keys", Field{"count", 42}) },
			contains: []string{"INFO", "purged keys", "42"},
		},
		{
			name:     "warn log",
			logFunc:  func() { logger.Warn("store unavailable", Field{"fail_open", true}) },
			contains: []string{"WARN", "store unavailable", "true"},
		},
		{
			name:     "error log",
			logFunc:  func() { logger.Error("pattern purge failed", errors.New("connection refused")) },
			contains: []string{"ERROR", "pattern purge failed", "connection refused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.logFunc()
			for _, s := range tt.contains {
				assert.Contains(t, buf.String(), s)
			}
		})
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(t, WarnLevel)

	logger.Debug("hidden debug")
	logger.Info("hidden info")
	logger.Warn("visible warn")

	output := buf.String()
	assert.NotContains(t, output, "hidden debug")
	assert.NotContains(t, output, "hidden info")
	assert.Contains(t, output, "visible warn")
}

func TestLogger_WithFields(t *testing.T) {
	logger, buf := newBufferLogger(t, InfoLevel)

	scoped := logger.WithFields(Field{"component", "invalidation"})
	scoped.Info("fan-out complete", Int("targets", 7))

	output := buf.String()
	assert.Contains(t, output, "invalidation")
	assert.Contains(t, output, "7")
	assert.Same(t, logger, logger.WithFields())
}

func TestLogger_WithContext(t *testing.T) {
	logger, buf := newBufferLogger(t, InfoLevel)

	ctx := ContextWithRequestID(context.Background(), "req-123")
	ctx = ContextWithUserID(ctx, "user-42")
	logger.WithContext(ctx).Info("resolved")

	output := buf.String()
	assert.Contains(t, output, "req-123")
	assert.Contains(t, output, "user-42")

	t.Run("missing values returns same logger", func(t *testing.T) {
		assert.Same(t, logger, logger.WithContext(context.Background()))
	})

	t.Run("plain string keys are ignored", func(t *testing.T) {
		buf.Reset()
		//nolint:staticcheck // verifying foreign keys are not picked up
		ctx := context.WithValue(context.Background(), "request_id", "foreign")
		logger.WithContext(ctx).Info("msg")
		assert.NotContains(t, buf.String(), "foreign")
	})
}

func TestComponent(t *testing.T) {
	logger, buf := newBufferLogger(t, InfoLevel)

	Component(logger, "store").Info("ready")
	assert.Contains(t, buf.String(), "store")

	assert.NotNil(t, Component(nil, "store"))
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Info("nothing")
	logger.Error("nothing", errors.New("boom"))
	assert.NotNil(t, logger.WithFields(String("k", "v")))
}

func TestGlobalLogger(t *testing.T) {
	original := GetGlobalLogger()
	defer SetGlobalLogger(original)

	logger, buf := newBufferLogger(t, DebugLevel)
	SetGlobalLogger(logger)

	Info("global info")
	Warn("global warn")
	Error("global error", errors.New("oops"))
	Component(nil, "keys").Info("scoped")

	output := buf.String()
	for _, s := range []string{"global info", "global warn", "global error", "oops", "keys", "scoped"} {
		assert.Contains(t, output, s)
	}
}

func TestGlobalLogger_Concurrency(t *testing.T) {
	original := GetGlobalLogger()
	defer SetGlobalLogger(original)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			SetGlobalLogger(NewNopLogger())
			GetGlobalLogger().Info("concurrent")
		}()
	}
	wg.Wait()
}

func TestSetup_File(t *testing.T) {
	original := GetGlobalLogger()
	defer SetGlobalLogger(original)

	path := filepath.Join(t.TempDir(), "cache.log")
	closer, err := Setup("debug", path)
	require.NoError(t, err)

	Info("written to file")
	Flush()
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
	assert.Contains(t, string(data), "Logger initialized")
}

func TestSetup_BadPath(t *testing.T) {
	original := GetGlobalLogger()
	defer SetGlobalLogger(original)

	_, err := Setup("info", filepath.Join(t.TempDir(), "missing", "dir", "cache.log"))
	assert.Error(t, err)
}
