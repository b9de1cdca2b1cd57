package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
)

var global struct {
	sync.RWMutex
	logger Logger
}

// GetGlobalLogger returns the process logger, creating one from LOG_LEVEL on
// first use.
func GetGlobalLogger() Logger {
	global.RLock()
	l := global.logger
	global.RUnlock()
	if l != nil {
		return l
	}

	global.Lock()
	defer global.Unlock()
	if global.logger == nil {
		global.logger = New(ParseLevel(os.Getenv("LOG_LEVEL")), nil)
	}
	return global.logger
}

func SetGlobalLogger(logger Logger) {
	global.Lock()
	global.logger = logger
	global.Unlock()
}

// Setup installs the process logger. Entries go to logFile when set, stdout
// otherwise. The returned closer releases the file.
func Setup(level, logFile string) (func() error, error) {
	closer := func() error { return nil }

	var out io.Writer
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return closer, fmt.Errorf("open log file %s: %w", logFile, err)
		}
		out, closer = f, f.Close
	}

	lvl := ParseLevel(level)
	logger := New(lvl, out)
	SetGlobalLogger(logger)

	logger.Info("Logger initialized",
		String("level", lvl.String()),
		String("log_file", logFile),
	)
	return closer, nil
}

// Flush writes out anything the process logger buffered.
func Flush() {
	if s, ok := GetGlobalLogger().(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
}

// Component scopes logger to a named component. A nil logger means the
// process logger.
func Component(logger Logger, name string) Logger {
	if logger == nil {
		logger = GetGlobalLogger()
	}
	return logger.WithFields(String("component", name))
}

func Info(msg string, fields ...Field) { GetGlobalLogger().Info(msg, fields...) }
func Warn(msg string, fields ...Field) { GetGlobalLogger().Warn(msg, fields...) }

func Error(msg string, err error, fields ...Field) {
	GetGlobalLogger().Error(msg, err, fields...)
}
