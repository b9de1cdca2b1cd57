// Package logging is the structured logger shared by the cache components.
// Loggers are zap underneath; callers only see Logger and Field.
package logging

import (
	"context"
	"strings"
	"time"
)

// LogLevel orders messages by severity.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = map[LogLevel]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLevel reads LOG_LEVEL style names. Anything unknown is InfoLevel.
func ParseLevel(s string) LogLevel {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "WARNING" {
		return WarnLevel
	}
	for level, n := range levelNames {
		if n == name {
			return level
		}
	}
	return InfoLevel
}

// Field is one structured key/value attached to a message.
type Field struct {
	Key   string
	Value interface{}
}

func String(key, value string) Field             { return Field{key, value} }
func Strings(key string, values []string) Field  { return Field{key, values} }
func Int(key string, value int) Field            { return Field{key, value} }
func Int64(key string, value int64) Field        { return Field{key, value} }
func Bool(key string, value bool) Field          { return Field{key, value} }
func Duration(key string, d time.Duration) Field { return Field{key, d} }

// Err records err under "error".
func Err(err error) Field { return Field{"error", err} }

// Logger is what every component logs through.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, err error, fields ...Field)
	// WithFields returns a child logger that always carries fields.
	WithFields(fields ...Field) Logger
	// WithContext returns a child logger carrying the request and user ids
	// stored in ctx, or the receiver when there are none.
	WithContext(ctx context.Context) Logger
}

type ctxKey int

const (
	requestIDKey ctxKey = iota
	userIDKey
)

// ContextWithRequestID stores the id emitted as request_id by WithContext.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// ContextWithUserID stores the id emitted as user_id by WithContext.
func ContextWithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

func contextFields(ctx context.Context) []Field {
	var fields []Field
	if id, _ := ctx.Value(requestIDKey).(string); id != "" {
		fields = append(fields, String("request_id", id))
	}
	if id, _ := ctx.Value(userIDKey).(string); id != "" {
		fields = append(fields, String("user_id", id))
	}
	return fields
}
