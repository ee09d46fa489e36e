package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a thin field-map facade over zerolog shared by every package.
type Logger struct {
	zlog zerolog.Logger
}

// Fields are structured key/value pairs attached to a single entry.
type Fields = map[string]interface{}

// New builds the process logger. Development gets colored console output
// at debug level; any other env gets JSON lines at info level. A non-empty
// level overrides the env default.
func New(env, level string) (*Logger, error) {
	var out io.Writer = os.Stdout
	if env == "development" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	l := NewWithWriter(env, out)
	if level == "" {
		return l, nil
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("unknown log level %q: %w", level, err)
	}
	l.zlog = l.zlog.Level(lvl)
	return l, nil
}

// NewWithWriter writes JSON (or whatever w renders) at the env's default level.
func NewWithWriter(env string, w io.Writer) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl := zerolog.InfoLevel
	if env == "development" {
		lvl = zerolog.DebugLevel
	}
	return &Logger{
		zlog: zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "verrify").Logger(),
	}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

func emit(e *zerolog.Event, msg string, fields Fields) {
	if e == nil {
		return
	}
	e.Fields(fields).Msg(msg)
}

func (l *Logger) Debug(msg string, fields Fields) { emit(l.zlog.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields Fields)  { emit(l.zlog.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields Fields)  { emit(l.zlog.Warn(), msg, fields) }

// Error logs msg at error level with err under the "error" key.
func (l *Logger) Error(msg string, err error, fields Fields) {
	emit(l.zlog.Error().Err(err), msg, fields)
}

// With returns a child logger carrying fields on every entry.
func (l *Logger) With(fields Fields) *Logger {
	return &Logger{zlog: l.zlog.With().Fields(fields).Logger()}
}

// WithRequestID tags entries with the inbound request id.
func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.With(Fields{"request_id": requestID})
}

// WithComponent tags entries with the emitting component, e.g. "payments".
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(Fields{"component": name})
}
