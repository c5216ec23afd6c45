package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level defines log levels.
type Level int8

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
	PanicLevel
	NoLevel
	Disabled
	TraceLevel Level = -1
)

func (l Level) String() string { return zerolog.Level(l).String() }

// Common field names used by the broker log lines.
const (
	ChannelField   = "ch"
	ConnField      = "cid"
	DirectionField = "d"
	SessionField   = "session"
	RoleField      = "role"
)

var pid = os.Getpid()

type Logger struct {
	logger *zerolog.Logger
}

func New(isDebug bool) *Logger {
	zerolog.SetGlobalLevel(level(isDebug))
	logger := zerolog.New(os.Stderr).With().Timestamp().Int("pid", pid).Logger()
	return &Logger{logger: &logger}
}

// NewConsole makes a human-friendly logger with the tag printed
// in front of every line.
func NewConsole(isDebug bool, tag string, noColor bool) *Logger {
	zerolog.SetGlobalLevel(level(isDebug))
	zerolog.TimeFieldFormat = time.RFC3339Nano
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.0000", NoColor: noColor,
		PartsOrder: []string{
			zerolog.TimestampFieldName,
			"pid",
			zerolog.LevelFieldName,
			"s",
			ChannelField,
			DirectionField,
			ConnField,
			zerolog.MessageFieldName,
		},
		FieldsExclude: []string{"s", ChannelField, DirectionField, ConnField, "pid"},
	}
	if output.NoColor {
		output.FormatMessage = func(i any) string {
			if i == nil {
				return ""
			}
			return fmt.Sprintf("%v", i)
		}
	}
	logger := zerolog.New(output).With().
		Str("pid", fmt.Sprintf("%4x", pid)).
		Str("s", tag).
		Str(ChannelField, "").
		Str(DirectionField, " ").
		Str(ConnField, " ").
		Timestamp().Logger()
	return &Logger{logger: &logger}
}

// NewWriter is a plain JSON logger writing into w, handy in tests.
func NewWriter(w io.Writer) *Logger {
	logger := zerolog.New(w).With().Timestamp().Logger()
	return &Logger{logger: &logger}
}

func Default() *Logger { return &Logger{logger: &log.Logger} }

// Nop drops everything.
func Nop() *Logger { l := zerolog.Nop(); return &Logger{logger: &l} }

func level(isDebug bool) zerolog.Level {
	if isDebug {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

// GetLevel returns the current Level of l.
func (l *Logger) GetLevel() Level { return Level(l.logger.GetLevel()) }

// With creates a child logger with the field added to its context.
func (l *Logger) With() zerolog.Context { return l.logger.With() }

// Extend adds some additional context to the existing logger.
func (l *Logger) Extend(ctx zerolog.Context) *Logger {
	logger := ctx.Logger()
	return &Logger{logger: &logger}
}

// WithContext stores the logger in ctx.
func (l *Logger) WithContext(ctx context.Context) context.Context { return l.logger.WithContext(ctx) }

// Debug starts a new message with debug level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Debug() *zerolog.Event { return l.logger.Debug() }

// Info starts a new message with info level.
func (l *Logger) Info() *zerolog.Event { return l.logger.Info() }

// Warn starts a new message with warn level.
func (l *Logger) Warn() *zerolog.Event { return l.logger.Warn() }

// Error starts a new message with error level.
func (l *Logger) Error() *zerolog.Event { return l.logger.Error() }

// Fatal starts a new message with fatal level. The os.Exit(1) function
// is called by the Msg method.
func (l *Logger) Fatal() *zerolog.Event { return l.logger.Fatal() }

// Printf sends a log event using debug level and no extra field.
func (l *Logger) Printf(format string, v ...any) { l.logger.Printf(format, v...) }
