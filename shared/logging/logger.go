package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with the printf-style API the services use
type Logger struct {
	serviceName string
	z           zerolog.Logger
}

// New creates a new logger for a service.
// LOG_LEVEL picks the minimum level, LOG_FORMAT=console switches to human readable output.
func New(serviceName string) *Logger {
	var out io.Writer = os.Stderr
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "console") {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"}
	}
	return NewWithWriter(serviceName, out, ParseLevel(os.Getenv("LOG_LEVEL")))
}

// NewWithWriter creates a logger writing JSON lines to w
func NewWithWriter(serviceName string, w io.Writer, level zerolog.Level) *Logger {
	z := zerolog.New(w).Level(level).With().
		Timestamp().
		Str("service", serviceName).
		Logger()
	return &Logger{serviceName: serviceName, z: z}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{serviceName: "nop", z: zerolog.Nop()}
}

// ParseLevel maps a level name to a zerolog level, defaulting to info
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// With returns a child logger that tags every entry with key=value
func (l *Logger) With(key, value string) *Logger {
	return &Logger{
		serviceName: l.serviceName,
		z:           l.z.With().Str(key, value).Logger(),
	}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.z.Debug().Msgf(msg, args...)
}

// Info logs an informational message
func (l *Logger) Info(msg string, args ...interface{}) {
	l.z.Info().Msgf(msg, args...)
}

// Warn logs a warning
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.z.Warn().Msgf(msg, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...interface{}) {
	l.z.Error().Msgf(msg, args...)
}

// Fatal logs a fatal error and exits
func (l *Logger) Fatal(err error) {
	l.z.WithLevel(zerolog.FatalLevel).Err(err).Msg("fatal")
	os.Exit(1)
}
