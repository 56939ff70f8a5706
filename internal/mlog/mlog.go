// Package mlog provides the structured logging used across mcloudd.
package mlog

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the package-level logger. Replaced wholesale by Init.
var Logger zerolog.Logger

func init() {
	Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

// Level is a logging verbosity level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func (l Level) zerolog() zerolog.Level {
	switch Level(strings.ToLower(string(l))) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Config controls Init.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     *os.File
}

// Init installs the package-level Logger according to cfg.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	zerolog.SetGlobalLevel(cfg.Level.zerolog())

	if cfg.JSONOutput {
		Logger = zerolog.New(out).With().Timestamp().Logger()
		return
	}
	Logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

// WithComponent returns a child logger tagged with the given component name.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithTicket returns a child logger tagged with a ticket id.
func WithTicket(l zerolog.Logger, ticketID int64) zerolog.Logger {
	return l.With().Int64("ticket", ticketID).Logger()
}

// WithApp returns a child logger tagged with an application name.
func WithApp(l zerolog.Logger, app string) zerolog.Logger {
	return l.With().Str("app", app).Logger()
}

// WithService returns a child logger tagged with a qualified service name.
func WithService(l zerolog.Logger, service string) zerolog.Logger {
	return l.With().Str("service", service).Logger()
}

// Info logs at info level using the package logger.
func Info(msg string) { Logger.Info().Msg(msg) }

// Debug logs at debug level using the package logger.
func Debug(msg string) { Logger.Debug().Msg(msg) }

// Warn logs at warn level using the package logger.
func Warn(msg string) { Logger.Warn().Msg(msg) }

// Error logs at error level using the package logger.
func Error(err error, msg string) { Logger.Error().Err(err).Msg(msg) }
