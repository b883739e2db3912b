package dropify

import "github.com/rs/zerolog"

// Logger is a minimal logging interface accepted by the SDK.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// noopLogger discards all logs.
type noopLogger struct{}

func (noopLogger) Debug(string, map[string]any) {}
func (noopLogger) Info(string, map[string]any)  {}
func (noopLogger) Warn(string, map[string]any)  {}
func (noopLogger) Error(string, map[string]any) {}

// zerologLogger adapts a zerolog.Logger.
type zerologLogger struct {
	zl zerolog.Logger
}

// NewZerologLogger returns a Logger writing structured events to zl.
func NewZerologLogger(zl zerolog.Logger) Logger {
	return zerologLogger{zl: zl}
}

func (l zerologLogger) Debug(msg string, fields map[string]any) { l.zl.Debug().Fields(fields).Msg(msg) }
func (l zerologLogger) Info(msg string, fields map[string]any)  { l.zl.Info().Fields(fields).Msg(msg) }
func (l zerologLogger) Warn(msg string, fields map[string]any)  { l.zl.Warn().Fields(fields).Msg(msg) }
func (l zerologLogger) Error(msg string, fields map[string]any) { l.zl.Error().Fields(fields).Msg(msg) }
