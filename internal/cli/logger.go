package cli

import (
	"log/slog"
	"os"

	"github.com/ShiRenzhi/sparkle"
)

// slogLogger adapts log/slog to the sparkle.Logger interface.
type slogLogger struct {
	l *slog.Logger
}

var _ sparkle.Logger = slogLogger{}

// newLogger builds the daemon logger at the requested verbosity.
func newLogger(verbose bool) slogLogger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slogLogger{l: slog.New(h)}
}

func (s slogLogger) Debug(msg string, keysAndValues ...any) {
	s.l.Debug(msg, keysAndValues...)
}

func (s slogLogger) Info(msg string, keysAndValues ...any) {
	s.l.Info(msg, keysAndValues...)
}

func (s slogLogger) Warn(msg string, keysAndValues ...any) {
	s.l.Warn(msg, keysAndValues...)
}

func (s slogLogger) Error(msg string, keysAndValues ...any) {
	s.l.Error(msg, keysAndValues...)
}
