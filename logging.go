package sparkle

import "github.com/ShiRenzhi/sparkle/pkg/link"

// Logger defines the logging interface for Sparkle. It is designed to
// be compatible with standard logging libraries such as slog, zap, and
// zerolog, and is re-exported from pkg/link where the canonical
// definition lives.
//
// Implementations must be safe for concurrent use.
type Logger = link.Logger

// NopLogger is a no-op logger implementation that discards all log
// messages. It is the default logger when no logger is configured.
type NopLogger = link.NopLogger
