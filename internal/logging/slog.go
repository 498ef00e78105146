package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Indirections for testing stdout behavior.
var (
	osStdout = os.Stdout
	osPipe   = os.Pipe
)

// SlogManager manages slog-based logging with optional Graylog output.
type SlogManager struct {
	logger *slog.Logger

	// GELF writer for closing on shutdown
	gelf io.WriteCloser

	// provider supplies dynamic attributes stamped on every record
	provider ContextProvider
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// SetContextProvider installs a provider whose attributes are added to
// every record. Call before Setup.
func (m *SlogManager) SetContextProvider(provider ContextProvider) {
	m.provider = provider
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup initializes the logging system with file and optional GELF output.
// When file is nil, logs go to stdout instead. A nil gelf writer disables
// Graylog output.
func (m *SlogManager) Setup(file io.Writer, level string, gelf io.WriteCloser) {
	lvl := parseLevel(level)
	m.gelf = gelf

	// Common handler options with RFC3339 time formatting
	handlerOpts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	var handlers []slog.Handler

	if file != nil {
		handlers = append(handlers, slog.NewTextHandler(file, handlerOpts))
	} else {
		handlers = append(handlers, slog.NewTextHandler(osStdout, handlerOpts))
	}

	if gelf != nil {
		handlers = append(handlers, slog.NewJSONHandler(gelf, handlerOpts))
	}

	var handler slog.Handler = NewMultiHandler(handlers...)
	if m.provider != nil {
		handler = NewContextHandler(handler, m.provider)
	}

	m.logger = slog.New(handler)
	m.logger.Info("Logging initialized", "level", level)
}

// Logger returns the configured slog.Logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		// Return a default logger if Setup hasn't been called
		return slog.Default()
	}
	return m.logger
}

// Close releases the GELF connection if one was configured.
func (m *SlogManager) Close() error {
	if m.gelf != nil {
		return m.gelf.Close()
	}
	return nil
}
