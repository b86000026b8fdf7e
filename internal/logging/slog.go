package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// Replaced in tests.
var (
	osStdout = os.Stdout
	osPipe   = os.Pipe
)

// Sinks are the optional outputs next to the console/file handler.
type Sinks struct {
	// Provider enables the OTel bridge.
	Provider *sdklog.LoggerProvider
	// GELF receives JSON records for Graylog.
	GELF io.Writer
	// Case stamps every record with the open project and run state.
	Case CaseState
}

// SlogManager manages slog-based logging with optional OTel integration.
type SlogManager struct {
	logger *slog.Logger

	// OTel provider for flushing
	logProvider *sdklog.LoggerProvider
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
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

// Setup initializes the logging system. Records go to file, or to stdout
// when file is nil, plus every sink that is set.
func (m *SlogManager) Setup(file io.Writer, level string, sinks Sinks) {
	lvl := parseLevel(level)
	m.logProvider = sinks.Provider

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

	if sinks.GELF != nil {
		handlers = append(handlers, slog.NewJSONHandler(sinks.GELF, handlerOpts))
	}

	if sinks.Provider != nil {
		otelHandler := otelslog.NewHandler("dsphcase", otelslog.WithLoggerProvider(sinks.Provider))
		handlers = append(handlers, otelHandler)
	}

	var h slog.Handler = NewFanout(handlers...)
	if sinks.Case != nil {
		h = NewCaseHandler(h, sinks.Case)
	}

	m.logger = slog.New(h)
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

// Flush forces a flush of OTel logs if available.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}
