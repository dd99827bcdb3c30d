// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the process.
var GlobalLogger *Logger

func init() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	GlobalLogger = &Logger{Logger: slog.New(handler)}
}

// Configure replaces GlobalLogger with one writing to w at the given level and format.
func Configure(w io.Writer, level, format string) *Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	GlobalLogger = &Logger{Logger: slog.New(handler)}
	return GlobalLogger
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogContextKey is a type for context keys used by the logging package.
type LogContextKey string

// CorrelationID is the context key for the correlation id.
const CorrelationID LogContextKey = "correlation_id"

// LoggingConfig defines which types of automated logging are enabled.
type LoggingConfig struct {
	EnableGatewayLogging bool
	EnableChannelLogging bool
	EnableStoreLogging   bool
}

// Config holds the current logging configuration.
var Config = LoggingConfig{
	EnableGatewayLogging: true,
	EnableChannelLogging: true,
	EnableStoreLogging:   true,
}

// GenerateCorrelationID creates a new unique correlation ID.
func GenerateCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationID returns a new context with the given correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationID, id)
}

// EnsureCorrelationID returns ctx with a correlation ID, generating one if absent.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := ExtractCorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := GenerateCorrelationID()
	return WithCorrelationID(ctx, id), id
}

// ExtractCorrelationID retrieves the correlation ID from the context.
func ExtractCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationID).(string); ok {
		return id
	}
	return ""
}

// GatewayLogger provides structured logging for outbound API requests.
type GatewayLogger struct {
	logger *Logger
}

// NewGatewayLogger creates a GatewayLogger bound to GlobalLogger.
func NewGatewayLogger() *GatewayLogger {
	return &GatewayLogger{logger: GlobalLogger}
}

// LogResponse logs a completed request.
func (l *GatewayLogger) LogResponse(ctx context.Context, method, path string, status int, durationMS int64) {
	if !Config.EnableGatewayLogging {
		return
	}
	l.logger.DebugContext(ctx, "api response",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Int64("duration_ms", durationMS),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogError logs a failed request.
func (l *GatewayLogger) LogError(ctx context.Context, method, path string, status int, err error) {
	if !Config.EnableGatewayLogging {
		return
	}
	l.logger.WarnContext(ctx, "api request failed",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogUnauthorized logs a credential rejection that triggers a global logout.
func (l *GatewayLogger) LogUnauthorized(ctx context.Context, method, path string) {
	if !Config.EnableGatewayLogging {
		return
	}
	l.logger.WarnContext(ctx, "credential rejected, logging out",
		slog.String("method", method),
		slog.String("path", path),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// ChannelLogger provides structured logging for the live update channel.
type ChannelLogger struct {
	channel string
	logger  *Logger
}

// NewChannelLogger creates a ChannelLogger for the named channel.
func NewChannelLogger(channel string) *ChannelLogger {
	return &ChannelLogger{channel: channel, logger: GlobalLogger}
}

// LogConnect logs an established connection.
func (l *ChannelLogger) LogConnect(ctx context.Context, endpoint string) {
	if !Config.EnableChannelLogging {
		return
	}
	l.logger.InfoContext(ctx, "live channel connected",
		slog.String("channel", l.channel),
		slog.String("endpoint", endpoint),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogDisconnect logs a closed connection.
func (l *ChannelLogger) LogDisconnect(ctx context.Context, reason string) {
	if !Config.EnableChannelLogging {
		return
	}
	l.logger.InfoContext(ctx, "live channel disconnected",
		slog.String("channel", l.channel),
		slog.String("reason", reason),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogFrame logs a dispatched frame.
func (l *ChannelLogger) LogFrame(ctx context.Context, eventType string) {
	if !Config.EnableChannelLogging {
		return
	}
	l.logger.DebugContext(ctx, "live frame dispatched",
		slog.String("channel", l.channel),
		slog.String("event_type", eventType),
	)
}

// LogDropped logs a discarded frame.
func (l *ChannelLogger) LogDropped(ctx context.Context, reason string, err error) {
	if !Config.EnableChannelLogging {
		return
	}
	attrs := []any{
		slog.String("channel", l.channel),
		slog.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.logger.WarnContext(ctx, "live frame dropped", attrs...)
}

// LogError logs a transport error.
func (l *ChannelLogger) LogError(ctx context.Context, err error, operation string) {
	if !Config.EnableChannelLogging {
		return
	}
	l.logger.ErrorContext(ctx, "live channel error",
		slog.String("channel", l.channel),
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// LogLifecycle logs a state transition or other lifecycle event.
func (l *ChannelLogger) LogLifecycle(ctx context.Context, event string, fields map[string]interface{}) {
	if !Config.EnableChannelLogging {
		return
	}
	attrs := []any{
		slog.String("channel", l.channel),
		slog.String("event", event),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.DebugContext(ctx, "live channel lifecycle", attrs...)
}

// StoreLogger provides structured logging for state container actions.
type StoreLogger struct {
	container string
	logger    *Logger
}

// NewStoreLogger creates a StoreLogger for the named container.
func NewStoreLogger(container string) *StoreLogger {
	return &StoreLogger{container: container, logger: GlobalLogger}
}

// LogAction logs a completed container action.
func (l *StoreLogger) LogAction(ctx context.Context, action string, fields map[string]interface{}) {
	if !Config.EnableStoreLogging {
		return
	}
	attrs := []any{
		slog.String("container", l.container),
		slog.String("action", action),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.DebugContext(ctx, "container action", attrs...)
}

// LogError logs a failed container action.
func (l *StoreLogger) LogError(ctx context.Context, err error, action string) {
	if !Config.EnableStoreLogging {
		return
	}
	l.logger.WarnContext(ctx, "container action failed",
		slog.String("container", l.container),
		slog.String("action", action),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogStale logs a server response discarded because newer local state exists.
func (l *StoreLogger) LogStale(ctx context.Context, action string, id any) {
	if !Config.EnableStoreLogging {
		return
	}
	l.logger.DebugContext(ctx, "stale response discarded",
		slog.String("container", l.container),
		slog.String("action", action),
		slog.Any("id", id),
	)
}
