package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/mapus/apubot/internal/config"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// NewLogger tags every record with the service, profile and the AI backend in use.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	opts := &slog.HandlerOptions{Level: cfg.Observability.LogLevel}
	var handler slog.Handler = slog.NewTextHandler(writer, opts)
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, opts)
	}

	attrs := []any{
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	}
	if cfg.AI.Provider != "" {
		attrs = append(attrs, slog.Group("ai",
			slog.String("provider", cfg.AI.Provider),
			slog.String("model", cfg.AI.Model),
		))
	}
	return slog.New(handler).With(attrs...)
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(traceIDKey).(string)
	if !ok {
		return ""
	}
	return value
}
