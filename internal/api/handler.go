package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mapus/apubot/internal/config"
	"github.com/mapus/apubot/internal/observability"
	"github.com/mapus/apubot/internal/pipeline"
)

const onlineMessage = "Bot de WhatsApp APUs activo 🚀"

type ReadinessCheck func(ctx context.Context) error

type MessageHandler interface {
	Handle(ctx context.Context, msg pipeline.Inbound) pipeline.Outcome
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	DependencyTimeout time.Duration
	Pipeline          MessageHandler
	WebhookMiddleware func(http.Handler) http.Handler
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "online", "message": onlineMessage})
	})

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		handleHealth(deps, w, r)
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	var webhook http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleWebhook(deps, w, r)
	})
	if cfg.Twilio.ValidateSignature {
		if deps.WebhookMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("signature validation required but webhook middleware missing")
			}
			webhook = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "SIGNATURE_MIDDLEWARE_MISSING", "webhook signature middleware is required by configuration", false, nil)
			})
		} else {
			webhook = deps.WebhookMiddleware(webhook)
		}
	}
	mux.Handle("POST /whatsapp_webhook", webhook)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// handleHealth always answers 200 and reports the store state in the body.
func handleHealth(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Readiness == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "database": "connected"})
		return
	}
	timeout := deps.DependencyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	if err := deps.Readiness(ctx); err != nil {
		if deps.Logger != nil {
			deps.Logger.ErrorContext(r.Context(), "health check failed",
				slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
				slog.Any("error", err),
			)
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "error", "database": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "database": "connected"})
}

func handleWebhook(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "PIPELINE_UNAVAILABLE", "message pipeline is not configured", true, nil)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_FORM", err.Error(), false, nil)
		return
	}
	from := strings.TrimSpace(r.PostFormValue("From"))
	if from == "" {
		if deps.Logger != nil {
			deps.Logger.WarnContext(r.Context(), "webhook without sender identity",
				slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
			)
		}
		writeText(w, http.StatusOK, pipeline.StatusUnauthorized)
		return
	}

	// Runs to completion even if the client disconnects.
	outcome := deps.Pipeline.Handle(context.WithoutCancel(r.Context()), pipeline.Inbound{
		From: from,
		Body: r.PostFormValue("Body"),
	})
	writeText(w, http.StatusOK, outcome.Status)
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
