package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mapus/apubot/internal/observability"
)

const SignatureHeader = "X-Twilio-Signature"

// Middleware rejects requests whose signature does not match publicURL plus
// the posted form fields.
func Middleware(logger *slog.Logger, validator SignatureValidator, publicURL string) func(http.Handler) http.Handler {
	publicURL = strings.TrimSpace(publicURL)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseForm(); err != nil {
				writeForbidden(w, r, "invalid form body")
				return
			}
			signature := strings.TrimSpace(r.Header.Get(SignatureHeader))
			if signature == "" {
				writeForbidden(w, r, "missing webhook signature")
				return
			}
			if !validator.Validate(publicURL, flattenForm(r.PostForm), signature) {
				if logger != nil {
					logger.WarnContext(r.Context(), "webhook signature rejected",
						slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
						slog.String("path", r.URL.Path),
					)
				}
				writeForbidden(w, r, "invalid webhook signature")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeForbidden(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error_code": "INVALID_SIGNATURE",
		"message":    message,
		"retryable":  false,
		"trace_id":   observability.TraceIDFromContext(r.Context()),
	})
}
