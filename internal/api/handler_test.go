package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/mapus/apubot/internal/auth"
	"github.com/mapus/apubot/internal/config"
	"github.com/mapus/apubot/internal/observability"
	"github.com/mapus/apubot/internal/pipeline"
)

type recordingPipeline struct {
	inbound []pipeline.Inbound
	outcome pipeline.Outcome
	ctxErr  error
	traceID string
}

func (p *recordingPipeline) Handle(ctx context.Context, msg pipeline.Inbound) pipeline.Outcome {
	p.inbound = append(p.inbound, msg)
	p.ctxErr = ctx.Err()
	p.traceID = observability.TraceIDFromContext(ctx)
	return p.outcome
}

func TestRootEndpoint(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "online" || body["message"] != "Bot de WhatsApp APUs activo 🚀" {
		t.Fatalf("body = %#v", body)
	}
}

func TestUnknownPathIsNotFound(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestHealthEndpointReportsConnected(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{
		Readiness: func(context.Context) error { return nil },
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "ok" || body["database"] != "connected" {
		t.Fatalf("body = %#v", body)
	}
}

func TestHealthEndpointReportsDatabaseError(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{
		Readiness: func(context.Context) error { return errors.New("connect database: connection refused") },
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "error" || body["database"] != "connect database: connection refused" {
		t.Fatalf("body = %#v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestWebhookRunsPipeline(t *testing.T) {
	p := &recordingPipeline{outcome: pipeline.Outcome{Status: pipeline.StatusOK}}
	h := NewHandler(loadConfig(t, nil), Dependencies{Pipeline: p})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, webhookRequest(url.Values{"From": {"whatsapp:+573001"}, "Body": {"¿Cuántos APUs hay?"}}))

	if rr.Code != http.StatusOK || rr.Body.String() != "OK" {
		t.Fatalf("status = %d body = %q", rr.Code, rr.Body.String())
	}
	if len(p.inbound) != 1 || p.inbound[0].From != "whatsapp:+573001" || p.inbound[0].Body != "¿Cuántos APUs hay?" {
		t.Fatalf("inbound = %#v", p.inbound)
	}
}

func TestWebhookReturnsUnauthorizedToken(t *testing.T) {
	p := &recordingPipeline{outcome: pipeline.Outcome{Status: pipeline.StatusUnauthorized}}
	h := NewHandler(loadConfig(t, nil), Dependencies{Pipeline: p})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, webhookRequest(url.Values{"From": {"whatsapp:+1999"}}))
	if rr.Code != http.StatusOK || rr.Body.String() != "UNAUTHORIZED" {
		t.Fatalf("status = %d body = %q", rr.Code, rr.Body.String())
	}
}

func TestWebhookWithoutFromIsUnauthorized(t *testing.T) {
	p := &recordingPipeline{}
	h := NewHandler(loadConfig(t, nil), Dependencies{Pipeline: p})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, webhookRequest(url.Values{"Body": {"hola"}}))
	if rr.Code != http.StatusOK || rr.Body.String() != "UNAUTHORIZED" {
		t.Fatalf("status = %d body = %q", rr.Code, rr.Body.String())
	}
	if len(p.inbound) != 0 {
		t.Fatal("pipeline must not run without From")
	}
}

func TestWebhookPipelineSurvivesClientDisconnect(t *testing.T) {
	p := &recordingPipeline{outcome: pipeline.Outcome{Status: pipeline.StatusOK}}
	h := NewHandler(loadConfig(t, nil), Dependencies{Pipeline: p})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := webhookRequest(url.Values{"From": {"whatsapp:+573001"}, "Body": {"¿Cuántos APUs hay?"}}).WithContext(ctx)
	req.Header.Set("X-Trace-ID", "trace-disconnect")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Body.String() != "OK" {
		t.Fatalf("body = %q", rr.Body.String())
	}
	if len(p.inbound) != 1 {
		t.Fatalf("inbound = %#v", p.inbound)
	}
	if p.ctxErr != nil {
		t.Fatalf("pipeline context error = %v, want detached context", p.ctxErr)
	}
	if p.traceID != "trace-disconnect" {
		t.Fatalf("pipeline trace id = %q", p.traceID)
	}
}

func TestWebhookSignatureRequired(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"APUBOT_TWILIO_VALIDATE_SIGNATURE": "true"})
	p := &recordingPipeline{outcome: pipeline.Outcome{Status: pipeline.StatusOK}}
	h := NewHandler(cfg, Dependencies{
		Pipeline:          p,
		WebhookMiddleware: auth.Middleware(nil, auth.NewTwilioValidator("token"), "https://bot.example.com/whatsapp_webhook"),
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, webhookRequest(url.Values{"From": {"whatsapp:+1"}, "Body": {"hola"}}))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rr.Code)
	}
	if len(p.inbound) != 0 {
		t.Fatal("unsigned request reached the pipeline")
	}
}

func TestWebhookSignatureMiddlewareMissing(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"APUBOT_TWILIO_VALIDATE_SIGNATURE": "true"})
	h := NewHandler(cfg, Dependencies{Pipeline: &recordingPipeline{}})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, webhookRequest(url.Values{"From": {"whatsapp:+1"}}))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestWebhookWithoutPipeline(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, webhookRequest(url.Values{"From": {"whatsapp:+1"}}))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestTraceHeaderIsReturned(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Trace-ID", "trace-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Trace-ID"); got != "trace-123" {
		t.Fatalf("X-Trace-ID = %q", got)
	}
}

func webhookRequest(values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/whatsapp_webhook", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v body=%s", err, rr.Body.String())
	}
	return body
}

func loadConfig(t *testing.T, env map[string]string) config.Config {
	t.Helper()
	if env == nil {
		env = map[string]string{}
	}
	cfg, err := config.Load("apubot-api", mapLookup(env))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
