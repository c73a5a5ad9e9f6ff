// Package llm talks to hosted text-generation services. Callers see a single
// Generator interface plus a typed Status for every attempt.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mapus/apubot/internal/config"
)

var ErrMalformedResponse = errors.New("malformed generation response")

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type Status string

const (
	StatusOK           Status = "ok"
	StatusTimeout      Status = "timeout"
	StatusServiceError Status = "service_error"
	StatusMalformed    Status = "malformed"
)

// StatusError is returned when the upstream service answers with an HTTP error.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("generation failed status=%d body=%s", e.Code, e.Body)
}

func Classify(err error) Status {
	if err == nil {
		return StatusOK
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StatusTimeout
	}
	if errors.Is(err, ErrMalformedResponse) {
		return StatusMalformed
	}
	return StatusServiceError
}

type Completion struct {
	Text     string
	Status   Status
	Err      error
	Duration time.Duration
}

func Call(ctx context.Context, gen Generator, prompt string) Completion {
	start := time.Now()
	if gen == nil {
		return Completion{Status: StatusServiceError, Err: errors.New("generator is not configured")}
	}
	text, err := gen.Generate(ctx, prompt)
	return Completion{
		Text:     text,
		Status:   Classify(err),
		Err:      err,
		Duration: time.Since(start),
	}
}

func NewGenerator(cfg config.AIConfig) (Generator, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(cfg)
	case config.ProviderOpenAI:
		return NewOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}
}
