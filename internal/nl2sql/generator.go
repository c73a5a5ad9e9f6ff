package nl2sql

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"github.com/mapus/apubot/internal/llm"
	"github.com/mapus/apubot/internal/observability"
)

const (
	FailureUnreachable = "Error al conectar con la IA de Gemini."
	FailureUnusable    = "No se pudo procesar tu solicitud con la IA."
)

var fencePattern = regexp.MustCompile("```sql|```")

// GeneratorTranslator asks a text generator for a single SQL statement.
type GeneratorTranslator struct {
	generator llm.Generator
	provider  string
	model     string
	logger    *slog.Logger
}

func NewGeneratorTranslator(generator llm.Generator, provider, model string, logger *slog.Logger) (*GeneratorTranslator, error) {
	if generator == nil {
		return nil, errors.New("generator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GeneratorTranslator{generator: generator, provider: provider, model: model, logger: logger}, nil
}

func (t *GeneratorTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	prompt := BuildPrompt(req.Message, req.History)
	completion := llm.Call(ctx, t.generator, prompt)
	observability.ObserveAIRequest("translate", string(completion.Status), completion.Duration)

	result := Result{Status: completion.Status, Provider: t.provider, Model: t.model}
	switch completion.Status {
	case llm.StatusOK:
		result.SQL = stripMarkdownSQL(completion.Text)
	case llm.StatusTimeout:
		result.SQL = FailureUnreachable
	case llm.StatusMalformed:
		result.SQL = FailureUnusable
	default:
		var statusErr *llm.StatusError
		if errors.As(completion.Err, &statusErr) {
			result.SQL = FailureUnusable
		} else {
			result.SQL = FailureUnreachable
		}
	}
	if completion.Err != nil {
		t.logger.WarnContext(ctx, "sql generation failed",
			"status", completion.Status,
			"duration_ms", completion.Duration.Milliseconds(),
			"error", completion.Err,
		)
	}
	return result, nil
}

// stripMarkdownSQL drops code fence markers wherever they appear.
func stripMarkdownSQL(value string) string {
	return strings.TrimSpace(fencePattern.ReplaceAllString(value, ""))
}
