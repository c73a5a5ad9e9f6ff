// Package summary turns raw query rows into a chat-ready answer.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mapus/apubot/internal/llm"
	"github.com/mapus/apubot/internal/observability"
	"github.com/mapus/apubot/internal/query"
)

const (
	FailureUnreachable = "Error al conectar con la IA de Gemini."
	FailureUnusable    = "No se pudo procesar tu solicitud con la IA."
)

const fence = "```"

type Request struct {
	UserName string
	Message  string
	Result   query.Result
}

type Result struct {
	Text   string
	Status llm.Status
}

type Summarizer struct {
	generator llm.Generator
	logger    *slog.Logger
}

func NewSummarizer(generator llm.Generator, logger *slog.Logger) (*Summarizer, error) {
	if generator == nil {
		return nil, errors.New("generator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{generator: generator, logger: logger}, nil
}

// Summarize never fails: service problems yield a fixed fallback text.
func (s *Summarizer) Summarize(ctx context.Context, req Request) Result {
	completion := llm.Call(ctx, s.generator, BuildPrompt(req))
	observability.ObserveAIRequest("summarize", string(completion.Status), completion.Duration)

	if completion.Status == llm.StatusOK {
		return Result{Text: strings.TrimSpace(completion.Text), Status: llm.StatusOK}
	}
	s.logger.WarnContext(ctx, "summary generation failed",
		"status", completion.Status,
		"duration_ms", completion.Duration.Milliseconds(),
		"error", completion.Err,
	)
	var statusErr *llm.StatusError
	if completion.Status == llm.StatusMalformed || errors.As(completion.Err, &statusErr) {
		return Result{Text: FailureUnusable, Status: completion.Status}
	}
	return Result{Text: FailureUnreachable, Status: completion.Status}
}

func BuildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(`Eres un ingeniero experto en Análisis de Precios Unitarios (APU).
Presenta los resultados SQL de manera clara, profesional y bien formateada para WhatsApp.

INSTRUCCIONES DE FORMATO:
`)
	fmt.Fprintf(&b, "1. Saluda brevemente al usuario por su nombre: %s\n", req.UserName)
	b.WriteString(`2. Analiza el tipo de consulta y formatea la respuesta apropiadamente:
   - **LISTADOS**: Usa numeración (1., 2., 3., etc.) con los datos más relevantes
   - **COMPARACIONES**: Usa formato de tabla simple con alineación, separando columnas con |
   - **TOTALES/AGREGACIONES**: Presenta el resultado de forma clara y destacada
   - **CONSULTA SIMPLE**: Responde en 1-2 párrafos concisos

3. Formato de tabla para comparaciones (ejemplo):
` + fence + `
Item                    | Precio      | Ciudad
----------------------------------------
Excavación manual       | $45,000     | Bogotá
Relleno compactado      | $32,500     | Medellín
` + fence + `

4. Formato de listado (ejemplo):
` + fence + `
1. Excavación manual - $45,000 (Bogotá)
2. Relleno compactado - $32,500 (Medellín)
` + fence + `

5. Incluye solo la información más relevante. Si hay más de 15 resultados, resume los primeros 10-15 más importantes.
6. Al final, menciona el total de registros encontrados si son muchos.
7. Usa emojis sutiles para mejorar la lectura: 📊 💰 🏗️ 📍 ✅
8. NO uses formato Markdown (**, __, etc.), usa MAYÚSCULAS para títulos.
9. Mantén las líneas cortas (máximo 60 caracteres) para que se vean bien en WhatsApp.

`)
	fmt.Fprintf(&b, "Pregunta del usuario: \"%s\"\n", strings.TrimSpace(req.Message))
	fmt.Fprintf(&b, "Resultados SQL: %s\n", req.Result.JSON())
	return b.String()
}
