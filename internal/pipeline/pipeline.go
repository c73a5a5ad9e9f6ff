// Package pipeline drives one inbound chat message from authorization to
// reply delivery.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mapus/apubot/internal/conversation"
	"github.com/mapus/apubot/internal/messaging"
	"github.com/mapus/apubot/internal/nl2sql"
	"github.com/mapus/apubot/internal/observability"
	"github.com/mapus/apubot/internal/query"
	"github.com/mapus/apubot/internal/summary"
	"github.com/mapus/apubot/internal/users"
)

type Stage string

const (
	StageReceived      Stage = "received"
	StageAuthorizing   Stage = "authorizing"
	StageDenied        Stage = "denied"
	StageGreeting      Stage = "greeting"
	StageContextLoaded Stage = "context_loaded"
	StageTranslating   Stage = "translating"
	StageRejected      Stage = "rejected"
	StageExecuting     Stage = "executing"
	StageNoResults     Stage = "no_results"
	StageSummarizing   Stage = "summarizing"
	StagePersisting    Stage = "persisting"
	StageDispatching   Stage = "dispatching"
	StageDone          Stage = "done"
)

const (
	StatusOK           = "OK"
	StatusUnauthorized = "UNAUTHORIZED"
)

const (
	DeniedNotice    = "🚫 Acceso restringido.\nNo tienes permiso para usar este asistente.\nContacta con el administrador para solicitar acceso."
	ReadOnlyNotice  = "Solo se permiten consultas de lectura."
	NoResultsNotice = "No se encontraron resultados para tu consulta."
	ApologyNotice   = "⚠️ Lo sentimos, ocurrió un error procesando tu mensaje. Intenta de nuevo en unos minutos."
)

func GreetingNotice(name string) string {
	return fmt.Sprintf("👋 Hola %s! Envíame una pregunta sobre tus APUs o ítems, y te ayudaré con gusto.", name)
}

type Gate interface {
	Authorize(ctx context.Context, identity string) (users.User, bool, error)
}

type Memory interface {
	Recent(ctx context.Context, identity string, limit int) []conversation.Turn
	Append(ctx context.Context, turn conversation.Turn)
}

type Summarizer interface {
	Summarize(ctx context.Context, req summary.Request) summary.Result
}

type Dispatcher interface {
	Dispatch(ctx context.Context, to, body string) messaging.Report
}

type Inbound struct {
	From string
	Body string
}

type Outcome struct {
	Status   string
	Stage    Stage
	Response string
}

type Dependencies struct {
	Gate       Gate
	Memory     Memory
	Translator nl2sql.Translator
	Executor   query.Executor
	Summarizer Summarizer
	Dispatcher Dispatcher
}

type Orchestrator struct {
	deps         Dependencies
	logger       *slog.Logger
	historyLimit int
	now          func() time.Time
}

func New(deps Dependencies, logger *slog.Logger, historyLimit int) (*Orchestrator, error) {
	switch {
	case deps.Gate == nil:
		return nil, errors.New("gate is required")
	case deps.Memory == nil:
		return nil, errors.New("memory is required")
	case deps.Translator == nil:
		return nil, errors.New("translator is required")
	case deps.Executor == nil:
		return nil, errors.New("executor is required")
	case deps.Summarizer == nil:
		return nil, errors.New("summarizer is required")
	case deps.Dispatcher == nil:
		return nil, errors.New("dispatcher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if historyLimit <= 0 {
		historyLimit = conversation.DefaultHistoryLimit
	}
	return &Orchestrator{
		deps:         deps,
		logger:       logger,
		historyLimit: historyLimit,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// Handle runs the whole pipeline for msg. Every path sends exactly one reply
// to the sender, chunked when long.
func (o *Orchestrator) Handle(ctx context.Context, msg Inbound) (outcome Outcome) {
	start := time.Now()
	identity := strings.TrimSpace(msg.From)
	logger := o.logger.With(
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("identity", identity),
	)
	stage := StageReceived
	enter := func(next Stage) {
		stage = next
		logger.DebugContext(ctx, "pipeline stage", slog.String("stage", string(stage)))
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			logger.ErrorContext(ctx, "pipeline panic",
				slog.String("stage", string(stage)),
				slog.Any("panic", recovered),
			)
			o.deps.Dispatcher.Dispatch(ctx, identity, ApologyNotice)
			outcome = Outcome{Status: StatusOK, Stage: stage, Response: ApologyNotice}
		}
		observability.ObservePipeline(string(outcome.Stage), time.Since(start))
	}()

	logger.InfoContext(ctx, "message received", slog.Int("chars", len([]rune(msg.Body))))

	enter(StageAuthorizing)
	user, ok, err := o.deps.Gate.Authorize(ctx, identity)
	if err != nil {
		logger.ErrorContext(ctx, "authorization lookup failed", slog.String("stage", string(stage)), slog.Any("error", err))
	}
	if err != nil || !ok {
		enter(StageDenied)
		o.deps.Dispatcher.Dispatch(ctx, identity, DeniedNotice)
		logger.WarnContext(ctx, "access denied")
		return Outcome{Status: StatusUnauthorized, Stage: StageDenied, Response: DeniedNotice}
	}
	logger = logger.With(slog.String("user", user.Name), slog.String("role", user.Role))
	logger.InfoContext(ctx, "user authorized")

	body := strings.TrimSpace(msg.Body)
	if body == "" {
		enter(StageGreeting)
		greeting := GreetingNotice(user.Name)
		o.deps.Dispatcher.Dispatch(ctx, identity, greeting)
		return Outcome{Status: StatusOK, Stage: StageGreeting, Response: greeting}
	}

	history := o.deps.Memory.Recent(ctx, identity, o.historyLimit)
	enter(StageContextLoaded)
	logger.DebugContext(ctx, "history loaded", slog.Int("turns", len(history)))

	enter(StageTranslating)
	translation, err := o.deps.Translator.Translate(ctx, nl2sql.Request{Message: body, History: history})
	if err != nil {
		logger.ErrorContext(ctx, "translation failed", slog.Any("error", err))
		translation = nl2sql.Result{SQL: nl2sql.FailureUnreachable}
	}
	logger.InfoContext(ctx, "sql generated", slog.String("sql", translation.SQL), slog.String("ai_status", string(translation.Status)))

	var (
		response     string
		persistedSQL string
		terminal     = StageDone
	)
	if !query.IsReadOnly(translation.SQL) {
		enter(StageRejected)
		terminal = StageRejected
		response = ReadOnlyNotice
	} else {
		persistedSQL = translation.SQL
		enter(StageExecuting)
		result := o.deps.Executor.Execute(ctx, translation.SQL)
		logger.InfoContext(ctx, "query executed", slog.String("kind", string(result.Kind())), slog.Int("rows", len(result.Rows)))

		if result.Kind() != query.KindRows {
			enter(StageNoResults)
			terminal = StageNoResults
			response = NoResultsNotice
		} else {
			enter(StageSummarizing)
			summarized := o.deps.Summarizer.Summarize(ctx, summary.Request{
				UserName: user.Name,
				Message:  body,
				Result:   result,
			})
			response = summarized.Text
		}
	}

	enter(StagePersisting)
	o.deps.Memory.Append(ctx, conversation.Turn{
		Identity:     identity,
		UserMessage:  body,
		GeneratedSQL: persistedSQL,
		Response:     response,
		CreatedAt:    o.now(),
	})

	enter(StageDispatching)
	report := o.deps.Dispatcher.Dispatch(ctx, identity, response)
	logger.InfoContext(ctx, "reply dispatched",
		slog.String("outcome", string(terminal)),
		slog.Int("parts", report.Chunks),
		slog.Int("failed_parts", report.Failed),
		slog.Int("chars", len([]rune(response))),
	)
	return Outcome{Status: StatusOK, Stage: terminal, Response: response}
}
