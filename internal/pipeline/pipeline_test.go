package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapus/apubot/internal/conversation"
	"github.com/mapus/apubot/internal/llm"
	"github.com/mapus/apubot/internal/messaging"
	"github.com/mapus/apubot/internal/nl2sql"
	"github.com/mapus/apubot/internal/query"
	"github.com/mapus/apubot/internal/summary"
	"github.com/mapus/apubot/internal/users"
)

const caller = "whatsapp:+573001234567"

type fakeGate struct {
	users map[string]users.User
	err   error
}

func (g *fakeGate) Authorize(_ context.Context, identity string) (users.User, bool, error) {
	if g.err != nil {
		return users.User{}, false, g.err
	}
	user, ok := g.users[identity]
	return user, ok, nil
}

type fakeMemory struct {
	history  []conversation.Turn
	appended []conversation.Turn
	limits   []int
}

func (m *fakeMemory) Recent(_ context.Context, _ string, limit int) []conversation.Turn {
	m.limits = append(m.limits, limit)
	return m.history
}

func (m *fakeMemory) Append(_ context.Context, turn conversation.Turn) {
	m.appended = append(m.appended, turn)
}

type fakeTranslator struct {
	sql      string
	status   llm.Status
	err      error
	requests []nl2sql.Request
}

func (f *fakeTranslator) Translate(_ context.Context, req nl2sql.Request) (nl2sql.Result, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nl2sql.Result{}, f.err
	}
	status := f.status
	if status == "" {
		status = llm.StatusOK
	}
	return nl2sql.Result{SQL: f.sql, Status: status}, nil
}

type fakeExecutor struct {
	result query.Result
	panics bool
	calls  []string
}

func (f *fakeExecutor) Execute(_ context.Context, sql string) query.Result {
	f.calls = append(f.calls, sql)
	if f.panics {
		panic("executor exploded")
	}
	return f.result
}

type fakeSummarizer struct {
	text     string
	requests []summary.Request
}

func (f *fakeSummarizer) Summarize(_ context.Context, req summary.Request) summary.Result {
	f.requests = append(f.requests, req)
	return summary.Result{Text: f.text, Status: llm.StatusOK}
}

type recordingSender struct {
	to     []string
	bodies []string
}

func (s *recordingSender) Send(_ context.Context, to, body string) error {
	s.to = append(s.to, to)
	s.bodies = append(s.bodies, body)
	return nil
}

type promptGenerator struct {
	text    string
	prompts []string
}

func (g *promptGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return g.text, nil
}

type harness struct {
	gate       *fakeGate
	memory     *fakeMemory
	translator *fakeTranslator
	executor   *fakeExecutor
	summarizer Summarizer
	sender     *recordingSender
	slept      []time.Duration
}

func newHarness() *harness {
	return &harness{
		gate: &fakeGate{users: map[string]users.User{
			caller: {Phone: caller, Name: "Carla", Role: "ingeniera", Active: true},
		}},
		memory:     &fakeMemory{},
		translator: &fakeTranslator{},
		executor:   &fakeExecutor{},
		summarizer: &fakeSummarizer{text: "resumen"},
		sender:     &recordingSender{},
	}
}

func (h *harness) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := messaging.NewDispatcher(h.sender, logger, 1500, 2*time.Second,
		messaging.WithSleep(func(d time.Duration) { h.slept = append(h.slept, d) }))
	o, err := New(Dependencies{
		Gate:       h.gate,
		Memory:     h.memory,
		Translator: h.translator,
		Executor:   h.executor,
		Summarizer: h.summarizer,
		Dispatcher: dispatcher,
	}, logger, 5)
	require.NoError(t, err)
	return o
}

func TestUnknownSenderIsDenied(t *testing.T) {
	h := newHarness()
	outcome := h.orchestrator(t).Handle(context.Background(), Inbound{From: "whatsapp:+19999999", Body: "¿Cuántos APUs hay?"})

	assert.Equal(t, StatusUnauthorized, outcome.Status)
	assert.Equal(t, StageDenied, outcome.Stage)
	require.Equal(t, []string{DeniedNotice}, h.sender.bodies)
	assert.Equal(t, []string{"whatsapp:+19999999"}, h.sender.to)
	assert.Empty(t, h.memory.appended)
	assert.Empty(t, h.translator.requests)
	assert.Empty(t, h.executor.calls)
}

func TestGateFailureFailsClosed(t *testing.T) {
	h := newHarness()
	h.gate.err = errors.New("connect database: connection refused")
	outcome := h.orchestrator(t).Handle(context.Background(), Inbound{From: caller, Body: "hola"})

	assert.Equal(t, StatusUnauthorized, outcome.Status)
	assert.Equal(t, []string{DeniedNotice}, h.sender.bodies)
	assert.Empty(t, h.memory.appended)
}

func TestEmptyBodyGetsGreeting(t *testing.T) {
	h := newHarness()
	outcome := h.orchestrator(t).Handle(context.Background(), Inbound{From: caller, Body: "   "})

	assert.Equal(t, StatusOK, outcome.Status)
	assert.Equal(t, StageGreeting, outcome.Stage)
	require.Len(t, h.sender.bodies, 1)
	assert.Equal(t, "👋 Hola Carla! Envíame una pregunta sobre tus APUs o ítems, y te ayudaré con gusto.", h.sender.bodies[0])
	assert.Empty(t, h.memory.appended)
	assert.Empty(t, h.translator.requests)
}

func TestNonSelectIsRejectedWithoutExecution(t *testing.T) {
	h := newHarness()
	h.translator.sql = "DROP TABLE apus;"
	outcome := h.orchestrator(t).Handle(context.Background(), Inbound{From: caller, Body: "borra la tabla apus"})

	assert.Equal(t, StatusOK, outcome.Status)
	assert.Equal(t, StageRejected, outcome.Stage)
	assert.Equal(t, []string{ReadOnlyNotice}, h.sender.bodies)
	assert.Empty(t, h.executor.calls)
	require.Len(t, h.memory.appended, 1)
	assert.Equal(t, "", h.memory.appended[0].GeneratedSQL)
	assert.Equal(t, "borra la tabla apus", h.memory.appended[0].UserMessage)
	assert.Equal(t, ReadOnlyNotice, h.memory.appended[0].Response)
}

func TestTranslationFailureTextIsRejected(t *testing.T) {
	h := newHarness()
	h.translator.sql = nl2sql.FailureUnreachable
	h.translator.status = llm.StatusTimeout
	outcome := h.orchestrator(t).Handle(context.Background(), Inbound{From: caller, Body: "¿precio del concreto?"})

	assert.Equal(t, StageRejected, outcome.Stage)
	assert.Equal(t, []string{ReadOnlyNotice}, h.sender.bodies)
	assert.Empty(t, h.executor.calls)
	require.Len(t, h.memory.appended, 1)
	assert.Empty(t, h.memory.appended[0].GeneratedSQL)
}

func TestTranslatorErrorStillReplies(t *testing.T) {
	h := newHarness()
	h.translator.err = errors.New("generator is not configured")
	outcome := h.orchestrator(t).Handle(context.Background(), Inbound{From: caller, Body: "hola"})

	assert.Equal(t, StageRejected, outcome.Stage)
	assert.Equal(t, []string{ReadOnlyNotice}, h.sender.bodies)
}

func TestErrorMarkerSkipsSummarizer(t *testing.T) {
	h := newHarness()
	h.translator.sql = "SELECT nope FROM apus"
	h.executor.result = query.ErrorResult(errors.New(`column "nope" does not exist`))
	summarizer := &fakeSummarizer{text: "never"}
	h.summarizer = summarizer
	outcome := h.orchestrator(t).Handle(context.Background(), Inbound{From: caller, Body: "dame nope"})

	assert.Equal(t, StageNoResults, outcome.Stage)
	assert.Equal(t, []string{NoResultsNotice}, h.sender.bodies)
	assert.Empty(t, summarizer.requests)
	require.Len(t, h.memory.appended, 1)
	assert.Equal(t, "SELECT nope FROM apus", h.memory.appended[0].GeneratedSQL)
	assert.Equal(t, NoResultsNotice, h.memory.appended[0].Response)
}

func TestEmptyResultSkipsSummarizer(t *testing.T) {
	h := newHarness()
	h.translator.sql = "SELECT * FROM apus WHERE ciudad ILIKE '%narnia%' LIMIT 20"
	summarizer := &fakeSummarizer{}
	h.summarizer = summarizer
	outcome := h.orchestrator(t).Handle(context.Background(), Inbound{From: caller, Body: "apus en narnia"})

	assert.Equal(t, StageNoResults, outcome.Stage)
	assert.Equal(t, []string{NoResultsNotice}, h.sender.bodies)
	assert.Empty(t, summarizer.requests)
}

func TestCountQuestionIsSummarizedWithNameAndCount(t *testing.T) {
	h := newHarness()
	h.translator.sql = "SELECT COUNT(*) FROM apus;"
	h.executor.result = query.Result{Columns: []string{"count"}, Rows: []query.Row{{"count": int64(7)}}}
	generator := &promptGenerator{text: "Hola Carla 👋\nHay 7 APUs registrados 📊"}
	summarizer, err := summary.NewSummarizer(generator, nil)
	require.NoError(t, err)
	h.summarizer = summarizer

	h.memory.history = []conversation.Turn{
		{Identity: caller, UserMessage: "primera", CreatedAt: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)},
		{Identity: caller, UserMessage: "segunda", CreatedAt: time.Date(2025, 1, 1, 10, 5, 0, 0, time.UTC)},
	}
	outcome := h.orchestrator(t).Handle(context.Background(), Inbound{From: caller, Body: " ¿Cuántos APUs hay? "})

	assert.Equal(t, StatusOK, outcome.Status)
	assert.Equal(t, StageDone, outcome.Stage)
	require.Len(t, generator.prompts, 1)
	assert.Contains(t, generator.prompts[0], "Carla")
	assert.Contains(t, generator.prompts[0], `[{"count": 7}]`)
	assert.Contains(t, outcome.Response, "Carla")
	assert.Contains(t, outcome.Response, "7")
	assert.Equal(t, []string{outcome.Response}, h.sender.bodies)

	require.Len(t, h.translator.requests, 1)
	assert.Equal(t, "¿Cuántos APUs hay?", h.translator.requests[0].Message)
	require.Len(t, h.translator.requests[0].History, 2)
	assert.Equal(t, "primera", h.translator.requests[0].History[0].UserMessage)
	assert.Equal(t, []int{5}, h.memory.limits)

	require.Len(t, h.memory.appended, 1)
	turn := h.memory.appended[0]
	assert.Equal(t, caller, turn.Identity)
	assert.Equal(t, "SELECT COUNT(*) FROM apus;", turn.GeneratedSQL)
	assert.Equal(t, outcome.Response, turn.Response)
	assert.False(t, turn.CreatedAt.IsZero())
}

func TestLongReplyIsChunked(t *testing.T) {
	h := newHarness()
	h.translator.sql = "SELECT items_descripcion FROM apus LIMIT 20"
	h.executor.result = query.Result{Columns: []string{"items_descripcion"}, Rows: []query.Row{{"items_descripcion": "Excavación"}}}
	long := strings.Repeat("📊 fila de resultado\n", 200)
	h.summarizer = &fakeSummarizer{text: long}
	h.orchestrator(t).Handle(context.Background(), Inbound{From: caller, Body: "dame todo"})

	runes := len([]rune(long))
	assert.Len(t, h.sender.bodies, (runes+1499)/1500)
	assert.Equal(t, long, strings.Join(h.sender.bodies, ""))
	assert.Len(t, h.slept, len(h.sender.bodies)-1)
	require.Len(t, h.memory.appended, 1)
	assert.Equal(t, long, h.memory.appended[0].Response)
}

func TestPanicSendsApology(t *testing.T) {
	h := newHarness()
	h.translator.sql = "SELECT 1"
	h.executor.panics = true
	outcome := h.orchestrator(t).Handle(context.Background(), Inbound{From: caller, Body: "hola"})

	assert.Equal(t, StatusOK, outcome.Status)
	assert.Equal(t, StageExecuting, outcome.Stage)
	assert.Equal(t, []string{ApologyNotice}, h.sender.bodies)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Dependencies{}, nil, 5)
	require.Error(t, err)
}
