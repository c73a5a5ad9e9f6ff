// Package conversation keeps the per-identity history of past exchanges and
// exposes it as short-term context for the translator.
package conversation

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

const DefaultHistoryLimit = 5

type Turn struct {
	Identity     string
	UserMessage  string
	GeneratedSQL string
	Response     string
	CreatedAt    time.Time
}

type Store interface {
	Insert(ctx context.Context, turn Turn) error
	// ListRecent returns at most limit turns for identity, newest first.
	ListRecent(ctx context.Context, identity string, limit int) ([]Turn, error)
}

type Memory struct {
	store  Store
	logger *slog.Logger
	limit  int
}

func NewMemory(store Store, logger *slog.Logger, defaultLimit int) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultLimit <= 0 {
		defaultLimit = DefaultHistoryLimit
	}
	return &Memory{store: store, logger: logger, limit: defaultLimit}
}

// Append records a finished turn. Storage failures are logged and dropped so
// that the reply still reaches the user.
func (m *Memory) Append(ctx context.Context, turn Turn) {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	if err := m.store.Insert(ctx, turn); err != nil {
		m.logger.ErrorContext(ctx, "conversation append failed", "identity", turn.Identity, "error", err)
	}
}

// Recent returns up to limit turns for identity in chronological order.
func (m *Memory) Recent(ctx context.Context, identity string, limit int) []Turn {
	if limit <= 0 {
		limit = m.limit
	}
	turns, err := m.store.ListRecent(ctx, identity, limit)
	if err != nil {
		m.logger.ErrorContext(ctx, "conversation history unavailable", "identity", identity, "error", err)
		return []Turn{}
	}
	if len(turns) > limit {
		turns = turns[:limit]
	}

	ordered := make([]Turn, len(turns))
	for i, turn := range turns {
		ordered[len(turns)-1-i] = turn
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})
	return ordered
}
