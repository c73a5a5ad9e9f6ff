package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mapus/apubot/internal/conversation"
	"github.com/mapus/apubot/internal/store"
)

type Store struct {
	gateway *store.Gateway
}

func NewStore(gateway *store.Gateway) *Store {
	return &Store{gateway: gateway}
}

func (s *Store) Insert(ctx context.Context, turn conversation.Turn) error {
	var generated sql.NullString
	if turn.GeneratedSQL != "" {
		generated = sql.NullString{String: turn.GeneratedSQL, Valid: true}
	}
	err := s.gateway.WithConn(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
INSERT INTO historial_conversaciones (telefono, mensaje_usuario, sql_generado, respuesta_bot, timestamp)
VALUES ($1, $2, $3, $4, $5)`,
			turn.Identity,
			turn.UserMessage,
			generated,
			turn.Response,
			turn.CreatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert conversation turn: %w", err)
	}
	return nil
}

func (s *Store) ListRecent(ctx context.Context, identity string, limit int) ([]conversation.Turn, error) {
	var turns []conversation.Turn
	err := s.gateway.WithConn(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
SELECT telefono, mensaje_usuario, sql_generado, respuesta_bot, timestamp
FROM historial_conversaciones
WHERE telefono = $1
ORDER BY timestamp DESC, id DESC
LIMIT $2`, identity, limit)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var turn conversation.Turn
			var generated, response sql.NullString
			var createdAt sql.NullTime
			if err := rows.Scan(&turn.Identity, &turn.UserMessage, &generated, &response, &createdAt); err != nil {
				return err
			}
			turn.GeneratedSQL = generated.String
			turn.Response = response.String
			turn.CreatedAt = createdAt.Time
			turns = append(turns, turn)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list conversation turns: %w", err)
	}
	return turns, nil
}
