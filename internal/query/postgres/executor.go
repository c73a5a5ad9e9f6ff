package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mapus/apubot/internal/observability"
	"github.com/mapus/apubot/internal/query"
	"github.com/mapus/apubot/internal/store"
)

// Executor runs each statement on its own connection inside a read-only
// transaction that is always rolled back.
type Executor struct {
	gateway *store.Gateway
	logger  *slog.Logger
}

func NewExecutor(gateway *store.Gateway, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{gateway: gateway, logger: logger}
}

func (e *Executor) Execute(ctx context.Context, sqlText string) query.Result {
	result, err := e.execute(ctx, sqlText)
	if err != nil {
		e.logger.ErrorContext(ctx, "query execution failed", "sql", sqlText, "error", err)
		result = query.ErrorResult(err)
	}
	observability.IncrementQueryExecution(string(result.Kind()))
	return result
}

func (e *Executor) execute(ctx context.Context, sqlText string) (query.Result, error) {
	if strings.TrimSpace(sqlText) == "" {
		return query.Result{}, errors.New("sql is required")
	}

	var result query.Result
	err := e.gateway.WithConn(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return fmt.Errorf("begin read-only transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		rows, err := tx.QueryContext(ctx, sqlText)
		if err != nil {
			return fmt.Errorf("execute query: %w", err)
		}
		defer func() { _ = rows.Close() }()

		columns, err := rows.Columns()
		if err != nil {
			return fmt.Errorf("query columns: %w", err)
		}

		resultRows := make([]query.Row, 0)
		for rows.Next() {
			values := make([]any, len(columns))
			scanTargets := make([]any, len(columns))
			for i := range values {
				scanTargets[i] = &values[i]
			}
			if err := rows.Scan(scanTargets...); err != nil {
				return fmt.Errorf("scan row: %w", err)
			}
			resultRows = append(resultRows, toRow(columns, values))
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate rows: %w", err)
		}
		result = query.Result{Columns: columns, Rows: resultRows}
		return nil
	})
	return result, err
}

func toRow(columns []string, values []any) query.Row {
	row := make(query.Row, len(columns))
	for i, column := range columns {
		switch typed := values[i].(type) {
		case []byte:
			row[column] = string(typed)
		default:
			row[column] = typed
		}
	}
	return row
}
