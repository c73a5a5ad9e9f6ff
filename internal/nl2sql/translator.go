package nl2sql

import (
	"context"

	"github.com/mapus/apubot/internal/conversation"
	"github.com/mapus/apubot/internal/llm"
)

type Request struct {
	Message string
	History []conversation.Turn
}

// Result carries the generated statement. When Status is not ok, SQL holds a
// user-facing failure text instead of a query.
type Result struct {
	SQL      string     `json:"sql"`
	Status   llm.Status `json:"status"`
	Provider string     `json:"provider"`
	Model    string     `json:"model"`
}

type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}
