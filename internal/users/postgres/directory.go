package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mapus/apubot/internal/store"
	"github.com/mapus/apubot/internal/users"
)

type Directory struct {
	gateway *store.Gateway
}

func NewDirectory(gateway *store.Gateway) *Directory {
	return &Directory{gateway: gateway}
}

func (d *Directory) FindActiveByPhone(ctx context.Context, phone string) (users.User, error) {
	var user users.User
	err := d.gateway.WithConn(ctx, func(db *sql.DB) error {
		return db.QueryRowContext(ctx, `
SELECT telefono, nombre, rol, activo
FROM usuarios
WHERE telefono = $1 AND activo = true
LIMIT 1`, phone).Scan(&user.Phone, &user.Name, &user.Role, &user.Active)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return users.User{}, users.ErrNotFound
	}
	if err != nil {
		return users.User{}, fmt.Errorf("find active user: %w", err)
	}
	return user, nil
}
