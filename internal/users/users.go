package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("user not found")

// User is a provisioned chat participant. Rows are maintained outside this
// service and only read here.
type User struct {
	Phone  string
	Name   string
	Role   string
	Active bool
}

type Directory interface {
	// FindActiveByPhone returns ErrNotFound when no active user matches.
	FindActiveByPhone(ctx context.Context, phone string) (User, error)
}

type Gate struct {
	Directory Directory
}

func NewGate(directory Directory) *Gate {
	return &Gate{Directory: directory}
}

// Authorize reports whether identity belongs to an active user. A missing
// user is a normal negative result; only lookup failures return an error.
func (g *Gate) Authorize(ctx context.Context, identity string) (User, bool, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return User{}, false, nil
	}
	if g.Directory == nil {
		return User{}, false, errors.New("user directory is not configured")
	}
	user, err := g.Directory.FindActiveByPhone(ctx, identity)
	if errors.Is(err, ErrNotFound) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, fmt.Errorf("authorize %q: %w", identity, err)
	}
	if !user.Active {
		return User{}, false, nil
	}
	return user, true, nil
}
