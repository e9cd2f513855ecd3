package repository

import (
	"context"
	"errors"
)

// Identity is the active session: which tenant the data belongs to and which
// user writes it.
type Identity struct {
	TenantID string
	UserID   string
}

// IdentityProvider resolves the active identity when a repository initialises.
type IdentityProvider interface {
	Identity(ctx context.Context) (Identity, error)
}

// IdentityFunc adapts a function to IdentityProvider.
type IdentityFunc func(ctx context.Context) (Identity, error)

// Identity calls f.
func (f IdentityFunc) Identity(ctx context.Context) (Identity, error) { return f(ctx) }

// StaticIdentity always returns the same identity.
type StaticIdentity Identity

// Identity returns s.
func (s StaticIdentity) Identity(context.Context) (Identity, error) {
	if s.TenantID == "" {
		return Identity{}, errNoTenant
	}
	return Identity(s), nil
}

var errNoTenant = errors.New("no tenant in session")
