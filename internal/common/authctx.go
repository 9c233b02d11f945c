package common

import (
	"context"
	"slices"
)

type ctxKey string

const identityKey ctxKey = "auth/identity"

// Identity is the authenticated caller as asserted by the external identity
// provider. This service never handles credentials itself.
type Identity struct {
	UserID string
	Email  string
	Name   string
	Roles  []string
}

// HasRole reports whether the identity carries the given role.
func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

// WithIdentity stores the authenticated identity on the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom extracts the authenticated identity from the context.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	v := ctx.Value(identityKey)
	if v == nil {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

// UserID extracts just the authenticated user id from the context.
func UserID(ctx context.Context) (string, bool) {
	id, ok := IdentityFrom(ctx)
	if !ok || id.UserID == "" {
		return "", false
	}
	return id.UserID, true
}
