package auth

import (
	"context"

	"github.com/recipebox/recipebox/internal/model"
)

type authContextKey struct{}

// ContextWithAuth returns a copy of ctx carrying the resolved API key identity.
func ContextWithAuth(ctx context.Context, a *model.AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, a)
}

// AuthFromContext returns the identity stored by ContextWithAuth, or nil
// for an anonymous request.
func AuthFromContext(ctx context.Context) *model.AuthContext {
	a, _ := ctx.Value(authContextKey{}).(*model.AuthContext)
	return a
}

// UserIDFromContext returns the recipe owner identity, or "" when anonymous.
func UserIDFromContext(ctx context.Context) string {
	if a := AuthFromContext(ctx); a != nil {
		return a.UserID
	}
	return ""
}

// KeyIDFromContext returns the id of the API key that authenticated the
// request, or "" when anonymous.
func KeyIDFromContext(ctx context.Context) string {
	if a := AuthFromContext(ctx); a != nil {
		return a.KeyID
	}
	return ""
}
