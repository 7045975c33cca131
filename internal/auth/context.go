package auth

import (
	"context"

	"github.com/af-corp/hearth/internal/types"
)

type contextKey string

const authContextKey contextKey = "hearth_auth"

// AuthInfo holds authenticated identity information extracted from an API key.
type AuthInfo struct {
	KeyID   string
	Name    string
	MaxMode types.Mode
}

// Allows reports whether the key may submit queries in mode.
func (a *AuthInfo) Allows(mode types.Mode) bool {
	return a.MaxMode.Allows(mode)
}

func ContextWithAuth(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, authContextKey, info)
}

func AuthFromContext(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(authContextKey).(*AuthInfo)
	return info, ok
}
