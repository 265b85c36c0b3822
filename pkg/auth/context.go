// Package auth authenticates HTTP callers and resolves them into the
// explicit principal the engine requires. The engine itself never inspects
// transport credentials; it only ever sees the principal this layer attaches
// to the request context.
package auth

import (
	"context"
	"errors"

	"github.com/bridgelock/escrow/pkg/contracts"
)

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal attaches an authenticated principal to the context.
func WithPrincipal(ctx context.Context, p contracts.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal retrieves the authenticated principal from the context.
func GetPrincipal(ctx context.Context) (contracts.Principal, error) {
	p, ok := ctx.Value(principalKey).(contracts.Principal)
	if !ok || p == "" {
		return "", errors.New("no principal in context")
	}
	return p, nil
}
