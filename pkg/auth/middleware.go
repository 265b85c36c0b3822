package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bridgelock/escrow/pkg/api/problem"
	"github.com/bridgelock/escrow/pkg/contracts"
)

// Claims are the JWT claims the escrow API expects. The subject is the
// principal identity.
type Claims struct {
	jwt.RegisteredClaims
}

// Validator validates HS256 bearer tokens against a shared secret.
type Validator struct {
	secret []byte
}

// NewValidator creates a validator. An empty secret yields a nil validator,
// which makes the middleware fail closed.
func NewValidator(secret []byte) *Validator {
	if len(secret) == 0 {
		return nil
	}
	return &Validator{secret: secret}
}

// Validate parses and validates a token string, returning the principal.
func (v *Validator) Validate(tokenStr string) (contracts.Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("invalid token")
	}
	return contracts.Principal(claims.Subject), nil
}

// publicPaths are endpoints that do not require authentication.
var publicPaths = []string{
	"/health",
	"/readiness",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// Middleware authenticates Bearer tokens and attaches the principal to the
// request context. A nil validator rejects all non-public requests.
func Middleware(validator *Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if validator == nil || !strings.HasPrefix(header, "Bearer ") {
				problem.WriteUnauthorized(w, "bearer token required")
				return
			}

			principal, err := validator.Validate(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				problem.WriteUnauthorized(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}
