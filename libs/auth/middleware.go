package auth

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey int

const ctxKeyClaims ctxKey = iota

// Verifier checks bearer tokens: RS256 through JWKS when a client is
// configured and the token names a key, HS256 with the shared secret otherwise.
type Verifier struct {
	Secret string
	JWKS   *JWKSClient
}

func (v Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	if v.JWKS != nil {
		header, err := ParseHeader(token)
		if err != nil {
			return nil, err
		}
		if header.Alg == "RS256" && header.Kid != "" {
			pub, err := v.JWKS.Get(ctx, header.Kid)
			if err != nil {
				return nil, ErrInvalidToken
			}
			return VerifyRS256(token, pub)
		}
	}
	if v.Secret == "" {
		return nil, ErrInvalidToken
	}
	return ParseAndVerifyHS256(token, v.Secret)
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKeyClaims).(*Claims)
	return c, ok
}

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, ctxKeyClaims, c)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// verified claims in the request context.
func RequireAuth(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") || len(strings.TrimSpace(authHeader)) <= len("Bearer ") {
				http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}
			claims, err := v.Verify(r.Context(), strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer ")))
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole must run after RequireAuth.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := map[string]struct{}{}
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if _, ok := allowed[claims.Role]; !ok {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CanManageProvider reports whether the holder may edit the given provider's
// schedule: admins may edit any, doctors only their own.
func (c *Claims) CanManageProvider(providerID string) bool {
	switch c.Role {
	case RoleAdmin:
		return true
	case RoleDoctor:
		return c.ProviderID != "" && c.ProviderID == providerID
	default:
		return false
	}
}
