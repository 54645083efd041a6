package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/teamhub/realtime-gateway/pkg/jwt"
	"github.com/teamhub/realtime-gateway/pkg/log"
	"github.com/teamhub/realtime-gateway/pkg/response"
)

const (
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
	// TokenQueryKey is accepted for browser WebSocket clients that cannot set headers.
	TokenQueryKey = "token"
)

type claimsKey struct{}

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (*jwt.Claims, error)
}

// ExtractToken returns the bearer token from the Authorization header or the token query parameter.
func ExtractToken(r *http.Request) (string, error) {
	if authHeader := r.Header.Get(AuthHeaderKey); authHeader != "" {
		if !strings.HasPrefix(authHeader, BearerPrefix) {
			return "", errors.New("invalid authorization format")
		}
		return strings.TrimPrefix(authHeader, BearerPrefix), nil
	}
	if token := r.URL.Query().Get(TokenQueryKey); token != "" {
		return token, nil
	}
	return "", errors.New("missing authorization header")
}

// Authenticate validates the request token and returns its claims.
func Authenticate(v TokenValidator, r *http.Request) (*jwt.Claims, error) {
	token, err := ExtractToken(r)
	if err != nil {
		return nil, err
	}
	return v.ValidateToken(token)
}

// RequireAuth returns a middleware that rejects requests without a valid token.
func RequireAuth(v TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := Authenticate(v, r)
			if err != nil {
				response.Unauthorized(w, err.Error())
				return
			}

			log.SetActor(r.Context(), claims.UserID, claims.Username)
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// WithClaims stores claims in the context.
func WithClaims(ctx context.Context, claims *jwt.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the claims stored by RequireAuth.
func ClaimsFromContext(ctx context.Context) (*jwt.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*jwt.Claims)
	return c, ok
}

// GetUserID extracts user ID from the request context.
func GetUserID(ctx context.Context) string {
	if c, ok := ClaimsFromContext(ctx); ok {
		return c.UserID
	}
	return ""
}

// GetUsername extracts username from the request context.
func GetUsername(ctx context.Context) string {
	if c, ok := ClaimsFromContext(ctx); ok {
		return c.Username
	}
	return ""
}
