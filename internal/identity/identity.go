// Package identity verifies session tokens and carries the caller in request contexts.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/ragstream/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// TokenQueryParam carries the session token on the streaming endpoint.
	TokenQueryParam = "token"

	// DefaultTokenTTL matches the lifetime of issued session tokens.
	DefaultTokenTTL = 7 * 24 * time.Hour
)

// ErrUnauthenticated is returned for missing, malformed, expired or forged tokens.
var ErrUnauthenticated = errors.New("unauthenticated")

// Verifier turns a credential into an identity.
type Verifier interface {
	Verify(token string) (domain.Identity, error)
}

type contextKey int

const identityKey contextKey = iota

// Claims is the payload of a session token.
type Claims struct {
	User *domain.Identity `json:"user"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HS256 tokens signed with the session secret.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTVerifier creates a verifier for the given secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify checks the token signature and expiry and returns the embedded user.
func (v *JWTVerifier) Verify(token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if claims.User == nil || claims.User.IsZero() {
		return domain.Identity{}, fmt.Errorf("%w: token has no user", ErrUnauthenticated)
	}
	return *claims.User, nil
}

// Sign issues a token for ident that expires after ttl.
func Sign(secret string, ident domain.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		User: &ident,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// WithIdentity returns a context carrying ident.
func WithIdentity(ctx context.Context, ident domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, ident)
}

// FromContext extracts the caller from the request context.
func FromContext(ctx context.Context) (domain.Identity, bool) {
	ident, ok := ctx.Value(identityKey).(domain.Identity)
	return ident, ok
}

// TokenFromQuery returns the token passed as a connection parameter.
func TokenFromQuery(r *http.Request) string {
	return r.URL.Query().Get(TokenQueryParam)
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// Middleware requires an "Authorization: Bearer" token on REST routes.
// A missing or malformed header is 401, a token that fails verification is 403.
func Middleware(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				http.Error(w, `{"error":"missing or malformed authorization header"}`, http.StatusUnauthorized)
				return
			}

			ident, err := v.Verify(token)
			if err != nil {
				slog.Debug("Rejected bearer token", "error", err, "ip", IPFromRequest(r))
				http.Error(w, `{"error":"invalid token"}`, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), ident)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
