// Package mgmtauth is JWT bearer-token middleware for the management HTTP
// surface only; it never touches the UPnP protocol.
package mgmtauth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/strefethen/sonosstream/internal/api"
	"github.com/strefethen/sonosstream/internal/apperrors"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

type contextKey string

const subjectKey contextKey = "mgmtauth.subject"

type claims struct {
	jwt.RegisteredClaims
}

// VerifyToken parses and validates a bearer token against secret using
// HS256, the teacher's signing method of choice for its own access
// tokens.
func VerifyToken(secret, token string) (string, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))

	parsed, err := parser.ParseWithClaims(token, &claims{}, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrTokenInvalid
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || c.Subject == "" {
		return "", ErrTokenInvalid
	}
	return c.Subject, nil
}

// Middleware validates the Authorization header of every request against
// secret. An empty secret disables auth entirely, letting every request
// through unauthenticated (intended for local development, mirroring the
// teacher's ALLOW_TEST_MODE escape hatch).
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.WriteError(w, r, apperrors.NewUnauthorizedError("missing Authorization header"))
				return
			}
			if !strings.HasPrefix(authHeader, "Bearer ") {
				api.WriteError(w, r, apperrors.NewUnauthorizedError("invalid Authorization header format"))
				return
			}
			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == "" {
				api.WriteError(w, r, apperrors.NewUnauthorizedError("invalid Authorization header format"))
				return
			}

			subject, err := VerifyToken(secret, token)
			if err != nil {
				if errors.Is(err, ErrTokenExpired) {
					api.WriteError(w, r, apperrors.NewUnauthorizedError("token has expired", apperrors.ErrorCodeAuthTokenExpired))
					return
				}
				api.WriteError(w, r, apperrors.NewUnauthorizedError("invalid token", apperrors.ErrorCodeAuthTokenInvalid))
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey, subject)))
		})
	}
}

// Subject returns the validated token subject for the current request, or
// "" if the request was let through with auth disabled.
func Subject(r *http.Request) string {
	if v := r.Context().Value(subjectKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
