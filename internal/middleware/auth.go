package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/qninhdt/lumen-tales/server/internal/logger"
	"go.uber.org/zap"
)

type contextKey string

// UserIDKey holds the authenticated user id in the request context
const UserIDKey contextKey = "user_id"

// UserID returns the authenticated user id, empty when absent
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(UserIDKey).(string)
	return id
}

// WithUserID returns ctx carrying id
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, UserIDKey, id)
}

// Authenticator resolves the reader behind a request. With a secret it
// requires an HMAC-signed bearer token whose subject is the user id. Without
// one it trusts the X-User-ID header, which is meant for local development.
type Authenticator struct {
	secret []byte
	logger *zap.Logger
}

// NewAuthenticator creates an authenticator; an empty secret enables header identity
func NewAuthenticator(secret string, log *zap.Logger) *Authenticator {
	a := &Authenticator{logger: logger.OrNop(log).Named("auth")}
	if secret != "" {
		a.secret = []byte(secret)
	} else {
		a.logger.Warn("JWT_SECRET not set, trusting X-User-ID header")
	}
	return a
}

// IssueToken signs a token for userID valid for ttl
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func (a *Authenticator) verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// Middleware rejects requests without an identity
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var userID string
		if a.secret == nil {
			userID = strings.TrimSpace(r.Header.Get("X-User-ID"))
		} else {
			parts := strings.Fields(r.Header.Get("Authorization"))
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeFailure(w, http.StatusUnauthorized, "Missing bearer token", "UNAUTHORIZED")
				return
			}
			id, err := a.verify(parts[1])
			if err != nil {
				if errors.Is(err, jwt.ErrTokenExpired) {
					a.logger.Debug("Expired token")
				} else {
					a.logger.Warn("Token verification failed", zap.Error(err))
				}
				writeFailure(w, http.StatusUnauthorized, "Invalid token", "UNAUTHORIZED")
				return
			}
			userID = id
		}

		if userID == "" {
			writeFailure(w, http.StatusUnauthorized, "Missing user ID", "UNAUTHORIZED")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// OperatorKeyHeader carries the key of operator-only routes
const OperatorKeyHeader = "X-Operator-Key"

// RequireOperatorKey guards operator routes. An empty key disables them.
func RequireOperatorKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				writeFailure(w, http.StatusForbidden, "Operator routes are disabled", "FORBIDDEN")
				return
			}
			given := r.Header.Get(OperatorKeyHeader)
			if subtle.ConstantTimeCompare([]byte(given), []byte(key)) != 1 {
				writeFailure(w, http.StatusUnauthorized, "Invalid operator key", "UNAUTHORIZED")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
