package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
)

var (
	ErrInvalidToken = errors.New("token is invalid")
	ErrExpiredToken = errors.New("token is expired")
)

// UserHeader carries the caller's ID when no JWT secret is configured.
const UserHeader = "X-User-ID"

// AccessClaims are the claims of an API access token. Tokens from other
// issuers may carry the user in the standard subject instead.
type AccessClaims struct {
	UserID string `json:"userID"`
	jwt.StandardClaims
}

// SignToken issues an HS256 access token for userID.
func SignToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &AccessClaims{
		UserID: userID,
		StandardClaims: jwt.StandardClaims{
			Subject:   userID,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates tokenString and returns the user it was issued for.
func ParseToken(secret, tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil {
		var validationErr *jwt.ValidationError
		if errors.As(err, &validationErr) && validationErr.Errors&jwt.ValidationErrorExpired != 0 {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return "", ErrInvalidToken
	}
	return userID, nil
}

// Auth resolves the calling user. With a secret it requires a Bearer token;
// without one it trusts the X-User-ID header, which is only meant for local
// development. /health is always open.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			var userID string
			if secret == "" {
				userID = strings.TrimSpace(r.Header.Get(UserHeader))
				if userID == "" {
					WriteError(w, http.StatusUnauthorized, "X-User-ID header is required")
					return
				}
			} else {
				authHeader := r.Header.Get("Authorization")
				if authHeader == "" {
					WriteError(w, http.StatusUnauthorized, "Authorization header is required")
					return
				}

				tokenString := strings.TrimPrefix(authHeader, "Bearer ")
				if tokenString == authHeader {
					WriteError(w, http.StatusUnauthorized, "Invalid token format")
					return
				}

				var err error
				userID, err = ParseToken(secret, tokenString)
				if err != nil {
					WriteError(w, http.StatusUnauthorized, "Invalid or expired token")
					return
				}
			}

			setLogUser(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// WithUserID stores the authenticated user in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the user set by Auth.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}
