package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	jwtutil "github.com/Dias221467/when2meet/pkg/jwt"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type contextKey string

const UserContextKey contextKey = "user"

// UserDirectory confirms that token holders still exist and records activity.
type UserDirectory interface {
	Exists(ctx context.Context, id primitive.ObjectID) (bool, error)
	UpdateLastActive(ctx context.Context, id primitive.ObjectID) error
}

// AuthMiddleware resolves the bearer token to claims stored in the request
// context. Requests without a valid token, or whose user no longer exists,
// get 401.
func AuthMiddleware(secret string, users UserDirectory) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeMessage(w, http.StatusUnauthorized, "Not authorized, no token")
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
			if token == "" {
				writeMessage(w, http.StatusUnauthorized, "Not authorized, no token")
				return
			}

			claims, err := jwtutil.ValidateToken(token, secret)
			if err != nil {
				logrus.WithError(err).Warn("Rejected bearer token")
				writeMessage(w, http.StatusUnauthorized, "Not authorized")
				return
			}
			userID, err := primitive.ObjectIDFromHex(claims.UserID)
			if err != nil {
				writeMessage(w, http.StatusUnauthorized, "Invalid token format")
				return
			}

			if users != nil {
				ok, err := users.Exists(r.Context(), userID)
				if err != nil {
					logrus.WithError(err).Error("Failed to look up token user")
					writeMessage(w, http.StatusInternalServerError, "Error authenticating user")
					return
				}
				if !ok {
					writeMessage(w, http.StatusUnauthorized, "User not found")
					return
				}
				if err := users.UpdateLastActive(r.Context(), userID); err != nil {
					logrus.WithError(err).Warn("Failed to update last active time")
				}
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// WithClaims returns a context carrying the given caller claims.
func WithClaims(ctx context.Context, claims *jwtutil.Claims) context.Context {
	return context.WithValue(ctx, UserContextKey, claims)
}

// GetUserFromContext returns the caller claims, or nil when unauthenticated.
func GetUserFromContext(ctx context.Context) *jwtutil.Claims {
	claims, _ := ctx.Value(UserContextKey).(*jwtutil.Claims)
	return claims
}

// RequireRole rejects callers whose token does not carry role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetUserFromContext(r.Context())
			if claims == nil || claims.Role != role {
				writeMessage(w, http.StatusForbidden, "Forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
