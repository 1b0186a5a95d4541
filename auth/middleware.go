package auth

import (
	"context"
	"net/http"
	"strings"

	"hire-chat/domain"
	"hire-chat/errors"
)

type contextKey string

const userIDKey contextKey = "user_id"

type Validator interface {
	Validate(tokenString string) (domain.UserID, error)
}

// TokenFromRequest reads "Authorization: Bearer <t>", falling back to the
// "token" query parameter browsers use on WebSocket upgrades.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

// Authenticate resolves the caller identity of r.
func Authenticate(v Validator, r *http.Request) (domain.UserID, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return "", errors.ErrUnauthenticated
	}
	return v.Validate(token)
}

// Middleware rejects unauthenticated requests and injects the user identity into the context.
func Middleware(v Validator, onError func(w http.ResponseWriter, r *http.Request, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := Authenticate(v, r)
			if err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func WithUserID(ctx context.Context, userID domain.UserID) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func UserIDFrom(ctx context.Context) (domain.UserID, bool) {
	userID, ok := ctx.Value(userIDKey).(domain.UserID)
	return userID, ok && userID != ""
}
