package httpapi

import (
	"context"
	"net/http"
	"strings"
)

type userIDKey struct{}

// requireUser переносит X-User-ID в контекст; без заголовка запрос отклоняется с 401.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if userID == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: errorPayload{
				Code:    codeUnauthorized,
				Message: errUserIDMissing.Error(),
			}})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey{}, userID)))
	})
}

func userFrom(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey{}).(string)
	return userID
}
