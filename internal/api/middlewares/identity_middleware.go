package middleware

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey struct{}

// UserHeader carries the caller's identity, set by an upstream auth proxy.
const UserHeader = "X-User-ID"

// Identity attaches the X-User-ID header to the request context. Requests
// without one are anonymous and see only documents with no owner.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		ctx := context.WithValue(r.Context(), ctxKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserID returns the identity stored by Identity.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
