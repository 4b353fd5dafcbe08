package auth

import (
	"context"
	"net/http"
)

type contextKey struct{}

// FromContext returns the identity resolved for this request, if any.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*Identity)
	return id, ok && id != nil
}

// Middleware resolves the caller's identity and stores it in the request
// context. Requests without credentials pass through unauthenticated;
// requests with bad credentials are rejected with 401.
func Middleware(res Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := res.Resolve(r)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if id != nil {
				r = r.WithContext(context.WithValue(r.Context(), contextKey{}, id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireIdentity rejects requests that reached an authenticated route
// without a resolved identity.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
