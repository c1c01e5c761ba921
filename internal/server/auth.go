package server

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/feedwire/feedwire/internal/feed"
)

type contextKey string

const userKey contextKey = "user"

// identityMiddleware resolves the acting user from the X-User-ID header
// or the user_id query parameter. Requests without a resolvable identity
// pass through anonymous; handlers that need an actor reject them.
func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-User-ID")
		if raw == "" {
			raw = r.URL.Query().Get("user_id")
		}
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}

		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.logger.Debug("unparseable user id", zap.String("raw", raw))
			next.ServeHTTP(w, r)
			return
		}

		user, err := s.store.GetUserByID(r.Context(), id)
		if err != nil {
			s.logger.Debug("unknown user id", zap.Int64("id", id))
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userFrom returns the acting user, or nil for anonymous requests.
func userFrom(ctx context.Context) *feed.User {
	user, _ := ctx.Value(userKey).(*feed.User)
	return user
}

// requireUser wraps a handler that needs an authenticated actor.
func (s *Server) requireUser(next func(w http.ResponseWriter, r *http.Request, user *feed.User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userFrom(r.Context())
		if user == nil {
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		next(w, r, user)
	}
}
