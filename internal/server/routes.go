package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func NewRouter(server *Server, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)
	r.Use(zapLoggerMiddleware(logger))

	r.Get("/healthz", server.handleHealth)

	r.Route("/api", func(api chi.Router) {
		api.Use(server.identityMiddleware)

		api.Get("/feed", server.handleFeed)
		api.Get("/leaderboard", server.handleLeaderboard)

		api.Post("/signup", server.handleSignup)
		api.Post("/login", server.handleLogin)

		api.Post("/post", server.requireUser(server.handleCreatePost))
		api.Delete("/post/{postID}", server.requireUser(server.handleDeletePost))

		api.Post("/comment/{postID}", server.requireUser(server.handleAddComment))
		api.Delete("/comment/delete/{commentID}", server.requireUser(server.handleDeleteComment))

		api.Post("/like/post/{postID}", server.requireUser(server.handleLikePost))
		api.Post("/like/comment/{commentID}", server.requireUser(server.handleLikeComment))
		api.Delete("/unlike/post/{postID}", server.requireUser(server.handleUnlikePost))
		api.Delete("/unlike/comment/{commentID}", server.requireUser(server.handleUnlikeComment))
	})

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			next.ServeHTTP(w, r)
		})
	}
}
