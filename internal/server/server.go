// Package server is the feed API's HTTP surface. Handlers commit to the
// store first and only then hand a notification to the bridge; the
// fan-out path is invisible to the HTTP response.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/feedwire/feedwire/internal/store"
)

// Notifier is the bridge's fire-and-forget surface.
type Notifier interface {
	Notify(name string, payload any)
}

type Server struct {
	store  store.Store
	bridge Notifier
	clock  clockwork.Clock
	logger *zap.Logger
}

func NewServer(st store.Store, bridge Notifier, clock clockwork.Clock, logger *zap.Logger) *Server {
	return &Server{
		store:  st,
		bridge: bridge,
		clock:  clock,
		logger: logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
