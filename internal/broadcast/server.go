package broadcast

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AcceptLimiter throttles the rate of new fan-out connections and caps
// their total number. It guards the upgrade path, not established
// connections.
type AcceptLimiter struct {
	limiter    *rate.Limiter
	maxClients int
	hub        *Hub
}

func NewAcceptLimiter(perSecond float64, burst, maxClients int, hub *Hub) *AcceptLimiter {
	return &AcceptLimiter{
		limiter:    rate.NewLimiter(rate.Limit(perSecond), burst),
		maxClients: maxClients,
		hub:        hub,
	}
}

// Allow reports whether a new connection may be accepted right now, and
// the status code to refuse with otherwise.
func (a *AcceptLimiter) Allow() (bool, int) {
	if a.hub.ClientCount() >= a.maxClients {
		return false, http.StatusServiceUnavailable
	}
	if !a.limiter.Allow() {
		return false, http.StatusTooManyRequests
	}
	return true, 0
}

// NewRouter builds the broadcast server's HTTP surface: the fan-out
// endpoint, the bridge submission endpoint, liveness, and metrics.
func NewRouter(hub *Hub, accepts *AcceptLimiter, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", runningHandler)
	r.Get("/healthz", runningHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		if ok, code := accepts.Allow(); !ok {
			logger.Warn("refusing connection",
				zap.Int("status", code),
				zap.String("remote", req.RemoteAddr),
			)
			http.Error(w, http.StatusText(code), code)
			return
		}
		hub.HandleClientWS(w, req)
	})

	r.Get("/submit", hub.HandleSubmitWS)

	return r
}

func runningHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("Broadcast server running"))
}
