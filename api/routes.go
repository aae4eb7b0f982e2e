package api

import (
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"watchsync/handlers"
	"watchsync/services/metrics"
)

// Handlers bundles everything the router serves.
type Handlers struct {
	Version    string
	Sync       *handlers.SyncHandler
	Scheduling *handlers.SchedulingHandler
	Settings   *handlers.SettingsHandler
	Stats      *handlers.StatsHandler
	Watchlist  *handlers.WatchlistHandler
	Auth       *handlers.AuthHandler
	Logs       *handlers.LogsHandler
	Metrics    metrics.Recorder
	// SyncLimiter throttles POST /api/sync per client; nil uses the default.
	SyncLimiter *IPRateLimiter
}

// localhostOnlyMiddleware restricts access to loopback clients.
func localhostOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
			http.Error(w, "debug endpoints are only reachable from localhost", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware handles CORS for API routes
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func handleOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Register mounts every route on r.
func Register(r *mux.Router, h Handlers) {
	m := h.Metrics
	if m == nil {
		m = metrics.Nop()
	}
	r.Use(metrics.Middleware(m))

	r.HandleFunc("/health", handlers.Health(h.Version)).Methods(http.MethodGet)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	debug := r.PathPrefix("/debug/pprof").Subrouter()
	debug.Use(localhostOnlyMiddleware)
	debug.HandleFunc("/", pprof.Index)
	debug.HandleFunc("/cmdline", pprof.Cmdline)
	debug.HandleFunc("/profile", pprof.Profile)
	debug.HandleFunc("/symbol", pprof.Symbol)
	debug.HandleFunc("/trace", pprof.Trace)
	debug.PathPrefix("/").HandlerFunc(pprof.Index)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(corsMiddleware)

	limiter := h.SyncLimiter
	if limiter == nil {
		limiter = NewIPRateLimiter(rate.Every(10*time.Second), 3)
	}

	// sync
	api.HandleFunc("/sync", RateLimitHandlerFunc(limiter, h.Sync.Start)).Methods(http.MethodPost)
	api.HandleFunc("/sync/cancel", h.Sync.Cancel).Methods(http.MethodPost)
	api.HandleFunc("/sync/status", h.Sync.Status).Methods(http.MethodGet)
	api.HandleFunc("/sync/events", h.Sync.Events).Methods(http.MethodGet)
	api.HandleFunc("/sync/summaries", h.Sync.ListSummaries).Methods(http.MethodGet)
	api.HandleFunc("/sync/summaries/{name}", h.Sync.GetSummary).Methods(http.MethodGet)
	api.HandleFunc("/state", h.Sync.ResetState).Methods(http.MethodDelete)

	// configuration
	api.HandleFunc("/config", h.Settings.GetSettings).Methods(http.MethodGet)
	api.HandleFunc("/config", h.Settings.PutSettings).Methods(http.MethodPut)
	api.HandleFunc("/scheduling", h.Scheduling.Get).Methods(http.MethodGet)
	api.HandleFunc("/scheduling", h.Scheduling.Put).Methods(http.MethodPut)

	// data
	api.HandleFunc("/stats", h.Stats.Overview).Methods(http.MethodGet)
	api.HandleFunc("/stats/events", h.Stats.Events).Methods(http.MethodGet)
	api.HandleFunc("/watchlist", h.Watchlist.List).Methods(http.MethodGet)
	api.HandleFunc("/watchlist/{key}", h.Watchlist.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/watchlist/{key}/hide", h.Watchlist.Hide).Methods(http.MethodPost)
	api.HandleFunc("/watchlist/{key}/hide", h.Watchlist.Unhide).Methods(http.MethodDelete)

	api.HandleFunc("/auth/status", h.Auth.Status).Methods(http.MethodGet)
	api.HandleFunc("/logs", h.Logs.Get).Methods(http.MethodGet)

	api.PathPrefix("/").HandlerFunc(handleOptions).Methods(http.MethodOptions)
}

// NewRouter builds a router with every route registered.
func NewRouter(h Handlers) *mux.Router {
	r := mux.NewRouter()
	Register(r, h)
	return r
}
