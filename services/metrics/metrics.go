package metrics

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives run and API measurements.
type Recorder interface {
	ObserveRun(status string, exitCode int, duration time.Duration)
	AddWrites(side, action string, ok, failed int)
	SetWatchlistSize(side string, count int)
	IncRequestsTotal(endpoint string, status int)
	ObserveRequestDuration(endpoint string, duration time.Duration)
	// Handler serves the exposition format, or 404 when disabled.
	Handler() http.Handler
}

type promRecorder struct {
	gatherer        prometheus.Gatherer
	runsTotal       *prometheus.CounterVec
	runDuration     prometheus.Histogram
	writesTotal     *prometheus.CounterVec
	watchlistSize   *prometheus.GaugeVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New returns a Prometheus recorder registered on reg, or a no-op recorder
// when metrics are disabled. reg must also be a Gatherer when enabled.
func New(enabled bool, reg prometheus.Registerer) Recorder {
	if !enabled {
		return noopRecorder{}
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer, ok := reg.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	f := promauto.With(reg)

	return &promRecorder{
		gatherer: gatherer,
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "watchsync_runs_total",
			Help: "Finished sync runs by status and exit code",
		}, []string{"status", "exit_code"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "watchsync_run_duration_seconds",
			Help:    "Sync run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		writesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "watchsync_writes_total",
			Help: "Watchlist writes by side, action and outcome",
		}, []string{"side", "action", "outcome"}),
		watchlistSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "watchsync_watchlist_items",
			Help: "Items on each provider watchlist after the last run",
		}, []string{"side"}),
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "watchsync_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"endpoint", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "watchsync_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
}

func (m *promRecorder) ObserveRun(status string, exitCode int, duration time.Duration) {
	m.runsTotal.WithLabelValues(status, exitLabel(exitCode)).Inc()
	m.runDuration.Observe(duration.Seconds())
}

func (m *promRecorder) AddWrites(side, action string, ok, failed int) {
	if ok > 0 {
		m.writesTotal.WithLabelValues(side, action, "ok").Add(float64(ok))
	}
	if failed > 0 {
		m.writesTotal.WithLabelValues(side, action, "failed").Add(float64(failed))
	}
}

func (m *promRecorder) SetWatchlistSize(side string, count int) {
	m.watchlistSize.WithLabelValues(side).Set(float64(count))
}

func (m *promRecorder) IncRequestsTotal(endpoint string, status int) {
	m.requestsTotal.WithLabelValues(endpoint, httpStatusBucket(status)).Inc()
}

func (m *promRecorder) ObserveRequestDuration(endpoint string, duration time.Duration) {
	m.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *promRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func exitLabel(code int) string {
	switch code {
	case 0:
		return "0"
	case 1:
		return "1"
	case 2:
		return "2"
	default:
		return "3"
	}
}

func httpStatusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

type noopRecorder struct{}

func (noopRecorder) ObserveRun(string, int, time.Duration)        {}
func (noopRecorder) AddWrites(string, string, int, int)           {}
func (noopRecorder) SetWatchlistSize(string, int)                 {}
func (noopRecorder) IncRequestsTotal(string, int)                 {}
func (noopRecorder) ObserveRequestDuration(string, time.Duration) {}
func (noopRecorder) Handler() http.Handler                        { return http.NotFoundHandler() }

// Nop returns a recorder that discards everything.
func Nop() Recorder { return noopRecorder{} }

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps server-sent event streams working behind the middleware.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Middleware records request counts and durations, labelled by route template.
func Middleware(m Recorder) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			endpoint := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					endpoint = tpl
				}
			}
			m.IncRequestsTotal(endpoint, sw.status)
			m.ObserveRequestDuration(endpoint, time.Since(start))
		})
	}
}
