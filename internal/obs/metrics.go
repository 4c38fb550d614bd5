package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics for the ops/query server.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Sync engine metrics.
var (
	syncTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_ticks_total",
			Help: "Poller ticks by outcome.",
		},
		[]string{"status"},
	)

	syncTickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_tick_duration_seconds",
		Help:    "Wall time of a full poller tick.",
		Buckets: prometheus.DefBuckets,
	})

	syncEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_events_total",
			Help: "Ledger events by kind and result (applied, skipped, failed).",
		},
		[]string{"kind", "result"},
	)

	syncWatermark = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_watermark_block",
			Help: "Last fully processed block per event kind.",
		},
		[]string{"kind"},
	)

	syncChainHead = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sync_chain_head_block",
		Help: "Chain head block number seen by the last tick.",
	})

	cascadeRevokedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_cascade_revoked_users_total",
		Help: "Users bulk-revoked by institution revocation cascades.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		syncTicksTotal, syncTickDuration, syncEventsTotal,
		syncWatermark, syncChainHead, cascadeRevokedTotal,
	)
}

// Handler serves /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTick records the outcome and duration of one poller tick.
func ObserveTick(status string, d time.Duration) {
	syncTicksTotal.WithLabelValues(status).Inc()
	syncTickDuration.Observe(d.Seconds())
}

// RecordEvent counts one processed ledger event.
func RecordEvent(kind, result string) {
	syncEventsTotal.WithLabelValues(kind, result).Inc()
}

// SetWatermark exports the advanced watermark for an event kind.
func SetWatermark(kind string, block uint64) {
	syncWatermark.WithLabelValues(kind).Set(float64(block))
}

// SetChainHead exports the most recently observed head.
func SetChainHead(block uint64) {
	syncChainHead.Set(float64(block))
}

// AddCascadeRevoked counts users swept by a revocation cascade.
func AddCascadeRevoked(n int64) {
	if n > 0 {
		cascadeRevokedTotal.Add(float64(n))
	}
}

// Instrument wraps an HTTP handler with RPS/latency/in-flight metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses entity identifiers so metric label cardinality
// stays bounded: /v1/hospitals/42 -> /v1/hospitals/:id.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(p, "/")
	if len(parts) < 4 || parts[1] != "v1" || parts[3] == "" {
		return p
	}
	switch parts[2] {
	case "hospitals", "users", "records", "patients", "professionals", "registrations":
	default:
		return p
	}
	if len(parts) > 5 {
		return p
	}
	parts[3] = ":id"
	return strings.Join(parts, "/")
}

// statusWriter captures the response code for labeling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
