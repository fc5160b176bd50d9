package http

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"spi-exam-service/internal/app"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the service's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	indexSets    prometheus.Gauge
	indexSkipped prometheus.Gauge
	rebuilds     prometheus.Counter
	rebuildTime  prometheus.Histogram
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 2},
			},
			[]string{"method", "endpoint"},
		),
		indexSets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "question_set_index_sets",
			Help: "Question sets in the current index",
		}),
		indexSkipped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "question_set_index_skipped",
			Help: "Documents skipped by the last index build",
		}),
		rebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "question_set_index_rebuilds_total",
			Help: "Completed index builds",
		}),
		rebuildTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "question_set_index_rebuild_seconds",
			Help:    "Duration of index builds",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(m.requests, m.duration, m.indexSets, m.indexSkipped, m.rebuilds, m.rebuildTime)
	return m
}

// ObserveIndex records a published index. It fits app.WithRebuildHook.
func (m *Metrics) ObserveIndex(idx *app.Index, took time.Duration) {
	m.indexSets.Set(float64(idx.Len()))
	m.indexSkipped.Set(float64(len(idx.Skipped())))
	m.rebuilds.Inc()
	m.rebuildTime.Observe(took.Seconds())
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware counts requests by route template.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		m.requests.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		m.duration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}
