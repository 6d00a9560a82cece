package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk invoicer.
type Metrics struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rejectionsTotal   *prometheus.CounterVec
	catalogRefresh    *prometheus.CounterVec
	catalogProducts   prometheus.Gauge
	persistenceFailed *prometheus.CounterVec
	documentsTotal    *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry, metrik HTTP, dan metrik domain.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invoicer_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "invoicer_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invoicer_engine_rejections_total",
		Help: "Operasi invoice yang ditolak berdasarkan alasan.",
	}, []string{"reason"})
	refresh := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invoicer_catalog_refresh_total",
		Help: "Hasil pemuatan katalog produk.",
	}, []string{"result"})
	products := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "invoicer_catalog_products",
		Help: "Jumlah produk pada snapshot katalog terakhir.",
	})
	persistence := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invoicer_persistence_failures_total",
		Help: "Kegagalan penyimpanan draft per operasi.",
	}, []string{"op"})
	documents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invoicer_documents_generated_total",
		Help: "Dokumen invoice yang dihasilkan.",
	}, []string{"result"})
	registry.MustRegister(requests, duration, rejections, refresh, products, persistence, documents)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		rejectionsTotal:   rejections,
		catalogRefresh:    refresh,
		catalogProducts:   products,
		persistenceFailed: persistence,
		documentsTotal:    documents,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// EngineRejected menghitung operasi yang ditolak engine.
func (m *Metrics) EngineRejected(reason string) {
	if m == nil {
		return
	}
	m.rejectionsTotal.WithLabelValues(reason).Inc()
}

// CatalogRefreshed mencatat hasil refresh katalog.
func (m *Metrics) CatalogRefreshed(products int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.catalogRefresh.WithLabelValues("error").Inc()
		return
	}
	m.catalogRefresh.WithLabelValues("ok").Inc()
	m.catalogProducts.Set(float64(products))
}

// PersistenceFailed menghitung kegagalan penyimpanan draft.
func (m *Metrics) PersistenceFailed(op string) {
	if m == nil {
		return
	}
	m.persistenceFailed.WithLabelValues(op).Inc()
}

// DocumentGenerated mencatat hasil pembuatan dokumen.
func (m *Metrics) DocumentGenerated(err error) {
	if m == nil {
		return
	}
	m.documentsTotal.WithLabelValues(result(err)).Inc()
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps streamed responses working behind the middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
