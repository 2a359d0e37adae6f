// metrics.go — Prometheus HTTP метрики сервиса.
// Регистрирует метрики: dvf_http_requests_total, dvf_http_request_duration_seconds.
// Бизнес-метрики (dvf_uploads_total, dvf_stored_files и др.) экспортируются
// отсюда и обновляются из сервисного слоя.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dvf_http_requests_total",
			Help: "Общее количество HTTP-запросов",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dvf_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов в секундах",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"method", "path"},
	)
)

// Бизнес-метрики (экспортируются для обновления из сервисного слоя)
var (
	// UploadsTotal — количество загрузок по назначению и результату.
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dvf_uploads_total",
			Help: "Общее количество загрузок видеофайлов",
		},
		[]string{"kind", "result"},
	)

	// UploadedBytes — объём принятых данных.
	UploadedBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dvf_uploaded_bytes_total",
			Help: "Общий объём принятых видеофайлов в байтах",
		},
		[]string{"kind"},
	)

	// StoredFiles — текущее количество файлов в хранилище.
	StoredFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dvf_stored_files",
			Help: "Текущее количество файлов в хранилище",
		},
	)

	// StoredBytes — объём занятого дискового пространства.
	StoredBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dvf_stored_bytes",
			Help: "Объём хранимых файлов в байтах",
		},
	)

	// RecoveryRequestsTotal — количество заявок по результату (created / rejected).
	RecoveryRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dvf_recovery_requests_total",
			Help: "Общее количество заявок на восстановление",
		},
		[]string{"result"},
	)

	// DownloadsTotal — количество скачиваний по результату.
	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dvf_downloads_total",
			Help: "Общее количество скачиваний файлов",
		},
		[]string{"result"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath заменяет параметры пути на шаблон для предотвращения
// взрывного роста кардинальности метрик.
// /api/recovery-status/1760000000000 → /api/recovery-status/{id}
// Пути статического сайта сводятся к /static.
func normalizePath(path string) string {
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/api/upload-damaged", "/api/upload-working", "/api/start-recovery",
		"/api/files", "/api/openapi.yaml":
		return path
	}

	switch {
	case strings.HasPrefix(path, "/api/recovery-status/"):
		return "/api/recovery-status/{id}"
	case strings.HasPrefix(path, "/api/download/"):
		return "/api/download/{filename}"
	case strings.HasPrefix(path, "/api/"):
		return "/api/other"
	}
	return "/static"
}
