package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/upload-damaged", "/api/upload-damaged"},
		{"/api/start-recovery", "/api/start-recovery"},
		{"/api/recovery-status/1760000000000", "/api/recovery-status/{id}"},
		{"/api/download/damaged-1-abcd1234.mp4", "/api/download/{filename}"},
		{"/api/unknown", "/api/other"},
		{"/health/ready", "/health/ready"},
		{"/", "/static"},
		{"/css/style.css", "/static"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, ожидалось %q", tt.path, got, tt.want)
		}
	}
}

func TestMetricsMiddleware_PassesStatus(t *testing.T) {
	handler := MetricsMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/files", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("ожидался статус 418, получен %d", rec.Code)
	}
}

// TestRequestLogger_LevelByStatus проверяет уровень записи по статус-коду.
func TestRequestLogger_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "level=INFO"},
		{http.StatusBadRequest, "level=WARN"},
		{http.StatusInternalServerError, "level=ERROR"},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))

		handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte("ok"))
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/start-recovery", nil))

		out := buf.String()
		if !strings.Contains(out, tt.level) {
			t.Errorf("статус %d: ожидался %s в %q", tt.status, tt.level, out)
		}
		if !strings.Contains(out, "bytes=2") || !strings.Contains(out, "path=/api/start-recovery") {
			t.Errorf("статус %d: неполная запись лога %q", tt.status, out)
		}
	}
}

// TestRateLimit проверяет 429 после исчерпания лимита.
func TestRateLimit(t *testing.T) {
	handler := RateLimit(2, time.Minute, testBundle(t))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/upload-damaged", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)

		if rec.Code == http.StatusTooManyRequests {
			if rec.Header().Get("Retry-After") != "60" {
				t.Errorf("ожидался Retry-After=60, получен %q", rec.Header().Get("Retry-After"))
			}
			if !strings.Contains(rec.Body.String(), "RATE_LIMITED") {
				t.Errorf("неожиданное тело: %s", rec.Body.String())
			}
		}
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("ожидались статусы [200 200 429], получены %v", codes)
	}

	// Другой IP не затронут
	req := httptest.NewRequest(http.MethodPost, "/api/upload-damaged", nil)
	req.RemoteAddr = "10.0.0.2:12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("другой IP: ожидался статус 200, получен %d", rec.Code)
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	handler := RateLimit(0, time.Minute, testBundle(t))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("ожидался статус 200, получен %d", rec.Code)
		}
	}
}

func TestRecoverer(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := Recoverer(logger, testBundle(t))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("сбой")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/files", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("ожидался статус 500, получен %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"code":"INTERNAL_ERROR"`) {
		t.Errorf("неожиданное тело: %s", rec.Body.String())
	}
	if !strings.Contains(buf.String(), "Паника в обработчике") {
		t.Errorf("паника не залогирована: %s", buf.String())
	}
}

func TestRecoverer_AbortHandler(t *testing.T) {
	handler := Recoverer(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), testBundle(t))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic(http.ErrAbortHandler)
		}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("ожидалась проброшенная http.ErrAbortHandler, получено %v", rec)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}
