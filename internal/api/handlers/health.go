// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/GnYaroslav/drone-video-fix/internal/config"
	"github.com/GnYaroslav/drone-video-fix/internal/storage/filestore"
)

const (
	statusOK       = "ok"
	statusFail     = "fail"
	statusDegraded = "degraded"
)

// serviceName — имя сервиса в ответах health.
const serviceName = "drone-video-fix"

// IndexReadinessChecker — интерфейс для проверки готовности индекса.
type IndexReadinessChecker interface {
	IsReady() bool
}

// DependencyChecker — состояние внешних зависимостей (topologymetrics).
type DependencyChecker interface {
	Health() map[string]bool
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	// dataDir — путь к директории данных (для проверки FS)
	dataDir string
	idx     IndexReadinessChecker
	// deps — nil, если уведомления отключены
	deps DependencyChecker
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(dataDir string, idx IndexReadinessChecker, deps DependencyChecker) *HealthHandler {
	return &HealthHandler{
		version: config.Version,
		dataDir: dataDir,
		idx:     idx,
		deps:    deps,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    statusOK,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   serviceName,
	})
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: файловая система, готовность индекса, доступность Bot API.
// Недоступность Bot API не снимает сервис с балансировки: уведомления некритичны.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := statusOK
	httpStatus := http.StatusOK

	fsCheck := h.checkFilesystem()
	if fsCheck["status"] != statusOK {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	indexCheck := map[string]any{"status": statusOK}
	if h.idx != nil && !h.idx.IsReady() {
		indexCheck = map[string]any{"status": statusFail, "message": "Индекс не построен"}
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	notifierCheck := h.checkNotifier()
	if notifierCheck["status"] != statusOK && overallStatus != statusFail {
		overallStatus = statusDegraded
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   serviceName,
		"checks": map[string]any{
			"filesystem": fsCheck,
			"index":      indexCheck,
			"notifier":   notifierCheck,
		},
	})
}

// checkFilesystem проверяет доступность директории данных на запись.
func (h *HealthHandler) checkFilesystem() map[string]any {
	if h.dataDir == "" {
		return map[string]any{
			"status":  statusOK,
			"message": "Проверка не настроена",
		}
	}

	testFile := filepath.Join(h.dataDir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Директория данных недоступна для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	check := map[string]any{"status": statusOK}
	if usage, err := filestore.Usage(h.dataDir); err == nil {
		check["available"] = humanize.IBytes(usage.Available)
		check["total"] = humanize.IBytes(usage.Total)
	}
	return check
}

// checkNotifier сводит состояние зависимостей в одну проверку.
func (h *HealthHandler) checkNotifier() map[string]any {
	if h.deps == nil {
		return map[string]any{
			"status":  statusOK,
			"message": "Уведомления отключены",
		}
	}

	health := h.deps.Health()
	for endpoint, ok := range health {
		if !ok {
			return map[string]any{
				"status":   statusFail,
				"endpoint": endpoint,
			}
		}
	}
	return map[string]any{"status": statusOK}
}
