// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Сервис мониторит:
//   - Telegram Bot API (HTTP GET, не critical: уведомления не влияют
//     на приём файлов и заявок)
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package service

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks" // Регистрация фабрик checker-ов (HTTP и др.)
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthGroup — имя группы сервиса в метриках зависимостей.
const DephealthGroup = "drone-video-fix"

// TelegramDependency — имя зависимости Bot API в метриках.
const TelegramDependency = "telegram-api"

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
//
// Параметры:
//   - serviceID — имя вершины графа текущего приложения (DVF_SERVICE_ID)
//   - apiURL — базовый URL Bot API (DVF_TELEGRAM_API_URL)
//   - checkInterval — интервал проверки (DVF_DEPHEALTH_CHECK_INTERVAL)
func NewDephealthService(
	serviceID string,
	apiURL string,
	checkInterval time.Duration,
	logger *slog.Logger,
) (*DephealthService, error) {
	return newDephealthService(serviceID, apiURL, checkInterval, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	serviceID string,
	apiURL string,
	checkInterval time.Duration,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(serviceID, apiURL, checkInterval, logger, dephealth.WithRegisterer(registerer))
}

func newDephealthService(
	serviceID string,
	apiURL string,
	checkInterval time.Duration,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	// Токен в пути проверки не используется: он попал бы в логи SDK.
	depOpts := []dephealth.DependencyOption{
		dephealth.FromURL(apiURL),
		dephealth.WithHTTPHealthPath("/"),
		dephealth.CheckInterval(checkInterval),
		dephealth.Critical(false),
	}
	if parsed, err := url.Parse(apiURL); err == nil && parsed.Scheme == "https" {
		depOpts = append(depOpts, dephealth.WithHTTPTLSSkipVerify(false))
	}

	opts := make([]dephealth.Option, 0, 2+len(extraOpts))
	opts = append(opts,
		dephealth.WithLogger(logger),
		dephealth.HTTP(TelegramDependency, depOpts...),
	)
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(serviceID, DephealthGroup, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен (Telegram Bot API)")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — "зависимость:host:port", значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
