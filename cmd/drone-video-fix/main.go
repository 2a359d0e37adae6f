// Точка входа drone-video-fix — сервиса приёма видео с дронов
// и регистрации заявок на восстановление.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/GnYaroslav/drone-video-fix/internal/api/handlers"
	"github.com/GnYaroslav/drone-video-fix/internal/api/middleware"
	"github.com/GnYaroslav/drone-video-fix/internal/api/openapi"
	"github.com/GnYaroslav/drone-video-fix/internal/config"
	"github.com/GnYaroslav/drone-video-fix/internal/i18n"
	"github.com/GnYaroslav/drone-video-fix/internal/notify"
	"github.com/GnYaroslav/drone-video-fix/internal/server"
	"github.com/GnYaroslav/drone-video-fix/internal/service"
	"github.com/GnYaroslav/drone-video-fix/internal/storage/filestore"
	"github.com/GnYaroslav/drone-video-fix/internal/storage/index"
)

// Параметры JWKS операторской аутентификации.
const (
	jwksClientTimeout   = 10 * time.Second
	jwksRefreshInterval = 15 * time.Minute
	jwtLeeway           = 5 * time.Second
)

func main() {
	if err := config.LoadEnvFile(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	logger := config.SetupLogger(cfg)
	logger.Info("drone-video-fix запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("data_dir", cfg.DataDir),
		slog.Bool("telegram", cfg.TelegramEnabled()),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("drone-video-fix остановлен")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	// --- Инициализация компонентов ---

	// 1. Контракт API: встроенный документ должен быть валиден
	if _, err := openapi.Load(ctx); err != nil {
		return fmt.Errorf("OpenAPI-документ: %w", err)
	}

	// 2. Сообщения ru/en
	bundle, err := i18n.Load(cfg.DefaultLang, logger)
	if err != nil {
		return fmt.Errorf("загрузка локализации: %w", err)
	}

	// 3. Файловое хранилище и индекс
	store, err := filestore.New(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("инициализация FileStore: %w", err)
	}

	idx := index.New(logger)
	if err := idx.BuildFromDir(cfg.DataDir); err != nil {
		return fmt.Errorf("построение индекса: %w", err)
	}
	middleware.StoredFiles.Set(float64(idx.Count()))
	middleware.StoredBytes.Set(float64(idx.TotalBytes()))

	// 4. Уведомления оператору
	var notifier notify.Notifier
	if cfg.TelegramEnabled() {
		tg, tgErr := notify.NewTelegram(notify.TelegramConfig{
			APIURL:     cfg.TelegramAPIURL,
			Token:      cfg.TelegramBotToken,
			ChatID:     cfg.TelegramChatID,
			Timeout:    cfg.NotifyTimeout,
			MaxRetries: cfg.NotifyMaxRetries,
			Backoff:    cfg.NotifyBackoff,
			MaxBackoff: cfg.NotifyMaxBackoff,
			RateLimit:  cfg.NotifyRate,
		}, logger)
		if tgErr != nil {
			return fmt.Errorf("инициализация Telegram: %w", tgErr)
		}
		notifier = tg
	} else {
		logger.Warn("DVF_TELEGRAM_BOT_TOKEN или DVF_TELEGRAM_CHAT_ID не заданы, уведомления только в лог")
		notifier = notify.NewNoop(logger)
	}

	// Паника в горутине отправки останавливает сервис
	fatal := make(chan error, 1)
	dispatcher := notify.NewDispatcher(notifier, notify.DispatcherConfig{
		Timeout:     cfg.NotifyBudget(),
		MaxInFlight: int64(cfg.NotifyMaxInFlight),
		OnPanic: func(recovered any) {
			select {
			case fatal <- fmt.Errorf("паника при отправке уведомления: %v", recovered):
			default:
			}
		},
	}, logger)

	// 5. Сервисы
	uploadSvc := service.NewUploadService(cfg, store, idx, dispatcher, logger)
	recoverySvc := service.NewRecoveryService(idx, cfg.RequestCacheSize, cfg.RequestRetention, dispatcher, bundle, logger)
	downloadSvc := service.NewDownloadService(store, idx, logger)

	// 6. Фоновые процессы
	retentionSvc := service.NewRetentionService(store, idx, cfg.FileRetention, cfg.RetentionInterval, logger)
	retentionSvc.Start(ctx)

	// nil-интерфейс, а не типизированный nil: health трактует его как «уведомления отключены»
	var deps handlers.DependencyChecker
	var dephealthSvc *service.DephealthService
	if cfg.TelegramEnabled() {
		dephealthSvc, err = service.NewDephealthService(cfg.ServiceID, cfg.TelegramAPIURL, cfg.DephealthCheckInterval, logger)
		if err != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", err.Error()),
			)
		} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
			dephealthSvc = nil
		} else {
			deps = dephealthSvc
			logger.Info("topologymetrics запущен",
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 7. Операторская аутентификация
	var jwtAuth *middleware.JWTAuth
	if cfg.OperatorJWKSURL != "" {
		jwtAuth, err = middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.OperatorJWKSURL,
			ClientTimeout:   jwksClientTimeout,
			RefreshInterval: jwksRefreshInterval,
			JWTLeeway:       jwtLeeway,
		}, bundle, logger)
		if err != nil {
			return fmt.Errorf("JWT аутентификация: %w", err)
		}
		logger.Info("JWT аутентификация операторских endpoints настроена",
			slog.String("jwks_url", cfg.OperatorJWKSURL),
		)
	} else {
		logger.Warn("DVF_OPERATOR_JWKS_URL не задан, /api/files и /api/download открыты")
	}

	// 8. HTTP
	router := server.NewRouter(cfg, logger, bundle, server.Handlers{
		Upload:   handlers.NewUploadHandler(uploadSvc, bundle, cfg.MaxFileSize, logger),
		Recovery: handlers.NewRecoveryHandler(recoverySvc, bundle, logger),
		Files:    handlers.NewFilesHandler(idx, downloadSvc, bundle, logger),
		Health:   handlers.NewHealthHandler(cfg.DataDir, idx, deps),
		Auth:     jwtAuth,
	})

	srv := server.New(cfg, logger, router)
	runErr := srv.Run(fatal)

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")

	retentionSvc.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := dispatcher.Close(closeCtx); err != nil {
		logger.Warn("Не все уведомления отправлены до остановки", slog.String("error", err.Error()))
	}

	return runErr
}
