// Пакет server — HTTP-сервер drone-video-fix с graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GnYaroslav/drone-video-fix/internal/api/handlers"
	"github.com/GnYaroslav/drone-video-fix/internal/api/middleware"
	"github.com/GnYaroslav/drone-video-fix/internal/config"
	"github.com/GnYaroslav/drone-video-fix/internal/i18n"
)

// uploadRateWindow — окно лимита загрузок и заявок.
const uploadRateWindow = time.Minute

// Handlers — набор обработчиков, монтируемых в роутер.
type Handlers struct {
	Upload   *handlers.UploadHandler
	Recovery *handlers.RecoveryHandler
	Files    *handlers.FilesHandler
	Health   *handlers.HealthHandler
	// Auth — nil, если операторские endpoints открыты
	Auth *middleware.JWTAuth
}

// NewRouter собирает chi-роутер со всеми маршрутами и middleware.
func NewRouter(cfg *config.Config, logger *slog.Logger, bundle *i18n.Bundle, h Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	// Лимит загрузок считается по IP: заголовкам прокси верим только за своим прокси
	if cfg.TrustedProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.MetricsMiddleware())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Accept-Language", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Retry-After", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(bundle.Middleware())
	r.Use(middleware.Recoverer(logger, bundle))

	r.Get("/health/live", h.Health.HealthLive)
	r.Get("/health/ready", h.Health.HealthReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/openapi.yaml", handlers.OpenAPISpec)

		// Публичные операции сайта
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(cfg.UploadRateLimit, uploadRateWindow, bundle))
			r.Post("/upload-damaged", h.Upload.UploadDamaged)
			r.Post("/upload-working", h.Upload.UploadWorking)
			r.Post("/start-recovery", h.Recovery.StartRecovery)
		})
		r.Get("/recovery-status/{id}", h.Recovery.RecoveryStatus)

		// Операторские операции
		r.Group(func(r chi.Router) {
			if h.Auth != nil {
				r.Use(h.Auth.Middleware())
				r.Use(h.Auth.RequireScope(middleware.ScopeFilesRead))
			}
			r.Get("/files", h.Files.ListFiles)
			r.Get("/download/{filename}", h.Files.DownloadFile)
		})
	})

	if cfg.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(cfg.StaticDir)))
	}

	return r
}

// Server — HTTP-сервер drone-video-fix.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер поверх готового роутера.
// Таймауты чтения и записи рассчитаны на загрузку файлов до сотен мегабайт.
func New(cfg *config.Config, logger *slog.Logger, handler http.Handler) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Minute,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM)
// или фатальной ошибки из fatal. Фатальная ошибка приводит к graceful
// shutdown и возвращается вызывающему.
func (s *Server) Run(fatal <-chan error) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен", slog.String("addr", s.httpServer.Addr))

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
		return nil
	case err := <-fatal:
		s.logger.Error("Фатальная ошибка, завершение работы", slog.String("error", err.Error()))
		runErr = err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Join(runErr, fmt.Errorf("ошибка при graceful shutdown: %w", err))
	}

	s.logger.Info("HTTP-сервер остановлен")
	return runErr
}
