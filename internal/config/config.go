// Пакет config — загрузка и валидация конфигурации сервиса приёма видео
// из переменных окружения. Секреты (токен бота, chat id) задаются только
// через окружение или .env файл.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации сервиса.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Директория хранения загруженных файлов
	DataDir string
	// Директория статического сайта (пусто — не обслуживается)
	StaticDir string
	// Максимальный размер загружаемого файла в байтах
	MaxFileSize int64

	// Срок хранения загрузок (0 — хранить бессрочно)
	FileRetention time.Duration
	// Интервал запуска очистки устаревших загрузок
	RetentionInterval time.Duration
	// Срок хранения заявок в реестре
	RequestRetention time.Duration
	// Максимальное количество заявок в реестре
	RequestCacheSize int

	// Базовый URL Bot API
	TelegramAPIURL string
	// Токен бота (секрет)
	TelegramBotToken string
	// Идентификатор чата оператора (секрет)
	TelegramChatID string
	// Таймаут одной попытки отправки уведомления
	NotifyTimeout time.Duration
	// Количество повторов при сетевых ошибках и 5xx
	NotifyMaxRetries int
	// Начальная задержка между повторами
	NotifyBackoff time.Duration
	// Максимальная задержка между повторами
	NotifyMaxBackoff time.Duration
	// Лимит отправки сообщений в секунду
	NotifyRate float64
	// Максимальное количество одновременно отправляемых уведомлений
	NotifyMaxInFlight int

	// Лимит загрузок в минуту с одного IP (0 — без ограничения)
	UploadRateLimit int
	// Сервис за доверенным reverse proxy: клиентский IP берётся
	// из X-Forwarded-For/X-Real-IP. Без прокси заголовки не учитываются.
	TrustedProxy bool
	// Разрешённые CORS origins
	CORSOrigins []string
	// URL JWKS для защиты операторских endpoints (пусто — без аутентификации)
	OperatorJWKSURL string
	// Язык сообщений по умолчанию (ru, en)
	DefaultLang string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя сервиса в метриках topologymetrics
	ServiceID string
}

// NotifyBudget — полное время на одно уведомление: все попытки
// и паузы между ними. Пауза не дольше NotifyMaxBackoff плюс 20% jitter.
func (c *Config) NotifyBudget() time.Duration {
	retries := time.Duration(c.NotifyMaxRetries)
	maxWait := c.NotifyMaxBackoff + c.NotifyMaxBackoff/5
	return c.NotifyTimeout*(retries+1) + maxWait*retries
}

// TelegramEnabled возвращает true, если заданы оба секрета бота.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

// LoadEnvFile загружает переменные из .env файла (DVF_ENV_FILE, по умолчанию .env).
// Уже заданные переменные окружения не перезаписываются.
// Отсутствие файла не является ошибкой.
func LoadEnvFile() error {
	path := getEnvDefault("DVF_ENV_FILE", ".env")
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("DVF_ENV_FILE: ошибка чтения %s: %w", path, err)
	}
	return nil
}

// Load загружает конфигурацию из переменных окружения, валидирует
// значения и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}

	// DVF_PORT — порт HTTP-сервера (по умолчанию 3000)
	port, err := getEnvInt("DVF_PORT", 3000)
	if err != nil {
		return nil, fmt.Errorf("DVF_PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("DVF_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	cfg.DataDir = getEnvDefault("DVF_DATA_DIR", "./uploads")
	cfg.StaticDir = getEnvDefault("DVF_STATIC_DIR", "")

	// DVF_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 100 MB)
	cfg.MaxFileSize, err = getEnvInt64("DVF_MAX_FILE_SIZE", 100*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("DVF_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("DVF_MAX_FILE_SIZE: значение должно быть положительным")
	}

	// DVF_FILE_RETENTION — срок хранения загрузок (по умолчанию 7 дней)
	cfg.FileRetention, err = getEnvDuration("DVF_FILE_RETENTION", 168*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("DVF_FILE_RETENTION: %w", err)
	}
	if cfg.FileRetention < 0 {
		return nil, fmt.Errorf("DVF_FILE_RETENTION: значение не может быть отрицательным")
	}

	cfg.RetentionInterval, err = getEnvDuration("DVF_RETENTION_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("DVF_RETENTION_INTERVAL: %w", err)
	}
	if cfg.RetentionInterval <= 0 {
		return nil, fmt.Errorf("DVF_RETENTION_INTERVAL: значение должно быть положительным")
	}

	cfg.RequestRetention, err = getEnvDuration("DVF_REQUEST_RETENTION", 72*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("DVF_REQUEST_RETENTION: %w", err)
	}

	cfg.RequestCacheSize, err = getEnvInt("DVF_REQUEST_CACHE_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("DVF_REQUEST_CACHE_SIZE: %w", err)
	}
	if cfg.RequestCacheSize <= 0 {
		return nil, fmt.Errorf("DVF_REQUEST_CACHE_SIZE: значение должно быть положительным")
	}

	// --- Уведомления ---

	cfg.TelegramAPIURL = strings.TrimRight(getEnvDefault("DVF_TELEGRAM_API_URL", "https://api.telegram.org"), "/")
	cfg.TelegramBotToken = os.Getenv("DVF_TELEGRAM_BOT_TOKEN")
	cfg.TelegramChatID = os.Getenv("DVF_TELEGRAM_CHAT_ID")
	if (cfg.TelegramBotToken == "") != (cfg.TelegramChatID == "") {
		return nil, fmt.Errorf("DVF_TELEGRAM_BOT_TOKEN и DVF_TELEGRAM_CHAT_ID задаются только вместе")
	}

	cfg.NotifyTimeout, err = getEnvDuration("DVF_NOTIFY_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DVF_NOTIFY_TIMEOUT: %w", err)
	}

	cfg.NotifyMaxRetries, err = getEnvInt("DVF_NOTIFY_MAX_RETRIES", 2)
	if err != nil {
		return nil, fmt.Errorf("DVF_NOTIFY_MAX_RETRIES: %w", err)
	}
	if cfg.NotifyMaxRetries < 0 {
		return nil, fmt.Errorf("DVF_NOTIFY_MAX_RETRIES: значение не может быть отрицательным")
	}

	cfg.NotifyBackoff, err = getEnvDuration("DVF_NOTIFY_BACKOFF", 500*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("DVF_NOTIFY_BACKOFF: %w", err)
	}
	cfg.NotifyMaxBackoff, err = getEnvDuration("DVF_NOTIFY_MAX_BACKOFF", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DVF_NOTIFY_MAX_BACKOFF: %w", err)
	}
	if cfg.NotifyMaxBackoff < cfg.NotifyBackoff {
		return nil, fmt.Errorf("DVF_NOTIFY_MAX_BACKOFF: значение %s должно быть >= DVF_NOTIFY_BACKOFF (%s)",
			cfg.NotifyMaxBackoff, cfg.NotifyBackoff)
	}

	cfg.NotifyRate, err = getEnvFloat("DVF_NOTIFY_RATE", 1)
	if err != nil {
		return nil, fmt.Errorf("DVF_NOTIFY_RATE: %w", err)
	}
	if cfg.NotifyRate <= 0 {
		return nil, fmt.Errorf("DVF_NOTIFY_RATE: значение должно быть положительным")
	}

	cfg.NotifyMaxInFlight, err = getEnvInt("DVF_NOTIFY_MAX_INFLIGHT", 32)
	if err != nil {
		return nil, fmt.Errorf("DVF_NOTIFY_MAX_INFLIGHT: %w", err)
	}
	if cfg.NotifyMaxInFlight <= 0 {
		return nil, fmt.Errorf("DVF_NOTIFY_MAX_INFLIGHT: значение должно быть положительным")
	}

	// --- HTTP ---

	cfg.UploadRateLimit, err = getEnvInt("DVF_UPLOAD_RATE_LIMIT", 30)
	if err != nil {
		return nil, fmt.Errorf("DVF_UPLOAD_RATE_LIMIT: %w", err)
	}
	if cfg.UploadRateLimit < 0 {
		return nil, fmt.Errorf("DVF_UPLOAD_RATE_LIMIT: значение не может быть отрицательным")
	}

	cfg.TrustedProxy, err = getEnvBool("DVF_TRUSTED_PROXY", false)
	if err != nil {
		return nil, fmt.Errorf("DVF_TRUSTED_PROXY: %w", err)
	}

	cfg.CORSOrigins = splitList(getEnvDefault("DVF_CORS_ORIGINS", "*"))
	cfg.OperatorJWKSURL = getEnvDefault("DVF_OPERATOR_JWKS_URL", "")

	cfg.DefaultLang = strings.ToLower(getEnvDefault("DVF_DEFAULT_LANG", "ru"))
	if cfg.DefaultLang != "ru" && cfg.DefaultLang != "en" {
		return nil, fmt.Errorf("DVF_DEFAULT_LANG: недопустимое значение %q, допустимые: ru, en", cfg.DefaultLang)
	}

	// --- Логирование и жизненный цикл ---

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("DVF_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("DVF_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("DVF_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DVF_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.ShutdownTimeout, err = getEnvDuration("DVF_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DVF_SHUTDOWN_TIMEOUT: %w", err)
	}

	cfg.DephealthCheckInterval, err = getEnvDuration("DVF_DEPHEALTH_CHECK_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DVF_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	cfg.ServiceID = getEnvDefault("DVF_SERVICE_ID", "drone-video-fix")

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное число: %q", val)
	}
	return f, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// splitList разбирает список через запятую, пустые элементы отбрасываются.
func splitList(val string) []string {
	var result []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
