// telegram.go — клиент Telegram Bot API (метод sendMessage).
// Ограничивает частоту отправки (golang.org/x/time/rate) и повторяет
// запрос с экспоненциальной задержкой при сетевых ошибках, 5xx и 429.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxResponseBody — ограничение чтения тела ответа Bot API.
const maxResponseBody = 64 << 10

// TelegramConfig — параметры клиента Bot API.
type TelegramConfig struct {
	// APIURL — базовый URL (https://api.telegram.org)
	APIURL string
	// Token — токен бота
	Token string
	// ChatID — идентификатор чата оператора
	ChatID string
	// Timeout — таймаут одной попытки
	Timeout time.Duration
	// MaxRetries — количество повторов после первой попытки
	MaxRetries int
	// Backoff — начальная задержка между повторами
	Backoff time.Duration
	// MaxBackoff — максимальная задержка между повторами
	MaxBackoff time.Duration
	// RateLimit — сообщений в секунду (0 — без ограничения)
	RateLimit float64
}

// Telegram — Notifier, отправляющий сообщения через Bot API.
type Telegram struct {
	cfg        TelegramConfig
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

// sendMessageRequest — тело запроса sendMessage.
type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// apiResponse — общий формат ответа Bot API.
type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

// NewTelegram создаёт клиент Bot API.
func NewTelegram(cfg TelegramConfig, logger *slog.Logger) (*Telegram, error) {
	if cfg.Token == "" || cfg.ChatID == "" {
		return nil, errors.New("токен бота и chat id обязательны")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.telegram.org"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = cfg.Backoff
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &Telegram{
		cfg:      cfg,
		endpoint: fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(cfg.APIURL, "/"), cfg.Token),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: limiter,
		logger:  logger.With(slog.String("component", "telegram")),
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- только jitter
	}, nil
}

// Notify отправляет сообщение в чат оператора.
// Возвращает *NetworkError или *RemoteError после исчерпания попыток.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:    t.cfg.ChatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("сериализация sendMessage: %w", err)
	}

	maxAttempts := t.cfg.MaxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return &NetworkError{Err: err}
			}
		}

		retryAfter, err := t.send(ctx, body)
		if err == nil {
			if attempt > 1 {
				t.logger.Info("Уведомление отправлено после повтора", slog.Int("attempt", attempt))
			}
			return nil
		}
		lastErr = err

		if attempt == maxAttempts || !shouldRetry(err) {
			break
		}

		wait := t.backoffFor(attempt - 1)
		if retryAfter > wait {
			wait = retryAfter
		}
		t.logger.Warn("Ошибка отправки уведомления, повтор",
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
		if err := sleepWithContext(ctx, wait); err != nil {
			return &NetworkError{Err: err}
		}
	}

	return lastErr
}

// send выполняет одну попытку. Для 429 возвращает рекомендованную задержку.
func (t *Telegram) send(ctx context.Context, body []byte) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("создание запроса sendMessage: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return 0, &NetworkError{Err: redactToken(err, t.cfg.Token)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return 0, &NetworkError{Err: err}
	}

	var parsed apiResponse
	_ = json.Unmarshal(data, &parsed)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && parsed.OK {
		return 0, nil
	}

	remote := &RemoteError{
		StatusCode:  resp.StatusCode,
		ErrorCode:   parsed.ErrorCode,
		Description: parsed.Description,
	}
	var retryAfter time.Duration
	if parsed.Parameters != nil && parsed.Parameters.RetryAfter > 0 {
		retryAfter = time.Duration(parsed.Parameters.RetryAfter) * time.Second
		if retryAfter > t.cfg.MaxBackoff {
			retryAfter = t.cfg.MaxBackoff
		}
	}
	return retryAfter, remote
}

// shouldRetry — повторяются сетевые ошибки, 5xx и 429.
func shouldRetry(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.StatusCode >= http.StatusInternalServerError ||
			remote.StatusCode == http.StatusTooManyRequests
	}
	return false
}

func (t *Telegram) backoffFor(attempt int) time.Duration {
	wait := t.cfg.Backoff * time.Duration(1<<attempt)
	if wait > t.cfg.MaxBackoff || wait <= 0 {
		wait = t.cfg.MaxBackoff
	}
	jitter := time.Duration(t.randInt63n(int64(wait/5 + 1)))
	return wait + jitter
}

func (t *Telegram) randInt63n(n int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rnd.Int63n(n)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// redactToken убирает токен бота из текста ошибки (URL попадает в *url.Error).
func redactToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "<token>"))
}
