// Пакет notify — отправка уведомлений оператору через Telegram Bot API.
//
// Notifier отправляет одно текстовое сообщение (parse_mode HTML).
// Dispatcher выполняет отправку в фоне, не блокируя HTTP-запрос:
// ошибки уведомлений логируются и никогда не влияют на результат
// загрузки или создания заявки.
package notify

import (
	"context"
	"fmt"
	"log/slog"
)

// Notifier — отправитель уведомлений оператору.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// NetworkError — запрос до Bot API не дошёл (DNS, соединение, таймаут).
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("сетевая ошибка отправки уведомления: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// RemoteError — Bot API ответил ошибкой (HTTP-статус не 2xx или ok=false).
type RemoteError struct {
	StatusCode  int
	ErrorCode   int
	Description string
}

func (e *RemoteError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("Bot API вернул ошибку (HTTP %d, code %d): %s", e.StatusCode, e.ErrorCode, e.Description)
	}
	return fmt.Sprintf("Bot API вернул ошибку (HTTP %d)", e.StatusCode)
}

// Noop — Notifier, который только логирует сообщение.
// Используется, когда токен бота не задан.
type Noop struct {
	logger *slog.Logger
}

// NewNoop создаёт Notifier без отправки.
func NewNoop(logger *slog.Logger) *Noop {
	return &Noop{logger: logger.With(slog.String("component", "notifier_noop"))}
}

// Notify записывает сообщение в лог на уровне debug.
func (n *Noop) Notify(_ context.Context, text string) error {
	n.logger.Debug("Уведомления выключены, сообщение не отправлено",
		slog.Int("length", len(text)),
	)
	return nil
}
