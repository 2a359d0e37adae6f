// Пакет service — бизнес-логика приёма видео и заявок на восстановление.
// errors.go — доменная ошибка с HTTP-кодом и ключом локализованного сообщения.
package service

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"

	apierrors "github.com/GnYaroslav/drone-video-fix/internal/api/errors"
)

// Error — ошибка операции сервиса.
// MessageKey и Args переводятся в текст ответа на границе HTTP.
type Error struct {
	StatusCode int
	Code       string
	MessageKey string
	Args       []any
	// Err — исходная причина (только для логов)
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError извлекает *Error из цепочки ошибок.
func AsError(err error) (*Error, bool) {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr, true
	}
	return nil, false
}

func badRequest(code, key string, args ...any) *Error {
	return &Error{StatusCode: http.StatusBadRequest, Code: code, MessageKey: key, Args: args}
}

// ErrUnsupportedMediaType — заявленный тип файла не видео.
func ErrUnsupportedMediaType() *Error {
	return badRequest(apierrors.CodeUnsupportedMediaType, "error.unsupported_media_type")
}

// ErrFileTooLarge — файл больше допустимого размера.
func ErrFileTooLarge(maxSize int64) *Error {
	return badRequest(apierrors.CodeFileTooLarge, "error.file_too_large", humanize.IBytes(uint64(maxSize)))
}

// ErrMissingDamagedFile — повреждённый файл не указан или не найден.
func ErrMissingDamagedFile() *Error {
	return badRequest(apierrors.CodeMissingDamagedFile, "error.missing_damaged_file")
}

// ErrMissingWorkingFile — указанный рабочий файл не найден.
func ErrMissingWorkingFile() *Error {
	return badRequest(apierrors.CodeMissingWorkingFile, "error.missing_working_file")
}

// ErrMissingContact — не указан ни email, ни telegram.
func ErrMissingContact() *Error {
	return badRequest(apierrors.CodeMissingContact, "error.missing_contact")
}

// ErrInvalidEmail — email не проходит синтаксическую проверку.
func ErrInvalidEmail() *Error {
	return badRequest(apierrors.CodeInvalidEmail, "error.invalid_email")
}

// ErrInternal — внутренняя ошибка, причина только в логах.
func ErrInternal(key string, cause error) *Error {
	return &Error{
		StatusCode: http.StatusInternalServerError,
		Code:       apierrors.CodeInternalError,
		MessageKey: key,
		Err:        cause,
	}
}

// ErrNotFound — файл не найден.
func ErrNotFound() *Error {
	return &Error{StatusCode: http.StatusNotFound, Code: apierrors.CodeNotFound, MessageKey: "error.not_found"}
}
