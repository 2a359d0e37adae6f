// Пакет errors — запись ошибок API в едином формате.
// Формат: {"success": false, "error": "<сообщение>", "code": "<КОД>"}.
// Поле error остаётся строкой: его читает браузерный клиент.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // конфликт имени со stdlib, импортируется как apierrors

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок, определённые в OpenAPI контракте.
const (
	CodeNoFile               = "NO_FILE"
	CodeUnexpectedField      = "UNEXPECTED_FIELD"
	CodeUnsupportedMediaType = "UNSUPPORTED_MEDIA_TYPE"
	CodeFileTooLarge         = "FILE_TOO_LARGE"
	CodeMissingDamagedFile   = "MISSING_DAMAGED_FILE"
	CodeMissingWorkingFile   = "MISSING_WORKING_FILE"
	CodeMissingContact       = "MISSING_CONTACT"
	CodeInvalidEmail         = "INVALID_EMAIL"
	CodeValidationError      = "VALIDATION_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeRateLimited          = "RATE_LIMITED"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeInternalError        = "INTERNAL_ERROR"
)

// ErrorBody — тело ответа ошибки.
type ErrorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — локализованный текст.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorBody{
		Success: false,
		Error:   message,
		Code:    code,
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// RateLimited — 429 превышен лимит запросов.
func RateLimited(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, CodeRateLimited, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
