// handler.go — общие части обработчиков: запись JSON, перевод ошибок
// сервисного слоя в ответ API, дескриптор загруженного файла.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/GnYaroslav/drone-video-fix/internal/api/errors"
	"github.com/GnYaroslav/drone-video-fix/internal/domain/model"
	"github.com/GnYaroslav/drone-video-fix/internal/i18n"
	"github.com/GnYaroslav/drone-video-fix/internal/service"
)

// FileDescriptor — JSON-представление загруженного файла.
// filename и size дублируют storageKey и sizeBytes: их читает браузерный клиент.
type FileDescriptor struct {
	StorageKey   string    `json:"storageKey"`
	Filename     string    `json:"filename"`
	OriginalName string    `json:"originalName"`
	MimeType     string    `json:"mimeType"`
	SizeBytes    int64     `json:"sizeBytes"`
	Size         int64     `json:"size"`
	UploadedAt   time.Time `json:"uploadedAt"`
	Kind         string    `json:"kind"`
}

func toFileDescriptor(meta *model.UploadedFile) FileDescriptor {
	return FileDescriptor{
		StorageKey:   meta.StorageKey,
		Filename:     meta.StorageKey,
		OriginalName: meta.OriginalName,
		MimeType:     meta.MimeType,
		SizeBytes:    meta.SizeBytes,
		Size:         meta.SizeBytes,
		UploadedAt:   meta.UploadedAt,
		Kind:         string(meta.Kind),
	}
}

// writeJSON записывает успешный JSON-ответ.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeServiceError переводит ошибку сервиса в локализованный ответ.
// Ошибки без *service.Error считаются внутренними: клиент получает
// общее сообщение, подробности остаются в логе.
func writeServiceError(w http.ResponseWriter, r *http.Request, bundle *i18n.Bundle, logger *slog.Logger, err error) {
	svcErr, ok := service.AsError(err)
	if !ok {
		logger.Error("Необработанная ошибка",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, bundle.T(r.Context(), "error.internal"))
		return
	}

	if svcErr.StatusCode >= http.StatusInternalServerError {
		logger.Error("Внутренняя ошибка",
			slog.String("path", r.URL.Path),
			slog.String("code", svcErr.Code),
			slog.Any("error", errors.Unwrap(svcErr)),
		)
	}

	apierrors.WriteError(w, svcErr.StatusCode, svcErr.Code, bundle.T(r.Context(), svcErr.MessageKey, svcErr.Args...))
}
