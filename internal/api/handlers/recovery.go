// recovery.go — обработчики POST /api/start-recovery и GET /api/recovery-status/{id}.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/GnYaroslav/drone-video-fix/internal/api/errors"
	"github.com/GnYaroslav/drone-video-fix/internal/domain/model"
	"github.com/GnYaroslav/drone-video-fix/internal/i18n"
	"github.com/GnYaroslav/drone-video-fix/internal/service"
)

// maxRecoveryBodySize — ограничение тела запроса на восстановление.
const maxRecoveryBodySize = 64 << 10

// Registrar — сервис регистрации заявок.
type Registrar interface {
	Register(ctx context.Context, params service.RecoveryParams) (*service.RecoveryResult, error)
	Status(ctx context.Context, requestID string) *model.StatusReport
}

// FileRef — ссылка на загруженный файл.
// Клиент присылает либо строку (storageKey), либо объект дескриптора
// с полем storageKey или filename.
type FileRef string

// UnmarshalJSON принимает обе формы ссылки.
func (f *FileRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FileRef(s)
		return nil
	}

	var obj struct {
		StorageKey string `json:"storageKey"`
		Filename   string `json:"filename"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.StorageKey != "" {
		*f = FileRef(obj.StorageKey)
	} else {
		*f = FileRef(obj.Filename)
	}
	return nil
}

// StartRecoveryRequest — тело POST /api/start-recovery.
type StartRecoveryRequest struct {
	DamagedFile FileRef `json:"damagedFile"`
	WorkingFile FileRef `json:"workingFile"`
	Email       string  `json:"email"`
	Telegram    string  `json:"telegram"`
}

// StartRecoveryResponse — ответ успешной регистрации заявки.
type StartRecoveryResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	RecoveryID    string `json:"recoveryId"`
	EstimatedTime string `json:"estimatedTime"`
}

// RecoveryStatusResponse — ответ GET /api/recovery-status/{id}.
type RecoveryStatusResponse struct {
	RecoveryID    string `json:"recoveryId"`
	Status        string `json:"status"`
	Progress      int    `json:"progress"`
	EstimatedTime string `json:"estimatedTime"`
}

// RecoveryHandler обрабатывает заявки на восстановление.
type RecoveryHandler struct {
	registrar Registrar
	bundle    *i18n.Bundle
	logger    *slog.Logger
}

// NewRecoveryHandler создаёт обработчик заявок.
func NewRecoveryHandler(registrar Registrar, bundle *i18n.Bundle, logger *slog.Logger) *RecoveryHandler {
	return &RecoveryHandler{
		registrar: registrar,
		bundle:    bundle,
		logger:    logger.With(slog.String("component", "recovery_handler")),
	}
}

// StartRecovery обрабатывает POST /api/start-recovery.
func (h *RecoveryHandler) StartRecovery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req StartRecoveryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRecoveryBodySize)).Decode(&req); err != nil {
		apierrors.ValidationError(w, h.bundle.T(ctx, "error.invalid_body"))
		return
	}

	result, err := h.registrar.Register(ctx, service.RecoveryParams{
		DamagedFileRef:  string(req.DamagedFile),
		WorkingFileRef:  string(req.WorkingFile),
		ContactEmail:    req.Email,
		ContactTelegram: req.Telegram,
	})
	if err != nil {
		writeServiceError(w, r, h.bundle, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, StartRecoveryResponse{
		Success:       true,
		Message:       h.bundle.T(ctx, "recovery.started"),
		RecoveryID:    result.Request.RequestID,
		EstimatedTime: result.EstimatedTime,
	})
}

// RecoveryStatus обрабатывает GET /api/recovery-status/{id}.
// Ответ синтетический: реального процесса восстановления нет.
func (h *RecoveryHandler) RecoveryStatus(w http.ResponseWriter, r *http.Request) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil || id == "" {
		apierrors.ValidationError(w, h.bundle.T(r.Context(), "error.invalid_param", "id"))
		return
	}

	report := h.registrar.Status(r.Context(), id)

	writeJSON(w, http.StatusOK, RecoveryStatusResponse{
		RecoveryID:    report.RecoveryID,
		Status:        string(report.Status),
		Progress:      report.Progress,
		EstimatedTime: report.EstimatedTime,
	})
}
