// files.go — операторские обработчики: список загрузок и скачивание.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/GnYaroslav/drone-video-fix/internal/api/errors"
	"github.com/GnYaroslav/drone-video-fix/internal/domain/model"
	"github.com/GnYaroslav/drone-video-fix/internal/i18n"
	"github.com/GnYaroslav/drone-video-fix/internal/storage/index"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Downloader — сервис скачивания файлов.
type Downloader interface {
	Serve(w http.ResponseWriter, r *http.Request, storageKey string) error
}

// ListFilesParams — параметры GET /api/files.
type ListFilesParams struct {
	Limit  *int    `json:"limit,omitempty"`
	Offset *int    `json:"offset,omitempty"`
	Kind   *string `json:"kind,omitempty"`
}

// FileListResponse — ответ GET /api/files.
type FileListResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Files   []FileDescriptor `json:"files"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// FilesHandler обрабатывает операторские endpoints для файлов.
type FilesHandler struct {
	idx         *index.Index
	downloadSvc Downloader
	bundle      *i18n.Bundle
	logger      *slog.Logger
}

// NewFilesHandler создаёт обработчик файловых операций.
func NewFilesHandler(idx *index.Index, downloadSvc Downloader, bundle *i18n.Bundle, logger *slog.Logger) *FilesHandler {
	return &FilesHandler{
		idx:         idx,
		downloadSvc: downloadSvc,
		bundle:      bundle,
		logger:      logger.With(slog.String("component", "files_handler")),
	}
}

// ListFiles обрабатывает GET /api/files.
// Пагинация: limit, offset. Фильтр: kind.
func (h *FilesHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	var params ListFilesParams
	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &params.Limit); err != nil {
		apierrors.ValidationError(w, h.bundle.T(ctx, "error.invalid_param", "limit"))
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", query, &params.Offset); err != nil {
		apierrors.ValidationError(w, h.bundle.T(ctx, "error.invalid_param", "offset"))
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "kind", query, &params.Kind); err != nil {
		apierrors.ValidationError(w, h.bundle.T(ctx, "error.invalid_param", "kind"))
		return
	}

	limit := defaultListLimit
	offset := 0
	var kind model.UploadKind

	if params.Limit != nil {
		limit = *params.Limit
		if limit <= 0 || limit > maxListLimit {
			apierrors.ValidationError(w, h.bundle.T(ctx, "error.invalid_param", "limit"))
			return
		}
	}
	if params.Offset != nil {
		offset = *params.Offset
		if offset < 0 {
			apierrors.ValidationError(w, h.bundle.T(ctx, "error.invalid_param", "offset"))
			return
		}
	}
	if params.Kind != nil {
		kind = model.UploadKind(*params.Kind)
		if !kind.IsValid() {
			apierrors.ValidationError(w, h.bundle.T(ctx, "error.invalid_param", "kind"))
			return
		}
	}

	items, total := h.idx.List(limit, offset, kind)

	files := make([]FileDescriptor, 0, len(items))
	for _, item := range items {
		files = append(files, toFileDescriptor(item))
	}

	writeJSON(w, http.StatusOK, FileListResponse{
		Success: true,
		Message: h.bundle.T(ctx, "files.listed"),
		Files:   files,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

// DownloadFile обрабатывает GET /api/download/{filename}.
// Поддерживает Range requests (206) и ETag (If-None-Match → 304).
func (h *FilesHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	var filename string
	err := runtime.BindStyledParameterWithOptions("simple", "filename", chi.URLParam(r, "filename"), &filename,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		apierrors.ValidationError(w, h.bundle.T(r.Context(), "error.invalid_param", "filename"))
		return
	}

	if err := h.downloadSvc.Serve(w, r, filename); err != nil {
		writeServiceError(w, r, h.bundle, h.logger, err)
	}
}
