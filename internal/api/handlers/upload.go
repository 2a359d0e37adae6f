// upload.go — обработчики POST /api/upload-damaged и POST /api/upload-working.
package handlers

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	apierrors "github.com/GnYaroslav/drone-video-fix/internal/api/errors"
	"github.com/GnYaroslav/drone-video-fix/internal/domain/model"
	"github.com/GnYaroslav/drone-video-fix/internal/i18n"
	"github.com/GnYaroslav/drone-video-fix/internal/service"
)

// Имена полей multipart-формы.
const (
	FieldDamagedFile = "damagedFile"
	FieldWorkingFile = "workingFile"
)

// multipartOverhead — запас на заголовки и границы multipart поверх размера файла.
const multipartOverhead = 1 << 20

// Uploader — сервис приёма файлов.
type Uploader interface {
	Upload(params service.UploadParams) (*model.UploadedFile, error)
}

// UploadHandler обрабатывает загрузку видеофайлов.
type UploadHandler struct {
	uploadSvc   Uploader
	bundle      *i18n.Bundle
	maxFileSize int64
	logger      *slog.Logger
}

// UploadResponse — ответ успешной загрузки.
type UploadResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	File    FileDescriptor `json:"file"`
}

// NewUploadHandler создаёт обработчик загрузки.
func NewUploadHandler(uploadSvc Uploader, bundle *i18n.Bundle, maxFileSize int64, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{
		uploadSvc:   uploadSvc,
		bundle:      bundle,
		maxFileSize: maxFileSize,
		logger:      logger.With(slog.String("component", "upload_handler")),
	}
}

// UploadDamaged обрабатывает POST /api/upload-damaged.
func (h *UploadHandler) UploadDamaged(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, model.KindDamaged, FieldDamagedFile)
}

// UploadWorking обрабатывает POST /api/upload-working.
func (h *UploadHandler) UploadWorking(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, model.KindWorking, FieldWorkingFile)
}

// handle читает multipart потоком: файл не буферизуется в памяти
// и не копируется во временный каталог ОС, а сразу пишется в хранилище.
func (h *UploadHandler) handle(w http.ResponseWriter, r *http.Request, kind model.UploadKind, field string) {
	ctx := r.Context()

	if r.ContentLength > h.maxFileSize+multipartOverhead {
		writeServiceError(w, r, h.bundle, h.logger, service.ErrFileTooLarge(h.maxFileSize))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartOverhead)

	reader, err := r.MultipartReader()
	if err != nil {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.CodeNoFile, h.bundle.T(ctx, "error.no_file"))
		return
	}

	part, err := nextFilePart(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeServiceError(w, r, h.bundle, h.logger, service.ErrFileTooLarge(h.maxFileSize))
			return
		}
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.CodeNoFile, h.bundle.T(ctx, "error.no_file"))
		return
	}
	defer part.Close()

	if part.FormName() != field {
		h.logger.Warn("Файл передан в неожиданном поле",
			slog.String("expected", field),
			slog.String("got", part.FormName()),
		)
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.CodeUnexpectedField,
			h.bundle.T(ctx, "error.unexpected_field"))
		return
	}

	meta, err := h.uploadSvc.Upload(service.UploadParams{
		Kind:             kind,
		Reader:           part,
		OriginalFilename: part.FileName(),
		ContentType:      part.Header.Get("Content-Type"),
		Size:             -1,
	})
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			err = service.ErrFileTooLarge(h.maxFileSize)
		}
		writeServiceError(w, r, h.bundle, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{
		Success: true,
		Message: h.bundle.T(ctx, "upload."+string(kind)+".success"),
		File:    toFileDescriptor(meta),
	})
}

// nextFilePart пропускает текстовые поля формы и возвращает первую часть с файлом.
// io.EOF означает, что файла в форме нет.
func nextFilePart(reader *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := reader.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FileName() != "" {
			return part, nil
		}
		_, _ = io.Copy(io.Discard, part)
		_ = part.Close()
	}
}
