// upload.go — сервис приёма видеофайлов.
package service

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/GnYaroslav/drone-video-fix/internal/api/middleware"
	"github.com/GnYaroslav/drone-video-fix/internal/config"
	"github.com/GnYaroslav/drone-video-fix/internal/domain/model"
	"github.com/GnYaroslav/drone-video-fix/internal/notify"
	"github.com/GnYaroslav/drone-video-fix/internal/storage/attr"
	"github.com/GnYaroslav/drone-video-fix/internal/storage/filestore"
	"github.com/GnYaroslav/drone-video-fix/internal/storage/index"
)

// Dispatcher — фоновая отправка уведомлений оператору.
type Dispatcher interface {
	Dispatch(event, text string) bool
}

// UploadParams — параметры загрузки файла.
type UploadParams struct {
	// Kind — назначение файла (damaged / working)
	Kind model.UploadKind
	// Reader — поток данных файла
	Reader io.Reader
	// OriginalFilename — имя файла от клиента
	OriginalFilename string
	// ContentType — MIME-тип из заголовка multipart part
	ContentType string
	// Size — заявленный размер, -1 если неизвестен
	Size int64
}

// UploadService — сервис загрузки файлов.
type UploadService struct {
	cfg        *config.Config
	store      *filestore.FileStore
	idx        *index.Index
	dispatcher Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

// NewUploadService создаёт сервис загрузки файлов.
func NewUploadService(
	cfg *config.Config,
	store *filestore.FileStore,
	idx *index.Index,
	dispatcher Dispatcher,
	logger *slog.Logger,
) *UploadService {
	return &UploadService{
		cfg:        cfg,
		store:      store,
		idx:        idx,
		dispatcher: dispatcher,
		logger:     logger.With(slog.String("component", "upload_service")),
		now:        time.Now,
	}
}

// Upload сохраняет файл и уведомляет оператора.
//
// Поток:
//  1. Проверка MIME-типа (только video/*)
//  2. Проверка заявленного размера
//  3. SaveFile (streaming + SHA-256 + ограничение размера)
//  4. Определение типа по содержимому
//  5. Запись attr.json
//  6. index.Add
//  7. Фоновое уведомление
//
// При ошибке на шагах 3-5 файл и attr.json удаляются.
func (s *UploadService) Upload(params UploadParams) (*model.UploadedFile, error) {
	contentType := normalizeContentType(params.ContentType)

	if !model.IsVideoMime(contentType) {
		middleware.UploadsTotal.WithLabelValues(string(params.Kind), "rejected").Inc()
		return nil, ErrUnsupportedMediaType()
	}

	if params.Size > s.cfg.MaxFileSize {
		middleware.UploadsTotal.WithLabelValues(string(params.Kind), "rejected").Inc()
		return nil, ErrFileTooLarge(s.cfg.MaxFileSize)
	}

	var saved *filestore.SaveResult
	rollback := func() {
		if saved == nil {
			return
		}
		if err := s.store.DeleteFile(saved.StorageKey); err != nil {
			s.logger.Error("Ошибка удаления файла при откате",
				slog.String("storage_key", saved.StorageKey),
				slog.String("error", err.Error()),
			)
		}
		_ = attr.Remove(attr.PathFor(saved.FullPath))
	}

	saved, err := s.store.SaveFile(params.Reader, string(params.Kind), params.OriginalFilename, s.cfg.MaxFileSize)
	if err != nil {
		if errors.Is(err, filestore.ErrTooLarge) {
			middleware.UploadsTotal.WithLabelValues(string(params.Kind), "rejected").Inc()
			return nil, ErrFileTooLarge(s.cfg.MaxFileSize)
		}
		middleware.UploadsTotal.WithLabelValues(string(params.Kind), "error").Inc()
		s.logger.Error("Ошибка сохранения файла",
			slog.String("filename", params.OriginalFilename),
			slog.String("error", err.Error()),
		)
		return nil, ErrInternal("error.upload_failed", err)
	}

	detected := ""
	if mt, err := mimetype.DetectFile(saved.FullPath); err == nil {
		detected = mt.String()
	} else {
		s.logger.Warn("Не удалось определить тип по содержимому",
			slog.String("storage_key", saved.StorageKey),
			slog.String("error", err.Error()),
		)
	}

	meta := &model.UploadedFile{
		StorageKey:   saved.StorageKey,
		OriginalName: params.OriginalFilename,
		MimeType:     contentType,
		DetectedType: detected,
		SizeBytes:    saved.Size,
		Checksum:     saved.Checksum,
		Kind:         params.Kind,
		UploadedAt:   s.now().UTC(),
	}

	if err := attr.Write(attr.PathFor(saved.FullPath), meta); err != nil {
		rollback()
		middleware.UploadsTotal.WithLabelValues(string(params.Kind), "error").Inc()
		s.logger.Error("Ошибка записи attr.json",
			slog.String("storage_key", saved.StorageKey),
			slog.String("error", err.Error()),
		)
		return nil, ErrInternal("error.upload_failed", err)
	}

	s.idx.Add(meta)

	middleware.UploadsTotal.WithLabelValues(string(params.Kind), "success").Inc()
	middleware.UploadedBytes.WithLabelValues(string(params.Kind)).Add(float64(saved.Size))
	middleware.StoredFiles.Set(float64(s.idx.Count()))
	middleware.StoredBytes.Set(float64(s.idx.TotalBytes()))

	if detected != "" && !model.IsVideoMime(detected) {
		// Клиент мог ошибиться в заявленном типе; файл всё равно принимается
		s.logger.Warn("Содержимое не похоже на видео",
			slog.String("storage_key", meta.StorageKey),
			slog.String("declared", contentType),
			slog.String("detected", detected),
		)
	}

	s.logger.Info("Файл загружен",
		slog.String("storage_key", meta.StorageKey),
		slog.String("kind", string(meta.Kind)),
		slog.String("filename", meta.OriginalName),
		slog.Int64("size", meta.SizeBytes),
		slog.String("checksum", meta.Checksum),
	)

	s.notifyUploaded(meta)

	return meta, nil
}

func (s *UploadService) notifyUploaded(meta *model.UploadedFile) {
	switch meta.Kind {
	case model.KindWorking:
		s.dispatcher.Dispatch(notify.EventUploadWorking,
			notify.WorkingUploaded(meta.OriginalName, meta.SizeBytes, meta.UploadedAt))
	default:
		s.dispatcher.Dispatch(notify.EventUploadDamaged,
			notify.DamagedUploaded(meta.OriginalName, meta.SizeBytes, meta.UploadedAt))
	}
}

// normalizeContentType убирает параметры (charset и т.д.) из Content-Type.
func normalizeContentType(contentType string) string {
	if idx := strings.Index(contentType, ";"); idx != -1 {
		contentType = contentType[:idx]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
