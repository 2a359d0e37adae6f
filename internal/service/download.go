// download.go — сервис скачивания загруженных файлов оператором.
package service

import (
	"fmt"
	"log/slog"
	"mime"
	"net/http"

	"github.com/GnYaroslav/drone-video-fix/internal/api/middleware"
	"github.com/GnYaroslav/drone-video-fix/internal/storage/filestore"
	"github.com/GnYaroslav/drone-video-fix/internal/storage/index"
)

// DownloadService — сервис скачивания файлов.
type DownloadService struct {
	store  *filestore.FileStore
	idx    *index.Index
	logger *slog.Logger
}

// NewDownloadService создаёт сервис скачивания файлов.
func NewDownloadService(
	store *filestore.FileStore,
	idx *index.Index,
	logger *slog.Logger,
) *DownloadService {
	return &DownloadService{
		store:  store,
		idx:    idx,
		logger: logger.With(slog.String("component", "download_service")),
	}
}

// Serve отдаёт файл клиенту через http.ServeContent.
// Поддерживает Range requests (206 Partial Content) и ETag (If-None-Match).
// Отдаются только ключи, присутствующие в индексе.
func (s *DownloadService) Serve(w http.ResponseWriter, r *http.Request, storageKey string) error {
	meta := s.idx.Get(storageKey)
	if meta == nil {
		middleware.DownloadsTotal.WithLabelValues("not_found").Inc()
		return ErrNotFound()
	}

	file, err := s.store.ReadFile(meta.StorageKey)
	if err != nil {
		s.logger.Error("Файл из индекса не найден на диске",
			slog.String("storage_key", meta.StorageKey),
			slog.String("error", err.Error()),
		)
		middleware.DownloadsTotal.WithLabelValues("not_found").Inc()
		return ErrNotFound()
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		middleware.DownloadsTotal.WithLabelValues("error").Inc()
		return ErrInternal("error.internal", err)
	}

	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": meta.OriginalName}))
	w.Header().Set("ETag", fmt.Sprintf("%q", meta.Checksum))
	w.Header().Set("Accept-Ranges", "bytes")

	http.ServeContent(w, r, meta.StorageKey, stat.ModTime(), file)

	middleware.DownloadsTotal.WithLabelValues("success").Inc()
	s.logger.Debug("Файл скачан",
		slog.String("storage_key", meta.StorageKey),
		slog.Int64("size", meta.SizeBytes),
	)
	return nil
}
