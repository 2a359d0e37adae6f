// Пакет model — доменные модели сервиса приёма видео.
// UploadedFile — дескриптор загруженного файла, используется
// как in-memory представление и как формат attr.json на диске.
package model

import (
	"mime"
	"path/filepath"
	"strings"
	"time"
)

// UploadKind — назначение загруженного файла.
type UploadKind string

const (
	// KindDamaged — повреждённое видео, которое нужно восстановить
	KindDamaged UploadKind = "damaged"
	// KindWorking — рабочий эталон с той же камеры (опционально)
	KindWorking UploadKind = "working"
)

// IsValid проверяет, что назначение известно.
func (k UploadKind) IsValid() bool {
	return k == KindDamaged || k == KindWorking
}

// VideoMimePrefix — префикс MIME-типа, допустимого для загрузки.
const VideoMimePrefix = "video/"

// IsVideoMime проверяет, что MIME-тип относится к видео.
// Достаточно префикса "video/", регистр не учитывается.
func IsVideoMime(mimeType string) bool {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	return strings.HasPrefix(mt, VideoMimePrefix)
}

// videoExtTypes — типы видео-расширений. Имеют приоритет над системной
// таблицей: в ней расширения может не быть или оно занято другим типом (.mts, .ts).
var videoExtTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".mts":  "video/mp2t",
	".m2ts": "video/mp2t",
	".ts":   "video/mp2t",
	".3gp":  "video/3gpp",
	".flv":  "video/x-flv",
	".wmv":  "video/x-ms-wmv",
	".mpg":  "video/mpeg",
	".mpeg": "video/mpeg",
}

// DeclaredMimeType возвращает тип файла по расширению имени,
// без параметров. Пустая строка — тип неизвестен.
func DeclaredMimeType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return ""
	}
	if mt, ok := videoExtTypes[ext]; ok {
		return mt
	}
	mt := mime.TypeByExtension(ext)
	if idx := strings.Index(mt, ";"); idx != -1 {
		mt = mt[:idx]
	}
	return strings.TrimSpace(mt)
}

// UploadedFile — метаданные загруженного файла. Соответствует содержимому attr.json.
type UploadedFile struct {
	// StorageKey — уникальное имя файла в хранилище.
	// Формат: {kind}-{unix_ms}-{uuid8}{ext}
	StorageKey string `json:"storage_key"`

	// OriginalName — имя файла, переданное клиентом
	OriginalName string `json:"original_name"`

	// MimeType — MIME-тип, заявленный клиентом
	MimeType string `json:"mime_type"`

	// DetectedType — MIME-тип, определённый по содержимому
	DetectedType string `json:"detected_type,omitempty"`

	// SizeBytes — фактический размер сохранённых данных
	SizeBytes int64 `json:"size_bytes"`

	// Checksum — SHA-256 хэш содержимого
	Checksum string `json:"checksum"`

	// Kind — назначение файла
	Kind UploadKind `json:"kind"`

	// UploadedAt — время загрузки (UTC)
	UploadedAt time.Time `json:"uploaded_at"`
}

// IsExpired проверяет, истёк ли срок хранения файла.
// retention <= 0 означает бессрочное хранение.
func (f *UploadedFile) IsExpired(now time.Time, retention time.Duration) bool {
	if retention <= 0 {
		return false
	}
	return now.Sub(f.UploadedAt) > retention
}
