// Пакет filestore — операции с загруженными видеофайлами на локальном диске.
// Обеспечивает streaming-запись с подсчётом SHA-256 на лету и ограничением
// размера, чтение, удаление и сканирование директории данных.
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GnYaroslav/drone-video-fix/internal/storage/attr"
)

// TempSuffix — суффикс временных файлов незавершённой записи.
const TempSuffix = ".tmp"

// maxExtLen — максимальная длина расширения в ключе хранения (с точкой).
const maxExtLen = 10

// ErrTooLarge — поток данных превысил допустимый размер.
var ErrTooLarge = errors.New("превышен максимальный размер файла")

// FileStore — управление файлами на диске.
type FileStore struct {
	// dataDir — корневая директория хранения (DVF_DATA_DIR)
	dataDir string
	// now — источник времени для ключей хранения (подменяется в тестах)
	now func() time.Time
}

// SaveResult — результат сохранения файла на диск.
type SaveResult struct {
	// StorageKey — имя файла в dataDir
	StorageKey string
	// FullPath — абсолютный путь файла на диске
	FullPath string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 хэш содержимого файла
	Checksum string
}

// New создаёт FileStore. Создаёт директорию, если она не существует.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}

	return &FileStore{dataDir: dataDir, now: time.Now}, nil
}

// SaveFile записывает данные из reader на диск с подсчётом SHA-256 на лету.
// prefix — префикс ключа хранения (назначение загрузки).
// maxSize — верхняя граница размера; при превышении возвращается ErrTooLarge
// и частично записанные данные удаляются.
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
func (fs *FileStore) SaveFile(reader io.Reader, prefix, originalFilename string, maxSize int64) (*SaveResult, error) {
	storageKey := fs.generateStorageKey(prefix, originalFilename)
	fullPath := filepath.Join(fs.dataDir, storageKey)
	tmpPath := fullPath + TempSuffix

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	hasher := sha256.New()
	tee := io.TeeReader(io.LimitReader(reader, maxSize+1), hasher)

	size, err := io.Copy(f, tee)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}
	if size > maxSize {
		f.Close()
		os.Remove(tmpPath)
		return nil, ErrTooLarge
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		StorageKey: storageKey,
		FullPath:   fullPath,
		Size:       size,
		Checksum:   hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// ReadFile открывает файл для чтения. Вызывающий код обязан закрыть файл.
// Ключ должен быть простым именем файла, пути отклоняются.
func (fs *FileStore) ReadFile(storageKey string) (*os.File, error) {
	if !IsValidKey(storageKey) {
		return nil, fmt.Errorf("недопустимый ключ хранения: %q", storageKey)
	}
	fullPath := filepath.Join(fs.dataDir, storageKey)

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("файл не найден: %s", storageKey)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", storageKey, err)
	}

	return f, nil
}

// FullPath возвращает абсолютный путь к файлу на диске.
func (fs *FileStore) FullPath(storageKey string) string {
	return filepath.Join(fs.dataDir, storageKey)
}

// DeleteFile удаляет файл с диска. Возвращает nil если файл уже не существует.
func (fs *FileStore) DeleteFile(storageKey string) error {
	fullPath := filepath.Join(fs.dataDir, storageKey)

	err := os.Remove(fullPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", storageKey, err)
	}
	return nil
}

// FileExists проверяет существование файла на диске.
func (fs *FileStore) FileExists(storageKey string) bool {
	_, err := os.Stat(filepath.Join(fs.dataDir, storageKey))
	return err == nil
}

// DataDir возвращает путь к директории данных.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}

// Entry — файл в директории данных.
type Entry struct {
	Name    string
	ModTime time.Time
}

// ScanResult — содержимое директории данных по категориям.
type ScanResult struct {
	// Data — файлы данных (без attr.json и временных)
	Data []Entry
	// Temp — временные файлы незавершённых записей
	Temp []Entry
}

// Scan перечисляет файлы директории данных. Не рекурсивный.
func (fs *FileStore) Scan() (*ScanResult, error) {
	entries, err := os.ReadDir(fs.dataDir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории %s: %w", fs.dataDir, err)
	}

	result := &ScanResult{}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		entry := Entry{Name: e.Name(), ModTime: info.ModTime()}
		switch {
		case strings.HasSuffix(e.Name(), TempSuffix):
			result.Temp = append(result.Temp, entry)
		case attr.IsMetaFile(e.Name()):
			continue
		default:
			result.Data = append(result.Data, entry)
		}
	}
	return result, nil
}

// IsValidKey проверяет, что ключ — простое имя файла без разделителей пути.
func IsValidKey(key string) bool {
	if key == "" || key == "." || key == ".." {
		return false
	}
	if strings.ContainsAny(key, `/\`) || strings.ContainsRune(key, 0) {
		return false
	}
	return filepath.Base(key) == key
}

// generateStorageKey генерирует имя файла для хранения на диске.
// Формат: {prefix}-{unix_ms}-{uuid8}{ext}
// Пример: damaged-1760000000000-a1b2c3d4.mp4
func (fs *FileStore) generateStorageKey(prefix, originalFilename string) string {
	ext := sanitizeExt(filepath.Ext(originalFilename))
	ts := fs.now().UnixMilli()
	uid := uuid.New().String()[:8] // Короткий UUID для уникальности

	return fmt.Sprintf("%s-%d-%s%s", sanitize(prefix), ts, uid, ext)
}

// sanitizeExt нормализует расширение: нижний регистр, только латиница и цифры.
// Слишком длинное или пустое расширение отбрасывается.
func sanitizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	var b strings.Builder
	for _, r := range ext {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 || b.Len()+1 > maxExtLen {
		return ""
	}
	return "." + b.String()
}

// sanitize оставляет только латиницу, цифры, дефис и подчёркивание.
func sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "file"
	}
	return result.String()
}
