// Пакет attr хранит дескриптор каждой загрузки рядом с видео:
// "<storage_key>.attr.json". После рестарта индекс загрузок
// восстанавливается только по этим файлам.
package attr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/GnYaroslav/drone-video-fix/internal/domain/model"
)

// Ext — расширение файла дескриптора, дописывается к имени видео.
const Ext = ".attr.json"

// maxSize — предел размера дескриптора на диске.
const maxSize = 4 << 10

var errNoStorageKey = errors.New("дескриптор без storage_key")

// PathFor — путь дескриптора для файла видео.
// "/data/damaged-1.mp4" → "/data/damaged-1.mp4.attr.json"
func PathFor(dataPath string) string {
	return dataPath + Ext
}

// IsMetaFile сообщает, что имя принадлежит дескриптору, а не видео.
func IsMetaFile(name string) bool {
	return strings.HasSuffix(name, Ext)
}

// Write сохраняет дескриптор загрузки. Читатель видит либо прежнюю
// версию целиком, либо новую: запись идёт во временный файл
// в той же директории и подменяет дескриптор через rename.
func Write(path string, file *model.UploadedFile) error {
	data, err := encode(file)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("дескриптор %s: %w", path, err)
	}
	if err := commit(tmp, data, path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("дескриптор %s: %w", path, err)
	}
	return nil
}

func encode(file *model.UploadedFile) ([]byte, error) {
	if file.StorageKey == "" {
		return nil, errNoStorageKey
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("дескриптор %s: %w", file.StorageKey, err)
	}
	if len(data) > maxSize {
		return nil, fmt.Errorf("дескриптор %s: %d байт при лимите %d", file.StorageKey, len(data), maxSize)
	}
	return data, nil
}

// commit дописывает данные, сбрасывает их на диск и переименовывает файл.
func commit(tmp *os.File, data []byte, path string) error {
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Read загружает дескриптор. Файл больше лимита считается повреждённым.
func Read(path string) (*model.UploadedFile, error) {
	f, err := os.Open(path) // #nosec G304 -- путь строится из каталога данных
	if err != nil {
		return nil, fmt.Errorf("дескриптор %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("дескриптор %s: %w", path, err)
	}
	if len(data) > maxSize {
		return nil, fmt.Errorf("дескриптор %s: больше %d байт", path, maxSize)
	}

	var file model.UploadedFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("дескриптор %s: %w", path, err)
	}
	if file.StorageKey == "" {
		return nil, fmt.Errorf("дескриптор %s: %w", path, errNoStorageKey)
	}
	return &file, nil
}

// Remove удаляет дескриптор. Отсутствие файла не ошибка.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("удаление дескриптора %s: %w", path, err)
	}
	return nil
}

// ScanResult — дескрипторы каталога данных.
type ScanResult struct {
	// Files — прочитанные дескрипторы
	Files []*model.UploadedFile
	// Invalid — пути дескрипторов, которые не удалось разобрать
	Invalid []string
}

// Scan читает все дескрипторы каталога (без вложенных директорий).
// Отсутствующий каталог даёт пустой результат.
func Scan(dir string) (*ScanResult, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return &ScanResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("чтение каталога %s: %w", dir, err)
	}

	result := &ScanResult{}
	for _, e := range entries {
		if e.IsDir() || !IsMetaFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		file, err := Read(path)
		if err != nil {
			result.Invalid = append(result.Invalid, path)
			continue
		}
		result.Files = append(result.Files, file)
	}
	return result, nil
}
