// Пакет index — потокобезопасный in-memory индекс загруженных файлов.
//
// Индекс строится при старте из attr.json файлов (BuildFromDir)
// и обновляется синхронно при загрузке и очистке (Add, Remove).
// Ключ индекса — storage key файла.
//
// Не персистентный: при рестарте пересобирается из attr.json.
package index

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/GnYaroslav/drone-video-fix/internal/domain/model"
	"github.com/GnYaroslav/drone-video-fix/internal/storage/attr"
)

// Index — потокобезопасный in-memory индекс дескрипторов.
type Index struct {
	mu     sync.RWMutex
	files  map[string]*model.UploadedFile // storage_key → дескриптор
	ready  bool
	logger *slog.Logger
}

// New создаёт пустой индекс. Для заполнения вызовите BuildFromDir.
func New(logger *slog.Logger) *Index {
	return &Index{
		files:  make(map[string]*model.UploadedFile),
		logger: logger.With(slog.String("component", "index")),
	}
}

// BuildFromDir строит индекс из attr.json файлов в указанной директории.
// Заменяет текущее содержимое индекса. Записи без файла данных не попадают
// в индекс. После успешного построения индекс помечается как ready.
func (idx *Index) BuildFromDir(dataDir string) error {
	scan, err := attr.Scan(dataDir)
	if err != nil {
		return fmt.Errorf("ошибка сканирования директории %s: %w", dataDir, err)
	}

	for _, path := range scan.Invalid {
		idx.logger.Warn("Пропущен невалидный attr.json", slog.String("path", path))
	}

	files := make(map[string]*model.UploadedFile, len(scan.Files))
	for _, meta := range scan.Files {
		if _, err := os.Stat(filepath.Join(dataDir, meta.StorageKey)); err != nil {
			idx.logger.Warn("attr.json без файла данных пропущен",
				slog.String("storage_key", meta.StorageKey),
			)
			continue
		}
		files[meta.StorageKey] = meta
	}

	idx.mu.Lock()
	idx.files = files
	idx.ready = true
	idx.mu.Unlock()

	idx.logger.Info("Индекс загрузок построен",
		slog.Int("files", len(files)),
		slog.String("data_dir", dataDir),
	)

	return nil
}

// IsReady возвращает true, если индекс построен и готов к использованию.
func (idx *Index) IsReady() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.ready
}

// Add добавляет дескриптор в индекс.
// Если запись с таким ключом уже существует, она будет перезаписана.
func (idx *Index) Add(meta *model.UploadedFile) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	copied := *meta
	idx.files[meta.StorageKey] = &copied
}

// Remove удаляет запись по ключу. Возвращает true, если запись была найдена.
func (idx *Index) Remove(storageKey string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.files[storageKey]; !ok {
		return false
	}
	delete(idx.files, storageKey)
	return true
}

// Get возвращает копию дескриптора по ключу или nil.
func (idx *Index) Get(storageKey string) *model.UploadedFile {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	meta, ok := idx.files[storageKey]
	if !ok {
		return nil
	}

	copied := *meta
	return &copied
}

// Contains проверяет наличие записи без копирования.
func (idx *Index) Contains(storageKey string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.files[storageKey]
	return ok
}

// List возвращает пагинированный список дескрипторов.
// Параметры:
//   - limit: максимальное количество элементов (0 = все)
//   - offset: смещение от начала списка
//   - kindFilter: фильтр по назначению ("" = без фильтра)
//
// Возвращает срез и общее количество записей с учётом фильтра.
// Записи отсортированы по времени загрузки (новые первые).
func (idx *Index) List(limit, offset int, kindFilter model.UploadKind) ([]*model.UploadedFile, int) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var filtered []*model.UploadedFile
	for _, meta := range idx.files {
		if kindFilter != "" && meta.Kind != kindFilter {
			continue
		}
		copied := *meta
		filtered = append(filtered, &copied)
	}

	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].UploadedAt.Equal(filtered[j].UploadedAt) {
			return filtered[i].StorageKey < filtered[j].StorageKey
		}
		return filtered[i].UploadedAt.After(filtered[j].UploadedAt)
	})

	total := len(filtered)

	if offset >= total {
		return nil, total
	}

	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}

	return filtered[offset:end], total
}

// Count возвращает общее количество записей.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.files)
}

// CountByKind возвращает количество записей с указанным назначением.
func (idx *Index) CountByKind(kind model.UploadKind) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	count := 0
	for _, meta := range idx.files {
		if meta.Kind == kind {
			count++
		}
	}
	return count
}

// TotalBytes возвращает суммарный размер всех файлов.
func (idx *Index) TotalBytes() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var total int64
	for _, meta := range idx.files {
		total += meta.SizeBytes
	}
	return total
}
