// retention.go — фоновая очистка загруженных файлов.
//
// Сервис выполняет две задачи:
//  1. Удаляет загрузки старше DVF_FILE_RETENTION (файл + attr.json + индекс)
//  2. Удаляет мусор в директории данных: брошенные .tmp файлы
//     и файлы данных без attr.json (прерванная загрузка)
//
// Запускается как горутина с периодическим тикером (DVF_RETENTION_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GnYaroslav/drone-video-fix/internal/api/middleware"
	"github.com/GnYaroslav/drone-video-fix/internal/storage/attr"
	"github.com/GnYaroslav/drone-video-fix/internal/storage/filestore"
	"github.com/GnYaroslav/drone-video-fix/internal/storage/index"
)

// orphanGrace — минимальный возраст мусорного файла перед удалением.
// Защищает файлы загрузок, которые пишутся прямо сейчас.
const orphanGrace = 10 * time.Minute

var (
	// retentionRunsTotal — количество запусков очистки.
	retentionRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dvf_retention_runs_total",
		Help: "Общее количество запусков очистки хранилища",
	})

	// retentionRemovedTotal — количество удалённых файлов по причине.
	retentionRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dvf_retention_removed_total",
		Help: "Общее количество файлов, удалённых очисткой",
	}, []string{"reason"})

	// retentionDurationSeconds — длительность очистки.
	retentionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dvf_retention_duration_seconds",
		Help:    "Длительность очистки хранилища в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// RetentionResult — результат одного запуска очистки.
type RetentionResult struct {
	// Expired — удалено загрузок с истёкшим сроком хранения
	Expired int
	// Orphans — удалено мусорных файлов (.tmp, данные без attr.json)
	Orphans int
	// Errors — количество ошибок удаления
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// RetentionService — сервис очистки хранилища.
type RetentionService struct {
	store     *filestore.FileStore
	idx       *index.Index
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRetentionService создаёт сервис очистки.
// retention <= 0 отключает удаление по сроку, мусор удаляется всегда.
func NewRetentionService(
	store *filestore.FileStore,
	idx *index.Index,
	retention time.Duration,
	interval time.Duration,
	logger *slog.Logger,
) *RetentionService {
	return &RetentionService{
		store:     store,
		idx:       idx,
		retention: retention,
		interval:  interval,
		logger:    logger.With(slog.String("component", "retention")),
		now:       time.Now,
	}
}

// Start запускает фоновую горутину с периодическим тикером.
func (rs *RetentionService) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel
	rs.done = make(chan struct{})

	go rs.run(runCtx)

	rs.logger.Info("Очистка хранилища запущена",
		slog.String("retention", rs.retention.String()),
		slog.String("interval", rs.interval.String()),
	)
}

// Stop останавливает фоновую горутину и ждёт её завершения.
func (rs *RetentionService) Stop() {
	if rs.cancel == nil {
		return
	}
	rs.cancel()
	<-rs.done
	rs.logger.Info("Очистка хранилища остановлена")
}

func (rs *RetentionService) run(ctx context.Context) {
	defer close(rs.done)

	// Первый запуск сразу после старта
	rs.RunOnce()

	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.RunOnce()
		}
	}
}

// RunOnce выполняет один цикл очистки.
func (rs *RetentionService) RunOnce() *RetentionResult {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	start := time.Now()
	now := rs.now().UTC()
	result := &RetentionResult{}

	expired, expErrs := rs.removeExpired(now)
	orphans, orphErrs := rs.removeOrphans(now)

	result.Expired = expired
	result.Orphans = orphans
	result.Errors = expErrs + orphErrs
	result.Duration = time.Since(start)

	retentionRunsTotal.Inc()
	retentionRemovedTotal.WithLabelValues("expired").Add(float64(expired))
	retentionRemovedTotal.WithLabelValues("orphan").Add(float64(orphans))
	retentionDurationSeconds.Observe(result.Duration.Seconds())
	middleware.StoredFiles.Set(float64(rs.idx.Count()))
	middleware.StoredBytes.Set(float64(rs.idx.TotalBytes()))

	level := slog.LevelDebug
	if result.Expired > 0 || result.Orphans > 0 || result.Errors > 0 {
		level = slog.LevelInfo
	}
	rs.logger.Log(context.Background(), level, "Очистка хранилища завершена",
		slog.Int("expired", result.Expired),
		slog.Int("orphans", result.Orphans),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)

	return result
}

// removeExpired удаляет загрузки с истёкшим сроком хранения.
func (rs *RetentionService) removeExpired(now time.Time) (removed, errs int) {
	if rs.retention <= 0 {
		return 0, 0
	}

	files, _ := rs.idx.List(0, 0, "")
	for _, meta := range files {
		if !meta.IsExpired(now, rs.retention) {
			continue
		}

		// Сначала индекс: файл перестаёт быть доступным для заявок и скачивания
		rs.idx.Remove(meta.StorageKey)

		if err := rs.store.DeleteFile(meta.StorageKey); err != nil {
			rs.logger.Error("Ошибка удаления файла",
				slog.String("storage_key", meta.StorageKey),
				slog.String("error", err.Error()),
			)
			errs++
			continue
		}
		if err := attr.Remove(attr.PathFor(rs.store.FullPath(meta.StorageKey))); err != nil {
			rs.logger.Error("Ошибка удаления attr.json",
				slog.String("storage_key", meta.StorageKey),
				slog.String("error", err.Error()),
			)
			errs++
			continue
		}

		rs.logger.Debug("Загрузка удалена по сроку хранения",
			slog.String("storage_key", meta.StorageKey),
			slog.Time("uploaded_at", meta.UploadedAt),
		)
		removed++
	}
	return removed, errs
}

// removeOrphans удаляет .tmp файлы и файлы данных без записи в индексе.
func (rs *RetentionService) removeOrphans(now time.Time) (removed, errs int) {
	scan, err := rs.store.Scan()
	if err != nil {
		rs.logger.Error("Ошибка сканирования директории данных", slog.String("error", err.Error()))
		return 0, 1
	}

	candidates := make([]filestore.Entry, 0, len(scan.Temp))
	candidates = append(candidates, scan.Temp...)
	for _, e := range scan.Data {
		if !rs.idx.Contains(e.Name) {
			candidates = append(candidates, e)
		}
	}

	for _, e := range candidates {
		if now.Sub(e.ModTime) < orphanGrace {
			continue
		}
		if err := rs.store.DeleteFile(e.Name); err != nil {
			rs.logger.Error("Ошибка удаления мусорного файла",
				slog.String("name", e.Name),
				slog.String("error", err.Error()),
			)
			errs++
			continue
		}
		// attr.json без записи в индексе (повреждённый) удаляется вместе с данными
		_ = attr.Remove(attr.PathFor(rs.store.FullPath(e.Name)))
		rs.logger.Warn("Удалён мусорный файл", slog.String("name", e.Name))
		removed++
	}
	return removed, errs
}
