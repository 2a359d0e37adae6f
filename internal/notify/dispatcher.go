// dispatcher.go — фоновая отправка уведомлений (fire-and-forget).
//
// Каждое уведомление отправляется в отдельной горутине с собственным
// таймаутом. Количество одновременно отправляемых сообщений ограничено
// семафором: при переполнении сообщение отбрасывается с записью в лог.
// Close дожидается завершения отправок при остановке сервиса.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
)

// Результаты отправки для метрик.
const (
	ResultSent    = "sent"
	ResultFailed  = "failed"
	ResultDropped = "dropped"
	ResultPanic   = "panic"
)

var (
	// notificationsTotal — количество уведомлений по событию и результату.
	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dvf_notifications_total",
			Help: "Общее количество уведомлений оператору",
		},
		[]string{"event", "result"},
	)

	// notificationDuration — длительность отправки уведомления, включая повторы.
	notificationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dvf_notification_duration_seconds",
		Help:    "Длительность отправки уведомления в секундах",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// notificationsInFlight — количество отправляемых в данный момент уведомлений.
	notificationsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dvf_notifications_in_flight",
		Help: "Количество уведомлений в процессе отправки",
	})
)

// DispatcherConfig — параметры фоновой отправки.
type DispatcherConfig struct {
	// Timeout — общий таймаут отправки одного уведомления (включая повторы)
	Timeout time.Duration
	// MaxInFlight — максимум одновременных отправок
	MaxInFlight int64
	// OnPanic вызывается при панике в горутине отправки (опционально)
	OnPanic func(recovered any)
}

// Dispatcher — фоновый отправитель уведомлений.
type Dispatcher struct {
	notifier Notifier
	cfg      DispatcherConfig
	sem      *semaphore.Weighted
	logger   *slog.Logger

	// mu упорядочивает wg.Add и установку closed
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
	// baseCtx отменяется, если Close не дождался отправок
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewDispatcher создаёт фоновый отправитель поверх notifier.
func NewDispatcher(notifier Notifier, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 32
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		notifier: notifier,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(cfg.MaxInFlight),
		logger:   logger.With(slog.String("component", "notify_dispatcher")),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Dispatch ставит сообщение на отправку и сразу возвращает управление.
// event — имя события для логов и метрик (upload_damaged, recovery и т.д.).
// Возвращает false, если сообщение отброшено (переполнение или остановка).
func (d *Dispatcher) Dispatch(event, text string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		notificationsTotal.WithLabelValues(event, ResultDropped).Inc()
		d.logger.Warn("Уведомление отброшено: отправитель остановлен", slog.String("event", event))
		return false
	}
	if !d.sem.TryAcquire(1) {
		notificationsTotal.WithLabelValues(event, ResultDropped).Inc()
		d.logger.Warn("Уведомление отброшено: превышен лимит одновременных отправок",
			slog.String("event", event),
			slog.Int64("max_in_flight", d.cfg.MaxInFlight),
		)
		return false
	}

	d.wg.Add(1)
	notificationsInFlight.Inc()
	go d.run(event, text)
	return true
}

func (d *Dispatcher) run(event, text string) {
	defer d.wg.Done()
	defer d.sem.Release(1)
	defer notificationsInFlight.Dec()
	defer func() {
		if r := recover(); r != nil {
			notificationsTotal.WithLabelValues(event, ResultPanic).Inc()
			d.logger.Error("Паника при отправке уведомления",
				slog.String("event", event),
				slog.String("panic", fmt.Sprint(r)),
			)
			if d.cfg.OnPanic != nil {
				d.cfg.OnPanic(r)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(d.baseCtx, d.cfg.Timeout)
	defer cancel()

	start := time.Now()
	err := d.notifier.Notify(ctx, text)
	notificationDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		notificationsTotal.WithLabelValues(event, ResultFailed).Inc()
		d.logger.Error("Уведомление не отправлено",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		return
	}

	notificationsTotal.WithLabelValues(event, ResultSent).Inc()
	d.logger.Debug("Уведомление отправлено", slog.String("event", event))
}

// Close запрещает новые отправки и ждёт завершения текущих.
// Если ctx истекает раньше, незавершённые отправки отменяются.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return fmt.Errorf("ожидание отправки уведомлений прервано: %w", ctx.Err())
	}
}
