// Пакет orchestrator — клиентский сценарий восстановления:
// предпроверка и загрузка файлов, регистрация заявки,
// анимация прогресса и итоговое уведомление оператору.
//
// Одна сессия обслуживает одну заявку за раз: повторный запуск во время
// отправки или симуляции отклоняется ErrBusy.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"

	"github.com/GnYaroslav/drone-video-fix/internal/client"
	"github.com/GnYaroslav/drone-video-fix/internal/domain/model"
	"github.com/GnYaroslav/drone-video-fix/internal/domain/session"
	"github.com/GnYaroslav/drone-video-fix/internal/notify"
)

// Ошибки клиентских предпроверок и состояния сессии.
var (
	ErrBusy           = errors.New("заявка уже обрабатывается")
	ErrNoDamagedFile  = errors.New("сначала загрузите повреждённый файл")
	ErrNotVideo       = errors.New("только видео файлы разрешены")
	ErrFileTooLarge   = errors.New("файл слишком большой")
	ErrMissingContact = errors.New("укажите хотя бы один способ связи (email или telegram)")
	ErrInvalidEmail   = errors.New("некорректный email")
)

// Количество шагов анимации и ширина шага в процентах.
const (
	stepCount = 4
	stepWidth = 100 / stepCount
)

// API — операции сервера, нужные сценарию.
type API interface {
	Upload(ctx context.Context, kind model.UploadKind, filename, contentType string, r io.Reader) (*client.FileInfo, error)
	StartRecovery(ctx context.Context, req client.RecoveryRequest) (*client.RecoveryResponse, error)
}

// Progress — состояние анимации на очередном тике.
type Progress struct {
	// Percent — целый процент, 0..100
	Percent int
	// Step — номер активного шага, 0..3
	Step int
}

// Observer получает события сценария. Вызывается из горутины StartRecovery.
type Observer interface {
	OnStateChange(state session.State)
	OnProgress(p Progress)
	OnCompleted(result *Result)
}

// Contacts — контактные данные клиента.
type Contacts struct {
	Email    string
	Telegram string
}

// Result — итог заявки.
type Result struct {
	RecoveryID    string
	EstimatedTime string
	// NotifyErr — ошибка итогового уведомления; на завершение не влияет
	NotifyErr error
}

// Config — параметры сценария.
type Config struct {
	// MaxFileSize — предел размера файла, как на сервере
	MaxFileSize int64
	// TickInterval — период тика анимации
	TickInterval time.Duration
	// CompletionDelay — пауза между 100% и завершением
	CompletionDelay time.Duration
	// ResetDelay — пауза между завершением и сбросом в idle
	ResetDelay time.Duration
	// NotifyTimeout — таймаут итогового уведомления
	NotifyTimeout time.Duration
}

// DefaultConfig возвращает параметры анимации сайта.
func DefaultConfig(maxFileSize int64) Config {
	return Config{
		MaxFileSize:     maxFileSize,
		TickInterval:    200 * time.Millisecond,
		CompletionDelay: time.Second,
		ResetDelay:      time.Second,
		NotifyTimeout:   10 * time.Second,
	}
}

// Orchestrator — клиентская сессия восстановления.
type Orchestrator struct {
	api      API
	notifier notify.Notifier
	observer Observer
	cfg      Config
	sm       *session.StateMachine
	logger   *slog.Logger

	mu      sync.Mutex
	damaged *client.FileInfo
	working *client.FileInfo

	rndMu sync.Mutex
	rnd   *rand.Rand
	now   func() time.Time
}

// New создаёт сессию. observer может быть nil.
func New(api API, notifier notify.Notifier, observer Observer, cfg Config, logger *slog.Logger) *Orchestrator {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Orchestrator{
		api:      api,
		notifier: notifier,
		observer: observer,
		cfg:      cfg,
		sm:       session.NewStateMachine(),
		logger:   logger.With(slog.String("component", "orchestrator")),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- анимация, не криптография
		now:      time.Now,
	}
}

// State возвращает текущее состояние сессии.
func (o *Orchestrator) State() session.State {
	return o.sm.Current()
}

// LocalFile — локальный файл, прошедший предпроверку.
type LocalFile struct {
	Path        string
	Name        string
	Size        int64
	ContentType string
}

// CheckFile выполняет клиентские предпроверки: размер и заявленный видео-тип.
// Заявленный тип берётся из расширения, как у браузера: у повреждённого
// ролика заголовок часто испорчен, и по содержимому он не распознаётся.
// Тип по содержимому используется, только если расширение ничего не говорит о видео.
// Сервер повторяет проверки независимо.
func (o *Orchestrator) CheckFile(path string) (*LocalFile, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("файл недоступен: %w", err)
	}
	if stat.IsDir() {
		return nil, fmt.Errorf("%s: это директория", path)
	}
	if o.cfg.MaxFileSize > 0 && stat.Size() > o.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %s (максимум %s)", ErrFileTooLarge,
			humanize.IBytes(uint64(stat.Size())), humanize.IBytes(uint64(o.cfg.MaxFileSize)))
	}

	declared := model.DeclaredMimeType(path)
	detected := detectMimeType(path)

	contentType := declared
	switch {
	case model.IsVideoMime(declared):
		if detected != "" && !model.IsVideoMime(detected) {
			o.logger.Warn("Содержимое не похоже на видео, файл отправляется по расширению",
				slog.String("path", path),
				slog.String("declared", declared),
				slog.String("detected", detected),
			)
		}
	case model.IsVideoMime(detected):
		contentType = detected
	default:
		if contentType == "" {
			contentType = detected
		}
		return nil, fmt.Errorf("%w: %s", ErrNotVideo, contentType)
	}

	return &LocalFile{
		Path:        path,
		Name:        filepath.Base(path),
		Size:        stat.Size(),
		ContentType: contentType,
	}, nil
}

// detectMimeType определяет тип по содержимому, без параметров.
// Пустая строка — файл не прочитан.
func detectMimeType(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return ""
	}
	contentType := mt.String()
	if idx := strings.Index(contentType, ";"); idx != -1 {
		contentType = contentType[:idx]
	}
	return contentType
}

// UploadDamaged проверяет и загружает повреждённый файл.
// При ошибке состояние сессии не меняется.
func (o *Orchestrator) UploadDamaged(ctx context.Context, path string) (*client.FileInfo, error) {
	from := o.sm.Current()
	if busy(from) {
		return nil, ErrBusy
	}

	info, err := o.upload(ctx, model.KindDamaged, path)
	if err != nil {
		return nil, err
	}

	target := session.StateDamagedUploaded
	if from == session.StateWorkingUploaded {
		target = session.StateWorkingUploaded
	}
	// Пока шла загрузка, сессия могла быть занята заявкой
	o.mu.Lock()
	if err := o.sm.CompareAndTransition(from, target); err != nil {
		o.mu.Unlock()
		return nil, ErrBusy
	}
	o.damaged = info
	o.mu.Unlock()

	o.observer.OnStateChange(target)
	return info, nil
}

// UploadWorking проверяет и загружает рабочий эталонный файл.
// Требует предварительно загруженного повреждённого файла.
func (o *Orchestrator) UploadWorking(ctx context.Context, path string) (*client.FileInfo, error) {
	from := o.sm.Current()
	if busy(from) {
		return nil, ErrBusy
	}
	if from == session.StateIdle {
		return nil, ErrNoDamagedFile
	}

	info, err := o.upload(ctx, model.KindWorking, path)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if err := o.sm.CompareAndTransition(from, session.StateWorkingUploaded); err != nil {
		o.mu.Unlock()
		return nil, ErrBusy
	}
	o.working = info
	o.mu.Unlock()

	o.observer.OnStateChange(session.StateWorkingUploaded)
	return info, nil
}

func (o *Orchestrator) upload(ctx context.Context, kind model.UploadKind, path string) (*client.FileInfo, error) {
	local, err := o.CheckFile(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(local.Path)
	if err != nil {
		return nil, fmt.Errorf("открытие файла: %w", err)
	}
	defer f.Close()

	info, err := o.api.Upload(ctx, kind, local.Name, local.ContentType, f)
	if err != nil {
		return nil, err
	}

	o.logger.Info("Файл загружен",
		slog.String("kind", string(kind)),
		slog.String("storage_key", info.Key()),
		slog.String("size", humanize.IBytes(uint64(local.Size))),
	)
	return info, nil
}

// ValidateContacts повторяет серверную проверку контактов.
func ValidateContacts(c Contacts) error {
	email := strings.TrimSpace(c.Email)
	telegram := strings.TrimSpace(c.Telegram)

	if email == "" && telegram == "" {
		return ErrMissingContact
	}
	if email != "" && !model.EmailPattern.MatchString(email) {
		return ErrInvalidEmail
	}
	return nil
}

// StartRecovery регистрирует заявку и проигрывает анимацию до конца.
// Блокирует вызывающего до сброса сессии в idle или отмены ctx.
// Параллельный вызов во время отправки или симуляции получает ErrBusy.
func (o *Orchestrator) StartRecovery(ctx context.Context, contacts Contacts) (*Result, error) {
	if err := ValidateContacts(contacts); err != nil {
		return nil, err
	}

	from := o.sm.Current()
	if busy(from) {
		return nil, ErrBusy
	}
	if from == session.StateIdle {
		return nil, ErrNoDamagedFile
	}
	if err := o.sm.CompareAndTransition(from, session.StateSubmitting); err != nil {
		return nil, ErrBusy
	}
	o.observer.OnStateChange(session.StateSubmitting)

	o.mu.Lock()
	damaged, working := o.damaged, o.working
	o.mu.Unlock()

	req := client.RecoveryRequest{
		DamagedFile: damaged.Key(),
		Email:       strings.TrimSpace(contacts.Email),
		Telegram:    strings.TrimSpace(contacts.Telegram),
	}
	if working != nil {
		req.WorkingFile = working.Key()
	}

	resp, err := o.api.StartRecovery(ctx, req)
	if err != nil {
		if tErr := o.sm.TransitionTo(from); tErr != nil {
			o.logger.Error("Ошибка отката состояния", slog.String("error", tErr.Error()))
		}
		o.observer.OnStateChange(from)
		return nil, err
	}

	result := &Result{RecoveryID: resp.RecoveryID, EstimatedTime: resp.EstimatedTime}
	o.logger.Info("Заявка зарегистрирована", slog.String("recovery_id", result.RecoveryID))

	if err := o.sm.TransitionTo(session.StateSimulating); err != nil {
		return nil, err
	}
	o.observer.OnStateChange(session.StateSimulating)

	if err := o.simulate(ctx); err != nil {
		o.reset()
		return nil, err
	}

	if err := sleepWithContext(ctx, o.cfg.CompletionDelay); err != nil {
		o.reset()
		return nil, err
	}

	if err := o.sm.TransitionTo(session.StateCompleted); err != nil {
		return nil, err
	}
	o.observer.OnStateChange(session.StateCompleted)

	result.NotifyErr = o.notifyCompletion(ctx, contacts, damaged, working)
	if result.NotifyErr != nil {
		o.logger.Warn("Итоговое уведомление не отправлено", slog.String("error", result.NotifyErr.Error()))
	}
	o.observer.OnCompleted(result)

	// Сброс выполняется даже при отмене ctx: заявка уже завершена
	_ = sleepWithContext(ctx, o.cfg.ResetDelay)
	o.reset()

	return result, nil
}

// simulate проигрывает анимацию прогресса до 100%.
// Каждый тик прибавляет случайные [5, 20) процентов.
func (o *Orchestrator) simulate(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	progress := 0.0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		progress += o.randFloat()*15 + 5
		if progress >= 100 {
			progress = 100
		}
		o.observer.OnProgress(progressFor(progress))

		if progress >= 100 {
			return nil
		}
	}
}

// progressFor переводит процент в номер шага анимации.
func progressFor(percent float64) Progress {
	step := int(math.Floor(percent / stepWidth))
	if step > stepCount-1 {
		step = stepCount - 1
	}
	return Progress{Percent: int(math.Floor(percent)), Step: step}
}

func (o *Orchestrator) notifyCompletion(ctx context.Context, contacts Contacts, damaged, working *client.FileInfo) error {
	completion := notify.Completion{
		Email:           strings.TrimSpace(contacts.Email),
		Telegram:        strings.TrimSpace(contacts.Telegram),
		DamagedName:     damaged.OriginalName,
		DamagedSize:     damaged.SizeBytes,
		HasDamagedSize:  true,
		ServerFilename:  damaged.Key(),
		HasServerResult: true,
		CompletedAt:     o.now(),
	}
	if working != nil {
		completion.WorkingName = working.OriginalName
		completion.HasWorkingFile = true
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.NotifyTimeout)
	defer cancel()
	return o.notifier.Notify(notifyCtx, notify.ClientCompletion(completion))
}

// reset возвращает сессию в idle и забывает загруженные файлы.
func (o *Orchestrator) reset() {
	o.sm.Reset()
	o.mu.Lock()
	o.damaged = nil
	o.working = nil
	o.mu.Unlock()
	o.observer.OnStateChange(session.StateIdle)
}

// busy — в состоянии идёт или завершается заявка.
func busy(s session.State) bool {
	return s == session.StateSubmitting || s == session.StateSimulating || s == session.StateCompleted
}

func (o *Orchestrator) randFloat() float64 {
	o.rndMu.Lock()
	defer o.rndMu.Unlock()
	return o.rnd.Float64()
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type nopObserver struct{}

func (nopObserver) OnStateChange(session.State) {}
func (nopObserver) OnProgress(Progress)         {}
func (nopObserver) OnCompleted(*Result)         {}
