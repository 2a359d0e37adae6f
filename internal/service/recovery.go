// recovery.go — регистрация заявок на восстановление и заглушка статуса.
package service

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/GnYaroslav/drone-video-fix/internal/api/middleware"
	"github.com/GnYaroslav/drone-video-fix/internal/domain/model"
	"github.com/GnYaroslav/drone-video-fix/internal/i18n"
	"github.com/GnYaroslav/drone-video-fix/internal/notify"
	"github.com/GnYaroslav/drone-video-fix/internal/storage/index"
)

// EmailPattern — синтаксическая проверка email (не RFC).
var EmailPattern = model.EmailPattern

// RecoveryParams — данные заявки от клиента.
type RecoveryParams struct {
	DamagedFileRef  string
	WorkingFileRef  string
	ContactEmail    string
	ContactTelegram string
}

// RecoveryResult — ответ на успешную регистрацию.
type RecoveryResult struct {
	Request       *model.RecoveryRequest
	EstimatedTime string
}

// RecoveryService — регистрация заявок.
// Заявки хранятся в памяти в LRU с TTL и теряются при рестарте.
type RecoveryService struct {
	idx        *index.Index
	requests   *expirable.LRU[string, *model.RecoveryRequest]
	ids        *RequestIDGenerator
	dispatcher Dispatcher
	bundle     *i18n.Bundle
	logger     *slog.Logger
	now        func() time.Time

	// rndMu защищает rnd
	rndMu sync.Mutex
	rnd   *rand.Rand
}

// NewRecoveryService создаёт сервис заявок.
// cacheSize — максимум хранимых заявок, retention — время жизни записи.
func NewRecoveryService(
	idx *index.Index,
	cacheSize int,
	retention time.Duration,
	dispatcher Dispatcher,
	bundle *i18n.Bundle,
	logger *slog.Logger,
) *RecoveryService {
	return &RecoveryService{
		idx:        idx,
		requests:   expirable.NewLRU[string, *model.RecoveryRequest](cacheSize, nil, retention),
		ids:        NewRequestIDGenerator(),
		dispatcher: dispatcher,
		bundle:     bundle,
		logger:     logger.With(slog.String("component", "recovery_service")),
		now:        time.Now,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- не криптография
	}
}

// Register проверяет и сохраняет заявку, затем уведомляет оператора.
//
// Порядок проверок:
//  1. Повреждённый файл указан и есть в индексе
//  2. Рабочий файл, если указан, есть в индексе
//  3. Указан хотя бы один контакт
//  4. Email, если указан, проходит EmailPattern
func (s *RecoveryService) Register(ctx context.Context, params RecoveryParams) (*RecoveryResult, error) {
	damagedRef := strings.TrimSpace(params.DamagedFileRef)
	workingRef := strings.TrimSpace(params.WorkingFileRef)
	email := strings.TrimSpace(params.ContactEmail)
	telegram := strings.TrimSpace(params.ContactTelegram)

	damaged := s.idx.Get(damagedRef)
	if damagedRef == "" || damaged == nil {
		middleware.RecoveryRequestsTotal.WithLabelValues("rejected").Inc()
		return nil, ErrMissingDamagedFile()
	}
	if workingRef != "" && !s.idx.Contains(workingRef) {
		middleware.RecoveryRequestsTotal.WithLabelValues("rejected").Inc()
		return nil, ErrMissingWorkingFile()
	}
	if email == "" && telegram == "" {
		middleware.RecoveryRequestsTotal.WithLabelValues("rejected").Inc()
		return nil, ErrMissingContact()
	}
	if email != "" && !EmailPattern.MatchString(email) {
		middleware.RecoveryRequestsTotal.WithLabelValues("rejected").Inc()
		return nil, ErrInvalidEmail()
	}

	req := &model.RecoveryRequest{
		RequestID:       s.ids.Next(),
		DamagedFileRef:  damagedRef,
		WorkingFileRef:  workingRef,
		ContactEmail:    email,
		ContactTelegram: telegram,
		Status:          model.RequestCreated,
		CreatedAt:       s.now().UTC(),
	}
	s.requests.Add(req.RequestID, req)
	middleware.RecoveryRequestsTotal.WithLabelValues("created").Inc()

	s.logger.Info("Заявка на восстановление создана",
		slog.String("request_id", req.RequestID),
		slog.String("damaged", req.DamagedFileRef),
		slog.String("working", req.WorkingFileRef),
		slog.Bool("has_email", email != ""),
		slog.Bool("has_telegram", telegram != ""),
	)

	s.dispatcher.Dispatch(notify.EventRecovery, notify.RecoveryStarted(
		damaged.OriginalName, email, telegram, req.RequestID, req.CreatedAt))

	return &RecoveryResult{
		Request:       req,
		EstimatedTime: s.bundle.T(ctx, "recovery.estimate"),
	}, nil
}

// Get возвращает сохранённую заявку.
func (s *RecoveryService) Get(requestID string) (*model.RecoveryRequest, bool) {
	return s.requests.Get(requestID)
}

// Count возвращает количество хранимых заявок.
func (s *RecoveryService) Count() int {
	return s.requests.Len()
}

// Status — заглушка прогресса восстановления.
// Реального процесса нет: статус всегда processing, прогресс случайный
// в [0, 100), оценка времени фиксированная. Идентификатор не проверяется.
func (s *RecoveryService) Status(ctx context.Context, requestID string) *model.StatusReport {
	s.rndMu.Lock()
	progress := s.rnd.Intn(100)
	s.rndMu.Unlock()

	return &model.StatusReport{
		RecoveryID:    requestID,
		Status:        model.ProgressProcessing,
		Progress:      progress,
		EstimatedTime: s.bundle.T(ctx, "status.estimate"),
	}
}
