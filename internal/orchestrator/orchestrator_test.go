package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/GnYaroslav/drone-video-fix/internal/client"
	"github.com/GnYaroslav/drone-video-fix/internal/domain/model"
	"github.com/GnYaroslav/drone-video-fix/internal/domain/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mp4Header — минимальный ftyp-бокс, по которому mimetype определяет video/mp4.
func mp4Header() []byte {
	return []byte{
		0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p',
		'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00,
		'i', 's', 'o', 'm', 'i', 's', 'o', '2',
	}
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("Ошибка записи файла: %v", err)
	}
	return path
}

type fakeAPI struct {
	mu         sync.Mutex
	uploads    []model.UploadKind
	requests   []client.RecoveryRequest
	recoverErr error
	// block — если задан, StartRecovery ждёт закрытия канала
	block chan struct{}
}

func (f *fakeAPI) Upload(_ context.Context, kind model.UploadKind, filename, contentType string, r io.Reader) (*client.FileInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.uploads = append(f.uploads, kind)
	f.mu.Unlock()
	return &client.FileInfo{
		StorageKey:   string(kind) + "-1-abcd.mp4",
		OriginalName: filename,
		MimeType:     contentType,
		SizeBytes:    int64(len(data)),
		Kind:         string(kind),
	}, nil
}

func (f *fakeAPI) StartRecovery(ctx context.Context, req client.RecoveryRequest) (*client.RecoveryResponse, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.recoverErr != nil {
		return nil, f.recoverErr
	}
	return &client.RecoveryResponse{Success: true, RecoveryID: "1760000000000", EstimatedTime: "5-10 минут"}, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (n *fakeNotifier) Notify(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
	return n.err
}

type recordingObserver struct {
	mu       sync.Mutex
	states   []session.State
	progress []Progress
	results  []*Result
}

func (o *recordingObserver) OnStateChange(s session.State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, s)
}

func (o *recordingObserver) OnProgress(p Progress) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress = append(o.progress, p)
}

func (o *recordingObserver) OnCompleted(r *Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, r)
}

func fastConfig() Config {
	return Config{
		MaxFileSize:     1 << 20,
		TickInterval:    time.Millisecond,
		CompletionDelay: time.Millisecond,
		ResetDelay:      time.Millisecond,
		NotifyTimeout:   time.Second,
	}
}

func newTestOrchestrator(t *testing.T, api API, n *fakeNotifier, obs Observer) *Orchestrator {
	t.Helper()
	o := New(api, n, obs, fastConfig(), testLogger())
	o.rnd = rand.New(rand.NewSource(1))
	o.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return o
}

func TestCheckFile(t *testing.T) {
	o := newTestOrchestrator(t, &fakeAPI{}, &fakeNotifier{}, nil)

	video := writeFile(t, "flight.mp4", mp4Header())
	local, err := o.CheckFile(video)
	if err != nil {
		t.Fatalf("Ошибка CheckFile: %v", err)
	}
	if local.ContentType != "video/mp4" || local.Name != "flight.mp4" {
		t.Errorf("неожиданный результат: %+v", local)
	}

	text := writeFile(t, "notes.txt", []byte("просто текст"))
	if _, err := o.CheckFile(text); !errors.Is(err, ErrNotVideo) {
		t.Errorf("ожидалась ErrNotVideo, получено %v", err)
	}

	big := writeFile(t, "big.mp4", append(mp4Header(), make([]byte, 2<<20)...))
	if _, err := o.CheckFile(big); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("ожидалась ErrFileTooLarge, получено %v", err)
	}

	if _, err := o.CheckFile(filepath.Join(t.TempDir(), "missing.mp4")); err == nil {
		t.Error("ожидалась ошибка для отсутствующего файла")
	}
}

func TestCheckFile_DamagedHeader(t *testing.T) {
	o := newTestOrchestrator(t, &fakeAPI{}, &fakeNotifier{}, nil)

	// Ролик с затёртым ftyp по содержимому не распознаётся как видео
	data := append(mp4Header(), make([]byte, 4096-len(mp4Header()))...)
	for i := 0; i < 64; i++ {
		data[i] = 0
	}
	damaged := writeFile(t, "flight.mp4", data)

	local, err := o.CheckFile(damaged)
	if err != nil {
		t.Fatalf("повреждённый .mp4 должен проходить предпроверку: %v", err)
	}
	if local.ContentType != "video/mp4" || local.Size != 4096 {
		t.Errorf("неожиданный результат: %+v", local)
	}

	// Без расширения тип берётся по содержимому
	noExt := writeFile(t, "DJI_0001", mp4Header())
	if local, err := o.CheckFile(noExt); err != nil || !strings.HasPrefix(local.ContentType, "video/") {
		t.Errorf("видео без расширения: %+v, %v", local, err)
	}

	// Без расширения и без видео-содержимого файл отклоняется
	blob := writeFile(t, "blob", make([]byte, 64))
	if _, err := o.CheckFile(blob); !errors.Is(err, ErrNotVideo) {
		t.Errorf("ожидалась ErrNotVideo, получено %v", err)
	}
}

func TestUploadDamaged_DamagedHeader(t *testing.T) {
	api := &fakeAPI{}
	o := newTestOrchestrator(t, api, &fakeNotifier{}, nil)

	data := make([]byte, 4096)
	damaged := writeFile(t, "flight.mp4", data)

	info, err := o.UploadDamaged(context.Background(), damaged)
	if err != nil {
		t.Fatalf("Ошибка UploadDamaged: %v", err)
	}
	if info.MimeType != "video/mp4" || info.SizeBytes != 4096 || info.OriginalName != "flight.mp4" {
		t.Errorf("неожиданный ответ: %+v", info)
	}
	if o.State() != session.StateDamagedUploaded {
		t.Errorf("состояние = %s, ожидалось %s", o.State(), session.StateDamagedUploaded)
	}
}

func TestValidateContacts(t *testing.T) {
	tests := []struct {
		name    string
		in      Contacts
		wantErr error
	}{
		{"только email", Contacts{Email: "pilot@example.com"}, nil},
		{"только telegram", Contacts{Telegram: "@pilot"}, nil},
		{"пусто", Contacts{Email: "  ", Telegram: ""}, ErrMissingContact},
		{"неверный email", Contacts{Email: "pilot@", Telegram: "@pilot"}, ErrInvalidEmail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateContacts(tt.in); !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateContacts() = %v, ожидалось %v", err, tt.wantErr)
			}
		})
	}
}

func TestUploadOrder(t *testing.T) {
	o := newTestOrchestrator(t, &fakeAPI{}, &fakeNotifier{}, nil)
	ctx := context.Background()
	video := writeFile(t, "flight.mp4", mp4Header())

	if _, err := o.UploadWorking(ctx, video); !errors.Is(err, ErrNoDamagedFile) {
		t.Errorf("рабочий файл без повреждённого: ожидалась ErrNoDamagedFile, получено %v", err)
	}
	if _, err := o.StartRecovery(ctx, Contacts{Email: "a@b.com"}); !errors.Is(err, ErrNoDamagedFile) {
		t.Errorf("заявка без файла: ожидалась ErrNoDamagedFile, получено %v", err)
	}

	if _, err := o.UploadDamaged(ctx, video); err != nil {
		t.Fatalf("Ошибка UploadDamaged: %v", err)
	}
	if _, err := o.UploadWorking(ctx, video); err != nil {
		t.Fatalf("Ошибка UploadWorking: %v", err)
	}
	// Замена повреждённого файла не сбрасывает рабочий
	if _, err := o.UploadDamaged(ctx, video); err != nil {
		t.Fatalf("Ошибка повторного UploadDamaged: %v", err)
	}
	if o.State() != session.StateWorkingUploaded {
		t.Errorf("состояние: %s, ожидалось %s", o.State(), session.StateWorkingUploaded)
	}
}

func TestUploadRejectedKeepsState(t *testing.T) {
	api := &fakeAPI{}
	o := newTestOrchestrator(t, api, &fakeNotifier{}, nil)

	text := writeFile(t, "notes.txt", []byte("просто текст"))
	if _, err := o.UploadDamaged(context.Background(), text); !errors.Is(err, ErrNotVideo) {
		t.Fatalf("ожидалась ErrNotVideo, получено %v", err)
	}
	if o.State() != session.StateIdle {
		t.Errorf("состояние изменилось: %s", o.State())
	}
	if len(api.uploads) != 0 {
		t.Error("файл не должен отправляться на сервер")
	}
}

func TestStartRecovery_FullFlow(t *testing.T) {
	api := &fakeAPI{}
	n := &fakeNotifier{}
	obs := &recordingObserver{}
	o := newTestOrchestrator(t, api, n, obs)
	ctx := context.Background()

	video := writeFile(t, "полёт.mp4", mp4Header())
	if _, err := o.UploadDamaged(ctx, video); err != nil {
		t.Fatalf("Ошибка UploadDamaged: %v", err)
	}

	result, err := o.StartRecovery(ctx, Contacts{Email: " pilot@example.com ", Telegram: "@pilot"})
	if err != nil {
		t.Fatalf("Ошибка StartRecovery: %v", err)
	}
	if result.RecoveryID != "1760000000000" || result.NotifyErr != nil {
		t.Errorf("неожиданный результат: %+v", result)
	}

	if len(api.requests) != 1 {
		t.Fatalf("ожидалась одна заявка, получено %d", len(api.requests))
	}
	req := api.requests[0]
	if req.DamagedFile != "damaged-1-abcd.mp4" || req.WorkingFile != "" || req.Email != "pilot@example.com" {
		t.Errorf("неожиданная заявка: %+v", req)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()

	if len(obs.progress) == 0 {
		t.Fatal("прогресс не публиковался")
	}
	prev := 0
	for _, p := range obs.progress {
		if p.Percent < prev || p.Percent > 100 {
			t.Errorf("прогресс не монотонен: %d после %d", p.Percent, prev)
		}
		if p.Step < 0 || p.Step > 3 {
			t.Errorf("шаг вне диапазона: %d", p.Step)
		}
		prev = p.Percent
	}
	last := obs.progress[len(obs.progress)-1]
	if last.Percent != 100 || last.Step != 3 {
		t.Errorf("последний тик: %+v, ожидалось 100%% и шаг 3", last)
	}

	wantTail := []session.State{session.StateSubmitting, session.StateSimulating, session.StateCompleted, session.StateIdle}
	if len(obs.states) < len(wantTail) {
		t.Fatalf("мало переходов: %v", obs.states)
	}
	tail := obs.states[len(obs.states)-len(wantTail):]
	for i := range wantTail {
		if tail[i] != wantTail[i] {
			t.Errorf("переходы: %v, ожидался хвост %v", obs.states, wantTail)
			break
		}
	}
	if len(obs.results) != 1 {
		t.Errorf("OnCompleted вызван %d раз", len(obs.results))
	}

	if len(n.messages) != 1 {
		t.Fatalf("ожидалось одно уведомление, получено %d", len(n.messages))
	}
	msg := n.messages[0]
	for _, want := range []string{"pilot@example.com", "@pilot", "полёт.mp4", "damaged-1-abcd.mp4", "Рабочий файл: N/A"} {
		if !strings.Contains(msg, want) {
			t.Errorf("уведомление не содержит %q:\n%s", want, msg)
		}
	}

	if o.State() != session.StateIdle {
		t.Errorf("после завершения состояние %s, ожидалось idle", o.State())
	}
}

func TestStartRecovery_NotifyFailureDoesNotAbort(t *testing.T) {
	n := &fakeNotifier{err: errors.New("telegram недоступен")}
	o := newTestOrchestrator(t, &fakeAPI{}, n, nil)
	ctx := context.Background()

	if _, err := o.UploadDamaged(ctx, writeFile(t, "a.mp4", mp4Header())); err != nil {
		t.Fatalf("Ошибка UploadDamaged: %v", err)
	}
	result, err := o.StartRecovery(ctx, Contacts{Telegram: "@pilot"})
	if err != nil {
		t.Fatalf("Ошибка StartRecovery: %v", err)
	}
	if result.NotifyErr == nil {
		t.Error("ожидалась ошибка уведомления в результате")
	}
	if o.State() != session.StateIdle {
		t.Errorf("состояние: %s", o.State())
	}
}

func TestStartRecovery_ServerErrorRestoresState(t *testing.T) {
	api := &fakeAPI{recoverErr: &client.APIError{StatusCode: 400, Code: "VALIDATION_ERROR", Message: "Файл не найден"}}
	n := &fakeNotifier{}
	o := newTestOrchestrator(t, api, n, nil)
	ctx := context.Background()

	video := writeFile(t, "a.mp4", mp4Header())
	if _, err := o.UploadDamaged(ctx, video); err != nil {
		t.Fatalf("Ошибка UploadDamaged: %v", err)
	}
	if _, err := o.UploadWorking(ctx, video); err != nil {
		t.Fatalf("Ошибка UploadWorking: %v", err)
	}

	_, err := o.StartRecovery(ctx, Contacts{Email: "a@b.com"})
	if _, ok := client.AsAPIError(err); !ok {
		t.Fatalf("ожидалась *client.APIError, получено %v", err)
	}
	if o.State() != session.StateWorkingUploaded {
		t.Errorf("состояние: %s, ожидалось возвращение в %s", o.State(), session.StateWorkingUploaded)
	}
	if len(n.messages) != 0 {
		t.Error("уведомление не должно отправляться при ошибке регистрации")
	}

	// Повторная попытка с теми же файлами
	api.recoverErr = nil
	if _, err := o.StartRecovery(ctx, Contacts{Email: "a@b.com"}); err != nil {
		t.Fatalf("Ошибка повторного StartRecovery: %v", err)
	}
	if got := api.requests[len(api.requests)-1].WorkingFile; got != "working-1-abcd.mp4" {
		t.Errorf("рабочий файл в заявке: %q", got)
	}
}

func TestStartRecovery_BusyRejected(t *testing.T) {
	api := &fakeAPI{block: make(chan struct{})}
	o := newTestOrchestrator(t, api, &fakeNotifier{}, nil)
	ctx := context.Background()

	video := writeFile(t, "a.mp4", mp4Header())
	if _, err := o.UploadDamaged(ctx, video); err != nil {
		t.Fatalf("Ошибка UploadDamaged: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := o.StartRecovery(ctx, Contacts{Email: "a@b.com"})
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for o.State() != session.StateSubmitting {
		if time.Now().After(deadline) {
			t.Fatal("сессия не перешла в submitting")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := o.StartRecovery(ctx, Contacts{Email: "a@b.com"}); !errors.Is(err, ErrBusy) {
		t.Errorf("повторная заявка: ожидалась ErrBusy, получено %v", err)
	}
	if _, err := o.UploadDamaged(ctx, video); !errors.Is(err, ErrBusy) {
		t.Errorf("загрузка во время отправки: ожидалась ErrBusy, получено %v", err)
	}

	close(api.block)
	if err := <-done; err != nil {
		t.Fatalf("Ошибка первой заявки: %v", err)
	}
	if len(api.requests) != 1 {
		t.Errorf("зарегистрировано заявок: %d, ожидалась одна", len(api.requests))
	}
}

func TestStartRecovery_CancelResets(t *testing.T) {
	o := newTestOrchestrator(t, &fakeAPI{}, &fakeNotifier{}, nil)
	o.cfg.TickInterval = time.Hour

	if _, err := o.UploadDamaged(context.Background(), writeFile(t, "a.mp4", mp4Header())); err != nil {
		t.Fatalf("Ошибка UploadDamaged: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := o.StartRecovery(ctx, Contacts{Email: "a@b.com"})
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for o.State() != session.StateSimulating {
		if time.Now().After(deadline) {
			t.Fatal("сессия не перешла в simulating")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("ожидалась context.Canceled, получено %v", err)
	}
	if o.State() != session.StateIdle {
		t.Errorf("после отмены состояние %s, ожидалось idle", o.State())
	}
}

func TestProgressFor(t *testing.T) {
	tests := []struct {
		in   float64
		want Progress
	}{
		{0, Progress{0, 0}},
		{24.9, Progress{24, 0}},
		{25, Progress{25, 1}},
		{60.5, Progress{60, 2}},
		{75, Progress{75, 3}},
		{100, Progress{100, 3}},
	}
	for _, tt := range tests {
		if got := progressFor(tt.in); got != tt.want {
			t.Errorf("progressFor(%v) = %+v, ожидалось %+v", tt.in, got, tt.want)
		}
	}
}
