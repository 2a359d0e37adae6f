package handlers

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/GnYaroslav/drone-video-fix/internal/api/errors"
	"github.com/GnYaroslav/drone-video-fix/internal/config"
	"github.com/GnYaroslav/drone-video-fix/internal/i18n"
	"github.com/GnYaroslav/drone-video-fix/internal/service"
	"github.com/GnYaroslav/drone-video-fix/internal/storage/filestore"
	"github.com/GnYaroslav/drone-video-fix/internal/storage/index"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mp4Header — начало валидного MP4 (ftyp box).
var mp4Header = []byte("\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00mp42isom")

type recordingDispatcher struct {
	mu     sync.Mutex
	events []string
}

func (d *recordingDispatcher) Dispatch(event, _ string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return true
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

// testEnv — собранные обработчики поверх реальных сервисов.
type testEnv struct {
	dir      string
	idx      *index.Index
	disp     *recordingDispatcher
	router   chi.Router
	recovery *service.RecoveryService
}

// setupTestEnv создаёт сервисы и маршруты как в основном сервере.
func setupTestEnv(t *testing.T, maxSize int64) *testEnv {
	t.Helper()

	dir := t.TempDir()
	store, err := filestore.New(dir)
	if err != nil {
		t.Fatalf("Ошибка создания FileStore: %v", err)
	}
	idx := index.New(testLogger())
	if err := idx.BuildFromDir(dir); err != nil {
		t.Fatalf("Ошибка построения индекса: %v", err)
	}
	bundle, err := i18n.Load("ru", testLogger())
	if err != nil {
		t.Fatal(err)
	}

	disp := &recordingDispatcher{}
	cfg := &config.Config{MaxFileSize: maxSize}
	uploadSvc := service.NewUploadService(cfg, store, idx, disp, testLogger())
	recoverySvc := service.NewRecoveryService(idx, 100, 0, disp, bundle, testLogger())
	downloadSvc := service.NewDownloadService(store, idx, testLogger())

	uploadH := NewUploadHandler(uploadSvc, bundle, maxSize, testLogger())
	recoveryH := NewRecoveryHandler(recoverySvc, bundle, testLogger())
	filesH := NewFilesHandler(idx, downloadSvc, bundle, testLogger())
	healthH := NewHealthHandler(dir, idx, nil)

	r := chi.NewRouter()
	r.Use(bundle.Middleware())
	r.Post("/api/upload-damaged", uploadH.UploadDamaged)
	r.Post("/api/upload-working", uploadH.UploadWorking)
	r.Post("/api/start-recovery", recoveryH.StartRecovery)
	r.Get("/api/recovery-status/{id}", recoveryH.RecoveryStatus)
	r.Get("/api/files", filesH.ListFiles)
	r.Get("/api/download/{filename}", filesH.DownloadFile)
	r.Get("/api/openapi.yaml", OpenAPISpec)
	r.Get("/health/live", healthH.HealthLive)
	r.Get("/health/ready", healthH.HealthReady)

	return &testEnv{dir: dir, idx: idx, disp: disp, router: r, recovery: recoverySvc}
}

// multipartBody собирает multipart-форму с одним файлом.
func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	_ = mw.WriteField("comment", "тест")

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(data)
	_ = mw.Close()

	return body, mw.FormDataContentType()
}

func videoPayload(size int) []byte {
	data := make([]byte, size)
	copy(data, mp4Header)
	return data
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) upload(t *testing.T, path, field, filename, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, field, filename, contentType, data)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", ct)
	return e.do(req)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apierrors.ErrorBody {
	t.Helper()
	var body apierrors.ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Ошибка разбора тела ошибки: %v (%s)", err, rec.Body.String())
	}
	return body
}

func TestUploadDamaged_Success(t *testing.T) {
	env := setupTestEnv(t, 1<<20)

	rec := env.upload(t, "/api/upload-damaged", FieldDamagedFile, "clip.mp4", "video/mp4", videoPayload(10240))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d: %s", rec.Code, rec.Body.String())
	}

	var resp UploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Message != "Поврежденный файл загружен успешно" {
		t.Errorf("неожиданный ответ: %+v", resp)
	}
	if resp.File.OriginalName != "clip.mp4" || resp.File.SizeBytes != 10240 || resp.File.Size != 10240 {
		t.Errorf("неожиданный дескриптор: %+v", resp.File)
	}
	if resp.File.Filename != resp.File.StorageKey || resp.File.Kind != "damaged" {
		t.Errorf("filename должен совпадать со storageKey: %+v", resp.File)
	}
	if !env.idx.Contains(resp.File.StorageKey) {
		t.Error("файл не добавлен в индекс")
	}
	if env.disp.count() != 1 {
		t.Errorf("ожидалось одно уведомление, получено %d", env.disp.count())
	}
}

func TestUploadDamaged_TenMiB(t *testing.T) {
	const size = 10 << 20
	env := setupTestEnv(t, 100<<20)

	rec := env.upload(t, "/api/upload-damaged", FieldDamagedFile, "clip.mp4", "video/mp4", videoPayload(size))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d: %s", rec.Code, rec.Body.String())
	}

	var resp UploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.File.OriginalName != "clip.mp4" || resp.File.SizeBytes != 10485760 {
		t.Errorf("неожиданный дескриптор: %+v", resp.File)
	}

	stat, err := os.Stat(filepath.Join(env.dir, resp.File.StorageKey))
	if err != nil {
		t.Fatalf("файл не сохранён: %v", err)
	}
	if stat.Size() != size {
		t.Errorf("размер на диске %d, ожидалось %d", stat.Size(), size)
	}
}

func TestUploadWorking_Success(t *testing.T) {
	env := setupTestEnv(t, 1<<20)

	rec := env.upload(t, "/api/upload-working", FieldWorkingFile, "ref.mov", "video/quicktime", videoPayload(100))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d: %s", rec.Code, rec.Body.String())
	}
	var resp UploadResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.File.Kind != "working" || !strings.HasPrefix(resp.File.StorageKey, "working-") {
		t.Errorf("неожиданный дескриптор: %+v", resp.File)
	}
}

func TestUpload_Errors(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		field       string
		contentType string
		size        int
		code        string
		message     string
	}{
		{"не видео", "/api/upload-damaged", FieldDamagedFile, "image/png", 10, apierrors.CodeUnsupportedMediaType, "Только видео файлы разрешены!"},
		{"неожиданное поле", "/api/upload-damaged", FieldWorkingFile, "video/mp4", 10, apierrors.CodeUnexpectedField, ""},
		{"рабочий в поле повреждённого", "/api/upload-working", FieldDamagedFile, "video/mp4", 10, apierrors.CodeUnexpectedField, ""},
		{"слишком большой", "/api/upload-damaged", FieldDamagedFile, "video/mp4", 4096, apierrors.CodeFileTooLarge, "Файл слишком большой (максимум 1.0 KiB)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t, 1024)

			rec := env.upload(t, tt.path, tt.field, "x.mp4", tt.contentType, videoPayload(tt.size))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("ожидался статус 400, получен %d: %s", rec.Code, rec.Body.String())
			}
			body := decodeError(t, rec)
			if body.Success || body.Code != tt.code {
				t.Errorf("ожидался код %s, получено %+v", tt.code, body)
			}
			if tt.message != "" && body.Error != tt.message {
				t.Errorf("сообщение: хотели %q, получили %q", tt.message, body.Error)
			}
			if env.idx.Count() != 0 || env.disp.count() != 0 {
				t.Error("после ошибки не должно быть записей и уведомлений")
			}
		})
	}
}

func TestUpload_NoFile(t *testing.T) {
	env := setupTestEnv(t, 1024)

	t.Run("форма без файла", func(t *testing.T) {
		body := &bytes.Buffer{}
		mw := multipart.NewWriter(body)
		_ = mw.WriteField("email", "a@b.com")
		_ = mw.Close()

		req := httptest.NewRequest(http.MethodPost, "/api/upload-damaged", body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := env.do(req)

		if rec.Code != http.StatusBadRequest || decodeError(t, rec).Code != apierrors.CodeNoFile {
			t.Errorf("ожидался 400 NO_FILE, получено %d %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("не multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/upload-damaged", strings.NewReader("{}"))
		req.Header.Set("Content-Type", "application/json")
		rec := env.do(req)

		if rec.Code != http.StatusBadRequest || decodeError(t, rec).Code != apierrors.CodeNoFile {
			t.Errorf("ожидался 400 NO_FILE, получено %d %s", rec.Code, rec.Body.String())
		}
	})
}

func TestUpload_EnglishErrors(t *testing.T) {
	env := setupTestEnv(t, 1024)

	body, ct := multipartBody(t, FieldDamagedFile, "x.png", "image/png", []byte("png"))
	req := httptest.NewRequest(http.MethodPost, "/api/upload-damaged?lang=en", body)
	req.Header.Set("Content-Type", ct)
	rec := env.do(req)

	if msg := decodeError(t, rec).Error; msg != "Only video files are allowed!" {
		t.Errorf("ожидалось английское сообщение, получено %q", msg)
	}
}

// uploadDamaged загружает повреждённый файл и возвращает storageKey.
func uploadDamaged(t *testing.T, env *testEnv) string {
	t.Helper()
	rec := env.upload(t, "/api/upload-damaged", FieldDamagedFile, "crash.mp4", "video/mp4", videoPayload(64))
	if rec.Code != http.StatusOK {
		t.Fatalf("загрузка не удалась: %d %s", rec.Code, rec.Body.String())
	}
	var resp UploadResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return resp.File.StorageKey
}

func postJSON(env *testEnv, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return env.do(req)
}

func TestStartRecovery_Success(t *testing.T) {
	env := setupTestEnv(t, 1<<20)
	key := uploadDamaged(t, env)

	bodies := map[string]string{
		"строковая ссылка":  `{"damagedFile":"` + key + `","email":"a@b.com"}`,
		"объект storageKey": `{"damagedFile":{"storageKey":"` + key + `"},"telegram":"@pilot"}`,
		"объект filename":   `{"damagedFile":{"filename":"` + key + `","originalName":"crash.mp4"},"email":"a@b.com","workingFile":null}`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			rec := postJSON(env, "/api/start-recovery", body)
			if rec.Code != http.StatusOK {
				t.Fatalf("ожидался статус 200, получен %d: %s", rec.Code, rec.Body.String())
			}
			var resp StartRecoveryResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if !resp.Success || resp.RecoveryID == "" {
				t.Errorf("неожиданный ответ: %+v", resp)
			}
			if resp.EstimatedTime != "5-10 минут" || resp.Message != "Восстановление запущено" {
				t.Errorf("неожиданные тексты: %+v", resp)
			}
			if _, ok := env.recovery.Get(resp.RecoveryID); !ok {
				t.Error("заявка не сохранена")
			}
		})
	}
}

func TestStartRecovery_Errors(t *testing.T) {
	env := setupTestEnv(t, 1<<20)
	key := uploadDamaged(t, env)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"битый JSON", `{"damagedFile":`, apierrors.CodeValidationError},
		{"ссылка-число", `{"damagedFile":42,"email":"a@b.com"}`, apierrors.CodeValidationError},
		{"нет файла", `{"email":"a@b.com"}`, apierrors.CodeMissingDamagedFile},
		{"неизвестный файл", `{"damagedFile":"nope.mp4","email":"a@b.com"}`, apierrors.CodeMissingDamagedFile},
		{"нет контактов", `{"damagedFile":"` + key + `"}`, apierrors.CodeMissingContact},
		{"плохой email", `{"damagedFile":"` + key + `","email":"a@b"}`, apierrors.CodeInvalidEmail},
		{"неизвестный рабочий файл", `{"damagedFile":"` + key + `","workingFile":"x.mp4","email":"a@b.com"}`, apierrors.CodeMissingWorkingFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(env, "/api/start-recovery", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("ожидался статус 400, получен %d: %s", rec.Code, rec.Body.String())
			}
			if body := decodeError(t, rec); body.Code != tt.code || body.Error == "" {
				t.Errorf("ожидался код %s, получено %+v", tt.code, body)
			}
		})
	}
}

func TestRecoveryStatus(t *testing.T) {
	env := setupTestEnv(t, 1024)

	req := httptest.NewRequest(http.MethodGet, "/api/recovery-status/1760000000000", nil)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	rec := env.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d", rec.Code)
	}
	var resp RecoveryStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.RecoveryID != "1760000000000" || resp.Status != "processing" {
		t.Errorf("неожиданный ответ: %+v", resp)
	}
	if resp.Progress < 0 || resp.Progress >= 100 {
		t.Errorf("progress вне [0,100): %d", resp.Progress)
	}
	if resp.EstimatedTime != "3 minutes" {
		t.Errorf("ожидалось «3 minutes», получено %q", resp.EstimatedTime)
	}
}

func TestListFiles(t *testing.T) {
	env := setupTestEnv(t, 1<<20)
	first := uploadDamaged(t, env)
	second := uploadDamaged(t, env)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/files", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d", rec.Code)
	}
	var resp FileListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 || len(resp.Files) != 2 {
		t.Fatalf("ожидалось 2 файла, получено %+v", resp)
	}
	keys := map[string]bool{resp.Files[0].StorageKey: true, resp.Files[1].StorageKey: true}
	if !keys[first] || !keys[second] {
		t.Errorf("в списке нет загруженных файлов: %v", keys)
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/files?limit=1&offset=1&kind=damaged", nil))
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Files) != 1 || resp.Total != 2 || resp.Limit != 1 || resp.Offset != 1 {
		t.Errorf("пагинация не работает: %+v", resp)
	}
}

func TestListFiles_InvalidParams(t *testing.T) {
	env := setupTestEnv(t, 1024)

	for _, query := range []string{"limit=0", "limit=5000", "limit=abc", "offset=-1", "kind=other"} {
		rec := env.do(httptest.NewRequest(http.MethodGet, "/api/files?"+query, nil))
		if rec.Code != http.StatusBadRequest || decodeError(t, rec).Code != apierrors.CodeValidationError {
			t.Errorf("%s: ожидался 400 VALIDATION_ERROR, получено %d", query, rec.Code)
		}
	}
}

func TestDownloadFile(t *testing.T) {
	env := setupTestEnv(t, 1<<20)
	key := uploadDamaged(t, env)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/download/"+key, nil))
	if rec.Code != http.StatusOK || rec.Body.Len() != 64 {
		t.Errorf("ожидался 200 и 64 байта, получено %d и %d байт", rec.Code, rec.Body.Len())
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/download/unknown.mp4", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("ожидался статус 404, получен %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != apierrors.CodeNotFound || body.Error != "Файл не найден" {
		t.Errorf("неожиданное тело ошибки: %+v", body)
	}
}

func TestHealth(t *testing.T) {
	env := setupTestEnv(t, 1024)

	for _, path := range []string{"/health/live", "/health/ready"} {
		rec := env.do(httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: ожидался статус 200, получен %d", path, rec.Code)
		}
		var resp map[string]any
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp["status"] != "ok" || resp["service"] != serviceName {
			t.Errorf("%s: неожиданный ответ %v", path, resp)
		}
	}

	rec := env.do(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	var resp struct {
		Checks map[string]map[string]any `json:"checks"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if _, ok := resp.Checks["filesystem"]["available"]; !ok {
		t.Errorf("проверка filesystem без свободного места: %v", resp.Checks["filesystem"])
	}
}

type fakeIndex struct{ ready bool }

func (f fakeIndex) IsReady() bool { return f.ready }

type fakeDeps map[string]bool

func (f fakeDeps) Health() map[string]bool { return f }

func TestHealthReady_States(t *testing.T) {
	tests := []struct {
		name       string
		dataDir    string
		idx        IndexReadinessChecker
		deps       DependencyChecker
		wantCode   int
		wantStatus string
	}{
		{"всё в порядке", t.TempDir(), fakeIndex{true}, fakeDeps{"telegram-api:api.telegram.org:443": true}, http.StatusOK, statusOK},
		{"индекс не готов", t.TempDir(), fakeIndex{false}, nil, http.StatusServiceUnavailable, statusFail},
		{"нет директории", "/nonexistent/dvf-data", fakeIndex{true}, nil, http.StatusServiceUnavailable, statusFail},
		{"bot api недоступен", t.TempDir(), fakeIndex{true}, fakeDeps{"telegram-api:api.telegram.org:443": false}, http.StatusOK, statusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.dataDir, tt.idx, tt.deps)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("ожидался статус %d, получен %d", tt.wantCode, rec.Code)
			}
			var resp map[string]any
			_ = json.Unmarshal(rec.Body.Bytes(), &resp)
			if resp["status"] != tt.wantStatus {
				t.Errorf("ожидался status=%s, получен %v", tt.wantStatus, resp["status"])
			}
		})
	}
}

func TestOpenAPISpec(t *testing.T) {
	env := setupTestEnv(t, 1024)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/openapi.yaml", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "openapi: 3.0.3") {
		t.Errorf("контракт не отдан: %d", rec.Code)
	}
}

func TestFileRef_Unmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`"damaged-1-a.mp4"`, "damaged-1-a.mp4"},
		{`{"storageKey":"k1","filename":"k2"}`, "k1"},
		{`{"filename":"k2"}`, "k2"},
		{`null`, ""},
		{`{}`, ""},
	}
	for _, tt := range tests {
		var ref FileRef
		if err := json.Unmarshal([]byte(tt.in), &ref); err != nil {
			t.Errorf("%s: ошибка %v", tt.in, err)
			continue
		}
		if string(ref) != tt.want {
			t.Errorf("%s: хотели %q, получили %q", tt.in, tt.want, ref)
		}
	}
}
