// Пакет client — HTTP-клиент API drone-video-fix.
// Используется CLI dvfctl: потоковая загрузка файлов (multipart через io.Pipe),
// регистрация заявки, запрос статуса, операторский список файлов.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/GnYaroslav/drone-video-fix/internal/domain/model"
)

// maxErrorBody — сколько байт тела ошибки читается для диагностики.
const maxErrorBody = 64 << 10

// FileInfo — дескриптор загруженного файла в ответе сервера.
type FileInfo struct {
	StorageKey   string    `json:"storageKey"`
	Filename     string    `json:"filename"`
	OriginalName string    `json:"originalName"`
	MimeType     string    `json:"mimeType"`
	SizeBytes    int64     `json:"sizeBytes"`
	UploadedAt   time.Time `json:"uploadedAt"`
	Kind         string    `json:"kind"`
}

// Key возвращает ссылку на файл для заявки.
func (f *FileInfo) Key() string {
	if f.StorageKey != "" {
		return f.StorageKey
	}
	return f.Filename
}

type uploadResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	File    FileInfo `json:"file"`
}

// RecoveryRequest — тело POST /api/start-recovery.
type RecoveryRequest struct {
	DamagedFile string `json:"damagedFile"`
	WorkingFile string `json:"workingFile,omitempty"`
	Email       string `json:"email,omitempty"`
	Telegram    string `json:"telegram,omitempty"`
}

// RecoveryResponse — ответ на регистрацию заявки.
type RecoveryResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	RecoveryID    string `json:"recoveryId"`
	EstimatedTime string `json:"estimatedTime"`
}

// StatusResponse — ответ GET /api/recovery-status/{id}.
type StatusResponse struct {
	RecoveryID    string `json:"recoveryId"`
	Status        string `json:"status"`
	Progress      int    `json:"progress"`
	EstimatedTime string `json:"estimatedTime"`
}

// FileListResponse — ответ GET /api/files.
type FileListResponse struct {
	Files  []FileInfo `json:"files"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// APIError — сервер ответил ошибкой в стандартном формате.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Options — необязательные параметры клиента.
type Options struct {
	// Timeout — таймаут запросов без тела файла (0 — 30s)
	Timeout time.Duration
	// Lang — язык сообщений сервера (ru, en)
	Lang string
	// Token — Bearer-токен для операторских endpoints
	Token string
}

// Client — клиент API drone-video-fix.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	lang       string
	token      string
	logger     *slog.Logger
}

// New создаёт клиент. HTTP-клиент без общего таймаута: загрузка большого
// файла ограничивается контекстом вызывающего.
func New(baseURL string, opts Options, logger *slog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: &http.Transport{MaxIdleConnsPerHost: 4},
		},
		timeout: timeout,
		lang:    opts.Lang,
		token:   opts.Token,
		logger:  logger.With(slog.String("component", "api_client")),
	}
}

// Upload потоково загружает файл в /api/upload-damaged или /api/upload-working.
// contentType — заявленный MIME-тип части (сервер принимает только video/*).
func (c *Client) Upload(ctx context.Context, kind model.UploadKind, filename, contentType string, r io.Reader) (*FileInfo, error) {
	var path, field string
	switch kind {
	case model.KindDamaged:
		path, field = "/api/upload-damaged", "damagedFile"
	case model.KindWorking:
		path, field = "/api/upload-working", "workingFile"
	default:
		return nil, fmt.Errorf("неизвестный тип загрузки: %q", kind)
	}

	pr, pw := io.Pipe()
	// Закрытие читающей стороны останавливает писателя, если сервер ответил досрочно
	defer pr.Close()
	mw := multipart.NewWriter(pw)

	go func() {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
		header.Set("Content-Type", contentType)

		part, err := mw.CreatePart(header)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, pr)
	if err != nil {
		return nil, fmt.Errorf("создание запроса Upload: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.setCommonHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос Upload: %w", err)
	}
	defer resp.Body.Close()

	var body uploadResponse
	if err := c.decode(resp, &body); err != nil {
		return nil, err
	}

	c.logger.Debug("Файл загружен",
		slog.String("storage_key", body.File.Key()),
		slog.Int64("size", body.File.SizeBytes),
	)
	return &body.File, nil
}

// StartRecovery регистрирует заявку на восстановление.
func (c *Client) StartRecovery(ctx context.Context, reqBody RecoveryRequest) (*RecoveryResponse, error) {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("сериализация заявки: %w", err)
	}

	var out RecoveryResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/start-recovery", bytes.NewReader(data), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecoveryStatus запрашивает прогресс восстановления.
func (c *Client) RecoveryStatus(ctx context.Context, recoveryID string) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/recovery-status/"+url.PathEscape(recoveryID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListFiles возвращает страницу загруженных файлов (операторский endpoint).
func (c *Client) ListFiles(ctx context.Context, limit, offset int) (*FileListResponse, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))

	var out FileListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/files?"+query.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body io.Reader, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("создание запроса %s %s: %w", method, path, err)
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setCommonHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("запрос %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	return c.decode(resp, out)
}

func (c *Client) setCommonHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.lang != "" {
		req.Header.Set("Accept-Language", c.lang)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// decode разбирает успешный ответ в out или возвращает *APIError.
func (c *Client) decode(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		apiErr := &APIError{StatusCode: resp.StatusCode}
		var body struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
			apiErr.Code = body.Code
			apiErr.Message = body.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("разбор ответа: %w", err)
	}
	return nil
}

// AsAPIError извлекает *APIError из цепочки ошибок.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
