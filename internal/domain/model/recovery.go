package model

import (
	"regexp"
	"time"
)

// emailAtom — непустая последовательность без пробельных символов и '@'.
// Класс пробелов перечислен явно: \s в RE2 не включает \v, NBSP,
// BOM и разделители Unicode, а в браузерной проверке они пробельные.
const emailAtom = `[^\t\n\v\f\r \x{00A0}\x{1680}\x{2000}-\x{200A}\x{2028}\x{2029}\x{202F}\x{205F}\x{3000}\x{FEFF}@]+`

// EmailPattern — синтаксическая проверка email (не RFC).
// Общая для сервера и клиентских предпроверок.
var EmailPattern = regexp.MustCompile(`^` + emailAtom + `@` + emailAtom + `\.` + emailAtom + `$`)

// RequestStatus — статус заявки на восстановление.
type RequestStatus string

const (
	// RequestCreated — заявка принята. Другие статусы пока не назначаются.
	RequestCreated RequestStatus = "created"
)

// ProgressProcessing — статус, который отдаёт заглушка запроса прогресса.
const ProgressProcessing = "processing"

// RecoveryRequest — заявка на восстановление повреждённого видео.
// Ссылки на файлы указывают на существующие записи индекса
// на момент создания заявки.
type RecoveryRequest struct {
	RequestID       string        `json:"request_id"`
	DamagedFileRef  string        `json:"damaged_file_ref"`
	WorkingFileRef  string        `json:"working_file_ref,omitempty"`
	ContactEmail    string        `json:"contact_email,omitempty"`
	ContactTelegram string        `json:"contact_telegram,omitempty"`
	Status          RequestStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
}

// StatusReport — ответ на запрос прогресса восстановления.
type StatusReport struct {
	RecoveryID    string
	Status        string
	Progress      int
	EstimatedTime string
}
