// messages.go — тексты уведомлений оператору (Telegram, parse_mode HTML).
// Все пользовательские значения экранируются: имя файла и контакты
// приходят от клиента и могут содержать разметку.
package notify

import (
	"fmt"
	"html"
	"strings"
	"time"
)

const (
	// notSpecified — подстановка для незаполненного контакта.
	notSpecified = "Не указан"
	// notAvailable — подстановка для отсутствующего значения в итоговой заявке.
	notAvailable = "N/A"
	// timeLayout — формат времени в сообщениях (ru-RU).
	timeLayout = "02.01.2006, 15:04:05"
)

// Имена событий для логов и метрик Dispatcher.
const (
	EventUploadDamaged = "upload_damaged"
	EventUploadWorking = "upload_working"
	EventRecovery      = "recovery_started"
	EventCompletion    = "client_completion"
)

// FormatSizeMB форматирует размер в мегабайтах с двумя знаками.
func FormatSizeMB(size int64) string {
	return fmt.Sprintf("%.2f MB", float64(size)/1024/1024)
}

// FormatTime форматирует время в локальной зоне.
func FormatTime(t time.Time) string {
	return t.Local().Format(timeLayout)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return html.EscapeString(s)
}

// DamagedUploaded — уведомление о загрузке повреждённого файла.
func DamagedUploaded(originalName string, size int64, at time.Time) string {
	return fmt.Sprintf("🎬 <b>Новый файл загружен!</b>\n\n"+
		"📁 Файл: %s\n"+
		"📏 Размер: %s\n"+
		"⏰ Время: %s\n\n"+
		"🔧 Готов к восстановлению!",
		html.EscapeString(originalName), FormatSizeMB(size), FormatTime(at))
}

// WorkingUploaded — уведомление о загрузке рабочего (эталонного) файла.
func WorkingUploaded(originalName string, size int64, at time.Time) string {
	return fmt.Sprintf("✅ <b>Рабочий файл загружен!</b>\n\n"+
		"📁 Файл: %s\n"+
		"📏 Размер: %s\n"+
		"⏰ Время: %s\n\n"+
		"🎯 Это улучшит качество восстановления!",
		html.EscapeString(originalName), FormatSizeMB(size), FormatTime(at))
}

// RecoveryStarted — уведомление о новой заявке на восстановление.
func RecoveryStarted(damagedRef, email, telegram, requestID string, at time.Time) string {
	return fmt.Sprintf("🚀 <b>Восстановление запущено!</b>\n\n"+
		"📁 Файл: %s\n"+
		"📧 Email: %s\n"+
		"📱 Telegram: %s\n"+
		"⏰ Время: %s\n\n"+
		"🆔 ID: %s",
		html.EscapeString(damagedRef),
		orDefault(email, notSpecified),
		orDefault(telegram, notSpecified),
		FormatTime(at),
		html.EscapeString(requestID))
}

// Completion — данные итогового сообщения клиентского сценария.
type Completion struct {
	Email           string
	Telegram        string
	DamagedName     string
	DamagedSize     int64
	WorkingName     string
	ServerFilename  string
	CompletedAt     time.Time
	HasDamagedSize  bool
	HasWorkingFile  bool
	HasServerResult bool
}

// ClientCompletion — итоговая заявка, отправляемая после завершения
// клиентского сценария. Отсутствующие значения заменяются на N/A.
func ClientCompletion(c Completion) string {
	size := notAvailable
	if c.HasDamagedSize {
		size = FormatSizeMB(c.DamagedSize)
	}
	working := notAvailable
	if c.HasWorkingFile {
		working = orDefault(c.WorkingName, notAvailable)
	}
	server := notAvailable
	if c.HasServerResult {
		server = orDefault(c.ServerFilename, notAvailable)
	}

	return fmt.Sprintf("🎬 Новая заявка на восстановление видео:\n\n"+
		"📧 Email: %s\n"+
		"📱 Telegram: %s\n\n"+
		"📁 Поврежденный файл: %s\n"+
		"📊 Размер: %s\n"+
		"📁 Рабочий файл: %s\n"+
		"🆔 Серверное имя: %s\n\n"+
		"⏰ Время: %s\n\n"+
		"#DroneVideoFix #Заявка",
		orDefault(c.Email, notAvailable),
		orDefault(c.Telegram, notSpecified),
		orDefault(c.DamagedName, notAvailable),
		size,
		working,
		server,
		FormatTime(c.CompletedAt))
}
