// Пакет i18n — локализация ответов API.
// Поддерживаемые языки: Русский (ru), English (en).
// Язык определяется middleware: ?lang → cookie "lang" → Accept-Language → язык по умолчанию.
package i18n

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/text/language"
)

// Поддерживаемые языки
var (
	// SupportedLanguages — список поддерживаемых тегов языков.
	// Первый элемент — fallback matcher-а при отсутствии совпадений.
	SupportedLanguages = []language.Tag{
		language.Russian,
		language.English,
	}

	matcher = language.NewMatcher(SupportedLanguages)
)

// contextKey — тип ключа для контекста (избегаем коллизий).
type contextKey string

const contextKeyLang contextKey = "i18n_lang"

// Bundle — хранилище переводов для всех языков.
// Загружается один раз при старте приложения.
type Bundle struct {
	mu          sync.RWMutex
	catalogs    map[string]map[string]string // lang → key → translation
	defaultLang string
	logger      *slog.Logger
}

// NewBundle создаёт пустой Bundle с языком по умолчанию.
func NewBundle(defaultLang string, logger *slog.Logger) *Bundle {
	if !IsSupported(defaultLang) {
		defaultLang = "ru"
	}
	return &Bundle{
		catalogs:    make(map[string]map[string]string),
		defaultLang: defaultLang,
		logger:      logger,
	}
}

// DefaultLang возвращает язык по умолчанию.
func (b *Bundle) DefaultLang() string {
	return b.defaultLang
}

// LoadMessages загружает JSON-каталог переводов для указанного языка.
// JSON формат: {"key": "translation", ...} (плоский).
func (b *Bundle) LoadMessages(lang string, data []byte) error {
	var messages map[string]string
	if err := json.Unmarshal(data, &messages); err != nil {
		return fmt.Errorf("i18n: ошибка парсинга каталога %s: %w", lang, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.catalogs[lang] = messages

	if b.logger != nil {
		b.logger.Debug("i18n каталог загружен",
			slog.String("lang", lang),
			slog.Int("keys", len(messages)),
		)
	}
	return nil
}

// Translate возвращает перевод по ключу для указанного языка.
// Порядок поиска: запрошенный язык → язык по умолчанию → сам ключ.
func (b *Bundle) Translate(lang, key string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if catalog, ok := b.catalogs[lang]; ok {
		if msg, ok := catalog[key]; ok {
			return msg
		}
	}

	if lang != b.defaultLang {
		if catalog, ok := b.catalogs[b.defaultLang]; ok {
			if msg, ok := catalog[key]; ok {
				return msg
			}
		}
	}

	return key
}

// Translatef возвращает перевод с подстановкой аргументов.
func (b *Bundle) Translatef(lang, key string, args ...any) string {
	template := b.Translate(lang, key)
	if len(args) == 0 {
		return template
	}
	return formatFunc(template, args...)
}

// T возвращает перевод по ключу, используя язык из контекста.
func (b *Bundle) T(ctx context.Context, key string, args ...any) string {
	return b.Translatef(b.LangFromContext(ctx), key, args...)
}

// LangFromContext извлекает язык из контекста или возвращает язык по умолчанию.
func (b *Bundle) LangFromContext(ctx context.Context) string {
	if lang, ok := ctx.Value(contextKeyLang).(string); ok && lang != "" {
		return lang
	}
	return b.defaultLang
}

// WithLang помещает язык в контекст.
func WithLang(ctx context.Context, lang string) context.Context {
	return context.WithValue(ctx, contextKeyLang, lang)
}

// IsSupported проверяет, поддерживается ли язык.
func IsSupported(lang string) bool {
	return lang == "ru" || lang == "en"
}

// formatFunc — ссылка на fmt.Sprintf через переменную: формат-строки
// приходят из JSON-каталогов, статическая проверка go vet неприменима.
//
//nolint:govet // обход go vet printf-анализатора
var formatFunc = fmt.Sprintf

// MatchLanguage определяет лучший язык из Accept-Language заголовка.
// Возвращает "ru" или "en".
func MatchLanguage(acceptLanguage string) string {
	tag, _ := language.MatchStrings(matcher, acceptLanguage)
	base, _ := tag.Base()

	if strings.HasPrefix(base.String(), "en") {
		return "en"
	}
	return "ru"
}
