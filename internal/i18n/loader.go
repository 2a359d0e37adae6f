// loader.go — загрузка встроенных каталогов переводов.
package i18n

import (
	"embed"
	"fmt"
	"log/slog"
)

// LocaleFS — встроенные JSON-каталоги переводов.
//
//go:embed locales/*.json
var LocaleFS embed.FS

// Load создаёт Bundle и загружает в него все встроенные каталоги.
// Ожидаемые файлы: locales/ru.json, locales/en.json.
func Load(defaultLang string, logger *slog.Logger) (*Bundle, error) {
	bundle := NewBundle(defaultLang, logger)
	langs := []string{"ru", "en"}

	for _, lang := range langs {
		path := fmt.Sprintf("locales/%s.json", lang)
		data, err := LocaleFS.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("i18n: не удалось прочитать %s: %w", path, err)
		}

		if err := bundle.LoadMessages(lang, data); err != nil {
			return nil, err
		}
	}

	logger.Info("i18n каталоги загружены",
		slog.Int("languages", len(langs)),
		slog.String("default", bundle.defaultLang),
	)
	return bundle, nil
}
