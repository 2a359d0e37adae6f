// middleware.go — HTTP middleware для определения языка ответа.
package i18n

import (
	"net/http"
	"strings"
)

// LangCookieName — имя cookie для хранения выбранного языка.
const LangCookieName = "lang"

// Middleware определяет язык запроса и помещает его в контекст.
// Приоритет: параметр ?lang → cookie "lang" → Accept-Language → язык по умолчанию.
func (b *Bundle) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lang := b.detectLanguage(r)
			ctx := WithLang(r.Context(), lang)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (b *Bundle) detectLanguage(r *http.Request) string {
	// 1. Явный параметр запроса
	if lang := strings.ToLower(r.URL.Query().Get("lang")); IsSupported(lang) {
		return lang
	}

	// 2. Cookie "lang" (пользователь переключил язык на сайте)
	if cookie, err := r.Cookie(LangCookieName); err == nil {
		if lang := strings.ToLower(cookie.Value); IsSupported(lang) {
			return lang
		}
	}

	// 3. Accept-Language заголовок
	if accept := r.Header.Get("Accept-Language"); accept != "" {
		return MatchLanguage(accept)
	}

	return b.defaultLang
}
