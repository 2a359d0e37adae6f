// ratelimit.go — ограничение частоты запросов с одного IP (go-chi/httprate).
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	apierrors "github.com/GnYaroslav/drone-video-fix/internal/api/errors"
	"github.com/GnYaroslav/drone-video-fix/internal/i18n"
)

// RateLimit возвращает middleware, пропускающий не больше limit запросов
// с одного IP за window. При превышении отвечает 429 с Retry-After.
// limit <= 0 отключает ограничение.
func RateLimit(limit int, window time.Duration, bundle *i18n.Bundle) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	retryAfter := strconv.Itoa(int(window.Seconds()))

	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", retryAfter)
			apierrors.RateLimited(w, bundle.T(r.Context(), "error.rate_limited"))
		}),
	)
}
