// recoverer.go — перехват паники в обработчике с ответом в стандартном формате ошибки.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/GnYaroslav/drone-video-fix/internal/api/errors"
	"github.com/GnYaroslav/drone-video-fix/internal/i18n"
)

// Recoverer возвращает middleware, превращающий панику в 500 INTERNAL_ERROR.
// http.ErrAbortHandler пробрасывается дальше: им сервер обрывает соединение.
func Recoverer(logger *slog.Logger, bundle *i18n.Bundle) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				logger.Error("Паника в обработчике",
					slog.Any("panic", rec),
					slog.String("path", r.URL.Path),
					slog.String("request_id", chimw.GetReqID(r.Context())),
					slog.String("stack", string(debug.Stack())),
				)
				apierrors.InternalError(w, bundle.T(r.Context(), "error.internal"))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
