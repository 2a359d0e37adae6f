// auth.go — JWT middleware для операторских endpoints (/api/files, /api/download).
// Использует RS256 + JWKS. Claims: sub (subject), scope / scopes.
// Включается, только если задан DVF_OPERATOR_JWKS_URL.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/GnYaroslav/drone-video-fix/internal/api/errors"
	"github.com/GnYaroslav/drone-video-fix/internal/i18n"
)

// ScopeFilesRead — scope для просмотра и скачивания загруженных файлов.
const ScopeFilesRead = "files:read"

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeySubject — ключ для sub из JWT в контексте запроса.
	ContextKeySubject contextKey = "jwt_subject"
	// ContextKeyScopes — ключ для scopes из JWT в контексте запроса.
	ContextKeyScopes contextKey = "jwt_scopes"
)

// Claims — JWT claims оператора.
// Поддерживает два формата scopes:
//   - стандартный OAuth2: "scope" (строка через пробел)
//   - массив: "scopes"
type Claims struct {
	jwt.RegisteredClaims
	ScopeString string   `json:"scope"`
	ScopeArray  []string `json:"scopes"`
}

// Scopes возвращает объединённый список scope'ов из обоих форматов.
func (c *Claims) Scopes() []string {
	var result []string
	if c.ScopeString != "" {
		result = append(result, strings.Fields(c.ScopeString)...)
	}
	result = append(result, c.ScopeArray...)
	return result
}

// JWTAuth — middleware для JWT-аутентификации через JWKS.
type JWTAuth struct {
	jwks      keyfunc.Keyfunc
	jwtLeeway time.Duration
	bundle    *i18n.Bundle
	logger    *slog.Logger
}

// JWTAuthConfig — параметры для создания JWT middleware.
type JWTAuthConfig struct {
	// JWKSURL — URL JWKS endpoint
	JWKSURL string
	// ClientTimeout — таймаут HTTP-клиента JWKS
	ClientTimeout time.Duration
	// RefreshInterval — интервал обновления ключей
	RefreshInterval time.Duration
	// JWTLeeway — допустимое отклонение времени при проверке exp/nbf
	JWTLeeway time.Duration
}

// NewJWTAuth создаёт JWT middleware с JWKS из указанного URL.
func NewJWTAuth(authCfg JWTAuthConfig, bundle *i18n.Bundle, logger *slog.Logger) (*JWTAuth, error) {
	// NoErrorReturnFirstHTTPReq позволяет стартовать, даже если
	// JWKS endpoint ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(authCfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: authCfg.ClientTimeout},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           authCfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", authCfg.JWKSURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return NewJWTAuthWithKeyfunc(k, authCfg.JWTLeeway, bundle, logger), nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, jwtLeeway time.Duration, bundle *i18n.Bundle, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:      kf,
		jwtLeeway: jwtLeeway,
		bundle:    bundle,
		logger:    logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Извлекает Bearer token, валидирует подпись (RS256) и exp,
// помещает sub и scopes в контекст запроса.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deny := func(reason string) {
				j.logger.Debug("Запрос отклонён",
					slog.String("reason", reason),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, j.bundle.T(r.Context(), "error.unauthorized"))
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				deny("нет заголовка Authorization")
				return
			}

			scheme, tokenString, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || tokenString == "" {
				deny("ожидается Bearer <token>")
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, j.jwks.KeyfuncCtx(r.Context()),
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.jwtLeeway),
			)
			if err != nil {
				deny(err.Error())
				return
			}
			if !token.Valid {
				deny("невалидный токен")
				return
			}

			subject, err := claims.GetSubject()
			if err != nil || subject == "" {
				deny("нет sub в токене")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySubject, subject)
			ctx = context.WithValue(ctx, ContextKeyScopes, claims.Scopes())

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope возвращает middleware, проверяющий наличие scope.
// Должен использоваться ПОСЛЕ Middleware().
func (j *JWTAuth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slices.Contains(ScopesFromContext(r.Context()), scope) {
				next.ServeHTTP(w, r)
				return
			}
			j.logger.Debug("Недостаточно прав",
				slog.String("sub", SubjectFromContext(r.Context())),
				slog.String("required_scope", scope),
			)
			apierrors.Forbidden(w, j.bundle.T(r.Context(), "error.forbidden"))
		})
	}
}

// SubjectFromContext извлекает sub из контекста запроса.
func SubjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(ContextKeySubject).(string)
	return subject
}

// ScopesFromContext извлекает scopes из контекста запроса.
func ScopesFromContext(ctx context.Context) []string {
	scopes, _ := ctx.Value(ContextKeyScopes).([]string)
	return scopes
}
