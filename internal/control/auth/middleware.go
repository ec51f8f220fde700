package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/xela07ax/opencontrol/internal/domain"
)

// TokenResolver — то, что boundary требует от Credential Issuer.
type TokenResolver interface {
	Resolve(token string) (*domain.AuthContext, error)
}

// Тип для ключа в контексте (избегаем коллизий)
type ctxKey string

const authCtxKey ctxKey = "auth_context"

// BearerToken извлекает токен из "Authorization: Bearer <token>".
// Отсутствие или кривой формат — AUTH_REQUIRED, тем же кодом, что и
// дальнейшие провалы резолва: словарь ошибок единый от края до края.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", domain.NewError(domain.CodeAuthRequired, "authorization header is required")
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", domain.NewError(domain.CodeAuthRequired, "authorization header must be 'Bearer <token>'")
	}
	return strings.TrimSpace(token), nil
}

// NewMiddleware резолвит bearer-токен в AuthContext и прокидывает его в
// контекст запроса. Ошибки отдаются единым конвертом через writeErr.
func NewMiddleware(resolver TokenResolver, logger *zap.Logger, writeErr func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := BearerToken(r)
			if err != nil {
				writeErr(w, r, err)
				return
			}

			authCtx, err := resolver.Resolve(token)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				writeErr(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), authCtxKey, authCtx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext достаёт AuthContext, положенный миддлварой.
// nil означает, что роут ошибочно не прикрыт миддлварой.
func FromContext(ctx context.Context) *domain.AuthContext {
	if v, ok := ctx.Value(authCtxKey).(*domain.AuthContext); ok {
		return v
	}
	return nil
}
