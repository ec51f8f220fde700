package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/opencontrol/internal/domain"
)

// errorEnvelope — единый конверт ошибок boundary:
// {"error": {"code", "message", "retryable", "details"}}.
type errorEnvelope struct {
	Error *domain.Error `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError транслирует доменную ошибку в конверт. Boundary только
// переводит, никогда не восстанавливает. Нарушения инвариантов (5xx)
// логируются здесь — это единственное место, где о них узнает оператор.
func WriteError(logger *zap.Logger) func(http.ResponseWriter, *http.Request, error) {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		de, ok := domain.AsDomainError(err)
		if !ok {
			de = domain.NewError(domain.CodeInternalError, "internal error")
		}

		status := de.HTTPStatus()
		if status >= http.StatusInternalServerError {
			logger.Error("invariant violation at boundary",
				zap.String("path", r.URL.Path),
				zap.String("code", string(de.Code)),
				zap.Error(err))
		}

		writeJSON(w, status, errorEnvelope{Error: de})
	}
}

// decodeBody парсит JSON-тело в dst; кривой JSON — валидационная ошибка.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.NewError(domain.CodeInvalidRequest, "invalid request body")
	}
	return nil
}
