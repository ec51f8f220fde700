package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode — машиночитаемый код ошибки для единого конверта
// {"error": {code, message, retryable, details}}.
type ErrorCode string

const (
	// Auth-ошибки (401/403). Никогда не ретраятся внутри ядра.
	CodeAuthRequired       ErrorCode = "AUTH_REQUIRED"
	CodeAuthInvalidToken   ErrorCode = "AUTH_INVALID_TOKEN"
	CodeAuthTokenExpired   ErrorCode = "AUTH_TOKEN_EXPIRED"
	CodeAuthUnknownUser    ErrorCode = "AUTH_UNKNOWN_USER"
	CodeAuthScopeViolation ErrorCode = "AUTH_SCOPE_VIOLATION"

	// Device-code flow.
	CodeDeviceCodeNotFound  ErrorCode = "AUTH_DEVICE_CODE_NOT_FOUND"
	CodeDeviceCodeExpired   ErrorCode = "AUTH_DEVICE_CODE_EXPIRED"
	CodeAuthPendingApproval ErrorCode = "AUTH_PENDING_APPROVAL"

	// Валидация запроса. Отклоняется до любой мутации состояния.
	CodeInvalidRequest    ErrorCode = "INVALID_REQUEST"
	CodeInvalidAgent      ErrorCode = "INVALID_AGENT"
	CodeInvalidBudget     ErrorCode = "INVALID_BUDGET"
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"

	// Not-found. Межтенантные скрытия тоже отдаются этим классом (404, не 403),
	// чтобы не раскрывать существование чужих ресурсов.
	CodeOrgNotFound       ErrorCode = "ORG_NOT_FOUND"
	CodeWorkspaceNotFound ErrorCode = "WORKSPACE_NOT_FOUND"
	CodeSessionNotFound   ErrorCode = "SESSION_NOT_FOUND"

	// Нарушения инвариантов состояния (500). В корректной работе недостижимы.
	CodeInvalidState      ErrorCode = "INVALID_STATE"
	CodeInternalError     ErrorCode = "INTERNAL_ERROR"
	CodeNoUsersConfigured ErrorCode = "NO_USERS_CONFIGURED"
)

// Error — доменная ошибка ядра. Boundary Adapter транслирует её в HTTP-конверт
// без какой-либо попытки восстановления.
type Error struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus маппит код ошибки в HTTP-статус по таксономии ядра:
// 400 валидация, 401 аутентификация, 403 scope, 404 not-found,
// 410 истекший ресурс, 428 ожидание подтверждения, 500 инварианты.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeAuthRequired, CodeAuthInvalidToken, CodeAuthTokenExpired, CodeAuthUnknownUser:
		return http.StatusUnauthorized
	case CodeAuthScopeViolation:
		return http.StatusForbidden
	case CodeDeviceCodeNotFound, CodeOrgNotFound, CodeWorkspaceNotFound, CodeSessionNotFound:
		return http.StatusNotFound
	case CodeDeviceCodeExpired:
		return http.StatusGone
	case CodeAuthPendingApproval:
		return http.StatusPreconditionRequired
	case CodeInvalidRequest, CodeInvalidAgent, CodeInvalidBudget, CodeInvalidTransition:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// NewError — базовый конструктор.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewRetryableError помечает ошибку как retryable: корректное лечение на
// стороне клиента — повторить весь flow с начала (например, новый device code).
func NewRetryableError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: true}
}

// AsDomainError достает *Error из цепочки обёрток. Если её там нет —
// это неожиданный сбой, который boundary отдаст как INTERNAL_ERROR.
func AsDomainError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
