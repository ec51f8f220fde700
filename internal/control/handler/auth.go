package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/opencontrol/internal/domain"
)

// DeviceAuthService — что auth-хендлерам нужно от Credential Issuer.
type DeviceAuthService interface {
	StartDeviceAuth() (*domain.DeviceAuthStart, error)
	ApproveDeviceAuth(userCode string) error
	CompleteDeviceAuth(deviceCode string) (*domain.TokenResponse, error)
}

type AuthHandler struct {
	service  DeviceAuthService
	writeErr func(http.ResponseWriter, *http.Request, error)
}

func NewAuthHandler(s DeviceAuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{service: s, writeErr: WriteError(logger.Named("auth-handler"))}
}

// DeviceStart — POST /v1/auth/device/start (без аутентификации).
func (h *AuthHandler) DeviceStart(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.StartDeviceAuth()
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type approveRequest struct {
	UserCode string `json:"user_code"`
}

// DeviceApprove — POST /v1/auth/device/approve: внешнее подтверждение кода
// (в браузерном flow сюда ведёт verification_uri).
func (h *AuthHandler) DeviceApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	if req.UserCode == "" {
		h.writeErr(w, r, domain.NewError(domain.CodeInvalidRequest, "user_code is required"))
		return
	}
	if err := h.service.ApproveDeviceAuth(req.UserCode); err != nil {
		h.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type completeRequest struct {
	DeviceCode string `json:"device_code"`
}

// DeviceComplete — POST /v1/auth/device/complete: обмен кода на access-токен.
func (h *AuthHandler) DeviceComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	if req.DeviceCode == "" {
		h.writeErr(w, r, domain.NewError(domain.CodeInvalidRequest, "device_code is required"))
		return
	}

	out, err := h.service.CompleteDeviceAuth(req.DeviceCode)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
