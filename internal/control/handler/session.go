package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/opencontrol/internal/control/auth"
	"github.com/xela07ax/opencontrol/internal/domain"
)

// SessionService — что session-хендлерам нужно от Session Ledger.
type SessionService interface {
	Create(authCtx *domain.AuthContext, req domain.CreateSessionRequest) (*domain.Session, *domain.Bootstrap, error)
	List(authCtx *domain.AuthContext, workspaceID string) ([]*domain.Session, error)
	GetByAnyToken(token, sessionID string) (*domain.Session, error)
	TransitionStatus(token, sessionID string, next domain.SessionStatus) (*domain.Session, error)
	RecordUsage(token, sessionID string, delta domain.UsageDelta) (*domain.Session, error)
}

type SessionHandler struct {
	service  SessionService
	writeErr func(http.ResponseWriter, *http.Request, error)
}

func NewSessionHandler(s SessionService, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{service: s, writeErr: WriteError(logger.Named("session-handler"))}
}

// List — GET /v1/sessions?workspace_id=: сессии воркспейса, новые первыми.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	if authCtx == nil {
		h.writeErr(w, r, domain.NewError(domain.CodeAuthRequired, "authentication required"))
		return
	}

	sessions, err := h.service.List(authCtx, r.URL.Query().Get("workspace_id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

type createSessionResponse struct {
	Session   *domain.Session   `json:"session"`
	Bootstrap *domain.Bootstrap `json:"bootstrap"`
}

// Create — POST /v1/sessions: новая сессия + bootstrap-бандл для песочницы.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	if authCtx == nil {
		h.writeErr(w, r, domain.NewError(domain.CodeAuthRequired, "authentication required"))
		return
	}

	var req domain.CreateSessionRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}

	sess, boot, err := h.service.Create(authCtx, req)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{Session: sess, Bootstrap: boot})
}

// Get — GET /v1/sessions/{id}. Dual-mode: принимает и access-токен
// (org-scoped), и session-токен самой сессии, поэтому роут не прикрыт
// общей auth-миддлварой — токен разбирается здесь.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	token, err := auth.BearerToken(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	sess, err := h.service.GetByAnyToken(token, chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type transitionRequest struct {
	Status domain.SessionStatus `json:"status"`
}

// Transition — POST /v1/sessions/{id}/status: active → completed|failed|terminated.
func (h *SessionHandler) Transition(w http.ResponseWriter, r *http.Request) {
	token, err := auth.BearerToken(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	var req transitionRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}

	sess, err := h.service.TransitionStatus(token, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Usage — POST /v1/sessions/{id}/usage: ингест потребления от песочницы.
func (h *SessionHandler) Usage(w http.ResponseWriter, r *http.Request) {
	token, err := auth.BearerToken(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	var delta domain.UsageDelta
	if err := decodeBody(r, &delta); err != nil {
		h.writeErr(w, r, err)
		return
	}

	sess, err := h.service.RecordUsage(token, chi.URLParam(r, "id"), delta)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
