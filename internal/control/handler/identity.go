package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/opencontrol/internal/control/auth"
	"github.com/xela07ax/opencontrol/internal/domain"
)

// IdentityService — что identity-хендлерам нужно от Identity Registry.
type IdentityService interface {
	SwitchWorkspace(authCtx *domain.AuthContext, workspaceID string) (*domain.IdentitySnapshot, error)
	OrgOverview(authCtx *domain.AuthContext) (*domain.Org, []*domain.Workspace, error)
}

type IdentityHandler struct {
	service  IdentityService
	writeErr func(http.ResponseWriter, *http.Request, error)
}

func NewIdentityHandler(s IdentityService, logger *zap.Logger) *IdentityHandler {
	return &IdentityHandler{service: s, writeErr: WriteError(logger.Named("identity-handler"))}
}

// Me — GET /v1/me: снапшот идентичности вызывающего.
func (h *IdentityHandler) Me(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	if authCtx == nil {
		h.writeErr(w, r, domain.NewError(domain.CodeAuthRequired, "authentication required"))
		return
	}
	writeJSON(w, http.StatusOK, authCtx.Snapshot())
}

type orgResponse struct {
	Org        *domain.Org         `json:"org"`
	Workspaces []*domain.Workspace `json:"workspaces"`
}

// Org — GET /v1/org: организация вызывающего и список её воркспейсов.
func (h *IdentityHandler) Org(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	if authCtx == nil {
		h.writeErr(w, r, domain.NewError(domain.CodeAuthRequired, "authentication required"))
		return
	}

	org, workspaces, err := h.service.OrgOverview(authCtx)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orgResponse{Org: org, Workspaces: workspaces})
}

type switchWorkspaceRequest struct {
	WorkspaceID string `json:"workspace_id"`
}

// SwitchWorkspace — POST /v1/me/workspace: смена активного воркспейса.
func (h *IdentityHandler) SwitchWorkspace(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	if authCtx == nil {
		h.writeErr(w, r, domain.NewError(domain.CodeAuthRequired, "authentication required"))
		return
	}

	var req switchWorkspaceRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}

	snap, err := h.service.SwitchWorkspace(authCtx, req.WorkspaceID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
