package service

import (
	"go.uber.org/zap"

	"github.com/xela07ax/opencontrol/internal/domain"
	"github.com/xela07ax/opencontrol/internal/store"
)

// Registry владеет пользователями, организациями и воркспейсами на всё
// время жизни процесса. Здесь же живёт единственный tenant-isolation gate.
type Registry struct {
	store  *store.Store
	logger *zap.Logger
}

func NewRegistry(st *store.Store, logger *zap.Logger) *Registry {
	return &Registry{
		store:  st,
		logger: logger.Named("registry"),
	}
}

// ResolveOrg возвращает организацию или not-found.
func (r *Registry) ResolveOrg(id string) (*domain.Org, error) {
	var org *domain.Org
	err := r.store.Update(func(t *store.Tables) error {
		o, ok := t.Orgs[id]
		if !ok {
			return domain.NewError(domain.CodeOrgNotFound, "organization not found")
		}
		org = o.Clone()
		return nil
	})
	return org, err
}

// ResolveWorkspace возвращает воркспейс или not-found.
func (r *Registry) ResolveWorkspace(id string) (*domain.Workspace, error) {
	var ws *domain.Workspace
	err := r.store.Update(func(t *store.Tables) error {
		w, ok := t.Workspaces[id]
		if !ok {
			return domain.NewError(domain.CodeWorkspaceNotFound, "workspace not found")
		}
		ws = w.Clone()
		return nil
	})
	return ws, err
}

// EnsureWorkspaceBelongsToOrg — граница изоляции тенантов. Через неё проходит
// каждая операция, принимающая workspace id от вызывающего. Чужой воркспейс
// неотличим от несуществующего: отвечаем not-found, без намёков.
func (r *Registry) EnsureWorkspaceBelongsToOrg(orgID, workspaceID string) (*domain.Workspace, error) {
	var ws *domain.Workspace
	err := r.store.Update(func(t *store.Tables) error {
		w, err := ensureWorkspaceLocked(t, orgID, workspaceID)
		if err != nil {
			return err
		}
		ws = w.Clone()
		return nil
	})
	return ws, err
}

// ensureWorkspaceLocked — та же проверка для вызова изнутри чужой транзакции
// (атомарный путь создания сессии).
func ensureWorkspaceLocked(t *store.Tables, orgID, workspaceID string) (*domain.Workspace, error) {
	w, ok := t.Workspaces[workspaceID]
	if !ok || w.OrgID != orgID {
		return nil, domain.NewError(domain.CodeWorkspaceNotFound, "workspace not found")
	}
	return w, nil
}

// SwitchWorkspace меняет текущий воркспейс пользователя. При провале проверки
// принадлежности состояние пользователя не трогаем — всё или ничего.
func (r *Registry) SwitchWorkspace(authCtx *domain.AuthContext, workspaceID string) (*domain.IdentitySnapshot, error) {
	if workspaceID == "" {
		return nil, domain.NewError(domain.CodeInvalidRequest, "workspace id is required")
	}

	var snap domain.IdentitySnapshot
	err := r.store.Update(func(t *store.Tables) error {
		ws, err := ensureWorkspaceLocked(t, authCtx.Org.ID, workspaceID)
		if err != nil {
			return err
		}

		user, ok := t.Users[authCtx.User.ID]
		if !ok {
			// Пользователи в этом ядре не удаляются; пропажа — сломанный инвариант.
			return domain.NewError(domain.CodeInvalidState, "authenticated user missing from registry")
		}

		user.WorkspaceID = ws.ID
		user.UpdatedAt = r.store.Now()
		// authCtx.Org уже копия (резолв отдаёт снапшоты), остальное копируем сами.
		snap = domain.IdentitySnapshot{User: user.Clone(), Org: authCtx.Org, Workspace: ws.Clone()}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("workspace switched",
		zap.String("user_id", snap.User.ID),
		zap.String("workspace_id", workspaceID))
	return &snap, nil
}

// OrgOverview — организация вызывающего плюс её воркспейсы (для GET /v1/org).
func (r *Registry) OrgOverview(authCtx *domain.AuthContext) (*domain.Org, []*domain.Workspace, error) {
	var (
		org *domain.Org
		wss []*domain.Workspace
	)
	err := r.store.Update(func(t *store.Tables) error {
		o, ok := t.Orgs[authCtx.Org.ID]
		if !ok {
			return domain.NewError(domain.CodeInvalidState, "authenticated org missing from registry")
		}
		org = o.Clone()
		for _, id := range o.WorkspaceIDs {
			w, ok := t.Workspaces[id]
			if !ok {
				// Инвариант: каждый id в списке организации обязан существовать.
				return domain.NewError(domain.CodeInvalidState, "org references missing workspace")
			}
			wss = append(wss, w.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return org, wss, nil
}
