package store

import (
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/opencontrol/internal/domain"
)

// SeedInfo — идентификаторы посеянных сущностей, чтобы вызывающий код
// (и тесты) не выуживал их обратно из таблиц.
type SeedInfo struct {
	OrgID        string
	WorkspaceIDs []string
	UserID       string
	SessionID    string
}

// Seed наполняет стор стартовым состоянием: одна организация, два воркспейса,
// один пользователь и одна уже идущая active-сессия. Сид нужен, чтобы
// read-эндпоинты boundary были непустыми с первого запроса.
func (s *Store) Seed(sessionLifetime time.Duration) SeedInfo {
	var info SeedInfo

	// Ошибки тут невозможны: таблицы пустые, все id свежие.
	_ = s.Update(func(t *Tables) error {
		now := s.now()

		org := &domain.Org{
			ID:        NewID("org"),
			Name:      "Acme Labs",
			CreatedAt: now,
		}

		wsCore := &domain.Workspace{ID: NewID("ws"), Name: "core", OrgID: org.ID, CreatedAt: now}
		wsLabs := &domain.Workspace{ID: NewID("ws"), Name: "experiments", OrgID: org.ID, CreatedAt: now}
		org.WorkspaceIDs = []string{wsCore.ID, wsLabs.ID}

		user := &domain.User{
			ID:          NewID("user"),
			Name:        "Ada Reyes",
			Email:       "ada@acme.test",
			OrgID:       org.ID,
			WorkspaceID: wsCore.ID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		sess := &domain.Session{
			ID:          NewID("sess"),
			CreatedAt:   now,
			UpdatedAt:   now,
			Status:      domain.SessionActive,
			OrgID:       org.ID,
			WorkspaceID: wsCore.ID,
			Agent:       domain.AgentRef{ID: "acme/onboarding-bot", Version: "latest", InstanceID: NewID("agent")},
			Parent:      domain.ParentRef{Type: "human", ID: user.ID, Name: user.Name},
			Task:        domain.Task{Description: "Walk the new workspace through setup"},
			Budget: domain.Budget{
				CostCents:       domain.BudgetCounter{Limit: 500},
				DurationSeconds: domain.BudgetCounter{Limit: 300},
				Actions:         domain.BudgetCounter{Limit: 100},
			},
			Permissions: domain.DefaultPermissions(),
			Actions:     domain.DefaultActions(),
			Sandbox: domain.Sandbox{
				Image:      domain.SandboxImage,
				WorkDir:    domain.SandboxWorkDir,
				ExpiresAt:  now.Add(sessionLifetime),
				Entrypoint: domain.SandboxEntrypoint,
				Env:        domain.SandboxEnvNames(),
			},
		}

		t.Orgs[org.ID] = org
		t.Workspaces[wsCore.ID] = wsCore
		t.Workspaces[wsLabs.ID] = wsLabs
		t.Users[user.ID] = user
		t.Sessions[sess.ID] = sess
		t.DefaultUserID = user.ID

		info = SeedInfo{
			OrgID:        org.ID,
			WorkspaceIDs: []string{wsCore.ID, wsLabs.ID},
			UserID:       user.ID,
			SessionID:    sess.ID,
		}
		return nil
	})

	// Один лог на старте, чтобы оператор видел, с какими id поднялся процесс.
	s.logger.Info("seed state initialized",
		zap.String("org_id", info.OrgID),
		zap.String("user_id", info.UserID),
		zap.String("session_id", info.SessionID))

	return info
}
