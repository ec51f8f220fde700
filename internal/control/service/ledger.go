package service

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/opencontrol/internal/domain"
	"github.com/xela07ax/opencontrol/internal/infra"
	"github.com/xela07ax/opencontrol/internal/store"
)

// Ledger владеет сессиями и их session-токенами: создание, скоупленные
// чтения, переходы статусов и ингест потребления бюджета.
type Ledger struct {
	store           *store.Store
	cfg             infra.SessionConfig
	sessionTokenTTL time.Duration
	issuer          *Issuer
	baseURL         string
	logger          *zap.Logger
	metrics         *infra.Metrics
}

func NewLedger(st *store.Store, cfg infra.SessionConfig, sessionTokenTTL time.Duration, issuer *Issuer, baseURL string, logger *zap.Logger, m *infra.Metrics) *Ledger {
	return &Ledger{
		store:           st,
		cfg:             cfg,
		sessionTokenTTL: sessionTokenTTL,
		issuer:          issuer,
		baseURL:         baseURL,
		logger:          logger.Named("ledger"),
		metrics:         m,
	}
}

// Create заводит сессию и возвращает её вместе с bootstrap-контрактом для
// (внешнего) провижининга песочницы. Путь атомарный: генерация id, вставка
// сессии и выпуск session-токена происходят под одним локом — читатель не
// может увидеть сессию без токена.
func (s *Ledger) Create(authCtx *domain.AuthContext, req domain.CreateSessionRequest) (*domain.Session, *domain.Bootstrap, error) {
	// Валидация целиком до любой мутации: всё или ничего.
	agentID, agentVersion, err := parseAgent(req.Agent)
	if err != nil {
		return nil, nil, err
	}
	budget, err := s.resolveBudget(req.Budget)
	if err != nil {
		return nil, nil, err
	}

	var (
		sess *domain.Session
		boot *domain.Bootstrap
	)
	err = s.store.Update(func(t *store.Tables) error {
		// Явный workspace обязан принадлежать организации вызывающего,
		// иначе not-found. Без workspace берём текущий.
		workspaceID := authCtx.Workspace.ID
		if req.WorkspaceID != "" {
			ws, err := ensureWorkspaceLocked(t, authCtx.Org.ID, req.WorkspaceID)
			if err != nil {
				return err
			}
			workspaceID = ws.ID
		}

		now := s.store.Now()
		sess = &domain.Session{
			ID:          store.NewID("sess"),
			CreatedAt:   now,
			UpdatedAt:   now,
			Status:      domain.SessionActive,
			OrgID:       authCtx.Org.ID,
			WorkspaceID: workspaceID,
			Agent: domain.AgentRef{
				ID:         agentID,
				Version:    agentVersion,
				InstanceID: store.NewID("agent"),
			},
			Parent: domain.ParentRef{
				Type: "human",
				ID:   authCtx.User.ID,
				Name: authCtx.User.Name,
			},
			Budget:      budget,
			Permissions: domain.DefaultPermissions(),
			Actions:     domain.DefaultActions(),
			Sandbox: domain.Sandbox{
				Image:      domain.SandboxImage,
				WorkDir:    domain.SandboxWorkDir,
				ExpiresAt:  now.Add(s.cfg.Lifetime()),
				Entrypoint: domain.SandboxEntrypoint,
				Env:        domain.SandboxEnvNames(),
			},
		}
		if req.Task != nil {
			sess.Task = *req.Task
		}
		t.Sessions[sess.ID] = sess

		token := s.issuer.mintSessionTokenLocked(t, sess.ID, s.sessionTokenTTL)
		boot = &domain.Bootstrap{
			Env: map[string]string{
				domain.EnvOrgID:        sess.OrgID,
				domain.EnvWorkspaceID:  sess.WorkspaceID,
				domain.EnvSessionID:    sess.ID,
				domain.EnvAgentID:      sess.Agent.ID,
				domain.EnvAPIURL:       s.baseURL,
				domain.EnvSessionToken: token.Token,
			},
			SessionTokenExpiresAt: token.ExpiresAt,
		}
		// Наружу уходит снапшот, живой указатель остаётся стору.
		sess = sess.Clone()
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.metrics.SessionCreated()
	s.logger.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("agent", sess.Agent.ID),
		zap.String("workspace_id", sess.WorkspaceID))
	return sess, boot, nil
}

// List возвращает сессии воркспейса, новые первыми. Скоуп — всегда
// организация вызывающего; воркспейс по умолчанию текущий.
func (s *Ledger) List(authCtx *domain.AuthContext, workspaceID string) ([]*domain.Session, error) {
	var out []*domain.Session
	err := s.store.Update(func(t *store.Tables) error {
		target := authCtx.Workspace.ID
		if workspaceID != "" {
			ws, err := ensureWorkspaceLocked(t, authCtx.Org.ID, workspaceID)
			if err != nil {
				return err
			}
			target = ws.ID
		}

		out = make([]*domain.Session, 0)
		for _, sess := range t.Sessions {
			if sess.OrgID == authCtx.Org.ID && sess.WorkspaceID == target {
				out = append(out, sess.Clone())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Контракт сортировки: createdAt по убыванию; на равных createdAt
	// добиваем id, чтобы повторные вызовы были стабильны.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// GetByAccessToken — org-scoped чтение. Сессия чужой организации намеренно
// неотличима от несуществующей (информацию о чужих тенантах не раскрываем).
func (s *Ledger) GetByAccessToken(authCtx *domain.AuthContext, sessionID string) (*domain.Session, error) {
	var out *domain.Session
	err := s.store.Update(func(t *store.Tables) error {
		sess, err := sessionScopedLocked(t, authCtx.Org.ID, sessionID)
		if err != nil {
			return err
		}
		out = sess.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetByAnyToken — dual-mode чтение: либо валидный access-токен (org-scoped),
// либо session-токен, совпадающий с запрошенной сессией один-в-один.
func (s *Ledger) GetByAnyToken(token, sessionID string) (*domain.Session, error) {
	var out *domain.Session
	err := s.store.Update(func(t *store.Tables) error {
		sess, err := s.authorizeSessionLocked(t, token, sessionID)
		if err != nil {
			return err
		}
		out = sess.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TransitionStatus — точка расширения для (внешней) подсистемы исполнения:
// переводит active-сессию в терминальный статус. Авторизация dual-mode,
// как у GetByAnyToken.
func (s *Ledger) TransitionStatus(token, sessionID string, next domain.SessionStatus) (*domain.Session, error) {
	var out *domain.Session
	err := s.store.Update(func(t *store.Tables) error {
		sess, err := s.authorizeSessionLocked(t, token, sessionID)
		if err != nil {
			return err
		}
		if err := sess.Status.CanTransitionTo(next); err != nil {
			return err
		}
		sess.Status = next
		sess.UpdatedAt = s.store.Now()
		out = sess.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("session status transitioned",
		zap.String("session_id", sessionID),
		zap.String("status", string(next)))
	return out, nil
}

// RecordUsage — ингест отчёта песочницы о потреблении. Дельты только
// неотрицательные. Добавка, пробившая лимит, всё равно фиксируется
// (песочница её уже потратила), но бюджет помечается исчерпанным.
func (s *Ledger) RecordUsage(token, sessionID string, delta domain.UsageDelta) (*domain.Session, error) {
	if delta.CostCents < 0 || delta.DurationSeconds < 0 || delta.Actions < 0 {
		return nil, domain.NewError(domain.CodeInvalidRequest, "usage deltas must be non-negative")
	}

	var out *domain.Session
	err := s.store.Update(func(t *store.Tables) error {
		sess, err := s.authorizeSessionLocked(t, token, sessionID)
		if err != nil {
			return err
		}

		sess.Budget.CostCents.Used += delta.CostCents
		sess.Budget.DurationSeconds.Used += delta.DurationSeconds
		sess.Budget.Actions.Used += delta.Actions
		if sess.Budget.CostCents.Remaining() == 0 ||
			sess.Budget.DurationSeconds.Remaining() == 0 ||
			sess.Budget.Actions.Remaining() == 0 {
			sess.Budget.Exhausted = true
		}
		sess.UpdatedAt = s.store.Now()
		out = sess.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// authorizeSessionLocked реализует dual-mode авторизацию доступа к сессии.
func (s *Ledger) authorizeSessionLocked(t *store.Tables, token, sessionID string) (*domain.Session, error) {
	now := s.store.Now()

	authCtx, accessErr := resolveAccessLocked(t, now, token)
	if accessErr == nil {
		return sessionScopedLocked(t, authCtx.Org.ID, sessionID)
	}
	if de, ok := domain.AsDomainError(accessErr); ok && de.Code != domain.CodeAuthInvalidToken {
		// Токен был access-токеном, но протух или осиротел — отдаём как есть.
		return nil, accessErr
	}

	st, ok := t.SessionTokens[token]
	if !ok {
		return nil, domain.NewError(domain.CodeAuthInvalidToken, "invalid token")
	}
	if !st.ExpiresAt.After(now) {
		delete(t.SessionTokens, token)
		return nil, domain.NewRetryableError(domain.CodeAuthTokenExpired, "session token expired")
	}
	// Session-токен скоупится ровно на одну сессию: чужая сессия —
	// scope violation, даже внутри той же организации.
	if st.SessionID != sessionID {
		return nil, domain.NewError(domain.CodeAuthScopeViolation, "session token does not grant access to this session")
	}

	sess, ok := t.Sessions[sessionID]
	if !ok {
		// Сессии физически не удаляются; токен на пропавшую сессию —
		// сломанный инвариант, а не пользовательская ошибка.
		return nil, domain.NewError(domain.CodeInvalidState, "session token references missing session")
	}
	return sess, nil
}

func sessionScopedLocked(t *store.Tables, orgID, sessionID string) (*domain.Session, error) {
	sess, ok := t.Sessions[sessionID]
	if !ok || sess.OrgID != orgID {
		return nil, domain.NewError(domain.CodeSessionNotFound, "session not found")
	}
	return sess, nil
}

// resolveBudget применяет независимые дефолты и валидирует итог: все три
// финальных лимита обязаны быть строго положительными, иначе весь запрос
// отклоняется — даже если кривой был только один.
func (s *Ledger) resolveBudget(req *domain.BudgetRequest) (domain.Budget, error) {
	cost := s.cfg.DefaultCostLimitCents
	duration := s.cfg.DefaultDurationLimitSeconds
	actions := s.cfg.DefaultActionLimit

	if req != nil {
		if req.CostLimitCents != nil {
			cost = *req.CostLimitCents
		}
		if req.DurationLimitSeconds != nil {
			duration = *req.DurationLimitSeconds
		}
		if req.ActionLimit != nil {
			actions = *req.ActionLimit
		}
	}

	if cost <= 0 || duration <= 0 || actions <= 0 {
		return domain.Budget{}, domain.NewError(domain.CodeInvalidBudget, "budget limits must be strictly positive")
	}

	return domain.Budget{
		CostCents:       domain.BudgetCounter{Limit: cost},
		DurationSeconds: domain.BudgetCounter{Limit: duration},
		Actions:         domain.BudgetCounter{Limit: actions},
	}, nil
}

// parseAgent разбирает ссылку на агента вида "acme/reviewer@1.4".
// Версия опциональна, по умолчанию latest.
func parseAgent(raw string) (id, version string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", domain.NewError(domain.CodeInvalidAgent, "agent is required")
	}
	if at := strings.LastIndex(raw, "@"); at > 0 {
		return raw[:at], raw[at+1:], nil
	}
	return raw, "latest", nil
}
