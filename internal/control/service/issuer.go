package service

import (
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/opencontrol/internal/domain"
	"github.com/xela07ax/opencontrol/internal/infra"
	"github.com/xela07ax/opencontrol/internal/store"
)

// Issuer владеет device codes и токенами обоих видов. Модель истечения
// одна на всё: абсолютный timestamp на выдаче (now + ttl), без скользящего
// продления. Истёкшие записи прибираются лениво — свипом или при резолве.
type Issuer struct {
	store   *store.Store
	cfg     infra.AuthConfig
	baseURL string
	logger  *zap.Logger
	metrics *infra.Metrics
}

func NewIssuer(st *store.Store, cfg infra.AuthConfig, baseURL string, logger *zap.Logger, m *infra.Metrics) *Issuer {
	return &Issuer{
		store:   st,
		cfg:     cfg,
		baseURL: baseURL,
		logger:  logger.Named("issuer"),
		metrics: m,
	}
}

// StartDeviceAuth выпускает новый device code для «дефолтного» пользователя —
// того, кто инициирует логин на этой машине. При включённом auto-approve
// аппрув проставляется сразу (референсная модель «клик уже сделан»).
func (s *Issuer) StartDeviceAuth() (*domain.DeviceAuthStart, error) {
	var out *domain.DeviceAuthStart
	err := s.store.Update(func(t *store.Tables) error {
		if len(t.Users) == 0 {
			return domain.NewError(domain.CodeNoUsersConfigured, "no users configured in registry")
		}
		userID := t.DefaultUserID
		if _, ok := t.Users[userID]; !ok {
			return domain.NewError(domain.CodeInvalidState, "default user missing from registry")
		}

		now := s.store.Now()
		dc := &domain.DeviceCode{
			DeviceCode: store.NewToken("dc"),
			UserCode:   store.NewUserCode(),
			UserID:     userID,
			ExpiresAt:  now.Add(s.cfg.DeviceCodeTTL),
		}
		if s.cfg.AutoApproveDevice {
			approved := now
			dc.ApprovedAt = &approved
		}
		t.DeviceCodes[dc.DeviceCode] = dc

		out = &domain.DeviceAuthStart{
			DeviceCode:              dc.DeviceCode,
			UserCode:                dc.UserCode,
			VerificationURI:         s.baseURL + "/device",
			VerificationURIComplete: s.baseURL + "/device?user_code=" + url.QueryEscape(dc.UserCode),
			ExpiresIn:               int64(s.cfg.DeviceCodeTTL.Seconds()),
			Interval:                5,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("device auth started", zap.String("user_code", out.UserCode))
	return out, nil
}

// ApproveDeviceAuth фиксирует внешнее подтверждение по человекочитаемому коду.
// Идемпотентна: повторный аппрув того же кода — no-op.
func (s *Issuer) ApproveDeviceAuth(userCode string) error {
	return s.store.Update(func(t *store.Tables) error {
		for _, dc := range t.DeviceCodes {
			if dc.UserCode != userCode {
				continue
			}
			now := s.store.Now()
			if !dc.ExpiresAt.After(now) {
				delete(t.DeviceCodes, dc.DeviceCode)
				return domain.NewRetryableError(domain.CodeDeviceCodeExpired, "device code expired")
			}
			if dc.ApprovedAt == nil {
				dc.ApprovedAt = &now
			}
			return nil
		}
		return domain.NewError(domain.CodeDeviceCodeNotFound, "device code not found")
	})
}

// CompleteDeviceAuth обменивает device code на свежий access-токен.
// Код одноразовый: удаляется и при успехе, и при обнаружении истечения.
func (s *Issuer) CompleteDeviceAuth(deviceCode string) (*domain.TokenResponse, error) {
	var out *domain.TokenResponse
	err := s.store.Update(func(t *store.Tables) error {
		dc, ok := t.DeviceCodes[deviceCode]
		if !ok {
			return domain.NewError(domain.CodeDeviceCodeNotFound, "device code not found")
		}

		now := s.store.Now()
		if !dc.ExpiresAt.After(now) {
			// Ленивая уборка: истёкший код удаляем прямо на детекте,
			// повторный обмен уже получит not-found.
			delete(t.DeviceCodes, deviceCode)
			return domain.NewRetryableError(domain.CodeDeviceCodeExpired, "device code expired")
		}
		if !dc.Approved() {
			return domain.NewRetryableError(domain.CodeAuthPendingApproval, "device code is awaiting approval")
		}

		user, ok := t.Users[dc.UserID]
		if !ok {
			return domain.NewError(domain.CodeAuthUnknownUser, "device code owner is unknown")
		}
		org, ok := t.Orgs[user.OrgID]
		if !ok {
			return domain.NewError(domain.CodeInvalidState, "user references missing org")
		}
		ws, ok := t.Workspaces[user.WorkspaceID]
		if !ok {
			return domain.NewError(domain.CodeInvalidState, "user references missing workspace")
		}

		delete(t.DeviceCodes, deviceCode) // Single-use

		token := s.mintAccessTokenLocked(t, user.ID, s.cfg.AccessTokenTTL)
		out = &domain.TokenResponse{
			AccessToken: token.Token,
			TokenType:   "Bearer",
			ExpiresIn:   int64(s.cfg.AccessTokenTTL.Seconds()),
			ExpiresAt:   token.ExpiresAt,
			User:        user.Clone(),
			Org:         org.Clone(),
			Workspace:   ws.Clone(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("device auth completed", zap.String("user_id", out.User.ID))
	return out, nil
}

// IssueAccessToken — внутренний шорткат для доверенных same-process вызовов
// (локальный UI), которые уже знают идентичность. Наружу не экспонируется.
func (s *Issuer) IssueAccessToken(userID string, ttl time.Duration) (*domain.AccessToken, error) {
	var out *domain.AccessToken
	err := s.store.Update(func(t *store.Tables) error {
		if _, ok := t.Users[userID]; !ok {
			return domain.NewError(domain.CodeAuthUnknownUser, "unknown user")
		}
		out = s.mintAccessTokenLocked(t, userID, ttl)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IssueSessionToken выпускает токен, скоупнутый на одну сессию.
// Проверка скоупа на использовании — зона ответственности леджера.
func (s *Issuer) IssueSessionToken(sessionID string, ttl time.Duration) (*domain.SessionToken, error) {
	var out *domain.SessionToken
	err := s.store.Update(func(t *store.Tables) error {
		if _, ok := t.Sessions[sessionID]; !ok {
			return domain.NewError(domain.CodeSessionNotFound, "session not found")
		}
		out = s.mintSessionTokenLocked(t, sessionID, ttl)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Resolve превращает bearer-токен в аутентифицированный контекст.
// Истечение перепроверяется здесь же, не полагаясь на тайминг свипа,
// и истёкший токен тут же удаляется (ленивый GC).
func (s *Issuer) Resolve(token string) (*domain.AuthContext, error) {
	var out *domain.AuthContext
	err := s.store.Update(func(t *store.Tables) error {
		ctx, err := resolveAccessLocked(t, s.store.Now(), token)
		if err != nil {
			return err
		}
		out = ctx
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// resolveAccessLocked — общая логика резолва для Issuer.Resolve и dual-mode
// пути леджера (GetByAnyToken), где резолв обязан жить в той же транзакции.
// Контекст собирается из копий: он переживает лок и уходит в сериализацию.
func resolveAccessLocked(t *store.Tables, now time.Time, token string) (*domain.AuthContext, error) {
	at, ok := t.AccessTokens[token]
	if !ok {
		return nil, domain.NewError(domain.CodeAuthInvalidToken, "invalid access token")
	}
	if !at.ExpiresAt.After(now) {
		delete(t.AccessTokens, token)
		return nil, domain.NewRetryableError(domain.CodeAuthTokenExpired, "access token expired")
	}

	user, ok := t.Users[at.UserID]
	if !ok {
		return nil, domain.NewError(domain.CodeAuthUnknownUser, "token owner is unknown")
	}
	org, ok := t.Orgs[user.OrgID]
	if !ok {
		return nil, domain.NewError(domain.CodeInvalidState, "user references missing org")
	}
	ws, ok := t.Workspaces[user.WorkspaceID]
	if !ok {
		return nil, domain.NewError(domain.CodeInvalidState, "user references missing workspace")
	}
	return &domain.AuthContext{User: user.Clone(), Org: org.Clone(), Workspace: ws.Clone()}, nil
}

func (s *Issuer) mintAccessTokenLocked(t *store.Tables, userID string, ttl time.Duration) *domain.AccessToken {
	token := &domain.AccessToken{
		Token:     store.NewToken("oct"),
		UserID:    userID,
		ExpiresAt: s.store.Now().Add(ttl),
	}
	t.AccessTokens[token.Token] = token
	s.metrics.TokenIssued("access")
	return token
}

func (s *Issuer) mintSessionTokenLocked(t *store.Tables, sessionID string, ttl time.Duration) *domain.SessionToken {
	token := &domain.SessionToken{
		Token:     store.NewToken("ost"),
		SessionID: sessionID,
		ExpiresAt: s.store.Now().Add(ttl),
	}
	t.SessionTokens[token.Token] = token
	s.metrics.TokenIssued("session")
	return token
}
