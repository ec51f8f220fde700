package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/opencontrol/internal/control/handler"
	"github.com/xela07ax/opencontrol/internal/control/server"
	"github.com/xela07ax/opencontrol/internal/control/service"
	"github.com/xela07ax/opencontrol/internal/domain"
	"github.com/xela07ax/opencontrol/internal/infra"
	"github.com/xela07ax/opencontrol/internal/store"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type apiFixture struct {
	clock *fakeClock
	seed  store.SeedInfo
	srv   *server.Server
}

func newAPIFixture(t *testing.T, autoApprove bool) *apiFixture {
	t.Helper()

	clock := newFakeClock()
	logger := zap.NewNop()
	st := store.New(clock.Now, logger)

	authCfg := infra.AuthConfig{
		DeviceCodeTTL:     10 * time.Minute,
		AccessTokenTTL:    time.Hour,
		SessionTokenTTL:   15 * time.Minute,
		AutoApproveDevice: autoApprove,
	}
	sessCfg := infra.SessionConfig{
		LifetimeSeconds:             4 * 60 * 60,
		DefaultCostLimitCents:       500,
		DefaultDurationLimitSeconds: 300,
		DefaultActionLimit:          100,
	}
	seed := st.Seed(sessCfg.Lifetime())

	issuer := service.NewIssuer(st, authCfg, "http://localhost:8080", logger, nil)
	registry := service.NewRegistry(st, logger)
	ledger := service.NewLedger(st, sessCfg, authCfg.SessionTokenTTL, issuer, "http://localhost:8080", logger, nil)

	srv := server.New(
		logger,
		nil,
		issuer,
		handler.NewAuthHandler(issuer, logger),
		handler.NewIdentityHandler(registry, logger),
		handler.NewSessionHandler(ledger, logger),
	)
	return &apiFixture{clock: clock, seed: seed, srv: srv}
}

// do гоняет запрос через весь стек роутера, без сети.
func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.srv.ServeHTTP(w, r)
	return w
}

func decodeInto(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dst))
}

type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

func requireErrorCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) errorBody {
	t.Helper()

	require.Equal(t, status, w.Code, "body: %s", w.Body.String())
	var body errorBody
	decodeInto(t, w, &body)
	require.Equal(t, code, body.Error.Code)
	require.NotEmpty(t, body.Error.Message)
	return body
}

// login проходит полный device-flow через HTTP и возвращает access-токен.
func (f *apiFixture) login(t *testing.T) string {
	t.Helper()

	w := f.do(t, http.MethodPost, "/v1/auth/device/start", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var start struct {
		DeviceCode string `json:"device_code"`
	}
	decodeInto(t, w, &start)

	w = f.do(t, http.MethodPost, "/v1/auth/device/complete", "", map[string]string{"device_code": start.DeviceCode})
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	decodeInto(t, w, &resp)
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func TestDeviceFlowEndToEnd(t *testing.T) {
	f := newAPIFixture(t, true)

	// 1. Старт device-flow
	w := f.do(t, http.MethodPost, "/v1/auth/device/start", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var start struct {
		DeviceCode      string `json:"device_code"`
		UserCode        string `json:"user_code"`
		VerificationURI string `json:"verification_uri"`
		ExpiresIn       int64  `json:"expires_in"`
		Interval        int64  `json:"interval"`
	}
	decodeInto(t, w, &start)
	assert.NotEmpty(t, start.UserCode)
	assert.Equal(t, int64(600), start.ExpiresIn)
	assert.Equal(t, int64(5), start.Interval)

	// 2. Обмен кода на access-токен
	w = f.do(t, http.MethodPost, "/v1/auth/device/complete", "", map[string]string{"device_code": start.DeviceCode})
	require.Equal(t, http.StatusOK, w.Code)
	var token struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
		User        struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	decodeInto(t, w, &token)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.Equal(t, int64(3600), token.ExpiresIn)
	assert.Equal(t, f.seed.UserID, token.User.ID)

	// 3. Кто я
	w = f.do(t, http.MethodGet, "/v1/me", token.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var me struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
		Org struct {
			ID string `json:"id"`
		} `json:"org"`
		Workspace struct {
			ID string `json:"id"`
		} `json:"workspace"`
	}
	decodeInto(t, w, &me)
	assert.Equal(t, f.seed.UserID, me.User.ID)
	assert.Equal(t, f.seed.OrgID, me.Org.ID)
	assert.Equal(t, f.seed.WorkspaceIDs[0], me.Workspace.ID)

	// 4. Создание сессии с дефолтным бюджетом
	w = f.do(t, http.MethodPost, "/v1/sessions", token.AccessToken, map[string]any{
		"agent": "acme/reviewer",
		"task":  map[string]any{"description": "review the release PR"},
	})
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())
	var created struct {
		Session struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			Budget struct {
				CostCents       struct{ Used, Limit int64 } `json:"costCents"`
				DurationSeconds struct{ Used, Limit int64 } `json:"durationSeconds"`
				Actions         struct{ Used, Limit int64 } `json:"actions"`
			} `json:"budget"`
		} `json:"session"`
		Bootstrap struct {
			Env map[string]string `json:"env"`
		} `json:"bootstrap"`
	}
	decodeInto(t, w, &created)
	assert.Equal(t, "active", created.Session.Status)
	assert.Equal(t, int64(500), created.Session.Budget.CostCents.Limit)
	assert.Equal(t, int64(0), created.Session.Budget.CostCents.Used)
	assert.Equal(t, int64(300), created.Session.Budget.DurationSeconds.Limit)
	assert.Equal(t, int64(100), created.Session.Budget.Actions.Limit)

	// Bootstrap указывает ровно на созданную сессию.
	assert.Equal(t, created.Session.ID, created.Bootstrap.Env["OC_SESSION_ID"])
	assert.Equal(t, f.seed.OrgID, created.Bootstrap.Env["OC_ORG_ID"])
	sessionToken := created.Bootstrap.Env["OC_SESSION_TOKEN"]
	require.NotEmpty(t, sessionToken)

	// 5. Чтение сессии её собственным session-токеном
	w = f.do(t, http.MethodGet, "/v1/sessions/"+created.Session.ID, sessionToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// 6. Ингест потребления от песочницы
	w = f.do(t, http.MethodPost, "/v1/sessions/"+created.Session.ID+"/usage", sessionToken, map[string]int64{"costCents": 42, "actions": 1})
	require.Equal(t, http.StatusOK, w.Code)

	// 7. Завершение сессии
	w = f.do(t, http.MethodPost, "/v1/sessions/"+created.Session.ID+"/status", sessionToken, map[string]string{"status": "completed"})
	require.Equal(t, http.StatusOK, w.Code)
	var done struct {
		Status string `json:"status"`
		Budget struct {
			CostCents struct{ Used int64 } `json:"costCents"`
		} `json:"budget"`
	}
	decodeInto(t, w, &done)
	assert.Equal(t, "completed", done.Status)
	assert.Equal(t, int64(42), done.Budget.CostCents.Used)

	// 8. Листинг видит и сидовую, и новую сессию
	w = f.do(t, http.MethodGet, "/v1/sessions", token.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []struct {
		ID string `json:"id"`
	}
	decodeInto(t, w, &list)
	require.Len(t, list, 2)
	// Новые первыми; при равных createdAt порядок добивается id.
	ids := []string{list[0].ID, list[1].ID}
	assert.Contains(t, ids, created.Session.ID)
	assert.Contains(t, ids, f.seed.SessionID)
}

func TestUnauthenticatedRequests(t *testing.T) {
	f := newAPIFixture(t, true)

	w := f.do(t, http.MethodGet, "/v1/me", "", nil)
	body := requireErrorCode(t, w, http.StatusUnauthorized, "AUTH_REQUIRED")
	assert.False(t, body.Error.Retryable)

	w = f.do(t, http.MethodGet, "/v1/sessions", "oct_garbage", nil)
	requireErrorCode(t, w, http.StatusUnauthorized, "AUTH_INVALID_TOKEN")
}

func TestDeviceCompleteUnknownCode(t *testing.T) {
	f := newAPIFixture(t, true)

	w := f.do(t, http.MethodPost, "/v1/auth/device/complete", "", map[string]string{"device_code": "dc_missing"})
	requireErrorCode(t, w, http.StatusNotFound, "AUTH_DEVICE_CODE_NOT_FOUND")
}

func TestDeviceCompleteExpiredCode(t *testing.T) {
	f := newAPIFixture(t, true)

	w := f.do(t, http.MethodPost, "/v1/auth/device/start", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var start struct {
		DeviceCode string `json:"device_code"`
	}
	decodeInto(t, w, &start)

	f.clock.Advance(11 * time.Minute)

	w = f.do(t, http.MethodPost, "/v1/auth/device/complete", "", map[string]string{"device_code": start.DeviceCode})
	body := requireErrorCode(t, w, http.StatusGone, "AUTH_DEVICE_CODE_EXPIRED")
	assert.True(t, body.Error.Retryable)

	// Повторный обмен после детекта истечения: кода больше нет.
	w = f.do(t, http.MethodPost, "/v1/auth/device/complete", "", map[string]string{"device_code": start.DeviceCode})
	requireErrorCode(t, w, http.StatusNotFound, "AUTH_DEVICE_CODE_NOT_FOUND")
}

func TestDeviceApprovalFlow(t *testing.T) {
	f := newAPIFixture(t, false)

	w := f.do(t, http.MethodPost, "/v1/auth/device/start", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var start struct {
		DeviceCode string `json:"device_code"`
		UserCode   string `json:"user_code"`
	}
	decodeInto(t, w, &start)

	// До аппрува обмен невозможен.
	w = f.do(t, http.MethodPost, "/v1/auth/device/complete", "", map[string]string{"device_code": start.DeviceCode})
	body := requireErrorCode(t, w, http.StatusPreconditionRequired, "AUTH_PENDING_APPROVAL")
	assert.True(t, body.Error.Retryable)

	w = f.do(t, http.MethodPost, "/v1/auth/device/approve", "", map[string]string{"user_code": start.UserCode})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodPost, "/v1/auth/device/complete", "", map[string]string{"device_code": start.DeviceCode})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestMalformedJSONBody(t *testing.T) {
	f := newAPIFixture(t, true)
	token := f.login(t)

	r := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewBufferString("{broken"))
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	f.srv.ServeHTTP(w, r)

	requireErrorCode(t, w, http.StatusBadRequest, "INVALID_REQUEST")
}

func TestCreateSessionInvalidBudget(t *testing.T) {
	f := newAPIFixture(t, true)
	token := f.login(t)

	w := f.do(t, http.MethodPost, "/v1/sessions", token, map[string]any{
		"agent":  "acme/reviewer",
		"budget": map[string]int64{"costLimitCents": 0},
	})
	requireErrorCode(t, w, http.StatusBadRequest, "INVALID_BUDGET")
}

func TestSwitchWorkspace(t *testing.T) {
	f := newAPIFixture(t, true)
	token := f.login(t)
	target := f.seed.WorkspaceIDs[1]

	w := f.do(t, http.MethodPost, "/v1/me/workspace", token, map[string]string{"workspace_id": target})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/v1/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var me struct {
		Workspace struct {
			ID string `json:"id"`
		} `json:"workspace"`
	}
	decodeInto(t, w, &me)
	assert.Equal(t, target, me.Workspace.ID)

	w = f.do(t, http.MethodPost, "/v1/me/workspace", token, map[string]string{"workspace_id": "ws_foreign"})
	requireErrorCode(t, w, http.StatusNotFound, "WORKSPACE_NOT_FOUND")
}

func TestOrgOverviewEndpoint(t *testing.T) {
	f := newAPIFixture(t, true)
	token := f.login(t)

	w := f.do(t, http.MethodGet, "/v1/org", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Org struct {
			ID string `json:"id"`
		} `json:"org"`
		Workspaces []struct {
			ID string `json:"id"`
		} `json:"workspaces"`
	}
	decodeInto(t, w, &resp)
	assert.Equal(t, f.seed.OrgID, resp.Org.ID)
	require.Len(t, resp.Workspaces, 2)
}

func TestSessionTokenScopeViolationOverHTTP(t *testing.T) {
	f := newAPIFixture(t, true)
	token := f.login(t)

	w := f.do(t, http.MethodPost, "/v1/sessions", token, map[string]string{"agent": "acme/a"})
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Bootstrap struct {
			Env map[string]string `json:"env"`
		} `json:"bootstrap"`
	}
	decodeInto(t, w, &created)

	// Session-токен одной сессии не открывает даже сидовую сессию той же организации.
	w = f.do(t, http.MethodGet, "/v1/sessions/"+f.seed.SessionID, created.Bootstrap.Env["OC_SESSION_TOKEN"], nil)
	requireErrorCode(t, w, http.StatusForbidden, "AUTH_SCOPE_VIOLATION")
}

func TestSessionTokenCannotUseRegistryRoutes(t *testing.T) {
	f := newAPIFixture(t, true)
	token := f.login(t)

	w := f.do(t, http.MethodPost, "/v1/sessions", token, map[string]string{"agent": "acme/a"})
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Bootstrap struct {
			Env map[string]string `json:"env"`
		} `json:"bootstrap"`
	}
	decodeInto(t, w, &created)

	// Session-токен не резолвится в пользовательскую идентичность.
	w = f.do(t, http.MethodGet, "/v1/me", created.Bootstrap.Env["OC_SESSION_TOKEN"], nil)
	requireErrorCode(t, w, http.StatusUnauthorized, "AUTH_INVALID_TOKEN")
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t, true)

	w := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTraceIDPropagation(t *testing.T) {
	f := newAPIFixture(t, true)

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Header.Set("X-Trace-ID", "trace-123")
	w := httptest.NewRecorder()
	f.srv.ServeHTTP(w, r)
	assert.Equal(t, "trace-123", w.Header().Get("X-Trace-ID"))

	// Без входящего заголовка сервер генерирует свой.
	w2 := httptest.NewRecorder()
	f.srv.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, w2.Header().Get("X-Trace-ID"))
}

func TestTraceIDFallbackOutsideRequest(t *testing.T) {
	assert.Equal(t, "00000000-0000-0000-0000-000000000000", server.TraceID(context.Background()))
}

func TestSweepTerminatesExpiredSessionOnRead(t *testing.T) {
	f := newAPIFixture(t, true)

	// Сидовая сессия живёт 4 часа. Прыгаем за горизонт и логинимся уже
	// после: первый же доступ обязан увидеть её терминированной.
	f.clock.Advance(5 * time.Hour)
	token := f.login(t)

	w := f.do(t, http.MethodGet, "/v1/sessions/"+f.seed.SessionID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sess struct {
		Status string `json:"status"`
	}
	decodeInto(t, w, &sess)
	assert.Equal(t, string(domain.SessionTerminated), sess.Status)
}
