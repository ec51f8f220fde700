package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

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

// fixture собирает ядро целиком поверх фейковых часов и сида.
type fixture struct {
	clock    *fakeClock
	store    *store.Store
	seed     store.SeedInfo
	registry *service.Registry
	issuer   *service.Issuer
	ledger   *service.Ledger
}

func testAuthConfig() infra.AuthConfig {
	return infra.AuthConfig{
		DeviceCodeTTL:     10 * time.Minute,
		AccessTokenTTL:    time.Hour,
		SessionTokenTTL:   15 * time.Minute,
		AutoApproveDevice: true,
	}
}

func testSessionConfig() infra.SessionConfig {
	return infra.SessionConfig{
		LifetimeSeconds:             4 * 60 * 60,
		DefaultCostLimitCents:       500,
		DefaultDurationLimitSeconds: 300,
		DefaultActionLimit:          100,
	}
}

func newFixture(t *testing.T, authCfg infra.AuthConfig) *fixture {
	t.Helper()

	clock := newFakeClock()
	logger := zap.NewNop()
	st := store.New(clock.Now, logger)
	sessCfg := testSessionConfig()
	seed := st.Seed(sessCfg.Lifetime())

	issuer := service.NewIssuer(st, authCfg, "http://localhost:8080", logger, nil)
	return &fixture{
		clock:    clock,
		store:    st,
		seed:     seed,
		registry: service.NewRegistry(st, logger),
		issuer:   issuer,
		ledger:   service.NewLedger(st, sessCfg, authCfg.SessionTokenTTL, issuer, "http://localhost:8080", logger, nil),
	}
}

// login проходит device-flow за сидового пользователя и резолвит контекст.
func (f *fixture) login(t *testing.T) *domain.AuthContext {
	t.Helper()

	start, err := f.issuer.StartDeviceAuth()
	require.NoError(t, err)
	resp, err := f.issuer.CompleteDeviceAuth(start.DeviceCode)
	require.NoError(t, err)

	authCtx, err := f.issuer.Resolve(resp.AccessToken)
	require.NoError(t, err)
	return authCtx
}

// addForeignOrg подселяет вторую организацию со своим воркспейсом,
// чтобы проверять изоляцию тенантов.
func (f *fixture) addForeignOrg(t *testing.T) (orgID, workspaceID string) {
	t.Helper()

	orgID = store.NewID("org")
	workspaceID = store.NewID("ws")
	err := f.store.Update(func(tb *store.Tables) error {
		now := f.clock.Now()
		tb.Orgs[orgID] = &domain.Org{ID: orgID, Name: "Rival Corp", WorkspaceIDs: []string{workspaceID}, CreatedAt: now}
		tb.Workspaces[workspaceID] = &domain.Workspace{ID: workspaceID, Name: "rival-main", OrgID: orgID, CreatedAt: now}
		return nil
	})
	require.NoError(t, err)
	return orgID, workspaceID
}

func requireDomainCode(t *testing.T, err error, code domain.ErrorCode) *domain.Error {
	t.Helper()

	require.Error(t, err)
	de, ok := domain.AsDomainError(err)
	require.True(t, ok, "expected domain error, got %v", err)
	require.Equal(t, code, de.Code)
	return de
}
