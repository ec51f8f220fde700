package infra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 600*time.Second, cfg.Auth.DeviceCodeTTL)
	assert.Equal(t, time.Hour, cfg.Auth.AccessTokenTTL)
	assert.Equal(t, 15*time.Minute, cfg.Auth.SessionTokenTTL)
	assert.True(t, cfg.Auth.AutoApproveDevice)

	assert.Equal(t, 4*time.Hour, cfg.Session.Lifetime())
	assert.Equal(t, int64(500), cfg.Session.DefaultCostLimitCents)
	assert.Equal(t, int64(300), cfg.Session.DefaultDurationLimitSeconds)
	assert.Equal(t, int64(100), cfg.Session.DefaultActionLimit)

	assert.Equal(t, time.Minute, cfg.Maintenance.SweepInterval)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
}

func TestLoadConfigSessionLifetimeFromEnv(t *testing.T) {
	t.Setenv("SESSION_LIFETIME", "7200")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, cfg.Session.Lifetime())
}

func TestLoadConfigSessionLifetimeInvalidFallsBack(t *testing.T) {
	cases := map[string]string{
		"non-numeric": "four-hours",
		"negative":    "-60",
		"zero":        "0",
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("SESSION_LIFETIME", value)

			cfg, err := LoadConfig()
			require.NoError(t, err)
			assert.Equal(t, 4*time.Hour, cfg.Session.Lifetime())
		})
	}
}

func TestNormalizeTrimsBaseURL(t *testing.T) {
	cfg := &Config{BaseURL: "http://example.com/"}
	normalize(cfg)
	assert.Equal(t, "http://example.com", cfg.BaseURL)
	assert.Equal(t, int64(4*60*60), cfg.Session.LifetimeSeconds)
}
