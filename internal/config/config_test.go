package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "tollgate", cfg.AppName)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "postgres", cfg.DBType)
	assert.Equal(t, "https://api.github.com", cfg.GitHub.APIBaseURL)
	assert.Equal(t, 5*time.Second, cfg.GitHub.Timeout)
	assert.Equal(t, "base", cfg.Escrow.Network)
	assert.Equal(t, "https://api.openai.com", cfg.Upstream.BaseURL)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.True(t, cfg.Sweep.Enabled)
	assert.Equal(t, time.Hour, cfg.Sweep.Interval)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_SERVICE", "tollgate-test")
	t.Setenv("GITHUB_TOKEN", "  ghp_token  ")
	t.Setenv("UPSTREAM_BASE_URL", "https://llm.internal/")
	t.Setenv("FACILITATOR_FALLBACK_URLS", "https://a.example, ,https://b.example")
	t.Setenv("SWEEP_INTERVAL", "15m")
	t.Setenv("RATE_LIMIT_ENABLED", "yes")
	t.Setenv("RATE_LIMIT_PROXY_RATE", "2.5")

	cfg := Load()

	assert.Equal(t, "tollgate-test", cfg.AppName)
	assert.Equal(t, "ghp_token", cfg.GitHub.Token)
	assert.Equal(t, "https://llm.internal", cfg.Upstream.BaseURL, "trailing slash is trimmed")
	require.Len(t, cfg.Facilitator.FallbackURLs, 2)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Facilitator.FallbackURLs)
	assert.Equal(t, 15*time.Minute, cfg.Sweep.Interval)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 2.5, cfg.RateLimit.ProxyRate)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("DATABASE_MAX_OPEN_CONN", "many")
	t.Setenv("SWEEP_INTERVAL", "soon")
	t.Setenv("SWEEP_ENABLED", "maybe")

	cfg := Load()

	assert.Equal(t, 50, cfg.DBMaxOpenConn)
	assert.Equal(t, time.Hour, cfg.Sweep.Interval)
	assert.True(t, cfg.Sweep.Enabled)
}
