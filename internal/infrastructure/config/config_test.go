package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xsig/internal/domain/model"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "..", "configs", "config.toml"))
	require.NoError(t, err)

	assert.Equal(t, model.Resolution(15), cfg.PrimaryRes)
	assert.Equal(t, model.Resolution(60), cfg.SecondaryRes)
	assert.Equal(t, 30*time.Second, cfg.Universe.Interval)
	assert.Equal(t, []int{10, 20, 30}, cfg.Universe.TierSizes)
	assert.Len(t, cfg.Indicators, 4)
	assert.Equal(t, 14.0, cfg.Indicators[0].Params["period"])
	assert.True(t, *cfg.Session.RequireEntryGate)
	assert.Equal(t, 4*time.Hour, cfg.Cooldown.Window)
	assert.Equal(t, 10.0, cfg.Risk.StopLossROI)
	assert.Equal(t, 5, cfg.Resilience.Breaker.FailureThreshold)
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, model.Resolution(15), cfg.PrimaryRes)
	assert.Equal(t, 30, cfg.Session.MaxSymbols)
	assert.Len(t, cfg.Indicators, 4)
	assert.True(t, *cfg.Session.RequireEntryGate)
	assert.False(t, cfg.Redis.Enabled)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[redis]
enabled = false
addr = "10.0.0.1:6379"

[session]
symbols = [" xbtusdtm", "XBTUSDTM", "ethusdtm "]
require_entry_gate = false
`)
	t.Setenv("XSIG_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("XSIG_POSTGRES_DSN", "postgres://u:p@db/xsig")
	t.Setenv("XSIG_LIVE", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.True(t, cfg.Postgres.Enabled)
	assert.True(t, cfg.App.Live)
	assert.Equal(t, []string{"XBTUSDTM", "ETHUSDTM"}, cfg.Session.Symbols)
	assert.False(t, *cfg.Session.RequireEntryGate)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"bad resolution": `
[session]
primary = "fortnight"
`,
		"secondary not longer": `
[session]
primary = "1hour"
secondary = "15min"
`,
		"unknown indicator": `
[[indicators]]
kind = "macd"
`,
		"leverage bounds": `
[risk]
min_leverage = 10.0
max_leverage = 5.0
`,
		"sqlite without path": `
[sqlite]
enabled = true
path = ""
`,
		"log format": `
[app]
log_format = "xml"
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}
