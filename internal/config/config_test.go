package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	assert.Empty(t, cfg.AuthSecret, "expected empty AUTH_SECRET when unset")
}

func TestLoadDevModeIsOptIn(t *testing.T) {
	t.Setenv("DEV_MODE", "")
	assert.False(t, Load().DevMode)

	t.Setenv("DEV_MODE", "yes-please")
	assert.False(t, Load().DevMode)

	t.Setenv("DEV_MODE", "true")
	assert.True(t, Load().DevMode)
}

func TestLoadFallsBackOnInvalidDurations(t *testing.T) {
	t.Setenv("REPORT_CACHE_TTL_SECONDS", "-4")
	t.Setenv("CONNECTIVITY_PROBE_SECONDS", "abc")

	cfg := Load()
	assert.Equal(t, 60*time.Second, cfg.ReportCacheTTL())
	assert.Equal(t, 15*time.Second, cfg.ProbeInterval())
}

func TestLoadTerminalSettings(t *testing.T) {
	t.Setenv("LEDGER_URL", "http://ledger.local:8080/")
	t.Setenv("QUEUE_BACKEND", "REDIS")
	t.Setenv("TERMINAL_PORT", "9000")

	cfg := Load()
	assert.Equal(t, "http://ledger.local:8080", cfg.LedgerURL)
	assert.Equal(t, "redis", cfg.QueueBackend)
	assert.Equal(t, "127.0.0.1:9000", cfg.TerminalAddress())
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("warn")
	assert.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	_, err = NewLogger("loud")
	assert.Error(t, err)
}
