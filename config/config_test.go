package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "default", cfg.Governance.ProjectID)
	assert.Equal(t, "sqlite", cfg.EventLog.Backend)
	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("GOVERNOR_PORT", "9999")
	t.Setenv("GOVERNOR_PROJECT_ID", "acme")
	t.Setenv("GOVERNOR_EVENTLOG_BACKEND", "memory")
	t.Setenv("GOVERNOR_READ_TIMEOUT", "30s")
	t.Setenv("GOVERNOR_AUTH_ENABLED", "true")
	t.Setenv("GOVERNOR_JWT_SECRET", "s3cr3t")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "acme", cfg.Governance.ProjectID)
	assert.Equal(t, "memory", cfg.EventLog.Backend)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.True(t, cfg.Auth.Enabled)
}

func TestValidateRejectsBadBackend(t *testing.T) {
	t.Setenv("GOVERNOR_EVENTLOG_BACKEND", "etcd")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRequiresDSNForPostgres(t *testing.T) {
	t.Setenv("GOVERNOR_EVENTLOG_BACKEND", "postgres")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRequiresSecretWhenAuthEnabled(t *testing.T) {
	t.Setenv("GOVERNOR_AUTH_ENABLED", "true")
	_, err := Load()
	assert.Error(t, err)
}
