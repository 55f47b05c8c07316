package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("DESPERADO_SERVER_GATEWAY_TOKEN", "gateway-secret")
	t.Setenv("DESPERADO_DB_URL", "postgres://localhost/desperado")
	t.Setenv("DESPERADO_SERVER_PORT", "8088")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, "gateway-secret", cfg.Server.GatewayToken)
	assert.Equal(t, 4, cfg.Workers.Detached)
	assert.Equal(t, 15*time.Second, cfg.Workers.TaskTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.R2Enabled())
}

func TestLoad_MissingGatewayToken(t *testing.T) {
	t.Setenv("DESPERADO_SERVER_GATEWAY_TOKEN", "")
	t.Setenv("DESPERADO_DB_URL", "postgres://localhost/desperado")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway_token")
}

func TestValidate_PortRange(t *testing.T) {
	cfg := &Config{
		Server:   ServerConfig{Port: 70000, GatewayToken: "x"},
		Database: DatabaseConfig{URL: "postgres://"},
		Workers:  WorkersConfig{Detached: 1},
	}
	assert.ErrorContains(t, cfg.Validate(), "out of range")
}
