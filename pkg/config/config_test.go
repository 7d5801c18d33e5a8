package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	require.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 4777, cfg.Port)
	assert.False(t, cfg.RequiresAuthToken())
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SESSIONBRIDGE_HOST", "0.0.0.0")
	t.Setenv("SESSIONBRIDGE_PORT", "9000")
	t.Setenv("SESSIONBRIDGE_AUTH_TOKEN", "secret")

	cfg := DefaultServerConfig()
	ApplyEnvOverrides(&cfg)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "secret", cfg.AuthToken)
	assert.True(t, cfg.RequiresAuthToken())
}

func TestRequiresAuthToken(t *testing.T) {
	cases := []struct {
		host string
		want bool
	}{
		{"127.0.0.1", false},
		{"localhost", false},
		{"::1", false},
		{"0.0.0.0", true},
		{"192.168.1.5", true},
	}
	for _, c := range cases {
		cfg := ServerConfig{Host: c.host}
		assert.Equal(t, c.want, cfg.RequiresAuthToken(), c.host)
	}
}
