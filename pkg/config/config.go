// Package config holds the daemon's typed sub-configurations: one struct
// per concern, a Default*Config constructor, and environment-variable
// overrides applied after defaults. There is no YAML agent/chain/MCP/LLM
// registry here — nothing in this domain orchestrates LLM agents or MCP
// servers.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig is the top-level daemon configuration assembled in
// cmd/sessiond from flags, environment, and an optional .env file.
type ServerConfig struct {
	Host      string
	Port      int
	AuthToken string

	StateDBPath string // empty selects the in-memory store

	TelemetryHost string
	TelemetryPort int

	Connection ConnectionConfig
	Tombstone  TombstoneConfig
	Poll       PollConfig
	Hooks      HooksConfig
}

// DefaultServerConfig returns the built-in daemon defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:          "127.0.0.1",
		Port:          4777,
		TelemetryHost: "127.0.0.1",
		TelemetryPort: 4778,
		Connection:    DefaultConnectionConfig(),
		Tombstone:     DefaultTombstoneConfig(),
		Poll:          DefaultPollConfig(),
		Hooks:         DefaultHooksConfig(),
	}
}

// LoadEnvFile loads a .env file if present; a missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// ApplyEnvOverrides mutates cfg in place from well-known environment
// variables. cmd/sessiond applies them before the command-line flag values,
// so an explicitly set flag wins over the environment.
func ApplyEnvOverrides(cfg *ServerConfig) {
	if v := os.Getenv("SESSIONBRIDGE_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("SESSIONBRIDGE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("SESSIONBRIDGE_AUTH_TOKEN"); v != "" {
		cfg.AuthToken = v
	}
	if v := os.Getenv("SESSIONBRIDGE_STATE_DB_PATH"); v != "" {
		cfg.StateDBPath = v
	}
}

// RequiresAuthToken reports whether binding to Host mandates an auth token:
// any host other than loopback must not be served without one.
func (c ServerConfig) RequiresAuthToken() bool {
	return c.Host != "127.0.0.1" && c.Host != "localhost" && c.Host != "::1"
}
