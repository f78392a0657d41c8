// Package config handles the proxy's environment-variable server settings
// and the YAML override files used for hot-reloadable pricing and
// injection-dictionary supplements.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// ServerConfig is the environment-derived configuration the Interceptor
// and Forwarder need at startup: listen ports, the database path, and
// provider credentials. Loaded once at process start — never hot-reloaded,
// unlike the YAML overrides in overrides.go.
type ServerConfig struct {
	Port            int
	APIPort         int
	DatabasePath    string
	OpenAIAPIKey    string
	AnthropicAPIKey string
}

// LoadServerConfig reads PORT, API_PORT, DATABASE_PATH, OPENAI_API_KEY, and
// ANTHROPIC_API_KEY from the environment, applying the defaults below for
// anything unset.
func LoadServerConfig() (ServerConfig, error) {
	cfg := ServerConfig{
		Port:         3100,
		APIPort:      3101,
		DatabasePath: "redteamproxy.db",
	}

	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return ServerConfig{}, fmt.Errorf("config: PORT %q is not a valid integer: %w", v, err)
		}
		cfg.Port = p
	}
	if v := os.Getenv("API_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return ServerConfig{}, fmt.Errorf("config: API_PORT %q is not a valid integer: %w", v, err)
		}
		cfg.APIPort = p
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")

	if err := validate(cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("config: invalid server configuration: %w", err)
	}
	return cfg, nil
}

func validate(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("PORT %d out of range (1-65535)", cfg.Port)
	}
	if cfg.APIPort < 1 || cfg.APIPort > 65535 {
		return fmt.Errorf("API_PORT %d out of range (1-65535)", cfg.APIPort)
	}
	if cfg.Port == cfg.APIPort {
		return fmt.Errorf("PORT and API_PORT must differ, both are %d", cfg.Port)
	}
	return nil
}
