package session

import (
	"os"
	"time"

	"wastewise/cmd/security/password"
)

// Config defines runtime configuration for the session manager.
type Config struct {
	// RequestTimeout bounds each login, signup, profile and refresh call.
	RequestTimeout time.Duration

	// LogoutTimeout bounds the best-effort server-side logout notification.
	// Logout itself never waits for it.
	LogoutTimeout time.Duration

	// Password is checked locally before a signup request is sent.
	Password password.Policy
}

// DefaultConfig returns the defaults used when no environment overrides are set.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 15 * time.Second,
		LogoutTimeout:  5 * time.Second,
		Password:       password.DefaultPolicy(),
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - WASTEWISE_AUTH_REQUEST_TIMEOUT
//   - WASTEWISE_AUTH_LOGOUT_TIMEOUT
//   - WASTEWISE_PASSWORD_* (see password.PolicyFromEnv)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("WASTEWISE_AUTH_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RequestTimeout = d
	}

	if v := os.Getenv("WASTEWISE_AUTH_LOGOUT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.LogoutTimeout = d
	}

	policy, err := password.PolicyFromEnv()
	if err != nil {
		return Config{}, ErrConfig
	}
	cfg.Password = policy

	return cfg, nil
}
