package realtime

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config defines runtime configuration for the realtime manager.
type Config struct {
	// URL is the channel base address; the escaped credential is appended
	// as the last path segment.
	URL string

	BaseDelay   time.Duration
	MaxAttempts int

	DialTimeout  time.Duration
	WriteTimeout time.Duration

	// HeartbeatInterval <= 0 disables client pings.
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	SendRateEvents int
	SendRateWindow time.Duration
}

// DefaultConfig returns the defaults used when no environment overrides are set.
func DefaultConfig() Config {
	return Config{
		URL:               "ws://localhost:8000/ws",
		BaseDelay:         defaultBaseDelay,
		MaxAttempts:       defaultMaxAttempts,
		DialTimeout:       defaultDialTimeout,
		WriteTimeout:      defaultWriteTimeout,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		SendRateEvents:    rateLimitEvents,
		SendRateWindow:    rateLimitWindow,
	}
}

// LoadConfigFromEnv loads realtime configuration from environment variables.
//
// Optional:
//   - WASTEWISE_WS_URL
//   - WASTEWISE_WS_BASE_DELAY
//   - WASTEWISE_WS_MAX_ATTEMPTS
//   - WASTEWISE_WS_DIAL_TIMEOUT
//   - WASTEWISE_WS_WRITE_TIMEOUT
//   - WASTEWISE_WS_HEARTBEAT_INTERVAL ("0" disables)
//   - WASTEWISE_WS_HEARTBEAT_TIMEOUT
//   - WASTEWISE_WS_SEND_RATE_EVENTS
//   - WASTEWISE_WS_SEND_RATE_WINDOW
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("WASTEWISE_WS_URL")); v != "" {
		cfg.URL = v
	}

	durations := []struct {
		key      string
		dst      *time.Duration
		allowOff bool
	}{
		{"WASTEWISE_WS_BASE_DELAY", &cfg.BaseDelay, false},
		{"WASTEWISE_WS_DIAL_TIMEOUT", &cfg.DialTimeout, false},
		{"WASTEWISE_WS_WRITE_TIMEOUT", &cfg.WriteTimeout, false},
		{"WASTEWISE_WS_HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval, true},
		{"WASTEWISE_WS_HEARTBEAT_TIMEOUT", &cfg.HeartbeatTimeout, false},
		{"WASTEWISE_WS_SEND_RATE_WINDOW", &cfg.SendRateWindow, false},
	}
	for _, d := range durations {
		v := strings.TrimSpace(os.Getenv(d.key))
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < 0 || (parsed == 0 && !d.allowOff) {
			return Config{}, ErrConfig
		}
		*d.dst = parsed
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"WASTEWISE_WS_MAX_ATTEMPTS", &cfg.MaxAttempts},
		{"WASTEWISE_WS_SEND_RATE_EVENTS", &cfg.SendRateEvents},
	}
	for _, n := range ints {
		v := strings.TrimSpace(os.Getenv(n.key))
		if v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return Config{}, ErrConfig
		}
		*n.dst = parsed
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return ErrConfig
	}
	return nil
}

// withDefaults fills zero fields from DefaultConfig. HeartbeatInterval is left
// alone: zero means disabled.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if c.SendRateEvents <= 0 {
		c.SendRateEvents = def.SendRateEvents
	}
	if c.SendRateWindow <= 0 {
		c.SendRateWindow = def.SendRateWindow
	}
	return c
}

// ChannelURL returns the live channel address for token.
func ChannelURL(base, token string) string {
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(token)
}
