package app

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"wastewise/cmd/internal/auth/session"
	"wastewise/cmd/internal/realtime"

	"github.com/joho/godotenv"
)

// StoreKind selects the credential store backend.
type StoreKind string

const (
	StoreMemory StoreKind = "memory"
	StoreFile   StoreKind = "file"
	StoreSQLite StoreKind = "sqlite"
)

// StoreConfig selects and configures the credential store.
type StoreConfig struct {
	Kind StoreKind

	// Dir holds the file store entry.
	Dir string
	// Path is the SQLite database file.
	Path string
	// Passphrase seals the file store entry at rest. Empty stores it in clear
	// (still 0600).
	Passphrase string
}

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	APIURL string

	LogLevel  string
	LogFormat string
	LogColor  bool

	// DiagAddr is the listen address of the local diagnostics server.
	// Empty disables it.
	DiagAddr        string
	ShutdownTimeout time.Duration
	MaxHeaderBytes  int

	Store    StoreConfig
	Session  session.Config
	Realtime realtime.Config
}

// LoadConfig loads Config from environment variables with defaults.
//
// A .env file (WASTEWISE_ENV_FILE, default ".env") is read first when it
// exists. Variables already set in the process environment win over it.
func LoadConfig() (Config, error) {
	if err := loadDotEnv(EnvString("WASTEWISE_ENV_FILE", ".env")); err != nil {
		return Config{}, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("session config: %w", err)
	}
	rtCfg, err := realtime.LoadConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("realtime config: %w", err)
	}

	dataDir := EnvString("WASTEWISE_DATA_DIR", defaultDataDir())

	cfg := Config{
		APIURL: EnvString("WASTEWISE_API_URL", "http://localhost:8000"),

		LogLevel:  EnvString("WASTEWISE_LOG_LEVEL", "info"),
		LogFormat: EnvString("WASTEWISE_LOG_FORMAT", "json"),
		LogColor:  EnvBool("WASTEWISE_LOG_COLOR", false),

		DiagAddr:        EnvString("WASTEWISE_DIAG_ADDR", ""),
		ShutdownTimeout: EnvDuration("WASTEWISE_SHUTDOWN_TIMEOUT", 5*time.Second),
		MaxHeaderBytes:  EnvInt("WASTEWISE_DIAG_MAX_HEADER_BYTES", 1<<16),

		Store: StoreConfig{
			Kind:       StoreKind(strings.ToLower(EnvString("WASTEWISE_STORE", string(StoreFile)))),
			Dir:        dataDir,
			Path:       EnvString("WASTEWISE_STORE_SQLITE_PATH", filepath.Join(dataDir, "wastewise.db")),
			Passphrase: os.Getenv("WASTEWISE_STORE_PASSPHRASE"),
		},
		Session:  sessCfg,
		Realtime: rtCfg,
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields LoadConfig cannot default its way out of.
func (c Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid WASTEWISE_API_URL %q", c.APIURL)
	}

	ws, err := url.Parse(c.Realtime.URL)
	if err != nil || (ws.Scheme != "ws" && ws.Scheme != "wss") || ws.Host == "" {
		return fmt.Errorf("invalid WASTEWISE_WS_URL %q", c.Realtime.URL)
	}

	switch c.Store.Kind {
	case StoreMemory:
	case StoreFile:
		if strings.TrimSpace(c.Store.Dir) == "" {
			return errors.New("file store needs WASTEWISE_DATA_DIR")
		}
	case StoreSQLite:
		if strings.TrimSpace(c.Store.Path) == "" {
			return errors.New("sqlite store needs WASTEWISE_STORE_SQLITE_PATH")
		}
	default:
		return fmt.Errorf("unknown WASTEWISE_STORE %q", c.Store.Kind)
	}

	switch strings.ToLower(c.LogFormat) {
	case "json", "pretty", "text":
	default:
		return fmt.Errorf("unknown WASTEWISE_LOG_FORMAT %q", c.LogFormat)
	}
	return nil
}

func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "wastewise")
	}
	return ".wastewise"
}
