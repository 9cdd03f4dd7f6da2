package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every setting the catalog process needs.
type Config struct {
	AppEnv     string `env:"APP_ENV" envDefault:"development"`
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	APIBaseURL     string        `env:"API_BASE_URL" envDefault:"https://app.getswipe.in/api/"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`

	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite"` // sqlite or postgres
	DBDSN    string `env:"DB_DSN" envDefault:"catalog.db"`

	ProbeAddr    string        `env:"CONNECTIVITY_PROBE_ADDR" envDefault:"app.getswipe.in:443"`
	ProbeTimeout time.Duration `env:"CONNECTIVITY_PROBE_TIMEOUT" envDefault:"2s"`
	OfflineMode  bool          `env:"OFFLINE_MODE" envDefault:"false"` // start with the airplane switch on

	RetryPollInterval time.Duration `env:"RETRY_POLL_INTERVAL" envDefault:"15s"`
	RetryBackoff      time.Duration `env:"RETRY_BACKOFF" envDefault:"30s"`
	RetryMaxAttempts  int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"5"`
	RedisAddr         string        `env:"REDIS_ADDR"` // empty keeps retry slots in memory

	ImageDir       string        `env:"IMAGE_DIR" envDefault:"images"`
	SearchDebounce time.Duration `env:"SEARCH_DEBOUNCE" envDefault:"300ms"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	LogFile   string `env:"LOG_FILE"`
}

// Load reads .env.local when APP_ENV is "local", then parses the environment.
func Load() (*Config, error) {
	if os.Getenv("APP_ENV") == "local" {
		// A missing file is fine, the process environment still applies.
		_ = godotenv.Load(".env.local")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}
