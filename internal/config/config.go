package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	SourceFilesystem = "filesystem"
	SourcePostgres   = "postgres"

	StoreMemory = "memory"
	StoreRedis  = "redis"

	// DevSecret signs cookies when no secret is configured in debug mode.
	DevSecret = "dev-secret-change-me-dev-secret-change-me"
	// MinSecretLength is enforced outside debug mode.
	MinSecretLength = 32
)

type Config struct {
	Server struct {
		Port      string `yaml:"port"`
		Debug     bool   `yaml:"debug"`
		StaticDir string `yaml:"static_dir"`
	} `yaml:"server"`
	Catalog struct {
		Root             string `yaml:"root"`
		Source           string `yaml:"source"`
		Watch            bool   `yaml:"watch"`
		ReloadPerRequest bool   `yaml:"reload_per_request"`
	} `yaml:"catalog"`
	Session struct {
		Secret     string `yaml:"secret"`
		IdleTTL    string `yaml:"idle_ttl"`
		Store      string `yaml:"store"`
		CookieName string `yaml:"cookie_name"`
		Secure     bool   `yaml:"secure"`
	} `yaml:"session"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
	RateLimit struct {
		PerSecond float64 `yaml:"per_second"`
		Burst     int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// Default returns the configuration used when a key is not set.
func Default() Config {
	cfg := Config{}
	cfg.Server.Port = "5050"
	cfg.Catalog.Root = "data/exams"
	cfg.Catalog.Source = SourceFilesystem
	cfg.Session.IdleTTL = "1h"
	cfg.Session.Store = StoreMemory
	cfg.Session.CookieName = "exam_session"
	cfg.Log.Level = "info"
	cfg.RateLimit.PerSecond = 5
	cfg.RateLimit.Burst = 20
	return cfg
}

// Load reads YAML config from path on top of the defaults, then applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// LoadDotEnv loads variables from path into the process environment if the
// file exists. Already-set variables win.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// ApplyEnv overrides file values with environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("EXAM_DATA_DIR"); v != "" {
		c.Catalog.Root = v
	}
	if v := getenv("EXAM_SECRET_KEY"); v != "" {
		c.Session.Secret = v
	}
	if v := getenv("EXAM_SESSION_TTL"); v != "" {
		c.Session.IdleTTL = v
	}
	if v := getenv("EXAM_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Server.Debug = b
		}
	}
	if v := getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv("POSTGRES_URL"); v != "" {
		c.Postgres.URL = v
	}
}

// Validate checks settings that would otherwise fail late at runtime.
func (c Config) Validate() error {
	switch c.Catalog.Source {
	case SourceFilesystem:
	case SourcePostgres:
		if c.Postgres.URL == "" {
			return fmt.Errorf("catalog source %q needs postgres.url", c.Catalog.Source)
		}
	default:
		return fmt.Errorf("unknown catalog source %q", c.Catalog.Source)
	}
	switch c.Session.Store {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("session store %q needs redis.addr", c.Session.Store)
		}
	default:
		return fmt.Errorf("unknown session store %q", c.Session.Store)
	}
	if !c.Server.Debug && len(c.Session.Secret) < MinSecretLength {
		return fmt.Errorf("session secret must be at least %d bytes outside debug mode", MinSecretLength)
	}
	return nil
}

// SessionSecret is the configured secret, or DevSecret when unset.
func (c Config) SessionSecret() string {
	if c.Session.Secret == "" {
		return DevSecret
	}
	return c.Session.Secret
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
