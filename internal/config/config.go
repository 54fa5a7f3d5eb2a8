package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvDBConnection = "DB_CONNECTION"
	EnvDotEnvFile   = "DOTENV_FILE"
)

// AppConfig holds resolved process-level configuration values.
type AppConfig struct {
	ConfigPath string `env:"CONFIG_PATH"`
}

// LoadFromEnv loads a .env file when present and then reads the environment.
func LoadFromEnv() (AppConfig, error) {
	dotenv := strings.TrimSpace(os.Getenv(EnvDotEnvFile))
	if dotenv == "" {
		dotenv = ".env"
	}
	if errLoad := godotenv.Load(dotenv); errLoad != nil && !errors.Is(errLoad, os.ErrNotExist) {
		return AppConfig{}, fmt.Errorf("load %s: %w", dotenv, errLoad)
	}
	var cfg AppConfig
	if errParse := env.Parse(&cfg); errParse != nil {
		return AppConfig{}, fmt.Errorf("parse environment: %w", errParse)
	}
	cfg.ConfigPath = ResolveConfigPath(cfg.ConfigPath)
	return cfg, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// JWTConfig holds JWT secret and expiry settings.
type JWTConfig struct {
	Secret string        `yaml:"secret" env:"JWT_SECRET"`
	Expiry time.Duration `yaml:"expiry" env:"JWT_EXPIRY"`
}

// LogConfig selects the logrus level and formatter.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// RedisConfig configures the shared counter store.
type RedisConfig struct {
	Enabled          bool          `yaml:"enabled" env:"REDIS_ENABLED"`
	URL              string        `yaml:"url" env:"REDIS_URL"`
	Prefix           string        `yaml:"prefix" env:"REDIS_PREFIX"`
	FallbackToMemory bool          `yaml:"fallback-to-memory" env:"REDIS_FALLBACK_TO_MEMORY"`
	RetryAttempts    int           `yaml:"retry-attempts" env:"REDIS_RETRY_ATTEMPTS"`
	RetryInterval    time.Duration `yaml:"retry-interval" env:"REDIS_RETRY_INTERVAL"`
	ConnectTimeout   time.Duration `yaml:"connect-timeout" env:"REDIS_CONNECT_TIMEOUT"`
}

// ThrottleConfig configures classification, failure handling and reload sources.
type ThrottleConfig struct {
	FailurePolicy        string        `yaml:"failure-policy" env:"THROTTLE_FAILURE_POLICY"`
	CounterTimeout       time.Duration `yaml:"counter-timeout" env:"THROTTLE_COUNTER_TIMEOUT"`
	APIPrefixes          []string      `yaml:"api-prefixes" env:"THROTTLE_API_PREFIXES"`
	ExemptPaths          []string      `yaml:"exempt-paths" env:"THROTTLE_EXEMPT_PATHS"`
	TrustedProxies       []string      `yaml:"trusted-proxies" env:"THROTTLE_TRUSTED_PROXIES"`
	RateLimitHeaders     bool          `yaml:"rate-limit-headers" env:"THROTTLE_RATE_LIMIT_HEADERS"`
	SettingsPollInterval time.Duration `yaml:"settings-poll-interval" env:"THROTTLE_SETTINGS_POLL_INTERVAL"`
	WatchConfigFile      bool          `yaml:"watch-config-file" env:"THROTTLE_WATCH_CONFIG_FILE"`
	// Categories holds per-category overrides, e.g. categories.authenticated_api.enabled.
	Categories map[string]map[string]any `yaml:"categories"`
}

// AdminConfig seeds the bootstrap administrator.
type AdminConfig struct {
	Username string `yaml:"username" env:"ADMIN_USERNAME"`
	Password string `yaml:"password" env:"ADMIN_PASSWORD"`
}

// Config is the full file configuration after environment overrides.
type Config struct {
	Port        int    `yaml:"port" env:"PORT"`
	DatabaseDSN string `yaml:"database-dsn" env:"DB_CONNECTION"`
	Database    struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	Log      LogConfig      `yaml:"log"`
	Redis    RedisConfig    `yaml:"redis"`
	Throttle ThrottleConfig `yaml:"throttle"`
	Admin    AdminConfig    `yaml:"admin"`
}

const (
	defaultPort                 = 8318
	defaultJWTExpiry            = 30 * 24 * time.Hour
	defaultRedisPrefix          = "throttlegate:rl"
	defaultRedisRetryAttempts   = 3
	defaultRedisRetryInterval   = 2 * time.Second
	defaultRedisConnectTimeout  = 10 * time.Second
	defaultSettingsPollInterval = 2 * time.Second
)

// Load reads configPath, applies environment overrides and fills defaults.
// A missing file is not an error.
func Load(configPath string) (Config, error) {
	var cfg Config
	data, errRead := os.ReadFile(configPath)
	if errRead != nil && !errors.Is(errRead, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read config file: %w", errRead)
	}
	if errRead == nil {
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return Config{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	}
	if errEnv := env.Parse(&cfg); errEnv != nil {
		return Config{}, fmt.Errorf("parse environment: %w", errEnv)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = defaultPort
	}
	if c.JWT.Expiry <= 0 {
		c.JWT.Expiry = defaultJWTExpiry
	}
	c.Redis.URL = strings.TrimSpace(c.Redis.URL)
	c.Redis.Prefix = strings.TrimSpace(c.Redis.Prefix)
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = defaultRedisPrefix
	}
	if c.Redis.RetryAttempts <= 0 {
		c.Redis.RetryAttempts = defaultRedisRetryAttempts
	}
	if c.Redis.RetryInterval <= 0 {
		c.Redis.RetryInterval = defaultRedisRetryInterval
	}
	if c.Redis.ConnectTimeout <= 0 {
		c.Redis.ConnectTimeout = defaultRedisConnectTimeout
	}
	if c.Throttle.SettingsPollInterval <= 0 {
		c.Throttle.SettingsPollInterval = defaultSettingsPollInterval
	}
}

// DSN returns the configured database DSN.
func (c Config) DSN() (string, error) {
	if dsn := strings.TrimSpace(c.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(c.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}

// Settings renders the category overrides as throttle setting values.
func (t ThrottleConfig) Settings() (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage)
	for category, fields := range t.Categories {
		name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(category)), "-", "_")
		for field, value := range fields {
			raw, errMarshal := json.Marshal(value)
			if errMarshal != nil {
				return nil, fmt.Errorf("throttle.categories.%s.%s: %w", category, field, errMarshal)
			}
			key := "throttle_" + name + "_" + strings.ReplaceAll(strings.TrimSpace(field), "-", "_")
			out[key] = raw
		}
	}
	return out, nil
}
