package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	AuthSigningKey    string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer        string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience      string        `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS      float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `mapstructure:"RATE_LIMIT_BURST"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	LogFile           string        `mapstructure:"LOG_FILE"`
	LogMaxSizeMB      int           `mapstructure:"LOG_MAX_SIZE_MB"`
	LogMaxBackups     int           `mapstructure:"LOG_MAX_BACKUPS"`
	LogMaxAgeDays     int           `mapstructure:"LOG_MAX_AGE_DAYS"`
	MigrationsDir     string        `mapstructure:"MIGRATIONS_DIR"`
	AddressDatasetURL string        `mapstructure:"ADDRESS_DATASET_URL"`
	AddressCacheTTL   time.Duration `mapstructure:"ADDRESS_CACHE_TTL"`
	PhoneRegion       string        `mapstructure:"PHONE_REGION"`
	ImportBatchSize   int           `mapstructure:"IMPORT_BATCH_SIZE"`
}

var defaults = map[string]interface{}{
	"PORT":              "8000",
	"ENV":               "development",
	"DB_MAX_CONNS":      20,
	"DB_MIN_CONNS":      2,
	"CORS_ORIGINS":      "http://localhost:3000",
	"RATE_LIMIT_RPS":    50,
	"RATE_LIMIT_BURST":  100,
	"LOG_LEVEL":         "info",
	"LOG_MAX_SIZE_MB":   100,
	"LOG_MAX_BACKUPS":   5,
	"LOG_MAX_AGE_DAYS":  30,
	"MIGRATIONS_DIR":    "./migrations",
	"ADDRESS_CACHE_TTL": "24h",
	"PHONE_REGION":      "TH",
	"IMPORT_BATCH_SIZE": 50,
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "LOG_LEVEL", "LOG_FILE",
	"LOG_MAX_SIZE_MB", "LOG_MAX_BACKUPS", "LOG_MAX_AGE_DAYS", "MIGRATIONS_DIR",
	"ADDRESS_DATASET_URL", "ADDRESS_CACHE_TTL", "PHONE_REGION", "IMPORT_BATCH_SIZE",
}

// Load reads the configuration and requires a database URL.
func Load() (*Config, error) {
	cfg, err := Read()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

// Read reads the environment, falling back to a .env file in the working
// directory when one exists.
func Read() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitOrigins(v.GetString("CORS_ORIGINS"))
	return cfg, nil
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// DevAuth reports whether requests run unauthenticated as an administrator.
// That only happens in development with no signing key configured.
func (c *Config) DevAuth() bool {
	return c.IsDev() && c.AuthSigningKey == ""
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY must be set when ENV=%q; "+
			"refusing to start without authentication", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 characters, got %d", len(c.AuthSigningKey))
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.ImportBatchSize <= 0 {
		return fmt.Errorf("IMPORT_BATCH_SIZE must be positive, got %d", c.ImportBatchSize)
	}
	if c.AddressCacheTTL < 0 {
		return fmt.Errorf("ADDRESS_CACHE_TTL must not be negative")
	}
	return nil
}
