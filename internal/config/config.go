package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port       string `env:"PORT" envDefault:"8080"`
	DBAdapter  string `env:"DB_ADAPTER" envDefault:"postgres"`
	SQLiteFile string `env:"SQLITE_FILE" envDefault:"./data/oauth.db"`
	Env        string `env:"ENV"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat  string `env:"LOG_FORMAT" envDefault:"text"`

	// Secret hashing
	Hasher     string `env:"HASHER" envDefault:"sha256"`
	BcryptCost int    `env:"BCRYPT_COST" envDefault:"0"`

	// HTTP policy
	AdminJWTSecret     string   `env:"ADMIN_JWT_SECRET"`
	RateLimitPerMinute int      `env:"RATE_LIMIT_PER_MINUTE" envDefault:"120"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	// PostgreSQL connection settings
	PostgresDSN      string `env:"POSTGRES_DSN"`
	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"oauth"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`
	PostgresDB       string `env:"POSTGRES_DB" envDefault:"oauth"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`
}

// BuildPostgresDSN constructs a PostgreSQL DSN from individual components or returns the provided DSN
func (c *Config) BuildPostgresDSN() (string, error) {
	if c.PostgresDSN != "" {
		return c.PostgresDSN, nil
	}

	if c.PostgresHost == "" {
		return "", errors.New("POSTGRES_HOST or POSTGRES_DSN must be set")
	}
	if c.PostgresUser == "" {
		return "", errors.New("POSTGRES_USER must be set")
	}
	if c.PostgresDB == "" {
		return "", errors.New("POSTGRES_DB must be set")
	}

	port := c.PostgresPort
	if port == "" {
		port = "5432"
	}
	sslMode := c.PostgresSSLMode
	if sslMode == "" {
		sslMode = "disable" // Default to disable for local development
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		c.PostgresHost, port, c.PostgresUser, c.PostgresDB, sslMode)
	if c.PostgresPassword != "" {
		dsn += " password=" + c.PostgresPassword
	}
	return dsn, nil
}

// Production reports whether ENV names a production deployment.
func (c *Config) Production() bool {
	e := strings.ToLower(c.Env)
	return e == "production" || e == "prod"
}

// New loads the configuration from the environment and validates it.
func New() (*Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks cross-field rules and normalises the DSN.
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid PORT: %s", c.Port)
	}

	switch c.DBAdapter {
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			return fmt.Errorf("postgres configuration error: %w", err)
		}
		c.PostgresDSN = dsn
	case "sqlite":
		if c.SQLiteFile == "" {
			return errors.New("SQLITE_FILE must be set when DB_ADAPTER=sqlite")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}

	switch c.Hasher {
	case "sha256", "bcrypt":
	default:
		return fmt.Errorf("unsupported HASHER: %s (supported: sha256, bcrypt)", c.Hasher)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported LOG_FORMAT: %s (supported: text, json)", c.LogFormat)
	}

	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE: %d", c.RateLimitPerMinute)
	}

	// client registration must not be open in production
	if c.Production() && c.AdminJWTSecret == "" {
		return errors.New("ADMIN_JWT_SECRET must be set in production")
	}
	return nil
}
