package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the application configuration
type Config struct {
	ServerPort int    `envconfig:"SERVER_PORT" default:"8080"`
	AppName    string `envconfig:"APP_NAME" default:"SecretShare"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`

	// IsStaging disables wallet signature checks system-wide. Never enable in production.
	IsStaging bool `envconfig:"IS_STAGING" default:"false"`

	JWTSecret           string `envconfig:"JWT_SECRET" required:"true"`
	JWTAccessExpiresIn  string `envconfig:"JWT_ACCESS_EXPIRES_IN" default:"15m"`
	JWTRefreshExpiresIn string `envconfig:"JWT_REFRESH_EXPIRES_IN" default:"7d"`

	DatabaseDriver string `envconfig:"DATABASE_DRIVER" default:"pgx"`
	DatabaseURL    string `envconfig:"DATABASE_URL" required:"true"`
	MigrationsPath string `envconfig:"MIGRATIONS_PATH" default:"./migrations/001_init.sql"`

	TelegramBotToken       string        `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramInitDataMaxAge time.Duration `envconfig:"TELEGRAM_INIT_DATA_MAX_AGE" default:"24h"`
	TelegramNotifications  bool          `envconfig:"TELEGRAM_NOTIFICATIONS" default:"true"`

	ChallengeExpiresInMinutes int    `envconfig:"CHALLENGE_EXPIRES_IN_MINUTES" default:"5"`
	ChallengeBackend          string `envconfig:"CHALLENGE_BACKEND" default:"postgres"`
	RedisURL                  string `envconfig:"REDIS_URL"`

	AddressSecretKey string `envconfig:"ADDRESS_SECRET_KEY" required:"true"`
	ReportThreshold  int    `envconfig:"REPORT_THRESHOLD" default:"3"`

	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

// Load reads the configuration from environment variables and validates it
func Load(cfg *Config) error {
	if err := envconfig.Process("", cfg); err != nil {
		return err
	}
	return cfg.Validate()
}

// Validate checks constraints envconfig cannot express. A required
// variable that is set but empty passes envconfig, so those are checked here.
func (c *Config) Validate() error {
	for _, v := range []struct{ name, value string }{
		{"JWT_SECRET", c.JWTSecret},
		{"DATABASE_URL", c.DatabaseURL},
		{"ADDRESS_SECRET_KEY", c.AddressSecretKey},
	} {
		if strings.TrimSpace(v.value) == "" {
			return fmt.Errorf("%s must not be empty", v.name)
		}
	}

	switch c.DatabaseDriver {
	case "pgx", "postgres":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be pgx or postgres, got %q", c.DatabaseDriver)
	}

	switch c.ChallengeBackend {
	case "postgres":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when CHALLENGE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("CHALLENGE_BACKEND must be postgres or redis, got %q", c.ChallengeBackend)
	}

	if c.ChallengeExpiresInMinutes <= 0 {
		return fmt.Errorf("CHALLENGE_EXPIRES_IN_MINUTES must be positive")
	}
	if c.ReportThreshold <= 0 {
		return fmt.Errorf("REPORT_THRESHOLD must be positive")
	}
	return nil
}
