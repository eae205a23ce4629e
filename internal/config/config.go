package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// ----------------------------
	// Mail Backend
	// ----------------------------
	// MailBackend is one of smtp, ses, mailgun or memory.
	MailBackend string `envconfig:"MAIL_BACKEND" default:"smtp"`

	SMTPHost     string `envconfig:"SMTP_HOST" default:"localhost"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"1025"`
	SMTPUser     string `envconfig:"SMTP_USER" default:""`
	SMTPPassword string `envconfig:"SMTP_PASSWORD" default:""`

	SESConfigurationSet string `envconfig:"SES_CONFIGURATION_SET" default:""`
	AWSRegion           string `envconfig:"AWS_REGION" default:"us-east-1"`
	AWSAccessKeyID      string `envconfig:"AWS_ACCESS_KEY_ID" default:""`
	AWSSecretAccessKey  string `envconfig:"AWS_SECRET_ACCESS_KEY" default:""`

	MailgunDomain string `envconfig:"MAILGUN_DOMAIN" default:""`
	MailgunAPIKey string `envconfig:"MAILGUN_API_KEY" default:""`

	// ----------------------------
	// Workers
	// ----------------------------
	WorkerCount   int `envconfig:"WORKER_COUNT" default:"2"`
	RateLimit     int `envconfig:"RATE_LIMIT" default:"10"`
	RetryAttempts int `envconfig:"RETRY_ATTEMPTS" default:"3"`

	// ----------------------------
	// HTTP
	// ----------------------------
	APIPort         string   `envconfig:"API_PORT" default:"8080"`
	BaseURL         string   `envconfig:"BASE_URL" default:"http://localhost:8080"`
	AdminToken      string   `envconfig:"ADMIN_TOKEN" default:""`
	CORSOrigins     []string `envconfig:"CORS_ORIGINS" default:""`
	MailInlineCount int      `envconfig:"MAIL_INLINE_COUNT" default:"100"`
	ViewLinksFile   string   `envconfig:"VIEW_LINKS_FILE" default:""`

	// ----------------------------
	// Header Images
	// ----------------------------
	ImageBucket string `envconfig:"IMAGE_BUCKET" default:""`
	ImagePrefix string `envconfig:"IMAGE_PREFIX" default:"newsletter"`

	// ----------------------------
	// Queue
	// ----------------------------
	// Without REDIS_URL jobs are queued in process.
	RedisURL string `envconfig:"REDIS_URL" default:""`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	// ----------------------------
	// Database
	// ----------------------------
	// DATABASE_URL=memory keeps everything in process memory.
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	AutoMigrate bool   `envconfig:"AUTO_MIGRATE" default:"true"`
}

// Load reads the environment, after filling it from a .env file when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.MailBackend {
	case "smtp", "ses", "memory":
	case "mailgun":
		if c.MailgunDomain == "" || c.MailgunAPIKey == "" {
			return fmt.Errorf("MAILGUN_DOMAIN and MAILGUN_API_KEY are required for the mailgun backend")
		}
	default:
		return fmt.Errorf("unknown MAIL_BACKEND %q", c.MailBackend)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("RATE_LIMIT must not be negative")
	}
	return nil
}
