package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// HTTP API
	ListenAddr     string `envconfig:"LISTEN_ADDR" default:":8080"`
	AuthMode       string `envconfig:"AUTH_MODE" default:"jwt"` // "jwt", "api-key", "none"
	APIKey         string `envconfig:"API_KEY"`
	JWTSecret      string `envconfig:"JWT_SECRET"`
	RateLimitRPS   int    `envconfig:"RATE_LIMIT_RPS" default:"100"`
	RateLimitBurst int    `envconfig:"RATE_LIMIT_BURST" default:"200"`
	CORSOrigins    string `envconfig:"CORS_ORIGINS"`
	TLSCert        string `envconfig:"TLS_CERT"`
	TLSKey         string `envconfig:"TLS_KEY"`

	// Store
	DBPath string `envconfig:"DB_PATH" default:"stageflow.db"`

	// Attachments
	UploadDir     string `envconfig:"UPLOAD_DIR" default:"uploads"`
	UploadBaseURL string `envconfig:"UPLOAD_BASE_URL" default:"/files"`

	// Pipeline template for new projects (YAML). Empty uses the built-in default.
	PipelineTemplatePath string `envconfig:"PIPELINE_TEMPLATE_PATH"`

	// Auto-start scheduler. All due-date comparisons are evaluated in one
	// fixed organizational time zone, never the caller's local zone.
	SchedulerInterval time.Duration `envconfig:"SCHEDULER_INTERVAL" default:"15s"`
	OrgTimezone       string        `envconfig:"ORG_TIMEZONE" default:"UTC"`

	// Realtime notification webhooks (comma-separated URLs).
	NotifyWebhooks string        `envconfig:"NOTIFY_WEBHOOKS"`
	NotifyTimeout  time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"10s"`
	NotifyRetries  int           `envconfig:"NOTIFY_RETRIES" default:"3"`
}

// OrgLocation resolves the configured organizational time zone.
func (c *Config) OrgLocation() (*time.Location, error) {
	loc, err := time.LoadLocation(c.OrgTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid ORG_TIMEZONE %q: %w", c.OrgTimezone, err)
	}
	return loc, nil
}

// Validate checks cross-field constraints that envconfig cannot express.
func (c *Config) Validate() error {
	switch c.AuthMode {
	case "jwt":
		if c.JWTSecret == "" {
			return fmt.Errorf("AUTH_MODE=jwt requires JWT_SECRET")
		}
	case "api-key":
		if c.APIKey == "" {
			return fmt.Errorf("AUTH_MODE=api-key requires API_KEY")
		}
	case "none":
	default:
		return fmt.Errorf("unknown AUTH_MODE %q", c.AuthMode)
	}
	if _, err := c.OrgLocation(); err != nil {
		return err
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}
