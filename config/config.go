package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"5000"`
	Environment string `envconfig:"NODE_ENV" default:"development"`

	MongoURI string `envconfig:"MONGODB_URI" default:"mongodb://localhost:27017"`
	DBName   string `envconfig:"MONGODB_DB" default:"bookstore"`

	JWTSecret    string   `envconfig:"JWT_SECRET"`
	JWTExpiresIn Lifetime `envconfig:"JWT_EXPIRES_IN" default:"7d"`

	FrontendURL    string   `envconfig:"FRONTEND_URL"`
	AllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT"`

	UploadDir     string `envconfig:"UPLOAD_DIR" default:"uploads"`
	UploadDriver  string `envconfig:"UPLOAD_DRIVER" default:"local"`
	S3Bucket      string `envconfig:"AWS_S3_BUCKET"`
	S3Region      string `envconfig:"AWS_REGION" default:"us-east-1"`
	S3AccessKeyID string `envconfig:"AWS_ACCESS_KEY_ID"`
	S3SecretKey   string `envconfig:"AWS_SECRET_ACCESS_KEY"`

	RedisAddress  string `envconfig:"REDIS_ADDRESS"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	RateLimitEnabled  bool          `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"15m"`
	RateLimitMax      int           `envconfig:"RATE_LIMIT_MAX" default:"100"`
	LoginRateLimitMax int           `envconfig:"LOGIN_RATE_LIMIT_MAX" default:"10"`

	// TrustProxy takes the client address from X-Forwarded-For/X-Real-IP. Enable only behind a proxy that sets them.
	TrustProxy bool `envconfig:"TRUST_PROXY" default:"false"`

	AdminName     string `envconfig:"ADMIN_NAME" default:"Admin User"`
	AdminEmail    string `envconfig:"ADMIN_EMAIL" default:"admin@example.com"`
	AdminPassword string `envconfig:"ADMIN_PASSWORD" default:"Admin@123"`

	// Base64 in env; 32 bytes once decoded. Empty leaves the SMTP password unsealed.
	SettingsKeyB64 string `envconfig:"SETTINGS_ENCRYPTION_KEY"`
	SettingsKey    []byte `ignored:"true"`

	GoogleBooksURL string `envconfig:"GOOGLE_BOOKS_URL" default:"https://www.googleapis.com/books/v1/volumes"`
}

// Lifetime is a duration that also accepts a whole-day suffix ("7d", "30d"),
// the format JWT_EXPIRES_IN has always used.
type Lifetime time.Duration

func (l *Lifetime) Decode(value string) error {
	if strings.TrimSpace(value) == "" {
		value = "7d"
	}
	d, err := ParseLifetime(value)
	if err != nil {
		return err
	}
	*l = Lifetime(d)
	return nil
}

func (l Lifetime) Duration() time.Duration { return time.Duration(l) }

func ParseLifetime(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty lifetime")
	}
	if strings.HasSuffix(value, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(value, "d"))
		if err != nil || days <= 0 {
			return 0, fmt.Errorf("invalid lifetime %q", value)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	// bare numbers are seconds
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("invalid lifetime %q", value)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid lifetime %q", value)
	}
	return d, nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	if k := strings.TrimSpace(cfg.SettingsKeyB64); k != "" {
		key, err := base64.StdEncoding.DecodeString(k)
		if err != nil {
			return nil, fmt.Errorf("SETTINGS_ENCRYPTION_KEY: %w", err)
		}
		cfg.SettingsKey = key
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
		if cfg.IsProduction() {
			cfg.LogFormat = "json"
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port: %s", c.Port)
	}
	if c.RateLimitWindow <= 0 || c.RateLimitMax <= 0 || c.LoginRateLimitMax <= 0 {
		return fmt.Errorf("rate limit window and max must be positive")
	}
	if c.SettingsKey != nil && len(c.SettingsKey) != 32 {
		return fmt.Errorf("SETTINGS_ENCRYPTION_KEY must be 32 bytes base64 (got %d bytes)", len(c.SettingsKey))
	}
	switch c.UploadDriver {
	case "local":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("AWS_S3_BUCKET is required when UPLOAD_DRIVER=s3")
		}
	default:
		return fmt.Errorf("unknown UPLOAD_DRIVER %q", c.UploadDriver)
	}
	if c.IsProduction() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// Secret returns the signing secret, falling back to a development-only value.
func (c *Config) Secret() string {
	if c.JWTSecret != "" {
		return c.JWTSecret
	}
	return "dev-secret-change-me"
}

// Origins is the CORS allow-list: the local dev storefront, FRONTEND_URL and any extras.
func (c *Config) Origins() []string {
	origins := []string{"http://localhost:3000"}
	if c.FrontendURL != "" {
		origins = append(origins, strings.TrimRight(c.FrontendURL, "/"))
	}
	for _, o := range c.AllowedOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

var secretVars = map[string]bool{
	"JWT_SECRET":              true,
	"AWS_ACCESS_KEY_ID":       true,
	"AWS_SECRET_ACCESS_KEY":   true,
	"REDIS_PASSWORD":          true,
	"ADMIN_PASSWORD":          true,
	"SETTINGS_ENCRYPTION_KEY": true,
}

// OptionalEnvVars are reported at startup so you can confirm what was picked up.
var OptionalEnvVars = []string{
	"MONGODB_URI", "JWT_SECRET", "JWT_EXPIRES_IN", "FRONTEND_URL", "UPLOAD_DRIVER",
	"AWS_S3_BUCKET", "REDIS_ADDRESS", "SETTINGS_ENCRYPTION_KEY",
}

// EnvSummary reports which optional variables are set. Secret values are never included.
func EnvSummary() map[string]string {
	out := make(map[string]string, len(OptionalEnvVars))
	for _, key := range OptionalEnvVars {
		v := strings.TrimSpace(os.Getenv(key))
		switch {
		case v == "":
			out[key] = "not set"
		case secretVars[key] || key == "MONGODB_URI":
			out[key] = "loaded"
		default:
			out[key] = v
		}
	}
	return out
}
