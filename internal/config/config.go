package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	GatewayURL        string `mapstructure:"ABDM_GATEWAY_URL"`
	ClientID          string `mapstructure:"ABDM_CLIENT_ID"`
	ClientSecret      string `mapstructure:"ABDM_CLIENT_SECRET"`
	CMID              string `mapstructure:"ABDM_CM_ID"`
	HIUID             string `mapstructure:"ABDM_HIU_ID"`
	HIPID             string `mapstructure:"ABDM_HIP_ID"`
	BackendDomain     string `mapstructure:"BACKEND_DOMAIN"`
	RequestTimeoutSec int    `mapstructure:"ABDM_REQUEST_TIMEOUT"`

	RetryBatchSize  int `mapstructure:"RETRY_BATCH_SIZE"`
	RetryStuckHours int `mapstructure:"RETRY_STUCK_HOURS"`
	SweepHourUTC    int `mapstructure:"SWEEP_HOUR_UTC"`

	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
	TLSEnabled  bool     `mapstructure:"TLS_ENABLED"`
	TLSCertFile string   `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string   `mapstructure:"TLS_KEY_FILE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8040")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("ABDM_GATEWAY_URL", "https://dev.abdm.gov.in/hiecm/api")
	v.SetDefault("ABDM_CM_ID", "sbx")
	v.SetDefault("ABDM_REQUEST_TIMEOUT", 25)
	v.SetDefault("RETRY_BATCH_SIZE", 50)
	v.SetDefault("RETRY_STUCK_HOURS", 24)
	v.SetDefault("SWEEP_HOUR_UTC", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:4000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("ABDM_GATEWAY_URL")
	v.BindEnv("ABDM_CLIENT_ID")
	v.BindEnv("ABDM_CLIENT_SECRET")
	v.BindEnv("ABDM_CM_ID")
	v.BindEnv("ABDM_HIU_ID")
	v.BindEnv("ABDM_HIP_ID")
	v.BindEnv("BACKEND_DOMAIN")
	v.BindEnv("ABDM_REQUEST_TIMEOUT")
	v.BindEnv("RETRY_BATCH_SIZE")
	v.BindEnv("RETRY_STUCK_HOURS")
	v.BindEnv("SWEEP_HOUR_UTC")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("TLS_ENABLED")
	v.BindEnv("TLS_CERT_FILE")
	v.BindEnv("TLS_KEY_FILE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// RequestTimeout returns the bounded timeout applied to every outbound
// gateway call.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// Validate checks that the configuration is safe to run. Outside development
// the gateway credentials must be present: every outbound call needs a
// client-credentials session and the data-flow handshake needs a reachable
// callback domain.
func (c *Config) Validate() error {
	if c.GatewayURL == "" {
		return fmt.Errorf("ABDM_GATEWAY_URL is required")
	}
	if _, err := url.Parse(c.GatewayURL); err != nil {
		return fmt.Errorf("ABDM_GATEWAY_URL is not a valid URL: %w", err)
	}

	if !c.IsDev() {
		if c.ClientID == "" || c.ClientSecret == "" {
			return fmt.Errorf("ABDM_CLIENT_ID and ABDM_CLIENT_SECRET are required when ENV=%q", c.Env)
		}
		if c.HIUID == "" || c.HIPID == "" {
			return fmt.Errorf("ABDM_HIU_ID and ABDM_HIP_ID are required when ENV=%q", c.Env)
		}
		if c.BackendDomain == "" {
			return fmt.Errorf("BACKEND_DOMAIN is required when ENV=%q (used as the data push URL for health-information requests)", c.Env)
		}
	}

	if c.RetryBatchSize <= 0 {
		return fmt.Errorf("RETRY_BATCH_SIZE must be positive, got %d", c.RetryBatchSize)
	}
	if c.SweepHourUTC < 0 || c.SweepHourUTC > 23 {
		return fmt.Errorf("SWEEP_HOUR_UTC must be between 0 and 23, got %d", c.SweepHourUTC)
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
