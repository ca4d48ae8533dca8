// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Partner   PartnerConfig   `mapstructure:"partner" yaml:"partner"`
	Provision ProvisionConfig `mapstructure:"provision" yaml:"provision"`
}

// LoggerConfig controls the zap logger construction.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the postgres pool used by the provision recorder.
type DatabaseConfig struct {
	DSN          string        `mapstructure:"dsn" yaml:"dsn"`
	MaxConns     int32         `mapstructure:"max_conns" yaml:"max_conns"`
	ConnLifetime time.Duration `mapstructure:"conn_lifetime" yaml:"conn_lifetime"`
}

// BrowserConfig controls the chromedp browser process.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// PartnerConfig describes the partner platform the engine drives. Credentials
// are expected via STOREFORGE_PARTNER_EMAIL / STOREFORGE_PARTNER_PASSWORD in
// deployments; the yaml keys exist for local runs only.
type PartnerConfig struct {
	HomepageURL string `mapstructure:"homepage_url" yaml:"homepage_url"`
	LookupURL   string `mapstructure:"lookup_url" yaml:"lookup_url"`
	AdminURL    string `mapstructure:"admin_url" yaml:"admin_url"`
	Email       string `mapstructure:"email" yaml:"email"`
	Password    string `mapstructure:"password" yaml:"password"`
}

// ProvisionConfig bounds the orchestrator's waits.
type ProvisionConfig struct {
	ChallengeWindow time.Duration `mapstructure:"challenge_window" yaml:"challenge_window"`
	TwoFactorWindow time.Duration `mapstructure:"two_factor_window" yaml:"two_factor_window"`
	StepWait        time.Duration `mapstructure:"step_wait" yaml:"step_wait"`
	CreationTimeout time.Duration `mapstructure:"creation_timeout" yaml:"creation_timeout"`
	SessionTTL      time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval" yaml:"janitor_interval"`
}

// SetDefaults registers every default value with viper. Call before Load.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "storeforge")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("server.addr", ":8085")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Minute)
	v.SetDefault("server.shutdown_timeout", 20*time.Second)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.conn_lifetime", 30*time.Minute)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", 90*time.Second)
	v.SetDefault("browser.post_load_wait", 2*time.Second)

	v.SetDefault("partner.homepage_url", "https://www.shopify.com/fr")
	v.SetDefault("partner.lookup_url", "https://accounts.shopify.com/lookup")
	v.SetDefault("partner.admin_url", "https://admin.shopify.com/?no_redirect=true")
	// Empty defaults register the keys with viper so the STOREFORGE_* env
	// overrides survive Unmarshal.
	v.SetDefault("partner.email", "")
	v.SetDefault("partner.password", "")

	v.SetDefault("provision.challenge_window", 10*time.Second)
	v.SetDefault("provision.two_factor_window", 5*time.Second)
	v.SetDefault("provision.step_wait", 15*time.Second)
	v.SetDefault("provision.creation_timeout", 5*time.Minute)
	v.SetDefault("provision.session_ttl", 15*time.Minute)
	v.SetDefault("provision.janitor_interval", time.Minute)
}

// Load reads configuration from the given file (or the working directory when
// empty), applies STOREFORGE_* environment overrides, and unmarshals it.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("STOREFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine; defaults plus env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures deep inside a workflow.
func (c *Config) Validate() error {
	if c.Partner.HomepageURL == "" || c.Partner.AdminURL == "" {
		return fmt.Errorf("partner.homepage_url and partner.admin_url are required")
	}
	if c.Provision.ChallengeWindow <= 0 {
		return fmt.Errorf("provision.challenge_window must be positive")
	}
	if c.Provision.SessionTTL <= 0 {
		return fmt.Errorf("provision.session_ttl must be positive")
	}
	switch c.Logger.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logger.format must be console or json, got %q", c.Logger.Format)
	}
	return nil
}

// RequireCredentials errors unless partner credentials are present. The serve
// path calls this; tests and dry runs do not.
func (c *Config) RequireCredentials() error {
	if c.Partner.Email == "" || c.Partner.Password == "" {
		return fmt.Errorf("missing partner credentials: set STOREFORGE_PARTNER_EMAIL and STOREFORGE_PARTNER_PASSWORD")
	}
	return nil
}
