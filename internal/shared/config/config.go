package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Billing  BillingConfig  `mapstructure:"billing"`
	Provider ProviderConfig `mapstructure:"provider"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// BillingConfig holds credit conversion configuration.
//
// ProfitMargin and CreditUnitValue are injected into the converter at
// construction so pricing stays deterministic under test.
type BillingConfig struct {
	ProfitMargin    float64 `mapstructure:"profit_margin"`
	CreditUnitValue float64 `mapstructure:"credit_unit_value"`
	MinCredits      int64   `mapstructure:"min_credits"`
}

// ProviderConfig holds generation provider configuration.
type ProviderConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Token         string        `mapstructure:"token"`
	WebhookURL    string        `mapstructure:"webhook_url"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	// SyncTimeout bounds interactive (blocking) generations.
	SyncTimeout time.Duration `mapstructure:"sync_timeout"`
	// AckTimeout bounds the request acknowledgement for async generations;
	// completion arrives via webhook.
	AckTimeout         time.Duration `mapstructure:"ack_timeout"`
	MaxConcurrentUnits int           `mapstructure:"max_concurrent_units"`
	MonitoredModels    []string      `mapstructure:"monitored_models"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	PublicBaseURL   string `mapstructure:"public_base_url"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/genforge")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults and env
	}

	v.SetEnvPrefix("GENFORGE")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Billing.ProfitMargin <= 0 {
		return fmt.Errorf("billing.profit_margin must be positive, got %v", c.Billing.ProfitMargin)
	}
	if c.Billing.CreditUnitValue <= 0 {
		return fmt.Errorf("billing.credit_unit_value must be positive, got %v", c.Billing.CreditUnitValue)
	}
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "90s")
	v.SetDefault("server.idle_timeout", "120s")

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "genforge")
	v.SetDefault("database.database", "genforge")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle_time", "10m")

	// Redis
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Billing
	v.SetDefault("billing.profit_margin", 1.5)
	v.SetDefault("billing.credit_unit_value", 0.05)
	v.SetDefault("billing.min_credits", 1)

	// Provider
	v.SetDefault("provider.base_url", "https://api.replicate.com")
	v.SetDefault("provider.sync_timeout", "60s")
	v.SetDefault("provider.ack_timeout", "10s")
	v.SetDefault("provider.max_concurrent_units", 4)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
