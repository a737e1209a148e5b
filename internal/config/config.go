// Package config loads application settings from YAML and environment
// variables and bootstraps the global logger.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	API        APIConfig        `mapstructure:"api"`
	Exchanges  ExchangesConfig  `mapstructure:"exchanges"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Replay     ReplayConfig     `mapstructure:"replay"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// DatabaseConfig contains PostgreSQL settings. An empty host disables
// persistence; the engine then runs with in-memory stores only.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// RedisConfig contains the market-data cache settings. Disabled means
// every fetch goes to the venue.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// ExchangesConfig contains venue credentials. Public market data needs
// no keys; they are accepted for higher rate tiers.
type ExchangesConfig struct {
	Binance BinanceConfig `mapstructure:"binance"`
}

// BinanceConfig contains Binance futures API credentials.
type BinanceConfig struct {
	APIKey    string `mapstructure:"api_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// PipelineConfig contains analysis engine settings.
type PipelineConfig struct {
	Symbols       []string `mapstructure:"symbols"`
	CacheTTLSecs  int      `mapstructure:"cache_ttl_secs"`
	WhaleExchange string   `mapstructure:"whale_exchange"`
}

// ReplayConfig contains historical replay settings.
type ReplayConfig struct {
	LabelIntervalSecs int `mapstructure:"label_interval_secs"`
}

// MonitoringConfig contains metrics settings.
type MonitoringConfig struct {
	EnableMetrics bool `mapstructure:"enable_metrics"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("PERPINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file; defaults and environment variables apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "perpintel")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "perpintel")
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8090)

	v.SetDefault("pipeline.symbols", []string{"BTCUSDT", "ETHUSDT"})
	v.SetDefault("pipeline.cache_ttl_secs", 60)
	v.SetDefault("pipeline.whale_exchange", "bybit")

	v.SetDefault("replay.label_interval_secs", 1800)

	v.SetDefault("monitoring.enable_metrics", true)
}

// Validate rejects configurations the engine cannot start with.
func (c *Config) Validate() error {
	switch c.App.Environment {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("invalid environment %q (want development, staging, or production)", c.App.Environment)
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api port %d", c.API.Port)
	}
	if c.Database.Host != "" && (c.Database.Port < 1 || c.Database.Port > 65535) {
		return fmt.Errorf("invalid database port %d", c.Database.Port)
	}
	if c.Redis.Enabled && (c.Redis.Port < 1 || c.Redis.Port > 65535) {
		return fmt.Errorf("invalid redis port %d", c.Redis.Port)
	}
	if len(c.Pipeline.Symbols) == 0 {
		return fmt.Errorf("pipeline.symbols must name at least one symbol")
	}
	if c.Pipeline.CacheTTLSecs < 0 {
		return fmt.Errorf("pipeline.cache_ttl_secs must not be negative")
	}
	return nil
}

// DatabaseURL returns the PostgreSQL connection URL, or empty when
// persistence is disabled.
func (c *DatabaseConfig) DatabaseURL() string {
	if c.Host == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// RedisAddr returns the Redis address.
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// APIAddr returns the HTTP listen address.
func (c *APIConfig) APIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CacheTTL returns the market-data cache TTL as a duration.
func (c *PipelineConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSecs) * time.Second
}
