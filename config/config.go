// Package config loads service settings from defaults, an optional YAML file,
// a .env file and ADMISSION_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "ADMISSION"

// Config is the full service configuration
type Config struct {
	Server       ServerConfig  `mapstructure:"server"`
	Redis        RedisConfig   `mapstructure:"redis"`
	Limiter      LimiterConfig `mapstructure:"limiter"`
	Logging      LoggingConfig `mapstructure:"logging"`
	PoliciesFile string        `mapstructure:"policies_file"`
	UserSource   string        `mapstructure:"user_source"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RedisConfig struct {
	URL            string        `mapstructure:"url"`
	OpTimeout      time.Duration `mapstructure:"op_timeout"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
	Atomic         bool          `mapstructure:"atomic"`
}

type LimiterConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	FailClosed    bool          `mapstructure:"fail_closed"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.op_timeout", "500ms")
	v.SetDefault("redis.health_interval", "5s")
	v.SetDefault("redis.atomic", false)

	v.SetDefault("limiter.sweep_interval", "5m")
	v.SetDefault("limiter.fail_closed", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("policies_file", "")
	v.SetDefault("user_source", "header:X-User-ID")
}

// Load reads configuration into a Config. path may be empty.
func Load(v *viper.Viper, path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// REDIS_URL is honored for compatibility with common hosting setups
	_ = v.BindEnv("redis.url", EnvPrefix+"_REDIS_URL", "REDIS_URL")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks if the configuration is usable
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Redis.OpTimeout <= 0 {
		return errors.New("redis.op_timeout must be positive")
	}
	if c.Redis.HealthInterval <= 0 {
		return errors.New("redis.health_interval must be positive")
	}
	if c.Limiter.SweepInterval < 0 {
		return errors.New("limiter.sweep_interval cannot be negative")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// loadDotEnv loads .env from the working directory when present
func loadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	if err := godotenv.Load(); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}
