// Package config loads the service configuration from an optional JSON
// file, applying spec defaults and environment overrides for the bind
// address.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// MegabyteLength is the number of bytes in a megabyte.
const MegabyteLength = 1024 * 1024

// Config holds every tunable of the service. All keys are optional in
// the config file; zero values are filled with the defaults below.
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	KeyLength          int `mapstructure:"keyLength"`
	LifetimeMinutes    int `mapstructure:"lifetimeMinutes"`
	CacheExpiryMinutes int `mapstructure:"cacheExpiryMinutes"`
	CacheMaxSizeMb     int `mapstructure:"cacheMaxSizeMb"`
	MaxContentLengthMb int `mapstructure:"maxContentLengthMb"`
	CorePoolSize       int `mapstructure:"corePoolSize"`

	PostRateLimitPeriodMins int `mapstructure:"postRateLimitPeriodMins"`
	PostRateLimit           int `mapstructure:"postRateLimit"`
	ReadRateLimitPeriodMins int `mapstructure:"readRateLimitPeriodMins"`
	ReadRateLimit           int `mapstructure:"readRateLimit"`

	ContentPath string `mapstructure:"contentPath"`

	AccessLogPath       string `mapstructure:"accessLogPath"`
	AccessLogMaxSizeMb  int    `mapstructure:"accessLogMaxSizeMb"`
	AccessLogMaxBackups int    `mapstructure:"accessLogMaxBackups"`

	MetricsEnabled bool   `mapstructure:"metricsEnabled"`
	OTLPEndpoint   string `mapstructure:"otlpEndpoint"`
}

// Load reads the config file at path if it exists. A missing file just
// yields the defaults; a malformed one is an error. The `server.host`
// and `server.port` overrides are taken from the SERVER_HOST and
// SERVER_PORT environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	_ = v.BindEnv("host", "SERVER_HOST")
	_ = v.BindEnv("port", "SERVER_PORT")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 8080)
	v.SetDefault("keyLength", 7)
	v.SetDefault("lifetimeMinutes", 1440)
	v.SetDefault("cacheExpiryMinutes", 10)
	v.SetDefault("cacheMaxSizeMb", 200)
	v.SetDefault("maxContentLengthMb", 10)
	v.SetDefault("corePoolSize", 16)
	v.SetDefault("postRateLimitPeriodMins", 10)
	v.SetDefault("postRateLimit", 30)
	v.SetDefault("readRateLimitPeriodMins", 10)
	v.SetDefault("readRateLimit", 100)
	v.SetDefault("contentPath", "content")
	v.SetDefault("accessLogPath", "")
	v.SetDefault("accessLogMaxSizeMb", 100)
	v.SetDefault("accessLogMaxBackups", 10)
	v.SetDefault("metricsEnabled", true)
	v.SetDefault("otlpEndpoint", "")
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.KeyLength < 2 {
		return fmt.Errorf("keyLength must be at least 2, got %d", c.KeyLength)
	}
	if c.LifetimeMinutes <= 0 {
		return fmt.Errorf("lifetimeMinutes must be positive, got %d", c.LifetimeMinutes)
	}
	if c.CacheExpiryMinutes <= 0 {
		return fmt.Errorf("cacheExpiryMinutes must be positive, got %d", c.CacheExpiryMinutes)
	}
	if c.CacheMaxSizeMb <= 0 {
		return fmt.Errorf("cacheMaxSizeMb must be positive, got %d", c.CacheMaxSizeMb)
	}
	if c.MaxContentLengthMb <= 0 {
		return fmt.Errorf("maxContentLengthMb must be positive, got %d", c.MaxContentLengthMb)
	}
	if c.CorePoolSize <= 0 {
		return fmt.Errorf("corePoolSize must be positive, got %d", c.CorePoolSize)
	}
	if c.PostRateLimitPeriodMins <= 0 || c.ReadRateLimitPeriodMins <= 0 {
		return fmt.Errorf("rate limit periods must be positive")
	}
	if c.PostRateLimit <= 0 || c.ReadRateLimit <= 0 {
		return fmt.Errorf("rate limit capacities must be positive")
	}
	return nil
}

// Address returns the bind address in host:port form.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Lifetime returns the record TTL.
func (c *Config) Lifetime() time.Duration {
	return time.Duration(c.LifetimeMinutes) * time.Minute
}

// CacheExpiry returns the cache idle TTL, which doubles as the sweep
// interval.
func (c *Config) CacheExpiry() time.Duration {
	return time.Duration(c.CacheExpiryMinutes) * time.Minute
}

// CacheMaxWeight returns the cache weight bound in bytes.
func (c *Config) CacheMaxWeight() int64 {
	return int64(c.CacheMaxSizeMb) * MegabyteLength
}

// MaxContentLength returns the per-record stored-size limit in bytes.
func (c *Config) MaxContentLength() int64 {
	return int64(c.MaxContentLengthMb) * MegabyteLength
}

// PostRateLimitPeriod returns the POST rate-limit window.
func (c *Config) PostRateLimitPeriod() time.Duration {
	return time.Duration(c.PostRateLimitPeriodMins) * time.Minute
}

// ReadRateLimitPeriod returns the GET rate-limit window.
func (c *Config) ReadRateLimitPeriod() time.Duration {
	return time.Duration(c.ReadRateLimitPeriodMins) * time.Minute
}
