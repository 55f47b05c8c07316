package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full service configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"db"`
	Redis         RedisConfig         `mapstructure:"redis"`
	R2            R2Config            `mapstructure:"r2"`
	Log           LogConfig           `mapstructure:"log"`
	Workers       WorkersConfig       `mapstructure:"workers"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Auth          AuthConfig          `mapstructure:"auth"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	GatewayToken   string   `mapstructure:"gateway_token"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	BodyLimitMB    int      `mapstructure:"body_limit_mb"`
}

type DatabaseConfig struct {
	URL          string `mapstructure:"url"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// RedisConfig: empty Addr disables realtime fan-out
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// R2Config: empty AccountID disables reward icon uploads
type R2Config struct {
	AccountID       string `mapstructure:"account_id"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	Bucket          string `mapstructure:"bucket"`
	CDNBaseURL      string `mapstructure:"cdn_base_url"`
}

// AuthConfig: the auth service validates query-string tokens on the SSE stream, where browsers
// cannot send the gateway headers. Empty ServiceURL serves the stream behind the gateway instead.
type AuthConfig struct {
	ServiceURL   string        `mapstructure:"service_url"`
	ServiceToken string        `mapstructure:"service_token"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type WorkersConfig struct {
	Detached    int           `mapstructure:"detached"`
	QueueSize   int           `mapstructure:"queue_size"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

type NotificationsConfig struct {
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
	StreamInterval time.Duration `mapstructure:"stream_interval"`
}

// Load reads .env (if any), then the optional config file, then DESPERADO_* environment variables.
// Priority: env > file > defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("server.port", 5200)
	v.SetDefault("server.gateway_token", "")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.body_limit_mb", 10)

	v.SetDefault("db.url", "")
	v.SetDefault("db.max_open_conns", 25)
	v.SetDefault("db.max_idle_conns", 10)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("r2.account_id", "")
	v.SetDefault("r2.access_key_id", "")
	v.SetDefault("r2.access_key_secret", "")
	v.SetDefault("r2.bucket", "")
	v.SetDefault("r2.cdn_base_url", "")

	v.SetDefault("auth.service_url", "")
	v.SetDefault("auth.service_token", "")
	v.SetDefault("auth.timeout", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("workers.detached", 4)
	v.SetDefault("workers.queue_size", 256)
	v.SetDefault("workers.task_timeout", "15s")

	v.SetDefault("notifications.webhook_timeout", "10s")
	v.SetDefault("notifications.stream_interval", "2s")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("DESPERADO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings the service cannot start without
func (c *Config) Validate() error {
	if c.Server.GatewayToken == "" {
		return errors.New("config: server.gateway_token is required")
	}
	if c.Database.URL == "" {
		return errors.New("config: db.url is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Workers.Detached <= 0 {
		return fmt.Errorf("config: workers.detached must be positive, got %d", c.Workers.Detached)
	}
	return nil
}

// R2Enabled reports whether reward icon uploads are configured
func (c *Config) R2Enabled() bool {
	return c.R2.AccountID != "" && c.R2.Bucket != ""
}
