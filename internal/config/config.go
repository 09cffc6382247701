package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Signing   SigningConfig   `mapstructure:"signing"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type StorageConfig struct {
	Driver string       `mapstructure:"driver"` // "memory" or "sqlite"
	SQLite SQLiteConfig `mapstructure:"sqlite"`
	// HistoryLimit caps the per-endpoint delivery attempt ring.
	HistoryLimit int `mapstructure:"history_limit"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig points the rate limiter at its shared counter store. An
// empty URL runs the limiter in local-only mode.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type RateLimitConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Requests  int           `mapstructure:"requests"`
	Window    time.Duration `mapstructure:"window"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

type DeliveryConfig struct {
	Workers       int             `mapstructure:"workers"`
	PollRate      time.Duration   `mapstructure:"poll_rate"`
	Timeout       time.Duration   `mapstructure:"timeout"`
	MaxRetries    int             `mapstructure:"max_retries"`
	RetrySchedule []time.Duration `mapstructure:"retry_schedule"`
}

type SigningConfig struct {
	Algorithm string        `mapstructure:"algorithm"` // "sha256" or "sha512"
	Tolerance time.Duration `mapstructure:"tolerance"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("hookline")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/hookline")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("HOOKLINE")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.sqlite.path", "./data/hookline.db")
	viper.SetDefault("storage.history_limit", 1000)

	viper.SetDefault("redis.url", "")

	viper.SetDefault("ratelimit.enabled", true)
	viper.SetDefault("ratelimit.requests", 100)
	viper.SetDefault("ratelimit.window", time.Minute)
	viper.SetDefault("ratelimit.key_prefix", "hookline:ratelimit")

	viper.SetDefault("delivery.workers", 50)
	viper.SetDefault("delivery.poll_rate", time.Second)
	viper.SetDefault("delivery.timeout", 10*time.Second)
	viper.SetDefault("delivery.max_retries", 3)
	viper.SetDefault("delivery.retry_schedule", []time.Duration{
		5 * time.Second,
		30 * time.Second,
		5 * time.Minute,
		1 * time.Hour,
	})

	viper.SetDefault("signing.algorithm", "sha256")
	viper.SetDefault("signing.tolerance", 5*time.Minute)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}
