package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Token store backends.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// EnvPrefix prefixes every environment override, e.g. PALPALETTE_API_URL.
const EnvPrefix = "PALPALETTE"

type Config struct {
	APIURL     string `mapstructure:"api_url"`     // Backend base URL (default: http://localhost:3000)
	UserAgent  string `mapstructure:"user_agent"`  // Optional: User-Agent header
	DeviceName string `mapstructure:"device_name"` // Optional: sent on login (default: hostname)
	Env        string `mapstructure:"env"`         // Environment (dev, prod) (default: prod)
	LogLevel   string `mapstructure:"log_level"`   // debug, info, warn, error (default: warn)
	LogFormat  string `mapstructure:"log_format"`  // json, text (default: text)

	TokenStore   string `mapstructure:"token_store"`    // memory, file, sqlite, redis (default: file)
	TokenFile    string `mapstructure:"token_file"`     // file backend path (default: ~/.palpalette/session.yaml)
	TokenDB      string `mapstructure:"token_db"`       // sqlite backend path (default: ~/.palpalette/session.db)
	RedisAddr    string `mapstructure:"redis_addr"`     // redis backend address (default: localhost:6379)
	RedisPrefix  string `mapstructure:"redis_prefix"`   // redis key prefix
	TokenSealKey string `mapstructure:"token_seal_key"` // Optional: seals stored values at rest when set

	RefreshTimeout time.Duration `mapstructure:"refresh_timeout"` // default: 10s
	HTTPTimeout    time.Duration `mapstructure:"http_timeout"`    // default: 15s

	PollInterval       time.Duration `mapstructure:"poll_interval"`       // default: 3s
	FastPollInterval   time.Duration `mapstructure:"fast_poll_interval"`  // default: 1s
	StaleGrace         time.Duration `mapstructure:"stale_grace"`         // default: 5s
	SuppressionTimeout time.Duration `mapstructure:"suppression_timeout"` // default: 10s
	SuccessDelay       time.Duration `mapstructure:"success_delay"`       // default: 2s
	FailureDelay       time.Duration `mapstructure:"failure_delay"`       // default: 3s

	ValidationInterval time.Duration `mapstructure:"validation_interval"`  // default: 5m
	ManualRefreshRate  float64       `mapstructure:"manual_refresh_rate"`  // on-demand status refreshes per second (default: 1)
	ManualRefreshBurst int           `mapstructure:"manual_refresh_burst"` // default: 1
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_url", "http://localhost:3000")
	v.SetDefault("user_agent", "palpalette-cli/"+BuildVersion)
	v.SetDefault("device_name", defaultDeviceName())
	v.SetDefault("env", "prod")
	v.SetDefault("log_level", "warn")
	v.SetDefault("log_format", "text")

	v.SetDefault("token_store", StoreFile)
	v.SetDefault("token_file", "")
	v.SetDefault("token_db", "")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_prefix", "palpalette:session:")
	v.SetDefault("token_seal_key", "")

	v.SetDefault("refresh_timeout", 10*time.Second)
	v.SetDefault("http_timeout", 15*time.Second)

	v.SetDefault("poll_interval", 3*time.Second)
	v.SetDefault("fast_poll_interval", time.Second)
	v.SetDefault("stale_grace", 5*time.Second)
	v.SetDefault("suppression_timeout", 10*time.Second)
	v.SetDefault("success_delay", 2*time.Second)
	v.SetDefault("failure_delay", 3*time.Second)

	v.SetDefault("validation_interval", 5*time.Minute)
	v.SetDefault("manual_refresh_rate", 1.0)
	v.SetDefault("manual_refresh_burst", 1)
}

// LoadConfig reads defaults, then the YAML file at path, then PALPALETTE_*
// environment variables. An empty path means ~/.palpalette/config.yaml; a
// missing default file is not an error.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	explicit := path != ""
	if !explicit {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".palpalette", "config.yaml")
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if explicit || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	switch c.TokenStore {
	case StoreMemory, StoreFile, StoreSQLite, StoreRedis:
	default:
		return fmt.Errorf("unknown token_store %q", c.TokenStore)
	}
	if strings.TrimSpace(c.APIURL) == "" {
		return errors.New("api_url is required")
	}
	if c.ManualRefreshRate < 0 {
		return errors.New("manual_refresh_rate must not be negative")
	}
	return nil
}

func defaultDeviceName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "palpalette-cli"
}
