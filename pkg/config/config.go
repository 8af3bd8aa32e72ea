package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the full runtime configuration, loaded from an optional YAML file
// with DATACHAT_* environment overrides.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Provider ProviderConfig `mapstructure:"provider"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Store    StoreConfig    `mapstructure:"store"`
	LogLevel string         `mapstructure:"log_level"`
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type ProviderConfig struct {
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	DefaultModel string `mapstructure:"default_model"`
}

type ToolsConfig struct {
	// MCPEndpoint is the streamable HTTP endpoint of the tool server.
	MCPEndpoint string `mapstructure:"mcp_endpoint"`

	// AllowedSources is the data-source allow-list enforced by the gateway.
	AllowedSources []string `mapstructure:"allowed_sources"`
}

type RetryConfig struct {
	MaxRetries  int           `mapstructure:"max_retries"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	TurnTimeout time.Duration `mapstructure:"turn_timeout"`
	MaxTurns    int           `mapstructure:"max_turns"`
}

type StoreConfig struct {
	// RedisAddr selects the redis-backed document store; empty means the
	// in-process store.
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Retention     time.Duration `mapstructure:"retention"`
}

// setDefaults registers every key; AutomaticEnv only overrides keys viper
// already knows about, so even the empty ones are listed.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.request_timeout", 5*time.Minute)
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.default_model", "gpt-4o")
	v.SetDefault("tools.mcp_endpoint", "")
	v.SetDefault("tools.allowed_sources", []string{})
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay", 500*time.Millisecond)
	v.SetDefault("retry.turn_timeout", time.Duration(0))
	v.SetDefault("retry.max_turns", 12)
	v.SetDefault("store.redis_addr", "")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.retention", 30*24*time.Hour)
	v.SetDefault("log_level", "info")
}

// Load reads configuration from path (optional, empty skips the file) plus
// environment variables with the DATACHAT_ prefix, nested keys joined with
// underscores (server.addr becomes DATACHAT_SERVER_ADDR).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DATACHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Provider.APIKey == "" {
		return errors.New("provider.api_key is required (DATACHAT_PROVIDER_API_KEY)")
	}
	if c.Retry.MaxRetries < 0 {
		return errors.New("retry.max_retries must not be negative")
	}
	if c.Retry.MaxTurns < 1 {
		return errors.New("retry.max_turns must be at least 1")
	}
	return nil
}
