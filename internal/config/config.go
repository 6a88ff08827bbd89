package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Helius  HeliusConfig  `mapstructure:"helius"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Storage StorageConfig `mapstructure:"storage"`
	Limits  LimitsConfig  `mapstructure:"limits"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type HeliusConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	RPCURL  string `mapstructure:"rpc_url"`
}

type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
	UseTLS    bool   `mapstructure:"use_tls"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

type LimitsConfig struct {
	MaxConcurrentRequests int64         `mapstructure:"max_concurrent_requests"`
	RequestsPerSec        float64       `mapstructure:"requests_per_sec"`
	MaxSignatures         int           `mapstructure:"max_signatures"`
	ParallelBatches       int           `mapstructure:"parallel_batches"`
	Lookback              time.Duration `mapstructure:"lookback"`
}

type NotifyConfig struct {
	WebSocketURL string `mapstructure:"websocket_url"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// Load reads configuration from an optional config file plus environment
// variables prefixed WALLETPULSE_. A .env file is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("walletpulse")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.walletpulse")

	v.SetEnvPrefix("WALLETPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if cfg.Helius.APIKey == "" {
		return nil, fmt.Errorf("helius api key is required (WALLETPULSE_HELIUS_API_KEY)")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("helius.base_url", "https://api.helius.xyz")
	v.SetDefault("helius.rpc_url", "https://mainnet.helius-rpc.com")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.key_prefix", "walletpulse:")

	v.SetDefault("storage.path", "walletpulse.db")

	v.SetDefault("limits.max_concurrent_requests", 10)
	v.SetDefault("limits.requests_per_sec", 10.0)
	v.SetDefault("limits.max_signatures", 5000)
	v.SetDefault("limits.parallel_batches", 5)
	v.SetDefault("limits.lookback", 365*24*time.Hour)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}
