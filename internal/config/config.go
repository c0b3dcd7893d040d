// Package config provides configuration loading for the ProtocolX runner.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. PROTOCOLX_PRIVATE_KEY.
const EnvPrefix = "PROTOCOLX"

// Config holds all configuration for the runner.
type Config struct {
	PrivateKey   string        `mapstructure:"private_key" validate:"required"`
	ArtifactsDir string        `mapstructure:"artifacts_dir" validate:"required"`
	Chains       []ChainConfig `mapstructure:"chains" validate:"required,min=1,dive"`

	Execute ExecuteConfig `mapstructure:"execute"`
	Fees    FeesConfig    `mapstructure:"fees"`
	Store   StoreConfig   `mapstructure:"store"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ChainConfig describes one network and its pre-deployed Axelar contracts.
type ChainConfig struct {
	Name                 string `mapstructure:"name" validate:"required"`
	ChainID              int64  `mapstructure:"chain_id" validate:"gte=0"` // 0 asks the RPC endpoint
	RPC                  string `mapstructure:"rpc" validate:"required,url"`
	Gateway              string `mapstructure:"gateway" validate:"required,eth_addr"`
	GasService           string `mapstructure:"gas_service" validate:"required,eth_addr"`
	ConstAddressDeployer string `mapstructure:"const_address_deployer" validate:"required,eth_addr"`
	TokenSymbol          string `mapstructure:"token_symbol" validate:"required"`
}

// ExecuteConfig tunes the execute flow.
type ExecuteConfig struct {
	TokenSupply    int64         `mapstructure:"token_supply" validate:"gt=0"`
	WalletCount    int           `mapstructure:"wallet_count" validate:"gte=2"`
	SettleTimeout  time.Duration `mapstructure:"settle_timeout" validate:"gt=0"`
	PollInterval   time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	ReceiptTimeout time.Duration `mapstructure:"receipt_timeout" validate:"gte=0"`
}

// FeesConfig selects how bridge fees are quoted.
type FeesConfig struct {
	Mode          string        `mapstructure:"mode" validate:"oneof=fixed axelarscan"`
	FixedWei      string        `mapstructure:"fixed_wei" validate:"omitempty,numeric"`
	AxelarscanURL string        `mapstructure:"axelarscan_url" validate:"omitempty,url"`
	GasLimit      uint64        `mapstructure:"gas_limit" validate:"gt=0"`
	GasMultiplier float64       `mapstructure:"gas_multiplier" validate:"gt=0"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
}

// FixedFee returns FixedWei as an amount.
func (c FeesConfig) FixedFee() (*big.Int, error) {
	if c.FixedWei == "" {
		return big.NewInt(0), nil
	}
	fee, ok := new(big.Int).SetString(c.FixedWei, 10)
	if !ok || fee.Sign() < 0 {
		return nil, fmt.Errorf("invalid fixed fee %q", c.FixedWei)
	}
	return fee, nil
}

// StoreConfig selects where deployments are persisted.
type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=file postgres"`
	Path   string `mapstructure:"path" validate:"required_if=Driver file"`
	// DSN must be a postgres:// URL; the migration runner rejects keyword form.
	DSN string `mapstructure:"dsn" validate:"required_if=Driver postgres"`
}

// RedisConfig holds the fee quote cache connection.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// MetricsConfig holds metrics output settings.
type MetricsConfig struct {
	TextfilePath string `mapstructure:"textfile_path"`
}

// Load reads configuration from path (or the default search paths when
// path is empty), environment variables and defaults, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("protocolx")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.protocolx")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Secrets are usually supplied through the environment only.
	_ = v.BindEnv("private_key", EnvPrefix+"_PRIVATE_KEY")
	_ = v.BindEnv("store.dsn", EnvPrefix+"_STORE_DSN")
	_ = v.BindEnv("redis.password", EnvPrefix+"_REDIS_PASSWORD")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
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

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	seen := make(map[string]bool, len(c.Chains))
	for _, chain := range c.Chains {
		key := strings.ToLower(chain.Name)
		if seen[key] {
			return fmt.Errorf("invalid config: duplicate chain %q", chain.Name)
		}
		seen[key] = true
	}

	if _, err := c.Fees.FixedFee(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Store.Driver == "postgres" {
		u, err := url.Parse(c.Store.DSN)
		if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			return fmt.Errorf("invalid config: store.dsn must be a postgres:// URL")
		}
	}
	return nil
}

// Chain returns the chain named name, ignoring case.
func (c *Config) Chain(name string) (ChainConfig, bool) {
	for _, chain := range c.Chains {
		if strings.EqualFold(chain.Name, name) {
			return chain, true
		}
	}
	return ChainConfig{}, false
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	v.SetDefault("private_key", "")
	v.SetDefault("artifacts_dir", "./artifacts")

	// Execute defaults
	v.SetDefault("execute.token_supply", 123456790)
	v.SetDefault("execute.wallet_count", 5)
	v.SetDefault("execute.settle_timeout", "5m")
	v.SetDefault("execute.poll_interval", "2s")
	v.SetDefault("execute.receipt_timeout", "2m")

	// Fee defaults
	v.SetDefault("fees.mode", "axelarscan")
	v.SetDefault("fees.fixed_wei", "")
	v.SetDefault("fees.axelarscan_url", "https://testnet.api.axelarscan.io")
	v.SetDefault("fees.gas_limit", 700000)
	v.SetDefault("fees.gas_multiplier", 1.1)
	v.SetDefault("fees.cache_ttl", "30s")

	// Store defaults
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.path", "./deployments.yaml")
	v.SetDefault("store.dsn", "")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Logging defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("metrics.textfile_path", "")
}
