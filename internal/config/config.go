// Package config provides configuration management for the deployer.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the deployer.
type Config struct {
	Network      NetworkConfig      `mapstructure:"network"`
	Signer       SignerConfig       `mapstructure:"signer"`
	Artifacts    ArtifactsConfig    `mapstructure:"artifacts"`
	Token        TokenConfig        `mapstructure:"token"`
	Governance   GovernanceConfig   `mapstructure:"governance"`
	Registry     RegistryConfig     `mapstructure:"registry"`
	Poller       PollerConfig       `mapstructure:"poller"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Log          LogConfig          `mapstructure:"log"`
}

// NetworkConfig selects the chain. Name picks a preset whose values apply
// unless overridden.
type NetworkConfig struct {
	Name                 string `mapstructure:"name" validate:"required"`
	RPCURL               string `mapstructure:"rpc_url" validate:"required,url"`
	ChainID              int64  `mapstructure:"chain_id" validate:"gt=0"`
	GasPrice             string `mapstructure:"gas_price" validate:"omitempty,numeric"` // wei; empty uses eth_gasPrice
	GasPriceBoostPercent int64  `mapstructure:"gas_price_boost_percent" validate:"gte=0,lte=500"`
	FallbackGasLimit     uint64 `mapstructure:"fallback_gas_limit" validate:"gt=0"`
}

// GasPriceWei returns the pinned gas price, or nil to use the node's suggestion.
func (c NetworkConfig) GasPriceWei() *big.Int {
	if c.GasPrice == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(c.GasPrice, 10)
	if !ok {
		return nil
	}
	return v
}

// SignerConfig selects the deployer key. It is only required by commands
// that send transactions, see Validate.
type SignerConfig struct {
	PrivateKey       string `mapstructure:"private_key"`
	KeystorePath     string `mapstructure:"keystore_path"`
	KeystorePassword string `mapstructure:"keystore_password"`
}

// Validate checks that exactly one key source is configured.
func (c SignerConfig) Validate() error {
	switch {
	case c.PrivateKey == "" && c.KeystorePath == "":
		return errors.New("invalid config: one of signer.private_key or signer.keystore_path is required")
	case c.PrivateKey != "" && c.KeystorePath != "":
		return errors.New("invalid config: signer.private_key and signer.keystore_path are mutually exclusive")
	}
	return nil
}

// ArtifactsConfig locates compiled contract artifacts. Bundle, when set, is a
// .tar.zst archive extracted before loading.
type ArtifactsConfig struct {
	Dir    string `mapstructure:"dir" validate:"required_without=Bundle"`
	Bundle string `mapstructure:"bundle"`
}

// TokenConfig holds the DAO token constructor arguments. Supply is in whole tokens.
type TokenConfig struct {
	Name     string `mapstructure:"name" validate:"required"`
	Symbol   string `mapstructure:"symbol" validate:"required"`
	Decimals uint8  `mapstructure:"decimals" validate:"lte=36"`
	Supply   string `mapstructure:"supply" validate:"required,numeric"`
}

// SupplyInt returns Supply as an integer.
func (c TokenConfig) SupplyInt() *big.Int {
	v, ok := new(big.Int).SetString(c.Supply, 10)
	if !ok {
		return nil
	}
	return v
}

// GovernanceConfig holds the governance constructor arguments. An empty
// DepositToken uses the registry network's deposit token.
type GovernanceConfig struct {
	DepositToken string `mapstructure:"deposit_token" validate:"omitempty,eth_addr"`
}

// RegistryConfig locates the pool registry. An empty Path uses the
// built-in registry; an empty Network uses network.name.
type RegistryConfig struct {
	Path    string `mapstructure:"path"`
	Network string `mapstructure:"network"`
}

// PollerConfig bounds the registration confirmation loops.
type PollerConfig struct {
	Interval      time.Duration `mapstructure:"interval" validate:"gt=0"`
	MaxAttempts   int           `mapstructure:"max_attempts" validate:"gte=0"` // 0 polls until cancelled
	MaxReadErrors int           `mapstructure:"max_read_errors" validate:"gt=0"`
}

// OrchestratorConfig controls run behaviour.
type OrchestratorConfig struct {
	AwaitRegistrations bool          `mapstructure:"await_registrations"`
	StaleTimeout       time.Duration `mapstructure:"stale_timeout" validate:"gt=0"`
}

// DatabaseConfig holds PostgreSQL configuration. When disabled, runs are kept
// in memory and cannot be resumed after exit.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host" validate:"required_if=Enabled true"`
	Port            int           `mapstructure:"port" validate:"gte=0,lt=65536"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database" validate:"required_if=Enabled true"`
	SSLMode         string        `mapstructure:"ssl_mode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the connection URL used by migrations.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// RedisConfig configures the deploy lock. When disabled no lock is taken.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl" validate:"required_if=Enabled true"`
}

// Addr returns the Redis address in host:port format.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MetricsConfig configures the HTTP listener for /metrics and run status.
// An empty Listen disables it.
type MetricsConfig struct {
	Listen string `mapstructure:"listen" validate:"omitempty,hostname_port"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file values. The optional path
// names a config file; otherwise config.yaml is searched for.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/dao-deployer")
	}

	v.SetEnvPrefix("HASHSTRAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Names used by the Hardhat project's .env.
	v.BindEnv("signer.private_key", "HASHSTRAT_SIGNER_PRIVATE_KEY", "OWNER_PRIVATE_KEY")
	v.BindEnv("signer.keystore_password", "HASHSTRAT_SIGNER_KEYSTORE_PASSWORD")
	v.BindEnv("database.password", "HASHSTRAT_DATABASE_PASSWORD")
	v.BindEnv("redis.password", "HASHSTRAT_REDIS_PASSWORD")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	applyPreset(v, v.GetString("network.name"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and cross-field rules. Signer settings are
// checked separately by SignerConfig.Validate.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Network.GasPrice != "" && c.Network.GasPriceWei() == nil {
		return fmt.Errorf("invalid config: network.gas_price %q is not an integer", c.Network.GasPrice)
	}
	if s := c.Token.SupplyInt(); s == nil || s.Sign() <= 0 {
		return fmt.Errorf("invalid config: token.supply must be a positive integer")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("network.name", "hardhat")
	v.SetDefault("network.rpc_url", "")
	v.SetDefault("network.chain_id", 0)
	v.SetDefault("network.gas_price", "")
	v.SetDefault("network.gas_price_boost_percent", 0)
	v.SetDefault("network.fallback_gas_limit", 10_000_000)

	v.SetDefault("signer.keystore_path", "")

	v.SetDefault("artifacts.dir", "./artifacts")
	v.SetDefault("artifacts.bundle", "")

	v.SetDefault("token.name", "HashStrat DAO Token")
	v.SetDefault("token.symbol", "HST")
	v.SetDefault("token.decimals", 18)
	v.SetDefault("token.supply", "1000000")

	v.SetDefault("governance.deposit_token", "")

	v.SetDefault("registry.path", "")
	v.SetDefault("registry.network", "")

	v.SetDefault("poller.interval", "5s")
	v.SetDefault("poller.max_attempts", 120)
	v.SetDefault("poller.max_read_errors", 3)

	v.SetDefault("orchestrator.await_registrations", true)
	v.SetDefault("orchestrator.stale_timeout", "30m")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "hashstrat")
	v.SetDefault("database.password", "hashstrat")
	v.SetDefault("database.database", "hashstrat_deployer")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", "2h")

	v.SetDefault("metrics.listen", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}
