// Package config loads runtime configuration from the environment (with an
// optional .env file) and the per-network parameter table.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/R3E-Network/raffle_layer/pkg/units"
)

// Default identities used when none are configured.
var (
	DefaultRaffleAddress      = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	DefaultCoordinatorAddress = common.HexToAddress("0x00000000000000000000000000000000000c0de")
)

// environment mirrors the process environment.
type environment struct {
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=text"`

	ChainID      int64  `env:"RAFFLE_CHAIN_ID,default=31337"`
	NetworksFile string `env:"RAFFLE_NETWORKS_FILE,default=config/networks.yaml"`
	EntryFee     string `env:"RAFFLE_ENTRY_FEE"`
	Interval     string `env:"RAFFLE_INTERVAL"`
	Address      string `env:"RAFFLE_ADDRESS"`

	KeeperSchedule        string        `env:"KEEPER_SCHEDULE,default=@every 5s"`
	KeeperRetryBackoff    time.Duration `env:"KEEPER_RETRY_BACKOFF,default=5s"`
	KeeperRetryMaxBackoff time.Duration `env:"KEEPER_RETRY_MAX_BACKOFF,default=5m"`

	VRFPrivateKey       string        `env:"VRF_PRIVATE_KEY"`
	VRFAddress          string        `env:"VRF_ADDRESS"`
	VRFBlockTime        time.Duration `env:"VRF_BLOCK_TIME,default=1s"`
	VRFBaseFee          string        `env:"VRF_BASE_FEE,default=0.25"`
	VRFGasPrice         string        `env:"VRF_GAS_PRICE,default=0.000000001"`
	VRFSubscriptionFund string        `env:"VRF_SUBSCRIPTION_FUND,default=100"`

	HTTPAddr      string  `env:"HTTP_ADDR,default=:8080"`
	HTTPRateLimit float64 `env:"HTTP_RATE_LIMIT,default=10"`
	HTTPRateBurst int     `env:"HTTP_RATE_BURST,default=20"`

	DatabaseURL  string `env:"DATABASE_URL"`
	RedisAddr    string `env:"REDIS_ADDR"`
	RedisChannel string `env:"REDIS_CHANNEL,default=raffle:events"`
}

// LogConfig selects log level and format.
type LogConfig struct {
	Level  string
	Format string
}

// RaffleConfig holds the engine parameters after network defaults are applied.
type RaffleConfig struct {
	EntryFee *uint256.Int
	Interval time.Duration
	Address  common.Address
}

// KeeperConfig holds the upkeep schedule and payout retry spacing.
type KeeperConfig struct {
	Schedule        string
	RetryBackoff    time.Duration
	RetryMaxBackoff time.Duration
}

// VRFConfig holds the in-process randomness coordinator settings.
type VRFConfig struct {
	PrivateKey       string
	Address          common.Address
	BlockTime        time.Duration
	BaseFee          *uint256.Int
	GasPrice         *uint256.Int
	SubscriptionFund *uint256.Int
}

// HTTPConfig holds the operator endpoint settings.
type HTTPConfig struct {
	Addr      string
	RateLimit float64
	RateBurst int
}

// RedisConfig holds the notification fan-out settings.
type RedisConfig struct {
	Addr    string
	Channel string
}

// Config is the fully resolved runtime configuration.
type Config struct {
	Log         LogConfig
	Network     Network
	Raffle      RaffleConfig
	Keeper      KeeperConfig
	VRF         VRFConfig
	HTTP        HTTPConfig
	DatabaseURL string
	Redis       RedisConfig
}

// Load reads .env (if present) and the environment, then resolves the active
// network from the networks table.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	var env environment
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return resolve(env)
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func resolve(env environment) (*Config, error) {
	table, err := LoadNetworksOrDefault(env.NetworksFile)
	if err != nil {
		return nil, err
	}
	network, ok := table.Lookup(env.ChainID)
	if !ok {
		return nil, fmt.Errorf("%w: chain id %d", ErrUnknownNetwork, env.ChainID)
	}

	cfg := &Config{
		Log:         LogConfig{Level: env.LogLevel, Format: env.LogFormat},
		Network:     network,
		Keeper: KeeperConfig{
			Schedule:        env.KeeperSchedule,
			RetryBackoff:    env.KeeperRetryBackoff,
			RetryMaxBackoff: env.KeeperRetryMaxBackoff,
		},
		HTTP:        HTTPConfig{Addr: env.HTTPAddr, RateLimit: env.HTTPRateLimit, RateBurst: env.HTTPRateBurst},
		DatabaseURL: strings.TrimSpace(env.DatabaseURL),
		Redis:       RedisConfig{Addr: strings.TrimSpace(env.RedisAddr), Channel: env.RedisChannel},
	}

	feeText := firstNonEmpty(env.EntryFee, network.EntranceFee)
	if cfg.Raffle.EntryFee, err = units.ParseAmount(feeText); err != nil {
		return nil, fmt.Errorf("entry fee: %w", err)
	}
	cfg.Raffle.Interval = network.IntervalDuration()
	if env.Interval != "" {
		if cfg.Raffle.Interval, err = parseInterval(env.Interval); err != nil {
			return nil, fmt.Errorf("RAFFLE_INTERVAL: %w", err)
		}
	}
	if cfg.Raffle.Address, err = parseAddress(env.Address, DefaultRaffleAddress); err != nil {
		return nil, fmt.Errorf("RAFFLE_ADDRESS: %w", err)
	}

	cfg.VRF.PrivateKey = strings.TrimPrefix(strings.TrimSpace(env.VRFPrivateKey), "0x")
	cfg.VRF.BlockTime = env.VRFBlockTime
	if cfg.VRF.Address, err = parseAddress(env.VRFAddress, DefaultCoordinatorAddress); err != nil {
		return nil, fmt.Errorf("VRF_ADDRESS: %w", err)
	}
	for _, f := range []struct {
		name string
		text string
		dst  **uint256.Int
	}{
		{"VRF_BASE_FEE", env.VRFBaseFee, &cfg.VRF.BaseFee},
		{"VRF_GAS_PRICE", env.VRFGasPrice, &cfg.VRF.GasPrice},
		{"VRF_SUBSCRIPTION_FUND", env.VRFSubscriptionFund, &cfg.VRF.SubscriptionFund},
	} {
		v, err := units.ParseAmount(f.text)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}

	return cfg, nil
}

// parseInterval accepts Go durations ("30s") and bare seconds ("30").
func parseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	d, err := time.ParseDuration(s + "s")
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	return d, nil
}

func parseAddress(s string, fallback common.Address) (common.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
