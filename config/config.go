// Package config loads hush settings from the environment.
//
// Address-shaped values are validated when an action asks for them, so a
// missing adapter address breaks supply but not the console.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggoodman/hush/envelope"
	"github.com/ggoodman/hush/errs"
	"github.com/ggoodman/hush/fees"
	"github.com/ggoodman/hush/internal/units"
	"github.com/ggoodman/hush/orchestrator"
	"github.com/ggoodman/hush/storage"
	"github.com/ggoodman/hush/storage/leveldb"
	"github.com/ggoodman/hush/storage/memory"
	redisstore "github.com/ggoodman/hush/storage/redis"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// DefaultFeeBufferMin is the fee floor in supply-token units.
const DefaultFeeBufferMin = "0.002"

type Config struct {
	// RPCURL is the chain JSON-RPC endpoint. ENV: HUSH_RPC_URL
	RPCURL string `env:"HUSH_RPC_URL,default=https://arb1.arbitrum.io/rpc"`
	// EngineURL is the privacy engine sidecar. ENV: HUSH_ENGINE_URL
	EngineURL string `env:"HUSH_ENGINE_URL,default=http://127.0.0.1:8645"`
	ChainID   uint64 `env:"HUSH_CHAIN_ID,default=42161"`

	AdapterAddress     string `env:"HUSH_ADAPTER"`
	ExecutorAddress    string `env:"HUSH_EXECUTOR"`
	SupplyTokenAddress string `env:"HUSH_SUPPLY_TOKEN"`
	BorrowTokenAddress string `env:"HUSH_BORROW_TOKEN"`

	TokenDecimals       int `env:"HUSH_TOKEN_DECIMALS,default=6"`
	BorrowTokenDecimals int `env:"HUSH_BORROW_TOKEN_DECIMALS,default=18"`

	// Fee buffer values are kept raw: invalid ones fall back to defaults.
	FeeBufferBps string `env:"HUSH_FEE_BUFFER_BPS"`
	FeeBufferMin string `env:"HUSH_FEE_BUFFER_MIN"`
	FeePolicy    string `env:"HUSH_FEE_POLICY,default=fail-open"`
	Debug        string `env:"HUSH_DEBUG"`

	// Store selects the session backend: leveldb, memory or redis.
	Store     string `env:"HUSH_STORE,default=leveldb"`
	DataDir   string `env:"HUSH_DATA_DIR"`
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	Cipher    string `env:"HUSH_CIPHER,default=aes-gcm"`

	WalletKey     string `env:"HUSH_WALLET_KEY"`
	OverridesFile string `env:"HUSH_OVERRIDES_FILE"`
}

var _ orchestrator.Addresses = (*Config)(nil)

// Load reads the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func address(key, value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return common.Address{}, &errs.ConfigurationError{Key: key}
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, &errs.ConfigurationError{Key: key, Value: value, Reason: "not a hex address"}
	}
	a := common.HexToAddress(value)
	if a == (common.Address{}) {
		return common.Address{}, &errs.ConfigurationError{Key: key, Value: value, Reason: "zero address"}
	}
	return a, nil
}

func (c *Config) Adapter() (common.Address, error) {
	return address("HUSH_ADAPTER", c.AdapterAddress)
}

func (c *Config) Executor() (common.Address, error) {
	return address("HUSH_EXECUTOR", c.ExecutorAddress)
}

func (c *Config) SupplyToken() (common.Address, error) {
	return address("HUSH_SUPPLY_TOKEN", c.SupplyTokenAddress)
}

func (c *Config) BorrowToken() (common.Address, error) {
	return address("HUSH_BORROW_TOKEN", c.BorrowTokenAddress)
}

func decimals(key string, v int) (uint8, error) {
	if v < 0 || v > 77 {
		return 0, &errs.ConfigurationError{Key: key, Value: strconv.Itoa(v), Reason: "decimals must be between 0 and 77"}
	}
	return uint8(v), nil
}

// Decimals returns the token decimals.
func (c *Config) Decimals() (orchestrator.Decimals, error) {
	s, err := decimals("HUSH_TOKEN_DECIMALS", c.TokenDecimals)
	if err != nil {
		return orchestrator.Decimals{}, err
	}
	b, err := decimals("HUSH_BORROW_TOKEN_DECIMALS", c.BorrowTokenDecimals)
	if err != nil {
		return orchestrator.Decimals{}, err
	}
	return orchestrator.Decimals{Supply: s, Borrow: b}, nil
}

// FeeCalculator builds the reserve calculator. Invalid buffer settings fall
// back to their defaults.
func (c *Config) FeeCalculator(log *slog.Logger) fees.Calculator {
	if log == nil {
		log = slog.Default()
	}
	calc := fees.Default()

	if raw := strings.TrimSpace(c.FeeBufferBps); raw != "" {
		bps, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || bps > fees.BpsDenominator {
			log.Debug("config.fee_buffer_bps.invalid", slog.String("value", raw), slog.Uint64("default", calc.RateBps))
		} else {
			calc.RateBps = bps
		}
	}

	dec := uint8(6)
	if d, err := decimals("HUSH_TOKEN_DECIMALS", c.TokenDecimals); err == nil {
		dec = d
	}
	floor, err := units.Parse(DefaultFeeBufferMin, dec)
	if err != nil {
		floor = big.NewInt(fees.DefaultFloor)
	}
	if raw := strings.TrimSpace(c.FeeBufferMin); raw != "" {
		v, err := units.Parse(raw, dec)
		if err != nil {
			log.Debug("config.fee_buffer_min.invalid", slog.String("value", raw), slog.String("default", DefaultFeeBufferMin))
		} else {
			floor = v
		}
	}
	calc.Floor = floor
	return calc
}

// Policy returns the fee-quote policy.
func (c *Config) Policy() (fees.Policy, error) {
	p, err := fees.ParsePolicy(strings.ToLower(strings.TrimSpace(c.FeePolicy)))
	if err != nil {
		return p, &errs.ConfigurationError{Key: "HUSH_FEE_POLICY", Value: c.FeePolicy, Reason: "expected fail-open or fail-closed"}
	}
	return p, nil
}

// Truthy reports whether v is one of 1, true, yes or on.
func Truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// DebugEnabled reports the HUSH_DEBUG toggle.
func (c *Config) DebugEnabled() bool { return Truthy(c.Debug) }

// Level is the log level implied by the debug toggle.
func (c *Config) Level() slog.Level {
	if c.DebugEnabled() {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// SessionCipher returns the configured envelope cipher.
func (c *Config) SessionCipher() (envelope.Cipher, error) {
	return envelope.ByName(c.Cipher)
}

// Dir returns the data directory, defaulting to hush under the user config
// directory.
func (c *Config) Dir() (string, error) {
	if c.DataDir != "" {
		return c.DataDir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve data dir: %w", err)
	}
	return filepath.Join(base, "hush"), nil
}

// OpenStorage opens the configured session backend.
func (c *Config) OpenStorage(ctx context.Context) (storage.Storage, error) {
	switch strings.ToLower(c.Store) {
	case "memory":
		return memory.New(memory.DefaultMaxItems)
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return redisstore.New(redisstore.Config{Client: client})
	case "", "leveldb":
		dir, err := c.Dir()
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return leveldb.Open(filepath.Join(dir, "sessions"))
	default:
		return nil, &errs.ConfigurationError{Key: "HUSH_STORE", Value: c.Store, Reason: "expected leveldb, memory or redis"}
	}
}
