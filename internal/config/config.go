// Package config loads service settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/xtrntr/settlement/internal/auth"
	"github.com/xtrntr/settlement/internal/exchange"
	"github.com/xtrntr/settlement/internal/models"
	"github.com/xtrntr/settlement/internal/order"
	"github.com/xtrntr/settlement/internal/token"
)

type Config struct {
	Env      string
	LogLevel string
	HTTPAddr string

	// DatabaseURL selects the Postgres store; empty runs in memory.
	DatabaseURL string
	// RedisAddr selects the Redis challenge cache; empty runs in memory.
	RedisAddr    string
	KafkaBrokers []string
	KafkaTopic   string

	JWTSecret string
	Admins    []common.Address
	Operators []auth.Operator

	Domain        order.Domain
	Recipients    models.FeeRecipients
	MakerFeeBps   uint64
	TakerFeeBps   uint64
	DailyLimit    *big.Int
	Tokens        []token.Token
	BlockInterval time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("KAFKA_TOPIC", "settlement-events")
	v.SetDefault("CHAIN_ID", 1)
	v.SetDefault("DOMAIN_NAME", "TrustlessExchange")
	v.SetDefault("DOMAIN_VERSION", "1")
	v.SetDefault("MAKER_FEE_BPS", exchange.DefaultMakerFeeBps)
	v.SetDefault("TAKER_FEE_BPS", exchange.DefaultTakerFeeBps)
	v.SetDefault("DAILY_LIMIT", "0")
	v.SetDefault("BLOCK_INTERVAL", "12s")
}

// Load reads envFile if it exists, then the process environment.
// Environment variables win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
	}
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	return parse(v)
}

func parse(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Env:          v.GetString("ENV"),
		LogLevel:     v.GetString("LOG_LEVEL"),
		HTTPAddr:     v.GetString("HTTP_ADDR"),
		DatabaseURL:  v.GetString("DATABASE_URL"),
		RedisAddr:    v.GetString("REDIS_ADDR"),
		KafkaBrokers: splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:   v.GetString("KAFKA_TOPIC"),
		JWTSecret:    v.GetString("JWT_SECRET"),
		MakerFeeBps:  v.GetUint64("MAKER_FEE_BPS"),
		TakerFeeBps:  v.GetUint64("TAKER_FEE_BPS"),
	}
	if len(cfg.JWTSecret) < 16 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 16 characters")
	}
	if cfg.MakerFeeBps >= 10000 || cfg.TakerFeeBps >= 10000 {
		return nil, fmt.Errorf("fee rates must be below 10000 bps")
	}

	var err error
	if cfg.BlockInterval, err = time.ParseDuration(v.GetString("BLOCK_INTERVAL")); err != nil || cfg.BlockInterval <= 0 {
		return nil, fmt.Errorf("invalid BLOCK_INTERVAL %q", v.GetString("BLOCK_INTERVAL"))
	}

	chainID, ok := new(big.Int).SetString(v.GetString("CHAIN_ID"), 10)
	if !ok || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("invalid CHAIN_ID %q", v.GetString("CHAIN_ID"))
	}
	contract, err := address(v, "CONTRACT_ADDRESS")
	if err != nil {
		return nil, err
	}
	cfg.Domain = order.Domain{
		Name:              v.GetString("DOMAIN_NAME"),
		Version:           v.GetString("DOMAIN_VERSION"),
		ChainID:           chainID,
		VerifyingContract: contract,
	}

	if cfg.Recipients.LiquidityPool, err = address(v, "LIQUIDITY_POOL"); err != nil {
		return nil, err
	}
	if cfg.Recipients.ODDAO, err = address(v, "ODDAO"); err != nil {
		return nil, err
	}
	if cfg.Recipients.Protocol, err = address(v, "PROTOCOL"); err != nil {
		return nil, err
	}

	limit, ok := new(big.Int).SetString(v.GetString("DAILY_LIMIT"), 10)
	if !ok || limit.Sign() < 0 {
		return nil, fmt.Errorf("invalid DAILY_LIMIT %q", v.GetString("DAILY_LIMIT"))
	}
	cfg.DailyLimit = limit

	for _, s := range splitList(v.GetString("ADMINS")) {
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid admin address %q", s)
		}
		cfg.Admins = append(cfg.Admins, common.HexToAddress(s))
	}
	if cfg.Operators, err = parseOperators(v.GetString("OPERATORS")); err != nil {
		return nil, err
	}
	if cfg.Tokens, err = parseTokens(v.GetString("TOKENS")); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExchangeParams returns the settlement parameters.
func (c *Config) ExchangeParams() exchange.Params {
	return exchange.Params{
		Domain:      c.Domain,
		Recipients:  c.Recipients,
		MakerFeeBps: c.MakerFeeBps,
		TakerFeeBps: c.TakerFeeBps,
		DailyLimit:  new(big.Int).Set(c.DailyLimit),
		Admins:      c.Admins,
	}
}

// Development reports whether ENV selects development mode.
func (c *Config) Development() bool {
	return c.Env == "development"
}

func address(v *viper.Viper, key string) (common.Address, error) {
	s := v.GetString(key)
	if !common.IsHexAddress(s) || common.HexToAddress(s) == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%s must be a non-zero hex address, got %q", key, s)
	}
	return common.HexToAddress(s), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseOperators reads "username:bcrypt-hash:account" entries.
func parseOperators(s string) ([]auth.Operator, error) {
	var ops []auth.Operator
	for _, entry := range splitList(s) {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || !common.IsHexAddress(parts[2]) {
			return nil, fmt.Errorf("invalid OPERATORS entry %q", entry)
		}
		ops = append(ops, auth.Operator{
			Username:     parts[0],
			PasswordHash: parts[1],
			Account:      common.HexToAddress(parts[2]),
		})
	}
	return ops, nil
}

// parseTokens reads "SYMBOL:address:decimals" entries.
func parseTokens(s string) ([]token.Token, error) {
	var toks []token.Token
	for _, entry := range splitList(s) {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 || !common.IsHexAddress(parts[1]) {
			return nil, fmt.Errorf("invalid TOKENS entry %q", entry)
		}
		dec, err := strconv.ParseInt(parts[2], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid decimals in TOKENS entry %q", entry)
		}
		toks = append(toks, token.Token{Symbol: parts[0], Address: common.HexToAddress(parts[1]), Decimals: int32(dec)})
	}
	return toks, nil
}
