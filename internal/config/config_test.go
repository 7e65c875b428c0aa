package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var required = map[string]string{
	"JWT_SECRET":       "a-long-enough-secret",
	"CONTRACT_ADDRESS": "0x00000000000000000000000000000000000e0e0e",
	"LIQUIDITY_POOL":   "0x6666666666666666666666666666666666666666",
	"ODDAO":            "0x7777777777777777777777777777777777777777",
	"PROTOCOL":         "0x8888888888888888888888888888888888888888",
}

func setEnv(t *testing.T, extra map[string]string) {
	t.Helper()
	for k, v := range required {
		t.Setenv(k, v)
	}
	for k, v := range extra {
		t.Setenv(k, v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, nil)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, uint64(10), cfg.MakerFeeBps)
	assert.Equal(t, uint64(20), cfg.TakerFeeBps)
	assert.Equal(t, int64(1), cfg.Domain.ChainID.Int64())
	assert.Equal(t, "TrustlessExchange", cfg.Domain.Name)
	assert.Equal(t, 12*time.Second, cfg.BlockInterval)
	assert.Equal(t, 0, cfg.DailyLimit.Sign())
	assert.Empty(t, cfg.DatabaseURL)
	assert.False(t, cfg.Development())

	p := cfg.ExchangeParams()
	assert.Equal(t, common.HexToAddress("0x6666666666666666666666666666666666666666"), p.Recipients.LiquidityPool)
	assert.Equal(t, cfg.Domain.VerifyingContract, p.Domain.VerifyingContract)
}

func TestLoad_Lists(t *testing.T) {
	setEnv(t, map[string]string{
		"KAFKA_BROKERS": "k1:9092, k2:9092",
		"ADMINS":        "0x9999999999999999999999999999999999999999",
		"OPERATORS":     "ops:$2a$10$abcdefghijklmnopqrstuv:0x9999999999999999999999999999999999999999",
		"TOKENS":        "USDC:0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa:6,WETH:0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb:18",
		"DAILY_LIMIT":   "1000000000000000000000",
	})
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.Len(t, cfg.Admins, 1)
	require.Len(t, cfg.Operators, 1)
	assert.Equal(t, "ops", cfg.Operators[0].Username)
	assert.Equal(t, cfg.Admins[0], cfg.Operators[0].Account)
	require.Len(t, cfg.Tokens, 2)
	assert.Equal(t, int32(6), cfg.Tokens[0].Decimals)
	assert.Equal(t, "1000000000000000000000", cfg.DailyLimit.String())
}

func TestLoad_EnvFile(t *testing.T) {
	setEnv(t, nil)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("HTTP_ADDR=:9999\nJWT_SECRET=ignored\n"), 0o600))
	t.Setenv("HTTP_ADDR", "")
	require.NoError(t, os.Unsetenv("HTTP_ADDR"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, required["JWT_SECRET"], cfg.JWTSecret, "environment wins over the file")

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"ShortSecret", map[string]string{"JWT_SECRET": "short"}},
		{"BadContract", map[string]string{"CONTRACT_ADDRESS": "nope"}},
		{"ZeroPool", map[string]string{"LIQUIDITY_POOL": "0x0000000000000000000000000000000000000000"}},
		{"FeeTooHigh", map[string]string{"TAKER_FEE_BPS": "10000"}},
		{"BadChainID", map[string]string{"CHAIN_ID": "0"}},
		{"NegativeLimit", map[string]string{"DAILY_LIMIT": "-5"}},
		{"BadInterval", map[string]string{"BLOCK_INTERVAL": "soon"}},
		{"BadAdmin", map[string]string{"ADMINS": "0x1234"}},
		{"BadToken", map[string]string{"TOKENS": "USDC:0xaaaa"}},
		{"BadOperator", map[string]string{"OPERATORS": "ops:hash"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.env)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}
