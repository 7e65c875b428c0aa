package exchange

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xtrntr/settlement/internal/chain"
	"github.com/xtrntr/settlement/internal/events"
	"github.com/xtrntr/settlement/internal/models"
	"github.com/xtrntr/settlement/internal/order"
	"github.com/xtrntr/settlement/internal/state"
	"github.com/xtrntr/settlement/internal/token"
)

var (
	tokenA    = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	tokenB    = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	custody   = common.HexToAddress("0x00000000000000000000000000000000000e0e0e")
	validator = common.HexToAddress("0x5555555555555555555555555555555555555555")
	pool      = common.HexToAddress("0x6666666666666666666666666666666666666666")
	oddao     = common.HexToAddress("0x7777777777777777777777777777777777777777")
	protocol  = common.HexToAddress("0x8888888888888888888888888888888888888888")
	admin     = common.HexToAddress("0x9999999999999999999999999999999999999999")
	submitter = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

const genesisTime = 1_700_000_000

// units returns n whole 18-decimal tokens.
func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// milli returns n thousandths of an 18-decimal token.
func milli(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e15))
}

type harness struct {
	ex       *Exchange
	store    *state.MemStore
	bank     *token.Bank
	chain    *chain.Chain
	events   <-chan events.Envelope
	makerKey *ecdsa.PrivateKey
	takerKey *ecdsa.PrivateKey
	maker    common.Address
	taker    common.Address
}

func newHarness(t *testing.T, opts ...func(*Params)) *harness {
	t.Helper()
	ctx := context.Background()

	reg, err := token.NewRegistry(
		token.Token{Symbol: "AAA", Address: tokenA, Decimals: 18},
		token.Token{Symbol: "BBB", Address: tokenB, Decimals: 18},
	)
	require.NoError(t, err)
	bank := token.NewBank(reg)
	store := state.NewMemStore()
	c := chain.New(chain.Block{Number: 100, Time: genesisTime})
	logger := zaptest.NewLogger(t)
	bus := events.NewBus(logger)
	sub, cancel := bus.Subscribe(128)
	t.Cleanup(cancel)

	p := Params{
		Domain: order.Domain{
			Name:              "TrustlessExchange",
			Version:           "1",
			ChainID:           big.NewInt(31337),
			VerifyingContract: custody,
		},
		Recipients:  models.FeeRecipients{LiquidityPool: pool, ODDAO: oddao, Protocol: protocol},
		MakerFeeBps: DefaultMakerFeeBps,
		TakerFeeBps: DefaultTakerFeeBps,
		Admins:      []common.Address{admin},
	}
	for _, o := range opts {
		o(&p)
	}
	ex, err := New(p, store, bank, c, bus, logger)
	require.NoError(t, err)

	mk, err := crypto.GenerateKey()
	require.NoError(t, err)
	tk, err := crypto.GenerateKey()
	require.NoError(t, err)
	h := &harness{
		ex:       ex,
		store:    store,
		bank:     bank,
		chain:    c,
		events:   sub,
		makerKey: mk,
		takerKey: tk,
		maker:    crypto.PubkeyToAddress(mk.PublicKey),
		taker:    crypto.PubkeyToAddress(tk.PublicKey),
	}

	require.NoError(t, store.Atomic(ctx, func(tx state.Tx) error {
		if err := bank.Mint(ctx, tx, tokenA, h.maker, units(1000)); err != nil {
			return err
		}
		return bank.Mint(ctx, tx, tokenB, h.taker, units(1000))
	}))
	require.NoError(t, ex.Approve(ctx, h.maker, tokenA, units(1_000_000)))
	require.NoError(t, ex.Approve(ctx, h.taker, tokenB, units(1_000_000)))
	return h
}

// pair returns a maker selling 100 A for 100 B at 1:1 and a matching taker,
// both at their traders' current nonces.
func (h *harness) pair(t *testing.T) (models.Order, models.Order) {
	t.Helper()
	ctx := context.Background()
	mn, err := h.ex.GetNonce(ctx, h.maker)
	require.NoError(t, err)
	tn, err := h.ex.GetNonce(ctx, h.taker)
	require.NoError(t, err)
	deadline := new(big.Int).SetUint64(h.chain.Head().Time + 3600)

	maker := models.Order{
		Trader:            h.maker,
		IsBuy:             false,
		TokenIn:           tokenA,
		TokenOut:          tokenB,
		AmountIn:          units(100),
		AmountOut:         units(100),
		Price:             big.NewInt(10000),
		Deadline:          deadline,
		Salt:              common.BigToHash(big.NewInt(int64(mn) + 1)),
		MatchingValidator: validator,
		Nonce:             new(big.Int).SetUint64(mn),
	}
	taker := models.Order{
		Trader:            h.taker,
		IsBuy:             true,
		TokenIn:           tokenB,
		TokenOut:          tokenA,
		AmountIn:          units(100),
		AmountOut:         units(100),
		Price:             big.NewInt(10000),
		Deadline:          new(big.Int).Set(deadline),
		Salt:              common.BigToHash(big.NewInt(int64(tn) + 1000)),
		MatchingValidator: validator,
		Nonce:             new(big.Int).SetUint64(tn),
	}
	return maker, taker
}

func (h *harness) sign(t *testing.T, o models.Order, key *ecdsa.PrivateKey) []byte {
	t.Helper()
	digest, err := h.ex.HashOrder(o)
	require.NoError(t, err)
	sig, err := order.Sign(digest, key)
	require.NoError(t, err)
	return sig
}

func (h *harness) settle(t *testing.T, maker, taker models.Order) (*models.Trade, error) {
	t.Helper()
	return h.ex.SettleTrade(context.Background(), submitter, maker, taker,
		h.sign(t, maker, h.makerKey), h.sign(t, taker, h.takerKey))
}

func (h *harness) balance(t *testing.T, tok, account common.Address) *big.Int {
	t.Helper()
	b, err := h.ex.Balance(context.Background(), tok, account)
	require.NoError(t, err)
	return b
}

// snapshot captures every piece of state a settlement may touch.
func (h *harness) snapshot(t *testing.T) map[string]string {
	t.Helper()
	ctx := context.Background()
	snap := make(map[string]string)
	for _, tok := range []common.Address{tokenA, tokenB} {
		for _, acct := range []common.Address{h.maker, h.taker, custody, pool, oddao, protocol, validator, submitter} {
			snap[fmt.Sprintf("bal/%s/%s", tok.Hex(), acct.Hex())] = h.balance(t, tok, acct).String()
		}
	}
	for _, acct := range []common.Address{h.maker, h.taker} {
		n, err := h.ex.GetNonce(ctx, acct)
		require.NoError(t, err)
		snap["nonce/"+acct.Hex()] = fmt.Sprint(n)
	}
	stats, err := h.ex.GetTradingStats(ctx)
	require.NoError(t, err)
	snap["stats"] = fmt.Sprintf("%s/%s/%s/%d", stats.Volume, stats.Fees, stats.DailyVolume, stats.Trades)
	trades, err := h.ex.Trades(ctx, common.Address{})
	require.NoError(t, err)
	snap["trades"] = fmt.Sprint(len(trades))
	return snap
}

// drain returns the events published so far.
func (h *harness) drain() []events.Envelope {
	var out []events.Envelope
	for {
		select {
		case ev := <-h.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}
