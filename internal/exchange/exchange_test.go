package exchange

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/settlement/internal/events"
	"github.com/xtrntr/settlement/internal/models"
	"github.com/xtrntr/settlement/internal/order"
	"github.com/xtrntr/settlement/internal/state"
)

func TestNew_Validation(t *testing.T) {
	base := Params{
		Domain:      order.Domain{Name: "TrustlessExchange", Version: "1", ChainID: big.NewInt(1), VerifyingContract: custody},
		Recipients:  models.FeeRecipients{LiquidityPool: pool, ODDAO: oddao, Protocol: protocol},
		MakerFeeBps: 10,
		TakerFeeBps: 20,
	}
	tests := []struct {
		name   string
		mutate func(p *Params)
	}{
		{"MissingContract", func(p *Params) { p.Domain.VerifyingContract = common.Address{} }},
		{"MissingPool", func(p *Params) { p.Recipients.LiquidityPool = common.Address{} }},
		{"MissingProtocol", func(p *Params) { p.Recipients.Protocol = common.Address{} }},
		{"FeeTooHigh", func(p *Params) { p.TakerFeeBps = 10000 }},
		{"NegativeLimit", func(p *Params) { p.DailyLimit = big.NewInt(-1) }},
		{"NoChainID", func(p *Params) { p.Domain.ChainID = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.mutate(&p)
			_, err := New(p, nil, nil, nil, nil, nil)
			assert.Error(t, err)
		})
	}
}

func TestSettleTrade_Success(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	maker, taker := h.pair(t)

	trade, err := h.settle(t, maker, taker)
	require.NoError(t, err)

	// Nonces advance by exactly one.
	mn, _ := h.ex.GetNonce(ctx, h.maker)
	tn, _ := h.ex.GetNonce(ctx, h.taker)
	assert.Equal(t, uint64(1), mn)
	assert.Equal(t, uint64(1), tn)

	// 0.1% of 100 plus 0.2% of 100.
	assert.Equal(t, milli(100), trade.MakerFee)
	assert.Equal(t, milli(200), trade.TakerFee)
	assert.Equal(t, milli(300), new(big.Int).Add(trade.MakerFee, trade.TakerFee))

	assert.Equal(t, units(900), h.balance(t, tokenA, h.maker))
	assert.Equal(t, milli(99_900), h.balance(t, tokenA, h.taker))
	assert.Equal(t, milli(99_800), h.balance(t, tokenB, h.maker))
	assert.Equal(t, units(900), h.balance(t, tokenB, h.taker))

	// Fees split 70/20/10 per asset, nothing left in custody.
	assert.Equal(t, milli(70), h.balance(t, tokenA, pool))
	assert.Equal(t, milli(20), h.balance(t, tokenA, oddao))
	assert.Equal(t, milli(10), h.balance(t, tokenA, protocol))
	assert.Equal(t, milli(140), h.balance(t, tokenB, pool))
	assert.Equal(t, milli(40), h.balance(t, tokenB, oddao))
	assert.Equal(t, milli(20), h.balance(t, tokenB, protocol))
	assert.Equal(t, 0, h.balance(t, tokenA, custody).Sign())
	assert.Equal(t, 0, h.balance(t, tokenB, custody).Sign())

	// The submitter is recorded but earns nothing.
	assert.Equal(t, submitter, trade.Submitter)
	assert.Equal(t, validator, trade.MatchingValidator)
	assert.Equal(t, 0, h.balance(t, tokenA, submitter).Sign())
	assert.Equal(t, 0, h.balance(t, tokenB, submitter).Sign())

	stats, err := h.ex.GetTradingStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, units(100), stats.Volume)
	assert.Equal(t, milli(300), stats.Fees)
	assert.Equal(t, uint64(1), stats.Trades)

	evs := h.drain()
	require.Len(t, evs, 3)
	settled, ok := evs[0].Data.(events.TradeSettled)
	require.True(t, ok)
	assert.Equal(t, validator, settled.MatchingValidator)
	assert.Equal(t, h.maker, settled.Maker)
	assert.Equal(t, h.taker, settled.Taker)
	assert.Equal(t, trade.TradeHash, settled.TradeHash)
	for _, ev := range evs[1:] {
		fd, ok := ev.Data.(events.FeesDistributed)
		require.True(t, ok)
		assert.Equal(t, validator, fd.MatchingValidator)
		assert.Equal(t, uint64(100), fd.BlockNumber)
	}

	trades, err := h.ex.Trades(ctx, h.maker)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, trade.ID, trades[0].ID)
}

func TestSettleTrade_ReplayFails(t *testing.T) {
	h := newHarness(t)
	maker, taker := h.pair(t)
	makerSig, takerSig := h.sign(t, maker, h.makerKey), h.sign(t, taker, h.takerKey)

	_, err := h.ex.SettleTrade(context.Background(), submitter, maker, taker, makerSig, takerSig)
	require.NoError(t, err)

	before := h.snapshot(t)
	_, err = h.ex.SettleTrade(context.Background(), common.HexToAddress("0xbad"), maker, taker, makerSig, takerSig)
	assert.True(t, errors.Is(err, models.ErrOrderAlreadyFilled), "got %v", err)
	assert.Equal(t, before, h.snapshot(t))
}

func TestSettleTrade_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(t *testing.T, h *harness, maker, taker *models.Order)
		sigs    func(t *testing.T, h *harness, maker, taker models.Order) ([]byte, []byte)
		wantErr error
	}{
		{
			name: "SameSide",
			mutate: func(t *testing.T, h *harness, maker, taker *models.Order) {
				taker.IsBuy = false
			},
			wantErr: models.ErrOrdersDontMatch,
		},
		{
			name: "BothBuy",
			mutate: func(t *testing.T, h *harness, maker, taker *models.Order) {
				maker.IsBuy = true
			},
			wantErr: models.ErrOrdersDontMatch,
		},
		{
			name: "PairMismatch",
			mutate: func(t *testing.T, h *harness, maker, taker *models.Order) {
				taker.TokenOut = common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
			},
			wantErr: models.ErrOrdersDontMatch,
		},
		{
			name: "AskAboveBid",
			mutate: func(t *testing.T, h *harness, maker, taker *models.Order) {
				maker.Price = big.NewInt(15000)
			},
			wantErr: models.ErrOrdersDontMatch,
		},
		{
			name: "AmountsDoNotCover",
			mutate: func(t *testing.T, h *harness, maker, taker *models.Order) {
				taker.AmountOut = units(101)
			},
			wantErr: models.ErrOrdersDontMatch,
		},
		{
			name: "ValidatorMismatch",
			mutate: func(t *testing.T, h *harness, maker, taker *models.Order) {
				taker.MatchingValidator = common.HexToAddress("0x5555555555555555555555555555555555555556")
			},
			wantErr: models.ErrMatchingValidatorMismatch,
		},
		{
			name: "MakerExpired",
			mutate: func(t *testing.T, h *harness, maker, taker *models.Order) {
				maker.Deadline = big.NewInt(genesisTime - 1)
			},
			wantErr: models.ErrOrderExpired,
		},
		{
			name: "TakerExpired",
			mutate: func(t *testing.T, h *harness, maker, taker *models.Order) {
				taker.Deadline = big.NewInt(genesisTime - 1)
			},
			wantErr: models.ErrOrderExpired,
		},
		{
			name: "StaleNonce",
			mutate: func(t *testing.T, h *harness, maker, taker *models.Order) {
				taker.Nonce = big.NewInt(1)
			},
			wantErr: models.ErrOrderAlreadyFilled,
		},
		{
			name: "TakerSignedByMaker",
			sigs: func(t *testing.T, h *harness, maker, taker models.Order) ([]byte, []byte) {
				return h.sign(t, maker, h.makerKey), h.sign(t, taker, h.makerKey)
			},
			wantErr: models.ErrInvalidSignature,
		},
		{
			name: "SignatureOverOtherOrder",
			sigs: func(t *testing.T, h *harness, maker, taker models.Order) ([]byte, []byte) {
				other := maker
				other.AmountOut = units(1)
				return h.sign(t, other, h.makerKey), h.sign(t, taker, h.takerKey)
			},
			wantErr: models.ErrInvalidSignature,
		},
		{
			name: "EmptySignature",
			sigs: func(t *testing.T, h *harness, maker, taker models.Order) ([]byte, []byte) {
				return nil, h.sign(t, taker, h.takerKey)
			},
			wantErr: models.ErrInvalidSignature,
		},
		{
			name: "SameTrader",
			mutate: func(t *testing.T, h *harness, maker, taker *models.Order) {
				taker.Trader = h.maker
			},
			wantErr: models.ErrSelfTradingNotAllowed,
		},
		{
			name: "ZeroAmount",
			mutate: func(t *testing.T, h *harness, maker, taker *models.Order) {
				maker.AmountOut = big.NewInt(0)
				taker.AmountIn = big.NewInt(0)
			},
			wantErr: models.ErrInvalidOrder,
		},
		{
			name: "AllowanceTooSmall",
			mutate: func(t *testing.T, h *harness, maker, taker *models.Order) {
				require.NoError(t, h.ex.Approve(context.Background(), h.taker, tokenB, units(50)))
			},
			wantErr: models.ErrInsufficientAllowance,
		},
		{
			name: "BalanceTooSmall",
			mutate: func(t *testing.T, h *harness, maker, taker *models.Order) {
				maker.AmountIn = units(5000)
			},
			wantErr: models.ErrInsufficientBalance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			maker, taker := h.pair(t)
			if tt.mutate != nil {
				tt.mutate(t, h, &maker, &taker)
			}
			var makerSig, takerSig []byte
			if tt.sigs != nil {
				makerSig, takerSig = tt.sigs(t, h, maker, taker)
			} else {
				makerSig, takerSig = h.sign(t, maker, h.makerKey), h.sign(t, taker, h.takerKey)
			}
			before := h.snapshot(t)

			trade, err := h.ex.SettleTrade(context.Background(), submitter, maker, taker, makerSig, takerSig)
			assert.Nil(t, trade)
			assert.True(t, errors.Is(err, tt.wantErr), "want %v, got %v", tt.wantErr, err)
			assert.Equal(t, before, h.snapshot(t), "state changed by failed settlement")
			assert.Empty(t, h.drain())
		})
	}
}

func TestSettleTrade_IdenticalOrderIsSelfTrade(t *testing.T) {
	h := newHarness(t)
	maker, _ := h.pair(t)

	_, err := h.ex.SettleTrade(context.Background(), submitter, maker, maker, []byte("junk"), nil)
	assert.True(t, errors.Is(err, models.ErrSelfTradingNotAllowed), "got %v", err)

	sig := h.sign(t, maker, h.makerKey)
	_, err = h.ex.SettleTrade(context.Background(), submitter, maker, maker, sig, sig)
	assert.True(t, errors.Is(err, models.ErrSelfTradingNotAllowed), "got %v", err)
}

func TestSettleTrade_PriceImprovement(t *testing.T) {
	h := newHarness(t)
	maker, taker := h.pair(t)
	maker.Price = big.NewInt(9000)
	taker.Price = big.NewInt(10000)
	_, err := h.settle(t, maker, taker)
	assert.NoError(t, err)
}

func TestSettleTrade_MakerBuys(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	// The maker now gives B and wants A; fund and approve accordingly.
	require.NoError(t, h.store.Atomic(ctx, func(tx state.Tx) error {
		if err := h.bank.Mint(ctx, tx, tokenB, h.maker, units(100)); err != nil {
			return err
		}
		return h.bank.Mint(ctx, tx, tokenA, h.taker, units(100))
	}))
	require.NoError(t, h.ex.Approve(ctx, h.maker, tokenB, units(100)))
	require.NoError(t, h.ex.Approve(ctx, h.taker, tokenA, units(100)))

	maker, taker := h.pair(t)
	maker.IsBuy, taker.IsBuy = true, false
	maker.TokenIn, maker.TokenOut = tokenB, tokenA
	taker.TokenIn, taker.TokenOut = tokenA, tokenB

	// Seller (taker) asks more than the buyer (maker) bids.
	maker.Price, taker.Price = big.NewInt(10000), big.NewInt(12000)
	_, err := h.settle(t, maker, taker)
	assert.True(t, errors.Is(err, models.ErrOrdersDontMatch), "got %v", err)

	maker.Price, taker.Price = big.NewInt(12000), big.NewInt(10000)
	_, err = h.settle(t, maker, taker)
	assert.NoError(t, err)
}

func TestSettleTrade_EmergencyStop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.ex.EmergencyStopTrading(ctx, submitter, "not an admin")
	assert.True(t, errors.Is(err, models.ErrNotAuthorized))

	require.NoError(t, h.ex.EmergencyStopTrading(ctx, admin, "oracle incident"))
	err = h.ex.EmergencyStopTrading(ctx, admin, "again")
	assert.True(t, errors.Is(err, models.ErrEmergencyStopActive))

	em, err := h.ex.GetEmergencyState(ctx)
	require.NoError(t, err)
	assert.True(t, em.Active)
	assert.Equal(t, "oracle incident", em.Reason)
	assert.Equal(t, admin, em.Admin)

	maker, taker := h.pair(t)
	before := h.snapshot(t)
	_, err = h.settle(t, maker, taker)
	assert.True(t, errors.Is(err, models.ErrEmergencyStopActive), "got %v", err)
	assert.Equal(t, before, h.snapshot(t))

	// Other operations keep working.
	_, err = h.ex.CommitOrder(ctx, h.maker, common.HexToHash("0xc0ffee"))
	assert.NoError(t, err)

	err = h.ex.ResumeTrading(ctx, submitter)
	assert.True(t, errors.Is(err, models.ErrNotAuthorized))
	require.NoError(t, h.ex.ResumeTrading(ctx, admin))
	err = h.ex.ResumeTrading(ctx, admin)
	assert.True(t, errors.Is(err, models.ErrTradingNotStopped))

	_, err = h.settle(t, maker, taker)
	assert.NoError(t, err)

	var names []string
	for _, ev := range h.drain() {
		names = append(names, ev.Name)
	}
	assert.Equal(t, []string{"EmergencyStop", "OrderCommitted", "TradingResumed", "TradeSettled", "FeesDistributed", "FeesDistributed"}, names)
}

func TestSettleTrade_DailyLimit(t *testing.T) {
	h := newHarness(t, func(p *Params) { p.DailyLimit = units(150) })
	ctx := context.Background()

	maker, taker := h.pair(t)
	_, err := h.settle(t, maker, taker)
	require.NoError(t, err)

	// Refill so only the cap can stop the next trade.
	require.NoError(t, h.store.Atomic(ctx, func(tx state.Tx) error {
		return h.bank.Mint(ctx, tx, tokenB, h.taker, units(100))
	}))

	maker, taker = h.pair(t)
	before := h.snapshot(t)
	_, err = h.settle(t, maker, taker)
	assert.True(t, errors.Is(err, models.ErrDailyLimitExceeded), "got %v", err)
	assert.Equal(t, before, h.snapshot(t))

	stats, err := h.ex.GetTradingStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, units(150), stats.DailyLimit)
	assert.Equal(t, units(100), stats.DailyVolume)

	h.chain.Mine(1, 25*time.Hour)
	maker, taker = h.pair(t)
	_, err = h.settle(t, maker, taker)
	assert.NoError(t, err)

	stats, err = h.ex.GetTradingStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, units(200), stats.Volume)
	assert.Equal(t, units(100), stats.DailyVolume)
}

func TestSettleTrade_ConsecutiveTrades(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		maker, taker := h.pair(t)
		_, err := h.settle(t, maker, taker)
		require.NoError(t, err, "trade %d", i)
	}
	mn, _ := h.ex.GetNonce(ctx, h.maker)
	assert.Equal(t, uint64(3), mn)
	trades, err := h.ex.Trades(ctx, common.Address{})
	require.NoError(t, err)
	assert.Len(t, trades, 3)
}

func TestSplitFee(t *testing.T) {
	totals := []int64{0, 1, 2, 3, 7, 9, 10, 11, 99, 100, 101, 333, 9999, 10000, 10001, 123456789}
	for i := int64(0); i < 2000; i++ {
		totals = append(totals, i*37+i%13)
	}
	for _, n := range totals {
		total := big.NewInt(n)
		lp, od, pr := SplitFee(total)
		sum := new(big.Int).Add(lp, od)
		sum.Add(sum, pr)
		require.Equal(t, total, sum, "total %d", n)
		require.True(t, lp.Cmp(od) >= 0 && od.Cmp(pr) >= 0, "total %d: %s/%s/%s", n, lp, od, pr)
	}

	lp, od, pr := SplitFee(big.NewInt(1000))
	assert.Equal(t, int64(700), lp.Int64())
	assert.Equal(t, int64(200), od.Int64())
	assert.Equal(t, int64(100), pr.Int64())

	// Dust goes to the liquidity share.
	lp, od, pr = SplitFee(big.NewInt(19))
	assert.Equal(t, int64(3), od.Int64())
	assert.Equal(t, int64(1), pr.Int64())
	assert.Equal(t, int64(15), lp.Int64())
}
