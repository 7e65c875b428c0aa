// Package exchange settles pairs of independently signed orders. Any account
// may submit a pair; only the two signers' funds move, each pair settles at
// most once, and fees are split across three fixed recipients while the
// orders' shared matching validator is credited.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xtrntr/settlement/internal/chain"
	"github.com/xtrntr/settlement/internal/events"
	"github.com/xtrntr/settlement/internal/metrics"
	"github.com/xtrntr/settlement/internal/models"
	"github.com/xtrntr/settlement/internal/order"
	"github.com/xtrntr/settlement/internal/state"
)

const (
	DefaultMakerFeeBps = 10 // 0.1%
	DefaultTakerFeeBps = 20 // 0.2%
)

// Assets is the fungible-token interface the exchange moves funds through.
type Assets interface {
	BalanceOf(ctx context.Context, tx state.Tx, token, account common.Address) (*big.Int, error)
	Allowance(ctx context.Context, tx state.Tx, token, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, tx state.Tx, token, owner, spender common.Address, amount *big.Int) error
	Transfer(ctx context.Context, tx state.Tx, token, from, to common.Address, amount *big.Int) error
	TransferFrom(ctx context.Context, tx state.Tx, token, spender, from, to common.Address, amount *big.Int) error
}

// Publisher receives events after the emitting call commits.
type Publisher interface {
	Publish(ctx context.Context, evs ...events.Envelope)
}

// Params configures an exchange instance.
type Params struct {
	// Domain.VerifyingContract is also the exchange's custody account and
	// the spender traders approve.
	Domain      order.Domain
	Recipients  models.FeeRecipients
	MakerFeeBps uint64
	TakerFeeBps uint64
	// DailyLimit caps settled volume per rolling day. Zero disables the cap.
	DailyLimit *big.Int
	Admins     []common.Address
}

// Exchange is the settlement contract.
type Exchange struct {
	codec       *order.Codec
	verifier    *order.Verifier
	custody     common.Address
	recipients  models.FeeRecipients
	makerFeeBps *big.Int
	takerFeeBps *big.Int
	dailyLimit  *big.Int
	admins      map[common.Address]bool

	store  state.Store
	assets Assets
	clock  chain.Clock
	events Publisher
	logger *zap.Logger
}

// New constructs an exchange.
func New(p Params, store state.Store, assets Assets, clock chain.Clock, pub Publisher, logger *zap.Logger) (*Exchange, error) {
	codec, err := order.NewCodec(p.Domain)
	if err != nil {
		return nil, err
	}
	if p.Domain.VerifyingContract == (common.Address{}) {
		return nil, fmt.Errorf("verifying contract address is required")
	}
	for name, addr := range map[string]common.Address{
		"liquidity pool": p.Recipients.LiquidityPool,
		"oddao":          p.Recipients.ODDAO,
		"protocol":       p.Recipients.Protocol,
	} {
		if addr == (common.Address{}) {
			return nil, fmt.Errorf("%s fee recipient is required", name)
		}
	}
	if p.MakerFeeBps >= bpsDenominator || p.TakerFeeBps >= bpsDenominator {
		return nil, fmt.Errorf("fee rates must be below %d bps", bpsDenominator)
	}
	limit := new(big.Int)
	if p.DailyLimit != nil {
		if p.DailyLimit.Sign() < 0 {
			return nil, fmt.Errorf("daily limit must not be negative")
		}
		limit.Set(p.DailyLimit)
	}
	admins := make(map[common.Address]bool, len(p.Admins))
	for _, a := range p.Admins {
		admins[a] = true
	}
	return &Exchange{
		codec:       codec,
		verifier:    order.NewVerifier(),
		custody:     p.Domain.VerifyingContract,
		recipients:  p.Recipients,
		makerFeeBps: new(big.Int).SetUint64(p.MakerFeeBps),
		takerFeeBps: new(big.Int).SetUint64(p.TakerFeeBps),
		dailyLimit:  limit,
		admins:      admins,
		store:       store,
		assets:      assets,
		clock:       clock,
		events:      pub,
		logger:      logger,
	}, nil
}

// Address is the exchange's custody account.
func (e *Exchange) Address() common.Address {
	return e.custody
}

// HashOrder returns the digest a trader signs for o.
func (e *Exchange) HashOrder(o models.Order) (common.Hash, error) {
	return e.codec.Hash(o)
}

// GetFeeRecipients returns the fixed fee recipients.
func (e *Exchange) GetFeeRecipients() models.FeeRecipients {
	return e.recipients
}

// IsAdmin reports whether account may operate the emergency stop.
func (e *Exchange) IsAdmin(account common.Address) bool {
	return e.admins[account]
}

// Approve lets the exchange move up to amount of owner's token.
func (e *Exchange) Approve(ctx context.Context, owner, token common.Address, amount *big.Int) error {
	return e.store.Atomic(ctx, func(tx state.Tx) error {
		return e.assets.Approve(ctx, tx, token, owner, e.custody, amount)
	})
}

// Balance returns account's balance of token.
func (e *Exchange) Balance(ctx context.Context, token, account common.Address) (*big.Int, error) {
	var bal *big.Int
	err := e.store.View(ctx, func(tx state.Tx) error {
		var err error
		bal, err = e.assets.BalanceOf(ctx, tx, token, account)
		return err
	})
	return bal, err
}

// Allowance returns how much of owner's token the exchange may move.
func (e *Exchange) Allowance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	var al *big.Int
	err := e.store.View(ctx, func(tx state.Tx) error {
		var err error
		al, err = e.assets.Allowance(ctx, tx, token, owner, e.custody)
		return err
	})
	return al, err
}

// Trades lists settled trades involving account; the zero address lists all.
func (e *Exchange) Trades(ctx context.Context, account common.Address) ([]models.Trade, error) {
	var trades []models.Trade
	err := e.store.View(ctx, func(tx state.Tx) error {
		var err error
		trades, err = tx.Trades(ctx, account)
		return err
	})
	return trades, err
}

// SettleTrade atomically exchanges the assets of two signed orders. Any
// account may submit; submitter is recorded but never credited.
func (e *Exchange) SettleTrade(ctx context.Context, submitter common.Address, maker, taker models.Order, makerSig, takerSig []byte) (*models.Trade, error) {
	start := time.Now()
	head := e.clock.Head()

	var (
		trade models.Trade
		evs   []events.Envelope
	)
	err := e.store.Atomic(ctx, func(tx state.Tx) error {
		evs = nil
		if err := e.checkEmergency(ctx, tx); err != nil {
			return err
		}

		makerHash, err := e.codec.Hash(maker)
		if err != nil {
			return err
		}
		takerHash, err := e.codec.Hash(taker)
		if err != nil {
			return err
		}
		if err := checkSelfTrade(maker, taker, makerHash, takerHash); err != nil {
			return err
		}
		if err := e.verifier.Verify(maker, makerHash, makerSig); err != nil {
			return fmt.Errorf("maker: %w", err)
		}
		if err := e.verifier.Verify(taker, takerHash, takerSig); err != nil {
			return fmt.Errorf("taker: %w", err)
		}

		for _, o := range []models.Order{maker, taker} {
			if err := validateOrder(o); err != nil {
				return err
			}
			if err := checkExpiry(o, head.Time); err != nil {
				return err
			}
		}
		if err := matchOrders(maker, taker); err != nil {
			return err
		}
		for _, o := range []models.Order{maker, taker} {
			if err := checkNonce(ctx, tx, o); err != nil {
				return err
			}
		}
		for _, c := range []struct {
			trader common.Address
			hash   common.Hash
		}{{maker.Trader, makerHash}, {taker.Trader, takerHash}} {
			revealed, err := revealPending(ctx, tx, c.trader, c.hash, head.Number)
			if err != nil {
				return err
			}
			if revealed {
				evs = append(evs, events.Wrap(head.Number, events.OrderRevealed{Trader: c.trader, OrderHash: c.hash}))
			}
		}

		makerFee := feeFor(maker.AmountOut, e.makerFeeBps)
		takerFee := feeFor(taker.AmountOut, e.takerFeeBps)
		if makerFee.Cmp(maker.AmountIn) > 0 || takerFee.Cmp(taker.AmountIn) > 0 {
			return models.NewError(models.ErrInvalidOrder, "fee exceeds outgoing amount")
		}
		totalFee := new(big.Int).Add(makerFee, takerFee)

		// Bookkeeping is final before any token moves.
		if err := e.recordVolume(ctx, tx, taker.AmountIn, totalFee, head.Time); err != nil {
			return err
		}
		for _, o := range []models.Order{maker, taker} {
			if err := advanceNonce(ctx, tx, o.Trader); err != nil {
				return err
			}
		}

		if err := e.swap(ctx, tx, maker, taker, makerFee, takerFee); err != nil {
			return err
		}

		tradeHash := crypto.Keccak256Hash(makerHash.Bytes(), takerHash.Bytes())
		var dists []events.Envelope
		for _, f := range []struct {
			token common.Address
			fee   *big.Int
		}{{maker.TokenIn, makerFee}, {taker.TokenIn, takerFee}} {
			d, err := e.distributeFees(ctx, tx, f.token, f.fee, maker.MatchingValidator, tradeHash, head.Number)
			if err != nil {
				return err
			}
			if d != nil {
				dists = append(dists, events.Wrap(head.Number, *d))
			}
		}

		trade = models.Trade{
			ID:                uuid.NewString(),
			TradeHash:         tradeHash,
			MakerOrderHash:    makerHash,
			TakerOrderHash:    takerHash,
			Maker:             maker.Trader,
			Taker:             taker.Trader,
			MatchingValidator: maker.MatchingValidator,
			Submitter:         submitter,
			MakerToken:        maker.TokenIn,
			TakerToken:        taker.TokenIn,
			MakerAmount:       new(big.Int).Set(maker.AmountIn),
			TakerAmount:       new(big.Int).Set(taker.AmountIn),
			MakerFee:          makerFee,
			TakerFee:          takerFee,
			Block:             head.Number,
			Timestamp:         head.Time,
		}
		if err := tx.InsertTrade(ctx, trade); err != nil {
			return err
		}

		evs = append(evs, events.Wrap(head.Number, events.TradeSettled{
			TradeHash:         tradeHash,
			Maker:             maker.Trader,
			Taker:             taker.Trader,
			MatchingValidator: maker.MatchingValidator,
			MakerOrderHash:    makerHash,
			TakerOrderHash:    takerHash,
			MakerAmountIn:     trade.MakerAmount,
			TakerAmountIn:     trade.TakerAmount,
			MakerFee:          makerFee,
			TakerFee:          takerFee,
		}))
		evs = append(evs, dists...)
		return nil
	})
	metrics.SettleDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Trades.WithLabelValues(kindOf(err)).Inc()
		e.logger.Warn("settlement rejected",
			zap.String("kind", kindOf(err)),
			zap.Stringer("submitter", submitter),
			zap.Stringer("maker", maker.Trader),
			zap.Stringer("taker", taker.Trader),
			zap.Error(err))
		return nil, err
	}

	metrics.Trades.WithLabelValues("settled").Inc()
	e.logger.Info("trade settled",
		zap.String("id", trade.ID),
		zap.Stringer("tradeHash", trade.TradeHash),
		zap.Stringer("matchingValidator", trade.MatchingValidator),
		zap.Uint64("block", trade.Block))
	e.events.Publish(ctx, evs...)
	return &trade, nil
}

// swap moves each side's outgoing amount to the counterparty, net of its fee,
// and the fees into custody.
func (e *Exchange) swap(ctx context.Context, tx state.Tx, maker, taker models.Order, makerFee, takerFee *big.Int) error {
	legs := []struct {
		token    common.Address
		from, to common.Address
		amount   *big.Int
		fee      *big.Int
	}{
		{maker.TokenIn, maker.Trader, taker.Trader, maker.AmountIn, makerFee},
		{taker.TokenIn, taker.Trader, maker.Trader, taker.AmountIn, takerFee},
	}
	for _, l := range legs {
		net := new(big.Int).Sub(l.amount, l.fee)
		if err := e.assets.TransferFrom(ctx, tx, l.token, e.custody, l.from, l.to, net); err != nil {
			return err
		}
		if err := e.assets.TransferFrom(ctx, tx, l.token, e.custody, l.from, e.custody, l.fee); err != nil {
			return err
		}
	}
	return nil
}

// kindOf names the failure for metrics and logs.
func kindOf(err error) string {
	var kind models.ErrorKind
	if errors.As(err, &kind) {
		return string(kind)
	}
	return "internal"
}
