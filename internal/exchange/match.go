package exchange

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xtrntr/settlement/internal/models"
)

// validateOrder rejects orders no counterparty could ever settle against.
func validateOrder(o models.Order) error {
	switch {
	case o.Trader == (common.Address{}):
		return models.NewError(models.ErrInvalidOrder, "zero trader")
	case o.TokenIn == o.TokenOut:
		return models.NewError(models.ErrInvalidOrder, "tokenIn equals tokenOut")
	case o.AmountIn.Sign() <= 0 || o.AmountOut.Sign() <= 0:
		return models.NewError(models.ErrInvalidOrder, "amounts must be positive")
	case o.Price.Sign() <= 0:
		return models.NewError(models.ErrInvalidOrder, "price must be positive")
	}
	return nil
}

func checkSelfTrade(maker, taker models.Order, makerHash, takerHash common.Hash) error {
	if maker.Trader == taker.Trader {
		return models.NewError(models.ErrSelfTradingNotAllowed, maker.Trader.Hex())
	}
	if makerHash == takerHash {
		return models.NewError(models.ErrSelfTradingNotAllowed, "identical orders")
	}
	return nil
}

// checkExpiry fails once the block time has passed the order's deadline.
func checkExpiry(o models.Order, now uint64) error {
	if o.Deadline.Cmp(new(big.Int).SetUint64(now)) < 0 {
		return models.NewError(models.ErrOrderExpired,
			fmt.Sprintf("%s deadline %s before block time %d", o.Trader.Hex(), o.Deadline, now))
	}
	return nil
}

// matchOrders checks that maker and taker are two halves of one trade:
// opposite sides of the same pair, a seller asking no more than the buyer
// bids, amounts that cover each other, and a shared matching validator.
func matchOrders(maker, taker models.Order) error {
	if maker.IsBuy == taker.IsBuy {
		return models.NewError(models.ErrOrdersDontMatch, "orders are on the same side")
	}
	if maker.TokenOut != taker.TokenIn || maker.TokenIn != taker.TokenOut {
		return models.NewError(models.ErrOrdersDontMatch, "token pair mismatch")
	}
	// Price is compared seller against buyer, not maker against taker, so a
	// buying maker may bid above a selling taker's ask.
	seller, buyer := maker, taker
	if maker.IsBuy {
		seller, buyer = taker, maker
	}
	if seller.Price.Cmp(buyer.Price) > 0 {
		return models.NewError(models.ErrOrdersDontMatch,
			fmt.Sprintf("ask %s bps above bid %s bps", seller.Price, buyer.Price))
	}
	if maker.AmountIn.Cmp(taker.AmountOut) < 0 || taker.AmountIn.Cmp(maker.AmountOut) < 0 {
		return models.NewError(models.ErrOrdersDontMatch, "amounts do not cover each other")
	}
	if maker.MatchingValidator != taker.MatchingValidator {
		return models.NewError(models.ErrMatchingValidatorMismatch,
			fmt.Sprintf("%s vs %s", maker.MatchingValidator.Hex(), taker.MatchingValidator.Hex()))
	}
	return nil
}
