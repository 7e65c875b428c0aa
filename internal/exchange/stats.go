package exchange

import (
	"context"
	"fmt"
	"math/big"

	"github.com/xtrntr/settlement/internal/models"
	"github.com/xtrntr/settlement/internal/state"
)

const dayLength = 24 * 60 * 60

// GetTradingStats returns cumulative totals and the current day's volume.
func (e *Exchange) GetTradingStats(ctx context.Context) (models.TradingStats, error) {
	now := e.clock.Head().Time
	var s models.TradingStats
	err := e.store.View(ctx, func(tx state.Tx) error {
		var err error
		s, err = tx.Stats(ctx)
		return err
	})
	if err != nil {
		return models.TradingStats{}, err
	}
	if now >= s.DayStart+dayLength {
		s.DailyVolume = new(big.Int)
	}
	s.DailyLimit = new(big.Int).Set(e.dailyLimit)
	return s, nil
}

// recordVolume adds a trade to the stats, failing if it would push the
// rolling day's volume past the daily limit.
func (e *Exchange) recordVolume(ctx context.Context, tx state.Tx, notional, fees *big.Int, now uint64) error {
	s, err := tx.Stats(ctx)
	if err != nil {
		return err
	}
	if now >= s.DayStart+dayLength {
		s.DayStart = now
		s.DailyVolume = new(big.Int)
	}
	next := new(big.Int).Add(s.DailyVolume, notional)
	if e.dailyLimit.Sign() > 0 && next.Cmp(e.dailyLimit) > 0 {
		return models.NewError(models.ErrDailyLimitExceeded,
			fmt.Sprintf("day volume would be %s, limit %s", next, e.dailyLimit))
	}
	s.DailyVolume = next
	s.Volume.Add(s.Volume, notional)
	s.Fees.Add(s.Fees, fees)
	s.DailyLimit = new(big.Int).Set(e.dailyLimit)
	s.Trades++
	return tx.SetStats(ctx, s)
}
