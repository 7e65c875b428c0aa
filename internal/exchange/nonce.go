package exchange

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xtrntr/settlement/internal/models"
	"github.com/xtrntr/settlement/internal/state"
)

// GetNonce returns the nonce account's next order must carry.
func (e *Exchange) GetNonce(ctx context.Context, account common.Address) (uint64, error) {
	var n uint64
	err := e.store.View(ctx, func(tx state.Tx) error {
		var err error
		n, err = tx.Nonce(ctx, account)
		return err
	})
	return n, err
}

// checkNonce requires o to carry its trader's current nonce. A stale nonce
// almost always means the order was already settled.
func checkNonce(ctx context.Context, tx state.Tx, o models.Order) error {
	cur, err := tx.Nonce(ctx, o.Trader)
	if err != nil {
		return err
	}
	if !o.Nonce.IsUint64() || o.Nonce.Uint64() != cur {
		return models.NewError(models.ErrOrderAlreadyFilled,
			fmt.Sprintf("%s order nonce %s, current %d", o.Trader.Hex(), o.Nonce, cur))
	}
	return nil
}

func advanceNonce(ctx context.Context, tx state.Tx, account common.Address) error {
	cur, err := tx.Nonce(ctx, account)
	if err != nil {
		return err
	}
	return tx.SetNonce(ctx, account, cur+1)
}
