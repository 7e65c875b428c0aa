package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/xtrntr/settlement/internal/events"
	"github.com/xtrntr/settlement/internal/metrics"
	"github.com/xtrntr/settlement/internal/models"
	"github.com/xtrntr/settlement/internal/state"
)

const (
	// MinCommitBlocks is how many blocks must pass before a reveal.
	MinCommitBlocks = 2
	// MaxCommitBlocks is the last block offset at which a reveal is accepted.
	MaxCommitBlocks = 100
)

// CommitmentStatus is a commitment together with its lifecycle state at the
// current head.
type CommitmentStatus struct {
	models.Commitment
	State               models.CommitmentState `json:"state"`
	EligibleRevealBlock uint64                 `json:"eligibleRevealBlock"`
	ExpiryBlock         uint64                 `json:"expiryBlock"`
}

func commitmentState(c models.Commitment, found bool, block uint64) models.CommitmentState {
	switch {
	case !found:
		return models.Uncommitted
	case c.Revealed:
		return models.Revealed
	case block > c.CommitBlock+MaxCommitBlocks:
		return models.Expired
	default:
		return models.Committed
	}
}

func checkRevealWindow(c models.Commitment, block uint64) error {
	if block < c.CommitBlock+MinCommitBlocks {
		return models.NewError(models.ErrRevealTooEarly,
			fmt.Sprintf("block %d, reveal allowed from %d", block, c.CommitBlock+MinCommitBlocks))
	}
	if block > c.CommitBlock+MaxCommitBlocks {
		return models.NewError(models.ErrRevealTooLate,
			fmt.Sprintf("block %d, reveal window closed at %d", block, c.CommitBlock+MaxCommitBlocks))
	}
	return nil
}

// CommitOrder records trader's commitment to orderHash at the current block.
func (e *Exchange) CommitOrder(ctx context.Context, trader common.Address, orderHash common.Hash) (models.Commitment, error) {
	head := e.clock.Head()
	if orderHash == (common.Hash{}) {
		return models.Commitment{}, models.NewError(models.ErrInvalidOrder, "empty order hash")
	}
	c := models.Commitment{Trader: trader, OrderHash: orderHash, CommitBlock: head.Number}
	err := e.store.Atomic(ctx, func(tx state.Tx) error {
		_, err := tx.Commitment(ctx, trader, orderHash)
		switch {
		case err == nil:
			return models.NewError(models.ErrCommitmentExists, orderHash.Hex())
		case !errors.Is(err, state.ErrNotFound):
			return err
		}
		return tx.PutCommitment(ctx, c)
	})
	if err != nil {
		metrics.Commitments.WithLabelValues("commit", kindOf(err)).Inc()
		return models.Commitment{}, err
	}
	metrics.Commitments.WithLabelValues("commit", "ok").Inc()
	e.logger.Info("order committed", zap.Stringer("trader", trader), zap.Stringer("orderHash", orderHash), zap.Uint64("block", head.Number))
	e.events.Publish(ctx, events.Wrap(head.Number, events.OrderCommitted{
		Trader:              trader,
		OrderHash:           orderHash,
		EligibleRevealBlock: head.Number + MinCommitBlocks,
	}))
	return c, nil
}

// RevealOrder discloses a committed order. Only the order's trader may
// reveal it, and only inside the commitment's reveal window.
func (e *Exchange) RevealOrder(ctx context.Context, caller common.Address, o models.Order) (common.Hash, error) {
	head := e.clock.Head()
	if caller != o.Trader {
		return common.Hash{}, models.NewError(models.ErrNotOrderOwner, caller.Hex())
	}
	hash, err := e.codec.Hash(o)
	if err != nil {
		return common.Hash{}, err
	}
	err = e.store.Atomic(ctx, func(tx state.Tx) error {
		c, err := tx.Commitment(ctx, o.Trader, hash)
		if errors.Is(err, state.ErrNotFound) {
			return models.NewError(models.ErrCommitmentNotFound, hash.Hex())
		}
		if err != nil {
			return err
		}
		if c.Revealed {
			return models.NewError(models.ErrAlreadyRevealed, hash.Hex())
		}
		if err := checkRevealWindow(c, head.Number); err != nil {
			return err
		}
		c.Revealed = true
		return tx.PutCommitment(ctx, c)
	})
	if err != nil {
		metrics.Commitments.WithLabelValues("reveal", kindOf(err)).Inc()
		return common.Hash{}, err
	}
	metrics.Commitments.WithLabelValues("reveal", "ok").Inc()
	e.events.Publish(ctx, events.Wrap(head.Number, events.OrderRevealed{Trader: o.Trader, OrderHash: hash}))
	return hash, nil
}

// GetCommitment returns the commitment for (trader, orderHash). An absent
// commitment is reported as Uncommitted, not as an error.
func (e *Exchange) GetCommitment(ctx context.Context, trader common.Address, orderHash common.Hash) (CommitmentStatus, error) {
	head := e.clock.Head()
	var st CommitmentStatus
	err := e.store.View(ctx, func(tx state.Tx) error {
		c, err := tx.Commitment(ctx, trader, orderHash)
		found := err == nil
		if err != nil && !errors.Is(err, state.ErrNotFound) {
			return err
		}
		if !found {
			c = models.Commitment{Trader: trader, OrderHash: orderHash}
		}
		st = CommitmentStatus{Commitment: c, State: commitmentState(c, found, head.Number)}
		if found {
			st.EligibleRevealBlock = c.CommitBlock + MinCommitBlocks
			st.ExpiryBlock = c.CommitBlock + MaxCommitBlocks
		}
		return nil
	})
	return st, err
}

// revealPending reveals an unrevealed commitment inline during settlement.
// Orders without a commitment pass.
func revealPending(ctx context.Context, tx state.Tx, trader common.Address, hash common.Hash, block uint64) (bool, error) {
	c, err := tx.Commitment(ctx, trader, hash)
	if errors.Is(err, state.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if c.Revealed {
		return false, nil
	}
	if err := checkRevealWindow(c, block); err != nil {
		return false, err
	}
	c.Revealed = true
	return true, tx.PutCommitment(ctx, c)
}
