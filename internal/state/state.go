// Package state defines the transactional store behind the exchange. Every
// mutating exchange call runs inside one Store.Atomic invocation; either all
// of its writes become visible or none do.
package state

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xtrntr/settlement/internal/models"
)

var (
	// ErrNotFound is returned for absent records.
	ErrNotFound = errors.New("not found")
	// ErrReadOnly is returned by writes inside View.
	ErrReadOnly = errors.New("read-only transaction")
)

// Store runs functions against a consistent view of exchange state.
type Store interface {
	// Atomic runs fn with exclusive write access. If fn returns an error,
	// none of its writes are kept.
	Atomic(ctx context.Context, fn func(tx Tx) error) error
	// View runs fn against a read-only snapshot.
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of records a settlement can read and write.
type Tx interface {
	Nonce(ctx context.Context, account common.Address) (uint64, error)
	SetNonce(ctx context.Context, account common.Address, nonce uint64) error

	// Commitment returns ErrNotFound when trader never committed hash.
	Commitment(ctx context.Context, trader common.Address, hash common.Hash) (models.Commitment, error)
	PutCommitment(ctx context.Context, c models.Commitment) error

	Balance(ctx context.Context, token, account common.Address) (*big.Int, error)
	SetBalance(ctx context.Context, token, account common.Address, amount *big.Int) error
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	SetAllowance(ctx context.Context, token, owner, spender common.Address, amount *big.Int) error

	Stats(ctx context.Context) (models.TradingStats, error)
	SetStats(ctx context.Context, s models.TradingStats) error

	Emergency(ctx context.Context) (models.EmergencyState, error)
	SetEmergency(ctx context.Context, e models.EmergencyState) error

	InsertTrade(ctx context.Context, t models.Trade) error
	// Trades lists trades the account took part in as maker or taker, oldest
	// first. The zero address lists every trade.
	Trades(ctx context.Context, account common.Address) ([]models.Trade, error)
}
