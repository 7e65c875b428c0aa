package db

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xtrntr/settlement/internal/models"
	"github.com/xtrntr/settlement/internal/state"
)

// writerLock is the advisory lock key every Atomic transaction takes, so
// settlements are applied one at a time.
const writerLock = 0x5e771e

// DB wraps a PostgreSQL connection pool and implements state.Store.
type DB struct {
	Pool *pgxpool.Pool
}

var _ state.Store = (*DB)(nil)

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate executes a schema script.
func (db *DB) Migrate(ctx context.Context, script string) error {
	if _, err := db.Pool.Exec(ctx, script); err != nil {
		return fmt.Errorf("failed to apply migration: %w", err)
	}
	return nil
}

// Atomic runs fn in a read-committed transaction holding the writer lock.
// The transaction commits only if fn returns nil.
func (db *DB) Atomic(ctx context.Context, fn func(tx state.Tx) error) error {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", writerLock); err != nil {
		return fmt.Errorf("failed to take writer lock: %w", err)
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// View runs fn in a read-only repeatable-read transaction.
func (db *DB) View(ctx context.Context, fn func(tx state.Tx) error) error {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)
	return fn(&pgTx{tx: tx, readOnly: true})
}

type pgTx struct {
	tx       pgx.Tx
	readOnly bool
}

func (t *pgTx) exec(ctx context.Context, what, sql string, args ...any) error {
	if t.readOnly {
		return state.ErrReadOnly
	}
	if _, err := t.tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	return nil
}

func (t *pgTx) Nonce(ctx context.Context, account common.Address) (uint64, error) {
	var n int64
	err := t.tx.QueryRow(ctx, "SELECT nonce FROM nonces WHERE account = $1", account.Hex()).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get nonce: %w", err)
	}
	return uint64(n), nil
}

func (t *pgTx) SetNonce(ctx context.Context, account common.Address, nonce uint64) error {
	return t.exec(ctx, "set nonce",
		`INSERT INTO nonces (account, nonce) VALUES ($1, $2)
		 ON CONFLICT (account) DO UPDATE SET nonce = EXCLUDED.nonce`,
		account.Hex(), int64(nonce))
}

func (t *pgTx) Commitment(ctx context.Context, trader common.Address, hash common.Hash) (models.Commitment, error) {
	c := models.Commitment{Trader: trader, OrderHash: hash}
	var block int64
	err := t.tx.QueryRow(ctx,
		"SELECT commit_block, revealed FROM commitments WHERE trader = $1 AND order_hash = $2",
		trader.Hex(), hash.Hex()).Scan(&block, &c.Revealed)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Commitment{}, state.ErrNotFound
	}
	if err != nil {
		return models.Commitment{}, fmt.Errorf("failed to get commitment: %w", err)
	}
	c.CommitBlock = uint64(block)
	return c, nil
}

func (t *pgTx) PutCommitment(ctx context.Context, c models.Commitment) error {
	return t.exec(ctx, "store commitment",
		`INSERT INTO commitments (trader, order_hash, commit_block, revealed) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (trader, order_hash) DO UPDATE SET commit_block = EXCLUDED.commit_block, revealed = EXCLUDED.revealed`,
		c.Trader.Hex(), c.OrderHash.Hex(), int64(c.CommitBlock), c.Revealed)
}

func (t *pgTx) Balance(ctx context.Context, token, account common.Address) (*big.Int, error) {
	return t.amount(ctx, "balance",
		"SELECT amount::text FROM balances WHERE token = $1 AND account = $2",
		token.Hex(), account.Hex())
}

func (t *pgTx) SetBalance(ctx context.Context, token, account common.Address, amount *big.Int) error {
	return t.exec(ctx, "set balance",
		`INSERT INTO balances (token, account, amount) VALUES ($1, $2, $3::numeric)
		 ON CONFLICT (token, account) DO UPDATE SET amount = EXCLUDED.amount`,
		token.Hex(), account.Hex(), amount.String())
}

func (t *pgTx) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return t.amount(ctx, "allowance",
		"SELECT amount::text FROM allowances WHERE token = $1 AND owner = $2 AND spender = $3",
		token.Hex(), owner.Hex(), spender.Hex())
}

func (t *pgTx) SetAllowance(ctx context.Context, token, owner, spender common.Address, amount *big.Int) error {
	return t.exec(ctx, "set allowance",
		`INSERT INTO allowances (token, owner, spender, amount) VALUES ($1, $2, $3, $4::numeric)
		 ON CONFLICT (token, owner, spender) DO UPDATE SET amount = EXCLUDED.amount`,
		token.Hex(), owner.Hex(), spender.Hex(), amount.String())
}

// amount reads a single NUMERIC column; a missing row is zero.
func (t *pgTx) amount(ctx context.Context, what, sql string, args ...any) (*big.Int, error) {
	var s string
	err := t.tx.QueryRow(ctx, sql, args...).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", what, err)
	}
	return parseAmount(s)
}

func (t *pgTx) Stats(ctx context.Context) (models.TradingStats, error) {
	var (
		volume, fees, daily string
		dayStart, trades    int64
	)
	err := t.tx.QueryRow(ctx,
		"SELECT volume::text, fees::text, daily_volume::text, day_start, trades FROM trading_stats WHERE id = 1").
		Scan(&volume, &fees, &daily, &dayStart, &trades)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.NewTradingStats(), nil
	}
	if err != nil {
		return models.TradingStats{}, fmt.Errorf("failed to get trading stats: %w", err)
	}
	s := models.NewTradingStats()
	for _, f := range []struct {
		dst *big.Int
		src string
	}{{s.Volume, volume}, {s.Fees, fees}, {s.DailyVolume, daily}} {
		v, err := parseAmount(f.src)
		if err != nil {
			return models.TradingStats{}, err
		}
		f.dst.Set(v)
	}
	s.DayStart = uint64(dayStart)
	s.Trades = uint64(trades)
	return s, nil
}

func (t *pgTx) SetStats(ctx context.Context, s models.TradingStats) error {
	s = s.Copy()
	return t.exec(ctx, "set trading stats",
		`INSERT INTO trading_stats (id, volume, fees, daily_volume, day_start, trades)
		 VALUES (1, $1::numeric, $2::numeric, $3::numeric, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET volume = EXCLUDED.volume, fees = EXCLUDED.fees,
		   daily_volume = EXCLUDED.daily_volume, day_start = EXCLUDED.day_start, trades = EXCLUDED.trades`,
		s.Volume.String(), s.Fees.String(), s.DailyVolume.String(), int64(s.DayStart), int64(s.Trades))
}

func (t *pgTx) Emergency(ctx context.Context) (models.EmergencyState, error) {
	var (
		e     models.EmergencyState
		admin string
		since int64
	)
	err := t.tx.QueryRow(ctx, "SELECT active, reason, admin, since FROM emergency_state WHERE id = 1").
		Scan(&e.Active, &e.Reason, &admin, &since)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.EmergencyState{}, nil
	}
	if err != nil {
		return models.EmergencyState{}, fmt.Errorf("failed to get emergency state: %w", err)
	}
	e.Admin = common.HexToAddress(admin)
	e.Since = uint64(since)
	return e, nil
}

func (t *pgTx) SetEmergency(ctx context.Context, e models.EmergencyState) error {
	return t.exec(ctx, "set emergency state",
		`INSERT INTO emergency_state (id, active, reason, admin, since) VALUES (1, $1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET active = EXCLUDED.active, reason = EXCLUDED.reason,
		   admin = EXCLUDED.admin, since = EXCLUDED.since`,
		e.Active, e.Reason, e.Admin.Hex(), int64(e.Since))
}

func (t *pgTx) InsertTrade(ctx context.Context, tr models.Trade) error {
	return t.exec(ctx, "create trade",
		`INSERT INTO trades (id, trade_hash, maker_order_hash, taker_order_hash, maker, taker,
		   matching_validator, submitter, maker_token, taker_token,
		   maker_amount, taker_amount, maker_fee, taker_fee, block, block_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		   $11::numeric, $12::numeric, $13::numeric, $14::numeric, $15, $16)`,
		tr.ID, tr.TradeHash.Hex(), tr.MakerOrderHash.Hex(), tr.TakerOrderHash.Hex(),
		tr.Maker.Hex(), tr.Taker.Hex(), tr.MatchingValidator.Hex(), tr.Submitter.Hex(),
		tr.MakerToken.Hex(), tr.TakerToken.Hex(),
		tr.MakerAmount.String(), tr.TakerAmount.String(), tr.MakerFee.String(), tr.TakerFee.String(),
		int64(tr.Block), int64(tr.Timestamp))
}

func (t *pgTx) Trades(ctx context.Context, account common.Address) ([]models.Trade, error) {
	filter := ""
	if account != (common.Address{}) {
		filter = account.Hex()
	}
	rows, err := t.tx.Query(ctx, `
		SELECT id::text, trade_hash, maker_order_hash, taker_order_hash, maker, taker,
		       matching_validator, submitter, maker_token, taker_token,
		       maker_amount::text, taker_amount::text, maker_fee::text, taker_fee::text, block, block_time
		FROM trades
		WHERE $1::text = '' OR maker = $1::text OR taker = $1::text
		ORDER BY seq ASC
	`, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to get trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var (
			tr                                 models.Trade
			tradeHash, makerHash, takerHash    string
			maker, taker, validator, submitter string
			makerToken, takerToken             string
			makerAmount, takerAmount           string
			makerFee, takerFee                 string
			block, blockTime                   int64
		)
		if err := rows.Scan(&tr.ID, &tradeHash, &makerHash, &takerHash, &maker, &taker,
			&validator, &submitter, &makerToken, &takerToken,
			&makerAmount, &takerAmount, &makerFee, &takerFee, &block, &blockTime); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		tr.TradeHash = common.HexToHash(tradeHash)
		tr.MakerOrderHash = common.HexToHash(makerHash)
		tr.TakerOrderHash = common.HexToHash(takerHash)
		tr.Maker = common.HexToAddress(maker)
		tr.Taker = common.HexToAddress(taker)
		tr.MatchingValidator = common.HexToAddress(validator)
		tr.Submitter = common.HexToAddress(submitter)
		tr.MakerToken = common.HexToAddress(makerToken)
		tr.TakerToken = common.HexToAddress(takerToken)
		for _, f := range []struct {
			dst **big.Int
			src string
		}{{&tr.MakerAmount, makerAmount}, {&tr.TakerAmount, takerAmount}, {&tr.MakerFee, makerFee}, {&tr.TakerFee, takerFee}} {
			if *f.dst, err = parseAmount(f.src); err != nil {
				return nil, err
			}
		}
		tr.Block = uint64(block)
		tr.Timestamp = uint64(blockTime)
		trades = append(trades, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trades: %w", err)
	}
	return trades, nil
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}
