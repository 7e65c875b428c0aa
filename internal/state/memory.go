package state

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xtrntr/settlement/internal/models"
)

type commitKey struct {
	trader common.Address
	hash   common.Hash
}

type balanceKey struct {
	token, account common.Address
}

type allowanceKey struct {
	token, owner, spender common.Address
}

type records struct {
	nonces      map[common.Address]uint64
	commitments map[commitKey]models.Commitment
	balances    map[balanceKey]*big.Int
	allowances  map[allowanceKey]*big.Int
	stats       *models.TradingStats
	emergency   *models.EmergencyState
	trades      []models.Trade
}

func newRecords() *records {
	return &records{
		nonces:      make(map[common.Address]uint64),
		commitments: make(map[commitKey]models.Commitment),
		balances:    make(map[balanceKey]*big.Int),
		allowances:  make(map[allowanceKey]*big.Int),
	}
}

// MemStore keeps state in memory. Writers are serialised; a transaction's
// writes sit in an overlay until fn returns nil.
type MemStore struct {
	mu   sync.RWMutex
	data *records
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	s := newRecords()
	stats := models.NewTradingStats()
	s.stats = &stats
	s.emergency = &models.EmergencyState{}
	return &MemStore{data: s}
}

// Atomic implements Store.
func (m *MemStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{base: m.data, pending: newRecords()}
	if err := fn(tx); err != nil {
		return err
	}
	tx.apply()
	return nil
}

// View implements Store.
func (m *MemStore) View(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memTx{base: m.data, pending: newRecords(), readOnly: true})
}

type memTx struct {
	base     *records
	pending  *records
	readOnly bool
}

func (t *memTx) apply() {
	for k, v := range t.pending.nonces {
		t.base.nonces[k] = v
	}
	for k, v := range t.pending.commitments {
		t.base.commitments[k] = v
	}
	for k, v := range t.pending.balances {
		t.base.balances[k] = v
	}
	for k, v := range t.pending.allowances {
		t.base.allowances[k] = v
	}
	if t.pending.stats != nil {
		t.base.stats = t.pending.stats
	}
	if t.pending.emergency != nil {
		t.base.emergency = t.pending.emergency
	}
	t.base.trades = append(t.base.trades, t.pending.trades...)
}

func (t *memTx) writable() error {
	if t.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (t *memTx) Nonce(_ context.Context, account common.Address) (uint64, error) {
	if n, ok := t.pending.nonces[account]; ok {
		return n, nil
	}
	return t.base.nonces[account], nil
}

func (t *memTx) SetNonce(_ context.Context, account common.Address, nonce uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.pending.nonces[account] = nonce
	return nil
}

func (t *memTx) Commitment(_ context.Context, trader common.Address, hash common.Hash) (models.Commitment, error) {
	k := commitKey{trader, hash}
	if c, ok := t.pending.commitments[k]; ok {
		return c, nil
	}
	if c, ok := t.base.commitments[k]; ok {
		return c, nil
	}
	return models.Commitment{}, ErrNotFound
}

func (t *memTx) PutCommitment(_ context.Context, c models.Commitment) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.pending.commitments[commitKey{c.Trader, c.OrderHash}] = c
	return nil
}

func (t *memTx) Balance(_ context.Context, token, account common.Address) (*big.Int, error) {
	k := balanceKey{token, account}
	if v, ok := t.pending.balances[k]; ok {
		return new(big.Int).Set(v), nil
	}
	if v, ok := t.base.balances[k]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (t *memTx) SetBalance(_ context.Context, token, account common.Address, amount *big.Int) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.pending.balances[balanceKey{token, account}] = new(big.Int).Set(amount)
	return nil
}

func (t *memTx) Allowance(_ context.Context, token, owner, spender common.Address) (*big.Int, error) {
	k := allowanceKey{token, owner, spender}
	if v, ok := t.pending.allowances[k]; ok {
		return new(big.Int).Set(v), nil
	}
	if v, ok := t.base.allowances[k]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (t *memTx) SetAllowance(_ context.Context, token, owner, spender common.Address, amount *big.Int) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.pending.allowances[allowanceKey{token, owner, spender}] = new(big.Int).Set(amount)
	return nil
}

func (t *memTx) Stats(_ context.Context) (models.TradingStats, error) {
	if t.pending.stats != nil {
		return t.pending.stats.Copy(), nil
	}
	return t.base.stats.Copy(), nil
}

func (t *memTx) SetStats(_ context.Context, s models.TradingStats) error {
	if err := t.writable(); err != nil {
		return err
	}
	c := s.Copy()
	t.pending.stats = &c
	return nil
}

func (t *memTx) Emergency(_ context.Context) (models.EmergencyState, error) {
	if t.pending.emergency != nil {
		return *t.pending.emergency, nil
	}
	return *t.base.emergency, nil
}

func (t *memTx) SetEmergency(_ context.Context, e models.EmergencyState) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.pending.emergency = &e
	return nil
}

func (t *memTx) InsertTrade(_ context.Context, tr models.Trade) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.pending.trades = append(t.pending.trades, tr)
	return nil
}

func (t *memTx) Trades(_ context.Context, account common.Address) ([]models.Trade, error) {
	var out []models.Trade
	for _, list := range [][]models.Trade{t.base.trades, t.pending.trades} {
		for _, tr := range list {
			if account == (common.Address{}) || tr.Maker == account || tr.Taker == account {
				out = append(out, tr)
			}
		}
	}
	return out, nil
}
