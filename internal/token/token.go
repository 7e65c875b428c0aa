// Package token implements fungible-token balances and allowances on top of
// the exchange state store, with ERC-20 transfer and approval semantics.
package token

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/settlement/internal/models"
	"github.com/xtrntr/settlement/internal/state"
)

// Token describes a tradable asset.
type Token struct {
	Symbol   string         `json:"symbol"`
	Address  common.Address `json:"address"`
	Decimals int32          `json:"decimals"`
}

// Registry is the set of assets the exchange accepts.
type Registry struct {
	byAddr map[common.Address]Token
}

// NewRegistry validates and indexes tokens.
func NewRegistry(tokens ...Token) (*Registry, error) {
	r := &Registry{byAddr: make(map[common.Address]Token, len(tokens))}
	for _, t := range tokens {
		if t.Address == (common.Address{}) {
			return nil, fmt.Errorf("token %s has zero address", t.Symbol)
		}
		if t.Decimals < 0 || t.Decimals > 36 {
			return nil, fmt.Errorf("token %s has invalid decimals %d", t.Symbol, t.Decimals)
		}
		if _, dup := r.byAddr[t.Address]; dup {
			return nil, fmt.Errorf("duplicate token address %s", t.Address.Hex())
		}
		r.byAddr[t.Address] = t
	}
	return r, nil
}

// Lookup returns the token at addr.
func (r *Registry) Lookup(addr common.Address) (Token, error) {
	t, ok := r.byAddr[addr]
	if !ok {
		return Token{}, models.NewError(models.ErrUnknownToken, addr.Hex())
	}
	return t, nil
}

// All returns the registered tokens ordered by symbol.
func (r *Registry) All() []Token {
	out := make([]Token, 0, len(r.byAddr))
	for _, t := range r.byAddr {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToUpper(out[i].Symbol) < strings.ToUpper(out[j].Symbol)
	})
	return out
}

// FormatUnits renders base units as a decimal amount, e.g. 1500000 with 6
// decimals is "1.5".
func FormatUnits(amount *big.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -decimals).String()
}

// ParseUnits converts a decimal amount into base units. Amounts finer than
// the token's precision are rejected.
func ParseUnits(s string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount %q is negative", s)
	}
	shifted := d.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("amount %q exceeds %d decimals", s, decimals)
	}
	return shifted.BigInt(), nil
}

// Bank moves tokens between accounts inside a state transaction.
type Bank struct {
	registry *Registry
}

// NewBank returns a bank over the given registry.
func NewBank(r *Registry) *Bank {
	return &Bank{registry: r}
}

// Registry returns the bank's token registry.
func (b *Bank) Registry() *Registry {
	return b.registry
}

// BalanceOf returns account's balance of token.
func (b *Bank) BalanceOf(ctx context.Context, tx state.Tx, token, account common.Address) (*big.Int, error) {
	if _, err := b.registry.Lookup(token); err != nil {
		return nil, err
	}
	return tx.Balance(ctx, token, account)
}

// Allowance returns how much spender may move from owner.
func (b *Bank) Allowance(ctx context.Context, tx state.Tx, token, owner, spender common.Address) (*big.Int, error) {
	if _, err := b.registry.Lookup(token); err != nil {
		return nil, err
	}
	return tx.Allowance(ctx, token, owner, spender)
}

// Approve sets spender's allowance over owner's token balance.
func (b *Bank) Approve(ctx context.Context, tx state.Tx, token, owner, spender common.Address, amount *big.Int) error {
	if _, err := b.registry.Lookup(token); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid allowance")
	}
	return tx.SetAllowance(ctx, token, owner, spender, amount)
}

// Transfer moves amount of token from one account to another.
func (b *Bank) Transfer(ctx context.Context, tx state.Tx, token, from, to common.Address, amount *big.Int) error {
	if _, err := b.registry.Lookup(token); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid transfer amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromBal, err := tx.Balance(ctx, token, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return models.NewError(models.ErrInsufficientBalance,
			fmt.Sprintf("%s holds %s of %s, needs %s", from.Hex(), fromBal, token.Hex(), amount))
	}
	if err := tx.SetBalance(ctx, token, from, fromBal.Sub(fromBal, amount)); err != nil {
		return err
	}
	toBal, err := tx.Balance(ctx, token, to)
	if err != nil {
		return err
	}
	return tx.SetBalance(ctx, token, to, toBal.Add(toBal, amount))
}

// TransferFrom moves amount from one account to another on behalf of spender,
// consuming spender's allowance.
func (b *Bank) TransferFrom(ctx context.Context, tx state.Tx, token, spender, from, to common.Address, amount *big.Int) error {
	allowance, err := b.Allowance(ctx, tx, token, from, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return models.NewError(models.ErrInsufficientAllowance,
			fmt.Sprintf("%s allows %s to move %s of %s, needs %s", from.Hex(), spender.Hex(), allowance, token.Hex(), amount))
	}
	if err := tx.SetAllowance(ctx, token, from, spender, allowance.Sub(allowance, amount)); err != nil {
		return err
	}
	return b.Transfer(ctx, tx, token, from, to, amount)
}

// Mint credits new tokens to an account.
func (b *Bank) Mint(ctx context.Context, tx state.Tx, token, to common.Address, amount *big.Int) error {
	if _, err := b.registry.Lookup(token); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("mint amount must be positive")
	}
	bal, err := tx.Balance(ctx, token, to)
	if err != nil {
		return err
	}
	return tx.SetBalance(ctx, token, to, bal.Add(bal, amount))
}
