package models

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

// Order is a signed trade intent. Every field is part of the signed digest.
type Order struct {
	Trader            common.Address
	IsBuy             bool
	TokenIn           common.Address // token the trader gives
	TokenOut          common.Address // token the trader receives
	AmountIn          *big.Int
	AmountOut         *big.Int
	Price             *big.Int // basis points, 10000 = 1:1
	Deadline          *big.Int // unix seconds
	Salt              common.Hash
	MatchingValidator common.Address
	Nonce             *big.Int
}

type orderJSON struct {
	Trader            common.Address `json:"trader"`
	IsBuy             bool           `json:"isBuy"`
	TokenIn           common.Address `json:"tokenIn"`
	TokenOut          common.Address `json:"tokenOut"`
	AmountIn          string         `json:"amountIn"`
	AmountOut         string         `json:"amountOut"`
	Price             string         `json:"price"`
	Deadline          string         `json:"deadline"`
	Salt              common.Hash    `json:"salt"`
	MatchingValidator common.Address `json:"matchingValidator"`
	Nonce             string         `json:"nonce"`
}

// MarshalJSON encodes integers as decimal strings.
func (o Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(orderJSON{
		Trader:            o.Trader,
		IsBuy:             o.IsBuy,
		TokenIn:           o.TokenIn,
		TokenOut:          o.TokenOut,
		AmountIn:          bigString(o.AmountIn),
		AmountOut:         bigString(o.AmountOut),
		Price:             bigString(o.Price),
		Deadline:          bigString(o.Deadline),
		Salt:              o.Salt,
		MatchingValidator: o.MatchingValidator,
		Nonce:             bigString(o.Nonce),
	})
}

// UnmarshalJSON accepts decimal or 0x-prefixed hex integers.
func (o *Order) UnmarshalJSON(b []byte) error {
	var raw orderJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	fields := []struct {
		name string
		in   string
		out  **big.Int
	}{
		{"amountIn", raw.AmountIn, &o.AmountIn},
		{"amountOut", raw.AmountOut, &o.AmountOut},
		{"price", raw.Price, &o.Price},
		{"deadline", raw.Deadline, &o.Deadline},
		{"nonce", raw.Nonce, &o.Nonce},
	}
	for _, f := range fields {
		v, ok := math.ParseBig256(f.in)
		if !ok {
			return fmt.Errorf("invalid %s %q", f.name, f.in)
		}
		*f.out = v
	}
	o.Trader = raw.Trader
	o.IsBuy = raw.IsBuy
	o.TokenIn = raw.TokenIn
	o.TokenOut = raw.TokenOut
	o.Salt = raw.Salt
	o.MatchingValidator = raw.MatchingValidator
	return nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// CommitmentState is the position of a commitment in the commit-reveal
// lifecycle.
type CommitmentState int

const (
	Uncommitted CommitmentState = iota
	Committed
	Revealed
	Expired
)

func (s CommitmentState) String() string {
	switch s {
	case Uncommitted:
		return "uncommitted"
	case Committed:
		return "committed"
	case Revealed:
		return "revealed"
	case Expired:
		return "expired"
	}
	return fmt.Sprintf("CommitmentState(%d)", int(s))
}

// MarshalText lets the state render by name in JSON.
func (s CommitmentState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Commitment is a trader's pre-published order hash.
type Commitment struct {
	Trader      common.Address `json:"trader"`
	OrderHash   common.Hash    `json:"orderHash"`
	CommitBlock uint64         `json:"commitBlock"`
	Revealed    bool           `json:"revealed"`
}

// FeeRecipients are the three fixed fee destinations.
type FeeRecipients struct {
	LiquidityPool common.Address `json:"liquidityPool"`
	ODDAO         common.Address `json:"oddao"`
	Protocol      common.Address `json:"protocol"`
}

// TradingStats holds cumulative and rolling-day settlement totals.
type TradingStats struct {
	Volume      *big.Int `json:"volume"`
	Fees        *big.Int `json:"fees"`
	DailyLimit  *big.Int `json:"dailyLimit"`
	DailyVolume *big.Int `json:"dailyVolume"`
	DayStart    uint64   `json:"dayStart"`
	Trades      uint64   `json:"trades"`
}

// NewTradingStats returns zeroed stats.
func NewTradingStats() TradingStats {
	return TradingStats{
		Volume:      new(big.Int),
		Fees:        new(big.Int),
		DailyLimit:  new(big.Int),
		DailyVolume: new(big.Int),
	}
}

// Copy returns a deep copy.
func (s TradingStats) Copy() TradingStats {
	c := s
	c.Volume = copyBig(s.Volume)
	c.Fees = copyBig(s.Fees)
	c.DailyLimit = copyBig(s.DailyLimit)
	c.DailyVolume = copyBig(s.DailyVolume)
	return c
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// EmergencyState is the settlement circuit breaker.
type EmergencyState struct {
	Active bool           `json:"active"`
	Reason string         `json:"reason"`
	Admin  common.Address `json:"admin"`
	Since  uint64         `json:"since"`
}

// Trade is the record of a settled order pair.
type Trade struct {
	ID                string         `json:"id"`
	TradeHash         common.Hash    `json:"tradeHash"`
	MakerOrderHash    common.Hash    `json:"makerOrderHash"`
	TakerOrderHash    common.Hash    `json:"takerOrderHash"`
	Maker             common.Address `json:"maker"`
	Taker             common.Address `json:"taker"`
	MatchingValidator common.Address `json:"matchingValidator"`
	Submitter         common.Address `json:"submitter"`
	MakerToken        common.Address `json:"makerToken"`
	TakerToken        common.Address `json:"takerToken"`
	MakerAmount       *big.Int       `json:"makerAmount"`
	TakerAmount       *big.Int       `json:"takerAmount"`
	MakerFee          *big.Int       `json:"makerFee"`
	TakerFee          *big.Int       `json:"takerFee"`
	Block             uint64         `json:"block"`
	Timestamp         uint64         `json:"timestamp"`
}
