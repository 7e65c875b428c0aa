// Package events carries exchange events from committed calls to
// subscribers and external sinks.
package events

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Event is an exchange event payload.
type Event interface {
	EventName() string
}

type OrderCommitted struct {
	Trader              common.Address `json:"trader"`
	OrderHash           common.Hash    `json:"orderHash"`
	EligibleRevealBlock uint64         `json:"eligibleRevealBlock"`
}

func (OrderCommitted) EventName() string { return "OrderCommitted" }

type OrderRevealed struct {
	Trader    common.Address `json:"trader"`
	OrderHash common.Hash    `json:"orderHash"`
}

func (OrderRevealed) EventName() string { return "OrderRevealed" }

// TradeSettled credits MatchingValidator; the submitter is never named.
type TradeSettled struct {
	TradeHash         common.Hash    `json:"tradeHash"`
	Maker             common.Address `json:"maker"`
	Taker             common.Address `json:"taker"`
	MatchingValidator common.Address `json:"matchingValidator"`
	MakerOrderHash    common.Hash    `json:"makerOrderHash"`
	TakerOrderHash    common.Hash    `json:"takerOrderHash"`
	MakerAmountIn     *big.Int       `json:"makerAmountIn"`
	TakerAmountIn     *big.Int       `json:"takerAmountIn"`
	MakerFee          *big.Int       `json:"makerFee"`
	TakerFee          *big.Int       `json:"takerFee"`
}

func (TradeSettled) EventName() string { return "TradeSettled" }

type FeesDistributed struct {
	TradeHash         common.Hash    `json:"tradeHash"`
	Token             common.Address `json:"token"`
	MatchingValidator common.Address `json:"matchingValidator"`
	LiquidityAmount   *big.Int       `json:"liquidityAmount"`
	ODDAOAmount       *big.Int       `json:"oddaoAmount"`
	ProtocolAmount    *big.Int       `json:"protocolAmount"`
	BlockNumber       uint64         `json:"blockNumber"`
}

func (FeesDistributed) EventName() string { return "FeesDistributed" }

type EmergencyStop struct {
	Admin  common.Address `json:"admin"`
	Reason string         `json:"reason"`
}

func (EmergencyStop) EventName() string { return "EmergencyStop" }

type TradingResumed struct {
	Admin common.Address `json:"admin"`
}

func (TradingResumed) EventName() string { return "TradingResumed" }

// Envelope is an event stamped with the block it was emitted in.
type Envelope struct {
	Name  string `json:"event"`
	Block uint64 `json:"block"`
	Data  Event  `json:"data"`
}

// Wrap stamps ev with block.
func Wrap(block uint64, ev Event) Envelope {
	return Envelope{Name: ev.EventName(), Block: block, Data: ev}
}

// Sink receives every published batch.
type Sink interface {
	Publish(ctx context.Context, evs []Envelope) error
}

// Bus fans events out to in-process subscribers and sinks.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Envelope
	sinks  []Sink
	logger *zap.Logger
}

// NewBus returns a bus publishing to sinks.
func NewBus(logger *zap.Logger, sinks ...Sink) *Bus {
	return &Bus{
		subs:   make(map[int]chan Envelope),
		sinks:  sinks,
		logger: logger,
	}
}

// Subscribe returns a channel of future events and a cancel func. Slow
// subscribers miss events rather than block publishers.
func (b *Bus) Subscribe(buffer int) (<-chan Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Envelope, buffer)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Publish delivers evs in order.
func (b *Bus) Publish(ctx context.Context, evs ...Envelope) {
	if len(evs) == 0 {
		return
	}
	b.mu.RLock()
	for id, ch := range b.subs {
		for _, ev := range evs {
			select {
			case ch <- ev:
			default:
				b.logger.Warn("subscriber lagging, dropping event", zap.Int("subscriber", id), zap.String("event", ev.Name))
			}
		}
	}
	b.mu.RUnlock()

	// Events are already committed; the caller going away must not drop them.
	ctx = context.WithoutCancel(ctx)
	for _, s := range b.sinks {
		if err := s.Publish(ctx, evs); err != nil {
			b.logger.Error("event sink publish failed", zap.Error(err))
		}
	}
}

// LogSink writes every event to a logger.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Publish(_ context.Context, evs []Envelope) error {
	for _, ev := range evs {
		s.Logger.Info("event", zap.String("name", ev.Name), zap.Uint64("block", ev.Block), zap.Any("data", ev.Data))
	}
	return nil
}
