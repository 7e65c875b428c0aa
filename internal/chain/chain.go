// Package chain provides the block height and block time that commit-reveal
// windows, order deadlines and the rolling daily cap are measured against.
package chain

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Block is a point on the chain.
type Block struct {
	Number uint64 `json:"number"`
	Time   uint64 `json:"time"` // unix seconds
}

// Clock reports the current head.
type Clock interface {
	Head() Block
}

// Chain is a locally produced sequence of blocks.
type Chain struct {
	mu   sync.RWMutex
	head Block
}

// New starts a chain at the given genesis block.
func New(genesis Block) *Chain {
	return &Chain{head: genesis}
}

// Head returns the latest block.
func (c *Chain) Head() Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.head
}

// Mine appends n blocks, each advancing time by step.
func (c *Chain) Mine(n uint64, step time.Duration) Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head.Number += n
	c.head.Time += n * uint64(step/time.Second)
	return c.head
}

// MineAt appends one block stamped with t. Time never moves backwards.
func (c *Chain) MineAt(t time.Time) Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head.Number++
	if ts := uint64(t.Unix()); ts > c.head.Time {
		c.head.Time = ts
	}
	return c.head
}

// Run produces a block every interval until ctx is done.
func (c *Chain) Run(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			b := c.MineAt(now)
			logger.Debug("block produced", zap.Uint64("number", b.Number), zap.Uint64("time", b.Time))
		}
	}
}
