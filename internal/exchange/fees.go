package exchange

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xtrntr/settlement/internal/events"
	"github.com/xtrntr/settlement/internal/state"
)

const (
	bpsDenominator = 10000

	LiquidityShareBps = 7000
	ODDAOShareBps     = 2000
	ProtocolShareBps  = 1000
)

// feeFor returns amount * rateBps / 10000, rounded down.
func feeFor(amount, rateBps *big.Int) *big.Int {
	f := new(big.Int).Mul(amount, rateBps)
	return f.Quo(f, big.NewInt(bpsDenominator))
}

// SplitFee divides total 70/20/10. Rounding dust goes to the liquidity
// share, so the parts always sum to total.
func SplitFee(total *big.Int) (liquidity, oddao, protocol *big.Int) {
	oddao = feeFor(total, big.NewInt(ODDAOShareBps))
	protocol = feeFor(total, big.NewInt(ProtocolShareBps))
	liquidity = new(big.Int).Sub(total, oddao)
	liquidity.Sub(liquidity, protocol)
	return liquidity, oddao, protocol
}

// distributeFees pays one asset's collected fee out of custody. It returns
// nil when there is nothing to distribute.
func (e *Exchange) distributeFees(ctx context.Context, tx state.Tx, token common.Address, total *big.Int, facilitator common.Address, tradeHash common.Hash, block uint64) (*events.FeesDistributed, error) {
	if total.Sign() == 0 {
		return nil, nil
	}
	liquidity, oddao, protocol := SplitFee(total)
	for _, p := range []struct {
		to     common.Address
		amount *big.Int
	}{
		{e.recipients.LiquidityPool, liquidity},
		{e.recipients.ODDAO, oddao},
		{e.recipients.Protocol, protocol},
	} {
		if err := e.assets.Transfer(ctx, tx, token, e.custody, p.to, p.amount); err != nil {
			return nil, err
		}
	}
	return &events.FeesDistributed{
		TradeHash:         tradeHash,
		Token:             token,
		MatchingValidator: facilitator,
		LiquidityAmount:   liquidity,
		ODDAOAmount:       oddao,
		ProtocolAmount:    protocol,
		BlockNumber:       block,
	}, nil
}
