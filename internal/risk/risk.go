// Package risk holds the pre-flight gates that run before any
// transaction is built.
package risk

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/you/dexarb/internal/config"
)

var (
	ErrInsufficientBalance    = errors.New("wallet balance below trade size")
	ErrLiquidityImpactTooHigh = errors.New("trade notional exceeds venue liquidity budget")
)

type Engine struct{ cfg *config.Config }

func NewEngine(cfg *config.Config) *Engine { return &Engine{cfg: cfg} }

// CheckImpact bounds price impact: the trade's USD notional must not
// exceed the configured fraction of either venue's reported liquidity.
// Pure arithmetic, no chain access; it runs before anything that costs
// an RPC.
func (e *Engine) CheckImpact(notionalUSD, buyLiquidityUSD, sellLiquidityUSD float64) error {
	limit := e.cfg.Risk.MaxLiquidityFraction
	if notionalUSD > buyLiquidityUSD*limit {
		return fmt.Errorf("%w: notional %.2f vs buy-side liquidity %.2f", ErrLiquidityImpactTooHigh, notionalUSD, buyLiquidityUSD)
	}
	if notionalUSD > sellLiquidityUSD*limit {
		return fmt.Errorf("%w: notional %.2f vs sell-side liquidity %.2f", ErrLiquidityImpactTooHigh, notionalUSD, sellLiquidityUSD)
	}
	return nil
}

// CheckBalance verifies the wallet can fund the input leg.
func (e *Engine) CheckBalance(balance, tradeSize *big.Int) error {
	if balance.Cmp(tradeSize) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, balance.String(), tradeSize.String())
	}
	return nil
}
