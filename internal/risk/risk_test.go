package risk

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/you/dexarb/internal/config"
)

func newEngine() *Engine {
	cfg := &config.Config{}
	cfg.Risk.MaxLiquidityFraction = 0.10
	return NewEngine(cfg)
}

func TestCheckImpactWithinBudget(t *testing.T) {
	e := newEngine()
	assert.NoError(t, e.CheckImpact(90, 1000, 2000))
}

func TestCheckImpactBuySideTooThin(t *testing.T) {
	e := newEngine()
	err := e.CheckImpact(150, 1000, 100_000)
	assert.ErrorIs(t, err, ErrLiquidityImpactTooHigh)
}

func TestCheckImpactSellSideTooThin(t *testing.T) {
	e := newEngine()
	err := e.CheckImpact(150, 100_000, 1000)
	assert.ErrorIs(t, err, ErrLiquidityImpactTooHigh)
}

func TestCheckBalance(t *testing.T) {
	e := newEngine()
	assert.NoError(t, e.CheckBalance(big.NewInt(100), big.NewInt(100)))
	assert.ErrorIs(t, e.CheckBalance(big.NewInt(99), big.NewInt(100)), ErrInsufficientBalance)
}
