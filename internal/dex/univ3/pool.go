package univ3

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/you/dexarb/internal/dex/core"
	"github.com/you/dexarb/internal/multicall"
)

// FeeTiers is the fixed probe order: 0.01%, 0.05%, 0.25%, 0.30%, 1%.
// The 2500 tier is Pancake-style; Uniswap deployments simply return the
// zero address for it. The first tier with a deployed pool wins.
var FeeTiers = []uint32{100, 500, 2500, 3000, 10000}

type poolInfo struct {
	Addr    common.Address
	FeeTier uint32
}

// findPool probes the factory across the fee-tier ladder. With a
// multicall client all getPool calls collapse into one RPC; without one
// it degrades to sequential calls through the resilient executor.
func (s *Strategy) findPool(ctx context.Context, factory, tokenIn, tokenOut common.Address) (poolInfo, error) {
	if factory == (common.Address{}) {
		return poolInfo{}, fmt.Errorf("%w: v3 venue has no factory configured", core.ErrPoolNotFound)
	}

	candidates, err := s.probeFactory(ctx, factory, tokenIn, tokenOut)
	if err != nil {
		return poolInfo{}, err
	}

	for _, tier := range FeeTiers {
		addr, ok := candidates[tier]
		if !ok || addr == (common.Address{}) {
			continue
		}
		code, err := s.ec.CodeAt(ctx, addr, nil)
		if err != nil {
			return poolInfo{}, fmt.Errorf("%w: code check: %v", core.ErrQuoteUnavailable, err)
		}
		if len(code) == 0 {
			s.log.Debug("factory returned pool with no code, skipping tier",
				zap.Uint32("fee", tier), zap.String("pool", addr.Hex()))
			continue
		}
		s.log.Info("v3 pool found",
			zap.Uint32("fee", tier), zap.String("pool", addr.Hex()))
		return poolInfo{Addr: addr, FeeTier: tier}, nil
	}
	return poolInfo{}, fmt.Errorf("%w: no v3 pool on any fee tier", core.ErrPoolNotFound)
}

func (s *Strategy) probeFactory(ctx context.Context, factory, tokenIn, tokenOut common.Address) (map[uint32]common.Address, error) {
	out := make(map[uint32]common.Address, len(FeeTiers))

	if s.mc != nil {
		calls := make([]multicall.Call, 0, len(FeeTiers))
		for _, tier := range FeeTiers {
			data, err := s.fabi.Pack("getPool", tokenIn, tokenOut, big.NewInt(int64(tier)))
			if err != nil {
				return nil, fmt.Errorf("pack getPool: %w", err)
			}
			calls = append(calls, multicall.Call{Target: factory, CallData: data})
		}
		results, err := s.mc.Aggregate(ctx, calls)
		if err != nil {
			return nil, fmt.Errorf("%w: factory probe: %v", core.ErrQuoteUnavailable, err)
		}
		for i, res := range results {
			if !res.Success || len(res.Data) < 32 {
				continue
			}
			out[FeeTiers[i]] = common.BytesToAddress(res.Data[12:32])
		}
		return out, nil
	}

	for _, tier := range FeeTiers {
		data, err := s.fabi.Pack("getPool", tokenIn, tokenOut, big.NewInt(int64(tier)))
		if err != nil {
			return nil, fmt.Errorf("pack getPool: %w", err)
		}
		raw, err := s.exec.Do(ctx, "v3.getPool", func(ctx context.Context) ([]byte, error) {
			return s.ec.CallContract(ctx, ethereum.CallMsg{To: &factory, Data: data}, nil)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: factory probe fee %d: %v", core.ErrQuoteUnavailable, tier, err)
		}
		outs, err := s.fabi.Methods["getPool"].Outputs.Unpack(raw)
		if err != nil || len(outs) == 0 {
			continue
		}
		out[tier] = outs[0].(common.Address)
	}
	return out, nil
}

// checkPoolState gates on slot0 initialization and in-range liquidity.
// An uninitialized price marker means the pool exists but was never
// seeded; zero liquidity means nothing to trade against.
func (s *Strategy) checkPoolState(ctx context.Context, pool common.Address) error {
	slotData, err := s.pabi.Pack("slot0")
	if err != nil {
		return fmt.Errorf("pack slot0: %w", err)
	}
	raw, err := s.exec.Do(ctx, "v3.slot0", func(ctx context.Context) ([]byte, error) {
		return s.ec.CallContract(ctx, ethereum.CallMsg{To: &pool, Data: slotData}, nil)
	})
	if err != nil {
		return fmt.Errorf("%w: slot0: %v", core.ErrQuoteUnavailable, err)
	}
	outs, err := s.pabi.Methods["slot0"].Outputs.Unpack(raw)
	if err != nil || len(outs) == 0 {
		return fmt.Errorf("%w: decode slot0", core.ErrQuoteUnavailable)
	}
	sqrtPriceX96, ok := outs[0].(*big.Int)
	if !ok || sqrtPriceX96.Sign() == 0 {
		return fmt.Errorf("%w: pool price not initialized", core.ErrPoolNotFound)
	}

	liqData, err := s.pabi.Pack("liquidity")
	if err != nil {
		return fmt.Errorf("pack liquidity: %w", err)
	}
	raw, err = s.exec.Do(ctx, "v3.liquidity", func(ctx context.Context) ([]byte, error) {
		return s.ec.CallContract(ctx, ethereum.CallMsg{To: &pool, Data: liqData}, nil)
	})
	if err != nil {
		return fmt.Errorf("%w: liquidity: %v", core.ErrQuoteUnavailable, err)
	}
	outs, err = s.pabi.Methods["liquidity"].Outputs.Unpack(raw)
	if err != nil || len(outs) == 0 {
		return fmt.Errorf("%w: decode liquidity", core.ErrQuoteUnavailable)
	}
	liq, ok := outs[0].(*big.Int)
	if !ok || liq.Sign() == 0 {
		return fmt.Errorf("%w: pool has zero active liquidity", core.ErrNoLiquidity)
	}
	return nil
}
