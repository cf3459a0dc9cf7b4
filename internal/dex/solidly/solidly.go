package solidly

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/you/dexarb/internal/dex/core"
	"github.com/you/dexarb/internal/rpccall"
)

// extraFOTMarginPct widens the slippage band when the router has no
// fee-on-transfer tolerant entry point and the quote is an estimate.
const extraFOTMarginPct = 3.0

// Strategy quotes and builds swaps for Solidly-style stable/volatile
// AMMs (Aerodrome, Velodrome). Stability is a per-pool property and is
// always discovered from the factory, volatile variant first.
type Strategy struct {
	ec   core.ChainReader
	exec *rpccall.Executor
	log  *zap.Logger

	rabi abi.ABI
	fabi abi.ABI
	pabi abi.ABI
}

// route mirrors the router's IRouter.Route tuple.
type route struct {
	From    common.Address
	To      common.Address
	Stable  bool
	Factory common.Address
}

func New(ec core.ChainReader, exec *rpccall.Executor, log *zap.Logger) (*Strategy, error) {
	s := &Strategy{ec: ec, exec: exec, log: log}
	var err error
	if s.rabi, err = abi.JSON(strings.NewReader(routerABI)); err != nil {
		return nil, fmt.Errorf("parse solidly router abi: %w", err)
	}
	if s.fabi, err = abi.JSON(strings.NewReader(factoryABI)); err != nil {
		return nil, fmt.Errorf("parse solidly factory abi: %w", err)
	}
	if s.pabi, err = abi.JSON(strings.NewReader(pairABI)); err != nil {
		return nil, fmt.Errorf("parse solidly pair abi: %w", err)
	}
	return s, nil
}

func (s *Strategy) Prepare(ctx context.Context, req core.PrepareRequest) (*core.Quote, error) {
	if req.Desc.Factory == (common.Address{}) {
		// Guessing volatile without a factory can pick the wrong pool.
		return nil, fmt.Errorf("%w: solidly venue has no factory configured", core.ErrPoolNotFound)
	}

	pool, stable, err := s.findPool(ctx, req)
	if err != nil {
		return nil, err
	}
	reserve0, reserve1, err := s.getReserves(ctx, pool)
	if err != nil {
		return nil, err
	}
	if reserve0.Sign() == 0 || reserve1.Sign() == 0 {
		return nil, fmt.Errorf("%w: pool %s has an empty reserve", core.ErrNoLiquidity, pool.Hex())
	}

	routes := []route{{From: req.TokenIn, To: req.TokenOut, Stable: stable, Factory: req.Desc.Factory}}

	expected, err := s.quoteRouter(ctx, req, routes)
	source := core.SourceRouter
	if err != nil {
		if !errors.Is(err, rpccall.ErrLogicReverted) {
			return nil, fmt.Errorf("%w: getAmountsOut: %v", core.ErrQuoteUnavailable, err)
		}
		if stable {
			// The stable curve is not constant-product; no honest
			// local estimate exists when the router refuses to quote.
			return nil, fmt.Errorf("%w: stable pool quote reverted", core.ErrQuoteUnavailable)
		}
		s.log.Warn("solidly router quote reverted, estimating from reserves",
			zap.String("venue", req.Observation.VenueID), zap.String("pool", pool.Hex()))
		expected = reserveEstimate(req, reserve0, reserve1)
		source = core.SourceReserveEstimate
	}
	if expected.Sign() == 0 {
		return nil, fmt.Errorf("%w: zero quote", core.ErrNoLiquidity)
	}

	slippage := req.SlippagePct
	if !req.Desc.FOTSwap && source == core.SourceReserveEstimate {
		slippage += extraFOTMarginPct
	}
	minOut := core.MinOut(expected, slippage)

	swapData, err := s.packSwap(req, routes, minOut)
	if err != nil {
		return nil, err
	}

	s.log.Info("solidly quote obtained",
		zap.String("venue", req.Observation.VenueID),
		zap.Bool("stable", stable),
		zap.String("source", string(source)),
		zap.String("expected_out", expected.String()),
		zap.String("min_out", minOut.String()),
	)

	return &core.Quote{
		ExpectedOut: expected,
		MinOut:      minOut,
		Source:      source,
		Approximate: source == core.SourceReserveEstimate,
		Pool:        pool,
		Stable:      stable,
		Call: core.SwapCall{
			To:    req.Desc.Address,
			Data:  swapData,
			Value: big.NewInt(0),
		},
	}, nil
}

// findPool asks the factory for the volatile pool first, then the
// stable one. A zero address means "not this variant", not an error.
func (s *Strategy) findPool(ctx context.Context, req core.PrepareRequest) (common.Address, bool, error) {
	for _, stable := range []bool{false, true} {
		data, err := s.fabi.Pack("getPool", req.TokenIn, req.TokenOut, stable)
		if err != nil {
			return common.Address{}, false, fmt.Errorf("pack getPool: %w", err)
		}
		factory := req.Desc.Factory
		raw, err := s.exec.Do(ctx, "solidly.getPool", func(ctx context.Context) ([]byte, error) {
			return s.ec.CallContract(ctx, ethereum.CallMsg{To: &factory, Data: data}, nil)
		})
		if err != nil {
			if errors.Is(err, rpccall.ErrLogicReverted) {
				continue
			}
			return common.Address{}, false, fmt.Errorf("%w: factory probe: %v", core.ErrQuoteUnavailable, err)
		}
		outs, err := s.fabi.Methods["getPool"].Outputs.Unpack(raw)
		if err != nil || len(outs) == 0 {
			continue
		}
		addr := outs[0].(common.Address)
		if addr == (common.Address{}) {
			continue
		}
		return addr, stable, nil
	}
	return common.Address{}, false, fmt.Errorf("%w: no solidly pool, stable or volatile", core.ErrPoolNotFound)
}

func (s *Strategy) getReserves(ctx context.Context, pool common.Address) (*big.Int, *big.Int, error) {
	data, err := s.pabi.Pack("getReserves")
	if err != nil {
		return nil, nil, fmt.Errorf("pack getReserves: %w", err)
	}
	raw, err := s.exec.Do(ctx, "solidly.getReserves", func(ctx context.Context) ([]byte, error) {
		return s.ec.CallContract(ctx, ethereum.CallMsg{To: &pool, Data: data}, nil)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: getReserves: %v", core.ErrQuoteUnavailable, err)
	}
	outs, err := s.pabi.Methods["getReserves"].Outputs.Unpack(raw)
	if err != nil || len(outs) < 2 {
		return nil, nil, fmt.Errorf("%w: decode getReserves", core.ErrQuoteUnavailable)
	}
	return outs[0].(*big.Int), outs[1].(*big.Int), nil
}

func (s *Strategy) quoteRouter(ctx context.Context, req core.PrepareRequest, routes []route) (*big.Int, error) {
	data, err := s.rabi.Pack("getAmountsOut", req.AmountIn, routes)
	if err != nil {
		return nil, fmt.Errorf("pack getAmountsOut: %w", err)
	}
	router := req.Desc.Address
	raw, err := s.exec.Do(ctx, "solidly.getAmountsOut", func(ctx context.Context) ([]byte, error) {
		return s.ec.CallContract(ctx, ethereum.CallMsg{To: &router, Data: data}, nil)
	})
	if err != nil {
		return nil, err
	}
	outs, err := s.rabi.Methods["getAmountsOut"].Outputs.Unpack(raw)
	if err != nil || len(outs) == 0 {
		return nil, fmt.Errorf("decode getAmountsOut: %w", err)
	}
	amounts := outs[0].([]*big.Int)
	if len(amounts) == 0 {
		return nil, fmt.Errorf("empty amounts from getAmountsOut")
	}
	return amounts[len(amounts)-1], nil
}

// reserveEstimate is the volatile-curve (constant product) output with
// the observed fee taken off the input. reserve0 belongs to the lower
// token address, matching the pair's CREATE2 sort order.
func reserveEstimate(req core.PrepareRequest, reserve0, reserve1 *big.Int) *big.Int {
	reserveIn, reserveOut := reserve0, reserve1
	if bytes.Compare(req.TokenIn.Bytes(), req.TokenOut.Bytes()) > 0 {
		reserveIn, reserveOut = reserve1, reserve0
	}
	feeBps := big.NewInt(int64(req.Observation.FeeBps))
	denomBase := big.NewInt(10_000)
	inWithFee := new(big.Int).Mul(req.AmountIn, new(big.Int).Sub(denomBase, feeBps))
	num := new(big.Int).Mul(reserveOut, inWithFee)
	den := new(big.Int).Add(new(big.Int).Mul(reserveIn, denomBase), inWithFee)
	return num.Div(num, den)
}

func (s *Strategy) packSwap(req core.PrepareRequest, routes []route, minOut *big.Int) ([]byte, error) {
	method := "swapExactTokensForTokens"
	if req.Desc.FOTSwap {
		// Transfer-taxed tokens shortchange the router mid-swap; the
		// tolerant entry point settles on balances actually received.
		method = "swapExactTokensForTokensSupportingFeeOnTransferTokens"
	}
	data, err := s.rabi.Pack(method, req.AmountIn, minOut, routes, req.Recipient, big.NewInt(req.Deadline.Unix()))
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return data, nil
}
