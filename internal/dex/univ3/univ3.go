package univ3

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/you/dexarb/internal/dex/core"
	"github.com/you/dexarb/internal/multicall"
	"github.com/you/dexarb/internal/rpccall"
)

// Strategy quotes and builds swaps against concentrated-liquidity V3
// routers. Quoting falls back in a fixed order: QuoterV2 single-hop →
// path-encoded quote → constant-product estimate from the pool's own
// token balances (low confidence, flagged on the quote).
type Strategy struct {
	ec   core.ChainReader
	mc   multicall.IClient // nil disables batched factory probes
	exec *rpccall.Executor
	log  *zap.Logger

	fabi abi.ABI
	pabi abi.ABI
	qabi abi.ABI
	rabi abi.ABI
	eabi abi.ABI
}

func New(ec core.ChainReader, mc multicall.IClient, exec *rpccall.Executor, log *zap.Logger) (*Strategy, error) {
	s := &Strategy{ec: ec, mc: mc, exec: exec, log: log}
	for _, def := range []struct {
		dst *abi.ABI
		src string
	}{
		{&s.fabi, factoryABI},
		{&s.pabi, poolABI},
		{&s.qabi, quoterV2ABI},
		{&s.rabi, routerABI},
		{&s.eabi, erc20ABI},
	} {
		parsed, err := abi.JSON(strings.NewReader(def.src))
		if err != nil {
			return nil, fmt.Errorf("parse v3 abi: %w", err)
		}
		*def.dst = parsed
	}
	return s, nil
}

func (s *Strategy) Prepare(ctx context.Context, req core.PrepareRequest) (*core.Quote, error) {
	pool, err := s.findPool(ctx, req.Desc.Factory, req.TokenIn, req.TokenOut)
	if err != nil {
		return nil, err
	}
	if err := s.checkPoolState(ctx, pool.Addr); err != nil {
		return nil, err
	}

	expected, source, err := s.quote(ctx, req, pool)
	if err != nil {
		return nil, err
	}
	if expected.Sign() == 0 {
		return nil, fmt.Errorf("%w: zero quote", core.ErrNoLiquidity)
	}

	minOut := core.MinOut(expected, req.SlippagePct)
	swapData, err := s.packSwap(req, pool.FeeTier, minOut)
	if err != nil {
		return nil, err
	}

	s.log.Info("v3 quote obtained",
		zap.String("venue", req.Observation.VenueID),
		zap.Uint32("fee", pool.FeeTier),
		zap.String("source", string(source)),
		zap.String("expected_out", expected.String()),
		zap.String("min_out", minOut.String()),
	)

	return &core.Quote{
		ExpectedOut: expected,
		MinOut:      minOut,
		Source:      source,
		Approximate: source == core.SourceReserveEstimate,
		FeeTier:     pool.FeeTier,
		Pool:        pool.Addr,
		Call: core.SwapCall{
			To:    req.Desc.Address,
			Data:  swapData,
			Value: big.NewInt(0),
		},
	}, nil
}

func (s *Strategy) quote(ctx context.Context, req core.PrepareRequest, pool poolInfo) (*big.Int, core.QuoteSource, error) {
	if req.Desc.Quoter != (common.Address{}) {
		if out, err := s.quoteSingle(ctx, req, pool.FeeTier); err == nil {
			return out, core.SourceQuoter, nil
		} else {
			s.log.Warn("quoter single-hop failed, trying path quote",
				zap.String("venue", req.Observation.VenueID), zap.Error(err))
		}
		if out, err := s.quotePath(ctx, req, pool.FeeTier); err == nil {
			return out, core.SourcePathQuote, nil
		} else {
			s.log.Warn("path quote failed, falling back to reserve estimate",
				zap.String("venue", req.Observation.VenueID), zap.Error(err))
		}
	} else {
		s.log.Warn("v3 venue has no quoter configured, using reserve estimate",
			zap.String("venue", req.Observation.VenueID))
	}

	out, err := s.reserveEstimate(ctx, req, pool)
	if err != nil {
		return nil, "", fmt.Errorf("%w: all quote paths failed: %v", core.ErrQuoteUnavailable, err)
	}
	return out, core.SourceReserveEstimate, nil
}

// quoteSingle asks QuoterV2 for a single-hop quote. Some deployments
// return the result normally, some revert with the result tuple as
// payload; the executor normalizes both into the same 4-word blob.
func (s *Strategy) quoteSingle(ctx context.Context, req core.PrepareRequest, fee uint32) (*big.Int, error) {
	params := struct {
		TokenIn           common.Address
		TokenOut          common.Address
		Fee               *big.Int
		AmountIn          *big.Int
		SqrtPriceLimitX96 *big.Int
	}{
		TokenIn:           req.TokenIn,
		TokenOut:          req.TokenOut,
		Fee:               big.NewInt(int64(fee)),
		AmountIn:          req.AmountIn,
		SqrtPriceLimitX96: big.NewInt(0),
	}
	data, err := s.qabi.Pack("quoteExactInputSingle", params)
	if err != nil {
		return nil, fmt.Errorf("pack quoteExactInputSingle: %w", err)
	}
	quoter := req.Desc.Quoter
	raw, err := s.exec.Do(ctx, "v3.quoteExactInputSingle", func(ctx context.Context) ([]byte, error) {
		return s.ec.CallContract(ctx, ethereum.CallMsg{To: &quoter, Data: data}, nil)
	})
	if err != nil {
		return nil, err
	}
	if amount, ok := rpccall.DecodeQuoteAmount(raw); ok {
		return amount, nil
	}
	return nil, fmt.Errorf("unexpected quoter return size %d", len(raw))
}

// quotePath retries through the path-encoded entry point:
// tokenIn ++ fee(3 bytes) ++ tokenOut.
func (s *Strategy) quotePath(ctx context.Context, req core.PrepareRequest, fee uint32) (*big.Int, error) {
	path := make([]byte, 0, 43)
	path = append(path, req.TokenIn.Bytes()...)
	path = append(path, byte(fee>>16), byte(fee>>8), byte(fee))
	path = append(path, req.TokenOut.Bytes()...)

	data, err := s.qabi.Pack("quoteExactInput", path, req.AmountIn)
	if err != nil {
		return nil, fmt.Errorf("pack quoteExactInput: %w", err)
	}
	quoter := req.Desc.Quoter
	raw, err := s.exec.Do(ctx, "v3.quoteExactInput", func(ctx context.Context) ([]byte, error) {
		return s.ec.CallContract(ctx, ethereum.CallMsg{To: &quoter, Data: data}, nil)
	})
	if err != nil {
		return nil, err
	}
	if len(raw) < 32 {
		return nil, fmt.Errorf("short quoteExactInput return")
	}
	return new(big.Int).SetBytes(raw[:32]), nil
}

// reserveEstimate approximates the output with the constant-product
// formula over the pool's raw token balances. Concentrated liquidity
// makes this an upper-bound-ish guess, hence the Approximate flag.
func (s *Strategy) reserveEstimate(ctx context.Context, req core.PrepareRequest, pool poolInfo) (*big.Int, error) {
	reserveIn, err := s.balanceOf(ctx, req.TokenIn, pool.Addr)
	if err != nil {
		return nil, err
	}
	reserveOut, err := s.balanceOf(ctx, req.TokenOut, pool.Addr)
	if err != nil {
		return nil, err
	}
	if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, fmt.Errorf("empty pool balances")
	}

	// x*y=k with the fee (hundredths of a bip) taken off the input.
	feeDenom := big.NewInt(1_000_000)
	inWithFee := new(big.Int).Mul(req.AmountIn, big.NewInt(int64(1_000_000-pool.FeeTier)))
	num := new(big.Int).Mul(reserveOut, inWithFee)
	den := new(big.Int).Add(new(big.Int).Mul(reserveIn, feeDenom), inWithFee)
	return num.Div(num, den), nil
}

func (s *Strategy) balanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	data, err := s.eabi.Pack("balanceOf", holder)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	raw, err := s.exec.Do(ctx, "erc20.balanceOf", func(ctx context.Context) ([]byte, error) {
		return s.ec.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	})
	if err != nil {
		return nil, err
	}
	if len(raw) < 32 {
		return nil, fmt.Errorf("short balanceOf return")
	}
	return new(big.Int).SetBytes(raw[:32]), nil
}

func (s *Strategy) packSwap(req core.PrepareRequest, fee uint32, minOut *big.Int) ([]byte, error) {
	params := struct {
		TokenIn           common.Address
		TokenOut          common.Address
		Fee               *big.Int
		Recipient         common.Address
		Deadline          *big.Int
		AmountIn          *big.Int
		AmountOutMinimum  *big.Int
		SqrtPriceLimitX96 *big.Int
	}{
		TokenIn:           req.TokenIn,
		TokenOut:          req.TokenOut,
		Fee:               big.NewInt(int64(fee)),
		Recipient:         req.Recipient,
		Deadline:          big.NewInt(req.Deadline.Unix()),
		AmountIn:          req.AmountIn,
		AmountOutMinimum:  minOut,
		SqrtPriceLimitX96: big.NewInt(0),
	}
	data, err := s.rabi.Pack("exactInputSingle", params)
	if err != nil {
		return nil, fmt.Errorf("pack exactInputSingle: %w", err)
	}
	return data, nil
}
