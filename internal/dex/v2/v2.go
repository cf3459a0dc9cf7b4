package v2

import (
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

const routerABI = `[
 {"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"}],"name":"getAmountsOut","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"view","type":"function"},
 {"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactTokensForTokens","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"}
]`

// Strategy quotes and builds swaps against constant-product V2 routers.
type Strategy struct {
	ec   core.ChainReader
	exec *rpccall.Executor
	log  *zap.Logger
	rabi abi.ABI
}

func New(ec core.ChainReader, exec *rpccall.Executor, log *zap.Logger) (*Strategy, error) {
	rabi, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		return nil, fmt.Errorf("parse v2 router abi: %w", err)
	}
	return &Strategy{ec: ec, exec: exec, log: log, rabi: rabi}, nil
}

func (s *Strategy) Prepare(ctx context.Context, req core.PrepareRequest) (*core.Quote, error) {
	// The path is exactly [tokenIn, tokenOut]; the quote and the swap
	// must travel through the same hop.
	path := []common.Address{req.TokenIn, req.TokenOut}

	data, err := s.rabi.Pack("getAmountsOut", req.AmountIn, path)
	if err != nil {
		return nil, fmt.Errorf("pack getAmountsOut: %w", err)
	}
	router := req.Desc.Address
	raw, err := s.exec.Do(ctx, "v2.getAmountsOut", func(ctx context.Context) ([]byte, error) {
		return s.ec.CallContract(ctx, ethereum.CallMsg{To: &router, Data: data}, nil)
	})
	if err != nil {
		// A deterministic revert here means the router has no pair for
		// this path; transient exhaustion means we cannot quote at all.
		if errors.Is(err, rpccall.ErrLogicReverted) {
			return nil, fmt.Errorf("%w: %s", core.ErrPoolNotFound, req.Observation.VenueID)
		}
		return nil, fmt.Errorf("%w: %v", core.ErrQuoteUnavailable, err)
	}

	outs, err := s.rabi.Methods["getAmountsOut"].Outputs.Unpack(raw)
	if err != nil || len(outs) == 0 {
		return nil, fmt.Errorf("%w: decode getAmountsOut", core.ErrQuoteUnavailable)
	}
	amounts, ok := outs[0].([]*big.Int)
	if !ok || len(amounts) < 2 {
		return nil, fmt.Errorf("%w: bad amounts length", core.ErrQuoteUnavailable)
	}
	expected := amounts[len(amounts)-1]
	if expected.Sign() == 0 {
		return nil, fmt.Errorf("%w: zero quote from router", core.ErrNoLiquidity)
	}

	minOut := core.MinOut(expected, req.SlippagePct)
	deadline := big.NewInt(req.Deadline.Unix())
	swapData, err := s.rabi.Pack("swapExactTokensForTokens", req.AmountIn, minOut, path, req.Recipient, deadline)
	if err != nil {
		return nil, fmt.Errorf("pack swapExactTokensForTokens: %w", err)
	}

	s.log.Info("v2 quote obtained",
		zap.String("venue", req.Observation.VenueID),
		zap.String("router", router.Hex()),
		zap.String("expected_out", expected.String()),
		zap.String("min_out", minOut.String()),
	)

	return &core.Quote{
		ExpectedOut: expected,
		MinOut:      minOut,
		Source:      core.SourceRouter,
		Call: core.SwapCall{
			To:    router,
			Data:  swapData,
			Value: big.NewInt(0),
		},
	}, nil
}
