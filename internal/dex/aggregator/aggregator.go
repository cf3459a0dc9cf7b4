package aggregator

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

// 1inch Aggregation Router V6, swap entry point only.
const routerABI = `[
  {"inputs":[
     {"internalType":"address","name":"executor","type":"address"},
     {"components":[
        {"internalType":"address","name":"srcToken","type":"address"},
        {"internalType":"address","name":"dstToken","type":"address"},
        {"internalType":"address","name":"srcReceiver","type":"address"},
        {"internalType":"address","name":"dstReceiver","type":"address"},
        {"internalType":"uint256","name":"amount","type":"uint256"},
        {"internalType":"uint256","name":"minReturn","type":"uint256"},
        {"internalType":"uint256","name":"flags","type":"uint256"},
        {"internalType":"bytes","name":"permit","type":"bytes"}],
      "internalType":"struct IAggregationRouter.SwapDescription","name":"desc","type":"tuple"},
     {"internalType":"bytes","name":"data","type":"bytes"}],
   "name":"swap","outputs":[
     {"internalType":"uint256","name":"returnAmount","type":"uint256"},
     {"internalType":"uint256","name":"spentAmount","type":"uint256"}],
   "stateMutability":"payable","type":"function"}
]`

// swapDescription mirrors the router's SwapDescription tuple.
type swapDescription struct {
	SrcToken    common.Address
	DstToken    common.Address
	SrcReceiver common.Address
	DstReceiver common.Address
	Amount      *big.Int
	MinReturn   *big.Int
	Flags       *big.Int
	Permit      []byte
}

// Strategy quotes aggregator routers by simulation. These routers have
// no on-chain quoting function, so the full swap call is executed as a
// read-only eth_call with minReturn pinned to 1 wei, the simulated
// return amount is taken as the quote, and the real call is rebuilt
// with the slippage-adjusted minimum.
type Strategy struct {
	ec   core.ChainReader
	exec *rpccall.Executor
	log  *zap.Logger
	rabi abi.ABI
}

func New(ec core.ChainReader, exec *rpccall.Executor, log *zap.Logger) (*Strategy, error) {
	parsed, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		return nil, fmt.Errorf("parse aggregator abi: %w", err)
	}
	return &Strategy{ec: ec, exec: exec, log: log, rabi: parsed}, nil
}

func (s *Strategy) Prepare(ctx context.Context, req core.PrepareRequest) (*core.Quote, error) {
	if req.Desc.Executor == (common.Address{}) {
		return nil, fmt.Errorf("%w: aggregator venue has no executor configured", core.ErrQuoteUnavailable)
	}

	probe, err := s.packSwap(req, big.NewInt(1))
	if err != nil {
		return nil, err
	}
	router := req.Desc.Address
	raw, err := s.exec.Do(ctx, "aggregator.simulate", func(ctx context.Context) ([]byte, error) {
		return s.ec.CallContract(ctx, ethereum.CallMsg{
			From: req.Recipient,
			To:   &router,
			Data: probe,
		}, nil)
	})
	if err != nil {
		if errors.Is(err, rpccall.ErrLogicReverted) {
			return nil, fmt.Errorf("%w: swap simulation reverted", core.ErrNoLiquidity)
		}
		return nil, fmt.Errorf("%w: swap simulation: %v", core.ErrQuoteUnavailable, err)
	}

	outs, err := s.rabi.Methods["swap"].Outputs.Unpack(raw)
	if err != nil || len(outs) == 0 {
		return nil, fmt.Errorf("%w: decode simulated swap return", core.ErrQuoteUnavailable)
	}
	expected := outs[0].(*big.Int)
	if expected.Sign() == 0 {
		return nil, fmt.Errorf("%w: simulation returned zero", core.ErrNoLiquidity)
	}

	minOut := core.MinOut(expected, req.SlippagePct)
	swapData, err := s.packSwap(req, minOut)
	if err != nil {
		return nil, err
	}

	s.log.Info("aggregator quote simulated",
		zap.String("venue", req.Observation.VenueID),
		zap.String("expected_out", expected.String()),
		zap.String("min_out", minOut.String()),
	)

	return &core.Quote{
		ExpectedOut: expected,
		MinOut:      minOut,
		Source:      core.SourceSimulation,
		Call: core.SwapCall{
			To:    req.Desc.Address,
			Data:  swapData,
			Value: big.NewInt(0),
		},
	}, nil
}

func (s *Strategy) packSwap(req core.PrepareRequest, minReturn *big.Int) ([]byte, error) {
	desc := swapDescription{
		SrcToken:    req.TokenIn,
		DstToken:    req.TokenOut,
		SrcReceiver: req.Desc.Executor,
		DstReceiver: req.Recipient,
		Amount:      req.AmountIn,
		MinReturn:   minReturn,
		Flags:       big.NewInt(0),
		Permit:      []byte{},
	}
	data, err := s.rabi.Pack("swap", req.Desc.Executor, desc, []byte{})
	if err != nil {
		return nil, fmt.Errorf("pack swap: %w", err)
	}
	return data, nil
}
