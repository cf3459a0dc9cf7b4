package core

import (
	"context"
	"math"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/you/dexarb/internal/types"
)

// ProtocolFamily tags the AMM design a router implements. Strategy
// dispatch happens on this tag in exactly one place (dex.StrategyFor).
type ProtocolFamily string

const (
	FamilyV2         ProtocolFamily = "v2"
	FamilyV3         ProtocolFamily = "v3"
	FamilySolidly    ProtocolFamily = "solidly"
	FamilyAggregator ProtocolFamily = "aggregator"
)

// RouterDescriptor is the resolved on-chain configuration for one venue.
// Loaded once at startup; immutable afterwards.
type RouterDescriptor struct {
	Address  common.Address
	Family   ProtocolFamily
	Version  int
	Factory  common.Address // optional: V3 and Solidly pool discovery
	Quoter   common.Address // optional: V3 QuoterV2
	Executor common.Address // optional: aggregator fill executor
	FOTSwap  bool           // router exposes a fee-on-transfer tolerant swap
}

// ChainReader is the read-only chain surface strategies need.
// *ethclient.Client satisfies it; tests supply mocks.
type ChainReader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error)
}

// SwapCall is a fully built, slippage-protected swap transaction payload.
type SwapCall struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// QuoteSource records which quoting mechanism produced the number, so
// fallbacks are observable.
type QuoteSource string

const (
	SourceRouter          QuoteSource = "router_get_amounts_out"
	SourceQuoter          QuoteSource = "quoter_exact_input_single"
	SourcePathQuote       QuoteSource = "quoter_exact_input_path"
	SourceReserveEstimate QuoteSource = "reserve_estimate"
	SourceSimulation      QuoteSource = "swap_simulation"
)

// Quote is a pre-trade estimate plus the swap call that honors it.
type Quote struct {
	ExpectedOut *big.Int
	MinOut      *big.Int
	Source      QuoteSource
	Approximate bool // true when Source is a low-confidence estimate
	FeeTier     uint32
	Pool        common.Address
	Stable      bool // Solidly pools only
	Call        SwapCall
}

// PrepareRequest carries everything a strategy needs for one leg.
type PrepareRequest struct {
	Desc        RouterDescriptor
	Observation types.PoolObservation
	TokenIn     common.Address
	TokenOut    common.Address
	AmountIn    *big.Int
	Recipient   common.Address
	SlippagePct float64
	Deadline    time.Time
}

// Strategy turns a prepare request into a quote with a callable swap.
// Implementations never return a zero or guessed quote; they fail with
// ErrPoolNotFound, ErrNoLiquidity or ErrQuoteUnavailable instead.
type Strategy interface {
	Prepare(ctx context.Context, req PrepareRequest) (*Quote, error)
}

// MinOut applies the slippage tolerance: floor(expected * (1 - pct/100)).
// Computed in parts-per-million integer math so the floor is exact. The
// pct → ppm conversion rounds, so a percentage like 0.29 that has no
// exact binary representation still lands on 2900 ppm.
func MinOut(expected *big.Int, slippagePct float64) *big.Int {
	ppm := int64(math.Round(slippagePct * 10_000))
	if ppm < 0 {
		ppm = 0
	}
	if ppm > 1_000_000 {
		ppm = 1_000_000
	}
	out := new(big.Int).Mul(expected, big.NewInt(1_000_000-ppm))
	return out.Div(out, big.NewInt(1_000_000))
}
