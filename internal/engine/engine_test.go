package engine

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/you/dexarb/internal/config"
	"github.com/you/dexarb/internal/dex/core"
	"github.com/you/dexarb/internal/risk"
	"github.com/you/dexarb/internal/types"
)

var (
	tokenAddr = common.HexToAddress("0x532f27101965DD16442E59d40670FaF5eBB142E4")
	baseAddr  = common.HexToAddress("0x4200000000000000000000000000000000000006")
	walletAdr = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	buyRouter = common.HexToAddress("0x4752ba5DBc23f44D87826276BF6Fd6b1C372aD24")
	sellRt    = common.HexToAddress("0x2626664c2603336E57B271c5C0b26F421741e481")
)

type fakeWallet struct {
	balance      *big.Int
	balanceCalls int
	submitted    []core.SwapCall
	mineErr      map[int]error // index into submitted
	allowances   int
}

func (f *fakeWallet) From() common.Address { return walletAdr }

func (f *fakeWallet) Submit(_ context.Context, call core.SwapCall) (common.Hash, error) {
	f.submitted = append(f.submitted, call)
	return common.BigToHash(big.NewInt(int64(len(f.submitted)))), nil
}

func (f *fakeWallet) WaitMined(_ context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	idx := int(txHash.Big().Int64()) - 1
	if err, ok := f.mineErr[idx]; ok {
		return &gethtypes.Receipt{Status: gethtypes.ReceiptStatusFailed, TxHash: txHash}, err
	}
	return &gethtypes.Receipt{Status: gethtypes.ReceiptStatusSuccessful, TxHash: txHash}, nil
}

func (f *fakeWallet) Balance(context.Context, common.Address) (*big.Int, error) {
	f.balanceCalls++
	return f.balance, nil
}

func (f *fakeWallet) EnsureAllowance(context.Context, common.Address, common.Address, *big.Int) error {
	f.allowances++
	return nil
}

type fakeSettler struct {
	amounts []*big.Int
	err     error
	calls   int
}

func (f *fakeSettler) AmountReceived(*gethtypes.Receipt, core.RouterDescriptor, common.Address, common.Address) (*big.Int, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	a := f.amounts[0]
	if len(f.amounts) > 1 {
		f.amounts = f.amounts[1:]
	}
	return a, nil
}

type fakeStrategy struct {
	requests []core.PrepareRequest
	err      error
}

func (f *fakeStrategy) Prepare(_ context.Context, req core.PrepareRequest) (*core.Quote, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &core.Quote{
		ExpectedOut: big.NewInt(1000),
		MinOut:      big.NewInt(990),
		Source:      core.SourceRouter,
		Call:        core.SwapCall{To: req.Desc.Address, Data: []byte{0x01}, Value: big.NewInt(0)},
	}, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Trade.SlippagePct = 1.0
	cfg.Trade.CooldownSec = 60
	cfg.Trade.DeadlineSec = 300
	cfg.Risk.MaxLiquidityFraction = 0.10
	return cfg
}

func testDirectory() core.Directory {
	return core.Directory{
		{Name: "baseswap", Desc: core.RouterDescriptor{Address: buyRouter, Family: core.FamilyV2, Version: 2}},
		{Name: "uniswap_v3", Desc: core.RouterDescriptor{Address: sellRt, Family: core.FamilyV3, Version: 3}},
	}
}

func testAttempt() Attempt {
	return Attempt{
		Token:       tokenAddr,
		Base:        baseAddr,
		AmountIn:    big.NewInt(1_000_000),
		NotionalUSD: 50,
		SpreadPct:   8.7,
		Buy:         types.PoolObservation{VenueID: "baseswap", LiquidityUSD: 10_000, FeeBps: 30},
		Sell:        types.PoolObservation{VenueID: "uniswap_v3", LiquidityUSD: 20_000, FeeBps: 25},
	}
}

func newEngine(w *fakeWallet, s *fakeSettler, strat *fakeStrategy, cfg *config.Config) *Engine {
	factory := func(core.ProtocolFamily) (core.Strategy, error) { return strat, nil }
	return New(cfg, testDirectory(), w, s, factory, risk.NewEngine(cfg), zap.NewNop())
}

func TestExecuteCompleteCycle(t *testing.T) {
	w := &fakeWallet{balance: big.NewInt(2_000_000)}
	s := &fakeSettler{amounts: []*big.Int{big.NewInt(900), big.NewInt(1_050_000)}}
	strat := &fakeStrategy{}
	e := newEngine(w, s, strat, testConfig())

	report := e.Execute(context.Background(), testAttempt())

	assert.Equal(t, types.OutcomeComplete, report.Outcome)
	require.Len(t, w.submitted, 2)
	assert.Equal(t, buyRouter, w.submitted[0].To)
	assert.Equal(t, sellRt, w.submitted[1].To)
	assert.Equal(t, "1050000", report.AmountOutWei)
	assert.NotEmpty(t, report.BuyTxHash)
	assert.NotEmpty(t, report.SellTxHash)

	// The sell leg trades exactly what settlement says arrived.
	require.Len(t, strat.requests, 2)
	assert.Equal(t, "900", strat.requests[1].AmountIn.String())
	assert.Equal(t, tokenAddr, strat.requests[1].TokenIn)
	assert.Equal(t, baseAddr, strat.requests[1].TokenOut)
}

func TestExecuteCooldownIdempotence(t *testing.T) {
	w := &fakeWallet{balance: big.NewInt(2_000_000)}
	s := &fakeSettler{amounts: []*big.Int{big.NewInt(900), big.NewInt(1_050_000)}}
	strat := &fakeStrategy{}
	e := newEngine(w, s, strat, testConfig())

	first := e.Execute(context.Background(), testAttempt())
	require.Equal(t, types.OutcomeComplete, first.Outcome)

	// Inside the window: skipped before any wallet or strategy work.
	balanceCalls := w.balanceCalls
	second := e.Execute(context.Background(), testAttempt())
	assert.Equal(t, types.OutcomeSkipped, second.Outcome)
	assert.Equal(t, balanceCalls, w.balanceCalls)
	assert.Len(t, w.submitted, 2)

	// Window elapsed: eligible again.
	e.mu.Lock()
	e.lastStart = time.Now().Add(-2 * e.cfg.Cooldown())
	e.mu.Unlock()
	third := e.Execute(context.Background(), testAttempt())
	assert.Equal(t, types.OutcomeComplete, third.Outcome)
}

func TestExecuteLiquidityGuardMakesNoChainCalls(t *testing.T) {
	w := &fakeWallet{balance: big.NewInt(2_000_000)}
	s := &fakeSettler{}
	strat := &fakeStrategy{}
	e := newEngine(w, s, strat, testConfig())

	att := testAttempt()
	att.NotionalUSD = 5_000 // > 10% of the 10k buy-side liquidity

	report := e.Execute(context.Background(), att)

	assert.Equal(t, types.OutcomeAborted, report.Outcome)
	assert.ErrorIs(t, report.Err, risk.ErrLiquidityImpactTooHigh)
	assert.Zero(t, w.balanceCalls, "impact guard must reject before any on-chain call")
	assert.Empty(t, strat.requests)
	assert.Empty(t, w.submitted)
}

func TestExecuteInsufficientBalance(t *testing.T) {
	w := &fakeWallet{balance: big.NewInt(10)}
	e := newEngine(w, &fakeSettler{}, &fakeStrategy{}, testConfig())

	report := e.Execute(context.Background(), testAttempt())

	assert.Equal(t, types.OutcomeAborted, report.Outcome)
	assert.ErrorIs(t, report.Err, risk.ErrInsufficientBalance)
	assert.Empty(t, w.submitted)
}

func TestExecuteUnknownVenueAborts(t *testing.T) {
	w := &fakeWallet{balance: big.NewInt(2_000_000)}
	e := newEngine(w, &fakeSettler{}, &fakeStrategy{}, testConfig())

	att := testAttempt()
	att.Buy.VenueID = "pancakeswap"

	report := e.Execute(context.Background(), att)
	assert.Equal(t, types.OutcomeAborted, report.Outcome)
	assert.Empty(t, w.submitted)
}

func TestExecuteBuyQuoteFailureAborts(t *testing.T) {
	w := &fakeWallet{balance: big.NewInt(2_000_000)}
	strat := &fakeStrategy{err: core.ErrQuoteUnavailable}
	e := newEngine(w, &fakeSettler{}, strat, testConfig())

	report := e.Execute(context.Background(), testAttempt())

	// A quoting abort is not a cooldown skip; it carries its own label.
	assert.Equal(t, types.OutcomeAborted, report.Outcome)
	assert.ErrorIs(t, report.Err, core.ErrQuoteUnavailable)
	assert.Zero(t, w.allowances, "no approval for a leg that was never quoted")
	assert.Empty(t, w.submitted)
}

func TestExecuteBuyRevertStopsAttempt(t *testing.T) {
	w := &fakeWallet{
		balance: big.NewInt(2_000_000),
		mineErr: map[int]error{0: errors.New("transaction mined but reverted")},
	}
	s := &fakeSettler{}
	strat := &fakeStrategy{}
	e := newEngine(w, s, strat, testConfig())

	report := e.Execute(context.Background(), testAttempt())

	assert.Equal(t, types.OutcomeBuyFailed, report.Outcome)
	assert.Len(t, w.submitted, 1)
	assert.Zero(t, s.calls, "no settlement on a reverted buy")
	assert.Len(t, strat.requests, 1, "sell leg must never be built")
}

func TestExecuteSettlementUnknownBlocksSell(t *testing.T) {
	w := &fakeWallet{balance: big.NewInt(2_000_000)}
	s := &fakeSettler{err: errors.New("settlement amount unknown")}
	strat := &fakeStrategy{}
	e := newEngine(w, s, strat, testConfig())

	report := e.Execute(context.Background(), testAttempt())

	assert.Equal(t, types.OutcomeResidualTokens, report.Outcome)
	assert.Len(t, w.submitted, 1, "sell leg must not be submitted")
	assert.Len(t, strat.requests, 1, "sell leg must not even be quoted")
}

func TestExecuteSellFailureIsResidualPosition(t *testing.T) {
	w := &fakeWallet{
		balance: big.NewInt(2_000_000),
		mineErr: map[int]error{1: errors.New("transaction mined but reverted")},
	}
	s := &fakeSettler{amounts: []*big.Int{big.NewInt(900)}}
	strat := &fakeStrategy{}
	e := newEngine(w, s, strat, testConfig())

	report := e.Execute(context.Background(), testAttempt())

	assert.Equal(t, types.OutcomeResidualTokens, report.Outcome)
	assert.Len(t, w.submitted, 2)
	assert.NotEmpty(t, report.SellTxHash)
}

func TestExecuteDryRunSubmitsNothing(t *testing.T) {
	cfg := testConfig()
	cfg.DryRun = true
	w := &fakeWallet{balance: big.NewInt(2_000_000)}
	strat := &fakeStrategy{}
	e := newEngine(w, &fakeSettler{}, strat, cfg)

	report := e.Execute(context.Background(), testAttempt())

	assert.Equal(t, types.OutcomeSkipped, report.Outcome)
	assert.Len(t, strat.requests, 1, "dry run still quotes the buy leg")
	assert.Empty(t, w.submitted)
}
