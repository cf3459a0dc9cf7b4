// Package engine sequences one arbitrage attempt: pre-flight gates,
// the buy leg, settlement verification, the sell leg, and the report.
// Strictly sequential; the sell leg is never built before the buy
// leg's receipt is decoded.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/you/dexarb/internal/config"
	"github.com/you/dexarb/internal/dex/core"
	"github.com/you/dexarb/internal/metrics"
	"github.com/you/dexarb/internal/risk"
	"github.com/you/dexarb/internal/types"
)

// State is the orchestrator's position in the attempt lifecycle.
type State string

const (
	StateIdle           State = "Idle"
	StatePreflight      State = "PreflightChecking"
	StateBuyingPending  State = "BuyingPending"
	StateBuyConfirmed   State = "BuyConfirmed"
	StateBuyFailed      State = "BuyFailed"
	StateSellingPending State = "SellingPending"
	StateSellConfirmed  State = "SellConfirmed"
	StateSellFailed     State = "SellFailed"
)

// Submitter is the signing wallet surface the engine drives.
type Submitter interface {
	From() common.Address
	Submit(ctx context.Context, call core.SwapCall) (common.Hash, error)
	WaitMined(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	Balance(ctx context.Context, token common.Address) (*big.Int, error)
	EnsureAllowance(ctx context.Context, token, spender common.Address, amount *big.Int) error
}

// Settler decodes the received amount from a confirmed receipt.
type Settler interface {
	AmountReceived(receipt *gethtypes.Receipt, desc core.RouterDescriptor, recipient, outputToken common.Address) (*big.Int, error)
}

// StrategyFactory yields the quote strategy for a protocol family.
type StrategyFactory func(family core.ProtocolFamily) (core.Strategy, error)

// Attempt is one fully specified arbitrage opportunity handed to the
// engine by the spread evaluator.
type Attempt struct {
	Token       common.Address
	Base        common.Address
	AmountIn    *big.Int // base-currency wei for the buy leg
	NotionalUSD float64
	SpreadPct   float64
	Buy         types.PoolObservation
	Sell        types.PoolObservation
}

type Engine struct {
	cfg      *config.Config
	dir      core.Directory
	wallet   Submitter
	settler  Settler
	strategy StrategyFactory
	risk     *risk.Engine
	log      *zap.Logger

	// lastStart is the only mutable state shared with the poller;
	// written exactly once per attempt, at attempt start.
	mu        sync.Mutex
	lastStart time.Time
}

func New(cfg *config.Config, dir core.Directory, wallet Submitter, settler Settler, strategy StrategyFactory, riskEngine *risk.Engine, log *zap.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		dir:      dir,
		wallet:   wallet,
		settler:  settler,
		strategy: strategy,
		risk:     riskEngine,
		log:      log,
	}
}

// tryStart is the Idle → PreflightChecking guard: it refuses to start
// while the cooldown window since the previous attempt's start has not
// elapsed, and stamps the attempt start otherwise.
func (e *Engine) tryStart(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.lastStart.IsZero() && now.Sub(e.lastStart) < e.cfg.Cooldown() {
		return false
	}
	e.lastStart = now
	return true
}

// LastAttemptStart reports when the current cooldown window opened.
func (e *Engine) LastAttemptStart() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastStart
}

// Execute runs one attempt end to end and always returns a report.
// Within the cooldown window it returns a SKIPPED report without side
// effects, on-chain or otherwise.
func (e *Engine) Execute(ctx context.Context, att Attempt) *types.TradeReport {
	now := time.Now()
	report := &types.TradeReport{
		Outcome:       types.OutcomeSkipped,
		BuyVenue:      att.Buy.VenueID,
		SellVenue:     att.Sell.VenueID,
		SpreadPercent: att.SpreadPct,
		StartedAt:     now,
	}
	if att.AmountIn != nil {
		report.AmountInWei = att.AmountIn.String()
	}

	if !e.tryStart(now) {
		return report
	}
	e.transition(StateIdle, StatePreflight)

	buyDesc, sellDesc, err := e.preflight(ctx, att)
	if err != nil {
		report.Outcome = types.OutcomeAborted
		report.Err = err
		e.finish(report)
		return report
	}

	// Leg 1: buy.
	buyQuote, err := e.prepareLeg(ctx, buyDesc, att.Buy, att.Base, att.Token, att.AmountIn)
	if err != nil {
		report.Outcome = types.OutcomeAborted
		report.Err = fmt.Errorf("buy quote: %w", err)
		e.finish(report)
		return report
	}
	if e.cfg.DryRun {
		e.log.Info("dry run: buy leg built, not submitting",
			zap.String("venue", att.Buy.VenueID),
			zap.String("expected_out", buyQuote.ExpectedOut.String()),
			zap.String("min_out", buyQuote.MinOut.String()),
		)
		e.finish(report)
		return report
	}

	if err := e.wallet.EnsureAllowance(ctx, att.Base, buyDesc.Address, att.AmountIn); err != nil {
		report.Outcome = types.OutcomeAborted
		report.Err = fmt.Errorf("buy allowance: %w", err)
		e.finish(report)
		return report
	}

	e.transition(StatePreflight, StateBuyingPending)
	buyReceipt, buyHash, err := e.submitLeg(ctx, "buy", buyQuote.Call)
	if buyHash != (common.Hash{}) {
		report.BuyTxHash = buyHash.Hex()
	}
	if err != nil {
		e.transition(StateBuyingPending, StateBuyFailed)
		report.Outcome = types.OutcomeBuyFailed
		report.Err = err
		e.finish(report)
		return report
	}
	e.transition(StateBuyingPending, StateBuyConfirmed)

	// Settlement between legs: the sell size is what actually arrived,
	// never what was quoted.
	received, err := e.settler.AmountReceived(buyReceipt, buyDesc, e.wallet.From(), att.Token)
	if err != nil {
		e.log.Error("buy settled but received amount is unknown, not selling",
			zap.String("tx", report.BuyTxHash), zap.Error(err))
		report.Outcome = types.OutcomeResidualTokens
		report.Err = fmt.Errorf("settlement: %w", err)
		metrics.ResidualPositions.Inc()
		e.finish(report)
		return report
	}
	e.log.Info("buy settled",
		zap.String("tx", report.BuyTxHash),
		zap.String("received", received.String()),
	)

	// Leg 2: sell, with fresh quote, fees and nonce.
	sellQuote, err := e.prepareLeg(ctx, sellDesc, att.Sell, att.Token, att.Base, received)
	if err == nil {
		err = e.wallet.EnsureAllowance(ctx, att.Token, sellDesc.Address, received)
	}
	if err != nil {
		report.Outcome = types.OutcomeResidualTokens
		report.Err = fmt.Errorf("sell leg: %w", err)
		metrics.ResidualPositions.Inc()
		e.finish(report)
		return report
	}

	e.transition(StateBuyConfirmed, StateSellingPending)
	sellReceipt, sellHash, err := e.submitLeg(ctx, "sell", sellQuote.Call)
	if sellHash != (common.Hash{}) {
		report.SellTxHash = sellHash.Hex()
	}
	if err != nil {
		e.transition(StateSellingPending, StateSellFailed)
		e.log.Error("sell failed after a confirmed buy, wallet holds the token",
			zap.String("sell_tx", report.SellTxHash), zap.Error(err))
		report.Outcome = types.OutcomeResidualTokens
		report.Err = err
		metrics.ResidualPositions.Inc()
		e.finish(report)
		return report
	}
	e.transition(StateSellingPending, StateSellConfirmed)

	finalOut, err := e.settler.AmountReceived(sellReceipt, sellDesc, e.wallet.From(), att.Base)
	if err == nil {
		report.AmountOutWei = finalOut.String()
	}
	report.Outcome = types.OutcomeComplete
	e.finish(report)
	return report
}

// preflight runs every gate that must pass before a transaction is
// built, cheapest first: venue resolution, the pure liquidity-impact
// bound, then the on-chain balance read.
func (e *Engine) preflight(ctx context.Context, att Attempt) (core.RouterDescriptor, core.RouterDescriptor, error) {
	var zero core.RouterDescriptor
	buyDesc, ok := e.dir.Resolve(att.Buy.VenueID)
	if !ok {
		return zero, zero, fmt.Errorf("no router for buy venue %q", att.Buy.VenueID)
	}
	sellDesc, ok := e.dir.Resolve(att.Sell.VenueID)
	if !ok {
		return zero, zero, fmt.Errorf("no router for sell venue %q", att.Sell.VenueID)
	}
	if err := e.risk.CheckImpact(att.NotionalUSD, att.Buy.LiquidityUSD, att.Sell.LiquidityUSD); err != nil {
		return zero, zero, err
	}
	balance, err := e.wallet.Balance(ctx, att.Base)
	if err != nil {
		return zero, zero, fmt.Errorf("read balance: %w", err)
	}
	if err := e.risk.CheckBalance(balance, att.AmountIn); err != nil {
		return zero, zero, err
	}
	return buyDesc, sellDesc, nil
}

func (e *Engine) prepareLeg(ctx context.Context, desc core.RouterDescriptor, obs types.PoolObservation, tokenIn, tokenOut common.Address, amountIn *big.Int) (*core.Quote, error) {
	strat, err := e.strategy(desc.Family)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	quote, err := strat.Prepare(ctx, core.PrepareRequest{
		Desc:        desc,
		Observation: obs,
		TokenIn:     tokenIn,
		TokenOut:    tokenOut,
		AmountIn:    amountIn,
		Recipient:   e.wallet.From(),
		SlippagePct: e.cfg.Trade.SlippagePct,
		Deadline:    time.Now().Add(e.cfg.Deadline()),
	})
	metrics.QuoteLatency.WithLabelValues(string(desc.Family)).Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.QuoteErrors.WithLabelValues(string(desc.Family)).Inc()
		return nil, err
	}
	if quote.Approximate {
		metrics.QuoteFallbacks.WithLabelValues(string(quote.Source)).Inc()
	}
	return quote, nil
}

// submitLeg sends one swap and blocks until it is mined or times out.
func (e *Engine) submitLeg(ctx context.Context, side string, call core.SwapCall) (*gethtypes.Receipt, common.Hash, error) {
	txHash, err := e.wallet.Submit(ctx, call)
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("%s submit: %w", side, err)
	}
	metrics.LegsSubmitted.WithLabelValues(side).Inc()
	receipt, err := e.wallet.WaitMined(ctx, txHash)
	if err != nil {
		return receipt, txHash, fmt.Errorf("%s leg: %w", side, err)
	}
	return receipt, txHash, nil
}

func (e *Engine) transition(from, to State) {
	e.log.Debug("engine state",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
}

func (e *Engine) finish(report *types.TradeReport) {
	metrics.TradeAttempts.WithLabelValues(string(report.Outcome)).Inc()
	fields := []zap.Field{
		zap.String("outcome", string(report.Outcome)),
		zap.String("buy_venue", report.BuyVenue),
		zap.String("sell_venue", report.SellVenue),
		zap.Float64("spread_pct", report.SpreadPercent),
	}
	if report.BuyTxHash != "" {
		fields = append(fields, zap.String("buy_tx", report.BuyTxHash))
	}
	if report.SellTxHash != "" {
		fields = append(fields, zap.String("sell_tx", report.SellTxHash))
	}
	if report.Err != nil {
		fields = append(fields, zap.Error(report.Err))
	}
	switch {
	case report.Outcome == types.OutcomeResidualTokens:
		e.log.Error("attempt finished with residual position", fields...)
	case report.Err != nil && !errors.Is(report.Err, context.Canceled):
		e.log.Warn("attempt finished", fields...)
	default:
		e.log.Info("attempt finished", fields...)
	}
}
