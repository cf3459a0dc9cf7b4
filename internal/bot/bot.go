// Package bot wires the price feed to the trade engine: it keeps the
// latest observation per pool, evaluates the cross-venue spread on
// every update, and hands qualifying opportunities to the engine.
package bot

import (
	"context"
	"math"
	"math/big"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/you/dexarb/internal/config"
	"github.com/you/dexarb/internal/engine"
	"github.com/you/dexarb/internal/metrics"
	"github.com/you/dexarb/internal/types"
)

// Feed delivers observation batches for the configured token.
type Feed interface {
	Subscribe(ctx context.Context, chain, token string) (<-chan []types.PoolObservation, error)
}

// Trader runs one arbitrage attempt.
type Trader interface {
	Execute(ctx context.Context, att engine.Attempt) *types.TradeReport
}

// Publisher mirrors observations to shared storage; optional.
type Publisher interface {
	PublishObservations(ctx context.Context, token string, obs []types.PoolObservation, tsMs int64) error
}

// Opportunity is the best buy/sell pairing found in the current pool
// set, with the fee-adjusted spread between them.
type Opportunity struct {
	Buy       types.PoolObservation
	Sell      types.PoolObservation
	SpreadPct float64
}

type Bot struct {
	cfg      *config.Config
	log      *zap.Logger
	feed     Feed
	trader   Trader
	pub      Publisher // nil disables mirroring
	token    common.Address
	base     common.Address
	amountIn *big.Int // trade size in base-currency wei
	baseDec  uint8    // base currency decimals

	pools map[string]types.PoolObservation // keyed by pair address
}

func New(cfg *config.Config, feed Feed, trader Trader, pub Publisher, token, base common.Address, amountIn *big.Int, baseDecimals uint8, log *zap.Logger) *Bot {
	return &Bot{
		cfg:      cfg,
		log:      log,
		feed:     feed,
		trader:   trader,
		pub:      pub,
		token:    token,
		base:     base,
		amountIn: amountIn,
		baseDec:  baseDecimals,
		pools:    make(map[string]types.PoolObservation, 16),
	}
}

// Run blocks until the context is done or an interrupt arrives.
func (b *Bot) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
			b.log.Warn("received signal, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	stream, err := b.feed.Subscribe(ctx, b.cfg.Feed.ChainID, b.cfg.Trade.TokenAddress)
	if err != nil {
		return err
	}
	b.log.Info("feed connected",
		zap.String("token", b.cfg.Trade.TokenAddress),
		zap.String("chain", b.cfg.Feed.ChainID),
	)

	for {
		select {
		case <-ctx.Done():
			b.log.Info("bot finished")
			return nil
		case batch, ok := <-stream:
			if !ok {
				b.log.Warn("feed stream closed")
				return nil
			}
			b.onBatch(ctx, batch)
		}
	}
}

func (b *Bot) onBatch(ctx context.Context, batch []types.PoolObservation) {
	for _, o := range batch {
		b.pools[o.PairAddress] = o
	}
	if b.pub != nil {
		if err := b.pub.PublishObservations(ctx, b.cfg.Trade.TokenAddress, batch, time.Now().UnixMilli()); err != nil {
			b.log.Warn("observation publish failed", zap.Error(err))
		}
	}

	pools := make([]types.PoolObservation, 0, len(b.pools))
	for _, o := range b.pools {
		pools = append(pools, o)
	}
	opp, ok := EvaluateSpread(pools, b.cfg.Trade.MinLiquidityUSD)
	if !ok {
		return
	}
	metrics.SpreadPct.Set(opp.SpreadPct)
	b.log.Debug("spread evaluated",
		zap.String("buy_venue", opp.Buy.VenueID),
		zap.String("sell_venue", opp.Sell.VenueID),
		zap.Float64("spread_pct", opp.SpreadPct),
	)
	if opp.SpreadPct < b.cfg.Trade.MinSpreadPct {
		return
	}

	report := b.trader.Execute(ctx, engine.Attempt{
		Token:       b.token,
		Base:        b.base,
		AmountIn:    b.amountIn,
		NotionalUSD: b.notionalUSD(opp.Buy),
		SpreadPct:   opp.SpreadPct,
		Buy:         opp.Buy,
		Sell:        opp.Sell,
	})
	if report.Outcome != types.OutcomeSkipped || report.Err != nil {
		b.log.Info("trade attempt reported",
			zap.String("outcome", string(report.Outcome)),
			zap.Float64("spread_pct", report.SpreadPercent),
		)
	}
}

// notionalUSD prices the base-currency trade size in dollars using the
// observation's own USD/native ratio. The wei amount is scaled by the
// base token's decimals, not a fixed 18. Zero when the feed carries no
// USD price; the impact guard then has nothing to bound against.
func (b *Bot) notionalUSD(obs types.PoolObservation) float64 {
	if obs.PriceUSD <= 0 || obs.PriceNative <= 0 || b.amountIn == nil {
		return 0
	}
	baseUSD := obs.PriceUSD / obs.PriceNative
	amount, _ := new(big.Float).SetInt(b.amountIn).Float64()
	return amount / math.Pow10(int(b.baseDec)) * baseUSD
}

// EvaluateSpread filters pools by minimum liquidity, pairs the cheapest
// against the most expensive, and returns the fee-adjusted spread:
// the sell side is discounted by its pool fee, the buy side marked up
// by its own, so thin raw spreads that fees would eat do not qualify.
func EvaluateSpread(pools []types.PoolObservation, minLiquidityUSD float64) (Opportunity, bool) {
	valid := make([]types.PoolObservation, 0, len(pools))
	for _, p := range pools {
		if p.PriceNative > 0 && p.LiquidityUSD >= minLiquidityUSD {
			valid = append(valid, p)
		}
	}
	if len(valid) < 2 {
		return Opportunity{}, false
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].PriceNative < valid[j].PriceNative })

	buy := valid[0]
	sell := valid[len(valid)-1]
	if buy.PairAddress == sell.PairAddress {
		return Opportunity{}, false
	}

	effBuy := buy.PriceNative * (1 + buy.FeeBps/10_000)
	effSell := sell.PriceNative * (1 - sell.FeeBps/10_000)
	if effBuy <= 0 {
		return Opportunity{}, false
	}
	spread := (effSell - effBuy) / effBuy * 100

	return Opportunity{Buy: buy, Sell: sell, SpreadPct: spread}, true
}

func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.StacktraceKey = "stacktrace"
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	return cfg.Build()
}
