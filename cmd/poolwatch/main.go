// poolwatch tails the observation stream the bot mirrors into Redis,
// keeps the latest state per pool, and logs every qualifying spread.
// Useful for sizing thresholds without touching the chain.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/you/dexarb/internal/bot"
	"github.com/you/dexarb/internal/config"
	"github.com/you/dexarb/internal/connectors/redisfeed"
	"github.com/you/dexarb/internal/metrics"
	"github.com/you/dexarb/internal/types"
)

const consumerGroup = "poolwatch"

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	name := flag.String("name", "poolwatch-1", "consumer name within the group")
	flag.Parse()

	log, err := bot.NewLogger()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}
	if cfg.Redis.Addr == "" {
		log.Fatal("redis.addr is required for poolwatch")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Warn("received signal, shutting down...")
		cancel()
	}()

	metrics.Serve(ctx, cfg.Metrics.ListenAddr, nil, log)

	cons := redisfeed.NewConsumer(cfg, log)
	defer func() { _ = cons.Close() }()

	if err := cons.EnsureGroup(ctx, consumerGroup); err != nil {
		log.Fatal("consumer group setup failed", zap.Error(err))
	}

	pools := make(map[string]types.PoolObservation, 16)

	// Seed from the snapshot hash so spreads show up before the first
	// live event arrives.
	if snap, err := cons.Snapshot(ctx, cfg.Trade.TokenAddress); err != nil {
		log.Warn("snapshot read failed", zap.Error(err))
	} else {
		for _, o := range snap {
			pools[o.PairAddress] = o
		}
		log.Info("snapshot loaded", zap.Int("pools", len(snap)))
	}

	events := make(chan types.PoolObservation, 256)
	go func() {
		defer close(events)
		if err := cons.Consume(ctx, consumerGroup, *name, events); err != nil && ctx.Err() == nil {
			log.Error("stream consume failed", zap.Error(err))
			cancel()
		}
	}()

	log.Info("watching observation stream",
		zap.String("stream", cfg.Redis.Stream),
		zap.String("token", cfg.Trade.TokenAddress),
	)

	for {
		select {
		case <-ctx.Done():
			log.Info("poolwatch finished")
			return
		case o, ok := <-events:
			if !ok {
				return
			}
			pools[o.PairAddress] = o
			all := make([]types.PoolObservation, 0, len(pools))
			for _, p := range pools {
				all = append(all, p)
			}
			opp, ok := bot.EvaluateSpread(all, cfg.Trade.MinLiquidityUSD)
			if !ok {
				continue
			}
			metrics.SpreadPct.Set(opp.SpreadPct)
			if opp.SpreadPct >= cfg.Trade.MinSpreadPct {
				log.Info("spread above threshold",
					zap.String("buy_venue", opp.Buy.VenueID),
					zap.String("sell_venue", opp.Sell.VenueID),
					zap.Float64("spread_pct", opp.SpreadPct),
					zap.Float64("buy_liquidity_usd", opp.Buy.LiquidityUSD),
					zap.Float64("sell_liquidity_usd", opp.Sell.LiquidityUSD),
				)
			}
		}
	}
}
