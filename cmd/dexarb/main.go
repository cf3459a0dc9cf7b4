package main

import (
	"context"
	"flag"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/you/dexarb/internal/bot"
	"github.com/you/dexarb/internal/config"
	"github.com/you/dexarb/internal/connectors/redisfeed"
	"github.com/you/dexarb/internal/dex"
	"github.com/you/dexarb/internal/dex/core"
	"github.com/you/dexarb/internal/engine"
	"github.com/you/dexarb/internal/ethaddr"
	"github.com/you/dexarb/internal/feed/dexscreener"
	"github.com/you/dexarb/internal/metrics"
	"github.com/you/dexarb/internal/multicall"
	"github.com/you/dexarb/internal/risk"
	"github.com/you/dexarb/internal/rpccall"
	"github.com/you/dexarb/internal/settle"
	"github.com/you/dexarb/internal/wallet"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.Serve(ctx, cfg.Metrics.ListenAddr, nil, log)

	ec, err := ethclient.DialContext(ctx, cfg.Chain.RPCHTTP)
	if err != nil {
		log.Fatal("rpc dial failed", zap.String("url", cfg.Chain.RPCHTTP), zap.Error(err))
	}
	defer ec.Close()

	token, err := ethaddr.Parse(cfg.Trade.TokenAddress)
	if err != nil {
		log.Fatal("bad trade.token_address", zap.Error(err))
	}
	base, err := ethaddr.Parse(cfg.Trade.BaseCurrency)
	if err != nil {
		log.Fatal("bad trade.base_currency", zap.Error(err))
	}

	dir, err := cfg.Directory()
	if err != nil {
		log.Fatal("router directory", zap.Error(err))
	}

	w, err := wallet.New(ctx, ec, cfg.Chain.WalletPK, cfg.Chain.MaxGasLimit, cfg.ConfirmTimeout(), log)
	if err != nil {
		log.Fatal("wallet init failed", zap.Error(err))
	}

	var mc multicall.IClient
	if cfg.Chain.Multicall != "" {
		addr, err := ethaddr.Parse(cfg.Chain.Multicall)
		if err != nil {
			log.Fatal("bad chain.multicall", zap.Error(err))
		}
		if mc, err = multicall.New(ec, addr); err != nil {
			log.Fatal("multicall init failed", zap.Error(err))
		}
	}

	exec := rpccall.New(log, cfg.RPC.MaxRetries, cfg.Backoff())
	deps := dex.Deps{Chain: ec, Multicall: mc, Exec: exec, Log: log}
	strategyFor := func(f core.ProtocolFamily) (core.Strategy, error) {
		return dex.StrategyFor(f, deps)
	}

	baseDec, err := w.Decimals(ctx, base)
	if err != nil {
		log.Fatal("base currency decimals", zap.Error(err))
	}
	amountIn := baseWei(cfg.Trade.AmountBase, baseDec)

	eng := engine.New(cfg, dir, w, settle.NewVerifier(log), strategyFor, risk.NewEngine(cfg), log)

	// Approve every configured router up front so neither leg stalls on
	// an approval transaction mid-attempt.
	if !cfg.DryRun {
		for _, entry := range dir {
			for _, asset := range []common.Address{base, token} {
				if err := w.EnsureAllowance(ctx, asset, entry.Desc.Address, amountIn); err != nil {
					log.Fatal("startup approval failed",
						zap.String("router", entry.Name),
						zap.String("token", asset.Hex()),
						zap.Error(err))
				}
			}
		}
		log.Info("router approvals ensured", zap.Int("routers", len(dir)))
	}

	var pub bot.Publisher
	if cfg.Redis.Addr != "" {
		pub = redisfeed.NewPublisher(cfg)
	}

	feed := dexscreener.NewWS(cfg.Feed.WsURL, log)
	defer func() { _ = feed.Close() }()

	log.Info("starting",
		zap.String("network", cfg.Chain.Network),
		zap.String("wallet", w.From().Hex()),
		zap.String("amount_in_wei", amountIn.String()),
		zap.Bool("dry_run", cfg.DryRun),
	)

	b := bot.New(cfg, feed, eng, pub, token, base, amountIn, baseDec, log)
	if err := b.Run(ctx); err != nil {
		log.Fatal("bot exited", zap.Error(err))
	}
}

// baseWei converts the configured human-readable trade size into
// base-currency wei using the token's on-chain decimals.
func baseWei(amount float64, dec uint8) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(amount), big.NewFloat(math.Pow10(int(dec))))
	wei, _ := f.Int(nil)
	return wei
}
