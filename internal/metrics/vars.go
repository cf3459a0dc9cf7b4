package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SpreadPct = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dexarb_spread_pct",
		Help: "Latest fee-adjusted cross-venue spread, percent",
	})

	QuoteLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dexarb_quote_latency_seconds",
		Help:    "Time to obtain a quote, by protocol family",
		Buckets: prometheus.DefBuckets,
	}, []string{"family"})

	QuoteErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dexarb_quote_errors_total",
		Help: "Quote failures by protocol family",
	}, []string{"family"})

	QuoteFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dexarb_quote_fallbacks_total",
		Help: "Quotes served by a fallback source, by source",
	}, []string{"source"})

	RPCAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dexarb_rpc_attempts_total",
		Help: "On-chain call attempts including retries",
	})

	TradeAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dexarb_trade_attempts_total",
		Help: "Trade attempts by outcome",
	}, []string{"outcome"})

	LegsSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dexarb_legs_submitted_total",
		Help: "Swap legs submitted on-chain, by side",
	}, []string{"side"})

	ResidualPositions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dexarb_residual_positions_total",
		Help: "Attempts that ended holding the bought token",
	})
)

func init() {
	prometheus.MustRegister(
		SpreadPct,
		QuoteLatency,
		QuoteErrors,
		QuoteFallbacks,
		RPCAttempts,
		TradeAttempts,
		LegsSubmitted,
		ResidualPositions,
	)
}
