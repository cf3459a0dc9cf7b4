package types

import "time"

// PoolObservation is one pool's price snapshot as reported by the price
// feed. Immutable once captured; the engine reads it for a single trade
// decision and never mutates it.
type PoolObservation struct {
	VenueID      string  `json:"venue_id"`
	PairAddress  string  `json:"pair_address"`
	PriceNative  float64 `json:"price_native"` // token price in base-currency units
	PriceUSD     float64 `json:"price_usd,omitempty"`
	LiquidityUSD float64 `json:"liquidity_usd"`
	FeeBps       float64 `json:"fee_bps"`
	Stable       bool    `json:"stable,omitempty"` // Solidly pools only
}

// Outcome labels how a trade attempt ended.
type Outcome string

const (
	OutcomeSkipped        Outcome = "SKIPPED"         // cooldown window or dry run, nothing submitted
	OutcomeAborted        Outcome = "ABORTED"         // preflight or quoting rejected the attempt, no funds at risk
	OutcomeBuyFailed      Outcome = "BUY_FAILED"      // leg 1 reverted or never mined, nothing lost but gas
	OutcomeComplete       Outcome = "COMPLETE"        // both legs confirmed
	OutcomeResidualTokens Outcome = "RESIDUAL_TOKENS" // buy confirmed, sell failed or settlement unknown
)

// TradeReport summarizes one finished attempt for logging and metrics.
type TradeReport struct {
	Outcome       Outcome
	BuyVenue      string
	SellVenue     string
	SpreadPercent float64
	BuyTxHash     string
	SellTxHash    string
	AmountInWei   string
	AmountOutWei  string
	StartedAt     time.Time
	Err           error
}
