package core

import "errors"

// Venue-level quoting failures. PoolNotFound and NoLiquidity mean "skip
// this venue for this pair"; QuoteUnavailable means every quoting
// mechanism for the venue was exhausted and the leg must be aborted.
var (
	ErrPoolNotFound     = errors.New("pool not found")
	ErrNoLiquidity      = errors.New("no liquidity")
	ErrQuoteUnavailable = errors.New("quote unavailable")
)
