package rpccall

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/you/dexarb/internal/metrics"
)

// ErrLogicReverted marks a deterministic revert: the call will fail the
// same way on every attempt, so it is never retried.
var ErrLogicReverted = errors.New("logic reverted")

// ExhaustedError is returned when transient failures outlast the retry
// budget. Last carries the underlying error of the final attempt.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("rpc exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Operation is a zero-argument read or simulate call against the chain.
type Operation func(ctx context.Context) ([]byte, error)

// Executor retries transient RPC failures with exponential backoff and
// recognizes the two kinds of reverts quoting contracts produce: reverts
// that smuggle the quote result out through revert data, and plain
// deterministic reverts that retrying cannot fix.
type Executor struct {
	log         *zap.Logger
	maxAttempts int
	backoffBase time.Duration
}

func New(log *zap.Logger, maxAttempts int, backoffBase time.Duration) *Executor {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if backoffBase <= 0 {
		backoffBase = 500 * time.Millisecond
	}
	return &Executor{log: log, maxAttempts: maxAttempts, backoffBase: backoffBase}
}

// quotePayloadLen is the ABI-encoded size of the QuoterV1-style result
// tuple (amountOut uint256, sqrtPriceX96After uint160, ticksCrossed
// uint32, gasEstimate uint256): four 32-byte words.
const quotePayloadLen = 4 * 32

// Do runs op, retrying transient failures with doubling delays. A revert
// whose data is exactly the quote result tuple is a success: the payload
// is returned as-is and unpacks like a normal quoter return. Any other
// revert fails permanently with ErrLogicReverted.
func (e *Executor) Do(ctx context.Context, label string, op Operation) ([]byte, error) {
	delay := e.backoffBase
	var last error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		metrics.RPCAttempts.Inc()
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}

		if payload, ok := RevertData(err); ok {
			if len(payload) == quotePayloadLen {
				e.log.Debug("revert carries quote payload, treating as success",
					zap.String("call", label))
				return payload, nil
			}
			return nil, fmt.Errorf("%s: %w: %s", label, ErrLogicReverted, revertReason(payload))
		}
		if isRevert(err) {
			return nil, fmt.Errorf("%s: %w", label, ErrLogicReverted)
		}

		last = err
		if attempt == e.maxAttempts {
			break
		}
		e.log.Warn("rpc call failed, retrying",
			zap.String("call", label),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, &ExhaustedError{Attempts: e.maxAttempts, Last: last}
}

// DecodeQuoteAmount extracts the amountOut field from a quote result
// tuple returned (or revert-smuggled) by a QuoterV1-style contract.
func DecodeQuoteAmount(payload []byte) (*big.Int, bool) {
	if len(payload) != quotePayloadLen {
		return nil, false
	}
	return new(big.Int).SetBytes(payload[:32]), true
}

// RevertData extracts the structured revert payload from a go-ethereum
// RPC error, when the node supplied one.
func RevertData(err error) ([]byte, bool) {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return nil, false
	}
	raw, ok := de.ErrorData().(string)
	if !ok {
		return nil, false
	}
	raw = strings.TrimPrefix(raw, "0x")
	if raw == "" {
		return nil, false
	}
	b, err2 := hex.DecodeString(raw)
	if err2 != nil {
		return nil, false
	}
	return b, true
}

func isRevert(err error) bool {
	return strings.Contains(err.Error(), "execution reverted")
}

// revertReason decodes an Error(string) payload; anything else is shown
// as raw hex.
func revertReason(payload []byte) string {
	// 0x08c379a0 = Error(string) selector
	if len(payload) >= 4+32+32 && payload[0] == 0x08 && payload[1] == 0xc3 && payload[2] == 0x79 && payload[3] == 0xa0 {
		offsetEnd := 4 + 32
		lenEnd := offsetEnd + 32
		strLen := new(big.Int).SetBytes(payload[offsetEnd:lenEnd]).Int64()
		if strLen > 0 && lenEnd+int(strLen) <= len(payload) {
			return string(payload[lenEnd : lenEnd+int(strLen)])
		}
	}
	return "0x" + hex.EncodeToString(payload)
}
