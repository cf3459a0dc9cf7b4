package rpccall

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// dataErr mimics the error shape go-ethereum returns for reverts that
// carry structured data. It satisfies rpc.DataError.
type dataErr struct {
	msg  string
	data interface{}
}

func (e *dataErr) Error() string          { return e.msg }
func (e *dataErr) ErrorData() interface{} { return e.data }

func quotePayload(amountOut int64) string {
	buf := make([]byte, 128)
	big.NewInt(amountOut).FillBytes(buf[:32])
	return "0x" + hex.EncodeToString(buf)
}

func newTestExecutor(attempts int) *Executor {
	return New(zap.NewNop(), attempts, time.Millisecond)
}

func TestDoSuccessFirstTry(t *testing.T) {
	e := newTestExecutor(3)
	out, err := e.Do(context.Background(), "balanceOf", func(context.Context) ([]byte, error) {
		return []byte{0x01}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, out)
}

func TestDoQuoteRevertIsSuccess(t *testing.T) {
	e := newTestExecutor(3)
	calls := 0
	out, err := e.Do(context.Background(), "quoteExactInputSingle", func(context.Context) ([]byte, error) {
		calls++
		return nil, &dataErr{msg: "execution reverted", data: quotePayload(123456789)}
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "quote reverts must not burn retries")

	amount, ok := DecodeQuoteAmount(out)
	require.True(t, ok)
	assert.Equal(t, "123456789", amount.String())
}

func TestDoBareRevertIsPermanent(t *testing.T) {
	e := newTestExecutor(5)
	calls := 0
	_, err := e.Do(context.Background(), "getAmountsOut", func(context.Context) ([]byte, error) {
		calls++
		return nil, errors.New("execution reverted")
	})
	assert.ErrorIs(t, err, ErrLogicReverted)
	assert.Equal(t, 1, calls, "deterministic reverts must never be retried")
}

func TestDoErrorStringRevertIsPermanent(t *testing.T) {
	e := newTestExecutor(5)
	// Error("INSUFFICIENT_LIQUIDITY") payload.
	reason := []byte("INSUFFICIENT_LIQUIDITY")
	payload := make([]byte, 4+32+32+32)
	copy(payload, []byte{0x08, 0xc3, 0x79, 0xa0})
	payload[4+31] = 0x20
	big.NewInt(int64(len(reason))).FillBytes(payload[4+32 : 4+64])
	copy(payload[4+64:], reason)

	_, err := e.Do(context.Background(), "getAmountsOut", func(context.Context) ([]byte, error) {
		return nil, &dataErr{msg: "execution reverted", data: "0x" + hex.EncodeToString(payload)}
	})
	require.ErrorIs(t, err, ErrLogicReverted)
	assert.Contains(t, err.Error(), "INSUFFICIENT_LIQUIDITY")
}

func TestDoTransientRetriesThenSucceeds(t *testing.T) {
	e := newTestExecutor(5)
	calls := 0
	out, err := e.Do(context.Background(), "slot0", func(context.Context) ([]byte, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("429 Too Many Requests")
		}
		return []byte{0x02}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []byte{0x02}, out)
}

func TestDoTransientExhaustsBudget(t *testing.T) {
	e := newTestExecutor(4)
	calls := 0
	last := errors.New("connection reset by peer")
	_, err := e.Do(context.Background(), "getReserves", func(context.Context) ([]byte, error) {
		calls++
		return nil, last
	})
	assert.Equal(t, 4, calls)

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 4, ex.Attempts)
	assert.ErrorIs(t, err, last)
}

func TestDoContextCancelDuringBackoff(t *testing.T) {
	e := New(zap.NewNop(), 5, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := e.Do(ctx, "slot0", func(context.Context) ([]byte, error) {
		return nil, errors.New("timeout")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeQuoteAmountRejectsOtherSizes(t *testing.T) {
	_, ok := DecodeQuoteAmount(make([]byte, 96))
	assert.False(t, ok)
}
