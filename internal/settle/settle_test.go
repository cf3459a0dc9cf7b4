package settle

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/you/dexarb/internal/dex/core"
)

var (
	wallet   = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	token    = common.HexToAddress("0x532f27101965DD16442E59d40670FaF5eBB142E4")
	poolAddr = common.HexToAddress("0x72AB388E2E2F6FaceF59E3C3FA2C4E29011c2D38")
	other    = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

var two256 = new(big.Int).Lsh(big.NewInt(1), 256)

func word(v *big.Int) []byte {
	if v.Sign() < 0 {
		v = new(big.Int).Add(two256, v)
	}
	out := make([]byte, 32)
	v.FillBytes(out)
	return out
}

func transferLog(tokenAddr, from, to common.Address, value int64) *ethtypes.Log {
	return &ethtypes.Log{
		Address: tokenAddr,
		Topics: []common.Hash{
			transferTopic,
			common.BytesToHash(common.LeftPadBytes(from.Bytes(), 32)),
			common.BytesToHash(common.LeftPadBytes(to.Bytes(), 32)),
		},
		Data: word(big.NewInt(value)),
	}
}

func swapLog(pool common.Address, amount0, amount1 int64) *ethtypes.Log {
	data := append(word(big.NewInt(amount0)), word(big.NewInt(amount1))...)
	data = append(data, make([]byte, 96)...) // sqrtPrice, liquidity, tick
	return &ethtypes.Log{
		Address: pool,
		Topics:  []common.Hash{v3SwapTopic},
		Data:    data,
	}
}

func receipt(logs ...*ethtypes.Log) *ethtypes.Receipt {
	return &ethtypes.Receipt{
		Status: ethtypes.ReceiptStatusSuccessful,
		TxHash: common.HexToHash("0xabc123"),
		Logs:   logs,
	}
}

func v3Desc() core.RouterDescriptor {
	return core.RouterDescriptor{Family: core.FamilyV3, Version: 3}
}

func v2Desc() core.RouterDescriptor {
	return core.RouterDescriptor{Family: core.FamilyV2, Version: 2}
}

func TestAmountReceivedPrefersSwapEventForV3(t *testing.T) {
	v := NewVerifier(zap.NewNop())
	rc := receipt(
		transferLog(token, poolAddr, wallet, 900_000_000),
		swapLog(poolAddr, 1_000_000_000, -905_000_000),
	)

	got, err := v.AmountReceived(rc, v3Desc(), wallet, token)
	require.NoError(t, err)
	// The pool's signed outflow wins over the raw transfer value.
	assert.Equal(t, "905000000", got.String())
}

func TestAmountReceivedSwapEventNegativeAmount0(t *testing.T) {
	v := NewVerifier(zap.NewNop())
	rc := receipt(
		transferLog(token, poolAddr, wallet, 1),
		swapLog(poolAddr, -777_000_000, 1_000_000_000),
	)

	got, err := v.AmountReceived(rc, v3Desc(), wallet, token)
	require.NoError(t, err)
	assert.Equal(t, "777000000", got.String())
}

func TestAmountReceivedV3FallsBackToTransfer(t *testing.T) {
	v := NewVerifier(zap.NewNop())
	// No Swap event in the receipt at all.
	rc := receipt(transferLog(token, poolAddr, wallet, 900_000_000))

	got, err := v.AmountReceived(rc, v3Desc(), wallet, token)
	require.NoError(t, err)
	assert.Equal(t, "900000000", got.String())
}

func TestAmountReceivedGenericFirstTransferToWallet(t *testing.T) {
	v := NewVerifier(zap.NewNop())
	rc := receipt(
		transferLog(token, wallet, other, 123),        // outgoing, ignored
		transferLog(other, poolAddr, wallet, 999),     // wrong token, ignored
		transferLog(token, poolAddr, wallet, 450_000), // this one
		transferLog(token, poolAddr, wallet, 999_999), // later, ignored
	)

	got, err := v.AmountReceived(rc, v2Desc(), wallet, token)
	require.NoError(t, err)
	assert.Equal(t, "450000", got.String())
}

func TestAmountReceivedNothingForWalletIsFatal(t *testing.T) {
	v := NewVerifier(zap.NewNop())
	rc := receipt(transferLog(token, poolAddr, other, 450_000))

	_, err := v.AmountReceived(rc, v2Desc(), wallet, token)
	assert.ErrorIs(t, err, ErrSettlementUnknown)
}

func TestAmountReceivedEmptyReceiptIsFatal(t *testing.T) {
	v := NewVerifier(zap.NewNop())

	_, err := v.AmountReceived(receipt(), v3Desc(), wallet, token)
	assert.ErrorIs(t, err, ErrSettlementUnknown)
}
