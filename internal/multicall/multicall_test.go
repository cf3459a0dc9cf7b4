package multicall

import (
	"context"
	"math/big"
	"strings"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockBackend struct {
	response []byte
	err      error
	lastMsg  ethereum.CallMsg
}

func (m *mockBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	m.lastMsg = msg
	return m.response, m.err
}

func (m *mockBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return nil, nil
}

func TestAggregate(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(multicallABI))
	require.NoError(t, err)

	poolAddr := common.HexToAddress("0x72AB388E2E2F6FaceF59E3C3FA2C4E29011c2D38")
	padded := common.LeftPadBytes(poolAddr.Bytes(), 32)
	packed, err := parsed.Methods["aggregate"].Outputs.Pack(
		big.NewInt(19_000_000),
		[][]byte{padded, {}},
	)
	require.NoError(t, err)

	backend := &mockBackend{response: packed}
	mc, err := New(backend, common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11"))
	require.NoError(t, err)

	results, err := mc.Aggregate(context.Background(), []Call{
		{Target: common.HexToAddress("0x01"), CallData: []byte{0xaa}},
		{Target: common.HexToAddress("0x02"), CallData: []byte{0xbb}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.True(t, results[0].Success)
	assert.Equal(t, poolAddr, common.BytesToAddress(results[0].Data))
	assert.False(t, results[1].Success, "empty return data means the probe missed")
}
