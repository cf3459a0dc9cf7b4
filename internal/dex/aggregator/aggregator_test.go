package aggregator

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/you/dexarb/internal/dex/core"
	"github.com/you/dexarb/internal/rpccall"
	"github.com/you/dexarb/internal/types"
)

var (
	tokenIn  = common.HexToAddress("0x4200000000000000000000000000000000000006")
	tokenOut = common.HexToAddress("0x532f27101965DD16442E59d40670FaF5eBB142E4")
	wallet   = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	router   = common.HexToAddress("0x111111125421cA6dc452d289314280a0f8842A65")
	executor = common.HexToAddress("0xE37e799D5077682FA0a244D46E5649F71457BD09")
)

type mockBackend struct {
	respond func(msg ethereum.CallMsg) ([]byte, error)
	calls   []ethereum.CallMsg
}

func (m *mockBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	m.calls = append(m.calls, msg)
	return m.respond(msg)
}

func (m *mockBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return nil, nil
}

func newStrategy(t *testing.T, backend *mockBackend) *Strategy {
	t.Helper()
	s, err := New(backend, rpccall.New(zap.NewNop(), 2, time.Millisecond), zap.NewNop())
	require.NoError(t, err)
	return s
}

func prepReq() core.PrepareRequest {
	return core.PrepareRequest{
		Desc: core.RouterDescriptor{
			Address:  router,
			Family:   core.FamilyAggregator,
			Version:  6,
			Executor: executor,
		},
		Observation: types.PoolObservation{VenueID: "1inch_v6"},
		TokenIn:     tokenIn,
		TokenOut:    tokenOut,
		AmountIn:    big.NewInt(1_000_000_000),
		Recipient:   wallet,
		SlippagePct: 1.0,
		Deadline:    time.Unix(1_800_000_000, 0),
	}
}

func packReturn(t *testing.T, s *Strategy, returnAmount, spent int64) []byte {
	t.Helper()
	out, err := s.rabi.Methods["swap"].Outputs.Pack(big.NewInt(returnAmount), big.NewInt(spent))
	require.NoError(t, err)
	return out
}

func unpackMinReturn(t *testing.T, s *Strategy, data []byte) *big.Int {
	t.Helper()
	args, err := s.rabi.Methods["swap"].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	desc := args[1].(struct {
		SrcToken    common.Address `json:"srcToken"`
		DstToken    common.Address `json:"dstToken"`
		SrcReceiver common.Address `json:"srcReceiver"`
		DstReceiver common.Address `json:"dstReceiver"`
		Amount      *big.Int       `json:"amount"`
		MinReturn   *big.Int       `json:"minReturn"`
		Flags       *big.Int       `json:"flags"`
		Permit      []byte         `json:"permit"`
	})
	return desc.MinReturn
}

func TestPrepareSimulatesThenRebuildsWithRealMinimum(t *testing.T) {
	backend := &mockBackend{}
	s := newStrategy(t, backend)
	backend.respond = func(ethereum.CallMsg) ([]byte, error) {
		return packReturn(t, s, 700_000_000, 1_000_000_000), nil
	}

	q, err := s.Prepare(context.Background(), prepReq())
	require.NoError(t, err)

	assert.Equal(t, core.SourceSimulation, q.Source)
	assert.Equal(t, "700000000", q.ExpectedOut.String())
	assert.Equal(t, "693000000", q.MinOut.String())

	// The probe call carries the 1 wei placeholder, never submitted.
	require.Len(t, backend.calls, 1)
	assert.Equal(t, "1", unpackMinReturn(t, s, backend.calls[0].Data).String())
	// The built call carries the slippage-adjusted minimum.
	assert.Equal(t, "693000000", unpackMinReturn(t, s, q.Call.Data).String())
	assert.Equal(t, router, q.Call.To)
}

func TestPrepareSimulationRevertIsNoLiquidity(t *testing.T) {
	backend := &mockBackend{respond: func(ethereum.CallMsg) ([]byte, error) {
		return nil, errors.New("execution reverted")
	}}
	s := newStrategy(t, backend)

	_, err := s.Prepare(context.Background(), prepReq())
	assert.ErrorIs(t, err, core.ErrNoLiquidity)
}

func TestPrepareZeroReturnIsNoLiquidity(t *testing.T) {
	backend := &mockBackend{}
	s := newStrategy(t, backend)
	backend.respond = func(ethereum.CallMsg) ([]byte, error) {
		return packReturn(t, s, 0, 0), nil
	}

	_, err := s.Prepare(context.Background(), prepReq())
	assert.ErrorIs(t, err, core.ErrNoLiquidity)
}

func TestPrepareRequiresExecutor(t *testing.T) {
	backend := &mockBackend{respond: func(ethereum.CallMsg) ([]byte, error) {
		return nil, errors.New("must not be called")
	}}
	s := newStrategy(t, backend)

	req := prepReq()
	req.Desc.Executor = common.Address{}

	_, err := s.Prepare(context.Background(), req)
	assert.ErrorIs(t, err, core.ErrQuoteUnavailable)
	assert.Empty(t, backend.calls)
}

func TestPrepareTransientFailureIsQuoteUnavailable(t *testing.T) {
	backend := &mockBackend{respond: func(ethereum.CallMsg) ([]byte, error) {
		return nil, errors.New("connection reset")
	}}
	s := newStrategy(t, backend)

	_, err := s.Prepare(context.Background(), prepReq())
	assert.ErrorIs(t, err, core.ErrQuoteUnavailable)
}
