package redisfeed

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/you/dexarb/internal/config"
	"github.com/you/dexarb/internal/types"
)

func testConfig(t *testing.T) (*config.Config, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := &config.Config{}
	cfg.Redis.Addr = mr.Addr()
	cfg.Redis.Stream = "pool:stream"
	cfg.Redis.SnapNS = "pool:snap:"
	return cfg, mr
}

func sampleObs() []types.PoolObservation {
	return []types.PoolObservation{
		{VenueID: "baseswap", PairAddress: "0x01", PriceNative: 0.00010, LiquidityUSD: 12_000, FeeBps: 30},
		{VenueID: "uniswap_v3", PairAddress: "0x02", PriceNative: 0.00011, LiquidityUSD: 48_000, FeeBps: 25},
	}
}

func TestPublishAndSnapshot(t *testing.T) {
	cfg, _ := testConfig(t)
	pub := NewPublisher(cfg)
	defer pub.Close()
	con := NewConsumer(cfg, zap.NewNop())
	defer con.Close()

	ctx := context.Background()
	require.NoError(t, pub.PublishObservations(ctx, "TOKEN", sampleObs(), time.Now().UnixMilli()))

	snap, err := con.Snapshot(ctx, "TOKEN")
	require.NoError(t, err)
	require.Len(t, snap, 2)

	byVenue := map[string]types.PoolObservation{}
	for _, o := range snap {
		byVenue[o.VenueID] = o
	}
	assert.Equal(t, 0.00010, byVenue["baseswap"].PriceNative)
	assert.Equal(t, 25.0, byVenue["uniswap_v3"].FeeBps)
}

func TestPublishOverwritesSnapshotPerVenue(t *testing.T) {
	cfg, _ := testConfig(t)
	pub := NewPublisher(cfg)
	defer pub.Close()
	con := NewConsumer(cfg, zap.NewNop())
	defer con.Close()

	ctx := context.Background()
	obs := sampleObs()[:1]
	require.NoError(t, pub.PublishObservations(ctx, "TOKEN", obs, 1))

	obs[0].PriceNative = 0.00012
	require.NoError(t, pub.PublishObservations(ctx, "TOKEN", obs, 2))

	snap, err := con.Snapshot(ctx, "TOKEN")
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, 0.00012, snap[0].PriceNative)
}

func TestConsumeStream(t *testing.T) {
	cfg, _ := testConfig(t)
	pub := NewPublisher(cfg)
	defer pub.Close()
	con := NewConsumer(cfg, zap.NewNop())
	defer con.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, con.EnsureGroup(ctx, "engine"))
	require.NoError(t, con.EnsureGroup(ctx, "engine"), "recreating the group must be a no-op")

	out := make(chan types.PoolObservation, 4)
	go func() { _ = con.Consume(ctx, "engine", "c1", out) }()

	require.NoError(t, pub.PublishObservations(ctx, "TOKEN", sampleObs(), time.Now().UnixMilli()))

	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case o := <-out:
			seen[o.VenueID] = true
		case <-ctx.Done():
			t.Fatal("timed out waiting for stream messages")
		}
	}
	assert.True(t, seen["baseswap"])
	assert.True(t, seen["uniswap_v3"])
}
