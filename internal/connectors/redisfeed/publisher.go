// Package redisfeed mirrors pool observations through Redis so the
// trading process and auxiliary watchers can share one price feed.
// Layout: one stream of observation events plus a per-token snapshot
// hash keyed by venue.
package redisfeed

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/you/dexarb/internal/config"
	"github.com/you/dexarb/internal/types"
)

type Publisher struct {
	rdb    *redis.Client
	stream string
	snapNS string
}

func NewPublisher(cfg *config.Config) *Publisher {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
	})
	return &Publisher{
		rdb:    rdb,
		stream: cfg.Redis.Stream,
		snapNS: cfg.Redis.SnapNS,
	}
}

// PublishObservations appends each observation to the stream and
// refreshes the token's snapshot hash (field per venue).
func (p *Publisher) PublishObservations(ctx context.Context, token string, obs []types.PoolObservation, tsMs int64) error {
	snapKey := p.snapNS + token
	for _, o := range obs {
		payload, err := json.Marshal(o)
		if err != nil {
			return err
		}
		if err := p.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: p.stream,
			Values: map[string]interface{}{
				"token": token,
				"venue": o.VenueID,
				"obs":   string(payload),
				"ts_ms": tsMs,
			},
		}).Err(); err != nil {
			return err
		}
		if err := p.rdb.HSet(ctx, snapKey, o.VenueID, string(payload)).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) Close() error { return p.rdb.Close() }
