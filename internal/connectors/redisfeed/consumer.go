package redisfeed

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/dexarb/internal/config"
	"github.com/you/dexarb/internal/types"
)

type Consumer struct {
	rdb    *redis.Client
	stream string
	snapNS string
	log    *zap.Logger
}

func NewConsumer(cfg *config.Config, log *zap.Logger) *Consumer {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
	})
	return &Consumer{
		rdb:    rdb,
		stream: cfg.Redis.Stream,
		snapNS: cfg.Redis.SnapNS,
		log:    log,
	}
}

// Snapshot returns the latest observation per venue for one token.
func (c *Consumer) Snapshot(ctx context.Context, token string) ([]types.PoolObservation, error) {
	m, err := c.rdb.HGetAll(ctx, c.snapNS+token).Result()
	if err != nil {
		return nil, err
	}
	out := make([]types.PoolObservation, 0, len(m))
	for venue, raw := range m {
		var o types.PoolObservation
		if err := json.Unmarshal([]byte(raw), &o); err != nil {
			c.log.Warn("bad snapshot entry, skipping",
				zap.String("token", token), zap.String("venue", venue), zap.Error(err))
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// EnsureGroup creates the consumer group if it does not exist yet.
func (c *Consumer) EnsureGroup(ctx context.Context, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.stream, group, "$").Err()
	if err != nil && !isBusyGroup(err) {
		return err
	}
	return nil
}

// Consume reads observation events until the context is done.
func (c *Consumer) Consume(ctx context.Context, group, consumer string, out chan<- types.PoolObservation) error {
	for {
		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{c.stream, ">"},
			Count:    200,
			Block:    time.Second,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("stream read failed, retrying", zap.Error(err))
			time.Sleep(200 * time.Millisecond)
			continue
		}
		for _, s := range streams {
			for _, m := range s.Messages {
				if raw, ok := m.Values["obs"].(string); ok {
					var o types.PoolObservation
					if err := json.Unmarshal([]byte(raw), &o); err == nil && o.VenueID != "" {
						select {
						case out <- o:
						case <-ctx.Done():
							return ctx.Err()
						}
					}
				}
				_ = c.rdb.XAck(ctx, c.stream, group, m.ID).Err()
			}
		}
	}
}

func (c *Consumer) Close() error { return c.rdb.Close() }

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}
