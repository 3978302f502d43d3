package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrMiss = errors.New("cache miss")

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type SentValue struct {
	RemoteMessageID string    `json:"remoteMessageId"`
	SentAt          time.Time `json:"sentAt"`
}

func sentKey(deliveryID string) string {
	return "msg:" + deliveryID
}

func (c *RedisCache) StoreSent(ctx context.Context, deliveryID, remoteMessageID string, sentAt time.Time) error {
	val := SentValue{
		RemoteMessageID: remoteMessageID,
		SentAt:          sentAt.UTC(),
	}

	b, err := json.Marshal(val)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, sentKey(deliveryID), b, c.ttl).Err()
}

// LookupSent returns ErrMiss when the delivery is not cached.
func (c *RedisCache) LookupSent(ctx context.Context, deliveryID string) (SentValue, error) {
	raw, err := c.rdb.Get(ctx, sentKey(deliveryID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return SentValue{}, ErrMiss
	}
	if err != nil {
		return SentValue{}, err
	}

	var v SentValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return SentValue{}, err
	}
	return v, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
