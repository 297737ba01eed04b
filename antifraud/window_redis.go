package antifraud

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v7"
)

// RedisWindowStore is a WindowStore backed by Redis sorted sets (one key
// per miner+window, scored by event timestamp), for deployments running
// more than one process for the same company so rolling windows stay
// consistent across instances (spec §4.3's per-miner rate limits are
// meaningless if each process keeps its own count).
type RedisWindowStore struct {
	client *redis.Client
}

// NewRedisWindowStore builds a WindowStore over an existing Redis client.
func NewRedisWindowStore(client *redis.Client) *RedisWindowStore {
	return &RedisWindowStore{client: client}
}

func (s *RedisWindowStore) Increment(ctx context.Context, miner string, t time.Time, window time.Duration) (int, error) {
	key := fmt.Sprintf("prfi:antifraud:%s:%d", miner, window)
	member := fmt.Sprintf("%d", t.UnixNano())
	cutoff := t.Add(-window).UnixNano()

	pipe := s.client.TxPipeline()
	pipe.ZAdd(key, &redis.Z{Score: float64(t.UnixNano()), Member: member})
	pipe.ZRemRangeByScore(key, "-inf", fmt.Sprintf("(%d", cutoff))
	card := pipe.ZCard(key)
	pipe.Expire(key, window+time.Minute)
	if _, err := pipe.Exec(); err != nil {
		return 0, fmt.Errorf("antifraud: redis window increment: %w", err)
	}
	return int(card.Val()), nil
}
