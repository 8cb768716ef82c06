// Package redisx holds the Redis client and the keyed markers built on it.
package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Processed webhook deliveries: dedup:{scope}:{id}
	KeyDedup = "dedup:%s:%s"
)

var TTLDedup = 48 * time.Hour

func New(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Ping checks the connection with a short deadline.
func Ping(ctx context.Context, rdb redis.Cmdable) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rdb.Ping(ctx).Err()
}

func Exists(ctx context.Context, rdb redis.Cmdable, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}
