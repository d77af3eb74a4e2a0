// Package store wraps the shared Redis instance behind the generic
// primitives the realtime managers compose: keys with TTLs, sets,
// sorted sets, capped lists, hashes, pattern scans and pub/sub.
//
// The store is the single source of truth for all realtime state; the
// gateway process keeps no authoritative state of its own. A failed
// operation means "state unknown", never "state absent": callers get
// the wrapped error and decide whether to retry or degrade.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps a Redis connection with the operations the realtime
// service needs. Individual commands are atomic on the server;
// multi-step sequences go through TxPipelined (MULTI/EXEC).
type Client struct {
	rdb *redis.Client
}

// New connects to Redis and verifies the connection. Construction
// failure is the only store error that is fatal to the process.
func New(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// NewFromRedis wraps an existing Redis client. Used by tests to run
// against an in-process server.
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// SetJSON marshals value and stores it under key with the given TTL.
// A zero TTL stores the key without expiry.
func (c *Client) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// GetJSON reads key into dest. Returns false with a nil error when the
// key does not exist.
func (c *Client) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

// Exists reports whether the key is present and unexpired.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return n > 0, nil
}

// Expire refreshes a key's TTL.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	return nil
}

// SAdd adds a member to a set.
func (c *Client) SAdd(ctx context.Context, key, member string) error {
	if err := c.rdb.SAdd(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("sadd %s: %w", key, err)
	}
	return nil
}

// SRem removes a member from a set. Removing an absent member is a no-op.
func (c *Client) SRem(ctx context.Context, key, member string) error {
	if err := c.rdb.SRem(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("srem %s: %w", key, err)
	}
	return nil
}

// SCard returns the member count of a set; 0 for a missing set.
func (c *Client) SCard(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("scard %s: %w", key, err)
	}
	return n, nil
}

// SMembers lists the members of a set; empty for a missing set.
func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := c.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers %s: %w", key, err)
	}
	return members, nil
}

// ZAdd adds a member with a score to a sorted set, replacing any
// existing score.
func (c *Client) ZAdd(ctx context.Context, key string, score float64, member string) error {
	if err := c.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("zadd %s: %w", key, err)
	}
	return nil
}

// ZCount counts members with scores in [min, max].
func (c *Client) ZCount(ctx context.Context, key, min, max string) (int64, error) {
	n, err := c.rdb.ZCount(ctx, key, min, max).Result()
	if err != nil {
		return 0, fmt.Errorf("zcount %s: %w", key, err)
	}
	return n, nil
}

// ZRangeByScore lists members with scores in [min, max], ascending.
func (c *Client) ZRangeByScore(ctx context.Context, key, min, max string) ([]string, error) {
	members, err := c.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: min, Max: max}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore %s: %w", key, err)
	}
	return members, nil
}

// ZRemRangeByScore removes members with scores in [min, max].
func (c *Client) ZRemRangeByScore(ctx context.Context, key, min, max string) error {
	if err := c.rdb.ZRemRangeByScore(ctx, key, min, max).Err(); err != nil {
		return fmt.Errorf("zremrangebyscore %s: %w", key, err)
	}
	return nil
}

// LRange reads list entries in [start, stop], newest first for lists
// written with LPush.
func (c *Client) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	entries, err := c.rdb.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	return entries, nil
}

// Keys lists keys matching a glob pattern. O(n) over the keyspace;
// intended for dashboards, not the hot path.
func (c *Client) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := c.rdb.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("keys %s: %w", pattern, err)
	}
	return keys, nil
}

// HGetAll reads all fields of a hash; an empty map means the hash does
// not exist.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	return fields, nil
}

// Incr increments an integer key, creating it at zero first.
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return n, nil
}

// Get reads a raw string key. Returns false with a nil error when the
// key does not exist.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// TxPipelined runs fn's commands in a single MULTI/EXEC transaction.
// The queued commands execute atomically on the server.
func (c *Client) TxPipelined(ctx context.Context, fn func(pipe redis.Pipeliner) error) error {
	if _, err := c.rdb.TxPipelined(ctx, fn); err != nil {
		return fmt.Errorf("tx pipeline: %w", err)
	}
	return nil
}

// Publish sends a payload on a pub/sub channel.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// PSubscribe subscribes to every channel matching the glob pattern.
// The caller owns the returned subscription and must Close it.
func (c *Client) PSubscribe(ctx context.Context, pattern string) *redis.PubSub {
	return c.rdb.PSubscribe(ctx, pattern)
}

// Ping verifies store connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
