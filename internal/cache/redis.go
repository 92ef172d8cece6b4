package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "deckforge:cache:"

// RedisTier persists cache entries in Redis. Redis expiry mirrors the entry
// TTL, so SweepExpired has nothing to do beyond what the server handles.
type RedisTier struct {
	client *redis.Client
}

type redisRecord struct {
	Payload   Payload   `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewRedisTier connects to Redis and verifies the connection.
func NewRedisTier(ctx context.Context, addr, password string, db int) (*RedisTier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisTier{client: client}, nil
}

func (t *RedisTier) Name() string { return "redis" }

func (t *RedisTier) Close() error {
	return t.client.Close()
}

func (t *RedisTier) Get(ctx context.Context, key string) (*Entry, error) {
	raw, err := t.client.Get(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache get: %w", err)
	}

	var record redisRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("decode cache record: %w", err)
	}
	return &Entry{
		Key:       key,
		Payload:   record.Payload,
		CreatedAt: record.CreatedAt,
		ExpiresAt: record.ExpiresAt,
		SizeBytes: int64(len(raw)),
	}, nil
}

func (t *RedisTier) Set(ctx context.Context, entry *Entry) error {
	record := redisRecord{
		Payload:   entry.Payload,
		CreatedAt: entry.CreatedAt,
		ExpiresAt: entry.ExpiresAt,
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode cache record: %w", err)
	}
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := t.client.Set(ctx, redisKeyPrefix+entry.Key, encoded, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (t *RedisTier) Delete(ctx context.Context, key string) error {
	if err := t.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

func (t *RedisTier) DeleteMatching(ctx context.Context, re *regexp.Regexp) (int, error) {
	iter := t.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	removed := 0
	for iter.Next(ctx) {
		full := iter.Val()
		key := strings.TrimPrefix(full, redisKeyPrefix)
		if !re.MatchString(key) {
			continue
		}
		if err := t.client.Del(ctx, full).Err(); err != nil {
			return removed, fmt.Errorf("cache delete: %w", err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("cache scan: %w", err)
	}
	return removed, nil
}

// SweepExpired is a no-op: Redis evicts keys at their TTL server-side.
func (t *RedisTier) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}
