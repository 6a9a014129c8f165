package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "download:"

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// openRecordStore connects to Redis when an address is configured and falls
// back to the in-memory store if it is missing or unreachable.
func openRecordStore(ctx context.Context, cfg Config, logger *slog.Logger) RecordStore {
	if cfg.RedisAddr == "" {
		return newMemoryStore(cfg.RecordTTL)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("⚠️  Redis not available, using in-memory storage", "addr", cfg.RedisAddr, "error", err)
		_ = client.Close()
		return newMemoryStore(cfg.RecordTTL)
	}
	logger.Info("✅ Redis connected successfully", "addr", cfg.RedisAddr)
	return newRedisStore(client, cfg.RecordTTL)
}

func newRedisStore(client *redis.Client, ttl time.Duration) *redisStore {
	return &redisStore{client: client, ttl: ttl}
}

func (r *redisStore) Save(ctx context.Context, rec *DownloadRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, redisKeyPrefix+rec.ID, data, r.ttl).Err()
}

func (r *redisStore) Get(ctx context.Context, id string) (*DownloadRecord, error) {
	val, err := r.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", id, err)
	}
	var rec DownloadRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	return &rec, nil
}

func (r *redisStore) Name() string { return "redis" }

func (r *redisStore) Close() error { return r.client.Close() }
