package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samz905/wrrk-pilot/config"
	"github.com/samz905/wrrk-pilot/internal/agent/core"
)

const runKeyPrefix = "pilot:run:"

// Conn dials Redis and checks the connection with PING.
func Conn(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		DialTimeout: cfg.Timeout,
		Password:    cfg.Password,
		DB:          cfg.DB,
	})

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if pong != "PONG" {
		_ = client.Close()
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}
	return client, nil
}

// RedisStore keeps each run record as JSON under pilot:run:<id>.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a store. ttl <= 0 keeps records forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) SaveRun(ctx context.Context, rec core.RunRecord) error {
	if rec.RunID == "" {
		return fmt.Errorf("run_id required")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, runKeyPrefix+rec.RunID, data, r.ttl).Err()
}

func (r *RedisStore) GetRun(ctx context.Context, runID string) (core.RunRecord, bool, error) {
	val, err := r.client.Get(ctx, runKeyPrefix+runID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return core.RunRecord{}, false, nil
		}
		return core.RunRecord{}, false, err
	}
	var rec core.RunRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return core.RunRecord{}, false, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return rec, true, nil
}
