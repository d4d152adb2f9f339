package store

import (
	"context"
	"fmt"

	"github.com/samz905/wrrk-pilot/config"
	"github.com/samz905/wrrk-pilot/internal/agent/core"
)

// Open builds the repository selected by cfg.Backend. The returned close function
// releases any connection the repository owns.
func Open(ctx context.Context, cfg config.StorageConfig) (core.RunRepository, func() error, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.ResultTTL), func() error { return nil }, nil
	case "redis":
		client, err := Conn(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		return NewRedisStore(client, cfg.ResultTTL), client.Close, nil
	case "postgres":
		st, err := NewWithDSN(ctx, cfg.Postgres.DSN())
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		return st, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("storage backend %q not supported", cfg.Backend)
	}
}
