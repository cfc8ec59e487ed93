// Package store provides license.Store implementations: in-memory, a JSON
// file, PostgreSQL through gorm and Redis.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"licenselock/internal/config"
	"licenselock/internal/license"
)

var errEmptyDevice = errors.New("locking a license requires a device id")

func errUnknownState(s license.ActivationState) error {
	return fmt.Errorf("unknown activation state %q", s)
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (license.Store, error) {
	logger = logger.With(slog.String("component", "store"), slog.String("driver", cfg.Driver))

	switch cfg.Driver {
	case config.StoreMemory:
		logger.InfoContext(ctx, "Using in-memory license store")
		return NewMemoryStore(), nil

	case config.StoreFile:
		s, err := NewFileStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		logger.InfoContext(ctx, "Opened file license store",
			slog.String("path", cfg.Path),
			slog.Int("records", s.Len()))
		return s, nil

	case config.StorePostgres:
		db, err := ConnectPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		if err := RunMigrations(ctx, db, logger); err != nil {
			return nil, err
		}
		return NewPostgresStore(db), nil

	case config.StoreRedis:
		client, err := ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		s := NewRedisStore(client, cfg.KeyPrefix)
		if err := s.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		logger.InfoContext(ctx, "Connected to redis license store", slog.String("key_prefix", cfg.KeyPrefix))
		return s, nil

	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}
