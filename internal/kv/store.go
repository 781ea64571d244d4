// Package kv provides a scoped key-value client over interchangeable
// storage backends (Redis, Pebble, SQLite and memory).
package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stardust/internal/config"
)

// ErrNotFound is returned by Backend.Get when a key is absent or expired.
var ErrNotFound = errors.New("kv: key not found")

// Backend is the minimal storage surface the client needs. A zero ttl means
// the value never expires.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Open creates the backend selected by cfg.Backend.
func Open(cfg config.StoreConfig, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "kv"), slog.String("backend", cfg.Backend))

	var (
		backend Backend
		err     error
	)
	switch cfg.Backend {
	case "redis":
		backend, err = NewRedisBackend(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case "pebble":
		backend, err = NewPebbleBackend(cfg.PebbleDir, nil)
	case "sqlite":
		backend, err = NewSQLiteBackend(cfg.SQLitePath)
	case "memory":
		backend = NewMemoryBackend()
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}

	logger.Info("key-value backend opened")
	return backend, nil
}

// expiry converts a ttl into an absolute unix-nano deadline, 0 meaning never.
func expiry(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return now.Add(ttl).UnixNano()
}

func expired(now time.Time, deadline int64) bool {
	return deadline != 0 && now.UnixNano() >= deadline
}
