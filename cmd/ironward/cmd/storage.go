package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmcleod/ironward/config"
	"github.com/jmcleod/ironward/storage"
	bboltstorage "github.com/jmcleod/ironward/storage/bbolt"
	"github.com/jmcleod/ironward/storage/memory"
	"github.com/jmcleod/ironward/storage/postgres"
	redisstorage "github.com/jmcleod/ironward/storage/redis"
	"github.com/jmcleod/ironward/storage/sqlite"
)

// openRepository opens the configured backend. The returned close function
// is never nil.
func openRepository(ctx context.Context, cfg config.Storage, dataDir string) (storage.Repository, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.NewRepository(), noop, nil

	case config.BackendBolt:
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, noop, fmt.Errorf("failed to create data directory: %w", err)
		}
		repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(dataDir, "ironward.db"), nil)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open bbolt storage: %w", err)
		}
		return repo, func() { repo.Close() }, nil

	case config.BackendSQLite:
		path := cfg.SQLitePath
		if path == "" {
			if err := os.MkdirAll(dataDir, 0o700); err != nil {
				return nil, noop, fmt.Errorf("failed to create data directory: %w", err)
			}
			path = filepath.Join(dataDir, "ironward.sqlite")
		}
		repo, err := sqlite.Open(path)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		return repo, func() { repo.Close() }, nil

	case config.BackendPostgres:
		repo, err := postgres.NewRepositoryFromDSN(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open postgres storage: %w", err)
		}
		return repo, repo.Close, nil

	case config.BackendRedis:
		repo, err := redisstorage.Dial(ctx, redisstorage.Options{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisPrefix,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open redis storage: %w", err)
		}
		return repo, func() { repo.Close() }, nil

	default:
		return nil, noop, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
