package cli

import (
	"context"
	"fmt"

	"github.com/preservio/arcrepo/application"
	"github.com/preservio/arcrepo/domain/index"
	"github.com/preservio/arcrepo/infrastructure/config"
	badgeridx "github.com/preservio/arcrepo/infrastructure/index/badger"
	memoryidx "github.com/preservio/arcrepo/infrastructure/index/memory"
	redisidx "github.com/preservio/arcrepo/infrastructure/index/redis"
	"github.com/preservio/arcrepo/infrastructure/logging"
	"github.com/preservio/arcrepo/infrastructure/vlock"
	"github.com/preservio/arcrepo/infrastructure/warc"
)

// loadConfig reads the configured file, or falls back to defaults when
// no --config flag was given.
func (a *App) loadConfig() (*config.Config, error) {
	if a.configPath == "" {
		return config.Default(), nil
	}
	return config.NewLoader().LoadFile(a.configPath)
}

// openRepository builds the repository from configuration and runs
// startup recovery. Callers own the returned repository and must call
// Shutdown.
func (a *App) openRepository(ctx context.Context, cfg *config.Config, forceReindex bool) (*application.Repository, error) {
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	idx, err := openIndex(cfg.Index)
	if err != nil {
		return nil, err
	}

	store, err := warc.NewStore(cfg.Repository.DataDir)
	if err != nil {
		idx.Close()
		return nil, err
	}

	opts := []application.Option{
		application.WithIndex(idx),
		application.WithStore(store),
		application.WithJournalPath(cfg.Repository.JournalPath),
	}
	if cfg.Repository.LockStripes > 0 {
		opts = append(opts, application.WithLockTable(vlock.NewTable(cfg.Repository.LockStripes)))
	}
	if forceReindex || cfg.Repository.ForceReindex {
		opts = append(opts, application.WithForceReindex())
	}

	repo, err := application.New(opts...)
	if err != nil {
		idx.Close()
		store.Close()
		return nil, err
	}
	if err := repo.Init(ctx); err != nil {
		repo.Shutdown(ctx)
		return nil, fmt.Errorf("initializing repository: %w", err)
	}
	return repo, nil
}

// openIndex constructs the configured index backend.
func openIndex(cfg config.IndexConfig) (index.Index, error) {
	switch cfg.Backend {
	case config.IndexMemory:
		// Not persistent: every start rebuilds the index from the data
		// store.
		return memoryidx.NewIndex(), nil
	case config.IndexBadger:
		bcfg := badgeridx.DefaultConfig()
		bcfg.Dir = cfg.Badger.Dir
		bcfg.InMemory = cfg.Badger.InMemory
		bcfg.SyncWrites = cfg.Badger.SyncWrites
		return badgeridx.NewIndex(bcfg)
	case config.IndexRedis:
		rcfg := redisidx.DefaultConfig()
		rcfg.Address = cfg.Redis.Address
		rcfg.Password = cfg.Redis.Password
		rcfg.DB = cfg.Redis.DB
		if cfg.Redis.KeyPrefix != "" {
			rcfg.KeyPrefix = cfg.Redis.KeyPrefix
		}
		return redisidx.NewIndex(rcfg)
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Backend)
	}
}
