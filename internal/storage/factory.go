package storage

import (
	"fmt"

	"github.com/metal-price-cache/internal/config"
)

// OpenSnapshotStore builds the secondary store selected by cfg.Persistence.Backend.
// It returns a nil store for the "none" backend and for ephemeral hosts, where
// no connection is opened at all. The returned close func is never nil.
func OpenSnapshotStore(cfg *config.Config) (SnapshotStore, func(), error) {
	noop := func() {}

	if !cfg.Persistence.Durable() {
		return nil, noop, nil
	}

	switch cfg.Persistence.Backend {
	case config.BackendNone:
		return nil, noop, nil

	case config.BackendFile:
		return NewFileSnapshotStore(cfg.Persistence.FilePath), noop, nil

	case config.BackendRedis:
		cache, err := NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			return nil, noop, err
		}
		return NewRedisSnapshotStore(cache), func() { _ = cache.Close() }, nil

	case config.BackendPostgres:
		db, err := NewPostgresDB(&cfg.Database.Postgres)
		if err != nil {
			return nil, noop, err
		}
		return NewPostgresSnapshotStore(db), db.Close, nil

	default:
		return nil, noop, fmt.Errorf("unknown persistence backend %q", cfg.Persistence.Backend)
	}
}
