// package repositories provides the persistence backends selectable from config.
package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/nowplaying/internal/models"
	"github.com/desertthunder/nowplaying/internal/shared"
)

// StoreType names a persistence backend.
type StoreType string

const (
	StoreMemory   StoreType = "memory"
	StoreSQLite   StoreType = "sqlite"
	StoreRedis    StoreType = "redis"
	StorePostgres StoreType = "postgres"
)

// ParseStoreType normalizes s and reports whether it names a known backend.
func ParseStoreType(s string) (StoreType, error) {
	st := StoreType(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: unknown store type %q", shared.ErrInvalidConfig, s)
	}
	return st, nil
}

// IsValid reports whether st is one of the supported backends.
func (st StoreType) IsValid() bool {
	switch st {
	case StoreMemory, StoreSQLite, StoreRedis, StorePostgres:
		return true
	}
	return false
}

// Open connects to the backend named by cfg.Store.Type.
//
// The SQLite backend runs pending migrations before returning.
func Open(ctx context.Context, cfg *shared.Config) (models.Repository, error) {
	st, err := ParseStoreType(cfg.Store.Type)
	if err != nil {
		return nil, err
	}

	switch st {
	case StoreMemory:
		return NewMemoryKV(), nil
	case StoreSQLite:
		db, err := shared.NewDatabase(ctx, cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		shared.ConfigureDatabase(db, cfg.Database)
		if err := shared.RunMigrations(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return NewSQLiteKV(db), nil
	case StoreRedis:
		return NewRedisKVFromOptions(RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	case StorePostgres:
		return NewPostgresKV(ctx, cfg.Postgres.URL)
	default:
		return nil, fmt.Errorf("%w: unknown store type %q", shared.ErrInvalidConfig, st)
	}
}
