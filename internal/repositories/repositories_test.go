package repositories

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/desertthunder/nowplaying/internal/models"
	"github.com/desertthunder/nowplaying/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *SQLiteKV {
	t.Helper()
	ctx := context.Background()

	db, err := shared.NewDatabase(ctx, ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	if err := shared.RunMigrations(ctx, db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	repo := NewSQLiteKV(db)
	t.Cleanup(func() { repo.Close() })
	return repo
}

// exerciseRepository runs the behavior every backend shares.
func exerciseRepository(t *testing.T, repo models.Repository) {
	t.Helper()
	ctx := context.Background()

	t.Run("Get missing", func(t *testing.T) {
		if _, err := repo.Get(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Set and Get", func(t *testing.T) {
		if err := repo.Set(ctx, "spotify_access_token", "abc"); err != nil {
			t.Fatalf("failed to set: %v", err)
		}
		got, err := repo.Get(ctx, "spotify_access_token")
		if err != nil {
			t.Fatalf("failed to get: %v", err)
		}
		if got != "abc" {
			t.Errorf("expected abc, got %s", got)
		}
	})

	t.Run("Set overwrites", func(t *testing.T) {
		if err := repo.Set(ctx, "spotify_access_token", "def"); err != nil {
			t.Fatalf("failed to overwrite: %v", err)
		}
		got, _ := repo.Get(ctx, "spotify_access_token")
		if got != "def" {
			t.Errorf("expected def, got %s", got)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.Delete(ctx, "spotify_access_token"); err != nil {
			t.Fatalf("failed to delete: %v", err)
		}
		if _, err := repo.Get(ctx, "spotify_access_token"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := repo.Delete(ctx, "spotify_access_token"); err != nil {
			t.Errorf("deleting a missing key should succeed, got %v", err)
		}
	})
}

func TestMemoryKV(t *testing.T) {
	repo := NewMemoryKV()
	exerciseRepository(t, repo)

	if repo.Len() != 0 {
		t.Errorf("expected empty store, got %d keys", repo.Len())
	}
}

func TestSQLiteKV(t *testing.T) {
	exerciseRepository(t, setupTestDB(t))
}

func TestRedisKV(t *testing.T) {
	addr := os.Getenv("NOWPLAYING_TEST_REDIS")
	if addr == "" {
		t.Skip("NOWPLAYING_TEST_REDIS not set, skipping redis tests")
	}

	repo, err := NewRedisKVFromOptions(RedisOptions{Addr: addr})
	if err != nil {
		t.Skipf("Redis not available, skipping test: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	if err := repo.Ping(context.Background()); err != nil {
		t.Skipf("Cannot connect to Redis, skipping test: %v", err)
	}

	exerciseRepository(t, repo)
}

func TestPostgresKV(t *testing.T) {
	url := os.Getenv("NOWPLAYING_TEST_POSTGRES")
	if url == "" {
		t.Skip("NOWPLAYING_TEST_POSTGRES not set, skipping postgres tests")
	}

	repo, err := NewPostgresKV(context.Background(), url)
	if err != nil {
		t.Skipf("Postgres not available, skipping test: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	exerciseRepository(t, repo)
}

func TestStoreType(t *testing.T) {
	tc := []struct {
		in      string
		want    StoreType
		wantErr bool
	}{
		{"memory", StoreMemory, false},
		{" SQLite ", StoreSQLite, false},
		{"redis", StoreRedis, false},
		{"postgres", StorePostgres, false},
		{"etcd", "", true},
		{"", "", true},
	}

	for _, tt := range tc {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStoreType(tt.in)
			if tt.wantErr {
				if !errors.Is(err, shared.ErrInvalidConfig) {
					t.Errorf("expected ErrInvalidConfig, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseStoreType(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		cfg := shared.DefaultConfig()
		cfg.Store.Type = "memory"

		repo, err := Open(ctx, cfg)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer repo.Close()

		if _, ok := repo.(*MemoryKV); !ok {
			t.Errorf("expected *MemoryKV, got %T", repo)
		}
	})

	t.Run("sqlite file", func(t *testing.T) {
		cfg := shared.DefaultConfig()
		cfg.Store.Type = "sqlite"
		cfg.Database.Path = filepath.Join(t.TempDir(), "data", "nowplaying.db")

		repo, err := Open(ctx, cfg)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}

		if err := repo.Set(ctx, "k", "v"); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		repo.Close()

		reopened, err := Open(ctx, cfg)
		if err != nil {
			t.Fatalf("reopen error = %v", err)
		}
		defer reopened.Close()

		if got, err := reopened.Get(ctx, "k"); err != nil || got != "v" {
			t.Errorf("value should survive reopen, got %q, %v", got, err)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := shared.DefaultConfig()
		cfg.Store.Type = "etcd"

		if _, err := Open(ctx, cfg); !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}
