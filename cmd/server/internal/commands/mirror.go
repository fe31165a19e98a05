package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/deskpool/internal/store"
	memorystore "github.com/wolfeidau/deskpool/internal/store/memory"
	postgresstore "github.com/wolfeidau/deskpool/internal/store/postgres"
	redisstore "github.com/wolfeidau/deskpool/internal/store/redis"
	sqlitestore "github.com/wolfeidau/deskpool/internal/store/sqlite"
)

type MirrorFlags struct {
	Type            string        `help:"mirror backend (memory, redis, postgres or sqlite)" default:"memory" env:"DESKPOOL_STORAGE_BACKEND" enum:"memory,redis,postgres,sqlite"`
	TTL             time.Duration `help:"lifetime of mirrored session records, must exceed the maximum session timeout" default:"6h" env:"DESKPOOL_SESSION_TTL"`
	CleanupInterval time.Duration `help:"how often expired records are purged from memory and sqlite mirrors" default:"10m" env:"DESKPOOL_MIRROR_CLEANUP_INTERVAL"`
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	QueryTimeout time.Duration `help:"timeout for each mirror query" default:"5s"`

	MaxConns        int32         `help:"maximum number of connections in pool" default:"8"`
	MinConns        int32         `help:"minimum number of connections in pool" default:"1"`
	MaxConnLifetime time.Duration `help:"maximum connection lifetime" default:"1h"`
	MaxConnIdleTime time.Duration `help:"maximum connection idle time" default:"30m"`
	StartupTimeout  time.Duration `help:"how long to wait for the database to accept connections at startup" default:"30s"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"DESKPOOL_POSTGRES_AUTO_MIGRATE"`
}

func (s *PostgresStoreFlags) Validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

type RedisFlags struct {
	Addr     string `help:"Redis address" default:"localhost:6379" env:"DESKPOOL_REDIS_ADDR"`
	Username string `help:"Redis username" env:"DESKPOOL_REDIS_USERNAME"`
	Password string `help:"Redis password" env:"DESKPOOL_REDIS_PASSWORD"`
	DB       int    `help:"Redis database number" default:"0" env:"DESKPOOL_REDIS_DB"`
}

type SQLiteFlags struct {
	Path string `help:"path to the sqlite mirror database" default:"deskpool.db" env:"DESKPOOL_SQLITE_PATH"`
}

// mirror is an opened mirror backend with everything needed to release it.
type mirror struct {
	store.MirrorStore
	closers []func() error

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (m *mirror) Close() error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	errs := []error{m.MirrorStore.Close()}
	for _, closeFn := range m.closers {
		errs = append(errs, closeFn())
	}
	return errors.Join(errs...)
}

// sweepExpired purges expired records on an interval for backends without
// server-side expiry of their own.
func (m *mirror) sweepExpired(ctx context.Context, interval time.Duration, deleteExpired func(context.Context) (int, error)) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := deleteExpired(ctx)
				if err != nil {
					log.Error().Err(err).Msg("Failed to delete expired mirror entries")
					continue
				}
				if n > 0 {
					log.Debug().Int("deleted", n).Msg("Deleted expired mirror entries")
				}
			}
		}
	}()
}

func (c *ServerCmd) openMirror(ctx context.Context) (*mirror, error) {
	switch c.Mirror.Type {
	case "postgres":
		if err := c.Postgres.Validate(); err != nil {
			return nil, err
		}

		pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
			ConnString:      c.Postgres.ConnString,
			MaxConns:        c.Postgres.MaxConns,
			MinConns:        c.Postgres.MinConns,
			MaxConnLifetime: c.Postgres.MaxConnLifetime,
			MaxConnIdleTime: c.Postgres.MaxConnIdleTime,
			StartupTimeout:  c.Postgres.StartupTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}

		// Run migrations if enabled
		if c.Postgres.AutoMigrate {
			if err := postgresstore.RunMigrations(ctx, pool); err != nil {
				pool.Close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("Database migrations completed")
		}

		ms, err := postgresstore.NewMirrorStore(pool, &postgresstore.MirrorStoreConfig{
			QueryTimeout:    c.Postgres.QueryTimeout,
			CleanupInterval: c.Mirror.CleanupInterval,
		})
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create postgres mirror: %w", err)
		}

		log.Info().Msg("Using PostgreSQL session mirror")
		return &mirror{
			MirrorStore: ms,
			closers:     []func() error{func() error { pool.Close(); return nil }},
		}, nil

	case "redis":
		ms, err := redisstore.NewMirrorStore(ctx, &redisstore.Config{
			Addr:     c.Redis.Addr,
			Username: c.Redis.Username,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		log.Info().Str("addr", c.Redis.Addr).Msg("Using Redis session mirror")
		return &mirror{MirrorStore: ms}, nil

	case "sqlite":
		ms, err := sqlitestore.Open(c.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite mirror: %w", err)
		}

		m := &mirror{MirrorStore: ms}
		m.sweepExpired(ctx, c.Mirror.CleanupInterval, ms.DeleteExpired)

		log.Info().Str("path", c.SQLite.Path).Msg("Using SQLite session mirror")
		return m, nil

	default:
		ms := memorystore.NewMirrorStore()

		m := &mirror{MirrorStore: ms}
		m.sweepExpired(ctx, c.Mirror.CleanupInterval, func(ctx context.Context) (int, error) {
			return ms.DeleteExpired(ctx), nil
		})

		log.Info().Msg("Using in-memory session mirror")
		return m, nil
	}
}
