package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/deskpool/internal/store"
)

// MirrorStore implements store.MirrorStore using PostgreSQL. Expiry is
// evaluated against the database clock so instances with skewed clocks agree.
type MirrorStore struct {
	pool *pgxpool.Pool
	cfg  MirrorStoreConfig

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMirrorStore creates a PostgreSQL-backed mirror store and starts the
// expired row cleanup loop. The pool is owned by the caller.
func NewMirrorStore(pool *pgxpool.Pool, cfg *MirrorStoreConfig) (*MirrorStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if cfg == nil {
		cfg = &MirrorStoreConfig{}
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mirror store config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &MirrorStore{
		pool:   pool,
		cfg:    *cfg,
		cancel: cancel,
	}

	s.wg.Add(1)
	go s.cleanupLoop(ctx)

	return s, nil
}

// Set upserts value under key with an expiry of now()+ttl.
func (s *MirrorStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := store.ValidateTTL(ttl); err != nil {
		return err
	}

	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	query := `
		INSERT INTO mirror_entries (key, value, expires_at)
		VALUES ($1, $2, now() + make_interval(secs => $3))
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	`

	if _, err := s.pool.Exec(ctx, query, key, value, ttl.Seconds()); err != nil {
		return fmt.Errorf("failed to set mirror entry: %w", mapPostgresError(err))
	}

	return nil
}

// Get returns the unexpired value stored under key.
func (s *MirrorStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	query := `
		SELECT value
		FROM mirror_entries
		WHERE key = $1 AND expires_at > now()
	`

	var value []byte
	err := s.pool.QueryRow(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get mirror entry: %w", mapPostgresError(err))
	}

	return value, nil
}

// Delete removes the keys in one statement.
func (s *MirrorStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	result, err := s.pool.Exec(ctx, `DELETE FROM mirror_entries WHERE key = ANY($1)`, keys)
	if err != nil {
		return fmt.Errorf("failed to delete mirror entries: %w", mapPostgresError(err))
	}

	log.Debug().
		Strs("keys", keys).
		Int64("deleted", result.RowsAffected()).
		Msg("Deleted mirror entries")

	return nil
}

// DeleteExpired deletes all expired rows.
func (s *MirrorStore) DeleteExpired(ctx context.Context) (int, error) {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	result, err := s.pool.Exec(ctx, `DELETE FROM mirror_entries WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired mirror entries: %w", mapPostgresError(err))
	}

	count := int(result.RowsAffected())
	if count > 0 {
		log.Info().Int("count", count).Msg("Deleted expired mirror entries")
	}

	return count, nil
}

// Close stops the cleanup loop. It does not close the pool.
func (s *MirrorStore) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *MirrorStore) cleanupLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.DeleteExpired(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to delete expired mirror entries")
			}
		}
	}
}

func (s *MirrorStore) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.QueryTimeout)
}
