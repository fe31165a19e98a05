package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wolfeidau/deskpool/internal/store"
)

// mapPostgresError maps PostgreSQL errors onto the store sentinels so callers
// can tell an outage (fail closed on create) from a bad query.
func mapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: query timed out: %w", store.ErrUnavailable, err)
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch {
	case pgerrcode.IsConnectionException(pgErr.Code),
		pgErr.Code == pgerrcode.AdminShutdown,
		pgErr.Code == pgerrcode.CrashShutdown,
		pgErr.Code == pgerrcode.CannotConnectNow:
		return fmt.Errorf("%w: database server unavailable: %w", store.ErrUnavailable, err)

	case pgErr.Code == pgerrcode.QueryCanceled:
		return fmt.Errorf("%w: query canceled: %w", store.ErrUnavailable, err)

	case pgErr.Code == pgerrcode.InsufficientResources,
		pgErr.Code == pgerrcode.DiskFull,
		pgErr.Code == pgerrcode.OutOfMemory,
		pgErr.Code == pgerrcode.TooManyConnections:
		return fmt.Errorf("%w: database resource limit: %w", store.ErrUnavailable, err)

	case pgErr.Code == pgerrcode.UndefinedTable:
		return fmt.Errorf("mirror table missing, run migrations: %w", err)

	default:
		return fmt.Errorf("postgres error [%s]: %s (detail: %s, hint: %s): %w",
			pgErr.Code, pgErr.Message, pgErr.Detail, pgErr.Hint, err)
	}
}
