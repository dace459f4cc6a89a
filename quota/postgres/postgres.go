// Package postgres provides a PostgreSQL-backed QuotaManager for
// rpcrouter.
//
// Each provider has one row; reserve is a single conditional UPDATE so
// the limit check and the increment commit atomically under row-level
// locking. Suited to fleets that already run Postgres and want usage
// accounting in the same durable store as everything else.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/chainmux/rpcrouter"
)

// DefaultTable is the table holding usage counters.
const DefaultTable = "rpcrouter_usage"

// Store is a PostgreSQL-backed QuotaManager.
type Store struct {
	pool   *pgxpool.Pool
	table  string
	logger zerolog.Logger
}

var _ rpcrouter.QuotaManager = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithTable sets the table name (default DefaultTable).
func WithTable(table string) Option {
	return func(s *Store) { s.table = table }
}

// WithLogger sets the logger used for backend errors.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a PostgreSQL-backed QuotaManager using the given pool.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:   pool,
		table:  DefaultTable,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema creates the usage table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			provider TEXT PRIMARY KEY,
			used     BIGINT NOT NULL DEFAULT 0
		)`, s.table))
	if err != nil {
		return fmt.Errorf("rpcrouter/postgres: ensure schema: %w", err)
	}
	return nil
}

// Check reports whether provider could absorb cost more units within
// limit. Backend errors deny the check so a flaky database cannot let
// usage run past the limit.
func (s *Store) Check(ctx context.Context, provider string, limit, cost int64) bool {
	if limit <= 0 {
		return true
	}
	used, err := s.usage(ctx, provider)
	if err != nil {
		s.logger.Warn().Err(err).Str("provider", provider).Msg("quota check failed")
		return false
	}
	return used+cost <= limit
}

// TryReserve atomically adds cost to the provider's usage if the
// result stays within limit. The conditional UPDATE serializes
// concurrent reserves on the provider's row.
func (s *Store) TryReserve(ctx context.Context, provider string, cost, limit int64) bool {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (provider, used) VALUES ($1, 0)
		ON CONFLICT (provider) DO NOTHING`, s.table), provider)
	if err != nil {
		s.logger.Warn().Err(err).Str("provider", provider).Msg("quota reserve failed")
		return false
	}

	var used int64
	err = s.pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE %s SET used = used + $2
		WHERE provider = $1 AND ($3 <= 0 OR used + $2 <= $3)
		RETURNING used`, s.table), provider, cost, limit).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return false
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("provider", provider).Msg("quota reserve failed")
		return false
	}
	return true
}

// Rollback subtracts cost from the provider's usage, clamped at zero.
func (s *Store) Rollback(ctx context.Context, provider string, cost int64) {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET used = GREATEST(used - $2, 0)
		WHERE provider = $1`, s.table), provider, cost)
	if err != nil {
		s.logger.Warn().Err(err).Str("provider", provider).Msg("quota rollback failed")
	}
}

// Usage returns the provider's current usage counter.
func (s *Store) Usage(ctx context.Context, provider string) int64 {
	used, err := s.usage(ctx, provider)
	if err != nil {
		s.logger.Warn().Err(err).Str("provider", provider).Msg("quota usage read failed")
		return 0
	}
	return used
}

// Reset clears the provider's usage counter.
func (s *Store) Reset(ctx context.Context, provider string) {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE provider = $1`, s.table), provider)
	if err != nil {
		s.logger.Warn().Err(err).Str("provider", provider).Msg("quota reset failed")
	}
}

func (s *Store) usage(ctx context.Context, provider string) (int64, error) {
	var used int64
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT used FROM %s WHERE provider = $1`, s.table), provider).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return used, nil
}
