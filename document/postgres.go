// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package document

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"profilesync/event"
)

// Store is the Document Updater's dependency on an aggregated-document
// backing store.
type Store interface {
	Apply(ctx context.Context, e event.Event) ApplyOutcome
}

// PostgresStore implements [Store] against a `user_profiles` table using
// jackc/pgx/v5, the teacher's own SQL driver dependency.
type PostgresStore struct {
	pool         *pgxpool.Pool
	applyTimeout time.Duration
}

// NewPostgresStore builds a [PostgresStore]. applyTimeout bounds every
// apply call per spec §5's "document-store apply" suspension point
// (docstore.apply_timeout_ms in the configuration surface, spec §6).
func NewPostgresStore(pool *pgxpool.Pool, applyTimeout time.Duration) *PostgresStore {
	if applyTimeout <= 0 {
		applyTimeout = 500 * time.Millisecond
	}
	return &PostgresStore{pool: pool, applyTimeout: applyTimeout}
}

// Apply implements [Store]. It returns FAILED only for infrastructure
// errors; a zero-row no-op (a later event already advanced data_version)
// is STALE, not an error.
func (s *PostgresStore) Apply(ctx context.Context, e event.Event) ApplyOutcome {
	ctx, cancel := context.WithTimeout(ctx, s.applyTimeout)
	defer cancel()

	query, args, err := buildApplyQuery(e)
	if err != nil {
		return Failed(err)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Stale()
		}
		return Failed(err)
	}

	if tag.RowsAffected() == 0 {
		return Stale()
	}
	return Applied()
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
