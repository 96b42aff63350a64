package replaystore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // postgres driver, registered via database/sql
)

// PostgresStore backs Store with a table keyed by (provider, event_id),
// relying on INSERT ... ON CONFLICT DO NOTHING for atomicity (spec §5).
// Expired rows are swept opportunistically on each call, same contract as
// MemoryStore.
type PostgresStore struct {
	db     *sql.DB
	table  string
	logger *slog.Logger
}

// NewPostgresStore wraps an already-open *sql.DB (opened with driver
// "postgres" from github.com/lib/pq). table must already exist with
// columns (provider text, event_id text, expires_at timestamptz, primary
// key (provider, event_id)).
func NewPostgresStore(db *sql.DB, table string, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	if table == "" {
		table = "contractshield_replay"
	}
	return &PostgresStore{db: db, table: table, logger: logger}
}

// CheckAndStore implements Store. On backend error it fails open and logs,
// per spec §5.
func (s *PostgresStore) CheckAndStore(ctx context.Context, provider, eventID string, ttlSeconds int) (bool, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(time.Duration(ttlSeconds) * time.Second)

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= $1`, s.table), now); err != nil {
		s.logger.Warn("replaystore: postgres sweep failed", slog.Any("error", err))
	}

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (provider, event_id, expires_at) VALUES ($1, $2, $3) ON CONFLICT (provider, event_id) DO NOTHING`, s.table),
		provider, eventID, expiresAt)
	if err != nil {
		s.logger.Warn("replaystore: postgres backend error, failing open",
			slog.String("provider", provider), slog.String("event_id", eventID), slog.Any("error", err))
		return false, fmt.Errorf("replaystore: postgres insert: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("replaystore: postgres rows affected: %w", err)
	}
	// 0 rows affected means the conflict fired: the key already existed.
	return n == 0, nil
}
