package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createTriggerTableSQL = `CREATE TABLE IF NOT EXISTS trigger_records (
        id          BIGSERIAL PRIMARY KEY,
        symbol      TEXT NOT NULL,
        condition   TEXT NOT NULL,
        value       DOUBLE PRECISION NOT NULL,
        current     DOUBLE PRECISION NOT NULL,
        created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	insertTriggerSQL = `INSERT INTO trigger_records (symbol, condition, value, current)
    VALUES ($1, $2, $3, $4);`

	listRecentTriggersSQL = `SELECT id, symbol, condition, value, current, created_at
    FROM trigger_records
    ORDER BY id DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// TriggerSink receives a copy of every trigger record.
type TriggerSink interface {
	InsertTrigger(ctx context.Context, rec TriggerRecord) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store mirrors trigger records into PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the trigger table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createTriggerTableSQL); err != nil {
		return fmt.Errorf("create trigger_records: %w", err)
	}
	return nil
}

// InsertTrigger appends one record to the mirror.
func (s *Store) InsertTrigger(ctx context.Context, rec TriggerRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, insertTriggerSQL, rec.Symbol, rec.Condition, rec.Value, rec.Current); err != nil {
		return fmt.Errorf("insert trigger record: %w", err)
	}
	return nil
}

// ListRecentTriggers returns the newest records first.
func (s *Store) ListRecentTriggers(ctx context.Context, limit int) ([]MirroredTrigger, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentTriggersSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent triggers: %w", queryErr)
	}
	defer rows.Close()

	out := make([]MirroredTrigger, 0, limit)
	for rows.Next() {
		var rec MirroredTrigger
		if err := rows.Scan(&rec.ID, &rec.Symbol, &rec.Condition, &rec.Value, &rec.Current, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trigger record: %w", err)
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

var (
	_ TriggerSink    = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
