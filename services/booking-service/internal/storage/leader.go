package storage

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/md-rashed-zaman/vetbook/libs/db"
)

// AdvisoryLeader elects a single instance via a session-level advisory lock.
// The lock lives on one pooled connection that is held until Release.
type AdvisoryLeader struct {
	pool *db.Pool
	key  int64
	conn *pgxpool.Conn
}

func NewAdvisoryLeader(pool *db.Pool, key int64) *AdvisoryLeader {
	return &AdvisoryLeader{pool: pool, key: key}
}

// TryLead reports whether this instance holds the lock, acquiring it if free.
func (l *AdvisoryLeader) TryLead(ctx context.Context) (bool, error) {
	if l.conn != nil {
		return true, nil
	}
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&locked); err != nil {
		conn.Release()
		return false, err
	}
	if !locked {
		conn.Release()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *AdvisoryLeader) Release() {
	if l.conn == nil {
		return
	}
	_, _ = l.conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, l.key)
	l.conn.Release()
	l.conn = nil
}
